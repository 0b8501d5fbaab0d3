package storedb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/store-locator/internal/model"
)

// SRID is the spatial reference of stored points (WGS 84).
const SRID = 4326

// PostgresStore implements Store on PostGIS.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects a pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			cfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			cfg.MinConns = poolCfg.MinConns
		}
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS lotto_stores (
	id           BIGINT PRIMARY KEY,
	name         TEXT NOT NULL,
	tel          TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	lat          DOUBLE PRECISION NOT NULL,
	lon          DOUBLE PRECISION NOT NULL,
	first_place  INTEGER NOT NULL DEFAULT 0,
	second_place INTEGER NOT NULL DEFAULT 0,
	score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	geom         geometry(Point, 4326) NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_lotto_stores_geom ON lotto_stores USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_lotto_stores_score ON lotto_stores (score DESC);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const storesInBoundsSQL = `SELECT id, name, tel, address, lat, lon, first_place, second_place, score
FROM lotto_stores
WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
ORDER BY score DESC, id
LIMIT $5`

// StoresInBounds implements Store.
func (s *PostgresStore) StoresInBounds(ctx context.Context, q model.BoundsQuery, limit int) ([]model.StoreRecord, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, storesInBoundsSQL,
		q.SouthWestLon, q.SouthWestLat, q.NorthEastLon, q.NorthEastLat, normalizeLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query stores in bounds")
	}
	defer rows.Close()

	records := make([]model.StoreRecord, 0)
	for rows.Next() {
		var r model.StoreRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Address, &r.Latitude, &r.Longitude,
			&r.FirstPlace, &r.SecondPlace, &r.Score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan store")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate stores")
	}
	return records, nil
}

const upsertStoreSQL = `INSERT INTO lotto_stores
	(id, name, tel, address, lat, lon, first_place, second_place, score, geom, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, ST_GeomFromEWKB($10), now())
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	tel = EXCLUDED.tel,
	address = EXCLUDED.address,
	lat = EXCLUDED.lat,
	lon = EXCLUDED.lon,
	first_place = EXCLUDED.first_place,
	second_place = EXCLUDED.second_place,
	score = EXCLUDED.score,
	geom = EXCLUDED.geom,
	updated_at = EXCLUDED.updated_at`

// UpsertStores implements Store.
func (s *PostgresStore) UpsertStores(ctx context.Context, records []model.StoreRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var n int64
	for _, r := range records {
		point, err := EncodePoint(r.Position())
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, upsertStoreSQL,
			r.ID, r.Name, r.Phone, r.Address, r.Latitude, r.Longitude,
			r.FirstPlace, r.SecondPlace, r.Score, point)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: upsert store %d", r.ID)
		}
		n += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit upsert")
	}
	return n, nil
}

// EncodePoint returns p as little-endian EWKB with SRID 4326.
func EncodePoint(p model.LatLng) ([]byte, error) {
	g := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(SRID)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode point")
	}
	return data, nil
}
