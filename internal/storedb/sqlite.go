package storedb

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/store-locator/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS lotto_stores (
	id           INTEGER PRIMARY KEY,
	name         TEXT NOT NULL,
	tel          TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	lat          REAL NOT NULL,
	lon          REAL NOT NULL,
	first_place  INTEGER NOT NULL DEFAULT 0,
	second_place INTEGER NOT NULL DEFAULT 0,
	score        REAL NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_lotto_stores_lat_lon ON lotto_stores(lat, lon);
CREATE INDEX IF NOT EXISTS idx_lotto_stores_score ON lotto_stores(score DESC);
`

// Migrate creates the schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StoresInBounds implements Store.
func (s *SQLiteStore) StoresInBounds(ctx context.Context, q model.BoundsQuery, limit int) ([]model.StoreRecord, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, tel, address, lat, lon, first_place, second_place, score
		FROM lotto_stores
		WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
		ORDER BY score DESC, id
		LIMIT ?`,
		q.SouthWestLat, q.NorthEastLat, q.SouthWestLon, q.NorthEastLon, normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query stores in bounds")
	}
	defer rows.Close() //nolint:errcheck

	records := make([]model.StoreRecord, 0)
	for rows.Next() {
		var r model.StoreRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Address, &r.Latitude, &r.Longitude,
			&r.FirstPlace, &r.SecondPlace, &r.Score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan store")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate stores")
}

// UpsertStores implements Store.
func (s *SQLiteStore) UpsertStores(ctx context.Context, records []model.StoreRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lotto_stores (id, name, tel, address, lat, lon, first_place, second_place, score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			tel = excluded.tel,
			address = excluded.address,
			lat = excluded.lat,
			lon = excluded.lon,
			first_place = excluded.first_place,
			second_place = excluded.second_place,
			score = excluded.score,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Name, r.Phone, r.Address, r.Latitude, r.Longitude,
			r.FirstPlace, r.SecondPlace, r.Score); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert store %d", r.ID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert")
	}
	return n, nil
}
