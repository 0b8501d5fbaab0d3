// Package storedb persists lottery retailers and answers bounding-box
// searches for the reference store endpoint.
package storedb

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/store-locator/internal/model"
)

// DefaultLimit caps a search when the caller passes no limit.
const DefaultLimit = 500

// Store defines the persistence interface for retailers.
type Store interface {
	// StoresInBounds returns retailers inside q, best score first.
	StoresInBounds(ctx context.Context, q model.BoundsQuery, limit int) ([]model.StoreRecord, error)

	// UpsertStores inserts or replaces records by ID.
	UpsertStores(ctx context.Context, records []model.StoreRecord) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Pool is the subset of pgxpool.Pool the Postgres store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Open picks a backend from the DSN: postgres:// or postgresql:// URLs use
// Postgres, anything else is a SQLite path. poolCfg only applies to Postgres
// and may be nil.
func Open(ctx context.Context, dsn string, poolCfg *PoolConfig) (Store, error) {
	if dsn == "" {
		return nil, eris.New("storedb: empty dsn")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		st, err := NewPostgres(ctx, dsn, poolCfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	st, err := NewSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultLimit {
		return DefaultLimit
	}
	return limit
}

func validateQuery(q model.BoundsQuery) error {
	if !q.Bounds().Valid() {
		return eris.Errorf("storedb: invalid bounds ne=(%g,%g) sw=(%g,%g)",
			q.NorthEastLat, q.NorthEastLon, q.SouthWestLat, q.SouthWestLon)
	}
	return nil
}
