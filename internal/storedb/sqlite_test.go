package storedb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/store-locator/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "stores.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedStores() []model.StoreRecord {
	return []model.StoreRecord{
		{ID: 1, Name: "Seoul Low", Phone: "02-1", Address: "Jung-gu", Latitude: 37.5665, Longitude: 126.978, Score: 1},
		{ID: 2, Name: "Seoul High", Phone: "02-2", Address: "Jongno", Latitude: 37.5700, Longitude: 126.982, FirstPlace: 4, Score: 50},
		{ID: 3, Name: "Busan", Phone: "051-3", Address: "Haeundae", Latitude: 35.1796, Longitude: 129.0756, Score: 99},
	}
}

func seoulQuery() model.BoundsQuery {
	return model.BoundsQuery{NorthEastLat: 37.6, NorthEastLon: 127.0, SouthWestLat: 37.5, SouthWestLon: 126.9}
}

func TestSQLite_StoresInBounds(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertStores(ctx, seedStores())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := st.StoresInBounds(ctx, seoulQuery(), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Seoul High", got[0].Name, "ordered by score")
	assert.Equal(t, 4, got[0].FirstPlace)
	assert.Equal(t, "02-1", got[1].Phone)

	all, err := st.StoresInBounds(ctx, model.DefaultCountryQuery(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)
}

func TestSQLite_StoresInBounds_Limit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertStores(ctx, seedStores())
	require.NoError(t, err)

	got, err := st.StoresInBounds(ctx, model.DefaultCountryQuery(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Busan", got[0].Name)
}

func TestSQLite_StoresInBounds_EmptyArea(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.StoresInBounds(context.Background(), seoulQuery(), 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSQLite_StoresInBounds_InvalidBounds(t *testing.T) {
	st := newTestSQLiteStore(t)

	q := seoulQuery()
	q.NorthEastLat, q.SouthWestLat = q.SouthWestLat, q.NorthEastLat
	_, err := st.StoresInBounds(context.Background(), q, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid bounds")
}

func TestSQLite_UpsertReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertStores(ctx, seedStores())
	require.NoError(t, err)

	moved := seedStores()[0]
	moved.Name = "Seoul Moved"
	moved.Latitude = 35.18
	moved.Longitude = 129.07
	_, err = st.UpsertStores(ctx, []model.StoreRecord{moved})
	require.NoError(t, err)

	got, err := st.StoresInBounds(ctx, seoulQuery(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].ID)

	all, err := st.StoresInBounds(ctx, model.DefaultCountryQuery(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLite_UpsertEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)

	n, err := st.UpsertStores(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestOpen_SelectsBackend(t *testing.T) {
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "open.db"), nil)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	assert.IsType(t, &SQLiteStore{}, st)

	_, err = Open(context.Background(), "", nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), "postgres://%zz", nil)
	assert.Error(t, err)
}
