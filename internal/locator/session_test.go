package locator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/store-locator/internal/geolocation"
	"github.com/sells-group/store-locator/internal/mapsdk/memsdk"
	"github.com/sells-group/store-locator/internal/metrics"
	"github.com/sells-group/store-locator/internal/model"
	"github.com/sells-group/store-locator/internal/resource"
	"github.com/sells-group/store-locator/internal/resource/memdoc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var seoul = model.LatLng{Lat: 37.5665, Lon: 126.978}

// fakeFetcher records queries and answers with a fixed set. When block is
// set, calls wait for the context to end.
type fakeFetcher struct {
	mu      sync.Mutex
	queries []model.BoundsQuery
	records []model.StoreRecord
	block   bool
	err     error
	started chan struct{}
	ended   chan error
}

func newFakeFetcher(records []model.StoreRecord) *fakeFetcher {
	return &fakeFetcher{
		records: records,
		started: make(chan struct{}, 16),
		ended:   make(chan error, 16),
	}
}

func (f *fakeFetcher) Stores(ctx context.Context, q model.BoundsQuery) ([]model.StoreRecord, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	block, err := f.block, f.err
	f.mu.Unlock()
	f.started <- struct{}{}

	if err != nil {
		return nil, err
	}
	if block {
		<-ctx.Done()
		f.ended <- ctx.Err()
		return nil, ctx.Err()
	}
	return f.records, nil
}

func (f *fakeFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFetcher) calls() []model.BoundsQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.BoundsQuery(nil), f.queries...)
}

func threeStores() []model.StoreRecord {
	return []model.StoreRecord{
		{ID: 1, Name: "A", Latitude: 37.5661, Longitude: 126.9781},
		{ID: 2, Name: "B", Latitude: 37.5672, Longitude: 126.9770},
		{ID: 3, Name: "C", Latitude: 37.5650, Longitude: 126.9795},
	}
}

type harness struct {
	sdk     *memsdk.SDK
	doc     *memdoc.Document
	loc     *geolocation.StaticLocator
	fetcher *fakeFetcher
	session *Session
}

func newHarness(loc *geolocation.StaticLocator, mode memdoc.Mode, opts Options) *harness {
	h := &harness{
		sdk:     memsdk.New(800, 600),
		doc:     memdoc.New(mode),
		loc:     loc,
		fetcher: newFakeFetcher(threeStores()),
	}
	h.session = New(Deps{
		SDK:      h.sdk,
		Document: h.doc,
		Locator:  loc,
		Fetcher:  h.fetcher,
		Metrics:  metrics.New(),
	}, opts)
	return h
}

func TestSession_GrantedFlow(t *testing.T) {
	h := newHarness(geolocation.NewStaticLocator(geolocation.Position{Coords: seoul}), memdoc.LoadImmediately, Options{})
	defer h.session.Stop()

	require.NoError(t, h.session.Start(context.Background()))

	require.Eventually(t, func() bool { return h.session.Snapshot().Markers == 3 }, 2*time.Second, 5*time.Millisecond)

	snap := h.session.Snapshot()
	assert.Equal(t, model.PermissionGranted, snap.Permission)
	assert.Equal(t, seoul, snap.Viewport.Center)
	assert.Equal(t, float64(model.DefaultZoom), snap.Viewport.Zoom)
	assert.True(t, snap.Viewport.Bounds.Valid())
	assert.True(t, snap.Viewport.Bounds.Contains(seoul))
	assert.Len(t, snap.Records, 3)
	assert.False(t, snap.UserMarker)
	assert.NotEmpty(t, snap.ID)

	calls := h.fetcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.QueryFromBounds(snap.Viewport.Bounds), calls[0])

	assert.Equal(t, 5, h.doc.Len())
	require.Len(t, h.sdk.Maps(), 1)
	assert.Len(t, h.sdk.AttachedMarkers(h.sdk.Maps()[0]), 3)
}

func TestSession_DeniedFlow(t *testing.T) {
	h := newHarness(geolocation.NewDeniedLocator(), memdoc.LoadAsync, Options{})
	defer h.session.Stop()

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool { return h.session.Snapshot().Markers == 3 }, 2*time.Second, 5*time.Millisecond)

	calls := h.fetcher.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.BoundsQuery{
		NorthEastLat: 38, NorthEastLon: 132,
		SouthWestLat: 33, SouthWestLon: 124,
	}, calls[0])

	require.Len(t, h.sdk.Maps(), 1)
	m := h.sdk.Maps()[0]
	assert.Equal(t, model.FallbackCenter, m.Center())
	assert.Equal(t, model.FallbackZoom, m.Zoom())
	assert.Equal(t, model.PermissionDenied, h.session.Snapshot().Permission)

	// The first drag publishes real bounds and fetches them.
	m.Drag(model.LatLng{Lat: 35.1796, Lon: 129.0756})
	require.Eventually(t, func() bool { return len(h.fetcher.calls()) == 2 }, 2*time.Second, 5*time.Millisecond)

	snap := h.session.Snapshot()
	assert.Equal(t, model.QueryFromBounds(snap.Viewport.Bounds), h.fetcher.calls()[1])
}

func TestSession_PositionUnavailable(t *testing.T) {
	h := newHarness(geolocation.NewStaticLocator(geolocation.Position{}), memdoc.LoadImmediately, Options{})
	defer h.session.Stop()

	require.NoError(t, h.session.Start(context.Background()))

	snap := h.session.Snapshot()
	assert.False(t, snap.HasMap)
	assert.Equal(t, model.PermissionGranted, snap.Permission)
	assert.Empty(t, h.sdk.Maps())
	assert.Empty(t, h.fetcher.calls())
}

func TestSession_ResourceTimeout(t *testing.T) {
	h := newHarness(geolocation.NewStaticLocator(geolocation.Position{Coords: seoul}), memdoc.LoadManually, Options{
		ResourceTimeout: 20 * time.Millisecond,
	})
	defer h.session.Stop()

	err := h.session.Start(context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageResources, stageErr.Stage)
	assert.ErrorIs(t, err, resource.ErrResourceLoadIncomplete)
	assert.Empty(t, h.sdk.Maps())
}

func TestSession_StopDuringFetch(t *testing.T) {
	h := newHarness(geolocation.NewStaticLocator(geolocation.Position{Coords: seoul}), memdoc.LoadImmediately, Options{})
	h.fetcher.block = true

	require.NoError(t, h.session.Start(context.Background()))
	select {
	case <-h.fetcher.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}

	h.session.Stop()
	h.session.Stop()

	assert.ErrorIs(t, <-h.fetcher.ended, context.Canceled)
	assert.Equal(t, 0, h.sdk.CreatedMarkers())
	assert.Equal(t, 0, h.doc.Len())

	m := h.sdk.Maps()[0]
	assert.True(t, m.Destroyed())
	assert.Equal(t, 0, m.ListenerCount())
	assert.False(t, h.session.Snapshot().HasMap)

	assert.ErrorIs(t, h.session.Start(context.Background()), ErrStopped)
}

func TestSession_NarrowDisplayFollowsUser(t *testing.T) {
	loc := geolocation.NewStaticLocator(geolocation.Position{Coords: seoul})
	geo := geolocation.DefaultOptions()
	geo.FormFactor = func() model.FormFactor { return model.ClassifyWidth(390) }
	h := newHarness(loc, memdoc.LoadImmediately, Options{Geolocation: geo})

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool { return h.session.Snapshot().Markers == 3 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, h.session.Snapshot().UserMarker)
	assert.Equal(t, 1, loc.ActiveWatches())

	moved := model.LatLng{Lat: 37.57, Lon: 126.98}
	loc.Push(geolocation.Position{Coords: moved})

	var user *memsdk.Marker
	for _, mk := range h.sdk.AttachedMarkers(h.sdk.Maps()[0]) {
		if mk.Icon() != nil {
			user = mk
		}
	}
	require.NotNil(t, user)
	assert.Equal(t, moved, user.Position())

	h.session.Stop()
	assert.Equal(t, 0, loc.ActiveWatches())
	assert.False(t, user.Attached())
}

func TestSession_WideDisplayHasNoUserMarker(t *testing.T) {
	loc := geolocation.NewStaticLocator(geolocation.Position{Coords: seoul})
	geo := geolocation.DefaultOptions()
	geo.FormFactor = func() model.FormFactor { return model.ClassifyWidth(1280) }
	h := newHarness(loc, memdoc.LoadImmediately, Options{Geolocation: geo})
	defer h.session.Stop()

	require.NoError(t, h.session.Start(context.Background()))
	assert.False(t, h.session.Snapshot().UserMarker)
	assert.Equal(t, 0, loc.ActiveWatches())
}

func TestSession_RetryAfterDenial(t *testing.T) {
	loc := geolocation.NewDeniedLocator()
	h := newHarness(loc, memdoc.LoadImmediately, Options{})
	defer h.session.Stop()

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool { return h.session.Snapshot().Markers == 3 }, 2*time.Second, 5*time.Millisecond)

	loc.SetResult(geolocation.Position{Coords: seoul}, nil)
	require.NoError(t, h.session.Retry(context.Background()))

	maps := h.sdk.Maps()
	require.Len(t, maps, 2)
	assert.True(t, maps[0].Destroyed())
	assert.Equal(t, seoul, maps[1].Center())

	require.Eventually(t, func() bool {
		return len(h.sdk.AttachedMarkers(maps[1])) == 3
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.sdk.AttachedMarkers(maps[0]))
	assert.Equal(t, model.PermissionGranted, h.session.Snapshot().Permission)

	// Already granted with a map: nothing to do.
	require.NoError(t, h.session.Retry(context.Background()))
	assert.Len(t, h.sdk.Maps(), 2)
}

func TestSession_RetryKeepsRecordsOnNewMap(t *testing.T) {
	h := newHarness(geolocation.NewDeniedLocator(), memdoc.LoadImmediately, Options{})
	defer h.session.Stop()

	require.NoError(t, h.session.Start(context.Background()))
	require.Eventually(t, func() bool { return h.session.Snapshot().Markers == 3 }, 2*time.Second, 5*time.Millisecond)

	h.fetcher.fail(errors.New("lottoapi: unexpected status 503"))
	require.NoError(t, h.session.Retry(context.Background()))

	maps := h.sdk.Maps()
	require.Len(t, maps, 2)
	assert.True(t, maps[0].Destroyed())
	assert.Len(t, h.sdk.AttachedMarkers(maps[1]), 3)

	require.Eventually(t, func() bool { return len(h.fetcher.calls()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		return len(h.sdk.AttachedMarkers(maps[1])) != 3
	}, 100*time.Millisecond, 5*time.Millisecond)

	snap := h.session.Snapshot()
	assert.Len(t, snap.Records, 3)
	assert.Equal(t, 3, snap.Markers)
	assert.Equal(t, model.PermissionDenied, snap.Permission)
}

func TestSession_TeardownHookRegisteredOnce(t *testing.T) {
	h := newHarness(geolocation.NewDeniedLocator(), memdoc.LoadImmediately, Options{})
	defer h.session.Stop()

	assert.Equal(t, 1, h.session.loader.PendingHooks())

	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.Retry(context.Background()))
	require.NoError(t, h.session.Retry(context.Background()))
	assert.Equal(t, 1, h.session.loader.PendingHooks())
	require.Len(t, h.sdk.Maps(), 3)

	// Unloading the scripts releases the live map.
	h.session.loader.Teardown()
	snap := h.session.Snapshot()
	assert.False(t, snap.HasMap)
	assert.Equal(t, 0, snap.Markers)
	for _, m := range h.sdk.Maps() {
		assert.True(t, m.Destroyed())
	}
}

func TestSession_StartTwice(t *testing.T) {
	h := newHarness(geolocation.NewDeniedLocator(), memdoc.LoadImmediately, Options{})
	defer h.session.Stop()

	require.NoError(t, h.session.Start(context.Background()))
	assert.ErrorIs(t, h.session.Start(context.Background()), ErrAlreadyStarted)
}

func TestStageError(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	err := &StageError{Stage: StageMap, Err: inner}
	assert.Equal(t, "locator: stage map: boom", err.Error())
	assert.ErrorIs(t, err, inner)
}
