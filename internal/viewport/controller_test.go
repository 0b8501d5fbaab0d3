package viewport

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/store-locator/internal/mapsdk/memsdk"
	"github.com/sells-group/store-locator/internal/model"
)

var seoul = model.LatLng{Lat: 37.5, Lon: 127.0}

type recorder struct {
	mu  sync.Mutex
	got []model.Viewport
}

func (r *recorder) add(vp model.Viewport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, vp)
}

func (r *recorder) all() []model.Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Viewport(nil), r.got...)
}

func newController(t *testing.T) (*Controller, *memsdk.SDK, *memsdk.Map) {
	t.Helper()
	sdk := memsdk.New(800, 600)
	c := NewController(sdk, nil)
	m, err := c.Initialize(context.Background(), "map", seoul, 14)
	require.NoError(t, err)
	return c, sdk, m.(*memsdk.Map)
}

func TestInitialize_RegistersListenersWithoutPublishing(t *testing.T) {
	t.Parallel()

	c, _, m := newController(t)
	rec := &recorder{}
	c.Subscribe(rec.add)

	assert.Equal(t, 2, m.ListenerCount())
	assert.Empty(t, rec.all())

	vp := c.Viewport()
	assert.Equal(t, seoul, vp.Center)
	assert.Equal(t, 14.0, vp.Zoom)
	assert.True(t, vp.Bounds.IsZero())
}

func TestInitialize_Twice(t *testing.T) {
	t.Parallel()

	c, sdk, _ := newController(t)
	_, err := c.Initialize(context.Background(), "map", seoul, 10)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Len(t, sdk.Maps(), 1)
}

func TestInitialize_MountRequired(t *testing.T) {
	t.Parallel()

	c := NewController(memsdk.New(800, 600), nil)
	_, err := c.Initialize(context.Background(), "", seoul, 10)
	require.Error(t, err)
	assert.Nil(t, c.Map())
}

func TestRefresh_PublishesWholeViewport(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t)
	rec := &recorder{}
	c.Subscribe(rec.add)

	require.NoError(t, c.Refresh(context.Background()))

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, seoul, got[0].Center)
	assert.Equal(t, 14.0, got[0].Zoom)
	assert.True(t, got[0].Bounds.Valid())
	assert.True(t, got[0].Bounds.Contains(seoul))
	assert.Equal(t, got[0], c.Viewport())
}

func TestDragAndZoom_Publish(t *testing.T) {
	t.Parallel()

	c, _, m := newController(t)
	rec := &recorder{}
	c.Subscribe(rec.add)

	busan := model.LatLng{Lat: 35.18, Lon: 129.07}
	m.Drag(busan)
	m.SetZoom(11)

	got := rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, busan, got[0].Center)
	assert.Equal(t, 14.0, got[0].Zoom)
	assert.Equal(t, busan, got[1].Center)
	assert.Equal(t, 11.0, got[1].Zoom)
	assert.True(t, got[1].Bounds.Contains(busan))

	// Zooming out widens the rectangle.
	span0 := got[0].Bounds.NorthEast.Lon - got[0].Bounds.SouthWest.Lon
	span1 := got[1].Bounds.NorthEast.Lon - got[1].Bounds.SouthWest.Lon
	assert.Greater(t, span1, span0)
}

func TestRefresh_ResolveFailureLeavesViewport(t *testing.T) {
	t.Parallel()

	c, sdk, m := newController(t)
	require.NoError(t, c.Refresh(context.Background()))
	before := c.Viewport()

	rec := &recorder{}
	c.Subscribe(rec.add)

	boom := errors.New("bounds unavailable")
	sdk.FailBounds(func(context.Context) error { return boom })

	err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, boom)

	m.Drag(model.LatLng{Lat: 33.5, Lon: 126.5})
	assert.Empty(t, rec.all())
	assert.Equal(t, before, c.Viewport())
}

func TestBoundsAlwaysConsistent(t *testing.T) {
	t.Parallel()

	c, _, m := newController(t)
	rec := &recorder{}
	c.Subscribe(rec.add)

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		if rng.IntN(2) == 0 {
			m.Drag(model.LatLng{Lat: 33 + rng.Float64()*5, Lon: 124 + rng.Float64()*8})
		} else {
			m.SetZoom(float64(6 + rng.IntN(13)))
		}
	}

	got := rec.all()
	require.Len(t, got, 200)
	for _, vp := range got {
		assert.True(t, vp.Bounds.Valid())
		assert.False(t, vp.Bounds.IsZero())
		assert.True(t, vp.Bounds.Contains(vp.Center))
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t)
	rec := &recorder{}
	unsub := c.Subscribe(rec.add)
	unsub()

	require.NoError(t, c.Refresh(context.Background()))
	assert.Empty(t, rec.all())
}

func TestTeardown(t *testing.T) {
	t.Parallel()

	c, _, m := newController(t)
	c.Teardown()

	assert.Nil(t, c.Map())
	assert.True(t, m.Destroyed())
	assert.Equal(t, 0, m.ListenerCount())
	assert.ErrorIs(t, c.Refresh(context.Background()), ErrNotInitialized)

	// Idempotent.
	c.Teardown()

	// A new map can be created afterwards.
	_, err := c.Initialize(context.Background(), "map", seoul, 12)
	require.NoError(t, err)
}

func TestTeardown_DropsInFlightRefresh(t *testing.T) {
	t.Parallel()

	c, sdk, _ := newController(t)
	rec := &recorder{}
	c.Subscribe(rec.add)

	entered := make(chan struct{})
	release := make(chan struct{})
	sdk.FailBounds(func(context.Context) error {
		close(entered)
		<-release
		return nil
	})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Refresh(context.Background()) }()

	<-entered
	c.Teardown()
	close(release)

	err := <-errCh
	require.Error(t, err)
	assert.Empty(t, rec.all())
}

func TestRefresh_SupersededResolutionDropped(t *testing.T) {
	t.Parallel()

	c, sdk, m := newController(t)
	rec := &recorder{}
	c.Subscribe(rec.add)

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	sdk.FailBounds(func(context.Context) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil
	})

	busan := model.LatLng{Lat: 35.18, Lon: 129.07}
	jeju := model.LatLng{Lat: 33.5, Lon: 126.5}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Drag(busan)
	}()
	<-entered

	m.Drag(jeju)
	close(release)
	<-done

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, jeju, got[0].Center)
	assert.Equal(t, jeju, c.Viewport().Center)
	assert.True(t, c.Viewport().Bounds.Contains(jeju))
}

func TestTeardown_CancelsResolution(t *testing.T) {
	t.Parallel()

	c, sdk, _ := newController(t)
	rec := &recorder{}
	c.Subscribe(rec.add)

	entered := make(chan struct{})
	sdk.FailBounds(func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Refresh(context.Background()) }()

	<-entered
	c.Teardown()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNotInitialized)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh still resolving after teardown")
	}
	assert.Empty(t, rec.all())
}
