package memsdk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/store-locator/internal/mapsdk"
	"github.com/sells-group/store-locator/internal/model"
)

func TestViewportBounds_ContainsCenter(t *testing.T) {
	t.Parallel()

	center := model.LatLng{Lat: 37.5, Lon: 127.0}
	for _, zoom := range []float64{7, 10, 15, 18} {
		b := viewportBounds(center, zoom, 800, 600)
		assert.True(t, b.Valid(), "zoom %v", zoom)
		assert.True(t, b.Contains(center), "zoom %v", zoom)
	}
}

func TestViewportBounds_ZoomShrinksSpan(t *testing.T) {
	t.Parallel()

	center := model.LatLng{Lat: 36.2, Lon: 127.8}
	wide := viewportBounds(center, 7, 800, 600)
	narrow := viewportBounds(center, 12, 800, 600)

	assert.Greater(t, wide.NorthEast.Lon-wide.SouthWest.Lon, narrow.NorthEast.Lon-narrow.SouthWest.Lon)
	assert.Greater(t, wide.NorthEast.Lat-wide.SouthWest.Lat, narrow.NorthEast.Lat-narrow.SouthWest.Lat)
}

func TestMap_BoundsReturnsUnnormalizedCorners(t *testing.T) {
	t.Parallel()

	sdk := New(800, 600)
	m, err := sdk.NewMap("map", model.LatLng{Lat: 37.5, Lon: 127.0}, 12)
	require.NoError(t, err)

	corners, err := m.Bounds(context.Background())
	require.NoError(t, err)
	require.Len(t, corners, 2)

	// North-west first.
	assert.Greater(t, corners[0].Lat, corners[1].Lat)
	assert.Less(t, corners[0].Lon, corners[1].Lon)
}

func TestMap_FailBounds(t *testing.T) {
	t.Parallel()

	sdk := New(800, 600)
	m, err := sdk.NewMap("map", model.LatLng{Lat: 37.5, Lon: 127.0}, 12)
	require.NoError(t, err)

	boom := errors.New("not attached")
	sdk.FailBounds(func(context.Context) error { return boom })
	_, err = m.Bounds(context.Background())
	assert.ErrorIs(t, err, boom)

	sdk.FailBounds(nil)
	_, err = m.Bounds(context.Background())
	assert.NoError(t, err)
}

func TestMap_ListenersFireByEvent(t *testing.T) {
	t.Parallel()

	sdk := New(800, 600)
	mp, err := sdk.NewMap("map", model.LatLng{Lat: 37.5, Lon: 127.0}, 12)
	require.NoError(t, err)
	m := mp.(*Map)

	var drags, zooms int
	dragID := m.AddListener(mapsdk.EventDragEnd, func() { drags++ })
	m.AddListener(mapsdk.EventZoomChanged, func() { zooms++ })

	m.Drag(model.LatLng{Lat: 37.6, Lon: 127.1})
	m.SetZoom(13)
	assert.Equal(t, 1, drags)
	assert.Equal(t, 1, zooms)
	assert.Equal(t, model.LatLng{Lat: 37.6, Lon: 127.1}, m.Center())
	assert.Equal(t, 13.0, m.Zoom())

	m.RemoveListener(dragID)
	m.Drag(model.LatLng{Lat: 37.7, Lon: 127.2})
	assert.Equal(t, 1, drags)
	assert.Equal(t, 1, m.ListenerCount())
}

func TestMap_DestroyDropsListenersAndMarkers(t *testing.T) {
	t.Parallel()

	sdk := New(800, 600)
	mp, err := sdk.NewMap("map", model.LatLng{Lat: 37.5, Lon: 127.0}, 12)
	require.NoError(t, err)
	m := mp.(*Map)

	fired := false
	m.AddListener(mapsdk.EventDragEnd, func() { fired = true })
	m.Destroy()
	m.Drag(model.LatLng{Lat: 1, Lon: 1})

	assert.False(t, fired)
	assert.True(t, m.Destroyed())

	_, err = sdk.NewMarker(mapsdk.MarkerOptions{Map: m})
	assert.ErrorIs(t, err, ErrMapDestroyed)

	_, err = m.Bounds(context.Background())
	assert.ErrorIs(t, err, ErrMapDestroyed)
}

func TestSDK_MarkerBookkeeping(t *testing.T) {
	t.Parallel()

	sdk := New(800, 600)
	m, err := sdk.NewMap("map", model.LatLng{Lat: 37.5, Lon: 127.0}, 12)
	require.NoError(t, err)

	mk, err := sdk.NewMarker(mapsdk.MarkerOptions{Map: m, Position: model.LatLng{Lat: 37.5, Lon: 127.0}})
	require.NoError(t, err)
	_, err = sdk.NewMarker(mapsdk.MarkerOptions{Map: m})
	require.NoError(t, err)

	assert.Len(t, sdk.AttachedMarkers(m), 2)
	mk.Detach()
	assert.Len(t, sdk.AttachedMarkers(m), 1)
	assert.Equal(t, 2, sdk.CreatedMarkers())

	_, err = sdk.NewMap("", model.LatLng{}, 1)
	assert.Error(t, err)
}
