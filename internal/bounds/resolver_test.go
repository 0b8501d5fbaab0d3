package bounds

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/store-locator/internal/mapsdk/memsdk"
	"github.com/sells-group/store-locator/internal/mapsdk/mocks"
	"github.com/sells-group/store-locator/internal/model"
)

func TestResolve_NormalizesCorners(t *testing.T) {
	t.Parallel()

	m := mocks.NewMockMap(t)
	m.On("Bounds", mock.Anything).Return([]model.LatLng{
		{Lat: 37.4, Lon: 127.1}, // south-east
		{Lat: 37.6, Lon: 126.9}, // north-west
	}, nil)

	got, err := NewResolver().Resolve(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, model.LatLng{Lat: 37.6, Lon: 127.1}, got.NorthEast)
	assert.Equal(t, model.LatLng{Lat: 37.4, Lon: 126.9}, got.SouthWest)
}

func TestResolve_NilMap(t *testing.T) {
	t.Parallel()

	_, err := NewResolver().Resolve(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMapNotAttached)
}

func TestResolve_SDKFailurePropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("map not ready")
	m := mocks.NewMockMap(t)
	m.On("Bounds", mock.Anything).Return(nil, boom)

	got, err := NewResolver().Resolve(context.Background(), m)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bounds: query map")
	assert.True(t, got.IsZero())
}

func TestResolve_TooFewCorners(t *testing.T) {
	t.Parallel()

	m := mocks.NewMockMap(t)
	m.On("Bounds", mock.Anything).Return([]model.LatLng{{Lat: 1, Lon: 1}}, nil)

	_, err := NewResolver().Resolve(context.Background(), m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need at least 2")
}

func TestResolve_MemSDKContainsCenter(t *testing.T) {
	t.Parallel()

	sdk := memsdk.New(800, 600)
	center := model.LatLng{Lat: 37.5, Lon: 127.0}
	m, err := sdk.NewMap("map", center, 14)
	require.NoError(t, err)

	got, err := NewResolver().Resolve(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, got.Valid())
	assert.True(t, got.Contains(center))
}
