// Package memsdk is an in-memory map SDK. It computes web-mercator bounds
// for a fixed pixel viewport and dispatches drag/zoom events synchronously,
// which makes it suitable for tests and headless simulation.
package memsdk

import (
	"context"
	"math"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/store-locator/internal/mapsdk"
	"github.com/sells-group/store-locator/internal/model"
)

const tileSize = 256.0

// ErrMapDestroyed is returned when a destroyed map is used.
var ErrMapDestroyed = eris.New("memsdk: map destroyed")

// SDK implements mapsdk.SDK in memory.
type SDK struct {
	width, height int

	mu       sync.Mutex
	maps     []*Map
	markers  []*Marker
	boundsFn func(ctx context.Context) error
}

// New creates an SDK whose maps render into a width x height pixel viewport.
func New(width, height int) *SDK {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 768
	}
	return &SDK{width: width, height: height}
}

// FailBounds makes every subsequent Bounds call return the error produced by
// fn (nil fn restores normal behavior). fn also sees the call's context, so
// tests can use it to block.
func (s *SDK) FailBounds(fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boundsFn = fn
}

// NewMap implements mapsdk.SDK.
func (s *SDK) NewMap(mount string, center model.LatLng, zoom float64) (mapsdk.Map, error) {
	if mount == "" {
		return nil, eris.New("memsdk: mount target is required")
	}
	m := &Map{
		sdk:       s,
		mount:     mount,
		center:    center,
		zoom:      zoom,
		listeners: make(map[mapsdk.ListenerID]listener),
	}
	s.mu.Lock()
	s.maps = append(s.maps, m)
	s.mu.Unlock()
	return m, nil
}

// NewMarker implements mapsdk.SDK.
func (s *SDK) NewMarker(opts mapsdk.MarkerOptions) (mapsdk.Marker, error) {
	m, ok := opts.Map.(*Map)
	if !ok || m == nil {
		return nil, eris.New("memsdk: marker needs a memsdk map")
	}
	if m.Destroyed() {
		return nil, ErrMapDestroyed
	}
	mk := &Marker{mapRef: m, position: opts.Position, icon: opts.Icon, attached: true}
	s.mu.Lock()
	s.markers = append(s.markers, mk)
	s.mu.Unlock()
	return mk, nil
}

// Maps returns every map created so far.
func (s *SDK) Maps() []*Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Map(nil), s.maps...)
}

// AttachedMarkers returns markers currently attached to m.
func (s *SDK) AttachedMarkers(m mapsdk.Map) []*Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Marker
	for _, mk := range s.markers {
		if mk.mapRef == m && mk.Attached() {
			out = append(out, mk)
		}
	}
	return out
}

// CreatedMarkers returns the number of markers ever created.
func (s *SDK) CreatedMarkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markers)
}

func (s *SDK) boundsHook() func(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundsFn
}

type listener struct {
	event mapsdk.Event
	fn    func()
}

// Map is an in-memory map handle.
type Map struct {
	sdk   *SDK
	mount string

	mu        sync.Mutex
	center    model.LatLng
	zoom      float64
	destroyed bool
	nextID    mapsdk.ListenerID
	listeners map[mapsdk.ListenerID]listener
}

// Mount returns the mount target the map was created on.
func (m *Map) Mount() string { return m.mount }

// Center implements mapsdk.Map.
func (m *Map) Center() model.LatLng {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.center
}

// Zoom implements mapsdk.Map.
func (m *Map) Zoom() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoom
}

// Bounds implements mapsdk.Map. Corners come back north-west first and
// south-east second, so callers must normalize.
func (m *Map) Bounds(ctx context.Context) ([]model.LatLng, error) {
	if hook := m.sdk.boundsHook(); hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return nil, ErrMapDestroyed
	}

	b := viewportBounds(m.center, m.zoom, m.sdk.width, m.sdk.height)
	return []model.LatLng{
		{Lat: b.NorthEast.Lat, Lon: b.SouthWest.Lon},
		{Lat: b.SouthWest.Lat, Lon: b.NorthEast.Lon},
	}, nil
}

// AddListener implements mapsdk.Map.
func (m *Map) AddListener(event mapsdk.Event, fn func()) mapsdk.ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.listeners[m.nextID] = listener{event: event, fn: fn}
	return m.nextID
}

// RemoveListener implements mapsdk.Map.
func (m *Map) RemoveListener(id mapsdk.ListenerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

// ListenerCount returns the number of registered listeners.
func (m *Map) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// Destroy implements mapsdk.Map.
func (m *Map) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyed = true
	m.listeners = make(map[mapsdk.ListenerID]listener)
}

// Destroyed reports whether Destroy was called.
func (m *Map) Destroyed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroyed
}

// Drag pans the map to center and fires dragend listeners.
func (m *Map) Drag(center model.LatLng) {
	m.mu.Lock()
	m.center = center
	m.mu.Unlock()
	m.fire(mapsdk.EventDragEnd)
}

// SetZoom changes the zoom level and fires zoom_changed listeners.
func (m *Map) SetZoom(zoom float64) {
	m.mu.Lock()
	m.zoom = zoom
	m.mu.Unlock()
	m.fire(mapsdk.EventZoomChanged)
}

func (m *Map) fire(event mapsdk.Event) {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	var fns []func()
	for _, l := range m.listeners {
		if l.event == event {
			fns = append(fns, l.fn)
		}
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Marker is an in-memory marker.
type Marker struct {
	mapRef *Map
	icon   *mapsdk.Icon

	mu       sync.Mutex
	position model.LatLng
	attached bool
}

// SetPosition implements mapsdk.Marker.
func (mk *Marker) SetPosition(pos model.LatLng) {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	mk.position = pos
}

// Position returns the marker's current position.
func (mk *Marker) Position() model.LatLng {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return mk.position
}

// Icon returns the marker icon, nil for the default pin.
func (mk *Marker) Icon() *mapsdk.Icon { return mk.icon }

// Detach implements mapsdk.Marker.
func (mk *Marker) Detach() {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	mk.attached = false
}

// Attached reports whether the marker is still on its map.
func (mk *Marker) Attached() bool {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return mk.attached
}

// viewportBounds projects a width x height pixel viewport around center at
// the given zoom using spherical web mercator.
func viewportBounds(center model.LatLng, zoom float64, width, height int) model.Bounds {
	world := tileSize * math.Pow(2, zoom)

	cx := (center.Lon + 180) / 360 * world
	cy := latToY(center.Lat) * world

	halfW := float64(width) / 2
	halfH := float64(height) / 2

	west := (cx-halfW)/world*360 - 180
	east := (cx+halfW)/world*360 - 180
	north := yToLat((cy - halfH) / world)
	south := yToLat((cy + halfH) / world)

	return model.Bounds{
		NorthEast: model.LatLng{Lat: north, Lon: east},
		SouthWest: model.LatLng{Lat: south, Lon: west},
	}
}

// latToY maps latitude to the [0,1] mercator y axis (0 at the north edge).
func latToY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	sin = math.Min(math.Max(sin, -0.9999), 0.9999)
	return 0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)
}

func yToLat(y float64) float64 {
	n := math.Pi - 2*math.Pi*y
	return 180 / math.Pi * math.Atan(math.Sinh(n))
}
