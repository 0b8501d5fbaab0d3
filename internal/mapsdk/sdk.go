// Package mapsdk defines the capability surface the locator needs from a
// third-party map SDK. Implementations adapt a real SDK (or an in-memory
// stand-in) to these interfaces so the sync core never touches SDK objects.
package mapsdk

import (
	"context"

	"github.com/sells-group/store-locator/internal/model"
)

// Event names a map event the locator listens to.
type Event string

const (
	EventDragEnd     Event = "dragend"
	EventZoomChanged Event = "zoom_changed"
)

// ListenerID identifies a registered event listener.
type ListenerID int64

// SDK constructs maps and markers.
type SDK interface {
	// NewMap creates a map attached to mount, centered at center.
	NewMap(mount string, center model.LatLng, zoom float64) (Map, error)

	// NewMarker creates a marker attached to opts.Map.
	NewMarker(opts MarkerOptions) (Marker, error)
}

// Map is an opaque live map handle.
type Map interface {
	Center() model.LatLng
	Zoom() float64

	// Bounds returns the visible corners. The shape varies by SDK (two
	// opposite corners or a ring); callers normalize.
	Bounds(ctx context.Context) ([]model.LatLng, error)

	AddListener(event Event, fn func()) ListenerID
	RemoveListener(id ListenerID)

	// Destroy releases the handle. Further calls are undefined.
	Destroy()
}

// Marker is an opaque marker handle.
type Marker interface {
	SetPosition(pos model.LatLng)

	// Detach removes the marker from its map.
	Detach()
}

// MarkerOptions configures a new marker.
type MarkerOptions struct {
	Map      Map
	Position model.LatLng
	Icon     *Icon
}

// Icon is an HTML marker icon descriptor.
type Icon struct {
	Content string
	Width   int
	Height  int
	AnchorX int
	AnchorY int
}

// UserLocationIcon is the pulsing dot drawn at the live user position.
func UserLocationIcon() *Icon {
	return &Icon{
		Content: `<div class="user-location-pulse"><svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24"><circle cx="12" cy="12" r="11" fill="blue"/></svg></div>`,
		Width:   12,
		Height:  12,
		AnchorX: 9,
		AnchorY: 9,
	}
}
