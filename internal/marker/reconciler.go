// Package marker keeps the map's store markers in step with the applied
// store record set.
package marker

import (
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/store-locator/internal/mapsdk"
	"github.com/sells-group/store-locator/internal/metrics"
	"github.com/sells-group/store-locator/internal/model"
)

// ErrClosed is returned by operations on a closed Reconciler.
var ErrClosed = eris.New("marker: reconciler closed")

// Reconciler owns every marker it creates.
type Reconciler struct {
	sdk     mapsdk.SDK
	metrics *metrics.Metrics

	mu      sync.Mutex
	markers []mapsdk.Marker
	user    mapsdk.Marker
	closed  bool
}

// NewReconciler creates a Reconciler that builds markers with sdk.
func NewReconciler(sdk mapsdk.SDK, m *metrics.Metrics) *Reconciler {
	return &Reconciler{sdk: sdk, metrics: m}
}

// Reconcile replaces the displayed store markers with one marker per
// record. A nil map is a no-op. A marker that fails to build is skipped and
// the first such error is returned after the rest are placed.
func (r *Reconciler) Reconcile(records []model.StoreRecord, m mapsdk.Map) error {
	if m == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	r.detachLocked()

	var firstErr error
	for _, rec := range records {
		mk, err := r.sdk.NewMarker(mapsdk.MarkerOptions{Map: m, Position: rec.Position()})
		if err != nil {
			zap.L().Warn("failed to create store marker",
				zap.String("component", "marker"),
				zap.Int64("store_id", rec.ID),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = eris.Wrapf(err, "marker: create marker for store %d", rec.ID)
			}
			continue
		}
		r.markers = append(r.markers, mk)
	}
	r.metrics.SetMarkers(len(r.markers))
	return firstErr
}

// Count returns the number of store markers currently attached.
func (r *Reconciler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markers)
}

// PlaceUser puts the pulsing user marker at pos, replacing any previous one.
func (r *Reconciler) PlaceUser(m mapsdk.Map, pos model.LatLng) error {
	if m == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	if r.user != nil {
		r.user.Detach()
		r.user = nil
	}
	mk, err := r.sdk.NewMarker(mapsdk.MarkerOptions{
		Map:      m,
		Position: pos,
		Icon:     mapsdk.UserLocationIcon(),
	})
	if err != nil {
		return eris.Wrap(err, "marker: create user marker")
	}
	r.user = mk
	return nil
}

// MoveUser repositions the user marker. It reports false when no user
// marker exists.
func (r *Reconciler) MoveUser(pos model.LatLng) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.user == nil || r.closed {
		return false
	}
	r.user.SetPosition(pos)
	return true
}

// HasUser reports whether the user marker is placed.
func (r *Reconciler) HasUser() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.user != nil
}

// Clear detaches every marker, including the user marker.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

// Close clears the map and refuses further marker creation.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
	r.closed = true
}

func (r *Reconciler) clearLocked() {
	r.detachLocked()
	if r.user != nil {
		r.user.Detach()
		r.user = nil
	}
	r.metrics.SetMarkers(0)
}

func (r *Reconciler) detachLocked() {
	for _, mk := range r.markers {
		mk.Detach()
	}
	r.markers = nil
}
