// Package bounds turns a live map handle into a normalized viewport rectangle.
package bounds

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/store-locator/internal/mapsdk"
	"github.com/sells-group/store-locator/internal/model"
)

// ErrMapNotAttached is returned when there is no map to resolve against.
var ErrMapNotAttached = eris.New("bounds: map not attached")

// Resolver queries a map for its visible corners. It never retries; callers
// must leave their viewport untouched when Resolve fails.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the normalized bounds of m.
func (r *Resolver) Resolve(ctx context.Context, m mapsdk.Map) (model.Bounds, error) {
	if m == nil {
		return model.Bounds{}, ErrMapNotAttached
	}

	corners, err := m.Bounds(ctx)
	if err != nil {
		return model.Bounds{}, eris.Wrap(err, "bounds: query map")
	}
	if len(corners) < 2 {
		return model.Bounds{}, eris.Errorf("bounds: map returned %d corners, need at least 2", len(corners))
	}

	return model.BoundsFromCorners(corners...), nil
}
