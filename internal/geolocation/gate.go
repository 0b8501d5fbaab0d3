// Package geolocation requests the device position and decides the initial
// viewport: the user's own position when permission is granted, or a fixed
// whole-country view when it is not.
package geolocation

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/store-locator/internal/model"
)

var (
	// ErrPermissionDenied marks an explicit user refusal. Locators should
	// wrap it so the gate can tell refusal apart from other failures.
	ErrPermissionDenied = eris.New("geolocation: permission denied")

	// ErrPositionUnavailable is returned when permission was granted but the
	// reading is unusable (both coordinates exactly zero).
	ErrPositionUnavailable = eris.New("geolocation: position unavailable")
)

// Position is a single location reading.
type Position struct {
	Coords    model.LatLng
	Accuracy  float64
	Timestamp time.Time
}

// PositionOptions configures a location request.
type PositionOptions struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

// Locator is the device geolocation capability.
type Locator interface {
	// CurrentPosition performs a one-shot location request.
	CurrentPosition(ctx context.Context, opts PositionOptions) (Position, error)

	// Watch delivers position updates until stop is called or ctx is done.
	Watch(ctx context.Context, opts PositionOptions, onUpdate func(Position), onError func(error)) (stop func(), err error)
}

// FormFactorFunc reports the current display classification.
type FormFactorFunc func() model.FormFactor

// Options configures a Gate.
type Options struct {
	// Zoom is the initial zoom for the granted flow.
	Zoom float64

	// OneShot configures the initial request. Low accuracy by default.
	OneShot PositionOptions

	// Watch configures the live position watch. High accuracy by default.
	Watch PositionOptions

	// FormFactor classifies the display. Nil means wide.
	FormFactor FormFactorFunc
}

// DefaultOptions mirrors the page's original accuracy settings.
func DefaultOptions() Options {
	return Options{
		Zoom: model.DefaultZoom,
		OneShot: PositionOptions{
			HighAccuracy: false,
			Timeout:      5 * time.Second,
			MaximumAge:   time.Minute,
		},
		Watch: PositionOptions{
			HighAccuracy: true,
			Timeout:      10 * time.Second,
		},
	}
}

// Result is the outcome of Acquire.
type Result struct {
	State  model.PermissionState
	Center model.LatLng
	Zoom   float64
}

// Gate runs the permission branch.
type Gate struct {
	locator Locator
	opts    Options

	mu      sync.Mutex
	state   model.PermissionState
	last    model.LatLng
	hasLast bool
}

// NewGate creates a Gate.
func NewGate(locator Locator, opts Options) *Gate {
	if opts.Zoom <= 0 {
		opts.Zoom = model.DefaultZoom
	}
	if opts.FormFactor == nil {
		opts.FormFactor = func() model.FormFactor { return model.FormFactorWide }
	}
	return &Gate{locator: locator, opts: opts}
}

// Acquire performs one location request. Denial or failure is not an error:
// it yields the Denied result with the fallback viewport. A granted but
// unusable reading returns ErrPositionUnavailable and the caller must not
// create a map.
func (g *Gate) Acquire(ctx context.Context) (Result, error) {
	log := zap.L().With(zap.String("component", "geolocation.gate"))

	pos, err := g.locator.CurrentPosition(ctx, g.opts.OneShot)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, eris.Wrap(ctxErr, "geolocation: acquire")
		}

		g.setState(model.PermissionDenied)
		if eris.Is(err, ErrPermissionDenied) {
			log.Info("location permission denied, using fallback viewport")
		} else {
			log.Warn("location request failed, using fallback viewport", zap.Error(err))
		}
		return Result{
			State:  model.PermissionDenied,
			Center: model.FallbackCenter,
			Zoom:   model.FallbackZoom,
		}, nil
	}

	g.mu.Lock()
	g.state = model.PermissionGranted
	g.last = pos.Coords
	g.hasLast = true
	g.mu.Unlock()

	if pos.Coords.IsZero() {
		log.Info("location unavailable, skipping map creation")
		return Result{State: model.PermissionGranted}, ErrPositionUnavailable
	}

	return Result{
		State:  model.PermissionGranted,
		Center: pos.Coords,
		Zoom:   g.opts.Zoom,
	}, nil
}

// State returns the current permission state.
func (g *Gate) State() model.PermissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// LastPosition returns the most recent reading, if any.
func (g *Gate) LastPosition() (model.LatLng, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.hasLast
}

// WatchUser starts a continuous watch that reports every usable reading to
// onMove. The watch only runs when permission is granted on a narrow
// display; otherwise started is false and stop is a no-op.
func (g *Gate) WatchUser(ctx context.Context, onMove func(model.LatLng)) (stop func(), started bool, err error) {
	noop := func() {}
	if g.State() != model.PermissionGranted || g.opts.FormFactor() != model.FormFactorNarrow {
		return noop, false, nil
	}

	log := zap.L().With(zap.String("component", "geolocation.watch"))
	stop, err = g.locator.Watch(ctx, g.opts.Watch,
		func(p Position) {
			if p.Coords.IsZero() {
				return
			}
			g.mu.Lock()
			g.last = p.Coords
			g.hasLast = true
			g.mu.Unlock()
			onMove(p.Coords)
		},
		func(err error) {
			log.Warn("live location update failed", zap.Error(err))
		},
	)
	if err != nil {
		return noop, false, eris.Wrap(err, "geolocation: start watch")
	}
	return stop, true, nil
}

func (g *Gate) setState(s model.PermissionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = s
}
