// Package locator runs the store locator page lifecycle: load the map
// scripts, resolve the user's location, create the map and keep the store
// markers in step with the visible area.
package locator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/store-locator/internal/geolocation"
	"github.com/sells-group/store-locator/internal/mapsdk"
	"github.com/sells-group/store-locator/internal/marker"
	"github.com/sells-group/store-locator/internal/metrics"
	"github.com/sells-group/store-locator/internal/model"
	"github.com/sells-group/store-locator/internal/resource"
	"github.com/sells-group/store-locator/internal/storesync"
	"github.com/sells-group/store-locator/internal/viewport"
)

// Stage names a step of the startup pipeline.
type Stage string

const (
	StageResources   Stage = "resources"
	StageGeolocation Stage = "geolocation"
	StageMap         Stage = "map"
	StageData        Stage = "data"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = eris.New("locator: session already started")

	// ErrStopped is returned when the session was stopped.
	ErrStopped = eris.New("locator: session stopped")
)

// StageError reports which stage of the pipeline failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("locator: stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Deps are the external capabilities a Session drives.
type Deps struct {
	SDK      mapsdk.SDK
	Document resource.Document
	Locator  geolocation.Locator
	Fetcher  storesync.Fetcher
	Metrics  *metrics.Metrics
}

// Options configures a Session.
type Options struct {
	// Mount is the map container id.
	Mount string

	// Scripts are the map SDK resources. Empty means DefaultMapScripts("").
	Scripts []model.ScriptResource

	// ResourceTimeout bounds the script wait. Zero waits for the Start ctx.
	ResourceTimeout time.Duration

	// FetchTimeout bounds each store fetch.
	FetchTimeout time.Duration

	Geolocation geolocation.Options
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string                `json:"id"`
	Permission model.PermissionState `json:"permission"`
	Viewport   model.Viewport        `json:"viewport"`
	Records    []model.StoreRecord   `json:"records"`
	Markers    int                   `json:"markers"`
	UserMarker bool                  `json:"user_marker"`
	HasMap     bool                  `json:"has_map"`
}

// Session owns one page lifetime.
type Session struct {
	id   string
	opts Options
	deps Deps
	log  *zap.Logger

	loader     *resource.Loader
	gate       *geolocation.Gate
	controller *viewport.Controller
	syncer     *storesync.Syncer
	markers    *marker.Reconciler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	started   bool
	stopped   bool
	stopWatch func()

	releaseOnce sync.Once
	stopOnce    sync.Once
}

// New wires a Session. Nothing runs until Start.
func New(deps Deps, opts Options) *Session {
	if len(opts.Scripts) == 0 {
		opts.Scripts = model.DefaultMapScripts("")
	}
	if opts.Mount == "" {
		opts.Mount = "map"
	}

	id := uuid.NewString()
	s := &Session{
		id:         id,
		opts:       opts,
		deps:       deps,
		log:        zap.L().With(zap.String("component", "locator"), zap.String("session_id", id)),
		loader:     resource.NewLoader(deps.Document),
		gate:       geolocation.NewGate(deps.Locator, opts.Geolocation),
		controller: viewport.NewController(deps.SDK, nil),
		markers:    marker.NewReconciler(deps.SDK, deps.Metrics),
		stopWatch:  func() {},
	}
	s.syncer = storesync.New(deps.Fetcher, storesync.Options{
		Permission: s.gate.State,
		Sink:       s.render,
		Timeout:    opts.FetchTimeout,
		Metrics:    deps.Metrics,
	})
	s.controller.Subscribe(s.syncer.OnViewportChange)
	s.loader.OnTeardown(s.releaseMap)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start runs the pipeline. A granted but unusable location reading ends the
// pipeline without a map and returns nil.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	sctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	s.log.Info("locator: starting session")

	if err := s.loadResources(sctx); err != nil {
		return err
	}
	if err := s.locateAndRender(sctx); err != nil {
		return err
	}

	s.log.Info("locator: session ready",
		zap.Stringer("permission", s.gate.State()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Retry asks for the location again. When the answer changes from denied
// to granted the map is rebuilt around the user's position.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if !s.started {
		s.mu.Unlock()
		return eris.New("locator: retry before start")
	}
	sctx := s.ctx
	s.mu.Unlock()

	if s.gate.State() == model.PermissionGranted && s.controller.Map() != nil {
		return nil
	}

	ctx, cancel := mergeCancel(ctx, sctx)
	defer cancel()

	s.markers.Clear()
	s.controller.Teardown()
	return s.locateAndRender(ctx)
}

// Stop tears the session down. Safe to call repeatedly.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		stopWatch := s.stopWatch
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		stopWatch()
		s.releaseMap()
		s.loader.Teardown()

		s.log.Info("locator: session stopped")
	})
}

// Snapshot reports the session's current state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:         s.id,
		Permission: s.gate.State(),
		Viewport:   s.controller.Viewport(),
		Records:    s.syncer.Records(),
		Markers:    s.markers.Count(),
		UserMarker: s.markers.HasUser(),
		HasMap:     s.controller.Map() != nil,
	}
}

// Map returns the live map, or nil.
func (s *Session) Map() mapsdk.Map {
	return s.controller.Map()
}

func (s *Session) loadResources(ctx context.Context) error {
	ready, err := s.loader.EnsureLoaded(ctx, s.opts.Scripts)
	if err != nil {
		return &StageError{Stage: StageResources, Err: err}
	}

	waitCtx := ctx
	if s.opts.ResourceTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.opts.ResourceTimeout)
		defer cancel()
	}
	if err := s.loader.Wait(waitCtx, ready); err != nil {
		s.log.Warn("locator: map scripts did not finish loading", zap.Error(err))
		return &StageError{Stage: StageResources, Err: err}
	}
	return nil
}

func (s *Session) locateAndRender(ctx context.Context) error {
	res, err := s.gate.Acquire(ctx)
	if err != nil {
		if eris.Is(err, geolocation.ErrPositionUnavailable) {
			s.log.Info("locator: location unavailable, map not created")
			return nil
		}
		return &StageError{Stage: StageGeolocation, Err: err}
	}

	m, err := s.initMap(res)
	if err != nil {
		return &StageError{Stage: StageMap, Err: err}
	}
	// A new handle starts empty; draw what is already applied.
	s.syncer.Redraw()

	if err := s.loadData(res, m); err != nil {
		return &StageError{Stage: StageData, Err: err}
	}
	return nil
}

func (s *Session) initMap(res geolocation.Result) (mapsdk.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}

	m, err := s.controller.Initialize(s.ctx, s.opts.Mount, res.Center, res.Zoom)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Session) loadData(res geolocation.Result, m mapsdk.Map) error {
	if res.State != model.PermissionGranted {
		s.syncer.FetchDefault()
		return nil
	}

	s.syncer.OnPermissionChange(res.State)
	if err := s.controller.Refresh(s.ctx); err != nil {
		return err
	}
	return s.followUser(res.Center, m)
}

// followUser places the live user marker and starts the position watch on
// narrow displays.
func (s *Session) followUser(center model.LatLng, m mapsdk.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}

	stop, started, err := s.gate.WatchUser(s.ctx, func(pos model.LatLng) {
		s.markers.MoveUser(pos)
	})
	if err != nil {
		s.log.Warn("locator: live location watch not started", zap.Error(err))
		return nil
	}
	if !started {
		return nil
	}

	if err := s.markers.PlaceUser(m, center); err != nil {
		stop()
		return err
	}
	s.stopWatch()
	s.stopWatch = stop
	return nil
}

// render is the store sync sink.
func (s *Session) render(records []model.StoreRecord) {
	m := s.controller.Map()
	if err := s.markers.Reconcile(records, m); err != nil && !eris.Is(err, marker.ErrClosed) {
		s.log.Warn("locator: some store markers failed to render", zap.Error(err))
	}
}

func (s *Session) releaseMap() {
	s.releaseOnce.Do(func() {
		s.syncer.Close()
		s.markers.Close()
		s.controller.Teardown()
	})
}

// mergeCancel returns a context that ends when either parent does.
func mergeCancel(ctx, other context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(other, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
