// Package storesync fetches the stores inside the published viewport and
// makes sure only the newest request's answer ever reaches the display.
package storesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/store-locator/internal/metrics"
	"github.com/sells-group/store-locator/internal/model"
)

// Fetcher retrieves the stores inside a bounding box.
type Fetcher interface {
	Stores(ctx context.Context, q model.BoundsQuery) ([]model.StoreRecord, error)
}

// Sink receives every applied record set, in dispatch order.
type Sink func(records []model.StoreRecord)

// PermissionFunc reports the current location permission state.
type PermissionFunc func() model.PermissionState

// Options configures a Syncer.
type Options struct {
	// Permission drives the zero-bounds guard. Nil means granted.
	Permission PermissionFunc

	// Sink is called with each applied record set.
	Sink Sink

	// Timeout bounds a single fetch. Zero means 15s.
	Timeout time.Duration

	Metrics *metrics.Metrics
}

// Syncer dispatches store fetches and applies the latest result.
type Syncer struct {
	fetcher Fetcher
	opts    Options
	group   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// applyMu orders result application and sink delivery.
	applyMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	latest     uint64
	lastBounds model.Bounds
	hasBounds  bool
	held       bool
	records    []model.StoreRecord
	generation uint64
}

// New creates a Syncer. Close must be called to stop in-flight fetches.
func New(fetcher Fetcher, opts Options) *Syncer {
	if opts.Permission == nil {
		opts.Permission = func() model.PermissionState { return model.PermissionGranted }
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		fetcher: fetcher,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnViewportChange reacts to a published viewport. Only a change in bounds
// (by value) triggers work.
func (s *Syncer) OnViewportChange(vp model.Viewport) {
	s.mu.Lock()
	if s.closed || (s.hasBounds && vp.Bounds == s.lastBounds) {
		s.mu.Unlock()
		return
	}
	s.lastBounds = vp.Bounds
	s.hasBounds = true
	s.mu.Unlock()

	s.evaluate(vp.Bounds)
}

// OnPermissionChange re-evaluates the last seen bounds under a new
// permission state. Only bounds held back by the placeholder guard are
// reconsidered.
func (s *Syncer) OnPermissionChange(state model.PermissionState) {
	s.mu.Lock()
	b, held := s.lastBounds, s.held
	closed := s.closed
	s.mu.Unlock()

	if closed || !held {
		return
	}
	zap.L().Debug("permission changed, re-evaluating bounds",
		zap.String("component", "storesync"),
		zap.Stringer("permission", state),
	)
	s.evaluate(b)
}

// FetchDefault dispatches the whole-country query used when permission is
// denied and no real viewport exists yet. It returns the request sequence.
func (s *Syncer) FetchDefault() uint64 {
	return s.dispatch(model.DefaultCountryQuery())
}

// Records returns a copy of the applied record set.
func (s *Syncer) Records() []model.StoreRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.StoreRecord(nil), s.records...)
}

// Redraw hands the applied record set to the sink again, ordered with
// result application. Call it after the map handle is replaced.
func (s *Syncer) Redraw() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	records := append([]model.StoreRecord(nil), s.records...)
	s.mu.Unlock()

	if s.opts.Sink != nil {
		s.opts.Sink(records)
	}
}

// Generation returns how many record sets have been applied.
func (s *Syncer) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Latest returns the sequence number of the most recently dispatched fetch.
func (s *Syncer) Latest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Close cancels in-flight fetches and waits for them to finish. Nothing is
// applied after Close returns.
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Syncer) evaluate(b model.Bounds) {
	held := s.opts.Permission() == model.PermissionDenied && b.HasZeroField()

	s.mu.Lock()
	s.held = held
	s.mu.Unlock()

	if held {
		zap.L().Debug("skipping fetch for placeholder bounds",
			zap.String("component", "storesync"),
		)
		return
	}
	s.dispatch(model.QueryFromBounds(b))
}

func (s *Syncer) dispatch(q model.BoundsQuery) uint64 {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.latest++
	seq := s.latest
	s.wg.Add(1)
	s.mu.Unlock()

	s.opts.Metrics.IncStoreFetch(metrics.FetchIssued)
	go s.run(seq, q)
	return seq
}

func (s *Syncer) run(seq uint64, q model.BoundsQuery) {
	defer s.wg.Done()

	start := time.Now()
	key := fmt.Sprintf("%g,%g,%g,%g", q.NorthEastLat, q.NorthEastLon, q.SouthWestLat, q.SouthWestLon)
	res := <-s.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.Timeout)
		defer cancel()
		return s.fetcher.Stores(ctx, q)
	})
	s.opts.Metrics.ObserveStoreFetchDuration(time.Since(start))

	var records []model.StoreRecord
	if res.Err == nil {
		records, _ = res.Val.([]model.StoreRecord)
	}
	s.apply(seq, q, records, res.Err)
}

func (s *Syncer) apply(seq uint64, q model.BoundsQuery, records []model.StoreRecord, err error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	log := zap.L().With(zap.String("component", "storesync"), zap.Uint64("seq", seq))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if seq != s.latest {
		latest := s.latest
		s.mu.Unlock()
		s.opts.Metrics.IncStoreFetch(metrics.FetchStale)
		log.Debug("discarding stale store response", zap.Uint64("latest", latest))
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.opts.Metrics.IncStoreFetch(metrics.FetchFailed)
		log.Warn("store fetch failed, keeping previous results",
			zap.Float64("ne_lat", q.NorthEastLat),
			zap.Float64("ne_lon", q.NorthEastLon),
			zap.Float64("sw_lat", q.SouthWestLat),
			zap.Float64("sw_lon", q.SouthWestLon),
			zap.Error(err),
		)
		return
	}
	s.records = append([]model.StoreRecord(nil), records...)
	s.generation++
	applied := append([]model.StoreRecord(nil), records...)
	s.mu.Unlock()

	s.opts.Metrics.IncStoreFetch(metrics.FetchApplied)
	log.Debug("applied store results", zap.Int("count", len(applied)))

	if s.opts.Sink != nil {
		s.opts.Sink(applied)
	}
}
