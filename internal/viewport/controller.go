// Package viewport owns the live map handle and publishes viewport changes.
// It is the only writer of viewport state; everything else subscribes.
package viewport

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/store-locator/internal/bounds"
	"github.com/sells-group/store-locator/internal/mapsdk"
	"github.com/sells-group/store-locator/internal/model"
)

var (
	// ErrAlreadyInitialized is returned by Initialize while a map is live.
	ErrAlreadyInitialized = eris.New("viewport: map already initialized")

	// ErrNotInitialized is returned when there is no live map.
	ErrNotInitialized = eris.New("viewport: map not initialized")
)

// viewportEvents are the map events that trigger a viewport refresh.
var viewportEvents = []mapsdk.Event{mapsdk.EventDragEnd, mapsdk.EventZoomChanged}

// Controller creates, observes and destroys the single map handle.
type Controller struct {
	sdk      mapsdk.SDK
	resolver *bounds.Resolver

	// pubMu serializes publication so subscribers see updates in order.
	pubMu sync.Mutex

	mu        sync.Mutex
	m         mapsdk.Map
	listeners []mapsdk.ListenerID
	vp        model.Viewport
	gen       uint64
	ctx       context.Context

	// refreshSeq tickets every Refresh; published is the newest ticket
	// delivered. Older tickets are dropped at publish time.
	refreshSeq uint64
	published  uint64

	cancel    context.CancelFunc
	subs      map[int]func(model.Viewport)
	nextSub   int
}

// NewController creates a Controller.
func NewController(sdk mapsdk.SDK, resolver *bounds.Resolver) *Controller {
	if resolver == nil {
		resolver = bounds.NewResolver()
	}
	return &Controller{
		sdk:      sdk,
		resolver: resolver,
		subs:     make(map[int]func(model.Viewport)),
	}
}

// Initialize creates the map on mount and registers the drag/zoom handler.
// The viewport's center and zoom are recorded but not published; bounds stay
// zero until the first Refresh.
func (c *Controller) Initialize(ctx context.Context, mount string, center model.LatLng, zoom float64) (mapsdk.Map, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.m != nil {
		return nil, ErrAlreadyInitialized
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "viewport: initialize")
	}

	m, err := c.sdk.NewMap(mount, center, zoom)
	if err != nil {
		return nil, eris.Wrap(err, "viewport: create map")
	}

	c.gen++
	gen := c.gen
	c.m = m
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.vp = model.Viewport{Center: center, Zoom: zoom}

	handler := func() { c.onMapEvent(gen) }
	c.listeners = c.listeners[:0]
	for _, ev := range viewportEvents {
		c.listeners = append(c.listeners, m.AddListener(ev, handler))
	}

	zap.L().Debug("map initialized",
		zap.String("component", "viewport.controller"),
		zap.String("mount", mount),
		zap.Float64("lat", center.Lat),
		zap.Float64("lon", center.Lon),
		zap.Float64("zoom", zoom),
	)
	return m, nil
}

// Refresh reads center and zoom, resolves bounds and publishes all three
// together. On resolution failure nothing is published. A refresh that
// finishes after a newer one has published is dropped. Teardown cancels
// a resolution still in flight.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	m, gen, mapCtx := c.m, c.gen, c.ctx
	if m == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.refreshSeq++
	seq := c.refreshSeq
	center := m.Center()
	zoom := m.Zoom()
	c.mu.Unlock()

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(mapCtx, cancel)
	defer stop()

	b, err := c.resolver.Resolve(rctx, m)
	if err != nil {
		if !c.live(gen) {
			return ErrNotInitialized
		}
		return eris.Wrap(err, "viewport: refresh")
	}

	return c.publish(gen, seq, model.Viewport{Center: center, Zoom: zoom, Bounds: b})
}

// live reports whether the map of generation gen is still attached.
func (c *Controller) live(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.m != nil
}

// Subscribe registers fn for viewport updates. Calls are serialized and
// delivered in publication order.
func (c *Controller) Subscribe(fn func(model.Viewport)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Viewport returns the last published viewport.
func (c *Controller) Viewport() model.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vp
}

// Map returns the live map handle, or nil.
func (c *Controller) Map() mapsdk.Map {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}

// Teardown unregisters the listeners and destroys the map. Late events and
// in-flight refreshes for the destroyed map are dropped. Safe to call when
// already torn down.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.m == nil {
		return
	}

	for _, id := range c.listeners {
		c.m.RemoveListener(id)
	}
	c.listeners = nil
	c.cancel()
	c.m.Destroy()
	c.m = nil
	c.gen++

	zap.L().Debug("map torn down", zap.String("component", "viewport.controller"))
}

func (c *Controller) onMapEvent(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.m == nil {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		zap.L().Warn("viewport refresh failed",
			zap.String("component", "viewport.controller"),
			zap.Error(err),
		)
	}
}

func (c *Controller) publish(gen, seq uint64, vp model.Viewport) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	if c.gen != gen || c.m == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if seq < c.published {
		c.mu.Unlock()
		zap.L().Debug("superseded viewport dropped",
			zap.String("component", "viewport.controller"),
			zap.Uint64("seq", seq),
			zap.Uint64("published", c.published),
		)
		return nil
	}
	c.published = seq
	c.vp = vp
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(model.Viewport), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(vp)
	}
	return nil
}
