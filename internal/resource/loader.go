// Package resource injects the map SDK's external scripts exactly once per
// page lifetime and reports when all of them have loaded.
package resource

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/store-locator/internal/model"
)

// ErrResourceLoadIncomplete is returned when required scripts did not finish
// loading before the caller gave up.
var ErrResourceLoadIncomplete = eris.New("resource: load incomplete")

// Document is the page's script-loading surface.
type Document interface {
	// Has reports whether a script with url is present in the document.
	Has(url string) bool

	// Inject appends a script. onLoad is called once the script has loaded;
	// it may be called synchronously.
	Inject(res model.ScriptResource, onLoad func()) error

	// Remove deletes the script with url. It reports whether one was present.
	Remove(url string) bool
}

// Loader owns the lifecycle of the scripts it injects.
type Loader struct {
	doc Document

	mu      sync.Mutex
	owned   map[string]model.ScriptResource
	loaded  map[string]bool
	waiters []*waiter
	hooks   []func()
}

type waiter struct {
	required []string
	done     chan struct{}
}

// NewLoader creates a Loader over doc.
func NewLoader(doc Document) *Loader {
	return &Loader{
		doc:    doc,
		owned:  make(map[string]model.ScriptResource),
		loaded: make(map[string]bool),
	}
}

// EnsureLoaded makes sure every resource is present and returns a channel
// that is closed once all of them have loaded. Scripts already in the
// document that this loader did not inject count as loaded. When nothing is
// outstanding the returned channel is already closed.
func (l *Loader) EnsureLoaded(ctx context.Context, resources []model.ScriptResource) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "resource: ensure loaded")
	}

	log := zap.L().With(zap.String("component", "resource.loader"))

	l.mu.Lock()
	required := make([]string, 0, len(resources))
	var inject []model.ScriptResource
	seen := make(map[string]bool, len(resources))
	for _, res := range resources {
		if res.URL == "" || seen[res.URL] {
			continue
		}
		seen[res.URL] = true
		required = append(required, res.URL)

		if _, ok := l.owned[res.URL]; ok {
			continue
		}
		if l.doc.Has(res.URL) {
			l.loaded[res.URL] = true
			continue
		}
		l.owned[res.URL] = res
		inject = append(inject, res)
	}

	w := &waiter{required: required, done: make(chan struct{})}
	if l.satisfied(w) {
		l.mu.Unlock()
		close(w.done)
		log.Debug("all resources present", zap.Int("count", len(required)))
		return w.done, nil
	}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	for i, res := range inject {
		url := res.URL
		if err := l.doc.Inject(res, func() { l.markLoaded(url) }); err != nil {
			l.mu.Lock()
			for _, r := range inject[i:] {
				delete(l.owned, r.URL)
			}
			l.dropWaiter(w)
			l.mu.Unlock()
			return nil, eris.Wrapf(err, "resource: inject %s", url)
		}
		log.Debug("injected resource", zap.String("url", url))
	}

	return w.done, nil
}

// Wait blocks until ready is closed or ctx is done.
func (l *Loader) Wait(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ErrResourceLoadIncomplete, ctx.Err().Error())
	}
}

// OnTeardown registers fn to run on the next Teardown. Owners of handles tied
// to the scripts (the map) use it to release them.
func (l *Loader) OnTeardown(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, fn)
}

// PendingHooks returns how many teardown hooks are registered.
func (l *Loader) PendingHooks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hooks)
}

// Teardown removes every script this loader injected and runs the teardown
// hooks. Safe to call repeatedly.
func (l *Loader) Teardown() {
	l.mu.Lock()
	urls := make([]string, 0, len(l.owned))
	for url := range l.owned {
		urls = append(urls, url)
	}
	hooks := l.hooks
	l.owned = make(map[string]model.ScriptResource)
	l.loaded = make(map[string]bool)
	l.waiters = nil
	l.hooks = nil
	l.mu.Unlock()

	for _, url := range urls {
		l.doc.Remove(url)
	}
	for _, fn := range hooks {
		fn()
	}

	if len(urls) > 0 || len(hooks) > 0 {
		zap.L().Debug("resources torn down",
			zap.String("component", "resource.loader"),
			zap.Int("removed", len(urls)),
			zap.Int("hooks", len(hooks)),
		)
	}
}

// Loaded reports whether url has finished loading.
func (l *Loader) Loaded(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded[url]
}

func (l *Loader) markLoaded(url string) {
	l.mu.Lock()
	if _, ok := l.owned[url]; !ok {
		// Torn down before the script finished loading.
		l.mu.Unlock()
		return
	}
	l.loaded[url] = true

	var ready []*waiter
	pending := l.waiters[:0]
	for _, w := range l.waiters {
		if l.satisfied(w) {
			ready = append(ready, w)
		} else {
			pending = append(pending, w)
		}
	}
	l.waiters = pending
	l.mu.Unlock()

	for _, w := range ready {
		close(w.done)
	}
}

// satisfied must be called with mu held.
func (l *Loader) satisfied(w *waiter) bool {
	for _, url := range w.required {
		if !l.loaded[url] {
			return false
		}
	}
	return true
}

// dropWaiter must be called with mu held.
func (l *Loader) dropWaiter(target *waiter) {
	for i, w := range l.waiters {
		if w == target {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}
