// Package memdoc is an in-memory resource.Document.
package memdoc

import (
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/store-locator/internal/model"
)

// Mode controls when injected scripts report loaded.
type Mode int

const (
	// LoadImmediately fires onLoad synchronously inside Inject.
	LoadImmediately Mode = iota
	// LoadAsync fires onLoad from a new goroutine.
	LoadAsync
	// LoadManually holds onLoad until Complete is called.
	LoadManually
)

// Document is an in-memory script table.
type Document struct {
	mode Mode

	mu         sync.Mutex
	scripts    map[string]model.ScriptResource
	pending    map[string]func()
	injections int
	failURL    string
}

// New creates an empty Document.
func New(mode Mode) *Document {
	return &Document{
		mode:    mode,
		scripts: make(map[string]model.ScriptResource),
		pending: make(map[string]func()),
	}
}

// Preload adds scripts as if a previous mount had left them behind.
func (d *Document) Preload(resources ...model.ScriptResource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range resources {
		d.scripts[r.URL] = r
	}
}

// FailInject makes Inject fail for url.
func (d *Document) FailInject(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failURL = url
}

// Has implements resource.Document.
func (d *Document) Has(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.scripts[url]
	return ok
}

// Inject implements resource.Document.
func (d *Document) Inject(res model.ScriptResource, onLoad func()) error {
	d.mu.Lock()
	if res.URL == d.failURL {
		d.mu.Unlock()
		return eris.Errorf("memdoc: inject %s refused", res.URL)
	}
	d.scripts[res.URL] = res
	d.injections++
	mode := d.mode
	if mode == LoadManually {
		d.pending[res.URL] = onLoad
	}
	d.mu.Unlock()

	switch mode {
	case LoadImmediately:
		onLoad()
	case LoadAsync:
		go onLoad()
	}
	return nil
}

// Remove implements resource.Document.
func (d *Document) Remove(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.scripts[url]
	delete(d.scripts, url)
	delete(d.pending, url)
	return ok
}

// Complete fires the held onLoad for url. It reports whether one was pending.
func (d *Document) Complete(url string) bool {
	d.mu.Lock()
	fn, ok := d.pending[url]
	delete(d.pending, url)
	d.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

// Len returns the number of scripts in the document.
func (d *Document) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scripts)
}

// Injections returns the number of successful Inject calls.
func (d *Document) Injections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.injections
}
