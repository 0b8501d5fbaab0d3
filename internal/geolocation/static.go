package geolocation

import (
	"context"
	"sync"
)

// StaticLocator answers one-shot requests with a fixed reading or error and
// replays positions pushed through Push to active watches.
type StaticLocator struct {
	Position Position
	Err      error

	mu      sync.Mutex
	watches map[int]*staticWatch
	nextID  int
}

type staticWatch struct {
	onUpdate func(Position)
	onError  func(error)
}

// NewStaticLocator creates a locator that always reports pos.
func NewStaticLocator(pos Position) *StaticLocator {
	return &StaticLocator{Position: pos}
}

// NewDeniedLocator creates a locator that always refuses.
func NewDeniedLocator() *StaticLocator {
	return &StaticLocator{Err: ErrPermissionDenied}
}

// CurrentPosition implements Locator.
func (s *StaticLocator) CurrentPosition(ctx context.Context, _ PositionOptions) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return Position{}, s.Err
	}
	return s.Position, nil
}

// Watch implements Locator. Updates are delivered synchronously from Push.
func (s *StaticLocator) Watch(ctx context.Context, _ PositionOptions, onUpdate func(Position), onError func(error)) (func(), error) {
	s.mu.Lock()
	if s.watches == nil {
		s.watches = make(map[int]*staticWatch)
	}
	s.nextID++
	id := s.nextID
	s.watches[id] = &staticWatch{onUpdate: onUpdate, onError: onError}
	s.mu.Unlock()

	remove := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watches, id)
	}
	unregister := context.AfterFunc(ctx, remove)
	return func() {
		unregister()
		remove()
	}, nil
}

// Push delivers pos to every active watch.
func (s *StaticLocator) Push(pos Position) {
	for _, w := range s.snapshot() {
		w.onUpdate(pos)
	}
}

// PushError delivers err to every active watch.
func (s *StaticLocator) PushError(err error) {
	for _, w := range s.snapshot() {
		w.onError(err)
	}
}

// ActiveWatches returns the number of running watches.
func (s *StaticLocator) ActiveWatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// SetResult replaces the one-shot answer.
func (s *StaticLocator) SetResult(pos Position, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Position = pos
	s.Err = err
}

func (s *StaticLocator) snapshot() []*staticWatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*staticWatch, 0, len(s.watches))
	for _, w := range s.watches {
		out = append(out, w)
	}
	return out
}
