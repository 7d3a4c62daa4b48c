package store

import "sync"

// handleRegistry reference-counts embedded database handles by DSN so that
// every worker in a process talks to the same database.
//
// Thread-safety: all methods are safe for concurrent use.
type handleRegistry[T any] struct {
	mu      sync.Mutex
	handles map[string]*sharedHandle[T]
	create  func(dsn string) (T, error)
	destroy func(T) error
}

type sharedHandle[T any] struct {
	value T
	refs  int
}

func newHandleRegistry[T any](create func(string) (T, error), destroy func(T) error) *handleRegistry[T] {
	return &handleRegistry[T]{
		handles: make(map[string]*sharedHandle[T]),
		create:  create,
		destroy: destroy,
	}
}

// acquire returns the handle for dsn, creating it on first use. The returned
// release func must be called exactly once.
func (r *handleRegistry[T]) acquire(dsn string) (T, func() error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[dsn]
	if !ok {
		value, err := r.create(dsn)
		if err != nil {
			var zero T
			return zero, nil, err
		}
		h = &sharedHandle[T]{value: value}
		r.handles[dsn] = h
	}
	h.refs++

	var once sync.Once
	release := func() error {
		var err error
		once.Do(func() { err = r.release(dsn) })
		return err
	}
	return h.value, release, nil
}

func (r *handleRegistry[T]) release(dsn string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[dsn]
	if !ok {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	delete(r.handles, dsn)
	if r.destroy == nil {
		return nil
	}
	return r.destroy(h.value)
}

// open reports how many handles are live. Used by tests.
func (r *handleRegistry[T]) open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
