package firehose

import (
	"context"
	"errors"
	"sync"
)

// Registry hands out one Batcher per destination, keyed by connector id,
// secret and organization, so every client of the same connector shares a
// queue. Batchers live until Close.
type Registry struct {
	opts []BatcherOption

	mu       sync.Mutex
	batchers map[string]*Batcher
}

// NewRegistry returns an empty registry. opts are applied to every batcher it
// creates.
func NewRegistry(opts ...BatcherOption) *Registry {
	return &Registry{opts: opts, batchers: map[string]*Batcher{}}
}

// Batcher returns the batcher for cfg's destination, creating it on first
// use. Flush settings of later callers with the same key are ignored.
func (r *Registry) Batcher(cfg Config) *Batcher {
	k := cfg.key()
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.batchers[k]; ok {
		return b
	}
	b := NewBatcher(cfg, r.opts...)
	r.batchers[k] = b
	return b
}

// Len returns the number of live batchers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batchers)
}

// Close drains every batcher and forgets them.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Batcher, 0, len(r.batchers))
	for _, b := range r.batchers {
		all = append(all, b)
	}
	r.batchers = map[string]*Batcher{}
	r.mu.Unlock()

	var errs []error
	for _, b := range all {
		if err := b.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default is the process-wide registry used by clients built without an
// explicit one.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}
