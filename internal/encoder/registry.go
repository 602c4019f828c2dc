package encoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// HealthChecker is implemented by backends that can be probed for
// availability before use.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Factory constructs an encoder backend on first use. Construction may be
// expensive (SDK clients, credential checks), so lazily registered backends
// stay unbuilt until something actually asks for them.
type Factory func() (Encoder, error)

// Registry manages the configured embedding backends by name. A backend
// whose probe failed is remembered as unavailable so later lookups fail
// fast instead of timing out against a dead sidecar again.
type Registry struct {
	mu          sync.RWMutex
	encoders    map[string]Encoder
	factories   map[string]Factory
	unavailable map[string]*EncodingUnavailableError
}

// NewRegistry creates an empty encoder registry
func NewRegistry() *Registry {
	return &Registry{
		encoders:    make(map[string]Encoder),
		factories:   make(map[string]Factory),
		unavailable: make(map[string]*EncodingUnavailableError),
	}
}

// Register adds a built backend under its name, replacing any previous one
// (or a pending factory) and clearing a cached unavailability verdict.
func (r *Registry) Register(enc Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[enc.Name()] = enc
	delete(r.factories, enc.Name())
	delete(r.unavailable, enc.Name())
}

// RegisterLazy adds a backend that is constructed on the first Get. A
// factory failure that is an EncodingUnavailableError is cached like a
// failed probe.
func (r *Registry) RegisterLazy(name string, build Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = build
	delete(r.encoders, name)
	delete(r.unavailable, name)
}

// Get returns the backend with the given name, constructing it on first use
// when it was registered lazily. A cached unavailability verdict is
// returned without touching the backend.
func (r *Registry) Get(name string) (Encoder, error) {
	r.mu.RLock()
	if unavailErr, ok := r.unavailable[name]; ok {
		r.mu.RUnlock()
		return nil, unavailErr
	}
	if enc, ok := r.encoders[name]; ok {
		r.mu.RUnlock()
		return enc, nil
	}
	_, pending := r.factories[name]
	r.mu.RUnlock()

	if !pending {
		return nil, fmt.Errorf("unknown encoder %q", name)
	}
	return r.build(name)
}

// build constructs a lazily registered backend. The state is re-checked
// under the write lock so concurrent Gets construct it exactly once.
func (r *Registry) build(name string) (Encoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if unavailErr, ok := r.unavailable[name]; ok {
		return nil, unavailErr
	}
	if enc, ok := r.encoders[name]; ok {
		return enc, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown encoder %q", name)
	}

	enc, err := factory()
	if err != nil {
		var unavailErr *EncodingUnavailableError
		if errors.As(err, &unavailErr) {
			r.unavailable[name] = unavailErr
			return nil, unavailErr
		}
		return nil, fmt.Errorf("initialize encoder %q: %w", name, err)
	}
	r.encoders[name] = enc
	return enc, nil
}

// Probe checks a backend's health and caches a failure. Backends without a
// health check are assumed available.
func (r *Registry) Probe(ctx context.Context, name string) error {
	enc, err := r.Get(name)
	if err != nil {
		return err
	}

	checker, ok := enc.(HealthChecker)
	if !ok {
		return nil
	}
	if err := checker.Health(ctx); err != nil {
		unavailErr, ok := err.(*EncodingUnavailableError)
		if !ok {
			unavailErr = &EncodingUnavailableError{Model: enc.Model(), Reason: err.Error()}
		}
		r.mu.Lock()
		r.unavailable[name] = unavailErr
		r.mu.Unlock()
		return unavailErr
	}
	return nil
}

// MarkUnavailable records a backend failure observed outside of probing.
func (r *Registry) MarkUnavailable(name string, err *EncodingUnavailableError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable[name] = err
}

// Names returns the registered backend names, built or not.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.encoders)+len(r.factories))
	for name := range r.encoders {
		names = append(names, name)
	}
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
