//go:build linux

package mockenv

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrAlreadyMocked is returned when a command name is registered twice
// without an intervening [Registry.Clear].
var ErrAlreadyMocked = errors.New("command is already mocked")

// Handler decides the outcome of a mocked command invocation.
//
// Handlers run inside the test process. They must not block indefinitely: a
// handler that never returns hangs the stub and therefore the process that
// invoked the mocked command.
type Handler interface {
	Handle(inv Invocation) Outcome
}

// HandlerFunc adapts an ordinary function to the [Handler] interface.
type HandlerFunc func(inv Invocation) Outcome

// Handle calls f(inv).
func (f HandlerFunc) Handle(inv Invocation) Outcome {
	return f(inv)
}

// SpyFactory produces an observable stand-in for commands registered
// without a handler. Test framework adapters implement it; [Spies] is the
// built-in implementation.
type SpyFactory interface {
	NewSpy(name string) Handler
}

// SpyFactoryFunc adapts an ordinary function to the [SpyFactory] interface.
type SpyFactoryFunc func(name string) Handler

// NewSpy calls f(name).
func (f SpyFactoryFunc) NewSpy(name string) Handler {
	return f(name)
}

var noopHandler = HandlerFunc(func(Invocation) Outcome { return NoOutput() })

// Registry maps command names to handlers.
//
// A Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	spies    SpyFactory
}

// NewRegistry creates an empty registry. spies may be nil, in which case
// commands registered without a handler get a no-op handler.
func NewRegistry(spies SpyFactory) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		spies:    spies,
	}
}

// Register maps name to h and returns the handler that was stored.
//
// If h is nil, the registry asks its SpyFactory for a stand-in, or falls back
// to a handler that produces [NoOutput].
func (r *Registry) Register(name string, h Handler) (Handler, error) {
	err := ValidateCommandName(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyMocked, name)
	}

	if h == nil {
		if r.spies != nil {
			h = r.spies.NewSpy(name)
		}

		if h == nil {
			h = noopHandler
		}
	}

	r.handlers[name] = h

	return h, nil
}

// Lookup returns the handler registered for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]

	return h, ok
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Clear drops all registrations. Stub files on disk are not touched.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = make(map[string]Handler)
}

// unregister removes name. Used to roll back a registration whose stub could
// not be written.
func (r *Registry) unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, name)
}
