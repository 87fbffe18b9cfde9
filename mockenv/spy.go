//go:build linux

package mockenv

import (
	"slices"
	"sync"
)

// Spy is a [Handler] that records every invocation and answers with a
// configurable outcome. It is the stand-in created for commands mocked
// without an explicit handler when [Config.Spies] is set to [Spies].
//
// A Spy is safe for concurrent use.
type Spy struct {
	name string

	mu      sync.Mutex
	calls   []Invocation
	outcome Outcome
	fn      HandlerFunc
}

// NewSpy creates a spy for the command name that answers with [NoOutput].
func NewSpy(name string) *Spy {
	return &Spy{name: name}
}

// Spies is the built-in [SpyFactory]; it creates a [*Spy] per command.
var Spies SpyFactory = SpyFactoryFunc(func(name string) Handler {
	return NewSpy(name)
})

// Name returns the command name the spy was created for.
func (s *Spy) Name() string {
	return s.name
}

// Returns makes every subsequent call answer with o. It replaces any
// function set via ReturnsFunc.
func (s *Spy) Returns(o Outcome) *Spy {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcome = o
	s.fn = nil

	return s
}

// ReturnsFunc makes every subsequent call answer with fn(inv). Calls are
// still recorded.
func (s *Spy) ReturnsFunc(fn HandlerFunc) *Spy {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fn = fn

	return s
}

// Handle records inv and returns the configured outcome.
func (s *Spy) Handle(inv Invocation) Outcome {
	s.mu.Lock()
	inv.Args = slices.Clone(inv.Args)
	s.calls = append(s.calls, inv)
	fn := s.fn
	outcome := s.outcome
	s.mu.Unlock()

	// fn runs unlocked so it may inspect the spy.
	if fn != nil {
		return fn(inv)
	}

	return outcome
}

// Calls returns a copy of all recorded invocations in arrival order.
func (s *Spy) Calls() []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Invocation, len(s.calls))
	for i, call := range s.calls {
		out[i] = Invocation{Name: call.Name, Args: slices.Clone(call.Args)}
	}

	return out
}

// CallCount returns the number of recorded invocations.
func (s *Spy) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.calls)
}

// Called reports whether the spy was invoked at least once.
func (s *Spy) Called() bool {
	return s.CallCount() > 0
}

// CalledWith reports whether any recorded invocation had exactly args.
func (s *Spy) CalledWith(args ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, call := range s.calls {
		if slices.Equal(call.Args, args) {
			return true
		}
	}

	return false
}

// Reset forgets all recorded calls. The configured outcome is kept.
func (s *Spy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = nil
}
