//go:build linux

package mockenv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultPort is the conventional controller port used by the CLI.
	DefaultPort = 9613

	// maxRequestBytes bounds the size of a single invocation body.
	maxRequestBytes = 16 << 20

	shutdownTimeout = 5 * time.Second
)

// ProtocolError reports a handler whose result could not be turned into a
// valid response: an out-of-range exit code or a panic.
//
// Protocol errors indicate a bug in test code. They are surfaced in the test
// process (see [Env.Exec] and [Env.Err]); the stub only sees a failed call.
type ProtocolError struct {
	Command string
	Args    []string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mockenv: handler for %q (args %q) violated the outcome contract: %v", e.Command, e.Args, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Controller is the HTTP server stubs call into. It resolves each call to a
// handler in its [Registry] and answers with the normalized outcome.
//
// The controller listens from construction until [Controller.Close]. Requests
// are served concurrently, but handlers run one at a time in arrival order.
type Controller struct {
	registry *Registry
	debugf   Debugf

	listener net.Listener
	server   *http.Server
	serveErr chan error

	// callMu serializes handler execution.
	callMu sync.Mutex

	mu         sync.Mutex
	violations []violation
	closed     bool
}

// violation is a recorded protocol error and the Exec it happened under.
type violation struct {
	execID string
	err    error
}

// NewController starts listening on 127.0.0.1:port. A port of 0 selects an
// ephemeral port; see [Controller.Port].
func NewController(registry *Registry, port int, debugf Debugf) (*Controller, error) {
	if registry == nil {
		return nil, errors.New("mockenv: controller requires a registry")
	}

	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("mockenv: invalid controller port %d", port)
	}

	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("mockenv: starting controller: %w", err)
	}

	c := &Controller{
		registry: registry,
		debugf:   debugf,
		listener: listener,
		serveErr: make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /call/{name}", c.handleCall)

	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		c.serveErr <- c.server.Serve(listener)
	}()

	c.logf("controller: listening on %s", c.Addr())

	return c, nil
}

// Addr returns the host:port the controller listens on.
func (c *Controller) Addr() string {
	return c.listener.Addr().String()
}

// Port returns the TCP port the controller listens on.
func (c *Controller) Port() int {
	addr, ok := c.listener.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}

	return addr.Port
}

// Violations returns the protocol errors recorded since the last
// [Controller.ResetViolations].
func (c *Controller) Violations() []error {
	c.mu.Lock()
	defer c.mu.Unlock()

	errs := make([]error, 0, len(c.violations))
	for _, v := range c.violations {
		errs = append(errs, v.err)
	}

	return errs
}

// ResetViolations forgets recorded protocol errors.
func (c *Controller) ResetViolations() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.violations = nil
}

// violationsFor returns the protocol errors raised by stubs that ran under
// the Exec identified by execID.
func (c *Controller) violationsFor(execID string) []error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error

	for _, v := range c.violations {
		if v.execID == execID {
			errs = append(errs, v.err)
		}
	}

	return errs
}

// Close stops the controller. In-flight calls get up to five seconds to
// finish before their connections are dropped. Close is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := c.server.Shutdown(ctx)
	if err != nil {
		closeErr := c.server.Close()

		return errors.Join(fmt.Errorf("mockenv: stopping controller: %w", err), closeErr)
	}

	serveErr := <-c.serveErr
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("mockenv: controller: %w", serveErr)
	}

	c.logf("controller: stopped")

	return nil
}

func (c *Controller) handleCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	h, ok := c.registry.Lookup(name)
	if !ok {
		c.logf("controller: unknown command %q", name)
		respondText(w, http.StatusInternalServerError, "unknown command "+name)

		return
	}

	inv := Invocation{Name: name}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))

	err := dec.Decode(&inv)
	if err != nil {
		c.logf("controller: bad request for %q: %v", name, err)
		respondText(w, http.StatusBadRequest, fmt.Sprintf("invalid invocation for %s: %v", name, err))

		return
	}

	if inv.Args == nil {
		inv.Args = []string{}
	}

	resp, err := c.invoke(h, inv)
	if err != nil {
		perr := &ProtocolError{Command: name, Args: inv.Args, Err: err}

		c.mu.Lock()
		c.violations = append(c.violations, violation{execID: r.Header.Get(execIDHeader), err: perr})
		c.mu.Unlock()

		c.logf("controller: %v", perr)
		respondText(w, http.StatusInternalServerError, perr.Error())

		return
	}

	c.logf("controller: %s %q -> exit=%d stdout=%dB stderr=%dB", name, inv.Args, resp.ExitCode, len(resp.Stdout), len(resp.Stderr))

	body, err := json.Marshal(resp)
	if err != nil {
		respondText(w, http.StatusInternalServerError, err.Error())

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// invoke runs h under callMu and normalizes its outcome. A panicking handler
// is reported as an error.
func (c *Controller) invoke(h Handler, inv Invocation) (resp Response, err error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()

	return h.Handle(inv).Normalize()
}

func (c *Controller) logf(format string, args ...any) {
	if c.debugf != nil {
		c.debugf(format, args...)
	}
}

func respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
