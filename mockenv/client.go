//go:build linux

package mockenv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// Environment variables a generated stub sets before exec'ing its launcher.
const (
	EnvStubName = "MOCKENV_STUB"
	EnvStubAddr = "MOCKENV_ADDR"
)

// EnvExecID is set by [Env.Exec] for the command it runs and inherited by
// every stub that command starts. Stubs forward it to the controller so
// protocol errors are attributed to the Exec that caused them.
const EnvExecID = "MOCKENV_EXEC"

// execIDHeader carries [EnvExecID] from the stub to the controller.
const execIDHeader = "Mockenv-Exec-Id"

// StubFailureExitCode is the exit code of a stub that could not obtain an
// outcome from the controller (unknown command, unreachable controller,
// malformed response).
const StubFailureExitCode = 127

const stubDialTimeout = 5 * time.Second

// StubRequest describes one stub invocation.
type StubRequest struct {
	// Name is the mocked command name.
	Name string
	// Addr is the controller host:port.
	Addr string
	// ExecID identifies the Env.Exec call the stub runs under, if any.
	ExecID string
	// Args are the stub's argv tokens without argv[0].
	Args []string

	Stdout io.Writer
	Stderr io.Writer
}

// RunStubIfRequested turns the current process into a stub client when it was
// exec'd by a generated stub script, and never returns in that case.
//
// Call it first thing in main (or TestMain) of any binary used as a
// [Config.Launcher]. When [EnvStubName] is not set it returns immediately.
func RunStubIfRequested() {
	name, ok := os.LookupEnv(EnvStubName)
	if !ok {
		return
	}

	code := RunStub(context.Background(), StubRequest{
		Name:   name,
		Addr:   os.Getenv(EnvStubAddr),
		ExecID: os.Getenv(EnvExecID),
		Args:   os.Args[1:],
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})

	os.Exit(code)
}

// RunStub performs the controller call for one stub invocation and writes the
// returned stdout and stderr. It returns the exit code the stub process must
// terminate with.
//
// RunStub blocks until the controller answers; it never blocks on an
// unreachable controller beyond the dial timeout.
func RunStub(ctx context.Context, req StubRequest) int {
	stderr := req.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	stdout := req.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	resp, err := callController(ctx, req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "mockenv stub %s: %v\n", req.Name, err)

		return StubFailureExitCode
	}

	// Both streams are unbuffered writers in a real stub, so the data is
	// handed to the OS before the caller exits.
	_, err = io.WriteString(stdout, resp.Stdout)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "mockenv stub %s: writing stdout: %v\n", req.Name, err)

		return StubFailureExitCode
	}

	_, err = io.WriteString(stderr, resp.Stderr)
	if err != nil {
		return StubFailureExitCode
	}

	return resp.ExitCode
}

func callController(ctx context.Context, req StubRequest) (Response, error) {
	if strings.TrimSpace(req.Name) == "" {
		return Response{}, fmt.Errorf("%s is empty", EnvStubName)
	}

	if strings.TrimSpace(req.Addr) == "" {
		return Response{}, fmt.Errorf("%s is empty", EnvStubAddr)
	}

	args := req.Args
	if args == nil {
		args = []string{}
	}

	// JSON strings are UTF-8; anything else would reach the handler altered.
	for i, arg := range args {
		if !utf8.ValidString(arg) {
			return Response{}, fmt.Errorf("argument %d (%q) is not valid UTF-8", i+1, arg)
		}
	}

	body, err := json.Marshal(Invocation{Args: args})
	if err != nil {
		return Response{}, fmt.Errorf("encoding invocation: %w", err)
	}

	endpoint := (&url.URL{Scheme: "http", Host: req.Addr, Path: "/call/" + req.Name}).String()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if req.ExecID != "" {
		httpReq.Header.Set(execIDHeader, req.ExecID)
	}

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:       nil,
			DialContext: (&net.Dialer{Timeout: stubDialTimeout}).DialContext,
		},
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("calling controller at %s: %w", req.Addr, err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("reading controller response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("controller returned %s: %s", httpResp.Status, strings.TrimSpace(string(data)))
	}

	var resp Response

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	err = dec.Decode(&resp)
	if err != nil {
		return Response{}, fmt.Errorf("decoding controller response: %w", err)
	}

	if resp.ExitCode < 0 || resp.ExitCode > 255 {
		return Response{}, fmt.Errorf("controller returned exit code %d out of range", resp.ExitCode)
	}

	return resp, nil
}
