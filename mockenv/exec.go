//go:build linux

package mockenv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os/exec"
	"sort"
	"time"

	"github.com/google/uuid"
)

const execWaitDelay = 2 * time.Second

// ExecResult is the captured outcome of a command run by [Env.Exec].
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecError is returned by [Env.Exec] when the command did not exit 0. It
// carries the captured output so failures can be asserted on.
type ExecError struct {
	// Err is the underlying error, usually an *exec.ExitError.
	Err error

	Stdout   string
	Stderr   string
	ExitCode int
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("mockenv: command exited with code %d: %v", e.ExitCode, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// ExecOptions tune a single [Env.ExecWith] call.
type ExecOptions struct {
	// Stdin is connected to the command's standard input. Nil means no input.
	Stdin io.Reader

	// Env adds or overrides environment variables. PATH, composed according
	// to [Config.Isolation], and [EnvExecID] cannot be overridden here.
	Env map[string]string
}

// Exec runs command through the configured shell with the working directory
// set to [Env.Workdir] and PATH composed according to [Config.Isolation].
//
// A zero exit status yields the captured output. A non-zero status yields an
// [*ExecError] carrying the same output. If a handler violated the outcome
// contract for a stub started by this command, the protocol errors are
// returned as well. Errors from stubs of concurrent Exec calls, or from stubs
// started outside Exec, are not; [Env.Err] reports all of them.
func (e *Env) Exec(ctx context.Context, command string) (*ExecResult, error) {
	return e.ExecWith(ctx, command, ExecOptions{})
}

// ExecWith is like [Env.Exec] with additional options.
func (e *Env) ExecWith(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error) {
	execID := uuid.NewString()

	env := maps.Clone(e.env.HostEnv)
	maps.Copy(env, opts.Env)
	env["PATH"] = e.execPath()
	env[EnvExecID] = execID

	cmd := exec.CommandContext(ctx, e.cfg.Shell, "-c", command)
	cmd.Dir = e.workDir
	cmd.Env = envMapToSliceSorted(env)
	cmd.Stdin = opts.Stdin
	// Orphaned grandchildren holding the pipes must not block a cancelled run.
	cmd.WaitDelay = execWaitDelay

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.debugf("exec: %s", command)

	runErr := cmd.Run()

	violations := e.controller.violationsFor(execID)

	exitCode := 0
	if runErr != nil {
		exitCode = -1

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	e.debugf("exec: exit=%d stdout=%dB stderr=%dB", exitCode, stdout.Len(), stderr.Len())

	if runErr != nil {
		execErr := &ExecError{
			Err:      runErr,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: exitCode,
		}

		if len(violations) > 0 {
			return nil, errors.Join(append([]error{execErr}, violations...)...)
		}

		return nil, execErr
	}

	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}

	if len(violations) > 0 {
		return res, errors.Join(violations...)
	}

	return res, nil
}

// envMapToSliceSorted converts a map env to a sorted KEY=VALUE slice.
//
// Sorting keeps debug output and tests deterministic.
func envMapToSliceSorted(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		if k == "" {
			continue
		}

		keys = append(keys, k)
	}

	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}

	return out
}
