//go:build linux

package mockenv

import (
	"fmt"
	"unicode/utf8"
)

// Invocation is a single call of a mocked command as observed by the stub.
//
// Args are the argv tokens the stub received, excluding argv[0], exactly as
// the shell tokenized them ("4 5 6" arrives as one element).
type Invocation struct {
	// Name is the mocked command name. It is not part of the wire format; the
	// controller fills it in from the request path.
	Name string   `json:"-"`
	Args []string `json:"args"`
}

type outcomeKind uint8

const (
	outcomeNone outcomeKind = iota
	outcomeStdout
	outcomeResult
)

// Outcome is what a handler decides a mocked command should produce.
//
// Outcome is a tagged union with three constructors: [NoOutput], [Stdout]
// and [Result]. The zero value is equivalent to NoOutput().
type Outcome struct {
	kind     outcomeKind
	stdout   string
	stderr   string
	exitCode int
}

// NoOutput returns an outcome that prints nothing and exits 0.
func NoOutput() Outcome {
	return Outcome{kind: outcomeNone}
}

// Stdout returns an outcome that prints s to stdout and exits 0.
func Stdout(s string) Outcome {
	return Outcome{kind: outcomeStdout, stdout: s}
}

// Result returns an outcome with explicit stdout, stderr and exit code.
func Result(stdout, stderr string, exitCode int) Outcome {
	return Outcome{kind: outcomeResult, stdout: stdout, stderr: stderr, exitCode: exitCode}
}

// Response is the canonical, normalized form of an [Outcome]. It is the body
// the controller sends back to a stub.
type Response struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Normalize converts o into its canonical triple.
//
// Exit codes must be representable as a process exit status (0..255);
// anything else is reported as an error instead of being truncated. Output
// must be valid UTF-8, the only text the JSON wire format carries unchanged.
func (o Outcome) Normalize() (Response, error) {
	if !utf8.ValidString(o.stdout) {
		return Response{}, fmt.Errorf("stdout %q is not valid UTF-8", o.stdout)
	}

	if !utf8.ValidString(o.stderr) {
		return Response{}, fmt.Errorf("stderr %q is not valid UTF-8", o.stderr)
	}

	switch o.kind {
	case outcomeNone:
		return Response{}, nil
	case outcomeStdout:
		return Response{Stdout: o.stdout}, nil
	case outcomeResult:
		if o.exitCode < 0 || o.exitCode > 255 {
			return Response{}, fmt.Errorf("exit code %d out of range 0..255", o.exitCode)
		}

		return Response{Stdout: o.stdout, Stderr: o.stderr, ExitCode: o.exitCode}, nil
	default:
		return Response{}, internalErrorf("Normalize", "unknown outcome kind %d", o.kind)
	}
}

// String formats o for debug output.
func (o Outcome) String() string {
	switch o.kind {
	case outcomeNone:
		return "NoOutput()"
	case outcomeStdout:
		return fmt.Sprintf("Stdout(%q)", o.stdout)
	default:
		return fmt.Sprintf("Result(%q, %q, %d)", o.stdout, o.stderr, o.exitCode)
	}
}
