//go:build linux

// Package mockenv provides an isolated execution environment for testing
// command-line programs.
//
// An [Env] owns a scratch working directory, a bin directory that shadows
// commands on PATH, a [Controller] and a [Registry]. Mocking a command writes
// a small stub script named after it into the bin directory. When any process
// started inside the environment runs that command, the stub forwards its
// argv to the controller over HTTP, blocks until the registered [Handler] has
// decided the outcome, and then reproduces the outcome's stdout, stderr and
// exit code. To the calling process the stub is indistinguishable from the
// real command.
//
// # Launcher
//
// Stubs exec a launcher binary that performs the HTTP call. Any binary that
// calls [RunStubIfRequested] first thing in main or TestMain can act as the
// launcher; by default the binary constructing the Env is used:
//
//	func TestMain(m *testing.M) {
//		mockenv.RunStubIfRequested()
//		os.Exit(m.Run())
//	}
//
// # Lifecycle
//
// An Env is constructed once per test run, reused by many tests and reset
// between them with [Env.Clear]:
//
//	env, err := mockenv.New(mockenv.Config{BasePath: "/dev/shm/mytests"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer env.Close()
//
//	_, _ = env.MockCommand("git", mockenv.HandlerFunc(func(inv mockenv.Invocation) mockenv.Outcome {
//		return mockenv.Stdout("main\n")
//	}))
//
//	res, err := env.Exec(ctx, "git branch --show-current")
//
// The base path must live on an in-memory filesystem (tmpfs or ramfs). Test
// artifacts are never persisted.
package mockenv

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	binDirName     = "bin"
	workdirDirName = "workdir"

	defaultShell     = "/bin/sh"
	defaultHostsFile = "/etc/hosts"

	// defaultTempRoot is where TempBase creates base directories.
	defaultTempRoot = "/dev/shm"
)

// Isolation controls how the PATH of executed commands is composed.
type Isolation string

const (
	// IsolationPermissive prepends the bin directory to the outer PATH. Real
	// commands remain reachable unless they are mocked or provided. This is
	// the default.
	IsolationPermissive Isolation = "permissive"

	// IsolationStrict replaces PATH with the bin directory. Every command a
	// script runs must be mocked, provided, or a shell builtin.
	IsolationStrict Isolation = "strict"
)

// Config configures an [Env].
//
// All fields except BasePath have usable zero values.
type Config struct {
	// BasePath is the absolute directory the Env works in. It must exist, be
	// on a tmpfs or ramfs mount, contain no whitespace and have no path
	// element starting with '-'. The Env uses BasePath/bin and BasePath/workdir;
	// BasePath/bin must not exist yet.
	BasePath string

	// Port is the controller port on 127.0.0.1. Zero selects an ephemeral
	// port, which lets independent Envs run side by side.
	Port int

	// Isolation selects how PATH is composed for [Env.Exec].
	// Defaults to IsolationPermissive.
	Isolation Isolation

	// Launcher is the absolute path of the binary stubs exec. It must call
	// [RunStubIfRequested]. Defaults to the current executable.
	Launcher string

	// Shell is the absolute path of the shell used by [Env.Exec].
	// Defaults to /bin/sh.
	Shell string

	// HostsFile is the static host table [Env.MockHost] modifies.
	// Defaults to /etc/hosts.
	HostsFile string

	// Spies creates stand-ins for commands mocked without a handler. If nil,
	// such commands print nothing and exit 0.
	Spies SpyFactory

	// Debugf receives debug messages from the Env and its controller.
	Debugf Debugf
}

// Debugf receives debug messages.
//
// The function should be safe to call from any goroutine.
type Debugf func(format string, args ...any)

// Env is a reusable sandbox for running shell commands against mocked
// commands.
//
// An Env must not be copied after first use. Its methods are safe for
// concurrent use, but tests sharing one Env must not run in parallel with
// [Env.Clear].
type Env struct {
	noCopy noCopy

	cfg Config
	env Environment

	binDir  string
	workDir string

	registry   *Registry
	controller *Controller
	hosts      *hostsOverride
}

// New constructs an Env using an Environment derived from the current process
// (see [DefaultEnvironment]).
func New(cfg Config) (*Env, error) {
	env, err := DefaultEnvironment()
	if err != nil {
		return nil, fmt.Errorf("mockenv: creating default environment: %w", err)
	}

	return NewWithEnvironment(cfg, env)
}

// NewWithEnvironment constructs an Env using an explicit outer environment.
//
// The controller starts listening before NewWithEnvironment returns and keeps
// listening until [Env.Close].
func NewWithEnvironment(cfg Config, env Environment) (*Env, error) {
	env = cloneEnvironment(env)

	err := applyDefaults(&cfg)
	if err != nil {
		return nil, fmt.Errorf("mockenv: %w", err)
	}

	err = validateConfigAndEnv(&cfg, env)
	if err != nil {
		return nil, fmt.Errorf("mockenv: validating: %w", err)
	}

	e := &Env{
		cfg:      cfg,
		env:      env,
		binDir:   filepath.Join(cfg.BasePath, binDirName),
		workDir:  filepath.Join(cfg.BasePath, workdirDirName),
		registry: NewRegistry(cfg.Spies),
		hosts:    newHostsOverride(cfg.HostsFile, cfg.Debugf),
	}

	controller, err := NewController(e.registry, cfg.Port, cfg.Debugf)
	if err != nil {
		return nil, err
	}

	e.controller = controller

	// Exec fails if its working directory is missing.
	err = os.MkdirAll(e.workDir, 0o755)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("mockenv: creating workdir: %w", err), controller.Close())
	}

	e.debugf("env: base=%s port=%d isolation=%s launcher=%s", cfg.BasePath, controller.Port(), cfg.Isolation, cfg.Launcher)

	return e, nil
}

// DefaultEnvironment returns an Environment derived from the current process.
//
// WorkDir is resolved from os.Getwd(). HostEnv is populated from os.Environ().
// Invalid KEY=VALUE entries are ignored.
func DefaultEnvironment() (Environment, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return Environment{}, fmt.Errorf("get working directory: %w", err)
	}

	return Environment{
		WorkDir: workDir,
		HostEnv: EnvironMap(os.Environ()),
	}, nil
}

// EnvironMap parses KEY=VALUE entries into a map. Invalid entries are
// ignored.
func EnvironMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}

		out[key] = value
	}

	return out
}

// TempBase creates a fresh, uniquely named base directory under /dev/shm and
// returns its path. The caller owns the directory and should remove it when
// done.
func TempBase() (string, error) {
	dir := filepath.Join(defaultTempRoot, "mockenv-"+uuid.NewString())

	err := os.Mkdir(dir, 0o755)
	if err != nil {
		return "", fmt.Errorf("mockenv: creating temp base: %w", err)
	}

	return dir, nil
}

// Workdir returns the absolute path of the scratch working directory.
func (e *Env) Workdir() string {
	return e.workDir
}

// BinDir returns the absolute path of the directory holding stubs and
// provided commands.
func (e *Env) BinDir() string {
	return e.binDir
}

// Addr returns the controller address stubs call.
func (e *Env) Addr() string {
	return e.controller.Addr()
}

// Registry returns the registry backing this Env.
func (e *Env) Registry() *Registry {
	return e.registry
}

// MockCommand makes name resolve to a stub answered by h and returns the
// handler in use. If h is nil, the configured [SpyFactory] creates one (see
// [Config.Spies]).
//
// MockCommand fails with [ErrAlreadyMocked] if name is already registered and
// with [ErrStubExists] if a file named name already exists in the bin
// directory.
func (e *Env) MockCommand(name string, h Handler) (Handler, error) {
	h, err := e.registry.Register(name, h)
	if err != nil {
		return nil, fmt.Errorf("mockenv: mocking %q: %w", name, err)
	}

	stubPath, err := writeStub(e.binDir, name, e.controller.Addr(), e.cfg.Launcher)
	if err != nil {
		e.registry.unregister(name)

		return nil, fmt.Errorf("mockenv: mocking %q: %w", name, err)
	}

	e.debugf("env: mocked %s at %s", name, stubPath)

	return h, nil
}

// MockSpy mocks name with a new [Spy] and returns it.
func (e *Env) MockSpy(name string) (*Spy, error) {
	spy := NewSpy(name)

	_, err := e.MockCommand(name, spy)
	if err != nil {
		return nil, err
	}

	return spy, nil
}

// Err returns the protocol errors raised by handlers since the last
// [Env.Clear], joined into one error, or nil.
func (e *Env) Err() error {
	return errors.Join(e.controller.Violations()...)
}

// Clear resets the Env to a pristine state: registrations and recorded
// protocol errors are dropped, the working and bin directories are deleted,
// the working directory is recreated and the hosts file is restored. The
// controller keeps running.
//
// Clear is safe to call repeatedly and as the first operation on a new Env.
func (e *Env) Clear() error {
	e.registry.Clear()
	e.controller.ResetViolations()

	var errs []error

	err := os.RemoveAll(e.workDir)
	if err != nil {
		errs = append(errs, fmt.Errorf("removing workdir: %w", err))
	}

	err = os.RemoveAll(e.binDir)
	if err != nil {
		errs = append(errs, fmt.Errorf("removing bin dir: %w", err))
	}

	err = os.MkdirAll(e.workDir, 0o755)
	if err != nil {
		errs = append(errs, fmt.Errorf("recreating workdir: %w", err))
	}

	err = e.hosts.restore()
	if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("mockenv: clear: %w", errors.Join(errs...))
	}

	e.debugf("env: cleared")

	return nil
}

// Close restores the hosts file and stops the controller. Stubs invoked
// after Close fail. The working and bin directories are left in place.
func (e *Env) Close() error {
	return errors.Join(e.hosts.restore(), e.controller.Close())
}

func (e *Env) debugf(format string, args ...any) {
	if e.cfg.Debugf != nil {
		e.cfg.Debugf(format, args...)
	}
}

// applyDefaults fills unset Config fields.
func applyDefaults(cfg *Config) error {
	if cfg.Isolation == "" {
		cfg.Isolation = IsolationPermissive
	}

	if cfg.Shell == "" {
		cfg.Shell = defaultShell
	}

	if cfg.HostsFile == "" {
		cfg.HostsFile = defaultHostsFile
	}

	if cfg.Launcher == "" {
		launcher, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolving default launcher: %w", err)
		}

		cfg.Launcher = launcher
	}

	return nil
}

// cloneEnvironment returns a deep copy of env.
func cloneEnvironment(env Environment) Environment {
	out := env

	if env.HostEnv == nil {
		out.HostEnv = map[string]string{}
	} else {
		out.HostEnv = make(map[string]string, len(env.HostEnv))
		maps.Copy(out.HostEnv, env.HostEnv)
	}

	return out
}

// marker for go vet.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// internalErrorf reports an internal invariant violation.
func internalErrorf(op, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)

	if op == "" {
		return fmt.Errorf("mockenv: internal error: %s", detail)
	}

	return fmt.Errorf("mockenv: internal error: %s: %s", op, detail)
}
