package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mockenv/mockenv"
)

var (
	// ErrNoCommand is returned when run is called without a command.
	ErrNoCommand = errors.New("no command specified")
	// ErrInvalidMockFlag is returned when a --mock flag value is malformed.
	ErrInvalidMockFlag = errors.New("invalid --mock format: expected NAME or NAME=STDOUT")
	// ErrInvalidHostFlag is returned when a --host flag value is malformed.
	ErrInvalidHostFlag = errors.New("invalid --host format: expected HOST or HOST=IP")
)

const runLongHelp = `Run a shell command in a scratch working directory with mocked commands on PATH.
The command's stdout, stderr and exit code are passed through.

Like ssh, the arguments are joined with spaces into one shell command string,
so 'mockenv run git commit -m "a b"' runs 'git commit -m a b'. Quote the whole
command to keep arguments intact: mockenv run 'git commit -m "a b"'`

// RunCmd creates the run command that executes a shell command against
// mocked commands.
func RunCmd(cfg *Config, env map[string]string) *Command {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.BoolP("help", "h", false, "Show help")
	flags.String("base", "", "Use existing tmpfs `dir` as base (default: fresh dir in /dev/shm)")
	flags.Int("port", mockenv.DefaultPort, "Controller `port` on 127.0.0.1 (0 picks a free port)")
	flags.Bool("strict", false, "Restrict PATH to mocked and provided commands")
	flags.String("hosts-file", "", "Write mocked hosts to `file` instead of /etc/hosts")
	flags.StringArray("mock", nil, "Mock command (NAME or NAME=STDOUT, repeatable)")
	flags.StringArray("provide", nil, "Expose real command (NAME or NAME=PATH, repeatable)")
	flags.StringArray("host", nil, "Mock host (HOST or HOST=IP, repeatable)")
	flags.Bool("keep", false, "Keep the base directory after exit")
	flags.Bool("debug", false, "Log sandbox setup and mocked calls to stderr")

	return &Command{
		Flags:   flags,
		Usage:   "run [flags] [--] <command>",
		Short:   "Run shell command against mocks",
		Long:    runLongHelp,
		Aliases: []string{},
		Exec: func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
			if len(args) == 0 {
				return ErrNoCommand
			}

			debug, _ := flags.GetBool("debug")
			keep, _ := flags.GetBool("keep")

			logger := newLogger(stderr, debug)

			err := applyRunFlags(cfg, flags, homeDirFromEnv(env))
			if err != nil {
				return err
			}

			logConfig(logger, cfg)

			return runSandboxed(ctx, &runInput{
				cfg:     cfg,
				env:     env,
				// Joined like ssh does, so "git; npm" stays one script.
				command: strings.Join(args, " "),
				keep:    keep,
				stdin:   stdin,
				stdout:  stdout,
				stderr:  stderr,
				logger:  logger,
			})
		},
	}
}

type runInput struct {
	cfg     *Config
	env     map[string]string
	command string
	keep    bool

	stdin          io.Reader
	stdout, stderr io.Writer
	logger         *logrus.Logger
}

// runSandboxed sets up a sandbox from in.cfg, runs the command and tears the
// sandbox down again.
func runSandboxed(ctx context.Context, in *runInput) (err error) {
	cfg := in.cfg

	base := cfg.Base
	if base == "" {
		base, err = mockenv.TempBase()
		if err != nil {
			return err
		}

		defer func() {
			if in.keep {
				fprintf(in.stderr, "mockenv: kept base directory %s\n", base)

				return
			}

			rmErr := os.RemoveAll(base)
			if rmErr != nil {
				in.logger.WithError(rmErr).Warn("removing base directory")
			}
		}()
	}

	isolation := mockenv.IsolationPermissive
	if cfg.Strict != nil && *cfg.Strict {
		isolation = mockenv.IsolationStrict
	}

	sb, err := mockenv.NewWithEnvironment(mockenv.Config{
		BasePath:  base,
		Port:      derefInt(cfg.Port),
		Isolation: isolation,
		Shell:     cfg.Shell,
		HostsFile: cfg.HostsFile,
		Spies:     mockenv.Spies,
		Debugf:    in.logger.Debugf,
	}, mockenv.Environment{
		WorkDir: cfg.EffectiveCwd,
		HostEnv: in.env,
	})
	if err != nil {
		return err
	}

	defer func() {
		closeErr := sb.Close()
		if closeErr != nil {
			err = errors.Join(err, closeErr)
		}

		// The base can only be reused once bin/ is gone.
		rmErr := os.RemoveAll(sb.BinDir())
		if rmErr != nil {
			in.logger.WithError(rmErr).Warn("removing bin directory")
		}
	}()

	spies, err := setupSandbox(sb, cfg)
	if err != nil {
		return err
	}

	res, err := sb.ExecWith(ctx, in.command, mockenv.ExecOptions{Stdin: in.stdin})

	logCalls(in.logger, spies)

	var execErr *mockenv.ExecError

	switch {
	case err == nil:
		writeOutput(in, res.Stdout, res.Stderr)

		return nil
	case errors.As(err, &execErr):
		writeOutput(in, execErr.Stdout, execErr.Stderr)

		if sb.Err() != nil || execErr.ExitCode < 0 {
			return err
		}

		return &ExitCodeError{Code: execErr.ExitCode}
	default:
		if res != nil {
			writeOutput(in, res.Stdout, res.Stderr)
		}

		return err
	}
}

// setupSandbox writes files and installs mocks, provided commands and hosts
// from cfg. It returns the spy of every mocked command.
func setupSandbox(sb *mockenv.Env, cfg *Config) (map[string]*mockenv.Spy, error) {
	err := sb.WriteFiles(cfg.Files)
	if err != nil {
		return nil, err
	}

	spies := make(map[string]*mockenv.Spy, len(cfg.Mocks))

	for _, name := range sortedKeys(cfg.Mocks) {
		spy, err := sb.MockSpy(name)
		if err != nil {
			return nil, err
		}

		spy.Returns(cfg.Mocks[name].Outcome)
		spies[name] = spy
	}

	for _, entry := range cfg.Provide {
		name, target, _ := strings.Cut(entry, "=")

		err = sb.ProvideCommand(strings.TrimSpace(name), strings.TrimSpace(target))
		if err != nil {
			return nil, err
		}
	}

	for _, host := range sortedKeys(cfg.Hosts) {
		err = sb.MockHost(host, cfg.Hosts[host])
		if err != nil {
			return nil, err
		}
	}

	return spies, nil
}

func writeOutput(in *runInput, stdout, stderr string) {
	_, _ = io.WriteString(in.stdout, stdout)
	_, _ = io.WriteString(in.stderr, stderr)
}

// applyRunFlags applies CLI flag overrides to the config.
// Only flags that were explicitly set override config values.
func applyRunFlags(cfg *Config, flags *flag.FlagSet, homeDir string) error {
	if flags.Changed("base") {
		val, _ := flags.GetString("base")

		base, err := ResolvePath(val, homeDir, cfg.EffectiveCwd)
		if err != nil {
			return fmt.Errorf("--base: %w", err)
		}

		cfg.Base = base
	}

	if flags.Changed("port") {
		val, _ := flags.GetInt("port")
		cfg.Port = &val
	}

	if flags.Changed("strict") {
		val, _ := flags.GetBool("strict")
		cfg.Strict = &val
	}

	if flags.Changed("hosts-file") {
		val, _ := flags.GetString("hosts-file")

		hostsFile, err := ResolvePath(val, homeDir, cfg.EffectiveCwd)
		if err != nil {
			return fmt.Errorf("--hosts-file: %w", err)
		}

		cfg.HostsFile = hostsFile
	}

	if flags.Changed("mock") {
		vals, _ := flags.GetStringArray("mock")

		err := applyMockFlags(cfg, vals)
		if err != nil {
			return err
		}
	}

	if flags.Changed("provide") {
		vals, _ := flags.GetStringArray("provide")
		cfg.Provide = append(cfg.Provide, vals...)
	}

	if flags.Changed("host") {
		vals, _ := flags.GetStringArray("host")

		err := applyHostFlags(cfg, vals)
		if err != nil {
			return err
		}
	}

	return nil
}

// applyMockFlags parses --mock NAME[=STDOUT] values. A bare NAME produces no
// output.
func applyMockFlags(cfg *Config, vals []string) error {
	if cfg.Mocks == nil {
		cfg.Mocks = make(map[string]MockSpec)
	}

	for _, v := range vals {
		name, stdout, hasStdout := strings.Cut(v, "=")

		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("%w: empty name in %q", ErrInvalidMockFlag, v)
		}

		spec := MockSpec{Outcome: mockenv.NoOutput()}
		if hasStdout {
			spec.Outcome = mockenv.Stdout(stdout)
		}

		cfg.Mocks[name] = spec
	}

	return nil
}

// applyHostFlags parses --host HOST[=IP] values. A bare HOST maps to
// 127.0.0.1.
func applyHostFlags(cfg *Config, vals []string) error {
	if cfg.Hosts == nil {
		cfg.Hosts = make(map[string]string)
	}

	for _, v := range vals {
		host, ip, _ := strings.Cut(v, "=")

		host = strings.TrimSpace(host)
		if host == "" {
			return fmt.Errorf("%w: empty host in %q", ErrInvalidHostFlag, v)
		}

		cfg.Hosts[host] = strings.TrimSpace(ip)
	}

	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
