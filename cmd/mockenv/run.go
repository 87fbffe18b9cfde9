package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mockenv/mockenv"
)

const (
	// exitInterrupted is returned when a signal ended the run.
	exitInterrupted = 130

	// cleanupTimeout bounds how long an interrupted run may take to tear its
	// sandbox down.
	cleanupTimeout = 10 * time.Second
)

// globalOptions are the flags accepted before the command name.
type globalOptions struct {
	help       bool
	version    bool
	cwd        string
	configPath string

	// args holds the command name and its arguments.
	args []string
}

// Run is the main entry point. Returns exit code.
// sigCh can be nil if signal handling is not needed (e.g., in tests).
//
// When env names a mocked command (see [mockenv.EnvStubName]) the process was
// exec'd by a stub script: Run answers that call and nothing else, so args are
// the stub's argv and not mockenv flags.
func Run(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	if name, ok := env[mockenv.EnvStubName]; ok {
		return runStub(name, stdout, stderr, args, env)
	}

	opts, err := parseGlobalFlags(args)
	if err != nil {
		fprintError(stderr, err)
		fprintln(stderr)
		printGlobalOptions(stderr)

		return 1
	}

	// Handle --version early, before loading config
	if opts.version {
		printVersion(stdout)

		return 0
	}

	cfg, err := LoadConfig(LoadConfigInput{
		WorkDirOverride: opts.cwd,
		ConfigPath:      opts.configPath,
		Env:             env,
	})
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	commands := []*Command{
		RunCmd(&cfg, env),
		StubCmd(),
		CheckCmd(&cfg, env),
	}

	// Show help: explicit --help or bare `mockenv` with no args
	if opts.help || len(opts.args) == 0 {
		printUsage(stdout, commands)

		return 0
	}

	cmd, cmdArgs := resolveCommand(commands, opts.args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	return runUntilSignal(stderr, sigCh, cancel, func() int {
		return cmd.Run(ctx, stdin, stdout, stderr, cmdArgs)
	})
}

// runStub forwards one stub invocation to the controller named in env.
// args[0] is the stub path the shell resolved; the rest is the mocked argv.
func runStub(name string, stdout, stderr io.Writer, args []string, env map[string]string) int {
	var argv []string
	if len(args) > 1 {
		argv = args[1:]
	}

	return mockenv.RunStub(context.Background(), mockenv.StubRequest{
		Name:   name,
		Addr:   env[mockenv.EnvStubAddr],
		ExecID: env[mockenv.EnvExecID],
		Args:   argv,
		Stdout: stdout,
		Stderr: stderr,
	})
}

func parseGlobalFlags(args []string) (globalOptions, error) {
	// Fresh flag set per invocation; Run is called repeatedly in tests.
	flags := flag.NewFlagSet("mockenv", flag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {}
	flags.SetOutput(&strings.Builder{})

	var opts globalOptions

	flags.BoolVarP(&opts.help, "help", "h", false, "Show help")
	flags.BoolVarP(&opts.version, "version", "v", false, "Show version and exit")
	flags.StringVarP(&opts.cwd, "cwd", "C", "", "Run as if started in `dir`")
	flags.StringVar(&opts.configPath, "config", "", "Use specified config `file`")

	var rest []string
	if len(args) > 1 {
		rest = args[1:]
	}

	err := flags.Parse(rest)
	if err != nil {
		return globalOptions{}, err
	}

	opts.args = flags.Args()

	return opts, nil
}

// resolveCommand picks the command named by args[0]. Anything that is not a
// command name or alias is a shell command for an implicit "run", so
// `mockenv git status` works like `mockenv run git status`.
func resolveCommand(commands []*Command, args []string) (*Command, []string) {
	var runCmd *Command

	for _, cmd := range commands {
		if cmd.Name() == "run" {
			runCmd = cmd
		}

		if cmd.Name() == args[0] || slices.Contains(cmd.Aliases, args[0]) {
			return cmd, args[1:]
		}
	}

	// Don't consume args[0], it is part of the shell command
	return runCmd, args
}

// runUntilSignal runs fn in a goroutine and returns its exit code. The first
// signal cancels the run and waits up to cleanupTimeout for fn to tear its
// sandbox down; a second signal gives up immediately.
func runUntilSignal(stderr io.Writer, sigCh <-chan os.Signal, cancel context.CancelFunc, fn func() int) int {
	// Run command in goroutine so we can handle signals
	done := make(chan int, 1)

	go func() {
		done <- fn()
	}()

	// Handle nil sigCh for tests
	if sigCh == nil {
		return <-done
	}

	// Wait for completion or first signal
	select {
	case exitCode := <-done:
		return exitCode
	case <-sigCh:
		fprintln(stderr, "Interrupted, restoring hosts and removing sandbox... (Ctrl+C again to force exit)")
		cancel()
	}

	// Wait for completion, timeout, or second signal
	select {
	case <-done:
		fprintln(stderr, "Cleanup complete.")
	case <-time.After(cleanupTimeout):
		fprintln(stderr, "Cleanup timed out, hosts file may still contain mocked entries.")
	case <-sigCh:
		fprintln(stderr, "Forced exit.")
	}

	return exitInterrupted
}

func printVersion(output io.Writer) {
	if commit == "none" && date == "unknown" {
		fprintf(output, "mockenv %s (built from source)\n", version)

		return
	}

	fprintf(output, "mockenv %s (%s, %s)\n", version, commit, date)
}

func fprintln(output io.Writer, a ...any) {
	_, _ = fmt.Fprintln(output, a...)
}

func fprintf(output io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(output, format, a...)
}

// fprintError prints an error message, red when stdin is a terminal.
func fprintError(output io.Writer, err error) {
	prefix := color.New(color.FgRed)
	if IsTerminal() {
		prefix.EnableColor()
	} else {
		prefix.DisableColor()
	}

	fprintln(output, prefix.Sprint("error:"), err)
}

const globalOptionsHelp = `  -h, --help             Show help
  -v, --version          Show version and exit
  -C, --cwd <dir>        Run as if started in <dir>
      --config <file>    Use specified config file`

func printGlobalOptions(output io.Writer) {
	fprintln(output, "Usage: mockenv [flags] <command> [args]")
	fprintln(output)
	fprintln(output, "Global flags:")
	fprintln(output, globalOptionsHelp)
	fprintln(output)
	fprintln(output, "Run 'mockenv --help' for a list of commands.")
}

func printUsage(output io.Writer, commands []*Command) {
	fprintln(output, "mockenv - run shell commands against mocked executables")
	fprintln(output)
	fprintln(output, "Usage: mockenv [flags] <command> [args]")
	fprintln(output, "       mockenv [flags] <shell command>   (same as 'run')")
	fprintln(output)
	fprintln(output, "Flags:")
	fprintln(output, globalOptionsHelp)
	fprintln(output)
	fprintln(output, "Commands:")

	for _, cmd := range commands {
		fprintln(output, cmd.HelpLine())
	}

	fprintln(output)
	fprintln(output, "Config: .mockenv.{json,jsonc,yaml,yml} in the working directory,")
	fprintln(output, "        $XDG_CONFIG_HOME/mockenv/config.* for global defaults.")
	fprintln(output, "Run 'mockenv <command> --help' for more information on a command.")
}

// isTerminal is a function variable that returns true if stdin is a terminal.
// It can be overridden in tests to control TTY behavior.
var isTerminal = func() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}

	return (stat.Mode() & os.ModeCharDevice) != 0
}

// IsTerminal returns true if stdin is a terminal.
func IsTerminal() bool {
	return isTerminal()
}
