package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// ErrSilentExit makes a command exit 1 without printing an error.
var ErrSilentExit = errors.New("silent exit")

// ExitCodeError makes a command exit with Code without printing anything.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// Command is a subcommand of mockenv.
type Command struct {
	Flags   *flag.FlagSet
	Usage   string // "run [flags] <command>", first word is the name
	Short   string
	Long    string
	Aliases []string
	Exec    func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error
}

// Name returns the command name taken from Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the one-line summary shown in the global help.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-28s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help of the command.
func (c *Command) PrintHelp(output io.Writer) {
	fprintln(output, "Usage: mockenv "+c.Usage)
	fprintln(output)

	if c.Long != "" {
		fprintln(output, c.Long)
		fprintln(output)
	}

	fprintln(output, "Flags:")
	fprintf(output, "%s", c.Flags.FlagUsages())
}

// Run parses args and executes the command. Returns the exit code.
func (c *Command) Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
	c.Flags.Usage = func() {}
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if err != nil {
		fprintError(stderr, err)
		fprintln(stderr)
		c.PrintHelp(stderr)

		return 1
	}

	if help, _ := c.Flags.GetBool("help"); help {
		c.PrintHelp(stdout)

		return 0
	}

	err = c.Exec(ctx, stdin, stdout, stderr, c.Flags.Args())
	if err == nil {
		return 0
	}

	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if errors.Is(err, ErrSilentExit) {
		return 1
	}

	fprintError(stderr, err)

	return 1
}
