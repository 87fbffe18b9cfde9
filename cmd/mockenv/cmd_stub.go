package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mockenv/mockenv"
)

var (
	// ErrStubNameRequired is returned when stub is called without exactly one name.
	ErrStubNameRequired = errors.New("expected exactly one command name")
	// ErrSelfBinaryNotFound is returned when the running binary cannot be located.
	ErrSelfBinaryNotFound = errors.New("cannot determine mockenv binary path")
)

// StubCmd creates the stub command that prints the stub script for a command.
func StubCmd() *Command {
	flags := flag.NewFlagSet("stub", flag.ContinueOnError)
	flags.BoolP("help", "h", false, "Show help")
	flags.Int("port", mockenv.DefaultPort, "Controller `port` on 127.0.0.1 the stub calls")
	flags.String("launcher", "", "Binary the stub execs (default: this mockenv binary)")

	return &Command{
		Flags:   flags,
		Usage:   "stub [flags] <name>",
		Short:   "Print stub script for a command",
		Long:    "Print the shell script installed for a mocked command.\nThe stub forwards its arguments to the controller and reproduces the answer.",
		Aliases: []string{},
		Exec: func(_ context.Context, _ io.Reader, stdout, _ io.Writer, args []string) error {
			if len(args) != 1 {
				return ErrStubNameRequired
			}

			name := args[0]

			err := mockenv.ValidateCommandName(name)
			if err != nil {
				return err
			}

			port, _ := flags.GetInt("port")
			if port < 1 || port > 65535 {
				return fmt.Errorf("--port: %d out of range 1..65535", port)
			}

			launcher, _ := flags.GetString("launcher")
			if launcher == "" {
				launcher, err = getSelfBinaryPath()
				if err != nil {
					return err
				}
			} else if !filepath.IsAbs(launcher) {
				return fmt.Errorf("--launcher: %q is not absolute", launcher)
			}

			addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

			fprintf(stdout, "%s", mockenv.StubScript(name, addr, launcher))

			return nil
		},
	}
}

// getSelfBinaryPath returns the absolute path of the running binary with
// symlinks resolved.
func getSelfBinaryPath() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSelfBinaryNotFound, err)
	}

	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return "", fmt.Errorf("%w: cannot resolve symlinks: %w", ErrSelfBinaryNotFound, err)
	}

	return self, nil
}
