package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mockenv/mockenv"
)

// ErrBinDirExists is returned when a base directory already holds a bin directory.
var ErrBinDirExists = errors.New("bin directory already exists")

// CheckCmd creates the check command that validates a base directory.
func CheckCmd(cfg *Config, env map[string]string) *Command {
	flags := flag.NewFlagSet("check", flag.ContinueOnError)
	flags.BoolP("help", "h", false, "Show help")
	flags.BoolP("quiet", "q", false, "Quiet mode, no output")

	return &Command{
		Flags:   flags,
		Usage:   "check [flags] [dir]",
		Short:   "Check if dir can be used as base",
		Long:    "Validate that dir can be used as base directory: absolute, on tmpfs or ramfs,\nno whitespace, no path element starting with '-', and no bin/ inside.\nDefaults to the configured base, or the working directory.\nExits 0 if usable, 1 otherwise.",
		Aliases: []string{},
		Exec: func(_ context.Context, _ io.Reader, stdout, stderr io.Writer, args []string) error {
			quiet, _ := flags.GetBool("quiet")

			if len(args) > 1 {
				return fmt.Errorf("unexpected arguments: %v", args[1:])
			}

			dir := cfg.Base
			if dir == "" {
				dir = cfg.EffectiveCwd
			}

			if len(args) == 1 {
				resolved, err := ResolvePath(args[0], homeDirFromEnv(env), cfg.EffectiveCwd)
				if err != nil {
					return err
				}

				dir = resolved
			}

			err := checkBase(dir)
			if err != nil {
				if !quiet {
					fprintError(stderr, err)
				}

				return ErrSilentExit
			}

			if !quiet {
				fprintln(stdout, "ok:", dir)
			}

			return nil
		},
	}
}

func checkBase(dir string) error {
	err := mockenv.ValidateBasePath(dir)
	if err != nil {
		return err
	}

	binDir := filepath.Join(dir, "bin")

	_, err = os.Lstat(binDir)
	if err == nil {
		return fmt.Errorf("%s: %w", binDir, ErrBinDirExists)
	}

	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", binDir, err)
	}

	return nil
}
