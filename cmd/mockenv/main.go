package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/calvinalkan/mockenv/mockenv"
)

// Set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	env := mockenv.EnvironMap(os.Environ())

	// A stub call must die on Ctrl+C like the command it stands in for, so
	// signals are only trapped for the CLI itself.
	var sigCh chan os.Signal

	if _, isStub := env[mockenv.EnvStubName]; !isStub {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	}

	os.Exit(Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env, sigCh))
}
