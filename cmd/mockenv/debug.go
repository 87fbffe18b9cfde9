package main

import (
	"io"
	"slices"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/mockenv/mockenv"
)

// newLogger creates the logger for a command. Only warnings are shown unless
// debug is set, in which case sandbox setup and every controller call are
// logged too.
func newLogger(output io.Writer, debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    !IsTerminal(),
	})

	logger.SetLevel(logrus.WarnLevel)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	return logger
}

// logConfig logs the effective configuration.
func logConfig(logger *logrus.Logger, cfg *Config) {
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	if len(cfg.LoadedConfigFiles) == 0 {
		logger.Debug("config: no config files found, using defaults")
	}

	for _, path := range cfg.LoadedConfigFiles {
		logger.WithField("path", path).Debug("config: loaded")
	}

	mocks := make([]string, 0, len(cfg.Mocks))
	for name, spec := range cfg.Mocks {
		mocks = append(mocks, name+"="+spec.Outcome.String())
	}

	sort.Strings(mocks)

	logger.WithFields(logrus.Fields{
		"base":    cfg.Base,
		"port":    derefInt(cfg.Port),
		"strict":  cfg.Strict != nil && *cfg.Strict,
		"mocks":   mocks,
		"provide": cfg.Provide,
		"files":   len(cfg.Files),
	}).Debug("config: effective")
}

// logCalls logs every invocation recorded by spies, grouped by command.
func logCalls(logger *logrus.Logger, spies map[string]*mockenv.Spy) {
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	names := make([]string, 0, len(spies))
	for name := range spies {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		calls := spies[name].Calls()
		if len(calls) == 0 {
			logger.WithField("command", name).Debug("calls: never called")

			continue
		}

		for i, call := range calls {
			logger.WithFields(logrus.Fields{
				"command": name,
				"n":       i + 1,
				"args":    call.Args,
			}).Debug("calls: invoked")
		}
	}
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}

	return *p
}
