//go:build linux

package mockenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrCommandNotFound is returned when a command to provide cannot be found
// in the outer PATH.
var ErrCommandNotFound = errors.New("command not found in PATH")

// ProvideCommand makes a real executable reachable inside the environment by
// symlinking BinDir()/name to target.
//
// If target is empty, name is resolved against the outer PATH (the PATH of
// [Environment.HostEnv]), ignoring the bin directory itself. This is the
// escape hatch for real tools a script needs under [IsolationStrict].
func (e *Env) ProvideCommand(name, target string) error {
	err := ValidateCommandName(name)
	if err != nil {
		return fmt.Errorf("mockenv: providing %q: %w", name, err)
	}

	if target == "" {
		target, err = e.lookOuterPath(name)
		if err != nil {
			return fmt.Errorf("mockenv: providing %q: %w", name, err)
		}
	} else if !filepath.IsAbs(target) {
		return fmt.Errorf("mockenv: providing %q: target %q is not absolute", name, target)
	}

	err = os.MkdirAll(e.binDir, 0o755)
	if err != nil {
		return fmt.Errorf("mockenv: creating bin dir %q: %w", e.binDir, err)
	}

	linkPath := filepath.Join(e.binDir, name)

	err = os.Symlink(target, linkPath)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("mockenv: providing %s: %w", linkPath, ErrStubExists)
		}

		return fmt.Errorf("mockenv: providing %q: %w", name, err)
	}

	e.debugf("env: provided %s -> %s", name, target)

	return nil
}

// lookOuterPath returns the first executable named name on the outer PATH.
func (e *Env) lookOuterPath(name string) (string, error) {
	pathVar := e.env.HostEnv["PATH"]
	if strings.TrimSpace(pathVar) == "" {
		return "", fmt.Errorf("%w: PATH is empty", ErrCommandNotFound)
	}

	dirs := parsePathDirs(pathVar, e.env.WorkDir)

	for _, dir := range dirs {
		if dir == e.binDir {
			continue
		}

		found, err := findExecutable(filepath.Join(dir, name))
		if err != nil {
			return "", err
		}

		if found {
			return filepath.Join(dir, name), nil
		}
	}

	return "", fmt.Errorf("%w: %s (PATH %q)", ErrCommandNotFound, name, pathVar)
}

// parsePathDirs splits PATH into a de-duplicated list of absolute
// directories.
//
// Empty PATH entries (meaning "current directory") are ignored.
func parsePathDirs(pathVar, workDir string) []string {
	parts := strings.Split(pathVar, ":")
	seen := make(map[string]struct{})
	out := make([]string, 0, len(parts))

	for _, dir := range parts {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}

		if !filepath.IsAbs(dir) {
			dir = filepath.Join(workDir, dir)
		}

		dir = filepath.Clean(dir)

		if _, ok := seen[dir]; ok {
			continue
		}

		seen[dir] = struct{}{}
		out = append(out, dir)
	}

	return out
}

// findExecutable reports whether candidate is an executable regular file
// (following symlinks).
func findExecutable(candidate string) (bool, error) {
	info, err := os.Stat(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, fmt.Errorf("stat %q: %w", candidate, err)
	}

	if info.IsDir() {
		return false, nil
	}

	return info.Mode()&0o111 != 0, nil
}

// execPath composes PATH for commands run by Exec.
func (e *Env) execPath() string {
	if e.cfg.Isolation == IsolationStrict {
		return e.binDir
	}

	outer := e.env.HostEnv["PATH"]
	if outer == "" {
		return e.binDir
	}

	return e.binDir + ":" + outer
}
