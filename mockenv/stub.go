//go:build linux

package mockenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrStubExists is returned when a stub would overwrite an existing file in
// the bin directory (a previous mock, a provided command, or anything else).
var ErrStubExists = errors.New("file already present on disk")

// stubPerms makes stubs executable for all users.
const stubPerms = 0o755

// StubScript returns the content of the stub generated for name.
//
// The stub is a plain POSIX shell script. It only sets the two variables the
// launcher needs to find the controller and exec's the launcher with the
// original argv, so quoting done by the calling shell is preserved verbatim.
func StubScript(name, addr, launcher string) string {
	var b strings.Builder

	b.WriteString("#!/bin/sh\n")
	b.WriteString("# mockenv stub for " + name + "\n")
	b.WriteString(EnvStubName + "=" + shellQuote(name) + " ")
	b.WriteString(EnvStubAddr + "=" + shellQuote(addr) + " ")
	b.WriteString("exec " + shellQuote(launcher) + ` "$@"` + "\n")

	return b.String()
}

// writeStub creates binDir if needed and writes the stub for name into it.
func writeStub(binDir, name, addr, launcher string) (string, error) {
	err := ValidateCommandName(name)
	if err != nil {
		return "", err
	}

	err = os.MkdirAll(binDir, 0o755)
	if err != nil {
		return "", fmt.Errorf("creating bin dir %q: %w", binDir, err)
	}

	stubPath := filepath.Join(binDir, name)

	// O_EXCL makes the existence check and the create a single step.
	f, err := os.OpenFile(stubPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, stubPerms)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("mock command %s: %w", stubPath, ErrStubExists)
		}

		return "", fmt.Errorf("creating stub %q: %w", stubPath, err)
	}

	_, err = f.WriteString(StubScript(name, addr, launcher))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(stubPath)

		return "", fmt.Errorf("writing stub %q: %w", stubPath, err)
	}

	err = f.Close()
	if err != nil {
		_ = os.Remove(stubPath)

		return "", fmt.Errorf("closing stub %q: %w", stubPath, err)
	}

	// The umask may have stripped bits from the create mode.
	err = os.Chmod(stubPath, stubPerms)
	if err != nil {
		return "", fmt.Errorf("chmod stub %q: %w", stubPath, err)
	}

	return stubPath, nil
}

// ValidateCommandName reports whether name can be mocked: it must be a single
// file in the bin directory and a single path segment of the controller URL.
func ValidateCommandName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("command name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("invalid command name %q", name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("command name %q must not contain '/' or NUL", name)
	case strings.ContainsAny(name, " \t\r\n"):
		return fmt.Errorf("command name %q must not contain whitespace", name)
	}

	return nil
}

// shellQuote quotes s for POSIX sh using single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, `'`, `'"'"'`) + "'"
}
