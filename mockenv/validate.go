//go:build linux

package mockenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/sys/unix"
)

// ErrNotTmpfs is returned when the base path is not on an in-memory
// filesystem.
var ErrNotTmpfs = errors.New("not on a tmpfs or ramfs mount")

// validateConfigAndEnv validates caller-controlled configuration. The rest of
// the package assumes the invariants checked here.
func validateConfigAndEnv(cfg *Config, env Environment) error {
	errs := make([]error, 0, 4)

	errs = append(errs, ValidateBasePath(cfg.BasePath))
	errs = append(errs, validateEnvironment(env)...)
	errs = append(errs, validateOptions(cfg)...)

	err := errors.Join(errs...)
	if err != nil {
		return err
	}

	// The bin directory must be owned by this Env; never clobber an
	// existing directory.
	binDir := filepath.Join(cfg.BasePath, binDirName)

	_, err = os.Lstat(binDir)
	if err == nil {
		return fmt.Errorf("bin dir %q already exists", binDir)
	}

	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking bin dir %q: %w", binDir, err)
	}

	return nil
}

// ValidateBasePath reports whether path can be used as [Config.BasePath]: it
// must be absolute, free of whitespace, have no element starting with '-',
// exist as a directory, and live on tmpfs or ramfs.
func ValidateBasePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("base path is empty")
	}

	if !filepath.IsAbs(path) {
		return fmt.Errorf("base path %q is not absolute", path)
	}

	if strings.ContainsFunc(path, unicode.IsSpace) {
		return fmt.Errorf("base path %q must not contain whitespace", path)
	}

	for elem := range strings.SplitSeq(filepath.Clean(path), string(filepath.Separator)) {
		if strings.HasPrefix(elem, "-") {
			return fmt.Errorf("base path %q must not contain elements starting with '-'", path)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("base path %q: %w", path, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("base path %q is not a directory", path)
	}

	volatile, err := isVolatileFS(path)
	if err != nil {
		return err
	}

	if !volatile {
		return fmt.Errorf("base path %q: %w", path, ErrNotTmpfs)
	}

	return nil
}

func validateEnvironment(env Environment) []error {
	var errs []error

	if strings.TrimSpace(env.WorkDir) == "" {
		errs = append(errs, errors.New("environment WorkDir is empty"))
	} else if !filepath.IsAbs(env.WorkDir) {
		errs = append(errs, fmt.Errorf("environment WorkDir %q is not absolute", env.WorkDir))
	}

	return errs
}

func validateOptions(cfg *Config) []error {
	var errs []error

	if cfg.Port < 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", cfg.Port))
	}

	switch cfg.Isolation {
	case IsolationPermissive, IsolationStrict:
	default:
		errs = append(errs, fmt.Errorf("unknown isolation %q", cfg.Isolation))
	}

	if !filepath.IsAbs(cfg.Shell) {
		errs = append(errs, fmt.Errorf("shell %q is not absolute", cfg.Shell))
	}

	if !filepath.IsAbs(cfg.HostsFile) {
		errs = append(errs, fmt.Errorf("hosts file %q is not absolute", cfg.HostsFile))
	}

	if !filepath.IsAbs(cfg.Launcher) {
		errs = append(errs, fmt.Errorf("launcher %q is not absolute", cfg.Launcher))
	} else {
		info, err := os.Stat(cfg.Launcher)

		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("launcher: %w", err))
		case info.IsDir() || info.Mode()&0o111 == 0:
			errs = append(errs, fmt.Errorf("launcher %q is not an executable file", cfg.Launcher))
		}
	}

	return errs
}

// isVolatileFS reports whether path is on tmpfs or ramfs.
func isVolatileFS(path string) (bool, error) {
	var st unix.Statfs_t

	err := unix.Statfs(path, &st)
	if err != nil {
		return false, fmt.Errorf("statfs %q: %w", path, err)
	}

	switch int64(st.Type) {
	case unix.TMPFS_MAGIC, unix.RAMFS_MAGIC:
		return true, nil
	default:
		return false, nil
	}
}
