//go:build linux

package mockenv

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// WriteFiles writes each relative path -> content entry into the working
// directory, creating parent directories as needed. Existing files are
// overwritten; unrelated files are left alone.
//
// Paths must be local (see [filepath.IsLocal]); entries that would escape the
// working directory are rejected before anything is written.
func (e *Env) WriteFiles(files map[string]string) error {
	names := make([]string, 0, len(files))

	for name := range files {
		if !filepath.IsLocal(name) {
			return fmt.Errorf("mockenv: file path %q is not local to the workdir", name)
		}

		names = append(names, name)
	}

	// Deterministic order keeps errors reproducible.
	sort.Strings(names)

	for _, name := range names {
		fullPath := filepath.Join(e.workDir, name)

		err := os.MkdirAll(filepath.Dir(fullPath), 0o755)
		if err != nil {
			return fmt.Errorf("mockenv: creating parent of %q: %w", name, err)
		}

		err = os.WriteFile(fullPath, []byte(files[name]), 0o644)
		if err != nil {
			return fmt.Errorf("mockenv: writing %q: %w", name, err)
		}
	}

	return nil
}

// ReadFiles returns every regular file below the working directory, keyed by
// its slash-separated path relative to the working directory. Directories
// contribute nothing by themselves. An empty working directory yields an
// empty, non-nil map.
//
// ReadFiles is the inverse of [Env.WriteFiles].
func (e *Env) ReadFiles() (map[string]string, error) {
	out := make(map[string]string)

	err := filepath.WalkDir(e.workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(e.workDir, path)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		out[filepath.ToSlash(rel)] = string(data)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mockenv: reading workdir: %w", err)
	}

	return out, nil
}
