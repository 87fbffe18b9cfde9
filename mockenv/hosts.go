//go:build linux

package mockenv

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"sync"
	"unicode"
)

const (
	hostsBackupSuffix = ".mockenv-backup"
	hostsMarkerBegin  = "# mockenv begin"
	hostsMarkerEnd    = "# mockenv end"

	defaultMockHostIP = "127.0.0.1"
)

// hostsMu guards hosts files process-wide. The hosts file is a single shared
// system resource; only one Env should mock hosts at a time.
var hostsMu sync.Mutex

// hostsOverride appends entries to a hosts file and restores it from a
// sibling backup file.
type hostsOverride struct {
	path   string
	debugf Debugf
}

func newHostsOverride(path string, debugf Debugf) *hostsOverride {
	return &hostsOverride{path: path, debugf: debugf}
}

func (h *hostsOverride) backupPath() string {
	return h.path + hostsBackupSuffix
}

// MockHost makes hostname resolve to ip through the hosts file. ip defaults
// to 127.0.0.1 when empty.
//
// The first call backs the hosts file up; later calls reuse that backup.
// [Env.Clear] and [Env.Close] restore the original content and delete the
// backup.
func (e *Env) MockHost(hostname, ip string) error {
	if ip == "" {
		ip = defaultMockHostIP
	}

	err := e.hosts.add(hostname, ip)
	if err != nil {
		return fmt.Errorf("mockenv: mocking host %q: %w", hostname, err)
	}

	return nil
}

func (h *hostsOverride) add(hostname, ip string) error {
	if hostname == "" || strings.ContainsFunc(hostname, unicode.IsSpace) || strings.Contains(hostname, "#") {
		return fmt.Errorf("invalid hostname %q", hostname)
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("invalid ip: %w", err)
	}

	hostsMu.Lock()
	defer hostsMu.Unlock()

	original, err := os.ReadFile(h.path)
	if err != nil {
		return fmt.Errorf("reading hosts file: %w", err)
	}

	info, err := os.Stat(h.path)
	if err != nil {
		return fmt.Errorf("stat hosts file: %w", err)
	}

	_, err = os.Stat(h.backupPath())
	if errors.Is(err, os.ErrNotExist) {
		err = os.WriteFile(h.backupPath(), original, info.Mode().Perm())
		if err != nil {
			return fmt.Errorf("backing up hosts file: %w", err)
		}

		h.logf("hosts: backed up %s", h.path)
	} else if err != nil {
		return fmt.Errorf("checking hosts backup: %w", err)
	}

	var b strings.Builder

	if len(original) > 0 && !strings.HasSuffix(string(original), "\n") {
		b.WriteString("\n")
	}

	b.WriteString(hostsMarkerBegin + "\n")
	b.WriteString(addr.String() + " " + hostname + "\n")
	b.WriteString(hostsMarkerEnd + "\n")

	f, err := os.OpenFile(h.path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("opening hosts file: %w", err)
	}

	_, err = f.WriteString(b.String())
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("appending to hosts file: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing hosts file: %w", err)
	}

	h.logf("hosts: %s -> %s", hostname, addr)

	return nil
}

// restore copies the backup over the hosts file and removes the backup. It
// is a no-op when no backup exists.
//
// The content is written in place rather than renamed so the hosts file
// keeps its inode, which matters for bind-mounted /etc/hosts in containers.
func (h *hostsOverride) restore() error {
	hostsMu.Lock()
	defer hostsMu.Unlock()

	original, err := os.ReadFile(h.backupPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("reading hosts backup: %w", err)
	}

	err = os.WriteFile(h.path, original, 0)
	if err != nil {
		return fmt.Errorf("restoring hosts file: %w", err)
	}

	err = os.Remove(h.backupPath())
	if err != nil {
		return fmt.Errorf("removing hosts backup: %w", err)
	}

	h.logf("hosts: restored %s", h.path)

	return nil
}

func (h *hostsOverride) logf(format string, args ...any) {
	if h.debugf != nil {
		h.debugf(format, args...)
	}
}
