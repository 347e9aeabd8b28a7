package reconnect

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"
)

const DefaultHostsPath = "/etc/hosts"

// Hosts maintains the single "ip name" record that resolves the controller's
// server name. Other lines are left as they are.
type Hosts struct {
	path     string
	fileLock *flock.Flock
}

func NewHosts(path string) *Hosts {
	return &Hosts{
		path:     path,
		fileLock: flock.New(path),
	}
}

// Lookup returns the ip recorded for name, or "" when there is none
func (h *Hosts) Lookup(name string) (string, error) {
	if err := h.lock(false); err != nil {
		return "", err
	}
	defer h.fileLock.Unlock()

	data, err := os.ReadFile(h.path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", h.path, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if ip, ok := record(scanner.Text(), name); ok {
			return ip, nil
		}
	}
	return "", scanner.Err()
}

// Update drops the record for oldName and then records ip for newName
func (h *Hosts) Update(ip string, oldName string, newName string) error {
	if err := h.lock(true); err != nil {
		return err
	}
	defer h.fileLock.Unlock()

	data, err := os.ReadFile(h.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", h.path, err)
	}

	var out strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if _, ok := record(line, oldName); ok {
			continue
		}
		if _, ok := record(line, newName); ok {
			continue
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if ip != "" && newName != "" {
		fmt.Fprintf(&out, "%s %s\n", ip, newName)
	}

	// written in place, the hosts file is often a bind mount
	info, err := os.Stat(h.path)
	if err != nil {
		return err
	}
	return os.WriteFile(h.path, []byte(out.String()), info.Mode().Perm())
}

func (h *Hosts) lock(exclusive bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), ProbeTimeout)
	defer cancel()

	var locked bool
	var err error
	if exclusive {
		locked, err = h.fileLock.TryLockContext(ctx, retryDelay/100)
	} else {
		locked, err = h.fileLock.TryRLockContext(ctx, retryDelay/100)
	}

	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", h.path, err)
	} else if !locked {
		return fmt.Errorf("failed to lock %s", h.path)
	}
	return nil
}

// record matches lines of exactly two fields whose name is name
func record(line string, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[1] != name {
		return "", false
	}
	return fields[0], true
}
