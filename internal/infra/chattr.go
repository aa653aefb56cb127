package infra

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

// ChattrManager implements domain.AttrManager by shelling out to chattr and
// lsattr. The immutable attribute blocks writes and deletes for every
// caller, root included, until explicitly cleared.
type ChattrManager struct {
	runner domain.CommandRunner
}

// NewChattrManager creates an attribute manager.
func NewChattrManager(runner domain.CommandRunner) *ChattrManager {
	return &ChattrManager{runner: runner}
}

// SetImmutable marks the file immutable. Fails on filesystems without
// attribute support; the caller treats that as degraded mode, not fatal.
func (m *ChattrManager) SetImmutable(ctx context.Context, path string) error {
	if err := m.runner.Run(ctx, "chattr", "+i", path); err != nil {
		return fmt.Errorf("failed to set immutable flag on %s: %w", path, err)
	}
	return nil
}

// ClearImmutable removes the flag. Clearing an already-mutable file
// succeeds, so unlock stays idempotent.
func (m *ChattrManager) ClearImmutable(ctx context.Context, path string) error {
	if err := m.runner.Run(ctx, "chattr", "-i", path); err != nil {
		return fmt.Errorf("failed to clear immutable flag on %s: %w", path, err)
	}
	return nil
}

// IsImmutable probes the attribute via lsattr. On filesystems without
// attribute support this reports false with no error.
func (m *ChattrManager) IsImmutable(ctx context.Context, path string) (bool, error) {
	out, err := m.runner.Output(ctx, "lsattr", "-d", path)
	if err != nil {
		// lsattr fails on filesystems without attributes; treat as clear.
		return false, nil
	}

	// lsattr output: "----i---------e------- /etc/hosts"
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if filepath.Clean(fields[len(fields)-1]) != filepath.Clean(path) {
			continue
		}
		return strings.ContainsRune(fields[0], 'i'), nil
	}
	return false, nil
}

// Ensure ChattrManager implements domain.AttrManager.
var _ domain.AttrManager = (*ChattrManager)(nil)
