package blockpage

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/deepwork/internal/hosts"
)

// HostsGuard restores the managed hosts block if it is stripped before the
// session deadline. It runs only in degraded mode, when the immutable flag
// could not be set and the hosts file is left editable.
type HostsGuard struct {
	editor   *hosts.Editor
	deadline time.Time
	logger   *zap.Logger

	region string // captured managed block, markers included
}

// NewHostsGuard creates a guard for the given editor.
func NewHostsGuard(editor *hosts.Editor, deadline time.Time, logger *zap.Logger) *HostsGuard {
	return &HostsGuard{editor: editor, deadline: deadline, logger: logger}
}

// Run captures the managed block and watches the hosts file until the
// context is canceled or the deadline passes.
func (g *HostsGuard) Run(ctx context.Context) error {
	region, err := g.editor.ManagedRegion()
	if err != nil {
		return err
	}
	if region == "" {
		g.logger.Warn("no managed block to guard")
		return nil
	}
	g.region = region

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: the editor itself replaces the file by rename.
	if err := watcher.Add(filepath.Dir(g.editor.Path())); err != nil {
		return err
	}

	g.logger.Info("guarding hosts file until deadline",
		zap.String("path", g.editor.Path()),
		zap.Time("deadline", g.deadline))

	deadlineTimer := time.NewTimer(time.Until(g.deadline))
	defer deadlineTimer.Stop()

	// Debounce restore checks; editors fire event bursts.
	check := time.NewTicker(2 * time.Second)
	defer check.Stop()
	dirty := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-deadlineTimer.C:
			g.logger.Info("deadline passed, hosts guard stopping")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == filepath.Clean(g.editor.Path()) {
				dirty = true
			}

		case <-check.C:
			if !dirty {
				continue
			}
			dirty = false
			g.restoreIfStripped()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			g.logger.Debug("hosts watcher error", zap.Error(err))
		}
	}
}

func (g *HostsGuard) restoreIfStripped() {
	active, err := g.editor.Active()
	if err != nil {
		g.logger.Warn("cannot inspect hosts file", zap.Error(err))
		return
	}
	if active {
		return
	}

	if err := g.editor.Restore(g.region); err != nil {
		g.logger.Error("failed to restore managed block", zap.Error(err))
		return
	}
	g.logger.Info("managed block was removed early, restored")
}
