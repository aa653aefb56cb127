package infra

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

// systemd-run --on-calendar stamp and the NextElapse timestamp that
// `systemctl show` prints back.
const (
	calendarStamp    = "2006-01-02 15:04:05"
	nextElapseLayout = "Mon 2006-01-02 15:04:05 MST"
)

// SystemdScheduler implements domain.UnlockScheduler. The primary facility
// is a transient systemd timer (systemd-run --on-calendar); when systemd is
// not available it falls back to the classic at(1) queue. Both outlive the
// invoking process and fire with no interactive session, which is the
// load-bearing property: once the hosts file is immutable, the fired job is
// the only path back.
type SystemdScheduler struct {
	runner   domain.CommandRunner
	unit     string // transient unit name, e.g. "deepwork-unblock"
	execPath string // absolute path of the deepwork binary
	logger   *zap.Logger
}

// NewSystemdScheduler creates the unlock scheduler.
func NewSystemdScheduler(runner domain.CommandRunner, unit, execPath string, logger *zap.Logger) *SystemdScheduler {
	return &SystemdScheduler{
		runner:   runner,
		unit:     unit,
		execPath: execPath,
		logger:   logger,
	}
}

// Schedule registers exactly one deferred job firing at the absolute time.
// An absolute calendar time (not a relative timer) prevents drift if the
// machine sleeps during the session.
func (s *SystemdScheduler) Schedule(ctx context.Context, at time.Time) error {
	if _, err := s.runner.LookPath("systemd-run"); err == nil {
		if err := s.scheduleSystemd(ctx, at); err == nil {
			return nil
		} else {
			s.logger.Warn("systemd-run scheduling failed, trying at(1)", zap.Error(err))
		}
	}

	if _, err := s.runner.LookPath("at"); err == nil {
		if err := s.scheduleAt(ctx, at); err == nil {
			return nil
		} else {
			s.logger.Warn("at(1) scheduling failed", zap.Error(err))
		}
	}

	return domain.ErrSchedulingUnavailable
}

func (s *SystemdScheduler) scheduleSystemd(ctx context.Context, at time.Time) error {
	// A leftover unit from a previous session blocks systemd-run with
	// "unit already exists"; clear it first.
	_ = s.Cleanup(ctx)

	err := s.runner.Run(ctx, "systemd-run",
		"--on-calendar", at.Format(calendarStamp),
		"--unit", s.unit,
		"--description", "deepwork scheduled unlock",
		s.execPath, "unlock")
	if err != nil {
		return err
	}

	s.logger.Info("scheduled unlock via systemd timer",
		zap.String("unit", s.unit),
		zap.Time("fire_at", at))
	return nil
}

func (s *SystemdScheduler) scheduleAt(ctx context.Context, at time.Time) error {
	// at(1) has minute resolution; round up so the job never fires early.
	stamp := at.Add(time.Minute - 1).Format("200601021504")

	cmd := s.execPath + " unlock"
	if err := s.runner.RunWithInput(ctx, cmd+"\n", "at", "-t", stamp); err != nil {
		return err
	}

	s.logger.Info("scheduled unlock via at(1)", zap.Time("fire_at", at))
	return nil
}

// Pending reports whether an unlock job is registered and when it fires.
func (s *SystemdScheduler) Pending(ctx context.Context) (time.Time, bool, error) {
	if at, ok := s.pendingSystemd(ctx); ok {
		return at, true, nil
	}
	if ok := s.pendingAt(ctx); ok {
		// atq does not expose the fire time per command; the hosts block
		// session header carries the deadline for display.
		return time.Time{}, true, nil
	}
	return time.Time{}, false, nil
}

func (s *SystemdScheduler) pendingSystemd(ctx context.Context) (time.Time, bool) {
	out, err := s.runner.Output(ctx, "systemctl", "show", s.unit+".timer",
		"--property=ActiveState,NextElapseUSecRealtime")
	if err != nil {
		return time.Time{}, false
	}

	var active bool
	var next time.Time
	for _, line := range strings.Split(out, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "ActiveState":
			active = val == "active" || val == "activating"
		case "NextElapseUSecRealtime":
			if t, err := time.Parse(nextElapseLayout, val); err == nil {
				next = t
			}
		}
	}
	return next, active
}

func (s *SystemdScheduler) pendingAt(ctx context.Context) bool {
	out, err := s.runner.Output(ctx, "atq")
	if err != nil {
		return false
	}

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		// atq: "5   Sat Aug 23 13:45:00 2026 a root"
		job := fields[0]
		body, err := s.runner.Output(ctx, "at", "-c", job)
		if err != nil {
			continue
		}
		if strings.Contains(body, s.execPath+" unlock") {
			return true
		}
	}
	return false
}

// Cleanup stops and forgets leftover transient units. Best-effort: a manual
// unlock must not fail because a timer is still loaded.
func (s *SystemdScheduler) Cleanup(ctx context.Context) error {
	if _, err := s.runner.LookPath("systemctl"); err != nil {
		return nil
	}
	for _, unit := range []string{s.unit + ".timer", s.unit + ".service"} {
		_ = s.runner.Run(ctx, "systemctl", "stop", unit)
		_ = s.runner.Run(ctx, "systemctl", "reset-failed", unit)
	}
	return nil
}

// Ensure SystemdScheduler implements domain.UnlockScheduler.
var _ domain.UnlockScheduler = (*SystemdScheduler)(nil)
