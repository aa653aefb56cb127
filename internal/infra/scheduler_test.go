package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

const testExecPath = "/usr/local/bin/deepwork"

func newTestScheduler(runner *fakeRunner) *SystemdScheduler {
	return NewSystemdScheduler(runner, "deepwork-unblock", testExecPath, zap.NewNop())
}

// TestSchedule_SystemdRun uses a transient calendar timer when available
func TestSchedule_SystemdRun(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner)
	at := time.Date(2026, 8, 23, 14, 30, 0, 0, time.Local)

	require.NoError(t, s.Schedule(context.Background(), at))

	assert.True(t, runner.called("systemd-run --on-calendar 2026-08-23 14:30:00 --unit deepwork-unblock"))
	// The unit from any previous session is cleared first.
	assert.True(t, runner.called("systemctl stop deepwork-unblock.timer"))
	// The at(1) queue is never touched on the happy path.
	assert.False(t, runner.called("at "))
}

// TestSchedule_FallsBackToAt when systemd-run is absent
func TestSchedule_FallsBackToAt(t *testing.T) {
	runner := newFakeRunner()
	runner.missing["systemd-run"] = true
	s := newTestScheduler(runner)
	at := time.Date(2026, 8, 23, 14, 30, 30, 0, time.Local)

	require.NoError(t, s.Schedule(context.Background(), at))

	// Rounded up to the next whole minute so the job never fires early.
	assert.True(t, runner.called("at -t 202608231431"))
	require.Len(t, runner.inputs, 1)
	assert.Equal(t, testExecPath+" unlock\n", runner.inputs[0])
}

// TestSchedule_FallsBackWhenSystemdRunFails (e.g. no DBus in a container)
func TestSchedule_FallsBackWhenSystemdRunFails(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["systemd-run"] = errors.New("Failed to connect to bus")
	s := newTestScheduler(runner)

	require.NoError(t, s.Schedule(context.Background(), time.Now().Add(time.Hour)))

	assert.True(t, runner.called("systemd-run"))
	assert.True(t, runner.called("at -t"))
}

// TestSchedule_Unavailable when no facility works at all
func TestSchedule_Unavailable(t *testing.T) {
	runner := newFakeRunner()
	runner.missing["systemd-run"] = true
	runner.missing["at"] = true
	s := newTestScheduler(runner)

	err := s.Schedule(context.Background(), time.Now().Add(time.Hour))

	assert.ErrorIs(t, err, domain.ErrSchedulingUnavailable)
}

// TestPending_SystemdTimer parses systemctl show output
func TestPending_SystemdTimer(t *testing.T) {
	runner := newFakeRunner()
	runner.outs["systemctl show deepwork-unblock.timer"] =
		"ActiveState=active\nNextElapseUSecRealtime=Sat 2026-08-23 14:30:00 UTC\n"
	s := newTestScheduler(runner)

	at, pending, err := s.Pending(context.Background())

	require.NoError(t, err)
	assert.True(t, pending)
	assert.Equal(t, 2026, at.Year())
	assert.Equal(t, 14, at.Hour())
	assert.Equal(t, 30, at.Minute())
}

// TestPending_NoTimer with an inactive unit and an empty at queue
func TestPending_NoTimer(t *testing.T) {
	runner := newFakeRunner()
	runner.outs["systemctl show deepwork-unblock.timer"] = "ActiveState=inactive\nNextElapseUSecRealtime=\n"
	s := newTestScheduler(runner)

	_, pending, err := s.Pending(context.Background())

	require.NoError(t, err)
	assert.False(t, pending)
}

// TestPending_AtQueue finds our job by inspecting job bodies
func TestPending_AtQueue(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["systemctl show"] = errors.New("System has not been booted with systemd")
	runner.outs["atq"] = "3\tSat Aug 23 14:31:00 2026 a root\n7\tSun Aug 24 09:00:00 2026 a root\n"
	runner.outs["at -c 3"] = "#!/bin/sh\numask 22\ncd /root || exit 1\n" + testExecPath + " unlock\n"
	runner.outs["at -c 7"] = "#!/bin/sh\n/usr/bin/certbot renew\n"
	s := newTestScheduler(runner)

	_, pending, err := s.Pending(context.Background())

	require.NoError(t, err)
	assert.True(t, pending)
}

// TestPending_AtQueueForeignJobsOnly must not claim someone else's job
func TestPending_AtQueueForeignJobsOnly(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["systemctl show"] = errors.New("no systemd")
	runner.outs["atq"] = "7\tSun Aug 24 09:00:00 2026 a root\n"
	runner.outs["at -c 7"] = "#!/bin/sh\n/usr/bin/certbot renew\n"
	s := newTestScheduler(runner)

	_, pending, err := s.Pending(context.Background())

	require.NoError(t, err)
	assert.False(t, pending)
}

// TestCleanup stops and forgets both transient units
func TestCleanup(t *testing.T) {
	runner := newFakeRunner()
	s := newTestScheduler(runner)

	require.NoError(t, s.Cleanup(context.Background()))

	assert.True(t, runner.called("systemctl stop deepwork-unblock.timer"))
	assert.True(t, runner.called("systemctl reset-failed deepwork-unblock.timer"))
	assert.True(t, runner.called("systemctl stop deepwork-unblock.service"))
	assert.True(t, runner.called("systemctl reset-failed deepwork-unblock.service"))
}

// TestCleanup_NoSystemctl is a silent no-op
func TestCleanup_NoSystemctl(t *testing.T) {
	runner := newFakeRunner()
	runner.missing["systemctl"] = true
	s := newTestScheduler(runner)

	require.NoError(t, s.Cleanup(context.Background()))
	assert.Empty(t, runner.calls)
}
