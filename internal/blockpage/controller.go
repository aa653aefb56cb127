package blockpage

import (
	"context"
	"os/exec"
	"syscall"

	"go.uber.org/zap"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

// cmdlineTag is the hidden subcommand the detached server runs under; it is
// how the process is found again for Stop/Running.
const cmdlineTag = "blockpage"

// Controller implements domain.PageServerController. The server runs as a
// transient systemd service so it survives the invoking shell; without
// systemd it is spawned as a detached process in its own session.
type Controller struct {
	runner   domain.CommandRunner
	pm       domain.ProcessManager
	unit     string
	execPath string
	args     []string // extra args for the blockpage subcommand
	logger   *zap.Logger
}

// NewController creates a block-page controller.
func NewController(runner domain.CommandRunner, pm domain.ProcessManager, unit, execPath string, args []string, logger *zap.Logger) *Controller {
	return &Controller{
		runner:   runner,
		pm:       pm,
		unit:     unit,
		execPath: execPath,
		args:     args,
		logger:   logger,
	}
}

// Start launches the server detached. Any existing instance is stopped
// first so re-blocking never stacks servers.
func (c *Controller) Start(ctx context.Context, guardHosts bool) error {
	_ = c.Stop(ctx)

	cmdArgs := append([]string{cmdlineTag}, c.args...)
	if guardHosts {
		cmdArgs = append(cmdArgs, "--guard-hosts")
	}

	if _, err := c.runner.LookPath("systemd-run"); err == nil {
		runArgs := append([]string{
			"--unit", c.unit,
			"--description", "DeepWork block page server",
			c.execPath,
		}, cmdArgs...)
		if err := c.runner.Run(ctx, "systemd-run", runArgs...); err == nil {
			c.logger.Info("block page server started as systemd unit",
				zap.String("unit", c.unit))
			return nil
		}
		c.logger.Warn("systemd-run failed, spawning detached process")
	}

	return c.spawnDetached(cmdArgs)
}

// spawnDetached self-execs the blockpage subcommand in a new session so it
// is not tied to the invoking terminal.
func (c *Controller) spawnDetached(args []string) error {
	cmd := exec.Command(c.execPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}
	// Reap without waiting; the child outlives us.
	go func() { _ = cmd.Wait() }()

	c.logger.Info("block page server started detached", zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Stop terminates the server. Tries systemctl first, then falls back to
// finding the detached process. Idempotent: nothing running is success.
func (c *Controller) Stop(ctx context.Context) error {
	if _, err := c.runner.LookPath("systemctl"); err == nil {
		_ = c.runner.Run(ctx, "systemctl", "stop", c.unit+".service")
		_ = c.runner.Run(ctx, "systemctl", "reset-failed", c.unit+".service")
	}

	pids, err := c.pm.FindByCmdline(c.execPath + " " + cmdlineTag)
	if err != nil {
		return nil
	}
	for _, pid := range pids {
		if err := c.pm.Kill(pid); err != nil {
			c.logger.Warn("failed to kill block page process",
				zap.Int("pid", pid),
				zap.Error(err))
		}
	}
	return nil
}

// Running reports whether a server instance is up.
func (c *Controller) Running(ctx context.Context) bool {
	pids, err := c.pm.FindByCmdline(c.execPath + " " + cmdlineTag)
	return err == nil && len(pids) > 0
}

// Ensure Controller implements domain.PageServerController.
var _ domain.PageServerController = (*Controller)(nil)
