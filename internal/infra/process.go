package infra

import (
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// FindByCmdline returns PIDs whose command line contains the pattern.
// Used to locate the detached block-page server when systemd did not
// start it (and so systemctl cannot stop it).
func (pm *ProcessManagerImpl) FindByCmdline(pattern string) ([]int, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	var found []int
	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil {
			continue // Process may have exited
		}
		if strings.Contains(cmdline, pattern) {
			found = append(found, int(p.Pid))
		}
	}
	return found, nil
}

// Kill terminates a process by PID.
func (pm *ProcessManagerImpl) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes existence without delivering anything.
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}

// Ensure ProcessManagerImpl implements domain.ProcessManager.
var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
