package domain

import (
	"context"
	"time"
)

// CommandRunner executes external OS utilities. Every shell-out in the infra
// layer goes through this so the sequencing logic tests against a fake.
type CommandRunner interface {
	// Run executes the command and discards output. The returned error
	// includes stderr when the command exits non-zero.
	Run(ctx context.Context, name string, args ...string) error

	// Output executes the command and returns its stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)

	// RunWithInput executes the command feeding input on stdin.
	RunWithInput(ctx context.Context, input string, name string, args ...string) error

	// LookPath reports where the named binary lives, or an error if it is
	// not installed.
	LookPath(name string) (string, error)
}

// Clock abstracts time retrieval so deadline logic is deterministic in tests.
type Clock interface {
	Now() time.Time
}

// HostsEditor manages the tool-owned block inside the system hosts file.
// All writes are atomic (temp file + rename) and only ever touch lines
// between the marker pair.
type HostsEditor interface {
	// Apply rewrites the managed block for the given set, replacing any
	// previous managed block and preserving all other content. Idempotent.
	Apply(set DomainSet, session Session) error

	// Remove strips the managed block, preserving all other content.
	// A file without a managed block is left byte-identical.
	Remove() error

	// Active reports whether a managed block is present.
	Active() (bool, error)

	// Session parses the session header from the managed block, if any.
	Session() (*Session, error)
}

// AttrManager toggles the filesystem immutable attribute (chattr +i/-i).
type AttrManager interface {
	SetImmutable(ctx context.Context, path string) error
	ClearImmutable(ctx context.Context, path string) error

	// IsImmutable probes the attribute. Used both for status and to
	// distinguish ErrHostsImmutable from a plain permission failure.
	IsImmutable(ctx context.Context, path string) (bool, error)
}

// UnlockScheduler registers the one-shot deferred unlock with an OS facility
// that outlives this process (systemd-run, falling back to at). Delivery is
// at-least-once, so the unlock it fires must be idempotent.
type UnlockScheduler interface {
	// Schedule registers exactly one job firing at the absolute time.
	Schedule(ctx context.Context, at time.Time) error

	// Pending reports whether a job is currently registered and when it
	// fires. The fire time may be zero if the facility cannot report it.
	Pending(ctx context.Context) (time.Time, bool, error)

	// Cleanup removes leftover transient units after a manual unlock.
	// Best-effort; never fatal.
	Cleanup(ctx context.Context) error
}

// Firewall manages the optional IP-level REJECT rules, tagged with the tool
// comment so removal only ever deletes tool-owned rules.
type Firewall interface {
	// AddRules rejects outbound traffic to the given IPs. Returns how many
	// rules were added; per-IP failures are logged, not fatal.
	AddRules(ctx context.Context, ips []string) (int, error)

	// RemoveRules deletes every rule carrying the tool comment.
	RemoveRules(ctx context.Context) (int, error)
}

// Resolver looks up IPv4 addresses for the firewall layer.
type Resolver interface {
	LookupIPv4(ctx context.Context, domain string) ([]string, error)
}

// DNSCache flushes the local resolver cache so hosts entries take effect
// immediately. Always best-effort.
type DNSCache interface {
	Flush(ctx context.Context) error
}

// PageServerController starts and stops the detached block-page server.
type PageServerController interface {
	// Start launches the server detached from the calling process.
	// With guardHosts set (degraded mode: no immutable flag) the server
	// also watches the hosts file and restores the managed block.
	Start(ctx context.Context, guardHosts bool) error

	// Stop terminates a running server. Idempotent.
	Stop(ctx context.Context) error

	// Running reports whether a server instance is up.
	Running(ctx context.Context) bool
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil.
type ProcessManager interface {
	// FindByCmdline returns PIDs whose command line contains the pattern.
	FindByCmdline(pattern string) ([]int, error)

	// Kill terminates a process by PID.
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}
