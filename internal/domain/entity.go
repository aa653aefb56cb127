// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"sort"
	"strings"
	"time"
)

// SessionState is the block state reconstructed from observable system state.
// There is no state file; the hosts file, the immutable flag and the
// scheduler are the single source of truth.
type SessionState string

const (
	// StateUnblocked means no managed hosts block exists.
	StateUnblocked SessionState = "UNBLOCKED"

	// StateBlocked means the managed hosts block exists but no pending
	// unlock job was found and the immutable flag is clear.
	StateBlocked SessionState = "BLOCKED"

	// StateUnlockPending means the managed hosts block exists and a
	// scheduled unlock job is pending.
	StateUnlockPending SessionState = "UNLOCK_PENDING"

	// StateUnlockOverdue means the immutable flag is set but no unlock job
	// exists. The scheduler either never fired or its firing was lost;
	// `deepwork unlock` is the repair path.
	StateUnlockOverdue SessionState = "UNLOCK_OVERDUE"
)

// DomainSet is a set of DNS names to block. Uniqueness is enforced on
// insert; names are lowercased and trimmed.
type DomainSet map[string]struct{}

// NewDomainSet creates an empty set.
func NewDomainSet() DomainSet {
	return make(DomainSet)
}

// Add inserts a normalized domain. Empty strings are ignored.
func (s DomainSet) Add(d string) {
	d = strings.ToLower(strings.TrimSpace(d))
	if d == "" {
		return
	}
	s[d] = struct{}{}
}

// Contains reports whether the normalized domain is in the set.
func (s DomainSet) Contains(d string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(d))]
	return ok
}

// Len returns the number of domains.
func (s DomainSet) Len() int {
	return len(s)
}

// Sorted returns the domains in lexical order, so hosts blocks and firewall
// rules are deterministic across runs.
func (s DomainSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Session identifies one block session. It is embedded as a comment line
// inside the managed hosts block and removed together with it.
type Session struct {
	ID       string
	Deadline time.Time
}

// Layer names a protection layer for status reporting.
type Layer string

const (
	LayerHosts     Layer = "hosts"
	LayerImmutable Layer = "immutable"
	LayerFirewall  Layer = "firewall"
	LayerScheduler Layer = "scheduler"
	LayerBlockPage Layer = "blockpage"
)

// SetupResult captures which layers were activated during Start and which
// failed. A session with failed layers is a partial block, not an error.
type SetupResult struct {
	Session      Session
	Domains      int
	ActiveLayers []Layer
	FailedLayers map[Layer]error
}

// Partial reports whether at least one layer failed while the block as a
// whole is active.
func (r *SetupResult) Partial() bool {
	return len(r.FailedLayers) > 0
}

// Status is the observable state report derived by re-inspecting the system.
type Status struct {
	State        SessionState
	Session      *Session // nil when the hosts block carries no header
	Immutable    bool
	UnlockAt     time.Time // zero when no pending job
	HasUnlockJob bool
	PageServerUp bool
}
