// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

// resolveTimeout bounds each firewall-layer DNS lookup.
const resolveTimeout = 5 * time.Second

// Blocker orchestrates the layered block session. All OS touchpoints are
// injected interfaces so the sequencing logic is testable against fakes.
//
// Setup order is the load-bearing part: the unlock job is registered and
// verified BEFORE the immutable flag is set, so the system can never hold
// "immutable" without a guaranteed way back.
type Blocker struct {
	hosts      domain.HostsEditor
	attr       domain.AttrManager
	scheduler  domain.UnlockScheduler
	firewall   domain.Firewall
	resolver   domain.Resolver
	dns        domain.DNSCache
	pageServer domain.PageServerController
	clock      domain.Clock
	logger     *zap.Logger

	hostsPath        string
	firewallEnabled  bool
	blockPageEnabled bool
}

// Deps bundles the Blocker collaborators.
type Deps struct {
	Hosts      domain.HostsEditor
	Attr       domain.AttrManager
	Scheduler  domain.UnlockScheduler
	Firewall   domain.Firewall
	Resolver   domain.Resolver
	DNS        domain.DNSCache
	PageServer domain.PageServerController
	Clock      domain.Clock
	Logger     *zap.Logger

	HostsPath        string
	FirewallEnabled  bool
	BlockPageEnabled bool
}

// NewBlocker creates the session orchestrator.
func NewBlocker(d Deps) *Blocker {
	return &Blocker{
		hosts:            d.Hosts,
		attr:             d.Attr,
		scheduler:        d.Scheduler,
		firewall:         d.Firewall,
		resolver:         d.Resolver,
		dns:              d.DNS,
		pageServer:       d.PageServer,
		clock:            d.Clock,
		logger:           d.Logger,
		hostsPath:        d.HostsPath,
		firewallEnabled:  d.FirewallEnabled,
		blockPageEnabled: d.BlockPageEnabled,
	}
}

// Start activates the block for the given duration. It refuses to run while
// any block evidence exists and mutates nothing in that case.
func (b *Blocker) Start(ctx context.Context, set domain.DomainSet, d time.Duration) (*domain.SetupResult, error) {
	if set.Len() == 0 {
		return nil, domain.ErrEmptyDomainList
	}

	active, err := b.hosts.Active()
	if err != nil {
		return nil, err
	}
	if active {
		return nil, domain.ErrAlreadyBlocked
	}
	if immutable, _ := b.attr.IsImmutable(ctx, b.hostsPath); immutable {
		// Immutable without markers: a previous session left the flag
		// behind. Reported distinctly; unlock is the repair path.
		return nil, fmt.Errorf("%w: run unlock first", domain.ErrHostsImmutable)
	}

	session := domain.Session{
		ID:       uuid.NewString(),
		Deadline: b.clock.Now().Add(d),
	}
	result := &domain.SetupResult{
		Session:      session,
		Domains:      set.Len(),
		FailedLayers: make(map[domain.Layer]error),
	}

	b.logger.Info("activating block",
		zap.String("session", session.ID),
		zap.Int("domains", set.Len()),
		zap.Time("unlock_at", session.Deadline))

	// Layer 1: hosts redirect. The only step whose failure aborts setup
	// outright, since every other layer builds on it.
	if err := b.hosts.Apply(set, session); err != nil {
		return nil, err
	}
	result.ActiveLayers = append(result.ActiveLayers, domain.LayerHosts)

	// Layer 2 (optional): firewall REJECT rules for resolved IPs.
	if b.firewallEnabled {
		if err := b.applyFirewall(ctx, set); err != nil {
			result.FailedLayers[domain.LayerFirewall] = err
		} else {
			result.ActiveLayers = append(result.ActiveLayers, domain.LayerFirewall)
		}
	}

	// Layer 3: DNS cache flush, best-effort.
	_ = b.dns.Flush(ctx)

	// Layer 4: scheduled unlock. Registered and verified before the
	// immutable flag: if this fails the flag is never set, because the
	// fired job is the only unattended path back.
	if err := b.scheduleVerified(ctx, session.Deadline); err != nil {
		result.FailedLayers[domain.LayerScheduler] = err
		b.logger.Error("unlock scheduling failed, immutable flag will NOT be set",
			zap.Error(err))
		b.startPageServer(ctx, result, true)
		return result, err
	}
	result.ActiveLayers = append(result.ActiveLayers, domain.LayerScheduler)

	// Layer 5: immutable flag, only now that the way back is guaranteed.
	// Failure here is degraded mode, not fatal: the remaining layers still
	// provide friction, and the page server guards the hosts file instead.
	degraded := false
	if err := b.attr.SetImmutable(ctx, b.hostsPath); err != nil {
		result.FailedLayers[domain.LayerImmutable] = err
		degraded = true
		b.logger.Warn("could not set immutable flag, running degraded", zap.Error(err))
	} else {
		result.ActiveLayers = append(result.ActiveLayers, domain.LayerImmutable)
	}

	b.startPageServer(ctx, result, degraded)

	b.logger.Info("block active",
		zap.String("session", session.ID),
		zap.Time("unlock_at", session.Deadline),
		zap.Bool("partial", result.Partial()))
	return result, nil
}

func (b *Blocker) startPageServer(ctx context.Context, result *domain.SetupResult, guardHosts bool) {
	if !b.blockPageEnabled {
		return
	}
	if err := b.pageServer.Start(ctx, guardHosts); err != nil {
		result.FailedLayers[domain.LayerBlockPage] = err
		b.logger.Warn("block page server not started", zap.Error(err))
		return
	}
	result.ActiveLayers = append(result.ActiveLayers, domain.LayerBlockPage)
}

func (b *Blocker) applyFirewall(ctx context.Context, set domain.DomainSet) error {
	var ips []string
	for _, d := range set.Sorted() {
		lookupCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
		addrs, err := b.resolver.LookupIPv4(lookupCtx, d)
		cancel()
		if err != nil {
			b.logger.Warn("could not resolve domain", zap.String("domain", d), zap.Error(err))
			continue
		}
		ips = append(ips, addrs...)
	}
	if len(ips) == 0 {
		return fmt.Errorf("no domains resolved, firewall layer skipped")
	}

	added, err := b.firewall.AddRules(ctx, ips)
	if err != nil {
		return err
	}
	if added == 0 {
		return fmt.Errorf("no firewall rules added")
	}
	return nil
}

// scheduleVerified registers the unlock job and confirms it is pending.
func (b *Blocker) scheduleVerified(ctx context.Context, at time.Time) error {
	if err := b.scheduler.Schedule(ctx, at); err != nil {
		return err
	}

	_, pending, err := b.scheduler.Pending(ctx)
	if err != nil {
		return fmt.Errorf("cannot verify unlock job: %w", err)
	}
	if !pending {
		return fmt.Errorf("%w: job not pending after scheduling", domain.ErrSchedulingUnavailable)
	}
	return nil
}

// Unlock fully restores the pre-block state. Idempotent: every step
// tolerates "nothing to do", so a duplicated scheduler firing or a manual
// call after the fact both succeed.
func (b *Blocker) Unlock(ctx context.Context) error {
	// Step 1: clear the immutable flag. The only truly fatal failure mode;
	// everything after needs write access.
	if err := b.attr.ClearImmutable(ctx, b.hostsPath); err != nil {
		if immutable, _ := b.attr.IsImmutable(ctx, b.hostsPath); immutable {
			return &domain.UnlockError{Step: "clear-immutable", Err: err}
		}
		// Flag is not set anyway (e.g. chattr missing on this fs); the
		// remaining steps can proceed.
		b.logger.Warn("clear immutable failed but flag is not set", zap.Error(err))
	}

	// Step 2: strip the managed hosts block.
	if err := b.hosts.Remove(); err != nil {
		return &domain.UnlockError{Step: "remove-hosts", Err: err}
	}

	// Step 3: firewall rules. Always attempted, even with the layer
	// disabled, so stale rules from an earlier enabled session are cleaned.
	if _, err := b.firewall.RemoveRules(ctx); err != nil {
		b.logger.Warn("failed to remove firewall rules", zap.Error(err))
	}

	// Step 4: stop the block page server.
	if err := b.pageServer.Stop(ctx); err != nil {
		b.logger.Warn("failed to stop block page server", zap.Error(err))
	}

	_ = b.dns.Flush(ctx)

	// Leftover transient units would make the next status misleading.
	_ = b.scheduler.Cleanup(ctx)

	b.logger.Info("block removed, state is UNBLOCKED")
	return nil
}

// Status derives the session state by re-inspecting the system. There is no
// state file to desynchronize from reality.
func (b *Blocker) Status(ctx context.Context) (*domain.Status, error) {
	active, err := b.hosts.Active()
	if err != nil {
		return nil, err
	}

	st := &domain.Status{}
	st.Immutable, _ = b.attr.IsImmutable(ctx, b.hostsPath)
	st.UnlockAt, st.HasUnlockJob, _ = b.scheduler.Pending(ctx)
	st.PageServerUp = b.pageServer.Running(ctx)

	if active {
		if session, err := b.hosts.Session(); err == nil {
			st.Session = session
			if st.UnlockAt.IsZero() && session != nil {
				st.UnlockAt = session.Deadline
			}
		}
	}

	switch {
	case !active && !st.Immutable:
		st.State = domain.StateUnblocked
	case st.Immutable && !st.HasUnlockJob:
		// The invariant "immutable implies pending job" does not hold:
		// the firing was lost. Loud report; unlock repairs it.
		st.State = domain.StateUnlockOverdue
	case st.HasUnlockJob:
		st.State = domain.StateUnlockPending
	default:
		st.State = domain.StateBlocked
	}
	return st, nil
}

// IsConfigError reports whether err is a pre-mutation configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, domain.ErrEmptyDomainList) || errors.Is(err, domain.ErrInvalidDuration)
}
