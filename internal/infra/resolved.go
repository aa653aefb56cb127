package infra

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

// ResolvedCache implements domain.DNSCache against systemd-resolved.
// Flushing is a gentle nudge so new hosts entries take effect immediately;
// every step is best-effort.
type ResolvedCache struct {
	runner domain.CommandRunner
	logger *zap.Logger
}

// NewResolvedCache creates the DNS cache flusher.
func NewResolvedCache(runner domain.CommandRunner, logger *zap.Logger) *ResolvedCache {
	return &ResolvedCache{runner: runner, logger: logger}
}

// Flush tries resolvectl first, then restarting systemd-resolved.
func (c *ResolvedCache) Flush(ctx context.Context) error {
	attempts := [][]string{
		{"resolvectl", "flush-caches"},
		{"systemctl", "restart", "systemd-resolved"},
	}

	for _, cmd := range attempts {
		if err := c.runner.Run(ctx, cmd[0], cmd[1:]...); err != nil {
			c.logger.Debug("dns flush attempt failed",
				zap.Strings("cmd", cmd),
				zap.Error(err))
			continue
		}
		c.logger.Info("dns cache flushed")
		return nil
	}
	return nil
}

// NetResolver implements domain.Resolver with the system resolver. Used only
// by the optional firewall layer.
type NetResolver struct {
	resolver *net.Resolver
}

// NewNetResolver creates a resolver.
func NewNetResolver() *NetResolver {
	return &NetResolver{resolver: net.DefaultResolver}
}

// LookupIPv4 returns the IPv4 addresses for the domain.
func (r *NetResolver) LookupIPv4(ctx context.Context, domain string) ([]string, error) {
	addrs, err := r.resolver.LookupIP(ctx, "ip4", domain)
	if err != nil {
		return nil, err
	}

	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.String())
	}
	return ips, nil
}

// Ensure implementations satisfy interfaces.
var _ domain.DNSCache = (*ResolvedCache)(nil)
var _ domain.Resolver = (*NetResolver)(nil)
