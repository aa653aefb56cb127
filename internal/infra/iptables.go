package infra

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

// IptablesFirewall implements domain.Firewall with REJECT rules on the
// OUTPUT chain. Every rule carries the tool comment so removal only ever
// touches tool-owned rules. Disabled by default in config: blocking resolved
// IPs over-blocks shared CDN addresses.
type IptablesFirewall struct {
	runner  domain.CommandRunner
	comment string
	logger  *zap.Logger
}

// NewIptablesFirewall creates the firewall layer.
func NewIptablesFirewall(runner domain.CommandRunner, comment string, logger *zap.Logger) *IptablesFirewall {
	return &IptablesFirewall{
		runner:  runner,
		comment: comment,
		logger:  logger,
	}
}

// AddRules appends a tagged REJECT rule per IP. Per-IP failures are logged
// and skipped; the layer is additive friction, not a guarantee.
func (f *IptablesFirewall) AddRules(ctx context.Context, ips []string) (int, error) {
	if _, err := f.runner.LookPath("iptables"); err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(ips))
	added := 0
	for _, ip := range ips {
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}

		err := f.runner.Run(ctx, "iptables", "-A", "OUTPUT",
			"-d", ip,
			"-j", "REJECT",
			"-m", "comment", "--comment", f.comment)
		if err != nil {
			f.logger.Warn("failed to add iptables rule",
				zap.String("ip", ip),
				zap.Error(err))
			continue
		}
		added++
	}

	if added > 0 {
		f.logger.Info("added iptables rules", zap.Int("count", added))
	}
	return added, nil
}

// RemoveRules deletes every OUTPUT rule carrying the tool comment. Deletion
// runs in reverse line order so earlier deletions do not shift the numbers
// of later ones.
func (f *IptablesFirewall) RemoveRules(ctx context.Context) (int, error) {
	if _, err := f.runner.LookPath("iptables"); err != nil {
		return 0, nil
	}

	out, err := f.runner.Output(ctx, "iptables", "-L", "OUTPUT", "-n", "--line-numbers", "-v")
	if err != nil {
		return 0, err
	}

	var lineNums []int
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, f.comment) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		lineNums = append(lineNums, n)
	}

	sort.Sort(sort.Reverse(sort.IntSlice(lineNums)))

	removed := 0
	for _, n := range lineNums {
		if err := f.runner.Run(ctx, "iptables", "-D", "OUTPUT", strconv.Itoa(n)); err != nil {
			f.logger.Warn("failed to delete iptables rule",
				zap.Int("line", n),
				zap.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		f.logger.Info("removed iptables rules", zap.Int("count", removed))
	}
	return removed, nil
}

// Ensure IptablesFirewall implements domain.Firewall.
var _ domain.Firewall = (*IptablesFirewall)(nil)
