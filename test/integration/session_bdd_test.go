//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/deepwork/internal/domain"
	"github.com/eliteGoblin/deepwork/internal/hosts"
	"github.com/eliteGoblin/deepwork/internal/sites"
	"github.com/eliteGoblin/deepwork/internal/usecase"
)

// In-memory stand-ins for the root-only OS touchpoints, so the suite runs a
// real hosts file round trip without chattr, systemd or iptables.

type memAttr struct{ immutable bool }

func (a *memAttr) SetImmutable(ctx context.Context, path string) error {
	a.immutable = true
	return nil
}
func (a *memAttr) ClearImmutable(ctx context.Context, path string) error {
	a.immutable = false
	return nil
}
func (a *memAttr) IsImmutable(ctx context.Context, path string) (bool, error) {
	return a.immutable, nil
}

type memScheduler struct {
	pending bool
	fireAt  time.Time
}

func (s *memScheduler) Schedule(ctx context.Context, at time.Time) error {
	s.pending = true
	s.fireAt = at
	return nil
}
func (s *memScheduler) Pending(ctx context.Context) (time.Time, bool, error) {
	return s.fireAt, s.pending, nil
}
func (s *memScheduler) Cleanup(ctx context.Context) error {
	s.pending = false
	s.fireAt = time.Time{}
	return nil
}

type memFirewall struct{}

func (memFirewall) AddRules(ctx context.Context, ips []string) (int, error) { return len(ips), nil }
func (memFirewall) RemoveRules(ctx context.Context) (int, error)            { return 0, nil }

type memDNS struct{}

func (memDNS) Flush(ctx context.Context) error { return nil }

type memPage struct{ running bool }

func (p *memPage) Start(ctx context.Context, guardHosts bool) error {
	p.running = true
	return nil
}
func (p *memPage) Stop(ctx context.Context) error {
	p.running = false
	return nil
}
func (p *memPage) Running(ctx context.Context) bool { return p.running }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

var _ = Describe("Block Session", func() {
	var (
		tmpDir    string
		hostsPath string
		editor    *hosts.Editor
		attr      *memAttr
		scheduler *memScheduler
		blocker   *usecase.Blocker
		ctx       context.Context
	)

	const baseHosts = "127.0.0.1 localhost\n::1 localhost\n"

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "deepwork-integration-*")
		Expect(err).NotTo(HaveOccurred())

		hostsPath = filepath.Join(tmpDir, "hosts")
		err = os.WriteFile(hostsPath, []byte(baseHosts), 0644)
		Expect(err).NotTo(HaveOccurred())

		editor = hosts.NewEditor(hostsPath, "127.0.0.1", "::1")
		attr = &memAttr{}
		scheduler = &memScheduler{}
		ctx = context.Background()

		blocker = usecase.NewBlocker(usecase.Deps{
			Hosts:            editor,
			Attr:             attr,
			Scheduler:        scheduler,
			Firewall:         memFirewall{},
			Resolver:         nil,
			DNS:              memDNS{},
			PageServer:       &memPage{},
			Clock:            realClock{},
			Logger:           zap.NewNop(),
			HostsPath:        hostsPath,
			FirewallEnabled:  false,
			BlockPageEnabled: true,
		})
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	buildSet := func(raw ...string) domain.DomainSet {
		set, err := sites.Build(raw)
		Expect(err).NotTo(HaveOccurred())
		return set
	}

	Describe("Start", func() {
		Context("with a fresh hosts file", func() {
			It("should redirect every domain and its www variant", func() {
				result, err := blocker.Start(ctx, buildSet("reddit.com"), 25*time.Minute)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Partial()).To(BeFalse())

				content, err := os.ReadFile(hostsPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(content)).To(ContainSubstring("127.0.0.1 reddit.com"))
				Expect(string(content)).To(ContainSubstring("127.0.0.1 www.reddit.com"))
				Expect(string(content)).To(ContainSubstring("::1 reddit.com"))
			})

			It("should schedule the unlock before setting the immutable flag", func() {
				_, err := blocker.Start(ctx, buildSet("reddit.com"), time.Hour)
				Expect(err).NotTo(HaveOccurred())

				Expect(scheduler.pending).To(BeTrue())
				Expect(attr.immutable).To(BeTrue())
				Expect(scheduler.fireAt).To(BeTemporally("~", time.Now().Add(time.Hour), 5*time.Second))
			})

			It("should report UNLOCK_PENDING", func() {
				_, err := blocker.Start(ctx, buildSet("reddit.com"), time.Hour)
				Expect(err).NotTo(HaveOccurred())

				st, err := blocker.Status(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(st.State).To(Equal(domain.StateUnlockPending))
				Expect(st.Session).NotTo(BeNil())
			})
		})

		Context("when a block is already active", func() {
			It("should refuse and leave the hosts file unchanged", func() {
				_, err := blocker.Start(ctx, buildSet("reddit.com"), time.Hour)
				Expect(err).NotTo(HaveOccurred())

				before, err := os.ReadFile(hostsPath)
				Expect(err).NotTo(HaveOccurred())

				_, err = blocker.Start(ctx, buildSet("twitter.com"), time.Hour)
				Expect(err).To(MatchError(domain.ErrAlreadyBlocked))

				after, err := os.ReadFile(hostsPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(after).To(Equal(before))
			})
		})
	})

	Describe("Unlock", func() {
		Context("after a full session", func() {
			It("should restore the hosts file byte for byte", func() {
				_, err := blocker.Start(ctx, buildSet("reddit.com", "news.ycombinator.com"), time.Hour)
				Expect(err).NotTo(HaveOccurred())

				Expect(blocker.Unlock(ctx)).To(Succeed())

				content, err := os.ReadFile(hostsPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(content)).To(Equal(baseHosts))

				Expect(attr.immutable).To(BeFalse())
				Expect(scheduler.pending).To(BeFalse())
			})

			It("should be idempotent when fired twice", func() {
				_, err := blocker.Start(ctx, buildSet("reddit.com"), time.Hour)
				Expect(err).NotTo(HaveOccurred())

				Expect(blocker.Unlock(ctx)).To(Succeed())
				Expect(blocker.Unlock(ctx)).To(Succeed())

				st, err := blocker.Status(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(st.State).To(Equal(domain.StateUnblocked))
			})

			It("should allow a new session immediately after", func() {
				_, err := blocker.Start(ctx, buildSet("reddit.com"), time.Hour)
				Expect(err).NotTo(HaveOccurred())
				Expect(blocker.Unlock(ctx)).To(Succeed())

				_, err = blocker.Start(ctx, buildSet("twitter.com"), 25*time.Minute)
				Expect(err).NotTo(HaveOccurred())

				content, err := os.ReadFile(hostsPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(content)).To(ContainSubstring("twitter.com"))
				Expect(string(content)).NotTo(ContainSubstring("reddit.com"))
			})
		})
	})

	Describe("Status", func() {
		Context("when the unlock job is lost while the flag is set", func() {
			It("should report UNLOCK_OVERDUE with the session deadline", func() {
				_, err := blocker.Start(ctx, buildSet("reddit.com"), 25*time.Minute)
				Expect(err).NotTo(HaveOccurred())

				// Simulate a lost firing.
				scheduler.pending = false
				scheduler.fireAt = time.Time{}

				st, err := blocker.Status(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(st.State).To(Equal(domain.StateUnlockOverdue))
				Expect(st.UnlockAt).NotTo(BeZero())
			})
		})
	})
})
