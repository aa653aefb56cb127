// Package main is the CLI entry point for deepwork.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/deepwork/internal/blockpage"
	"github.com/eliteGoblin/deepwork/internal/config"
	"github.com/eliteGoblin/deepwork/internal/domain"
	"github.com/eliteGoblin/deepwork/internal/duration"
	"github.com/eliteGoblin/deepwork/internal/hosts"
	"github.com/eliteGoblin/deepwork/internal/infra"
	"github.com/eliteGoblin/deepwork/internal/sites"
	"github.com/eliteGoblin/deepwork/internal/tui"
	"github.com/eliteGoblin/deepwork/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// Exit codes per the CLI contract.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitAlreadyBlocked = 2
	exitPermission     = 3
	exitPartialFailure = 4
)

// partialFailureError marks a session that is active with one or more
// layers down.
type partialFailureError struct {
	failed map[domain.Layer]error
}

func (e *partialFailureError) Error() string {
	return fmt.Sprintf("block active with %d failed layer(s)", len(e.failed))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var partial *partialFailureError
	switch {
	case errors.As(err, &partial):
		return exitPartialFailure
	case errors.Is(err, domain.ErrAlreadyBlocked),
		errors.Is(err, domain.ErrHostsImmutable):
		return exitAlreadyBlocked
	case os.IsPermission(err), errors.Is(err, syscall.EACCES), errors.Is(err, errNotRoot):
		return exitPermission
	default:
		return exitConfigError
	}
}

var errNotRoot = errors.New("must run as root (use sudo)")

var (
	cfgPath     string
	timeFlag    string
	fileFlag    string
	noBlockPage bool
	guardHosts  bool
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "deepwork",
	Short: "Layered distraction blocker - blocks sites until the timer expires",
	Long: `deepwork blocks a list of distracting domains for a fixed duration using
four stacked mechanisms: hosts-file redirection, the filesystem immutable
flag, optional firewall rules, and a scheduled unlock.

Once started, the block cannot be undone until the timer expires.
The only escape is rebooting into recovery mode. That's the point.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runMenu,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a block session",
	Long: `Starts a block session: writes loopback entries for every configured
domain into the hosts file, schedules the automatic unlock, locks the hosts
file with the immutable flag, and serves a block page on localhost.

Fails with "already blocked" if a session is active.`,
	RunE: runStart,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Remove all blocking layers (called automatically by the scheduler)",
	Long: `Restores the pre-block state: clears the immutable flag, strips the
managed hosts entries, removes tagged firewall rules and stops the block
page server. Safe to call at any time; doing nothing is success.`,
	RunE: runUnlock,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current block state",
	Long:  `Derives the state by inspecting the hosts file, the immutable flag and the scheduler. There is no state file.`,
	RunE:  runStatus,
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List the effective blocked domain set",
	RunE:  runSites,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

// Hidden blockpage command - the detached server self-execs into this.
var blockpageCmd = &cobra.Command{
	Use:    "blockpage",
	Hidden: true,
	RunE:   runBlockPage,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "/etc/deepwork/config.toml", "Config file path")
	startCmd.Flags().StringVarP(&timeFlag, "time", "t", "25m", "Block duration: 30s, 25m, 1h30m, 1d")
	startCmd.Flags().StringVarP(&fileFlag, "file", "f", "", "Domains file (overrides config)")
	startCmd.Flags().BoolVar(&noBlockPage, "no-block-page", false, "Disable the localhost block page")
	blockpageCmd.Flags().BoolVar(&guardHosts, "guard-hosts", false, "Restore hosts entries if stripped (degraded mode)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sitesCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(blockpageCmd)
}

// buildBlocker wires the orchestrator against the real OS.
func buildBlocker(cfg *config.Config, logger *zap.Logger) (*usecase.Blocker, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	runner := infra.NewExecRunner()
	pm := infra.NewProcessManager()

	var pageArgs []string
	if cfgPath != "" {
		pageArgs = append(pageArgs, "--config", cfgPath)
	}

	deps := usecase.Deps{
		Hosts:            hosts.NewEditor(cfg.HostsPath, cfg.LoopbackV4, cfg.LoopbackV6),
		Attr:             infra.NewChattrManager(runner),
		Scheduler:        infra.NewSystemdScheduler(runner, cfg.Scheduler.UnlockUnit, execPath, logger),
		Firewall:         infra.NewIptablesFirewall(runner, cfg.Firewall.Comment, logger),
		Resolver:         infra.NewNetResolver(),
		DNS:              infra.NewResolvedCache(runner, logger),
		PageServer:       blockpage.NewController(runner, pm, cfg.Scheduler.BlockPageUnit, execPath, pageArgs, logger),
		Clock:            infra.RealClock{},
		Logger:           logger,
		HostsPath:        cfg.HostsPath,
		FirewallEnabled:  cfg.Firewall.Enabled,
		BlockPageEnabled: cfg.BlockPage.Enabled && !noBlockPage,
	}
	return usecase.NewBlocker(deps), nil
}

func loadDomainSet(cfg *config.Config) (domain.DomainSet, error) {
	path := cfg.SitesFile
	if fileFlag != "" {
		path = fileFlag
	}
	raw, err := sites.Load(path)
	if err != nil {
		return nil, err
	}
	return sites.Build(raw)
}

func runStart(cmd *cobra.Command, args []string) error {
	if os.Geteuid() != 0 {
		return errNotRoot
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	d, err := duration.Parse(timeFlag)
	if err != nil {
		return err
	}

	set, err := loadDomainSet(cfg)
	if err != nil {
		return err
	}

	logger := consoleLogger()
	defer func() { _ = logger.Sync() }()

	blocker, err := buildBlocker(cfg, logger)
	if err != nil {
		return err
	}

	result, err := blocker.Start(cmd.Context(), set, d)
	if err != nil && result == nil {
		if errors.Is(err, domain.ErrAlreadyBlocked) {
			fmt.Println("A block session is already active. Run 'deepwork status'.")
		}
		return err
	}

	fmt.Println("\n=== Block Active ===")
	fmt.Printf("Domains: %d\n", result.Domains)
	fmt.Printf("Unlock at: %s\n", result.Session.Deadline.Format("2006-01-02 15:04:05"))
	fmt.Println("Active layers:")
	for _, l := range result.ActiveLayers {
		fmt.Printf("  - %s\n", l)
	}
	if result.Partial() {
		fmt.Println("Failed layers:")
		for l, ferr := range result.FailedLayers {
			fmt.Printf("  - %s: %v\n", l, ferr)
		}
		fmt.Println("\nThe block is partially effective.")
		return &partialFailureError{failed: result.FailedLayers}
	}

	fmt.Println("\nNo escape until the timer expires. Get back to work.")
	return nil
}

func runUnlock(cmd *cobra.Command, args []string) error {
	if os.Geteuid() != 0 {
		return errNotRoot
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger := consoleLogger()
	defer func() { _ = logger.Sync() }()

	blocker, err := buildBlocker(cfg, logger)
	if err != nil {
		return err
	}

	if err := blocker.Unlock(cmd.Context()); err != nil {
		// This is the one path that must never fail silently.
		logger.Error("unlock failed", zap.Error(err))
		return err
	}

	fmt.Println("Block removed. State: UNBLOCKED")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	blocker, err := buildBlocker(cfg, logger)
	if err != nil {
		return err
	}

	st, err := blocker.Status(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("\n=== deepwork Status ===")
	fmt.Printf("State: %s\n", st.State)
	if st.Session != nil {
		fmt.Printf("Session: %s\n", st.Session.ID)
	}
	if !st.UnlockAt.IsZero() {
		fmt.Printf("Unlock at: %s\n", st.UnlockAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Hosts file immutable: %v\n", st.Immutable)
	fmt.Printf("Unlock job pending: %v\n", st.HasUnlockJob)
	fmt.Printf("Block page server: %v\n", st.PageServerUp)

	if st.State == domain.StateUnlockOverdue {
		fmt.Println("\nWARNING: the scheduled unlock was lost.")
		fmt.Println("Run 'sudo deepwork unlock' to repair.")
	}
	fmt.Println("=======================")
	return nil
}

func runSites(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	set, err := loadDomainSet(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Blocking %d domains:\n", set.Len())
	for _, d := range set.Sorted() {
		fmt.Printf("  %s\n", d)
	}
	return nil
}

func runMenu(cmd *cobra.Command, args []string) error {
	if os.Geteuid() != 0 {
		fmt.Fprintln(os.Stderr, "Please run with sudo: sudo deepwork")
		return errNotRoot
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger := fileLogger(cfg.LogPath)
	defer func() { _ = logger.Sync() }()

	blocker, err := buildBlocker(cfg, logger)
	if err != nil {
		return err
	}

	hooks := tui.Hooks{
		Status: func() (*domain.Status, error) {
			return blocker.Status(cmd.Context())
		},
		Start: func(d time.Duration) error {
			set, err := loadDomainSet(cfg)
			if err != nil {
				return err
			}
			_, err = blocker.Start(cmd.Context(), set, d)
			return err
		},
		SitesFile: cfg.SitesFile,
	}
	return tui.Run(hooks)
}

func runBlockPage(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger := fileLogger(cfg.LogPath)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := blockpage.NewServer(blockpage.Config{
		Addr:      cfg.LoopbackV4,
		HTTPPort:  cfg.BlockPage.HTTPPort,
		HTTPSPort: cfg.BlockPage.HTTPSPort,
		PagePath:  cfg.BlockPage.PagePath,
		CertDir:   cfg.BlockPage.CertDir,
	}, logger)

	if guardHosts {
		editor := hosts.NewEditor(cfg.HostsPath, cfg.LoopbackV4, cfg.LoopbackV6)
		deadline := time.Now().Add(24 * time.Hour)
		if session, err := editor.Session(); err == nil && session != nil {
			deadline = session.Deadline
		}
		guard := blockpage.NewHostsGuard(editor, deadline, logger)
		go func() {
			if err := guard.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("hosts guard stopped", zap.Error(err))
			}
		}()
	}

	err = server.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("deepwork %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

// consoleLogger logs human-readable output to stderr for interactive runs.
func consoleLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}

// fileLogger logs to the configured file; the detached server and the menu
// have no useful stderr.
func fileLogger(path string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
