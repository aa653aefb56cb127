// Package config loads the TOML configuration with sensible defaults.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration.
type Config struct {
	HostsPath  string `toml:"hosts_path"`
	SitesFile  string `toml:"sites_file"`
	LoopbackV4 string `toml:"loopback_v4"`
	LoopbackV6 string `toml:"loopback_v6"`
	LogPath    string `toml:"log_path"`

	BlockPage BlockPageConfig `toml:"blockpage"`
	Firewall  FirewallConfig  `toml:"firewall"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

// BlockPageConfig configures the loopback block-page server.
type BlockPageConfig struct {
	Enabled   bool   `toml:"enabled"`
	HTTPPort  int    `toml:"http_port"`
	HTTPSPort int    `toml:"https_port"`
	PagePath  string `toml:"page_path"` // optional HTML override
	CertDir   string `toml:"cert_dir"`
}

// FirewallConfig configures the optional IP-level blocking layer.
// Disabled by default: shared CDN IPs make it over-block.
type FirewallConfig struct {
	Enabled bool   `toml:"enabled"`
	Comment string `toml:"comment"`
}

// SchedulerConfig names the transient systemd units owned by this tool.
type SchedulerConfig struct {
	UnlockUnit    string `toml:"unlock_unit"`
	BlockPageUnit string `toml:"blockpage_unit"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HostsPath:  "/etc/hosts",
		SitesFile:  "/etc/deepwork/distractions.txt",
		LoopbackV4: "127.0.0.1",
		LoopbackV6: "::1",
		LogPath:    "/var/tmp/deepwork.log",
		BlockPage: BlockPageConfig{
			Enabled:   true,
			HTTPPort:  80,
			HTTPSPort: 443,
			CertDir:   "/etc/deepwork/certs",
		},
		Firewall: FirewallConfig{
			Enabled: false,
			Comment: "deepwork-block",
		},
		Scheduler: SchedulerConfig{
			UnlockUnit:    "deepwork-unblock",
			BlockPageUnit: "deepwork-blockpage",
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HostsPath == "" {
		return fmt.Errorf("hosts_path must not be empty")
	}
	if c.BlockPage.HTTPPort <= 0 || c.BlockPage.HTTPPort > 65535 {
		return fmt.Errorf("blockpage.http_port out of range: %d", c.BlockPage.HTTPPort)
	}
	if c.BlockPage.HTTPSPort <= 0 || c.BlockPage.HTTPSPort > 65535 {
		return fmt.Errorf("blockpage.https_port out of range: %d", c.BlockPage.HTTPSPort)
	}
	if c.Scheduler.UnlockUnit == "" {
		return fmt.Errorf("scheduler.unlock_unit must not be empty")
	}
	return nil
}
