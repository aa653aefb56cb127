package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "/etc/hosts", cfg.HostsPath)
	assert.Equal(t, "127.0.0.1", cfg.LoopbackV4)
	assert.Equal(t, "::1", cfg.LoopbackV6)
	assert.True(t, cfg.BlockPage.Enabled)
	assert.Equal(t, 80, cfg.BlockPage.HTTPPort)
	assert.Equal(t, 443, cfg.BlockPage.HTTPSPort)
	// IP blocking over-blocks shared CDN addresses; off unless asked for.
	assert.False(t, cfg.Firewall.Enabled)
	assert.Equal(t, "deepwork-unblock", cfg.Scheduler.UnlockUnit)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
hosts_path = "/tmp/hosts-test"
sites_file = "/home/me/.distractions"

[blockpage]
http_port = 8080
https_port = 8443

[firewall]
enabled = true
`)

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "/tmp/hosts-test", cfg.HostsPath)
	assert.Equal(t, "/home/me/.distractions", cfg.SitesFile)
	assert.Equal(t, 8080, cfg.BlockPage.HTTPPort)
	assert.Equal(t, 8443, cfg.BlockPage.HTTPSPort)
	assert.True(t, cfg.Firewall.Enabled)
	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.LoopbackV4)
	assert.Equal(t, "deepwork-block", cfg.Firewall.Comment)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeConfig(t, "hosts_path = [broken")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"empty hosts path", `hosts_path = ""`, "hosts_path"},
		{"bad http port", "[blockpage]\nhttp_port = 0", "http_port"},
		{"bad https port", "[blockpage]\nhttps_port = 70000", "https_port"},
		{"empty unlock unit", "[scheduler]\nunlock_unit = \"\"", "unlock_unit"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, c.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}
