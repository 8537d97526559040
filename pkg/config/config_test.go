package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8001", cfg.Server.Address)
	assert.Equal(t, 0.6, cfg.Pipeline.DefaultRiskThreshold)
	assert.Equal(t, []string{
		"anonymize", "ban_substrings", "ban_topics", "code",
		"prompt_injection", "secrets", "toxicity",
	}, cfg.Pipeline.InputScanners)
	assert.Equal(t, []string{"bias", "no_refusal", "relevance", "sensitive"}, cfg.Pipeline.OutputScanners)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Cache.CacheOnlySafe)
	assert.Equal(t, 3600, cfg.Cache.SafeTTLSeconds)
	assert.Equal(t, 0, cfg.Cache.UnsafeTTLSeconds)
	assert.Equal(t, 5, cfg.Breaker.MaxFailures)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
pipeline:
  default_risk_threshold: 0.8
  input_scanners: [prompt_injection, secrets]
cache:
  enabled: true
  safe_ttl_seconds: 60
  cache_only_safe: false
  unsafe_ttl_seconds: 30
breaker:
  max_failures: 2
  cooldown_ms: 1000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 0.8, cfg.Pipeline.DefaultRiskThreshold)
	assert.Equal(t, []string{"prompt_injection", "secrets"}, cfg.Pipeline.InputScanners)
	assert.Equal(t, 60, cfg.Cache.SafeTTLSeconds)
	assert.Equal(t, 30, cfg.Cache.UnsafeTTLSeconds)
	assert.False(t, cfg.Cache.CacheOnlySafe)
	assert.Equal(t, 2, cfg.Breaker.MaxFailures)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, Default().Pipeline.ScannerTimeoutMS, cfg.Pipeline.ScannerTimeoutMS)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "pipeline: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GUARDGATE_ADDR", ":7777")
	t.Setenv("GUARDGATE_RISK_THRESHOLD", "0.3")
	t.Setenv("GUARDGATE_CACHE_ENABLED", "false")
	t.Setenv("GUARDGATE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Address)
	assert.Equal(t, 0.3, cfg.Pipeline.DefaultRiskThreshold)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Pipeline.DefaultRiskThreshold = 1.1 }},
		{"negative threshold", func(c *Config) { c.Pipeline.DefaultRiskThreshold = -0.1 }},
		{"zero scanner timeout", func(c *Config) { c.Pipeline.ScannerTimeoutMS = 0 }},
		{"zero request timeout", func(c *Config) { c.Pipeline.RequestTimeoutMS = 0 }},
		{"zero max failures", func(c *Config) { c.Breaker.MaxFailures = 0 }},
		{"zero cache entries", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"negative ttl", func(c *Config) { c.Cache.SafeTTLSeconds = -1 }},
		{"bad anonymize confidence", func(c *Config) { c.Scanners.Anonymize.DefaultConfidence = 2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewSnapshot(t *testing.T) {
	cfg := Default()
	snap := NewSnapshot(cfg, 7)

	assert.Equal(t, int64(7), snap.Version)
	assert.Equal(t, 5*time.Second, snap.Pipeline.ScannerTimeout)
	assert.Equal(t, 30*time.Second, snap.Pipeline.RequestTimeout)
	assert.Equal(t, time.Hour, snap.Cache.SafeTTL)
	assert.Zero(t, snap.Cache.UnsafeTTL)
	assert.Equal(t, 30*time.Second, snap.Breaker.Cooldown)

	// Snapshot slices are copies, not aliases of the config.
	snap.Pipeline.InputScanners[0] = "mutated"
	assert.Equal(t, "anonymize", cfg.Pipeline.InputScanners[0])
}

func TestFileProvider_ReloadBumpsVersion(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  default_risk_threshold: 0.5\n")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := NewFileProvider(path, logger)
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, int64(1), p.Snapshot().Version)
	assert.Equal(t, 0.5, p.Snapshot().Pipeline.DefaultRiskThreshold)

	updates := p.Subscribe()
	first := <-updates
	assert.Equal(t, int64(1), first.Version)

	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  default_risk_threshold: 0.9\n"), 0o600))

	select {
	case snap := <-updates:
		assert.Equal(t, int64(2), snap.Version)
		assert.Equal(t, 0.9, snap.Pipeline.DefaultRiskThreshold)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestFileProvider_BadReloadKeepsLastGood(t *testing.T) {
	path := writeConfig(t, "pipeline:\n  default_risk_threshold: 0.5\n")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := NewFileProvider(path, logger)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  default_risk_threshold: 5.0\n"), 0o600))

	// Give the debounce and reload a moment; the invalid file must be
	// rejected and the previous snapshot retained.
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int64(1), p.Snapshot().Version)
	assert.Equal(t, 0.5, p.Snapshot().Pipeline.DefaultRiskThreshold)
}

func TestStaticProvider(t *testing.T) {
	snap := NewSnapshot(Default(), 3)
	p := NewStaticProvider(snap)

	assert.Equal(t, snap.Version, p.Snapshot().Version)
	got := <-p.Subscribe()
	assert.Equal(t, snap.Version, got.Version)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
