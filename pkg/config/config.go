// Package config provides configuration structures and loading logic for the
// gateway, plus the immutable snapshot published to the scanning pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scanners  ScannersConfig  `yaml:"scanners"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// PipelineConfig holds orchestration-level settings.
type PipelineConfig struct {
	DefaultRiskThreshold float64  `yaml:"default_risk_threshold"`
	ScannerTimeoutMS     int      `yaml:"scanner_timeout_ms"`
	RequestTimeoutMS     int      `yaml:"request_timeout_ms"`
	InputScanners        []string `yaml:"input_scanners"`
	OutputScanners       []string `yaml:"output_scanners"`
}

// ScannersConfig holds per-scanner parameters.
type ScannersConfig struct {
	BanSubstrings BanSubstringsConfig `yaml:"ban_substrings"`
	BanTopics     BanTopicsConfig     `yaml:"ban_topics"`
	Code          CodeConfig          `yaml:"code"`
	Anonymize     AnonymizeConfig     `yaml:"anonymize"`
	Secrets       SecretsConfig       `yaml:"secrets"`
}

// BanSubstringsConfig configures the banned-substring scanner.
type BanSubstringsConfig struct {
	Substrings    []string `yaml:"substrings"`
	CaseSensitive bool     `yaml:"case_sensitive"`
}

// BanTopicsConfig configures the banned-topic scanner.
type BanTopicsConfig struct {
	Topics []string `yaml:"topics"`
}

// CodeConfig configures the code-detection scanner.
type CodeConfig struct {
	Languages []string `yaml:"languages"`
}

// AnonymizeConfig configures the anonymization resolver. A type listed in
// EntityThresholds uses that threshold even when it also appears in
// LowScoreTypes; LowScoreThreshold is the shared bar for low-score types
// without one.
type AnonymizeConfig struct {
	AllowList         []string           `yaml:"allow_list"`
	DefaultConfidence float64            `yaml:"default_confidence"`
	EntityThresholds  map[string]float64 `yaml:"entity_thresholds"`
	LowScoreTypes     []string           `yaml:"low_score_types"`
	LowScoreThreshold float64            `yaml:"low_score_threshold"`
	Language          string             `yaml:"language"`
}

// SecretsConfig configures the secret-redaction scanner.
type SecretsConfig struct {
	RedactionToken string `yaml:"redaction_token"`
}

// BreakerConfig holds per-scanner circuit breaker settings.
type BreakerConfig struct {
	MaxFailures int `yaml:"max_failures"`
	CooldownMS  int `yaml:"cooldown_ms"`
}

// CacheConfig holds the result cache policy.
type CacheConfig struct {
	Enabled          bool `yaml:"enabled"`
	SafeTTLSeconds   int  `yaml:"safe_ttl_seconds"`
	UnsafeTTLSeconds int  `yaml:"unsafe_ttl_seconds"`
	CacheOnlySafe    bool `yaml:"cache_only_safe"`
	AutoInvalidate   bool `yaml:"auto_invalidate"`
	MaxEntries       int  `yaml:"max_entries"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration, matching the service defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Address: ":8001"},
		Pipeline: PipelineConfig{
			DefaultRiskThreshold: 0.6,
			ScannerTimeoutMS:     5000,
			RequestTimeoutMS:     30000,
			InputScanners: []string{
				"anonymize", "ban_substrings", "ban_topics", "code",
				"prompt_injection", "secrets", "toxicity",
			},
			OutputScanners: []string{"bias", "no_refusal", "relevance", "sensitive"},
		},
		Scanners: ScannersConfig{
			BanSubstrings: BanSubstringsConfig{
				Substrings:    []string{"password", "api_key", "secret", "token"},
				CaseSensitive: false,
			},
			BanTopics: BanTopicsConfig{Topics: []string{"violence", "illegal", "hate"}},
			Code:      CodeConfig{Languages: []string{"python", "javascript"}},
			Anonymize: AnonymizeConfig{
				DefaultConfidence: 0.5,
				LowScoreThreshold: 0.85,
				Language:          "en",
			},
		},
		Breaker: BreakerConfig{MaxFailures: 5, CooldownMS: 30000},
		Cache: CacheConfig{
			Enabled:          true,
			SafeTTLSeconds:   3600,
			UnsafeTTLSeconds: 0,
			CacheOnlySafe:    true,
			AutoInvalidate:   true,
			MaxEntries:       10000,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GUARDGATE_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("GUARDGATE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("GUARDGATE_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("GUARDGATE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("GUARDGATE_RISK_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Pipeline.DefaultRiskThreshold = f
		}
	}
	if val := os.Getenv("GUARDGATE_CACHE_ENABLED"); val != "" {
		cfg.Cache.Enabled = val == "true"
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Pipeline.DefaultRiskThreshold < 0 || c.Pipeline.DefaultRiskThreshold > 1 {
		return fmt.Errorf("pipeline.default_risk_threshold must be in [0,1], got %v", c.Pipeline.DefaultRiskThreshold)
	}
	if c.Pipeline.ScannerTimeoutMS <= 0 {
		return fmt.Errorf("pipeline.scanner_timeout_ms must be positive, got %d", c.Pipeline.ScannerTimeoutMS)
	}
	if c.Pipeline.RequestTimeoutMS <= 0 {
		return fmt.Errorf("pipeline.request_timeout_ms must be positive, got %d", c.Pipeline.RequestTimeoutMS)
	}
	if c.Breaker.MaxFailures <= 0 {
		return fmt.Errorf("breaker.max_failures must be positive, got %d", c.Breaker.MaxFailures)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.SafeTTLSeconds < 0 || c.Cache.UnsafeTTLSeconds < 0 {
		return fmt.Errorf("cache TTLs must not be negative")
	}
	if c.Scanners.Anonymize.DefaultConfidence < 0 || c.Scanners.Anonymize.DefaultConfidence > 1 {
		return fmt.Errorf("scanners.anonymize.default_confidence must be in [0,1]")
	}
	return nil
}
