package config

import "time"

// Snapshot is the immutable view of the configuration consumed by the
// pipeline. Reconfiguration publishes a new Snapshot with a bumped Version;
// cache fingerprints include the version, so stale entries stop matching
// automatically.
type Snapshot struct {
	Version  int64
	Pipeline PipelineSettings
	Scanners ScannersConfig
	Breaker  BreakerSettings
	Cache    CachePolicy
}

// PipelineSettings carries the resolved orchestration parameters.
type PipelineSettings struct {
	DefaultRiskThreshold float64
	ScannerTimeout       time.Duration
	RequestTimeout       time.Duration
	InputScanners        []string
	OutputScanners       []string
}

// BreakerSettings carries the resolved circuit breaker parameters.
type BreakerSettings struct {
	MaxFailures int
	Cooldown    time.Duration
}

// CachePolicy carries the resolved cache retention policy.
type CachePolicy struct {
	Enabled        bool
	SafeTTL        time.Duration
	UnsafeTTL      time.Duration
	CacheOnlySafe  bool
	AutoInvalidate bool
	MaxEntries     int
}

// NewSnapshot converts a validated Config into an immutable Snapshot.
func NewSnapshot(cfg *Config, version int64) Snapshot {
	return Snapshot{
		Version: version,
		Pipeline: PipelineSettings{
			DefaultRiskThreshold: cfg.Pipeline.DefaultRiskThreshold,
			ScannerTimeout:       time.Duration(cfg.Pipeline.ScannerTimeoutMS) * time.Millisecond,
			RequestTimeout:       time.Duration(cfg.Pipeline.RequestTimeoutMS) * time.Millisecond,
			InputScanners:        append([]string(nil), cfg.Pipeline.InputScanners...),
			OutputScanners:       append([]string(nil), cfg.Pipeline.OutputScanners...),
		},
		Scanners: cfg.Scanners,
		Breaker: BreakerSettings{
			MaxFailures: cfg.Breaker.MaxFailures,
			Cooldown:    time.Duration(cfg.Breaker.CooldownMS) * time.Millisecond,
		},
		Cache: CachePolicy{
			Enabled:        cfg.Cache.Enabled,
			SafeTTL:        time.Duration(cfg.Cache.SafeTTLSeconds) * time.Second,
			UnsafeTTL:      time.Duration(cfg.Cache.UnsafeTTLSeconds) * time.Second,
			CacheOnlySafe:  cfg.Cache.CacheOnlySafe,
			AutoInvalidate: cfg.Cache.AutoInvalidate,
			MaxEntries:     cfg.Cache.MaxEntries,
		},
	}
}
