// Package guard implements the scanning orchestrator: it resolves the
// effective scanner set for a request, consults the result cache, dispatches
// scanner adapters through their circuit breakers, aggregates verdicts into
// one decision, and writes the outcome back to the cache.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/guardgate/guardgate/internal/governance"
	"github.com/guardgate/guardgate/pkg/anonymize"
	"github.com/guardgate/guardgate/pkg/cache"
	"github.com/guardgate/guardgate/pkg/config"
	"github.com/guardgate/guardgate/pkg/domain"
	"github.com/guardgate/guardgate/pkg/scanner"
	"github.com/guardgate/guardgate/pkg/telemetry"
)

// RegistryBuilder constructs the scanner set for a configuration snapshot.
type RegistryBuilder func(config.Snapshot) *scanner.Registry

// Service coordinates the scanning pipeline. All state shared across
// requests lives behind its mutex (configuration snapshot, registry) or is
// concurrency-safe on its own (cache store, breaker manager).
type Service struct {
	mu       sync.RWMutex
	snap     config.Snapshot
	registry *scanner.Registry
	breakers *governance.CircuitBreakerManager

	provider      config.Provider
	store         cache.Store
	logger        *slog.Logger
	metrics       *telemetry.Metrics
	tracer        trace.Tracer
	buildRegistry RegistryBuilder
	cancelWatch   context.CancelFunc
}

// Option customises Service construction.
type Option func(*Service)

// WithMetrics attaches a metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRegistryBuilder overrides how scanners are constructed from a
// snapshot. Tests use this to substitute doubles for the adapters.
func WithRegistryBuilder(b RegistryBuilder) Option {
	return func(s *Service) { s.buildRegistry = b }
}

// NewService builds the orchestrator and starts following configuration
// updates from the provider.
func NewService(provider config.Provider, store cache.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		provider:      provider,
		store:         store,
		logger:        logger.With("component", "guard"),
		tracer:        otel.Tracer("guardgate.pipeline"),
		buildRegistry: DefaultRegistry,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.apply(provider.Snapshot())

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelWatch = cancel
	go s.watch(ctx, provider.Subscribe())

	return s
}

// Close stops the configuration watcher.
func (s *Service) Close() {
	if s.cancelWatch != nil {
		s.cancelWatch()
	}
}

// DefaultRegistry wires the built-in scanner adapters from a snapshot.
func DefaultRegistry(snap config.Snapshot) *scanner.Registry {
	recognizer := anonymize.NewRegexRecognizer()
	anonCfg := snap.Scanners.Anonymize
	return scanner.NewRegistry(
		anonymize.NewResolver(recognizer, anonCfg),
		scanner.NewBanSubstrings(snap.Scanners.BanSubstrings.Substrings, snap.Scanners.BanSubstrings.CaseSensitive),
		scanner.NewBanTopics(snap.Scanners.BanTopics.Topics),
		scanner.NewCode(snap.Scanners.Code.Languages),
		scanner.NewPromptInjection(),
		scanner.NewSecrets(snap.Scanners.Secrets.RedactionToken),
		scanner.NewToxicity(),
		scanner.NewBias(),
		scanner.NewNoRefusal(),
		scanner.NewRelevance(),
		anonymize.NewSensitive(recognizer, anonCfg.AllowList, anonCfg.DefaultConfidence),
	)
}

func (s *Service) watch(ctx context.Context, updates <-chan config.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			s.apply(snap)
		}
	}
}

func (s *Service) apply(snap config.Snapshot) {
	s.mu.Lock()
	if s.snap.Version == snap.Version && s.registry != nil {
		s.mu.Unlock()
		return
	}
	reconfigured := s.registry != nil
	s.snap = snap
	s.registry = s.buildRegistry(snap)
	s.breakers = governance.NewCircuitBreakerManager(governance.CircuitBreakerConfig{
		MaxFailures: snap.Breaker.MaxFailures,
		Cooldown:    snap.Breaker.Cooldown,
	})
	s.mu.Unlock()

	if reconfigured {
		// Fingerprints embed the version, so stale entries already stop
		// matching; purging just frees their capacity immediately.
		if snap.Cache.AutoInvalidate {
			_ = s.store.Purge(context.Background())
		}
		s.logger.Info("Pipeline reconfigured", "version", snap.Version)
	}
}

func (s *Service) current() (config.Snapshot, *scanner.Registry, *governance.CircuitBreakerManager) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.registry, s.breakers
}

// Snapshot returns the configuration snapshot the pipeline currently runs on.
func (s *Service) Snapshot() config.Snapshot {
	snap, _, _ := s.current()
	return snap
}

// ScannersLoaded reports how many scanner adapters are registered.
func (s *Service) ScannersLoaded() int {
	_, reg, _ := s.current()
	return reg.Len()
}

// BreakerStats exposes per-scanner circuit breaker state.
func (s *Service) BreakerStats() map[string]governance.CircuitBreakerStats {
	_, _, breakers := s.current()
	return breakers.Stats()
}

// Check runs one scan request through the pipeline.
func (s *Service) Check(ctx context.Context, req domain.ScanRequest) (domain.PipelineResult, error) {
	start := time.Now()
	snap, reg, breakers := s.current()

	if !req.ContentType.Valid() {
		return domain.PipelineResult{}, &domain.DomainError{
			Err: domain.ErrInvalidContentType, Code: "INVALID_CONTENT_TYPE",
			Message: fmt.Sprintf("invalid content type %q", req.ContentType),
		}
	}
	if req.RiskThreshold < 0 || req.RiskThreshold > 1 {
		return domain.PipelineResult{}, &domain.DomainError{
			Err: domain.ErrInvalidThreshold, Code: "INVALID_THRESHOLD",
			Message: fmt.Sprintf("risk threshold %v outside [0,1]", req.RiskThreshold),
		}
	}

	effective, err := resolveScannerSet(snap, reg, req)
	if err != nil {
		return domain.PipelineResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, snap.Pipeline.RequestTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "guard.check", trace.WithAttributes(
		attribute.String("content.type", string(req.ContentType)),
		attribute.Int("scanners.requested", len(effective)),
	))
	defer span.End()

	fingerprint := cache.Fingerprint(req.Content, effective, snap.Version)

	if snap.Cache.Enabled {
		cached, hit, cacheErr := s.store.Get(ctx, fingerprint)
		switch {
		case cacheErr != nil:
			// Degraded cache is bypassed entirely; the pipeline still runs.
			s.recordCacheLookup("bypass")
			s.logger.Warn("Cache lookup failed, bypassing", "error", cacheErr)
		case hit:
			s.recordCacheLookup("hit")
			cached.ProcessingTimeMS = msSince(start)
			s.audit(req, cached, true)
			s.recordCheck(req.ContentType, cached, start)
			return cached, nil
		default:
			s.recordCacheLookup("miss")
		}
	}

	verdicts, sanitized, failures, err := s.execute(ctx, snap, reg, breakers, effective, req.Content)
	if err != nil {
		return domain.PipelineResult{}, err
	}
	if failures > 0 && failures == len(effective) {
		return domain.PipelineResult{}, &domain.DomainError{
			Err: domain.ErrPipelineUnavailable, Code: "PIPELINE_UNAVAILABLE",
			Message: "all requested scanners failed",
		}
	}

	agg := aggregate(req.RiskThreshold, effective, verdicts)
	result := domain.PipelineResult{
		IsSafe:           agg.isSafe,
		RiskScore:        agg.riskScore,
		SanitizedContent: sanitized,
		FlaggedScanners:  agg.flagged,
		ScannerResults:   verdicts,
		Recommendations:  agg.recommendations,
		ProcessingTimeMS: msSince(start),
	}

	if ttl, persist := cache.TTLFor(snap.Cache, result.IsSafe); persist {
		if putErr := s.store.Put(ctx, fingerprint, result, ttl); putErr != nil {
			s.logger.Warn("Cache write failed", "error", putErr)
		} else if s.metrics != nil {
			s.metrics.SetCacheEntries(s.store.Len())
		}
	}

	s.audit(req, result, false)
	s.recordCheck(req.ContentType, result, start)
	return result, nil
}

// Sanitize runs only the content-rewriting scanners, in their fixed chain
// order, and returns the cumulatively sanitized content.
func (s *Service) Sanitize(ctx context.Context, content string, sanitizers []string) (string, error) {
	snap, reg, breakers := s.current()

	requested := sanitizers
	if len(requested) == 0 {
		requested = scanner.RewriteOrder()
	}
	for _, id := range requested {
		sc, ok := reg.Get(id)
		if !ok {
			return "", &domain.DomainError{
				Err: domain.ErrUnknownScanner, Code: "UNKNOWN_SCANNER",
				Message: fmt.Sprintf("unknown sanitizer %q", id),
			}
		}
		if !sc.Rewrites() {
			return "", &domain.DomainError{
				Err: domain.ErrUnknownScanner, Code: "NOT_A_SANITIZER",
				Message: fmt.Sprintf("scanner %q does not rewrite content", id),
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, snap.Pipeline.RequestTimeout)
	defer cancel()

	cursor := content
	for _, id := range scanner.RewriteOrder() {
		if !contains(requested, id) {
			continue
		}
		sc, _ := reg.Get(id)
		verdict, status := s.callScanner(ctx, snap, breakers, sc, cursor)
		if status == statusOK && verdict.Rewrote {
			cursor = verdict.SanitizedContent
		}
	}
	return cursor, nil
}

// resolveScannerSet intersects the requested scanners with the configured
// set for the content type, in declared order. Unknown ids are a
// configuration error surfaced to the caller.
func resolveScannerSet(snap config.Snapshot, reg *scanner.Registry, req domain.ScanRequest) ([]string, error) {
	enabled := snap.Pipeline.InputScanners
	if req.ContentType == domain.ContentTypeResponse {
		enabled = snap.Pipeline.OutputScanners
	}

	var effective []string
	if len(req.Scanners) == 0 {
		for _, id := range enabled {
			if _, ok := reg.Get(id); ok {
				effective = append(effective, id)
			}
		}
	} else {
		for _, id := range req.Scanners {
			if _, ok := reg.Get(id); !ok {
				return nil, &domain.DomainError{
					Err: domain.ErrUnknownScanner, Code: "UNKNOWN_SCANNER",
					Message: fmt.Sprintf("unknown scanner %q", id),
				}
			}
			if contains(enabled, id) && !contains(effective, id) {
				effective = append(effective, id)
			}
		}
	}

	if len(effective) == 0 {
		return nil, &domain.DomainError{
			Err: domain.ErrPipelineUnavailable, Code: "NO_SCANNERS",
			Message: fmt.Sprintf("no scanners enabled for content type %q", req.ContentType),
		}
	}
	return orderedIDs(reg, effective), nil
}

const (
	statusOK      = "ok"
	statusFailed  = "failed"
	statusSkipped = "skipped"
	statusTimeout = "timeout"
)

type callOutcome struct {
	id      string
	verdict domain.ScannerVerdict
	status  string
}

// execute dispatches the effective scanner set. Classify-only scanners run
// fully in parallel; rewriting scanners run as one sequential chain so each
// applies to the previous rewriter's output. Returns the collected verdicts,
// the cumulatively sanitized content, and the count of failed scanners.
func (s *Service) execute(
	ctx context.Context,
	snap config.Snapshot,
	reg *scanner.Registry,
	breakers *governance.CircuitBreakerManager,
	effective []string,
	content string,
) (map[string]domain.ScannerVerdict, string, int, error) {
	var rewriters, classifiers []string
	for _, id := range scanner.RewriteOrder() {
		if contains(effective, id) {
			rewriters = append(rewriters, id)
		}
	}
	for _, id := range effective {
		if !contains(rewriters, id) {
			classifiers = append(classifiers, id)
		}
	}

	outcomes := make(chan callOutcome, len(effective))
	sanitizedCh := make(chan string, 1)

	go func() {
		cursor := content
		for _, id := range rewriters {
			sc, _ := reg.Get(id)
			verdict, status := s.callScanner(ctx, snap, breakers, sc, cursor)
			if status == statusOK && verdict.Rewrote && verdict.SanitizedContent != "" {
				cursor = verdict.SanitizedContent
			}
			outcomes <- callOutcome{id: id, verdict: verdict, status: status}
		}
		sanitizedCh <- cursor
	}()

	for _, id := range classifiers {
		sc, _ := reg.Get(id)
		go func(id string, sc scanner.Scanner) {
			verdict, status := s.callScanner(ctx, snap, breakers, sc, content)
			outcomes <- callOutcome{id: id, verdict: verdict, status: status}
		}(id, sc)
	}

	verdicts := make(map[string]domain.ScannerVerdict, len(effective))
	failures := 0
	for range effective {
		select {
		case out := <-outcomes:
			// An expired request deadline wins even when the outcome raced
			// in first; per-scanner budget timeouts stay contained skips.
			if ctx.Err() != nil {
				return nil, "", 0, requestTimeoutError(ctx.Err())
			}
			verdicts[out.id] = out.verdict
			if out.status == statusFailed || out.status == statusTimeout {
				failures++
			}
		case <-ctx.Done():
			// Abandon pending scanners; their results are discarded.
			return nil, "", 0, requestTimeoutError(ctx.Err())
		}
	}

	sanitized := content
	if len(rewriters) > 0 {
		select {
		case sanitized = <-sanitizedCh:
		case <-ctx.Done():
			return nil, "", 0, requestTimeoutError(ctx.Err())
		}
	}

	return verdicts, sanitized, failures, nil
}

func requestTimeoutError(err error) *domain.DomainError {
	return &domain.DomainError{
		Err: err, Code: "REQUEST_TIMEOUT",
		Message: "pipeline timed out before all scanners completed",
	}
}

// callScanner runs one adapter through its circuit breaker and per-scanner
// time budget. A breaker-open skip does not touch the breaker; a timeout is
// recorded as a failure against it.
func (s *Service) callScanner(
	ctx context.Context,
	snap config.Snapshot,
	breakers *governance.CircuitBreakerManager,
	sc scanner.Scanner,
	content string,
) (domain.ScannerVerdict, string) {
	id := sc.ID()
	cb := breakers.Get(id)

	if err := cb.Allow(); err != nil {
		s.recordScannerCall(id, statusSkipped, 0, cb)
		return skippedVerdict(id, "breaker_open"), statusSkipped
	}

	callCtx, cancel := context.WithTimeout(ctx, snap.Pipeline.ScannerTimeout)
	defer cancel()

	start := time.Now()
	type evalResult struct {
		verdict domain.ScannerVerdict
		err     error
	}
	done := make(chan evalResult, 1)
	go func() {
		v, err := sc.Evaluate(callCtx, content)
		done <- evalResult{verdict: v, err: err}
	}()

	select {
	case res := <-done:
		elapsed := time.Since(start)
		if res.err == nil && (res.verdict.RiskScore < 0 || res.verdict.RiskScore > 1) {
			res.err = scanner.NewFailure(id, scanner.ReasonMalformed,
				fmt.Errorf("risk score %v outside [0,1]", res.verdict.RiskScore))
		}
		if res.err != nil {
			cb.Record(res.err)
			s.recordScannerCall(id, statusFailed, elapsed, cb)
			s.logger.Error("Scanner failed", "scanner", id, "error", res.err)
			return failedVerdict(id, res.err), statusFailed
		}
		cb.Record(nil)
		s.recordScannerCall(id, statusOK, elapsed, cb)
		return res.verdict, statusOK
	case <-callCtx.Done():
		cb.Record(scanner.NewFailure(id, scanner.ReasonTimeout, callCtx.Err()))
		s.recordScannerCall(id, statusTimeout, time.Since(start), cb)
		s.logger.Warn("Scanner timed out", "scanner", id, "budget", snap.Pipeline.ScannerTimeout)
		return skippedVerdict(id, "timeout"), statusTimeout
	}
}

// skippedVerdict records a scanner that was not evaluated. It contributes
// zero risk and is excluded from flagged scanners.
func skippedVerdict(id, reason string) domain.ScannerVerdict {
	return domain.ScannerVerdict{
		ScannerID: id,
		IsValid:   true,
		RiskScore: 0,
		Metadata:  map[string]string{"skipped": reason},
	}
}

func failedVerdict(id string, err error) domain.ScannerVerdict {
	return domain.ScannerVerdict{
		ScannerID: id,
		IsValid:   true,
		RiskScore: 0,
		Metadata:  map[string]string{"error": err.Error()},
	}
}

func (s *Service) audit(req domain.ScanRequest, result domain.PipelineResult, cacheHit bool) {
	s.logger.Info("Security check completed",
		"content_type", req.ContentType,
		"safe", result.IsSafe,
		"risk", result.RiskScore,
		"flagged", result.FlaggedScanners,
		"duration_ms", result.ProcessingTimeMS,
		"cache_hit", cacheHit,
		"user_id", req.UserID,
	)
}

func (s *Service) recordCheck(ct domain.ContentType, result domain.PipelineResult, start time.Time) {
	if s.metrics == nil {
		return
	}
	outcome := "safe"
	if !result.IsSafe {
		outcome = "unsafe"
	}
	s.metrics.RecordCheck(string(ct), outcome, time.Since(start))
}

func (s *Service) recordCacheLookup(result string) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(result)
	}
}

func (s *Service) recordScannerCall(id, status string, elapsed time.Duration, cb *governance.CircuitBreaker) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordScannerCall(id, status, elapsed)
	s.metrics.SetBreakerState(id, string(cb.State()))
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
