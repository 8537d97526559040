package anonymize

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/guardgate/guardgate/pkg/config"
	"github.com/guardgate/guardgate/pkg/domain"
	"github.com/guardgate/guardgate/pkg/scanner"
)

// Resolver is the anonymization scanner. For every recognized span it
// decides skip (allow-listed), redact, or near-miss (confidence below the
// bar for a low-score type), then rewrites accepted spans to canonical
// placeholders. Running it over its own output yields no further
// redactions: placeholders match no entity pattern.
type Resolver struct {
	recognizer        Recognizer
	allowList         map[string]struct{}
	defaultConfidence float64
	entityThresholds  map[string]float64
	lowScoreTypes     map[string]struct{}
	lowScoreThreshold float64
}

// NewResolver builds the resolver from configuration.
func NewResolver(recognizer Recognizer, cfg config.AnonymizeConfig) *Resolver {
	allow := make(map[string]struct{}, len(cfg.AllowList))
	for _, entry := range cfg.AllowList {
		allow[entry] = struct{}{}
	}
	low := make(map[string]struct{}, len(cfg.LowScoreTypes))
	for _, t := range cfg.LowScoreTypes {
		low[CanonicalType(t)] = struct{}{}
	}
	thresholds := make(map[string]float64, len(cfg.EntityThresholds))
	for t, v := range cfg.EntityThresholds {
		thresholds[CanonicalType(t)] = v
	}
	return &Resolver{
		recognizer:        recognizer,
		allowList:         allow,
		defaultConfidence: cfg.DefaultConfidence,
		entityThresholds:  thresholds,
		lowScoreTypes:     low,
		lowScoreThreshold: cfg.LowScoreThreshold,
	}
}

func (r *Resolver) ID() string     { return "anonymize" }
func (r *Resolver) Rewrites() bool { return true }

// Evaluate recognizes entities, resolves redaction decisions, and rewrites
// the content. The verdict carries a non-zero risk score and is_valid=false
// whenever at least one redaction occurred.
func (r *Resolver) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
	spans, err := r.recognizer.Recognize(ctx, content)
	if err != nil {
		return domain.ScannerVerdict{}, scanner.NewFailure(r.ID(), scanner.ReasonInternal, err)
	}

	accepted, nearMisses := r.resolve(spans)
	redacted, types := applyRedactions(content, accepted)

	verdict := domain.ScannerVerdict{
		ScannerID:        r.ID(),
		IsValid:          len(accepted) == 0,
		SanitizedContent: redacted,
		Rewrote:          true,
	}
	for _, s := range accepted {
		if s.Confidence > verdict.RiskScore {
			verdict.RiskScore = s.Confidence
		}
	}
	md := make(map[string]string)
	if len(types) > 0 {
		md["entity_types"] = strings.Join(types, ",")
	}
	if len(nearMisses) > 0 {
		md["near_misses"] = strings.Join(nearMisses, ",")
	}
	if len(md) > 0 {
		verdict.Metadata = md
	}
	return verdict, nil
}

// resolve applies the allow-list and confidence thresholds, then drops
// overlapping spans in favour of the higher-confidence one (ties prefer
// the earlier span).
func (r *Resolver) resolve(spans []Span) (accepted []Span, nearMisses []string) {
	var candidates []Span
	for _, s := range spans {
		if _, ok := r.allowList[s.Text]; ok {
			continue
		}
		entityType := CanonicalType(s.Label)
		if _, low := r.lowScoreTypes[entityType]; low {
			// A type-specific threshold overrides the shared low-score bar.
			bar := r.lowScoreThreshold
			if t, ok := r.entityThresholds[entityType]; ok {
				bar = t
			}
			if s.Confidence >= bar {
				candidates = append(candidates, s)
			} else {
				nearMisses = append(nearMisses, fmt.Sprintf("%s:%.2f", entityType, s.Confidence))
			}
			continue
		}
		threshold := r.defaultConfidence
		if t, ok := r.entityThresholds[entityType]; ok {
			threshold = t
		}
		if s.Confidence >= threshold {
			candidates = append(candidates, s)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Start < candidates[j].Start
	})

	for _, c := range candidates {
		if overlapsAny(c, accepted) {
			continue
		}
		accepted = append(accepted, c)
	}
	return accepted, nearMisses
}

func overlapsAny(s Span, spans []Span) bool {
	for _, other := range spans {
		if s.Start < other.End && other.Start < s.End {
			return true
		}
	}
	return false
}

// applyRedactions rewrites accepted spans to placeholders, working from the
// back of the text so earlier offsets stay valid. Returns the rewritten
// text and the sorted set of redacted entity types.
func applyRedactions(content string, accepted []Span) (string, []string) {
	ordered := append([]Span(nil), accepted...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	typeSet := make(map[string]struct{})
	out := content
	for _, s := range ordered {
		entityType := CanonicalType(s.Label)
		typeSet[entityType] = struct{}{}
		out = out[:s.Start] + "[REDACTED:" + entityType + "]" + out[s.End:]
	}

	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)
	return out, types
}
