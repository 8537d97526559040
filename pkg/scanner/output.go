package scanner

import (
	"context"
	"regexp"
	"strings"

	"github.com/guardgate/guardgate/pkg/domain"
)

// Output-side scanners inspect model responses before they leave the
// serving path.

// NoRefusal flags responses that refuse the user's request outright.
type NoRefusal struct {
	patterns []pattern
}

// NewNoRefusal creates the refusal-detection scanner.
func NewNoRefusal() *NoRefusal {
	return &NoRefusal{patterns: []pattern{
		{"cannot_assist", regexp.MustCompile(`(?i)\bI\s+(cannot|can't|won't|will not)\s+(help|assist|comply|do that)\b`), 0.8},
		{"apology_refusal", regexp.MustCompile(`(?i)\bI('m| am)\s+sorry,?\s+(but\s+)?I\s+(cannot|can't)\b`), 0.8},
		{"as_an_ai", regexp.MustCompile(`(?i)\bas\s+an\s+AI(\s+language)?\s+model,?\s+I\s+(cannot|can't)\b`), 0.75},
	}}
}

func (s *NoRefusal) ID() string     { return "no_refusal" }
func (s *NoRefusal) Rewrites() bool { return false }

func (s *NoRefusal) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScannerVerdict{}, NewFailure(s.ID(), ReasonTimeout, err)
	}

	verdict := cleanVerdict(s.ID())
	for _, p := range s.patterns {
		if p.expr.MatchString(content) && p.score > verdict.RiskScore {
			verdict.IsValid = false
			verdict.RiskScore = p.score
			verdict.Metadata = map[string]string{"pattern": p.name}
		}
	}
	return verdict, nil
}

// biasedPhrases are sweeping-generalisation markers. A lightweight stand-in
// for a classifier-backed adapter.
var biasedPhrases = []struct {
	phrase string
	score  float64
}{
	{"everyone knows that", 0.6},
	{"all of them are", 0.65},
	{"people like that always", 0.7},
	{"typical of those", 0.65},
}

// Bias flags responses containing sweeping generalisations.
type Bias struct{}

// NewBias creates the bias scanner.
func NewBias() *Bias { return &Bias{} }

func (s *Bias) ID() string     { return "bias" }
func (s *Bias) Rewrites() bool { return false }

func (s *Bias) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScannerVerdict{}, NewFailure(s.ID(), ReasonTimeout, err)
	}

	lowered := strings.ToLower(content)
	verdict := cleanVerdict(s.ID())
	for _, b := range biasedPhrases {
		if strings.Contains(lowered, b.phrase) && b.score > verdict.RiskScore {
			verdict.IsValid = false
			verdict.RiskScore = b.score
			verdict.Metadata = map[string]string{"phrase": b.phrase}
		}
	}
	return verdict, nil
}

// Relevance flags degenerate responses: empty or a single repeated token.
type Relevance struct{}

// NewRelevance creates the relevance scanner.
func NewRelevance() *Relevance { return &Relevance{} }

func (s *Relevance) ID() string     { return "relevance" }
func (s *Relevance) Rewrites() bool { return false }

func (s *Relevance) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScannerVerdict{}, NewFailure(s.ID(), ReasonTimeout, err)
	}

	verdict := cleanVerdict(s.ID())
	fields := strings.Fields(content)
	switch {
	case len(fields) == 0:
		verdict.IsValid = false
		verdict.RiskScore = 1.0
		verdict.Metadata = map[string]string{"reason": "empty"}
	case allSameToken(fields) && len(fields) > 3:
		verdict.IsValid = false
		verdict.RiskScore = 0.7
		verdict.Metadata = map[string]string{"reason": "repetition"}
	}
	return verdict, nil
}

func allSameToken(fields []string) bool {
	for _, f := range fields[1:] {
		if f != fields[0] {
			return false
		}
	}
	return true
}
