package anonymize

import (
	"context"
	"strings"

	"github.com/guardgate/guardgate/pkg/domain"
	"github.com/guardgate/guardgate/pkg/scanner"
)

// Sensitive is the output-side counterpart of the resolver: it flags model
// responses that leak recognizable entities but does not rewrite them.
type Sensitive struct {
	recognizer Recognizer
	allowList  map[string]struct{}
	threshold  float64
}

// NewSensitive creates the sensitive-data output scanner.
func NewSensitive(recognizer Recognizer, allowList []string, threshold float64) *Sensitive {
	allow := make(map[string]struct{}, len(allowList))
	for _, entry := range allowList {
		allow[entry] = struct{}{}
	}
	return &Sensitive{recognizer: recognizer, allowList: allow, threshold: threshold}
}

func (s *Sensitive) ID() string     { return "sensitive" }
func (s *Sensitive) Rewrites() bool { return false }

func (s *Sensitive) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
	spans, err := s.recognizer.Recognize(ctx, content)
	if err != nil {
		return domain.ScannerVerdict{}, scanner.NewFailure(s.ID(), scanner.ReasonInternal, err)
	}

	verdict := domain.ScannerVerdict{ScannerID: s.ID(), IsValid: true}
	var types []string
	for _, span := range spans {
		if _, ok := s.allowList[span.Text]; ok {
			continue
		}
		if span.Confidence < s.threshold {
			continue
		}
		verdict.IsValid = false
		if span.Confidence > verdict.RiskScore {
			verdict.RiskScore = span.Confidence
		}
		types = append(types, CanonicalType(span.Label))
	}
	if len(types) > 0 {
		verdict.Metadata = map[string]string{"entity_types": strings.Join(dedupe(types), ",")}
	}
	return verdict, nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
