// Package anonymize implements the anonymization resolver: it turns raw
// entity-recognition output into redaction decisions using confidence
// thresholds and an allow-list, and rewrites detected spans to canonical
// placeholders.
package anonymize

import (
	"context"
	"regexp"
	"strings"
)

// Span is one recognized entity in a piece of text.
type Span struct {
	Start      int
	End        int
	Label      string // recognizer-native label, mapped via CanonicalType
	Confidence float64
	Text       string
}

// Recognizer is the external entity-recognition capability. Implementations
// must be safe for concurrent use.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Span, error)
	// Languages lists the language codes the recognizer supports.
	Languages() []string
}

// labelMapping translates recognizer-native entity labels to the canonical
// types used in placeholders. Unknown labels pass through unchanged.
var labelMapping = map[string]string{
	"EMAIL_ADDRESS": "EMAIL",
	"PHONE_NUMBER":  "PHONE",
	"PER":           "PERSON",
	"PERSON":        "PERSON",
	"ORG":           "ORGANIZATION",
	"ORGANIZATION":  "ORGANIZATION",
	"LOC":           "LOCATION",
	"GPE":           "LOCATION",
	"US_SSN":        "SSN",
	"CREDIT_CARD":   "CREDIT_CARD",
	"IP_ADDRESS":    "IP_ADDRESS",
}

// CanonicalType maps a recognizer label to its canonical entity type.
func CanonicalType(label string) string {
	if mapped, ok := labelMapping[strings.ToUpper(label)]; ok {
		return mapped
	}
	return strings.ToUpper(label)
}

type entityPattern struct {
	label      string
	expr       *regexp.Regexp
	confidence float64
}

// RegexRecognizer is the built-in pattern-based recognizer. Deployments
// with an NER model plug it in behind the Recognizer interface instead.
type RegexRecognizer struct {
	patterns      []entityPattern
	organizations []string
}

// NewRegexRecognizer creates the default recognizer.
func NewRegexRecognizer() *RegexRecognizer {
	return &RegexRecognizer{
		patterns: []entityPattern{
			{"EMAIL_ADDRESS", regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`), 0.97},
			{"PHONE_NUMBER", regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[2-9][0-9]{2}\)?[-.\s]?[2-9][0-9]{2}[-.\s]?[0-9]{4}\b`), 0.75},
			{"US_SSN", regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`), 0.85},
			{"CREDIT_CARD", regexp.MustCompile(`\b(?:[0-9][ -]?){13,16}\b`), 0.7},
			{"IP_ADDRESS", regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`), 0.9},
		},
		organizations: []string{
			"OpenAI", "Anthropic", "Google", "Microsoft", "Amazon", "Meta", "Apple",
		},
	}
}

// Recognize returns all entity spans found in text.
func (r *RegexRecognizer) Recognize(ctx context.Context, text string) ([]Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var spans []Span
	for _, p := range r.patterns {
		for _, loc := range p.expr.FindAllStringIndex(text, -1) {
			spans = append(spans, Span{
				Start:      loc[0],
				End:        loc[1],
				Label:      p.label,
				Confidence: p.confidence,
				Text:       text[loc[0]:loc[1]],
			})
		}
	}

	for _, org := range r.organizations {
		idx := 0
		for {
			pos := strings.Index(text[idx:], org)
			if pos < 0 {
				break
			}
			start := idx + pos
			spans = append(spans, Span{
				Start:      start,
				End:        start + len(org),
				Label:      "ORG",
				Confidence: 0.9,
				Text:       org,
			})
			idx = start + len(org)
		}
	}

	return spans, nil
}

// Languages returns the supported language codes.
func (r *RegexRecognizer) Languages() []string { return []string{"en"} }
