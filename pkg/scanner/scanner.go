// Package scanner defines the adapter contract every detection capability
// is wrapped behind, the typed failure it may raise, and the fixed declared
// evaluation order that keeps pipeline output deterministic.
package scanner

import (
	"context"
	"fmt"

	"github.com/guardgate/guardgate/pkg/domain"
)

// Scanner wraps one detection capability behind a uniform contract. The
// orchestrator never distinguishes adapter kinds beyond this interface.
// Implementations must be safe for concurrent use and must not mutate
// shared state.
type Scanner interface {
	// ID returns the scanner identifier used in configuration and results.
	ID() string
	// Rewrites reports whether the scanner produces sanitized content.
	// Rewriting scanners must be idempotent over their own output.
	Rewrites() bool
	// Evaluate runs the scanner against content and returns its verdict.
	Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error)
}

// FailureReason classifies an adapter-local fault.
type FailureReason string

const (
	// ReasonTimeout indicates the adapter exceeded its time budget.
	ReasonTimeout FailureReason = "timeout"
	// ReasonInternal indicates the adapter itself errored.
	ReasonInternal FailureReason = "internal"
	// ReasonMalformed indicates the adapter produced unusable output.
	ReasonMalformed FailureReason = "malformed"
)

// Failure is the typed error adapters raise. It is contained at the
// orchestrator boundary and counted against the scanner's circuit breaker;
// it never fails the whole request on its own.
type Failure struct {
	ScannerID string
	Reason    FailureReason
	Err       error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("scanner %s failed (%s): %v", f.ScannerID, f.Reason, f.Err)
	}
	return fmt.Sprintf("scanner %s failed (%s)", f.ScannerID, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure builds a Failure for the given scanner.
func NewFailure(scannerID string, reason FailureReason, err error) *Failure {
	return &Failure{ScannerID: scannerID, Reason: reason, Err: err}
}

// Declared evaluation order. Flagged scanners and recommendations follow
// this order regardless of which adapter finishes first, so results are
// reproducible. Rewriting scanners chain their output in RewriteOrder.
var (
	promptOrder   = []string{"anonymize", "ban_substrings", "ban_topics", "code", "prompt_injection", "secrets", "toxicity"}
	responseOrder = []string{"bias", "no_refusal", "relevance", "sensitive"}
	rewriteOrder  = []string{"anonymize", "secrets"}
)

// OrderFor returns the declared evaluation order for a content type.
func OrderFor(ct domain.ContentType) []string {
	switch ct {
	case domain.ContentTypeResponse:
		return responseOrder
	default:
		return promptOrder
	}
}

// RewriteOrder returns the fixed chain order for content-rewriting scanners.
func RewriteOrder() []string {
	return rewriteOrder
}

// Registry holds the constructed scanner adapters keyed by id, with a
// position index derived from the declared order tables.
type Registry struct {
	scanners map[string]Scanner
	position map[string]int
}

// NewRegistry builds a registry from the given scanners.
func NewRegistry(scanners ...Scanner) *Registry {
	r := &Registry{
		scanners: make(map[string]Scanner, len(scanners)),
		position: make(map[string]int),
	}
	pos := 0
	for _, order := range [][]string{promptOrder, responseOrder} {
		for _, id := range order {
			r.position[id] = pos
			pos++
		}
	}
	for _, s := range scanners {
		r.scanners[s.ID()] = s
	}
	return r
}

// Get returns the scanner with the given id.
func (r *Registry) Get(id string) (Scanner, bool) {
	s, ok := r.scanners[id]
	return s, ok
}

// Position returns the declared-order index for a scanner id. Unknown ids
// sort last.
func (r *Registry) Position(id string) int {
	if p, ok := r.position[id]; ok {
		return p
	}
	return len(r.position)
}

// Len returns the number of registered scanners.
func (r *Registry) Len() int { return len(r.scanners) }
