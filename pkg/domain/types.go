package domain

// ContentType distinguishes inbound prompts from outbound model responses.
// Each side has its own default scanner set.
type ContentType string

const (
	// ContentTypePrompt marks content entering the model.
	ContentTypePrompt ContentType = "prompt"
	// ContentTypeResponse marks content produced by the model.
	ContentTypeResponse ContentType = "response"
)

// Valid reports whether the content type is one of the known values.
func (c ContentType) Valid() bool {
	return c == ContentTypePrompt || c == ContentTypeResponse
}

// ScanRequest describes one piece of content to run through the pipeline.
// Immutable once created.
type ScanRequest struct {
	Content       string
	ContentType   ContentType
	Scanners      []string // empty = configured default set for ContentType
	RiskThreshold float64  // in [0,1]; scores >= threshold are unsafe
	UserID        string   // opaque, audit logging only
}

// ScannerVerdict is the outcome of a single scanner invocation.
type ScannerVerdict struct {
	ScannerID        string            `json:"scanner_id"`
	IsValid          bool              `json:"is_valid"`
	RiskScore        float64           `json:"risk_score"`
	SanitizedContent string            `json:"sanitized_content,omitempty"`
	Rewrote          bool              `json:"rewrote,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// PipelineResult is the aggregated outcome of one scan request. Built once
// per request and never mutated afterwards; cached entries are copies.
type PipelineResult struct {
	IsSafe           bool                      `json:"is_safe"`
	RiskScore        float64                   `json:"risk_score"`
	SanitizedContent string                    `json:"sanitized_content"`
	FlaggedScanners  []string                  `json:"flagged_scanners"`
	ScannerResults   map[string]ScannerVerdict `json:"scanner_results"`
	Recommendations  []string                  `json:"recommendations"`
	ProcessingTimeMS float64                   `json:"processing_time_ms"`
}

// Clone returns a deep copy so cached results stay immutable even if a
// caller mutates the returned maps or slices.
func (r PipelineResult) Clone() PipelineResult {
	out := r
	if r.FlaggedScanners != nil {
		out.FlaggedScanners = append([]string(nil), r.FlaggedScanners...)
	}
	if r.Recommendations != nil {
		out.Recommendations = append([]string(nil), r.Recommendations...)
	}
	if r.ScannerResults != nil {
		out.ScannerResults = make(map[string]ScannerVerdict, len(r.ScannerResults))
		for id, v := range r.ScannerResults {
			if v.Metadata != nil {
				md := make(map[string]string, len(v.Metadata))
				for k, mv := range v.Metadata {
					md[k] = mv
				}
				v.Metadata = md
			}
			out.ScannerResults[id] = v
		}
	}
	return out
}
