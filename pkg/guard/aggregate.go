package guard

import (
	"github.com/guardgate/guardgate/pkg/domain"
	"github.com/guardgate/guardgate/pkg/scanner"
)

// recommendationTable maps flagged scanner ids to remediation advice.
var recommendationTable = map[string]string{
	"prompt_injection": "Potential prompt injection detected. Review and sanitize user input.",
	"secrets":          "Sensitive data detected. Remove API keys or secrets from content.",
	"toxicity":         "Toxic content detected. Please rephrase in a constructive manner.",
	"code":             "Code detected in input. Ensure code execution is intended.",
	"anonymize":        "Personally identifiable information detected and redacted.",
	"ban_substrings":   "Banned terms detected. Remove restricted words from content.",
	"ban_topics":       "Restricted topic detected. Steer the conversation elsewhere.",
	"bias":             "Potentially biased phrasing detected. Reword as a neutral statement.",
	"no_refusal":       "Response refuses the request. Consider rephrasing the prompt.",
	"relevance":        "Response appears irrelevant or degenerate. Retry the generation.",
	"sensitive":        "Sensitive data detected in the response. Review before returning it.",
}

// aggregation is the pure outcome of combining per-scanner verdicts.
type aggregation struct {
	riskScore       float64
	isSafe          bool
	flagged         []string
	recommendations []string
}

// aggregate combines verdicts into one decision. The risk score is the
// maximum across all verdicts: a single severe signal dominates, so safety
// gating is never diluted by many mild ones. A score exactly equal to the
// threshold counts as unsafe. Flagged scanners follow the declared order in
// orderFor, never completion or score order.
func aggregate(threshold float64, orderFor []string, verdicts map[string]domain.ScannerVerdict) aggregation {
	agg := aggregation{}

	for _, v := range verdicts {
		if v.RiskScore > agg.riskScore {
			agg.riskScore = v.RiskScore
		}
	}
	agg.isSafe = agg.riskScore < threshold

	for _, id := range orderFor {
		v, ok := verdicts[id]
		if !ok || v.IsValid {
			continue
		}
		agg.flagged = append(agg.flagged, id)
		if rec, ok := recommendationTable[id]; ok {
			agg.recommendations = append(agg.recommendations, rec)
		}
	}
	return agg
}

// orderedIDs sorts ids by the registry's declared-order position.
func orderedIDs(reg *scanner.Registry, ids []string) []string {
	out := append([]string(nil), ids...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && reg.Position(out[j]) < reg.Position(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
