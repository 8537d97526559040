package scanner

import (
	"context"
	"regexp"
	"strings"

	"github.com/guardgate/guardgate/pkg/domain"
)

// pattern is a named regex with a risk weight.
type pattern struct {
	name  string
	expr  *regexp.Regexp
	score float64
}

func cleanVerdict(id string) domain.ScannerVerdict {
	return domain.ScannerVerdict{ScannerID: id, IsValid: true, RiskScore: 0}
}

// PromptInjection detects instruction-override and system-prompt
// extraction attempts against pattern tables.
type PromptInjection struct {
	patterns []pattern
}

// NewPromptInjection creates the prompt injection scanner with the
// built-in pattern set.
func NewPromptInjection() *PromptInjection {
	return &PromptInjection{patterns: []pattern{
		{"ignore_instructions", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`), 0.95},
		{"system_prompt_extract", regexp.MustCompile(`(?i)(repeat|show|print|reveal|output)\s+(your\s+)?(system\s+prompt|instructions|rules)`), 0.95},
		{"prompt_override", regexp.MustCompile(`(?i)(disregard|forget|override)\s+(all\s+)?(previous|prior|above|your)\s+(instructions|rules|guidelines)`), 0.9},
		{"role_injection", regexp.MustCompile(`(?i)\[\[?\s*system\s*\]?\]`), 0.85},
		{"jailbreak_dan", regexp.MustCompile(`(?i)you\s+are\s+now\s+DAN`), 0.9},
		{"act_as_bypass", regexp.MustCompile(`(?i)act\s+as\s+(an?\s+)?(unrestricted|unfiltered|uncensored)`), 0.85},
	}}
}

func (s *PromptInjection) ID() string     { return "prompt_injection" }
func (s *PromptInjection) Rewrites() bool { return false }

// Evaluate reports the highest-weighted matching pattern.
func (s *PromptInjection) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScannerVerdict{}, NewFailure(s.ID(), ReasonTimeout, err)
	}

	trimmed := strings.TrimSpace(content)
	verdict := cleanVerdict(s.ID())
	for _, p := range s.patterns {
		if p.expr.MatchString(trimmed) && p.score > verdict.RiskScore {
			verdict.IsValid = false
			verdict.RiskScore = p.score
			verdict.Metadata = map[string]string{"pattern": p.name}
		}
	}
	return verdict, nil
}

// BanSubstrings flags content containing any of the configured substrings.
type BanSubstrings struct {
	substrings    []string
	caseSensitive bool
}

// NewBanSubstrings creates the banned-substring scanner.
func NewBanSubstrings(substrings []string, caseSensitive bool) *BanSubstrings {
	return &BanSubstrings{substrings: substrings, caseSensitive: caseSensitive}
}

func (s *BanSubstrings) ID() string     { return "ban_substrings" }
func (s *BanSubstrings) Rewrites() bool { return false }

func (s *BanSubstrings) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScannerVerdict{}, NewFailure(s.ID(), ReasonTimeout, err)
	}

	haystack := content
	if !s.caseSensitive {
		haystack = strings.ToLower(content)
	}

	var matched []string
	for _, sub := range s.substrings {
		needle := sub
		if !s.caseSensitive {
			needle = strings.ToLower(sub)
		}
		if strings.Contains(haystack, needle) {
			matched = append(matched, sub)
		}
	}

	verdict := cleanVerdict(s.ID())
	if len(matched) > 0 {
		verdict.IsValid = false
		verdict.RiskScore = 1.0
		verdict.Metadata = map[string]string{"matched": strings.Join(matched, ",")}
	}
	return verdict, nil
}

// topicKeywords maps each bannable topic to its indicator terms.
var topicKeywords = map[string][]string{
	"violence": {"kill", "murder", "attack", "bomb", "weapon", "assault", "shoot"},
	"illegal":  {"hack into", "steal", "counterfeit", "launder", "smuggle", "forge"},
	"hate":     {"racial slur", "ethnic cleansing", "genocide", "supremacist"},
}

// BanTopics flags content matching keyword sets for the configured topics.
type BanTopics struct {
	topics []string
}

// NewBanTopics creates the banned-topic scanner.
func NewBanTopics(topics []string) *BanTopics {
	return &BanTopics{topics: topics}
}

func (s *BanTopics) ID() string     { return "ban_topics" }
func (s *BanTopics) Rewrites() bool { return false }

func (s *BanTopics) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScannerVerdict{}, NewFailure(s.ID(), ReasonTimeout, err)
	}

	lowered := strings.ToLower(content)
	verdict := cleanVerdict(s.ID())
	for _, topic := range s.topics {
		for _, kw := range topicKeywords[topic] {
			if strings.Contains(lowered, kw) {
				verdict.IsValid = false
				if verdict.RiskScore < 0.8 {
					verdict.RiskScore = 0.8
				}
				verdict.Metadata = map[string]string{"topic": topic}
			}
		}
	}
	return verdict, nil
}

// languagePatterns holds code-shape regexes per supported language.
var languagePatterns = map[string][]pattern{
	"python": {
		{"python_def", regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\(.*\)\s*:`), 0.75},
		{"python_import", regexp.MustCompile(`(?m)^\s*(import\s+\w+|from\s+\w+\s+import\b)`), 0.7},
	},
	"javascript": {
		{"js_function", regexp.MustCompile(`\bfunction\s+\w*\s*\(`), 0.75},
		{"js_arrow", regexp.MustCompile(`(?:const|let|var)\s+\w+\s*=\s*(?:\([^)]*\)|\w+)\s*=>`), 0.75},
		{"js_console", regexp.MustCompile(`\bconsole\.(log|error|warn)\s*\(`), 0.7},
	},
}

// Code detects source code in content for the configured languages.
type Code struct {
	patterns []pattern
}

// NewCode creates the code-detection scanner.
func NewCode(languages []string) *Code {
	c := &Code{}
	c.patterns = append(c.patterns, pattern{"code_fence", regexp.MustCompile("(?s)```.+```"), 0.8})
	for _, lang := range languages {
		c.patterns = append(c.patterns, languagePatterns[lang]...)
	}
	return c
}

func (s *Code) ID() string     { return "code" }
func (s *Code) Rewrites() bool { return false }

func (s *Code) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
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

// toxicTerms is a small built-in severity table. Real deployments swap this
// scanner for a classifier-backed adapter behind the same contract.
var toxicTerms = []struct {
	term  string
	score float64
}{
	{"idiot", 0.7},
	{"moron", 0.7},
	{"stupid", 0.65},
	{"hate you", 0.8},
	{"worthless", 0.75},
	{"kill yourself", 0.98},
}

// Toxicity flags insulting or abusive language.
type Toxicity struct{}

// NewToxicity creates the toxicity scanner.
func NewToxicity() *Toxicity { return &Toxicity{} }

func (s *Toxicity) ID() string     { return "toxicity" }
func (s *Toxicity) Rewrites() bool { return false }

func (s *Toxicity) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScannerVerdict{}, NewFailure(s.ID(), ReasonTimeout, err)
	}

	lowered := strings.ToLower(content)
	verdict := cleanVerdict(s.ID())
	for _, t := range toxicTerms {
		if strings.Contains(lowered, t.term) && t.score > verdict.RiskScore {
			verdict.IsValid = false
			verdict.RiskScore = t.score
			verdict.Metadata = map[string]string{"term": t.term}
		}
	}
	return verdict, nil
}
