package scanner

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/guardgate/guardgate/pkg/domain"
)

// DefaultSecretToken is the placeholder substituted for detected secrets.
const DefaultSecretToken = "[REDACTED:SECRET]"

type secretPattern struct {
	name  string
	expr  *regexp.Regexp
	score float64
}

var secretPatterns = []secretPattern{
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), 0.95},
	{"aws_secret_key", regexp.MustCompile(`(?i)(aws_secret_access_key|secret_access_key)\s*[=:]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`), 0.95},
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[a-zA-Z0-9]{36}\b`), 0.95},
	{"openai_key", regexp.MustCompile(`\bsk-[a-zA-Z0-9_-]{20,}\b`), 0.9},
	{"stripe_key", regexp.MustCompile(`\b[sp]k_live_[a-zA-Z0-9]{24,}\b`), 0.95},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*\b`), 0.95},
	{"google_api_key", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`), 0.9},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_.=-]{20,}`), 0.8},
	{"generic_api_key", regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[=:]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`), 0.85},
	{"private_key_block", regexp.MustCompile(`-----BEGIN (RSA |OPENSSH |EC )?PRIVATE KEY-----`), 0.98},
}

// Secrets detects credential material and rewrites it to a placeholder
// token. Re-running it over its own output makes no further changes: the
// placeholder does not match any secret pattern.
type Secrets struct {
	token string
}

// NewSecrets creates the secret-redaction scanner. An empty token selects
// DefaultSecretToken.
func NewSecrets(token string) *Secrets {
	if token == "" {
		token = DefaultSecretToken
	}
	return &Secrets{token: token}
}

func (s *Secrets) ID() string     { return "secrets" }
func (s *Secrets) Rewrites() bool { return true }

func (s *Secrets) Evaluate(ctx context.Context, content string) (domain.ScannerVerdict, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScannerVerdict{}, NewFailure(s.ID(), ReasonTimeout, err)
	}

	redacted := content
	maxScore := 0.0
	hits := 0
	var kinds []string

	for _, p := range secretPatterns {
		if !p.expr.MatchString(redacted) {
			continue
		}
		matches := p.expr.FindAllString(redacted, -1)
		hits += len(matches)
		kinds = append(kinds, p.name)
		if p.score > maxScore {
			maxScore = p.score
		}
		redacted = p.expr.ReplaceAllString(redacted, s.token)
	}

	verdict := domain.ScannerVerdict{
		ScannerID:        s.ID(),
		IsValid:          hits == 0,
		RiskScore:        maxScore,
		SanitizedContent: redacted,
		Rewrote:          true,
	}
	if hits > 0 {
		verdict.Metadata = map[string]string{
			"secrets_found": strconv.Itoa(hits),
			"kinds":         strings.Join(kinds, ","),
		}
	}
	return verdict, nil
}
