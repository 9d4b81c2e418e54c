package security

import (
	"fmt"
	"regexp"
	"strings"
)

const MaxPromptLength = 2000

type promptRule struct {
	reason   string
	patterns []*regexp.Regexp
}

// promptRules reject questions that try to reach the shell, the filesystem or the agent's
// own instructions instead of asking about data.
var promptRules = []promptRule{
	{"command execution", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+[-/]`),
		regexp.MustCompile(`(?i)\b(cp|mv)\s+.*\s+/etc`),
		regexp.MustCompile(`(?i)\b(curl|wget|nc|sudo|su)\s+`),
		regexp.MustCompile(`(?i)\b(bash|sh|zsh)\s+-`),
		regexp.MustCompile(`(?i)\bpython\d?\s+.*\.py`),
		regexp.MustCompile(`(?i)\bnode\s+.*\.js`),
		regexp.MustCompile(`(?i)\bdatabricks\s+(fs|workspace|secrets)\b`),
	}},
	{"file access", []*regexp.Regexp{
		regexp.MustCompile(`\.\./`),
		regexp.MustCompile(`/etc/(passwd|shadow)`),
		regexp.MustCompile(`/(proc|sys)/`),
		regexp.MustCompile(`(^|\s)\.env(\s|$)`),
		regexp.MustCompile(`id_rsa|\.ssh/|\.databrickscfg`),
		regexp.MustCompile(`>>?\s*/`),
		regexp.MustCompile(`(?i)\bdbfs:/`),
	}},
	{"code execution", []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(eval|exec|system|subprocess|__import__)\s*\(`),
		regexp.MustCompile(`(?i)os\.system|popen|dbutils\.`),
	}},
	{"prompt injection", []*regexp.Regexp{
		regexp.MustCompile(`(?i)(ignore|disregard|forget|override)\s+(all\s+)?(previous|prior|above)\s+instructions`),
		regexp.MustCompile(`(?i)(new|change)\s+context\s*:`),
		regexp.MustCompile(`(?i)instead\s+of\s+the\s+above`),
		regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+prompt|token|credentials)`),
	}},
}

var dataKeywords = []string{
	"data", "table", "query", "show", "list", "get", "find", "give",
	"order", "transaction", "customer", "user", "product", "report",
	"analytics", "metric", "count", "sum", "aggregate", "average", "avg",
	"total", "revenue", "sales", "top", "bottom", "compare", "trend",
	"how many", "how much", "which", "what", "when", "where", "who",
	"per ", "by ", "last", "month", "year", "week", "day", "rate",
	"growth", "distribution", "breakdown", "rank",
}

// PromptValidator screens natural-language questions before they are sent to Genie.
type PromptValidator struct {
	maxLength int
}

// NewPromptValidator returns a validator with the given length cap; 0 means MaxPromptLength.
func NewPromptValidator(maxLength int) *PromptValidator {
	if maxLength <= 0 {
		maxLength = MaxPromptLength
	}
	return &PromptValidator{maxLength: maxLength}
}

// ValidationResult contains validation outcome
type ValidationResult struct {
	Valid   bool
	Message string
}

// Validate checks a question for length, dangerous content and data intent.
func (v *PromptValidator) Validate(prompt string) ValidationResult {
	if strings.TrimSpace(prompt) == "" {
		return ValidationResult{Valid: false, Message: "question cannot be empty"}
	}
	if n := len([]rune(prompt)); n > v.maxLength {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("question too long: %d chars (max %d)", n, v.maxLength),
		}
	}

	for _, rule := range promptRules {
		for _, p := range rule.patterns {
			if p.MatchString(prompt) {
				return ValidationResult{Valid: false, Message: rule.reason + " is not allowed in a question"}
			}
		}
	}

	lower := strings.ToLower(prompt)
	for _, kw := range dataKeywords {
		if strings.Contains(lower, kw) {
			return ValidationResult{Valid: true, Message: "ok"}
		}
	}
	return ValidationResult{
		Valid:   false,
		Message: "question does not look like a data question (ask for counts, totals, lists, trends, ...)",
	}
}
