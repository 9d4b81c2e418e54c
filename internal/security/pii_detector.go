package security

import (
	"regexp"
	"strings"
)

// PIIDetector flags questions that ask for sensitive personal data.
type PIIDetector struct {
	keywords []string
	patterns []*regexp.Regexp
}

// NewPIIDetector matches each keyword as whole words, case-insensitively.
func NewPIIDetector(keywords []string) *PIIDetector {
	d := &PIIDetector{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		words := strings.Fields(k)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		d.keywords = append(d.keywords, k)
		d.patterns = append(d.patterns, regexp.MustCompile(`(?i)\b`+strings.Join(words, `[\s_-]+`)+`\b`))
	}
	return d
}

// Detect returns true and the matched keyword if PII is found in text
func (d *PIIDetector) Detect(text string) (bool, string) {
	for i, p := range d.patterns {
		if p.MatchString(text) {
			return true, d.keywords[i]
		}
	}
	return false, ""
}
