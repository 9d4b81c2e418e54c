package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe      = regexp.MustCompile(`(?i)e_?mail`)
	phoneRe      = regexp.MustCompile(`(?i)phone|mobile`)
	ssnRe        = regexp.MustCompile(`(?i)ssn|social_security`)
	creditCardRe = regexp.MustCompile(`(?i)credit_card|card_number|\bpan\b`)
	fullMaskRe   = regexp.MustCompile(`(?i)password|secret|token|api_key|access_key|private_key`)
)

// DataMasker masks sensitive columns of Genie query results before they are shown or written.
type DataMasker struct {
	sensitiveColumns []string
}

func NewDataMasker(sensitiveColumns []string) *DataMasker {
	lower := make([]string, 0, len(sensitiveColumns))
	for _, c := range sensitiveColumns {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			lower = append(lower, c)
		}
	}
	return &DataMasker{sensitiveColumns: lower}
}

// MaskRows returns a copy of rows with sensitive columns masked. NULL cells stay NULL.
// It reports how many columns were masked.
func (m *DataMasker) MaskRows(columns []string, rows [][]any) ([][]any, int) {
	sensitive := make([]bool, len(columns))
	n := 0
	for i, c := range columns {
		if m.IsSensitive(c) {
			sensitive[i] = true
			n++
		}
	}
	if n == 0 {
		return rows, 0
	}

	out := make([][]any, len(rows))
	for r, row := range rows {
		masked := make([]any, len(row))
		for i, v := range row {
			if i < len(sensitive) && sensitive[i] && v != nil {
				masked[i] = maskValue(columns[i], fmt.Sprint(v))
			} else {
				masked[i] = v
			}
		}
		out[r] = masked
	}
	return out, n
}

// IsSensitive reports whether a column name looks like it holds personal or secret data.
func (m *DataMasker) IsSensitive(col string) bool {
	lower := strings.ToLower(col)
	for _, s := range m.sensitiveColumns {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return emailRe.MatchString(col) || phoneRe.MatchString(col) ||
		ssnRe.MatchString(col) || creditCardRe.MatchString(col) || fullMaskRe.MatchString(col)
}

func maskValue(col, val string) string {
	switch {
	case emailRe.MatchString(col):
		return maskEmail(val)
	case phoneRe.MatchString(col):
		return "***-***-" + lastDigits(val, 4, "****")
	case ssnRe.MatchString(col):
		return "***-**-****"
	case creditCardRe.MatchString(col):
		return "****-****-****-" + lastDigits(val, 4, "****")
	default:
		return "***"
	}
}

// maskEmail: "john.doe@example.com" → "jo***@***.com"
func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***"
	}
	visible := 2
	if len(local) < visible {
		visible = len(local)
	}
	ext := domain
	if i := strings.LastIndex(domain, "."); i >= 0 {
		ext = domain[i+1:]
	}
	return local[:visible] + "***@***." + ext
}

func lastDigits(s string, n int, fallback string) string {
	var digits strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	d := digits.String()
	if len(d) < n {
		return fallback
	}
	return d[len(d)-n:]
}
