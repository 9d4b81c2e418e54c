package security

import (
	"regexp"
	"strings"
)

// writePatterns are Databricks SQL statements that change data or metadata.
var writePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(INSERT\s+(INTO|OVERWRITE)|UPDATE\s+\S+\s+SET|DELETE\s+FROM|MERGE\s+INTO)\b`),
	regexp.MustCompile(`(?i)\b(DROP|ALTER|CREATE|TRUNCATE|REPLACE)\s+(TABLE|VIEW|SCHEMA|DATABASE|CATALOG|FUNCTION)\b`),
	regexp.MustCompile(`(?i)\bCOPY\s+INTO\b`),
	regexp.MustCompile(`(?i)\b(OPTIMIZE|VACUUM|RESTORE)\s+\S+`),
	regexp.MustCompile(`(?i)\b(GRANT|REVOKE)\s+`),
	regexp.MustCompile(`;\s*\S`),
}

// SQLValidator checks that SQL generated by Genie only reads data. Genie runs the statement
// itself, so a failed check is reported, not enforced by rewriting.
type SQLValidator struct{}

func NewSQLValidator() *SQLValidator {
	return &SQLValidator{}
}

// Validate returns an empty string for read-only SQL, otherwise the reason it is not.
func (v *SQLValidator) Validate(sql string) string {
	trimmed := strings.TrimSpace(stripComments(sql))
	trimmed = strings.TrimRight(trimmed, "; \n\t")
	if trimmed == "" {
		return "SQL cannot be empty"
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") &&
		!strings.HasPrefix(upper, "SHOW") && !strings.HasPrefix(upper, "DESCRIBE") {
		return "only SELECT, WITH, SHOW and DESCRIBE statements are read-only"
	}
	for _, p := range writePatterns {
		if p.MatchString(trimmed) {
			return "statement modifies data: " + p.FindString(trimmed)
		}
	}
	return ""
}

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

func stripComments(sql string) string {
	return lineComment.ReplaceAllString(blockComment.ReplaceAllString(sql, " "), " ")
}
