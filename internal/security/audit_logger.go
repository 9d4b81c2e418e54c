package security

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/rs/zerolog/log"
)

// AuditLogger logs security-relevant events with hashed identifiers
type AuditLogger struct {
	enabled bool
}

func NewAuditLogger(enabled bool) *AuditLogger {
	return &AuditLogger{enabled: enabled}
}

// AskEvent describes one Genie question as seen by the audit trail.
type AskEvent struct {
	Question       string
	APIKey         string
	ConversationID string
	MessageID      string
	SQL            string
	ReadOnly       bool
	RowCount       int64
	MaskedColumns  int
	DurationMs     int64
	// Outcome is "completed" or an error kind.
	Outcome string
}

// LogAsk records a Genie question. Question, key and SQL are logged as hash prefixes only.
func (a *AuditLogger) LogAsk(e AskEvent) {
	if a == nil || !a.enabled {
		return
	}
	evt := log.Info().
		Str("event", "genie_audit").
		Str("question_hash", HashPrefix(e.Question)).
		Str("api_key_hash", HashPrefix(e.APIKey)).
		Str("conversation_id", e.ConversationID).
		Str("message_id", e.MessageID).
		Int64("row_count", e.RowCount).
		Int("masked_columns", e.MaskedColumns).
		Int64("duration_ms", e.DurationMs).
		Str("outcome", e.Outcome)
	if e.SQL != "" {
		evt = evt.Str("sql_hash", HashPrefix(e.SQL)).Bool("sql_read_only", e.ReadOnly)
	}
	evt.Msg("audit")
}

// LogAgentRun records an LLM agent request event
func (a *AuditLogger) LogAgentRun(prompt, apiKey, generatedSQL string, validationPassed bool, executionTimeMs int64) {
	if a == nil || !a.enabled {
		return
	}
	sqlHash := ""
	if generatedSQL != "" {
		sqlHash = HashPrefix(generatedSQL)
	}
	log.Info().
		Str("event", "agent_audit").
		Str("prompt_hash", HashPrefix(prompt)).
		Str("api_key_hash", HashPrefix(apiKey)).
		Str("sql_hash", sqlHash).
		Bool("validation_passed", validationPassed).
		Int64("execution_time_ms", executionTimeMs).
		Msg("agent audit")
}

// HashPrefix is the first 16 hex chars of the sha256 of s. Empty input stays empty.
func HashPrefix(s string) string {
	if s == "" {
		return ""
	}
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])[:16]
}
