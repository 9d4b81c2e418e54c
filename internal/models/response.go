package models

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// QueryResult is the tabular result of the SQL Genie generated.
type QueryResult struct {
	Columns       []string `json:"columns"`
	Rows          [][]any  `json:"rows"`
	RowCount      int64    `json:"row_count"`
	Truncated     bool     `json:"truncated"`
	MaskedColumns int      `json:"masked_columns"`
}

// AskResponse is returned by POST /api/v1/ask and the follow-up endpoint.
type AskResponse struct {
	Status         string       `json:"status"`
	Question       string       `json:"question"`
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id"`
	Response       string       `json:"response,omitempty"`
	Description    string       `json:"description,omitempty"`
	SQL            *string      `json:"sql,omitempty"`
	ReadOnlySQL    bool         `json:"read_only_sql"`
	SQLWarning     string       `json:"sql_warning,omitempty"`
	Result         *QueryResult `json:"result,omitempty"`
	Routing        string       `json:"routing"`
	ExecutionMs    int64        `json:"execution_time_ms"`
	Report         string       `json:"report,omitempty"`
}

// AgentResponse is returned by POST /api/v1/query-agent
type AgentResponse struct {
	Status         string                 `json:"status"`
	Prompt         string                 `json:"prompt"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	GeneratedSQL   *string                `json:"generated_sql,omitempty"`
	Result         *QueryResult           `json:"result,omitempty"`
	AgentMetadata  map[string]interface{} `json:"agent_metadata"`
	Reasoning      *string                `json:"reasoning,omitempty"`
	Answer         *string                `json:"answer,omitempty"`
}
