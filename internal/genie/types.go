package genie

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is the server-reported state of a Genie message.
type Status string

const (
	// StatusPending is the client-side state of a freshly started message.
	StatusPending            Status = "PENDING"
	StatusSubmitted          Status = "SUBMITTED"
	StatusFetchingMetadata   Status = "FETCHING_METADATA"
	StatusFilteringContext   Status = "FILTERING_CONTEXT"
	StatusAskingAI           Status = "ASKING_AI"
	StatusPendingWarehouse   Status = "PENDING_WAREHOUSE"
	StatusExecutingQuery     Status = "EXECUTING_QUERY"
	StatusCompleted          Status = "COMPLETED"
	StatusFailed             Status = "FAILED"
	StatusCancelled          Status = "CANCELLED"
	StatusQueryResultExpired Status = "QUERY_RESULT_EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusQueryResultExpired:
		return true
	}
	return false
}

// Handle identifies one message of a conversation.
type Handle struct {
	ConversationID string
	MessageID      string
	Status         Status
	// StartedAt anchors the client-side timeout.
	StartedAt time.Time
}

// Space is the subset of Genie space metadata the client reads.
type Space struct {
	SpaceID     string `json:"space_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	WarehouseID string `json:"warehouse_id,omitempty"`
}

// Message is a Genie message as returned by the status endpoint.
type Message struct {
	ID             string        `json:"id"`
	MessageID      string        `json:"message_id"`
	ConversationID string        `json:"conversation_id"`
	SpaceID        string        `json:"space_id"`
	Content        string        `json:"content"`
	Status         Status        `json:"status"`
	Attachments    []Attachment  `json:"attachments"`
	Error          *MessageError `json:"error,omitempty"`
}

// Attachment carries either a generated query or a text answer.
type Attachment struct {
	AttachmentID string           `json:"attachment_id"`
	Query        *QueryAttachment `json:"query,omitempty"`
	Text         *TextAttachment  `json:"text,omitempty"`
}

// QueryAttachment is the SQL Genie generated for the question.
type QueryAttachment struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Query       string `json:"query,omitempty"`
}

// TextAttachment accepts both {"content": "..."} and a bare string.
type TextAttachment struct {
	Content string `json:"content"`
}

func (t *TextAttachment) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Content = s
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Content = obj.Content
	return nil
}

// MessageError accepts a bare string, {"error": "...", "type": "..."} or {"message": "..."}.
type MessageError struct {
	Message string
	Type    string
}

func (e *MessageError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Message = s
		return nil
	}
	var obj struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Message = obj.Error
	if e.Message == "" {
		e.Message = obj.Message
	}
	e.Type = obj.Type
	return nil
}

func (m *Message) errorMessage() string {
	if m.Error == nil || m.Error.Message == "" {
		return "unknown error"
	}
	return m.Error.Message
}

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// QueryResult is the tabular output of a completed message.
type QueryResult struct {
	Columns   []Column `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int64    `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

// ColumnNames returns the column names in order.
func (r *QueryResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Answer is a completed question/answer turn.
type Answer struct {
	Handle       Handle       `json:"-"`
	Question     string       `json:"question"`
	SQL          string       `json:"sql,omitempty"`
	Description  string       `json:"description,omitempty"`
	Text         string       `json:"text,omitempty"`
	AttachmentID string       `json:"attachment_id,omitempty"`
	Result       *QueryResult `json:"result,omitempty"`
}

// AskOptions tunes a single Ask call. Zero values fall back to the client defaults.
type AskOptions struct {
	ConversationID string
	FetchResults   bool
	PollInterval   time.Duration
	Timeout        time.Duration
}

// startResponse covers both the nested and the flat id layouts.
type startResponse struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	ID             string `json:"id"`
	Conversation   struct {
		ID string `json:"id"`
	} `json:"conversation"`
	Message struct {
		ID     string `json:"id"`
		Status Status `json:"status"`
	} `json:"message"`
}

func (r *startResponse) ids() (conversationID, messageID string) {
	conversationID = firstNonEmpty(r.Conversation.ID, r.ConversationID)
	messageID = firstNonEmpty(r.Message.ID, r.MessageID, r.ID)
	return conversationID, messageID
}

type queryResultResponse struct {
	StatementResponse struct {
		StatementID string `json:"statement_id"`
		Status      struct {
			State string `json:"state"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error,omitempty"`
		} `json:"status"`
		Manifest struct {
			Schema struct {
				Columns []struct {
					Name     string `json:"name"`
					TypeName string `json:"type_name"`
					Position int    `json:"position"`
				} `json:"columns"`
			} `json:"schema"`
			TotalRowCount int64 `json:"total_row_count"`
			Truncated     bool  `json:"truncated"`
		} `json:"manifest"`
		Result struct {
			DataArray [][]*string `json:"data_array"`
			RowCount  int64       `json:"row_count"`
		} `json:"result"`
	} `json:"statement_response"`
}

func (r *queryResultResponse) toResult() *QueryResult {
	sr := r.StatementResponse
	out := &QueryResult{
		Columns:   make([]Column, len(sr.Manifest.Schema.Columns)),
		Rows:      make([][]any, 0, len(sr.Result.DataArray)),
		RowCount:  sr.Manifest.TotalRowCount,
		Truncated: sr.Manifest.Truncated,
	}
	for i, c := range sr.Manifest.Schema.Columns {
		out.Columns[i] = Column{Name: c.Name, Type: c.TypeName}
	}
	for _, raw := range sr.Result.DataArray {
		row := make([]any, len(raw))
		for i, v := range raw {
			typ := ""
			if i < len(out.Columns) {
				typ = out.Columns[i].Type
			}
			row[i] = convertValue(typ, v)
		}
		out.Rows = append(out.Rows, row)
	}
	if out.RowCount == 0 {
		out.RowCount = int64(len(out.Rows))
	}
	return out
}

// convertValue types a JSON_ARRAY cell from its column type. Unparseable values stay strings.
func convertValue(typeName string, v *string) any {
	if v == nil {
		return nil
	}
	switch strings.ToUpper(typeName) {
	case "BYTE", "SHORT", "INT", "LONG":
		if n, err := strconv.ParseInt(*v, 10, 64); err == nil {
			return n
		}
	case "FLOAT", "DOUBLE":
		if f, err := strconv.ParseFloat(*v, 64); err == nil {
			return f
		}
	case "BOOLEAN":
		if b, err := strconv.ParseBool(*v); err == nil {
			return b
		}
	}
	return *v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
