package models

import "strings"

// AskRequest for POST /api/v1/ask
type AskRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
	// FetchResults nil lets the intent router decide.
	FetchResults        *bool `json:"fetch_results,omitempty"`
	PollIntervalSeconds int   `json:"poll_interval_seconds,omitempty"`
	TimeoutSeconds      int   `json:"timeout_seconds,omitempty"`
	// Report asks the server to also return the rendered Markdown report.
	Report bool `json:"report"`
}

func (r *AskRequest) SetDefaults() {
	r.Question = strings.TrimSpace(r.Question)
	r.ConversationID = strings.TrimSpace(r.ConversationID)
	if r.PollIntervalSeconds < 0 {
		r.PollIntervalSeconds = 0
	}
	if r.TimeoutSeconds < 0 {
		r.TimeoutSeconds = 0
	}
	if r.TimeoutSeconds > 3600 {
		r.TimeoutSeconds = 3600
	}
}

// FollowUpRequest for POST /api/v1/conversations/{conversation_id}/messages
type FollowUpRequest struct {
	Question     string `json:"question"`
	FetchResults *bool  `json:"fetch_results,omitempty"`
	Report       bool   `json:"report"`
}

// AgentRequest for POST /api/v1/query-agent
type AgentRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id,omitempty"`
	FetchResults   *bool  `json:"fetch_results,omitempty"`
	Timeout        int    `json:"timeout"`
}

func (r *AgentRequest) SetDefaults() {
	if r.Timeout == 0 {
		r.Timeout = 300
	}
	if r.Timeout < 10 {
		r.Timeout = 10
	}
	if r.Timeout > 900 {
		r.Timeout = 900
	}
}
