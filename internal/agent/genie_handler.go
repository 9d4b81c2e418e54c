package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/models"
	"github.com/dataanalyst/dataanalyst/internal/security"
	"github.com/dataanalyst/dataanalyst/internal/service"
	"github.com/dataanalyst/dataanalyst/internal/tools"
	"github.com/rs/zerolog/log"
)

const SystemPrompt = `You are a Databricks data analyst. You answer questions about the data in a
Databricks Genie space by asking Genie, never by guessing.

RULES:
1. Use the databricks_genie_query tool for every data question. Pass the user's question in
   natural language; do not write SQL for Genie.
2. Reuse the conversation_id the tool returned when you ask a follow-up about the same topic.
3. Use describe_genie_space when you need to know what data the space covers.
4. If Genie generated SQL, repeat it in your final answer in a code block exactly like this:
` + "```sql" + `
SELECT ...
` + "```" + `
5. Explain the results in plain language. Never invent numbers that Genie did not return.`

// GenieHandler orchestrates the question -> agent -> Genie pipeline.
type GenieHandler struct {
	agent *AnalystAgent
	svc   *service.GenieService
	audit *security.AuditLogger
}

func NewGenieHandler(agent *AnalystAgent, svc *service.GenieService, audit *security.AuditLogger) *GenieHandler {
	return &GenieHandler{agent: agent, svc: svc, audit: audit}
}

// Handle runs one agent request against the Genie space.
func (h *GenieHandler) Handle(ctx context.Context, req *models.AgentRequest, apiKey string) (*models.AgentResponse, error) {
	start := time.Now()
	metadata := map[string]interface{}{
		"data_source": "databricks_genie",
		"model":       h.agent.Model(),
		"method":      "agent",
	}

	if err := h.svc.Validate(req.Prompt); err != nil {
		metadata["prompt_validation"] = "blocked"
		h.audit.LogAgentRun(req.Prompt, apiKey, "", false, time.Since(start).Milliseconds())
		return &models.AgentResponse{
			Status:        "error",
			Prompt:        req.Prompt,
			AgentMetadata: metadata,
		}, err
	}
	metadata["prompt_validation"] = "passed"

	agentCtx, cancel := context.WithTimeout(ctx, time.Duration(req.Timeout)*time.Second)
	defer cancel()

	run, err := h.agent.Run(agentCtx, SystemPrompt, UserPrompt(req), tools.ForAnalyst(h.svc, apiKey))
	if run != nil {
		metadata["tools_used"] = run.ToolsUsed
		metadata["iterations"] = run.Iterations
	}
	if err != nil {
		h.audit.LogAgentRun(req.Prompt, apiKey, "", true, time.Since(start).Milliseconds())
		return nil, fmt.Errorf("agent run: %w", err)
	}

	resp := &models.AgentResponse{
		Status:        "success",
		Prompt:        req.Prompt,
		AgentMetadata: metadata,
	}

	summary, ok := lastGenieSummary(run)
	if ok {
		resp.ConversationID = summary.ConversationID
		resp.Result = summary.Results
		if summary.SQLWarning != "" {
			metadata["sql_warning"] = summary.SQLWarning
		}
	}

	generatedSQL := extractSQL(run.Text)
	if generatedSQL == "" && ok && summary.SQL != "" && summary.SQL != "Not available" {
		generatedSQL = summary.SQL
		log.Debug().Str("sql", truncate(generatedSQL, 60)).Msg("using Genie SQL as fallback")
	}
	if generatedSQL != "" {
		resp.GeneratedSQL = &generatedSQL
	}

	h.audit.LogAgentRun(req.Prompt, apiKey, generatedSQL, true, time.Since(start).Milliseconds())

	reasoning := truncate(run.Text, 500)
	answer := run.Text
	resp.Reasoning = &reasoning
	resp.Answer = &answer
	return resp, nil
}

// UserPrompt turns an agent request into the first user message.
func UserPrompt(req *models.AgentRequest) string {
	var sb strings.Builder
	sb.WriteString(req.Prompt)
	if req.ConversationID != "" {
		fmt.Fprintf(&sb, "\n\nContinue the existing Genie conversation %s (pass it as conversation_id).", req.ConversationID)
	}
	if req.FetchResults != nil {
		fmt.Fprintf(&sb, "\n\nCall the Genie tool with fetch_query_results set to %t.", *req.FetchResults)
	}
	return sb.String()
}

type genieSummary struct {
	ConversationID string              `json:"conversation_id"`
	MessageID      string              `json:"message_id"`
	SQL            string              `json:"sql"`
	SQLWarning     string              `json:"sql_warning"`
	Results        *models.QueryResult `json:"-"`
}

// lastGenieSummary decodes the output of the last successful Genie query.
func lastGenieSummary(run *RunResult) (genieSummary, bool) {
	out, ok := run.LastOutput(tools.GenieQueryToolName)
	if !ok {
		return genieSummary{}, false
	}
	var raw struct {
		genieSummary
		Results json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal([]byte(out.Output), &raw); err != nil {
		log.Warn().Err(err).Msg("unreadable genie tool output")
		return genieSummary{}, false
	}
	s := raw.genieSummary
	var res models.QueryResult
	if len(raw.Results) > 0 && raw.Results[0] == '{' && json.Unmarshal(raw.Results, &res) == nil {
		s.Results = &res
	}
	return s, true
}

// extractSQL pulls SQL from model output using 4 strategies in order:
// 1. ```sql ... ``` code block (preferred)
// 2. ``` ... ``` generic code block containing SELECT/WITH
// 3. SELECT/WITH statement spanning multiple lines (greedy until LIMIT or end)
// 4. Single-line SELECT statement as last resort
var (
	// CTE: WITH name AS ( ... ) SELECT ...
	reMultilineSQL = regexp.MustCompile(`(?is)(WITH\s+\w+\s+AS\s*\(.+?(?:LIMIT\s+\d+|;\s*$|\z))`)
	// Plain SELECT spanning multiple lines ending with LIMIT or semicolon
	reSelectBlock = regexp.MustCompile(`(?is)(SELECT\s+.+?FROM\s+.+?(?:LIMIT\s+\d+|;\s*$|\z))`)
	reSingleSQL   = regexp.MustCompile(`(?i)(SELECT\s+\S.+?\bFROM\b\s+\S+)`)
)

func extractSQL(text string) string {
	// Strategy 1: ```sql / ```SQL block
	lower := strings.ToLower(text)
	for _, tag := range []string{"```sql", "```SQL"} {
		idx := strings.Index(lower, strings.ToLower(tag))
		if idx == -1 {
			continue
		}
		// skip past the tag and optional newline
		body := text[idx+len(tag):]
		if len(body) > 0 && body[0] == '\n' {
			body = body[1:]
		}
		end := strings.Index(body, "```")
		if end != -1 {
			if sql := strings.TrimSpace(body[:end]); sql != "" {
				return sql
			}
		}
	}

	// Strategy 2: any ``` block whose content starts with SELECT or WITH
	parts := strings.Split(text, "```")
	for i := 1; i < len(parts); i += 2 {
		candidate := strings.TrimSpace(parts[i])
		// strip language tag line if present (e.g. "python\nSELECT")
		if nl := strings.Index(candidate, "\n"); nl != -1 {
			firstLine := strings.TrimSpace(candidate[:nl])
			if !strings.Contains(strings.ToUpper(firstLine), "SELECT") &&
				!strings.Contains(strings.ToUpper(firstLine), "WITH") {
				candidate = strings.TrimSpace(candidate[nl:])
			}
		}
		up := strings.ToUpper(candidate)
		if strings.HasPrefix(up, "SELECT") || strings.HasPrefix(up, "WITH") {
			return strings.TrimSuffix(strings.TrimSpace(candidate), ";")
		}
	}

	// Strategy 3a: proper CTE (WITH name AS ...)
	if m := reMultilineSQL.FindString(text); m != "" {
		return strings.TrimSuffix(strings.TrimSpace(m), ";")
	}

	// Strategy 3b: multi-line SELECT ... FROM ... LIMIT
	if m := reSelectBlock.FindString(text); m != "" {
		candidate := strings.TrimSuffix(strings.TrimSpace(m), ";")
		// sanity check: must contain FROM keyword
		if strings.Contains(strings.ToUpper(candidate), " FROM ") {
			return candidate
		}
	}

	// Strategy 4: single-line SELECT as last resort
	if m := reSingleSQL.FindString(text); m != "" {
		return strings.TrimSuffix(strings.TrimSpace(m), ";")
	}

	return ""
}
