package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/service"
)

const (
	GenieQueryToolName = "databricks_genie_query"

	// maxToolRows caps the rows handed back to the LLM; the report carries the full result.
	maxToolRows = 50
)

// GenieQueryTool asks the configured Genie space a natural-language question.
// apiKey identifies the caller in the audit trail.
func GenieQueryTool(svc *service.GenieService, apiKey string) Tool {
	return Tool{
		Name: GenieQueryToolName,
		Description: "Queries a Databricks Genie space using natural language. It can start a new " +
			"conversation or continue an existing one, returns Genie's textual response and the " +
			"generated SQL, and optionally the rows of the executed query. Returns the conversation " +
			"ID, message ID, response, SQL and results as JSON.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"natural_language_query": map[string]interface{}{
					"type":        "string",
					"description": "The natural language question to ask Databricks Genie.",
				},
				"conversation_id": map[string]interface{}{
					"type":        "string",
					"description": "ID of an existing conversation to continue. Omit to start a new conversation.",
				},
				"fetch_query_results": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, fetch and return the data rows of the generated SQL query.",
				},
				"polling_interval_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "How often to poll for Genie's response status. Defaults to 5 seconds.",
				},
				"polling_timeout_seconds": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum time to wait for Genie to finish. Defaults to 600 seconds.",
				},
			},
			"required": []string{"natural_language_query"},
		},
		Execute: func(ctx context.Context, input map[string]interface{}) (string, error) {
			question, _ := input["natural_language_query"].(string)
			if strings.TrimSpace(question) == "" {
				return "", fmt.Errorf("natural_language_query is required")
			}

			req := service.AskRequest{
				Question:       question,
				ConversationID: stringInput(input, "conversation_id"),
				PollInterval:   secondsInput(input, "polling_interval_seconds"),
				Timeout:        secondsInput(input, "polling_timeout_seconds"),
				APIKey:         apiKey,
			}
			if v, ok := input["fetch_query_results"].(bool); ok {
				req.FetchResults = &v
			}

			res, err := svc.Ask(ctx, req)
			if err != nil {
				return "", fmt.Errorf("genie query: %w", err)
			}
			return summarize(res), nil
		},
	}
}

func summarize(res *service.AskResult) string {
	ans := res.Answer
	out := map[string]interface{}{
		"conversation_id": ans.Handle.ConversationID,
		"message_id":      ans.Handle.MessageID,
		"response":        orNotAvailable(ans.Text),
		"sql":             orNotAvailable(ans.SQL),
	}
	if res.SQLWarning != "" {
		out["sql_warning"] = res.SQLWarning
	}

	switch {
	case ans.Result != nil:
		rows := ans.Result.Rows
		if len(rows) > maxToolRows {
			rows = rows[:maxToolRows]
		}
		out["results"] = map[string]interface{}{
			"columns":        ans.Result.ColumnNames(),
			"rows":           rows,
			"row_count":      ans.Result.RowCount,
			"rows_returned":  len(rows),
			"truncated":      ans.Result.Truncated || len(rows) < len(ans.Result.Rows),
			"masked_columns": res.MaskedColumns,
		}
	case ans.SQL == "":
		out["results"] = "Not fetched; no SQL query was generated."
	default:
		out["results"] = "Not fetched."
	}

	b, _ := json.Marshal(out)
	return string(b)
}

func orNotAvailable(s string) string {
	if s == "" {
		return "Not available"
	}
	return s
}

func stringInput(input map[string]interface{}, key string) string {
	s, _ := input[key].(string)
	return strings.TrimSpace(s)
}

// secondsInput accepts JSON numbers and numeric strings. Non-positive values mean default.
func secondsInput(input map[string]interface{}, key string) time.Duration {
	var n float64
	switch v := input[key].(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case json.Number:
		n, _ = v.Float64()
	case string:
		n, _ = strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	if n <= 0 {
		return 0
	}
	return time.Duration(n * float64(time.Second))
}
