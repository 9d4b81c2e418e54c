// Package tools defines the Tool type and the Genie tools the analyst agent can call.
package tools

import (
	"context"

	"github.com/dataanalyst/dataanalyst/internal/service"
)

// Tool represents a callable function the LLM can invoke
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Execute     func(ctx context.Context, input map[string]interface{}) (string, error)
}

// ForAnalyst returns the toolset given to the Databricks query agent.
func ForAnalyst(svc *service.GenieService, apiKey string) []Tool {
	return []Tool{
		GenieQueryTool(svc, apiKey),
		GenieSpaceTool(svc),
	}
}
