package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dataanalyst/dataanalyst/internal/service"
)

// GenieSpaceTool describes the Genie space the analyst is connected to.
func GenieSpaceTool(svc *service.GenieService) Tool {
	return Tool{
		Name:        "describe_genie_space",
		Description: "Return the title and description of the configured Databricks Genie space, to learn what data it covers.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Execute: func(ctx context.Context, _ map[string]interface{}) (string, error) {
			sp, err := svc.TestConnection(ctx)
			if err != nil {
				return "", fmt.Errorf("describe space: %w", err)
			}
			b, _ := json.Marshal(sp)
			return string(b), nil
		},
	}
}
