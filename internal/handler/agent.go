package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dataanalyst/dataanalyst/internal/agent"
	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/dataanalyst/dataanalyst/internal/middleware"
	"github.com/dataanalyst/dataanalyst/internal/models"
	"github.com/dataanalyst/dataanalyst/internal/service"
)

// AgentRunner is implemented by *agent.GenieHandler.
type AgentRunner interface {
	Handle(ctx context.Context, req *models.AgentRequest, apiKey string) (*models.AgentResponse, error)
}

// AgentHandler handles POST /api/v1/query-agent
type AgentHandler struct {
	runner AgentRunner
	router *service.IntentRouter
}

func NewAgentHandler(runner AgentRunner, router *service.IntentRouter) *AgentHandler {
	return &AgentHandler{runner: runner, router: router}
}

var _ AgentRunner = (*agent.GenieHandler)(nil)

// QueryAgent handles POST /api/v1/query-agent
func (h *AgentHandler) QueryAgent(w http.ResponseWriter, r *http.Request) {
	var req models.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.SetDefaults()

	if req.Prompt == "" {
		models.WriteError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	apiKey := middleware.GetAPIKey(r.Context())
	if apiKey == "" {
		apiKey = r.Header.Get("X-API-Key")
	}

	routing := h.router.Route(req.Prompt)
	if req.FetchResults == nil {
		fetch := routing.FetchResults
		req.FetchResults = &fetch
	}

	resp, err := h.runner.Handle(r.Context(), &req, apiKey)
	if err != nil {
		if resp != nil {
			resp.AgentMetadata["error"] = err.Error()
			models.WriteJSON(w, models.StatusForError(err), resp)
			return
		}
		var ge *genie.Error
		if errors.As(err, &ge) {
			models.WriteGenieError(w, err)
			return
		}
		models.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp.AgentMetadata["routing_mode"] = string(routing.Mode)
	resp.AgentMetadata["routing_confidence"] = routing.Confidence
	resp.AgentMetadata["routing_reasoning"] = routing.Reasoning
	models.WriteJSON(w, http.StatusOK, resp)
}
