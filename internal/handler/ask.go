package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/dataanalyst/dataanalyst/internal/middleware"
	"github.com/dataanalyst/dataanalyst/internal/models"
	"github.com/dataanalyst/dataanalyst/internal/report"
	"github.com/dataanalyst/dataanalyst/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ReportOptions controls the Markdown report returned when a request asks for one.
type ReportOptions struct {
	Icon    string
	MaxRows int
}

// AskHandler handles POST /api/v1/ask and conversation follow-ups.
type AskHandler struct {
	svc    *service.GenieService
	report ReportOptions
	// flights collapses identical questions asked concurrently into one Genie turn.
	flights singleflight.Group

	mu      sync.Mutex
	waiting map[string]*flight
	gen     uint64
}

// flight is the context a shared Genie turn runs under. It is cancelled when the
// last caller waiting on it goes away.
type flight struct {
	name    string
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewAskHandler(svc *service.GenieService, opts ReportOptions) *AskHandler {
	return &AskHandler{svc: svc, report: opts, waiting: make(map[string]*flight)}
}

// Ask handles POST /api/v1/ask
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.SetDefaults()

	if req.Question == "" {
		models.WriteError(w, http.StatusBadRequest, "question is required")
		return
	}

	h.serve(w, r, service.AskRequest{
		Question:       req.Question,
		ConversationID: req.ConversationID,
		FetchResults:   req.FetchResults,
		PollInterval:   time.Duration(req.PollIntervalSeconds) * time.Second,
		Timeout:        time.Duration(req.TimeoutSeconds) * time.Second,
	}, req.Report)
}

// FollowUp handles POST /api/v1/conversations/{conversation_id}/messages
func (h *AskHandler) FollowUp(w http.ResponseWriter, r *http.Request) {
	convID := strings.TrimSpace(chi.URLParam(r, "conversation_id"))
	if convID == "" {
		models.WriteError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	var req models.FollowUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		models.WriteError(w, http.StatusBadRequest, "question is required")
		return
	}

	h.serve(w, r, service.AskRequest{
		Question:       req.Question,
		ConversationID: convID,
		FetchResults:   req.FetchResults,
	}, req.Report)
}

func (h *AskHandler) serve(w http.ResponseWriter, r *http.Request, req service.AskRequest, withReport bool) {
	req.APIKey = middleware.GetAPIKey(r.Context())
	if req.APIKey == "" {
		req.APIKey = r.Header.Get("X-API-Key")
	}

	f := h.join(r.Context(), flightKey(req))
	defer h.leave(f)

	ch := h.flights.DoChan(f.key, func() (interface{}, error) {
		return h.svc.Ask(f.ctx, req)
	})

	var out singleflight.Result
	select {
	case out = <-ch:
	case <-r.Context().Done():
		log.Debug().
			Str("request_id", middleware.GetRequestID(r.Context())).
			Str("conversation_id", req.ConversationID).
			Msg("caller left before genie answered")
		return
	}
	if out.Err != nil {
		models.WriteGenieError(w, out.Err)
		return
	}
	res := out.Val.(*service.AskResult)
	if out.Shared {
		w.Header().Set("X-Shared-Response", "true")
	}

	resp := toAskResponse(res)
	if withReport {
		rep := report.FromAnswer(res.Answer)
		rep.Icon = h.report.Icon
		rep.MaxRows = h.report.MaxRows
		resp.Report = report.Render(rep)
	}
	models.WriteJSON(w, http.StatusOK, resp)
}

// join registers a caller for name and returns the flight it should wait on.
// The flight keeps the first caller's request values but not its cancellation.
func (h *AskHandler) join(ctx context.Context, name string) *flight {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.waiting[name]
	if !ok {
		// A fresh generation never joins a cancelled call that has not returned yet.
		h.gen++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{
			name:   name,
			key:    name + "\x00" + strconv.FormatUint(h.gen, 10),
			ctx:    fctx,
			cancel: cancel,
		}
		h.waiting[name] = f
	}
	f.waiters++
	return f
}

// leave drops a caller and stops the Genie turn once nobody is waiting for it.
func (h *AskHandler) leave(f *flight) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if h.waiting[f.name] == f {
		delete(h.waiting, f.name)
	}
}

// flightKey identifies asks that may share one Genie turn. Poll interval and timeout are
// part of it so no caller waits longer than it asked to.
func flightKey(req service.AskRequest) string {
	fetch := "auto"
	if req.FetchResults != nil {
		fetch = fmt.Sprint(*req.FetchResults)
	}
	return strings.Join([]string{
		req.ConversationID,
		fetch,
		req.PollInterval.String(),
		req.Timeout.String(),
		req.Question,
	}, "\x00")
}

func toAskResponse(res *service.AskResult) *models.AskResponse {
	ans := res.Answer
	resp := &models.AskResponse{
		Status:         "success",
		Question:       ans.Question,
		ConversationID: ans.Handle.ConversationID,
		MessageID:      ans.Handle.MessageID,
		Response:       ans.Text,
		Description:    ans.Description,
		ReadOnlySQL:    res.ReadOnlySQL,
		SQLWarning:     res.SQLWarning,
		Routing:        string(res.Routing.Mode),
		ExecutionMs:    res.Duration.Milliseconds(),
	}
	if ans.SQL != "" {
		sql := ans.SQL
		resp.SQL = &sql
	}
	resp.Result = queryResult(ans.Result, res.MaskedColumns)
	return resp
}

func queryResult(qr *genie.QueryResult, masked int) *models.QueryResult {
	if qr == nil {
		return nil
	}
	rows := qr.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return &models.QueryResult{
		Columns:       qr.ColumnNames(),
		Rows:          rows,
		RowCount:      qr.RowCount,
		Truncated:     qr.Truncated,
		MaskedColumns: masked,
	}
}
