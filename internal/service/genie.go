package service

import (
	"context"
	"fmt"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/config"
	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/dataanalyst/dataanalyst/internal/security"
	"github.com/rs/zerolog/log"
)

// Asker is the part of *genie.Client the service needs.
type Asker interface {
	Ask(ctx context.Context, question string, opts genie.AskOptions) (*genie.Answer, error)
	GetSpace(ctx context.Context) (*genie.Space, error)
}

// Guards are the checks applied around every question. Nil members are skipped.
type Guards struct {
	Validator *security.PromptValidator
	PII       *security.PIIDetector
	Masker    *security.DataMasker
	SQL       *security.SQLValidator
	Audit     *security.AuditLogger
}

// NewGuards builds the guards the configuration enables.
func NewGuards(cfg *config.Config) Guards {
	g := Guards{
		Validator: security.NewPromptValidator(cfg.MaxPromptLength),
		SQL:       security.NewSQLValidator(),
		Audit:     security.NewAuditLogger(cfg.EnableAuditLogging),
	}
	if cfg.EnablePIIDetection {
		g.PII = security.NewPIIDetector(cfg.PIIKeywords)
	}
	if cfg.EnableDataMasking {
		g.Masker = security.NewDataMasker(cfg.SensitiveColumns)
	}
	return g
}

// AskRequest is one question from any front end.
type AskRequest struct {
	Question       string
	ConversationID string
	// FetchResults nil lets the IntentRouter decide.
	FetchResults *bool
	PollInterval time.Duration
	Timeout      time.Duration
	// APIKey identifies the caller in the audit trail; it is only ever logged hashed.
	APIKey string
}

// AskResult is a completed, guarded Genie turn.
type AskResult struct {
	Answer        *genie.Answer
	Routing       RoutingResult
	ReadOnlySQL   bool
	SQLWarning    string
	MaskedColumns int
	Duration      time.Duration
}

// GenieService applies validation, masking and auditing around the Genie client.
type GenieService struct {
	client Asker
	guards Guards
	router *IntentRouter
}

func NewGenieService(client Asker, guards Guards) *GenieService {
	return &GenieService{client: client, guards: guards, router: NewIntentRouter()}
}

// TestConnection verifies the Genie space is reachable with the configured credential.
func (s *GenieService) TestConnection(ctx context.Context) (*genie.Space, error) {
	sp, err := s.client.GetSpace(ctx)
	if err != nil {
		return nil, fmt.Errorf("genie space: %w", err)
	}
	return sp, nil
}

// Validate runs the question guards without calling Genie.
func (s *GenieService) Validate(question string) error {
	if v := s.guards.Validator; v != nil {
		if res := v.Validate(question); !res.Valid {
			return &genie.Error{Kind: genie.KindInvalidInput, Op: "validate question", Message: res.Message}
		}
	}
	if d := s.guards.PII; d != nil {
		if found, kw := d.Detect(question); found {
			return &genie.Error{
				Kind:    genie.KindInvalidInput,
				Op:      "validate question",
				Message: fmt.Sprintf("question asks for sensitive data (%s)", kw),
			}
		}
	}
	return nil
}

// Ask validates the question, runs it through Genie, masks the rows and audits the turn.
func (s *GenieService) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	start := time.Now()
	if err := s.Validate(req.Question); err != nil {
		s.audit(req, nil, 0, false, start, err)
		return nil, err
	}

	routing := s.router.Route(req.Question)
	fetch := routing.FetchResults
	if req.FetchResults != nil {
		fetch = *req.FetchResults
	}

	ans, err := s.client.Ask(ctx, req.Question, genie.AskOptions{
		ConversationID: req.ConversationID,
		FetchResults:   fetch,
		PollInterval:   req.PollInterval,
		Timeout:        req.Timeout,
	})
	if err != nil {
		log.Warn().
			Str("kind", string(genie.KindOf(err))).
			Str("conversation_id", req.ConversationID).
			Err(err).
			Msg("genie ask failed")
		s.audit(req, nil, 0, false, start, err)
		return nil, err
	}

	res := &AskResult{Answer: ans, Routing: routing, ReadOnlySQL: true}
	if ans.SQL != "" && s.guards.SQL != nil {
		if msg := s.guards.SQL.Validate(ans.SQL); msg != "" {
			res.ReadOnlySQL = false
			res.SQLWarning = msg
			log.Warn().
				Str("conversation_id", ans.Handle.ConversationID).
				Str("message_id", ans.Handle.MessageID).
				Str("reason", msg).
				Msg("genie generated SQL that is not read-only")
		}
	}
	if ans.Result != nil && s.guards.Masker != nil {
		ans.Result.Rows, res.MaskedColumns = s.guards.Masker.MaskRows(ans.Result.ColumnNames(), ans.Result.Rows)
	}
	res.Duration = time.Since(start)

	s.audit(req, ans, res.MaskedColumns, res.ReadOnlySQL, start, nil)
	return res, nil
}

func (s *GenieService) audit(req AskRequest, ans *genie.Answer, masked int, readOnly bool, start time.Time, err error) {
	e := security.AskEvent{
		Question:       req.Question,
		APIKey:         req.APIKey,
		ConversationID: req.ConversationID,
		MaskedColumns:  masked,
		DurationMs:     time.Since(start).Milliseconds(),
		Outcome:        "completed",
	}
	if err != nil {
		e.Outcome = string(genie.KindOf(err))
		if e.Outcome == "" {
			e.Outcome = "error"
		}
	}
	if ans != nil {
		e.ConversationID = ans.Handle.ConversationID
		e.MessageID = ans.Handle.MessageID
		e.SQL = ans.SQL
		e.ReadOnly = readOnly
		if ans.Result != nil {
			e.RowCount = ans.Result.RowCount
		}
	}
	s.guards.Audit.LogAsk(e)
}
