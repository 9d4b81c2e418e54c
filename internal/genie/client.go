// Package genie is a client for the Databricks Genie conversation API.
//
// A question is started with Start (or Send for a follow-up), polled with AwaitMessage until
// the message reaches a terminal state, and its rows are read with FetchResult. AwaitResult
// and Ask bundle those steps.
package genie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/metrics"
	"github.com/dataanalyst/dataanalyst/internal/security"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	DefaultPollInterval   = 5 * time.Second
	DefaultTimeout        = 600 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultUserAgent      = "data-analyst/1.0"

	maxErrorBody = 600
	spacesPath   = "/api/2.0/genie/spaces/"
)

// Client drives Genie conversations for one workspace and space.
// It is safe for concurrent use; each Handle must be awaited by a single caller.
type Client struct {
	ws           Workspace
	baseURL      string
	scheme       Scheme
	httpClient   *http.Client
	tokens       oauth2.TokenSource
	pollInterval time.Duration
	timeout      time.Duration
	userAgent    string
	metrics      *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New validates the workspace and credential and builds a Client. No request is made.
func New(ws Workspace, cred Credential, opts ...Option) (*Client, error) {
	if err := ws.validate(); err != nil {
		return nil, err
	}
	// Pointer forms are accepted but resolved to values; a typed nil is no credential.
	switch v := cred.(type) {
	case *PAT:
		if v == nil {
			return nil, ConfigError("no credential configured")
		}
		cred = *v
	case *OAuth:
		if v == nil {
			return nil, ConfigError("no credential configured")
		}
		cred = *v
	}
	switch v := cred.(type) {
	case nil:
		return nil, ConfigError("no credential configured")
	case PAT:
		if strings.TrimSpace(v.Token) == "" {
			return nil, ConfigError("DATABRICKS_TOKEN is empty")
		}
	case OAuth:
		if v.ClientID == "" || v.ClientSecret == "" {
			return nil, ConfigError("OAuth client id and secret are required")
		}
	}

	c := &Client{
		ws:           Workspace{Host: NormalizeHost(ws.Host), SpaceID: strings.TrimSpace(ws.SpaceID)},
		baseURL:      ws.BaseURL(),
		scheme:       cred.Scheme(),
		httpClient:   &http.Client{Timeout: DefaultRequestTimeout},
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
		userAgent:    DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tokens = cred.tokenSource(oauthContext(c.httpClient), c.ws)
	return c, nil
}

// Scheme reports which authentication scheme the client uses.
func (c *Client) Scheme() Scheme { return c.scheme }

// SpaceID returns the configured Genie space.
func (c *Client) SpaceID() string { return c.ws.SpaceID }

// GetSpace reads the space metadata. Used as a connectivity and permission check.
func (c *Client) GetSpace(ctx context.Context) (*Space, error) {
	var sp Space
	if err := c.do(ctx, "get space", http.MethodGet, c.spacePath(), nil, &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

// Start begins a new conversation with question as its first message.
func (c *Client) Start(ctx context.Context, question string) (*Handle, error) {
	const op = "start conversation"
	if strings.TrimSpace(question) == "" {
		return nil, newError(KindInvalidInput, op, "question is empty")
	}

	started := time.Now()
	var resp startResponse
	body := map[string]string{"content": question}
	if err := c.do(ctx, op, http.MethodPost, c.spacePath("start-conversation"), body, &resp); err != nil {
		return nil, err
	}
	convID, msgID := resp.ids()
	if convID == "" || msgID == "" {
		return nil, newError(KindProtocol, op, "response is missing the conversation or message id")
	}

	log.Info().
		Str("space_id", c.ws.SpaceID).
		Str("conversation_id", convID).
		Str("message_id", msgID).
		Str("auth", string(c.scheme)).
		Msg("genie conversation started")

	return &Handle{ConversationID: convID, MessageID: msgID, Status: StatusPending, StartedAt: started}, nil
}

// Send posts a follow-up question to an existing conversation.
func (c *Client) Send(ctx context.Context, conversationID, question string) (*Handle, error) {
	const op = "send message"
	if strings.TrimSpace(conversationID) == "" {
		return nil, newError(KindInvalidInput, op, "conversation id is empty")
	}
	if strings.TrimSpace(question) == "" {
		return nil, newError(KindInvalidInput, op, "question is empty")
	}

	started := time.Now()
	var resp startResponse
	body := map[string]string{"content": question}
	path := c.spacePath("conversations", conversationID, "messages")
	if err := c.do(ctx, op, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	_, msgID := resp.ids()
	if msgID == "" {
		return nil, newError(KindProtocol, op, "response is missing the message id")
	}

	log.Info().
		Str("conversation_id", conversationID).
		Str("message_id", msgID).
		Msg("genie follow-up sent")

	return &Handle{ConversationID: conversationID, MessageID: msgID, Status: StatusPending, StartedAt: started}, nil
}

// GetMessage performs a single status request.
func (c *Client) GetMessage(ctx context.Context, h *Handle) (*Message, error) {
	const op = "get message"
	if err := checkHandle(op, h); err != nil {
		return nil, err
	}
	var msg Message
	path := c.spacePath("conversations", h.ConversationID, "messages", h.MessageID)
	if err := c.do(ctx, op, http.MethodGet, path, nil, &msg); err != nil {
		return nil, err
	}
	if msg.Status == "" {
		return nil, newError(KindProtocol, op, "message status is missing")
	}
	return &msg, nil
}

// AwaitMessage polls until the message is terminal, the deadline StartedAt+timeout passes,
// or ctx is done. It returns the COMPLETED message; every other ending is an error.
// Zero pollInterval or timeout use the client defaults.
func (c *Client) AwaitMessage(ctx context.Context, h *Handle, pollInterval, timeout time.Duration) (*Message, error) {
	const op = "await message"
	if err := checkHandle(op, h); err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = c.pollInterval
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	started := h.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	deadline := started.Add(timeout)

	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	timedOut := func() (*Message, error) {
		c.metrics.ObserveOutcome("timeout", time.Since(started))
		return nil, &Error{
			Kind:    KindTimeout,
			Op:      op,
			Message: fmt.Sprintf("message %s not finished after %s (last status %s)", h.MessageID, timeout, h.Status),
		}
	}

	for poll := 1; ; poll++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("genie: %s %s: %w", op, h.MessageID, err)
		}
		if !time.Now().Before(deadline) {
			return timedOut()
		}

		c.metrics.ObservePoll()
		msg, err := c.GetMessage(pollCtx, h)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("genie: %s %s: %w", op, h.MessageID, ctx.Err())
			}
			if pollCtx.Err() != nil {
				return timedOut()
			}
			return nil, err
		}
		h.Status = msg.Status

		log.Debug().
			Str("conversation_id", h.ConversationID).
			Str("message_id", h.MessageID).
			Str("status", string(msg.Status)).
			Int("poll", poll).
			Msg("genie poll")

		switch msg.Status {
		case StatusCompleted:
			c.metrics.ObserveOutcome("completed", time.Since(started))
			return msg, nil
		case StatusFailed:
			c.metrics.ObserveOutcome("failed", time.Since(started))
			return nil, &Error{Kind: KindQueryFailed, Op: op, Message: msg.errorMessage()}
		case StatusCancelled:
			c.metrics.ObserveOutcome("cancelled", time.Since(started))
			return nil, &Error{Kind: KindCancelled, Op: op, Message: "message " + h.MessageID + " was cancelled"}
		case StatusQueryResultExpired:
			c.metrics.ObserveOutcome("expired", time.Since(started))
			return nil, &Error{Kind: KindQueryFailed, Op: op, Message: "query result expired"}
		}

		wait := pollInterval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			return timedOut()
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("genie: %s %s: %w", op, h.MessageID, ctx.Err())
		case <-timer.C:
		}
	}
}

// AwaitResult waits for the message to complete and fetches its query result once.
func (c *Client) AwaitResult(ctx context.Context, h *Handle, pollInterval, timeout time.Duration) (*QueryResult, error) {
	msg, err := c.AwaitMessage(ctx, h, pollInterval, timeout)
	if err != nil {
		return nil, err
	}
	return c.FetchResult(ctx, h, queryAttachmentID(msg))
}

// FetchResult reads the rows of a completed message. With an empty attachmentID the
// message-level endpoint is used.
func (c *Client) FetchResult(ctx context.Context, h *Handle, attachmentID string) (*QueryResult, error) {
	const op = "get query result"
	if err := checkHandle(op, h); err != nil {
		return nil, err
	}
	path := c.spacePath("conversations", h.ConversationID, "messages", h.MessageID, "query-result")
	if attachmentID != "" {
		path = c.spacePath("conversations", h.ConversationID, "messages", h.MessageID,
			"attachments", attachmentID, "query-result")
	}

	var resp queryResultResponse
	if err := c.do(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	st := resp.StatementResponse.Status
	if st.State == "FAILED" || st.State == "CANCELED" || st.State == "CLOSED" {
		msg := "statement " + strings.ToLower(st.State)
		if st.Error != nil && st.Error.Message != "" {
			msg = st.Error.Message
		}
		return nil, &Error{Kind: KindQueryFailed, Op: op, Message: msg}
	}

	res := resp.toResult()
	log.Debug().
		Str("conversation_id", h.ConversationID).
		Str("message_id", h.MessageID).
		Int("columns", len(res.Columns)).
		Int64("rows", res.RowCount).
		Msg("genie query result fetched")
	return res, nil
}

// Ask runs a whole turn: start or follow up, await completion, extract the answer and
// fetch rows when requested and Genie produced SQL.
func (c *Client) Ask(ctx context.Context, question string, opts AskOptions) (*Answer, error) {
	var (
		h   *Handle
		err error
	)
	if opts.ConversationID != "" {
		h, err = c.Send(ctx, opts.ConversationID, question)
	} else {
		h, err = c.Start(ctx, question)
	}
	if err != nil {
		return nil, err
	}

	msg, err := c.AwaitMessage(ctx, h, opts.PollInterval, opts.Timeout)
	if err != nil {
		return nil, err
	}

	ans := extractAnswer(question, msg)
	ans.Handle = *h
	if opts.FetchResults && ans.SQL != "" {
		res, err := c.FetchResult(ctx, h, ans.AttachmentID)
		if err != nil {
			return nil, err
		}
		ans.Result = res
	}
	return ans, nil
}

// extractAnswer picks the generated SQL and the textual response out of the attachments.
// Without attachments the message content is used when it is not just the question echoed.
func extractAnswer(question string, msg *Message) *Answer {
	ans := &Answer{Question: question}
	if len(msg.Attachments) == 0 {
		if msg.Content != "" && !strings.EqualFold(strings.TrimSpace(msg.Content), strings.TrimSpace(question)) {
			ans.Text = msg.Content
		}
		return ans
	}
	for _, a := range msg.Attachments {
		if a.Query != nil {
			if a.Query.Description != "" && ans.Description == "" {
				ans.Description = a.Query.Description
			}
			if a.Query.Query != "" && ans.SQL == "" {
				ans.SQL = a.Query.Query
				ans.AttachmentID = a.AttachmentID
			}
		}
		if a.Text != nil && a.Text.Content != "" && ans.Text == "" {
			ans.Text = a.Text.Content
		}
	}
	if ans.Text == "" {
		ans.Text = ans.Description
	}
	return ans
}

func queryAttachmentID(msg *Message) string {
	for _, a := range msg.Attachments {
		if a.Query != nil && a.AttachmentID != "" {
			return a.AttachmentID
		}
	}
	return ""
}

func checkHandle(op string, h *Handle) error {
	if h == nil || h.ConversationID == "" || h.MessageID == "" {
		return newError(KindInvalidInput, op, "handle is missing the conversation or message id")
	}
	return nil
}

func (c *Client) spacePath(parts ...string) string {
	var b strings.Builder
	b.WriteString(spacesPath)
	b.WriteString(url.PathEscape(c.ws.SpaceID))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return wrapError(KindInvalidInput, op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Kind: KindConfig, Op: op, Message: "invalid workspace URL", Err: err}
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return tokenError(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(op, 0)
		return &Error{Kind: KindTransport, Op: op, Err: err, Hint: networkHint(err)}
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(op, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{
			Kind:       KindProtocol,
			Op:         op,
			StatusCode: resp.StatusCode,
			RequestID:  requestIDs(resp.Header),
			Message:    "cannot decode response",
			Err:        err,
		}
	}
	return nil
}

func statusError(op string, resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	kind := KindRemote
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	case http.StatusNotFound:
		kind = KindNotFound
	}
	return &Error{
		Kind:       kind,
		Op:         op,
		StatusCode: resp.StatusCode,
		RequestID:  requestIDs(resp.Header),
		Message:    truncate(security.Mask(serverMessage(raw)), maxErrorBody),
		Hint:       hintFor(resp.StatusCode),
	}
}

// serverMessage prefers the Databricks {"error_code", "message"} envelope over the raw body.
func serverMessage(raw []byte) string {
	var env struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		if env.ErrorCode != "" {
			return env.ErrorCode + ": " + env.Message
		}
		return env.Message
	}
	return strings.TrimSpace(string(raw))
}

func tokenError(op string, err error) *Error {
	op += " (oauth token)"
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := 0
		if re.Response != nil {
			code = re.Response.StatusCode
		}
		kind := KindRemote
		if code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden {
			kind = KindAuth
		}
		msg := re.ErrorCode
		if msg == "" {
			msg = string(re.Body)
		}
		return &Error{Kind: kind, Op: op, StatusCode: code, Message: truncate(security.Mask(msg), maxErrorBody), Hint: hintFor(code)}
	}
	return &Error{Kind: KindTransport, Op: op, Message: security.Mask(err.Error()), Hint: networkHint(err)}
}

func networkHint(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	lower := strings.ToLower(err.Error())
	switch {
	case errors.As(err, &dnsErr):
		return "cannot resolve the workspace host; check DATABRICKS_INSTANCE"
	case errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(lower, "connection refused"):
		return "connection refused by the workspace host"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "request timed out"
	case strings.Contains(lower, "certificate") || strings.Contains(lower, "tls"):
		return "secure connection failed; check proxies and the system clock"
	}
	return ""
}

func requestIDs(h http.Header) string {
	var parts []string
	if rid := firstNonEmpty(h.Get("X-Request-Id"), h.Get("X-Databricks-Request-Id")); rid != "" {
		parts = append(parts, "request_id="+rid)
	}
	if org := h.Get("X-Databricks-Org-Id"); org != "" {
		parts = append(parts, "org_id="+org)
	}
	return strings.Join(parts, " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
