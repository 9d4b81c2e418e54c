package genie_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSpace = "space-1"
	testPAT   = "dapi0123456789abcdef0123"
)

const resultFixture = `{
  "statement_response": {
    "statement_id": "st-1",
    "status": {"state": "SUCCEEDED"},
    "manifest": {
      "schema": {"columns": [
        {"name": "region", "type_name": "STRING", "position": 0},
        {"name": "orders", "type_name": "LONG", "position": 1},
        {"name": "revenue", "type_name": "DOUBLE", "position": 2},
        {"name": "active", "type_name": "BOOLEAN", "position": 3}
      ]},
      "total_row_count": 2,
      "truncated": false
    },
    "result": {"data_array": [["EMEA", "12", "1500.5", "true"], ["APAC", "7", null, "false"]]}
  }
}`

const queryAttachments = `[{"attachment_id": "att-1", "query": {"description": "Orders per region", "query": "SELECT region, count(*) FROM orders GROUP BY region"}}]`

// fakeGenie is an in-process Genie workspace.
type fakeGenie struct {
	srv *httptest.Server

	mu          sync.Mutex
	statuses    []string
	failure     string
	attachments string
	startCode   int
	startBody   string
	tokenCode   int
	authHeaders []string
	paths       []string

	starts, sends, polls, results, tokens, legacyResults atomic.Int32
}

func newFakeGenie(t *testing.T, statuses ...string) *fakeGenie {
	t.Helper()
	f := &fakeGenie{statuses: statuses, attachments: queryAttachments}
	if len(f.statuses) == 0 {
		f.statuses = []string{"COMPLETED"}
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.authHeaders = append(f.authHeaders, req.Header.Get("Authorization"))
			f.paths = append(f.paths, req.Method+" "+req.URL.Path)
			f.mu.Unlock()
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/oidc/v1/token", f.token)
	r.Route("/api/2.0/genie/spaces/{space}", func(r chi.Router) {
		r.Get("/", f.space)
		r.Post("/start-conversation", f.start)
		r.Post("/conversations/{conv}/messages", f.send)
		r.Get("/conversations/{conv}/messages/{msg}", f.status)
		r.Get("/conversations/{conv}/messages/{msg}/query-result", f.legacyResult)
		r.Get("/conversations/{conv}/messages/{msg}/attachments/{att}/query-result", f.result)
	})
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGenie) token(w http.ResponseWriter, r *http.Request) {
	f.tokens.Add(1)
	if f.tokenCode != 0 {
		w.WriteHeader(f.tokenCode)
		_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"client_secret=hunter2 rejected"}`))
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok || id != "client-id" || secret != "client-secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	_ = r.ParseForm()
	if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("scope") != "all-apis" ||
		r.Form.Get("redirect_uri") != "http://localhost:8020/callback" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"access_token":"oauth-access","token_type":"Bearer","expires_in":3600}`))
}

func (f *fakeGenie) space(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"space_id": chi.URLParam(r, "space"), "title": "Sales"})
}

func (f *fakeGenie) start(w http.ResponseWriter, r *http.Request) {
	f.starts.Add(1)
	if f.startCode != 0 {
		w.Header().Set("X-Databricks-Request-Id", "req-42")
		w.WriteHeader(f.startCode)
		_, _ = w.Write([]byte(f.startBody))
		return
	}
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["content"] == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"conversation": map[string]string{"id": "conv-1"},
		"message":      map[string]string{"id": "msg-1", "status": "SUBMITTED"},
	})
}

func (f *fakeGenie) send(w http.ResponseWriter, r *http.Request) {
	f.sends.Add(1)
	writeJSON(w, map[string]string{"id": "msg-2", "conversation_id": chi.URLParam(r, "conv"), "status": "SUBMITTED"})
}

func (f *fakeGenie) status(w http.ResponseWriter, r *http.Request) {
	n := int(f.polls.Add(1)) - 1
	if n >= len(f.statuses) {
		n = len(f.statuses) - 1
	}
	status := f.statuses[n]

	body := fmt.Sprintf(`{"id":%q,"conversation_id":%q,"content":"How many orders per region?","status":%q`,
		chi.URLParam(r, "msg"), chi.URLParam(r, "conv"), status)
	if status == "COMPLETED" {
		body += `,"attachments":` + f.attachments
	}
	if status == "FAILED" && f.failure != "" {
		body += `,"error":` + f.failure
	}
	body += "}"
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (f *fakeGenie) result(w http.ResponseWriter, _ *http.Request) {
	f.results.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(resultFixture))
}

func (f *fakeGenie) legacyResult(w http.ResponseWriter, _ *http.Request) {
	f.legacyResults.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(resultFixture))
}

func (f *fakeGenie) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

func (f *fakeGenie) auths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authHeaders...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGenie) client(t *testing.T, cred genie.Credential, opts ...genie.Option) *genie.Client {
	t.Helper()
	opts = append([]genie.Option{genie.WithPollInterval(time.Millisecond)}, opts...)
	c, err := genie.New(genie.Workspace{Host: f.srv.URL, SpaceID: testSpace}, cred, opts...)
	require.NoError(t, err)
	return c
}

// ─── Happy path ─────────────────────────────────────────────────────────────

func TestAwaitResult_ImmediateCompletionReturnsFixture(t *testing.T) {
	f := newFakeGenie(t, "COMPLETED")
	c := f.client(t, genie.PAT{Token: testPAT})
	ctx := context.Background()

	h, err := c.Start(ctx, "How many orders per region?")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", h.ConversationID)
	assert.Equal(t, "msg-1", h.MessageID)
	assert.Equal(t, genie.StatusPending, h.Status)

	res, err := c.AwaitResult(ctx, h, 0, 0)
	require.NoError(t, err)

	want := &genie.QueryResult{
		Columns: []genie.Column{
			{Name: "region", Type: "STRING"},
			{Name: "orders", Type: "LONG"},
			{Name: "revenue", Type: "DOUBLE"},
			{Name: "active", Type: "BOOLEAN"},
		},
		Rows: [][]any{
			{"EMEA", int64(12), 1500.5, true},
			{"APAC", int64(7), nil, false},
		},
		RowCount: 2,
	}
	assert.Equal(t, want, res)
	assert.Equal(t, genie.StatusCompleted, h.Status)
	assert.Equal(t, int32(1), f.results.Load())
}

func TestAwaitResult_PollsUntilCompleted(t *testing.T) {
	f := newFakeGenie(t, "SUBMITTED", "EXECUTING_QUERY", "EXECUTING_QUERY", "EXECUTING_QUERY", "COMPLETED")
	c := f.client(t, genie.PAT{Token: testPAT})

	h, err := c.Start(context.Background(), "orders per region")
	require.NoError(t, err)
	_, err = c.AwaitResult(context.Background(), h, time.Millisecond, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, int32(5), f.polls.Load())
	assert.Equal(t, int32(1), f.results.Load())

	// No result fetch may precede the COMPLETED poll.
	f.mu.Lock()
	defer f.mu.Unlock()
	last := f.paths[len(f.paths)-1]
	assert.Contains(t, last, "/attachments/att-1/query-result")
	for _, p := range f.paths[:len(f.paths)-1] {
		assert.NotContains(t, p, "query-result")
	}
}

func TestAwaitResult_UnknownStatusKeepsPolling(t *testing.T) {
	f := newFakeGenie(t, "SOMETHING_NEW", "COMPLETED")
	c := f.client(t, genie.PAT{Token: testPAT})

	h, err := c.Start(context.Background(), "q")
	require.NoError(t, err)
	_, err = c.AwaitResult(context.Background(), h, time.Millisecond, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.polls.Load())
}

func TestFetchResult_LegacyPathWithoutAttachment(t *testing.T) {
	f := newFakeGenie(t, "COMPLETED")
	c := f.client(t, genie.PAT{Token: testPAT})

	h := &genie.Handle{ConversationID: "conv-1", MessageID: "msg-1"}
	res, err := c.FetchResult(context.Background(), h, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowCount)
	assert.Equal(t, int32(1), f.legacyResults.Load())
	assert.Equal(t, int32(0), f.results.Load())
}

func TestAsk_ExtractsSQLAndFetchesRows(t *testing.T) {
	f := newFakeGenie(t, "EXECUTING_QUERY", "COMPLETED")
	c := f.client(t, genie.PAT{Token: testPAT})

	ans, err := c.Ask(context.Background(), "How many orders per region?", genie.AskOptions{FetchResults: true})
	require.NoError(t, err)
	assert.Equal(t, "SELECT region, count(*) FROM orders GROUP BY region", ans.SQL)
	assert.Equal(t, "Orders per region", ans.Description)
	assert.Equal(t, "Orders per region", ans.Text)
	assert.Equal(t, "att-1", ans.AttachmentID)
	assert.Equal(t, "conv-1", ans.Handle.ConversationID)
	require.NotNil(t, ans.Result)
	assert.Len(t, ans.Result.Rows, 2)
}

func TestAsk_WithoutFetchSkipsResult(t *testing.T) {
	f := newFakeGenie(t, "COMPLETED")
	c := f.client(t, genie.PAT{Token: testPAT})

	ans, err := c.Ask(context.Background(), "q", genie.AskOptions{})
	require.NoError(t, err)
	assert.Nil(t, ans.Result)
	assert.Equal(t, int32(0), f.results.Load())
}

func TestAsk_TextOnlyAnswer(t *testing.T) {
	f := newFakeGenie(t, "COMPLETED")
	f.attachments = `[{"attachment_id": "att-9", "text": {"content": "There are 19 orders."}}]`
	c := f.client(t, genie.PAT{Token: testPAT})

	ans, err := c.Ask(context.Background(), "q", genie.AskOptions{FetchResults: true})
	require.NoError(t, err)
	assert.Empty(t, ans.SQL)
	assert.Equal(t, "There are 19 orders.", ans.Text)
	assert.Nil(t, ans.Result)
}

func TestAsk_FollowUpUsesConversation(t *testing.T) {
	f := newFakeGenie(t, "COMPLETED")
	c := f.client(t, genie.PAT{Token: testPAT})

	ans, err := c.Ask(context.Background(), "and last month?", genie.AskOptions{ConversationID: "conv-7"})
	require.NoError(t, err)
	assert.Equal(t, "conv-7", ans.Handle.ConversationID)
	assert.Equal(t, "msg-2", ans.Handle.MessageID)
	assert.Equal(t, int32(1), f.sends.Load())
	assert.Equal(t, int32(0), f.starts.Load())
}

func TestGetSpace(t *testing.T) {
	f := newFakeGenie(t)
	c := f.client(t, genie.PAT{Token: testPAT})

	sp, err := c.GetSpace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testSpace, sp.SpaceID)
	assert.Equal(t, "Sales", sp.Title)
}

// ─── Terminal failures ──────────────────────────────────────────────────────

func TestAwaitResult_FailedCarriesServerMessage(t *testing.T) {
	for name, raw := range map[string]string{
		"string": `"syntax error"`,
		"object": `{"error": "syntax error", "type": "SQL_EXECUTION_EXCEPTION"}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFakeGenie(t, "EXECUTING_QUERY", "FAILED")
			f.failure = raw
			c := f.client(t, genie.PAT{Token: testPAT})

			h, err := c.Start(context.Background(), "q")
			require.NoError(t, err)
			_, err = c.AwaitResult(context.Background(), h, time.Millisecond, time.Minute)

			require.ErrorIs(t, err, genie.ErrQueryFailed)
			var ge *genie.Error
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, "syntax error", ge.Message)
			assert.Equal(t, int32(0), f.results.Load())
		})
	}
}

func TestAwaitResult_Cancelled(t *testing.T) {
	f := newFakeGenie(t, "CANCELLED")
	c := f.client(t, genie.PAT{Token: testPAT})

	h, err := c.Start(context.Background(), "q")
	require.NoError(t, err)
	_, err = c.AwaitResult(context.Background(), h, 0, 0)
	assert.ErrorIs(t, err, genie.ErrCancelled)
	assert.Equal(t, int32(0), f.results.Load())
}

func TestAwaitResult_ResultExpired(t *testing.T) {
	f := newFakeGenie(t, "QUERY_RESULT_EXPIRED")
	c := f.client(t, genie.PAT{Token: testPAT})

	h, err := c.Start(context.Background(), "q")
	require.NoError(t, err)
	_, err = c.AwaitResult(context.Background(), h, 0, 0)
	assert.ErrorIs(t, err, genie.ErrQueryFailed)
}

func TestAwaitResult_TimeoutStopsRequests(t *testing.T) {
	f := newFakeGenie(t, "EXECUTING_QUERY")
	c := f.client(t, genie.PAT{Token: testPAT})

	h, err := c.Start(context.Background(), "q")
	require.NoError(t, err)

	interval := 20 * time.Millisecond
	_, err = c.AwaitResult(context.Background(), h, interval, 2*interval)
	require.ErrorIs(t, err, genie.ErrTimeout)
	assert.Equal(t, genie.KindTimeout, genie.KindOf(err))

	seen := f.requestCount()
	time.Sleep(5 * interval)
	assert.Equal(t, seen, f.requestCount(), "no request may follow the timeout")
	assert.LessOrEqual(t, f.polls.Load(), int32(3))
	assert.Equal(t, int32(0), f.results.Load())
}

func TestAwaitMessage_CallerCancellation(t *testing.T) {
	f := newFakeGenie(t, "ASKING_AI")
	c := f.client(t, genie.PAT{Token: testPAT})

	h, err := c.Start(context.Background(), "q")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err = c.AwaitMessage(ctx, h, 5*time.Millisecond, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, genie.ErrTimeout)
}

// ─── HTTP error mapping ─────────────────────────────────────────────────────

func TestStart_ForbiddenIsAuthErrorWithoutPolling(t *testing.T) {
	f := newFakeGenie(t)
	f.startCode = http.StatusForbidden
	f.startBody = `{"error_code":"PERMISSION_DENIED","message":"no access to space"}`
	c := f.client(t, genie.PAT{Token: testPAT})

	_, err := c.Ask(context.Background(), "q", genie.AskOptions{FetchResults: true})
	require.ErrorIs(t, err, genie.ErrAuth)

	var ge *genie.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, http.StatusForbidden, ge.StatusCode)
	assert.Equal(t, "PERMISSION_DENIED: no access to space", ge.Message)
	assert.Contains(t, ge.RequestID, "req-42")
	assert.NotEmpty(t, ge.Hint)
	assert.Equal(t, int32(0), f.polls.Load())
}

func TestStart_StatusMapping(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, genie.ErrAuth},
		{http.StatusNotFound, genie.ErrNotFound},
		{http.StatusTooManyRequests, genie.ErrRemote},
		{http.StatusInternalServerError, genie.ErrRemote},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			f := newFakeGenie(t)
			f.startCode = tt.code
			f.startBody = "nope"
			c := f.client(t, genie.PAT{Token: testPAT})

			_, err := c.Start(context.Background(), "q")
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), f.starts.Load(), "requests are not retried")
		})
	}
}

func TestStart_ErrorBodyIsRedacted(t *testing.T) {
	f := newFakeGenie(t)
	f.startCode = http.StatusUnauthorized
	f.startBody = "invalid token=" + testPAT + " " + strings.Repeat("x", 1000)
	c := f.client(t, genie.PAT{Token: testPAT})

	_, err := c.Start(context.Background(), "q")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testPAT)

	var ge *genie.Error
	require.ErrorAs(t, err, &ge)
	assert.LessOrEqual(t, len(ge.Message), 600)
}

func TestStart_TransportFailure(t *testing.T) {
	f := newFakeGenie(t)
	c := f.client(t, genie.PAT{Token: testPAT})
	f.srv.Close()

	_, err := c.Start(context.Background(), "q")
	assert.ErrorIs(t, err, genie.ErrTransport)
}

func TestStart_EmptyQuestion(t *testing.T) {
	f := newFakeGenie(t)
	c := f.client(t, genie.PAT{Token: testPAT})

	_, err := c.Start(context.Background(), "   ")
	assert.ErrorIs(t, err, genie.ErrInvalidInput)
	assert.Zero(t, f.requestCount())
}

// ─── Authentication ─────────────────────────────────────────────────────────

func TestClient_PATHeaderAndUserAgent(t *testing.T) {
	var ua string
	f := newFakeGenie(t)
	c, err := genie.New(genie.Workspace{Host: f.srv.URL + "/", SpaceID: testSpace}, genie.PAT{Token: testPAT},
		genie.WithUserAgent("data-analyst/test"),
		genie.WithHTTPClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			ua = r.Header.Get("User-Agent")
			return http.DefaultTransport.RoundTrip(r)
		})}))
	require.NoError(t, err)

	_, err = c.Start(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer " + testPAT}, f.auths())
	assert.Equal(t, "data-analyst/test", ua)
	assert.Equal(t, genie.SchemePAT, c.Scheme())
}

func TestClient_OAuthTakesPrecedenceOverPAT(t *testing.T) {
	f := newFakeGenie(t, "COMPLETED")
	cred, err := genie.ResolveCredential(testPAT, "client-id", "client-secret", "http://localhost:8020/callback")
	require.NoError(t, err)
	require.Equal(t, genie.SchemeOAuth, cred.Scheme())

	c := f.client(t, cred)
	_, err = c.Ask(context.Background(), "q", genie.AskOptions{FetchResults: true})
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.tokens.Load(), "token is cached for the session")
	for _, h := range f.auths() {
		assert.NotContains(t, h, testPAT)
	}
	auths := f.auths()
	assert.Equal(t, "Bearer oauth-access", auths[len(auths)-1])
}

func TestClient_OAuthRejectedIsAuthError(t *testing.T) {
	f := newFakeGenie(t)
	f.tokenCode = http.StatusUnauthorized
	cred := genie.OAuth{ClientID: "client-id", ClientSecret: "client-secret", RedirectURI: "http://localhost:8020/callback"}
	c := f.client(t, cred)

	_, err := c.Start(context.Background(), "q")
	require.ErrorIs(t, err, genie.ErrAuth)
	assert.NotContains(t, err.Error(), "client-secret")
	assert.NotContains(t, err.Error(), "hunter2")
	assert.Equal(t, int32(0), f.starts.Load())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		ws   genie.Workspace
		cred genie.Credential
	}{
		{"missing host", genie.Workspace{SpaceID: "s"}, genie.PAT{Token: "t"}},
		{"missing space", genie.Workspace{Host: "h"}, genie.PAT{Token: "t"}},
		{"missing credential", genie.Workspace{Host: "h", SpaceID: "s"}, nil},
		{"empty token", genie.Workspace{Host: "h", SpaceID: "s"}, genie.PAT{}},
		{"nil PAT pointer", genie.Workspace{Host: "h", SpaceID: "s"}, (*genie.PAT)(nil)},
		{"nil OAuth pointer", genie.Workspace{Host: "h", SpaceID: "s"}, (*genie.OAuth)(nil)},
		{"empty PAT pointer", genie.Workspace{Host: "h", SpaceID: "s"}, &genie.PAT{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = genie.New(tt.ws, tt.cred) })
			assert.True(t, errors.Is(err, genie.ErrConfig), "got %v", err)
		})
	}
}

func TestNew_PointerCredential(t *testing.T) {
	c, err := genie.New(genie.Workspace{Host: "h", SpaceID: "s"}, &genie.PAT{Token: testPAT})
	require.NoError(t, err)
	assert.Equal(t, genie.SchemePAT, c.Scheme())
}
