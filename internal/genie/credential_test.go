package genie_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/dataanalyst/dataanalyst/internal/genie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCredential(t *testing.T) {
	tests := []struct {
		name                        string
		token, id, secret, redirect string
		wantScheme                  genie.Scheme
		wantErr                     bool
		wantErrContains             string
	}{
		{name: "pat only", token: "dapi1", wantScheme: genie.SchemePAT},
		{name: "oauth only", id: "id", secret: "s", redirect: "http://localhost", wantScheme: genie.SchemeOAuth},
		{name: "both prefers oauth", token: "dapi1", id: "id", secret: "s", redirect: "http://localhost", wantScheme: genie.SchemeOAuth},
		{name: "partial oauth falls back to pat", token: "dapi1", id: "id", wantScheme: genie.SchemePAT},
		{name: "partial oauth without pat", id: "id", secret: "s", wantErr: true, wantErrContains: "DATABRICKS_REDIRECT_URI"},
		{name: "nothing", wantErr: true, wantErrContains: "DATABRICKS_TOKEN"},
		{name: "whitespace only", token: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := genie.ResolveCredential(tt.token, tt.id, tt.secret, tt.redirect)
			if tt.wantErr {
				require.ErrorIs(t, err, genie.ErrConfig)
				assert.Contains(t, err.Error(), tt.wantErrContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScheme, cred.Scheme())
		})
	}
}

func TestCredential_StringRedacts(t *testing.T) {
	pat := genie.PAT{Token: "dapi-secret-value"}
	oauth := genie.OAuth{ClientID: "client", ClientSecret: "very-secret", RedirectURI: "http://localhost"}

	assert.NotContains(t, fmt.Sprint(pat), "dapi-secret-value")
	assert.NotContains(t, fmt.Sprintf("%v", oauth), "very-secret")
	assert.Contains(t, fmt.Sprint(oauth), "client")
}

func TestWorkspace_BaseURL(t *testing.T) {
	tests := map[string]string{
		"adb-123.azuredatabricks.net":          "https://adb-123.azuredatabricks.net",
		"https://adb-123.azuredatabricks.net/": "https://adb-123.azuredatabricks.net",
		" dbc.cloud.databricks.com// ":         "https://dbc.cloud.databricks.com",
		"http://127.0.0.1:8080":                "http://127.0.0.1:8080",
	}
	for host, want := range tests {
		assert.Equal(t, want, genie.Workspace{Host: host}.BaseURL(), host)
	}
}

func TestMessageError_Shapes(t *testing.T) {
	for _, raw := range []string{
		`{"status":"FAILED","error":"boom"}`,
		`{"status":"FAILED","error":{"error":"boom","type":"X"}}`,
		`{"status":"FAILED","error":{"message":"boom"}}`,
	} {
		var m genie.Message
		require.NoError(t, json.Unmarshal([]byte(raw), &m), raw)
		require.NotNil(t, m.Error)
		assert.Equal(t, "boom", m.Error.Message, raw)
	}
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []genie.Status{genie.StatusCompleted, genie.StatusFailed, genie.StatusCancelled, genie.StatusQueryResultExpired} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []genie.Status{genie.StatusPending, genie.StatusSubmitted, genie.StatusExecutingQuery, "UNKNOWN"} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &genie.Error{Kind: genie.KindAuth, Op: "start conversation", StatusCode: 403, Message: "denied", RequestID: "request_id=r1", Hint: "check grants"}
	assert.Equal(t, "genie: start conversation: auth: HTTP 403 (request_id=r1): denied | hint: check grants", err.Error())
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), genie.ErrAuth)
	assert.NotErrorIs(t, err, genie.ErrRemote)
	assert.Equal(t, genie.KindAuth, genie.KindOf(fmt.Errorf("x: %w", err)))
	assert.Equal(t, genie.Kind(""), genie.KindOf(fmt.Errorf("plain")))
}
