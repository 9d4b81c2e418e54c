package genie

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Scheme names the authentication scheme of a Credential.
type Scheme string

const (
	SchemePAT   Scheme = "pat"
	SchemeOAuth Scheme = "oauth"
)

const (
	oauthTokenPath = "/oidc/v1/token"
	oauthScope     = "all-apis"
)

// Credential is either a PAT or an OAuth client. It is resolved once per session.
type Credential interface {
	Scheme() Scheme
	tokenSource(ctx context.Context, ws Workspace) oauth2.TokenSource
}

// PAT is a Databricks personal access token.
type PAT struct {
	Token string
}

func (PAT) Scheme() Scheme { return SchemePAT }

// String never prints the token.
func (p PAT) String() string { return "PAT(****)" }

func (p PAT) tokenSource(context.Context, Workspace) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: p.Token, TokenType: "Bearer"})
}

// OAuth is a Databricks service principal used with the client-credentials grant.
type OAuth struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

func (OAuth) Scheme() Scheme { return SchemeOAuth }

// String never prints the client secret.
func (o OAuth) String() string { return "OAuth(client_id=" + o.ClientID + ", secret=****)" }

func (o OAuth) tokenSource(ctx context.Context, ws Workspace) oauth2.TokenSource {
	cfg := clientcredentials.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		TokenURL:     ws.BaseURL() + oauthTokenPath,
		Scopes:       []string{oauthScope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if o.RedirectURI != "" {
		cfg.EndpointParams = url.Values{"redirect_uri": {o.RedirectURI}}
	}
	// clientcredentials already wraps the source in a ReuseTokenSource.
	return cfg.TokenSource(ctx)
}

// ResolveCredential applies the exactly-one-scheme rule: a complete OAuth triple wins,
// otherwise a PAT is required.
func ResolveCredential(token, clientID, clientSecret, redirectURI string) (Credential, error) {
	token = strings.TrimSpace(token)
	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)
	redirectURI = strings.TrimSpace(redirectURI)

	if clientID != "" && clientSecret != "" && redirectURI != "" {
		return OAuth{ClientID: clientID, ClientSecret: clientSecret, RedirectURI: redirectURI}, nil
	}
	if token != "" {
		return PAT{Token: token}, nil
	}

	var missing []string
	if clientID != "" || clientSecret != "" || redirectURI != "" {
		if clientID == "" {
			missing = append(missing, "DATABRICKS_CLIENT_ID")
		}
		if clientSecret == "" {
			missing = append(missing, "DATABRICKS_CLIENT_SECRET")
		}
		if redirectURI == "" {
			missing = append(missing, "DATABRICKS_REDIRECT_URI")
		}
		return nil, ConfigError("incomplete OAuth configuration (missing " + strings.Join(missing, ", ") +
			") and DATABRICKS_TOKEN is not set")
	}
	return nil, ConfigError("no credential configured: set DATABRICKS_TOKEN, or DATABRICKS_CLIENT_ID, " +
		"DATABRICKS_CLIENT_SECRET and DATABRICKS_REDIRECT_URI")
}

// Workspace identifies the Databricks workspace and the Genie space inside it.
type Workspace struct {
	Host    string
	SpaceID string
}

// NormalizeHost strips an https:// prefix and trailing slashes. An http:// prefix is kept
// so local endpoints keep working.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "https://")
	return strings.TrimRight(host, "/")
}

// BaseURL returns the scheme and host every endpoint is resolved against.
func (w Workspace) BaseURL() string {
	host := NormalizeHost(w.Host)
	if strings.HasPrefix(host, "http://") {
		return host
	}
	return "https://" + host
}

func (w Workspace) validate() error {
	if NormalizeHost(w.Host) == "" {
		return ConfigError("DATABRICKS_INSTANCE is not set")
	}
	if strings.TrimSpace(w.SpaceID) == "" {
		return ConfigError("GENIE_SPACE_ID is not set")
	}
	return nil
}

// oauthContext makes token requests go through the client's own transport.
func oauthContext(hc *http.Client) context.Context {
	return context.WithValue(context.Background(), oauth2.HTTPClient, hc)
}
