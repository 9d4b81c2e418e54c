package genie

import (
	"net/http"
	"time"
)

// Settings is everything needed to build a Client, resolved once from configuration.
type Settings struct {
	Workspace      Workspace
	Credential     Credential
	PollInterval   time.Duration
	Timeout        time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

// NewFromSettings builds a Client from s. Extra options are applied after the settings.
func NewFromSettings(s Settings, opts ...Option) (*Client, error) {
	base := []Option{
		WithPollInterval(s.PollInterval),
		WithTimeout(s.Timeout),
		WithUserAgent(s.UserAgent),
	}
	if s.RequestTimeout > 0 {
		base = append(base, WithHTTPClient(&http.Client{Timeout: s.RequestTimeout}))
	}
	return New(s.Workspace, s.Credential, append(base, opts...)...)
}
