package genie

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a machine-readable error category.
type Kind string

const (
	KindConfig       Kind = "config"
	KindInvalidInput Kind = "invalid_input"
	KindAuth         Kind = "auth"
	KindNotFound     Kind = "not_found"
	KindTransport    Kind = "transport"
	KindRemote       Kind = "remote"
	KindProtocol     Kind = "protocol"
	KindQueryFailed  Kind = "query_failed"
	KindCancelled    Kind = "cancelled"
	KindTimeout      Kind = "timeout"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrConfig       = &Error{Kind: KindConfig}
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrAuth         = &Error{Kind: KindAuth}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrTransport    = &Error{Kind: KindTransport}
	ErrRemote       = &Error{Kind: KindRemote}
	ErrProtocol     = &Error{Kind: KindProtocol}
	ErrQueryFailed  = &Error{Kind: KindQueryFailed}
	ErrCancelled    = &Error{Kind: KindCancelled}
	ErrTimeout      = &Error{Kind: KindTimeout}
)

// Error is returned by every Client operation.
// Message carries the server-provided text verbatim when there is one.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	RequestID  string
	Hint       string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("genie")
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (%s)", e.RequestID)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Hint != "" {
		b.WriteString(" | hint: ")
		b.WriteString(e.Hint)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// ConfigError reports missing or ambiguous settings detected before any network call.
func ConfigError(msg string) *Error {
	return &Error{Kind: KindConfig, Op: "configure", Message: msg}
}

func newError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func wrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// hintFor mirrors the troubleshooting hints shown for common HTTP failures.
func hintFor(status int) string {
	switch {
	case status == 401:
		return "invalid or expired credential; make sure the token or OAuth client belongs to this workspace"
	case status == 403:
		return "forbidden; the principal needs at least 'Can Use' on the Genie space"
	case status == 404:
		return "not found; check GENIE_SPACE_ID and that DATABRICKS_INSTANCE is the bare workspace host"
	case status == 429:
		return "rate limited; wait before asking again or raise the poll interval"
	case status >= 500 && status < 600:
		return "server error; try again shortly"
	}
	return ""
}
