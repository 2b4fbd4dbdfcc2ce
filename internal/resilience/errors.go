package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	KindConfig         Kind = "config"
	KindTransport      Kind = "transport"
	KindUpstream       Kind = "upstream"
	KindMalformed      Kind = "malformed"
	KindValidation     Kind = "validation"
	KindBudgetExceeded Kind = "budget_exceeded"
)

// maxSnippet bounds the offending content carried by malformed-response errors.
const maxSnippet = 500

// Error is the typed failure returned across component boundaries. Callers
// branch on Kind; infrastructure errors underneath are kept in Err.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Snippet    string
	Field      string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Snippet != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, msg, e.Snippet)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigError reports a missing or invalid credential or setting.
func NewConfigError(msg string) *Error {
	return &Error{Kind: KindConfig, Message: msg}
}

// NewTransportError reports a network-level or timeout failure.
func NewTransportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
}

// NewUpstreamError reports a non-2xx response. When the upstream body carried
// no error text the message falls back to the status code.
func NewUpstreamError(statusCode int, upstreamMsg string) *Error {
	msg := strings.TrimSpace(upstreamMsg)
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", statusCode)
	}
	return &Error{Kind: KindUpstream, Message: msg, StatusCode: statusCode}
}

// NewMalformedError reports a response that violated the JSON contract.
// The offending content is truncated into Snippet.
func NewMalformedError(msg, content string) *Error {
	return &Error{Kind: KindMalformed, Message: msg, Snippet: Snippet(content)}
}

// NewValidationError reports an entity rejected by the normalizer.
func NewValidationError(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}

// NewBudgetExceededError reports a pre-check denial.
func NewBudgetExceededError(kind string, estimated, remaining float64) *Error {
	return &Error{
		Kind:    KindBudgetExceeded,
		Message: fmt.Sprintf("budget exceeded: %s needs $%.2f, $%.2f remaining today", kind, estimated, remaining),
	}
}

// Snippet truncates content for diagnostics.
func Snippet(content string) string {
	if len(content) <= maxSnippet {
		return content
	}
	return content[:maxSnippet] + "..."
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient returns true if the error matches common transient patterns
// (network timeouts, connection resets, DNS failures). Transient failures are
// still reported to the caller; nothing in the pipeline retries them.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"context deadline exceeded",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
