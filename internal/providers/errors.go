// Package providers holds the contracts shared by the generation
// collaborators and the typed error they report failures with.
package providers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shortgen/internal/domain"
)

// Error is a classified collaborator failure.
type Error struct {
	Category   domain.ErrorKind
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Provider)
	sb.WriteString(": ")
	sb.WriteString(string(e.Category))
	if e.StatusCode > 0 {
		fmt.Fprintf(&sb, " (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Kind implements domain.KindedError.
func (e *Error) Kind() domain.ErrorKind {
	return e.Category
}

// Unwrap exposes the cause and the matching domain sentinel.
func (e *Error) Unwrap() []error {
	sentinel := domain.ErrProviderFailure
	switch e.Category {
	case domain.KindTimeout:
		sentinel = domain.ErrProviderTimeout
	case domain.KindValidation:
		sentinel = domain.ErrInvalidInput
	}
	if e.Err != nil {
		return []error{sentinel, e.Err}
	}
	return []error{sentinel}
}

func newError(kind domain.ErrorKind, provider, format string, args ...any) *Error {
	return &Error{Category: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

func Transient(provider, format string, args ...any) *Error {
	return newError(domain.KindTransient, provider, format, args...)
}

func Terminal(provider, format string, args ...any) *Error {
	return newError(domain.KindTerminal, provider, format, args...)
}

func Timeout(provider, format string, args ...any) *Error {
	return newError(domain.KindTimeout, provider, format, args...)
}

func RateLimited(provider string, retryAfter time.Duration) *Error {
	return &Error{Category: domain.KindRateLimited, Provider: provider, Message: "rate limited", RetryAfter: retryAfter}
}

// Wrap classifies a transport-level failure as transient.
func Wrap(provider string, err error) *Error {
	return &Error{Category: domain.KindTransient, Provider: provider, Err: err}
}

// FromResponse maps a non-2xx response onto the taxonomy: 429 is rate
// limited, 408 and 5xx are transient, other 4xx are terminal.
func FromResponse(provider string, resp *http.Response, body []byte) *Error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	e := &Error{Provider: provider, StatusCode: resp.StatusCode, Message: msg}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Category = domain.KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode >= 500:
		e.Category = domain.KindTransient
	default:
		e.Category = domain.KindTerminal
	}
	return e
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
