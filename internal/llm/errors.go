package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies an upstream provider failure. The raw provider error
// text never leaves this package; callers surface only the kind's sanitized
// message.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindTimeout            ErrorKind = "timeout"
	KindNotFound           ErrorKind = "resource_not_found"
	KindAccessDenied       ErrorKind = "access_denied"
	KindUnreachable        ErrorKind = "endpoint_unreachable"
	KindRateLimited        ErrorKind = "rate_limited"
	KindGeneric            ErrorKind = "provider_failure"
)

var kindMessages = map[ErrorKind]string{
	KindInvalidCredentials: "the configured provider credentials were rejected",
	KindTimeout:            "the provider did not respond in time",
	KindNotFound:           "the requested provider resource was not found",
	KindAccessDenied:       "the provider denied access to the requested resource",
	KindUnreachable:        "the provider endpoint could not be reached",
	KindRateLimited:        "the provider rate limit was exceeded",
	KindGeneric:            "the provider request failed",
}

// ProviderError is a classified, sanitized upstream failure.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, kindMessages[e.Kind])
}

// Message returns the sanitized human-readable message for the error kind.
func (e *ProviderError) Message() string {
	return kindMessages[e.Kind]
}

// classifyError maps a transport-level error onto a ProviderError.
func classifyError(provider string, err error) *ProviderError {
	kind := KindGeneric
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case isTimeout(err):
		kind = KindTimeout
	case isUnreachable(err):
		kind = KindUnreachable
	}
	return &ProviderError{Provider: provider, Kind: kind}
}

// classifyStatus maps an HTTP status code from a provider onto a
// ProviderError.
func classifyStatus(provider string, status int) *ProviderError {
	kind := KindGeneric
	switch status {
	case 401:
		kind = KindInvalidCredentials
	case 403:
		kind = KindAccessDenied
	case 404:
		kind = KindNotFound
	case 408, 504:
		kind = KindTimeout
	case 429:
		kind = KindRateLimited
	}
	return &ProviderError{Provider: provider, Kind: kind}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func isUnreachable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable")
}
