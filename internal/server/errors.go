package server

import (
	"net/http"

	"github.com/go-chi/render"
)

// ErrorKind is the stable machine-checkable error class carried by every
// error response. No stack traces or internal identifiers are ever exposed.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindUnauthorized  ErrorKind = "authorization"
	KindForbidden     ErrorKind = "forbidden"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindRateLimited   ErrorKind = "rate_limited"
	KindUpstream      ErrorKind = "upstream_provider"
	KindPipeline      ErrorKind = "pipeline"
)

type errorBody struct {
	Kind         ErrorKind `json:"kind"`
	Message      string    `json:"message"`
	RetryAfterMs int64     `json:"retryAfterMs,omitempty"`
}

func renderError(w http.ResponseWriter, r *http.Request, status int, kind ErrorKind, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Kind: kind, Message: message})
}

func renderRateLimited(w http.ResponseWriter, r *http.Request, retryAfterMs int64) {
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, errorBody{
		Kind:         KindRateLimited,
		Message:      "analysis rate limit exceeded, retry later",
		RetryAfterMs: retryAfterMs,
	})
}
