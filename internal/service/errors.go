package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies which pipeline stage a request failed in. Every kind is
// request-scoped: it maps to an error response for that caller and never
// affects other in-flight requests.
type Kind int

const (
	// KindUnroutable marks a request line that cannot be interpreted at all.
	// Distinct from an unknown route, which still forwards.
	KindUnroutable Kind = iota
	// KindBodyRead marks an oversized, truncated or failed body read.
	KindBodyRead
	// KindForward marks an outbound call that never produced an upstream
	// response. An upstream error status is not a forward error.
	KindForward
	// KindResponseBuild marks an upstream response that could not be
	// reassembled for the caller.
	KindResponseBuild
)

func (k Kind) String() string {
	switch k {
	case KindUnroutable:
		return "unroutable_request"
	case KindBodyRead:
		return "body_read_error"
	case KindForward:
		return "forward_error"
	default:
		return "response_build_error"
	}
}

// StageError is the tagged failure result of one pipeline stage.
type StageError struct {
	Kind Kind
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Status returns the caller-facing HTTP status for the error. A forward
// failure caused by an exhausted deadline reports 504 rather than 502.
func (e *StageError) Status() int {
	switch e.Kind {
	case KindUnroutable:
		return http.StatusBadRequest
	case KindBodyRead:
		return http.StatusInternalServerError
	case KindForward:
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// Message returns a short, credential-free description for the error body.
func (e *StageError) Message() string {
	switch e.Kind {
	case KindUnroutable:
		return "request line could not be parsed"
	case KindBodyRead:
		return "failed to read request body"
	case KindForward:
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return "upstream request timed out"
		}
		return "upstream unreachable"
	default:
		return "failed to relay upstream response"
	}
}

func stageErr(kind Kind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}
