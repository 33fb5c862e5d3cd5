/*
2025 © Logset
*/

// Package transport defines the contract both search strategies
// implement. The orchestrator drives pagination and histogram loops
// against this interface and never learns which transport is active.
package transport

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"gitlab.com/logset/searchkit/pkg/models"
)

// ErrCancelled marks a run terminated by the user. Cancellation is not
// a failure: it must win over any error that was in flight.
var ErrCancelled = errors.New("query was cancelled")

// Searcher issues one search request and resolves it to a single
// response, whatever the underlying wire protocol.
type Searcher interface {
	// Search runs one query. The trace id correlates the request for
	// response routing and cancellation targeting.
	Search(ctx context.Context, query *models.QueryRequest, traceID string) (*models.SearchResponse, error)

	// Cancel asks the backend to stop the query behind a trace id.
	Cancel(ctx context.Context, traceID string) error

	// Close releases the transport.
	Close() error
}

// APIError is a backend failure correlated to a request. The trace id
// is appended to the message for support diagnosis.
type APIError struct {
	Code    int
	Msg     string
	TraceID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.TraceID == "" {
		return e.Msg
	}

	return fmt.Sprintf("%s (trace_id: %s)", e.Msg, e.TraceID)
}

// RateLimitError is a 429-class response. The server-provided message
// is surfaced verbatim instead of a generic one.
type RateLimitError struct {
	Msg string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return e.Msg
}

// IsRateLimited reports whether err is a rate-limit response.
func IsRateLimited(err error) bool {
	var rateLimited *RateLimitError
	return errors.As(err, &rateLimited)
}

// IsCancelled reports whether err means the run was cancelled, either
// locally or by a backend cancel acknowledgement.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
