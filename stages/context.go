// Package stages holds the per-request Context and the stages the gateway
// chains together: access logging, error handling, CORS, target validation
// and the proxy itself.
package stages

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"corsgate/logging"
	"corsgate/pipeline"
	"corsgate/writer"
)

// Context is the value shared by the stages of one pipeline run. It is owned
// by that run and never shared between requests.
type Context struct {
	Request   *http.Request          // Inbound request.
	Response  *writer.ResponseWriter // Response sink.
	Target    *url.URL               // Validated target, set by the validation stage.
	RequestID string                 // Set by the access-log stage.
	Logger    *slog.Logger           // Request-scoped logger.
	Start     time.Time              // When the request was received.
}

// Stage is a stage operating on a *Context.
type Stage = pipeline.Stage[*Context]

// Chain is a composed pipeline of stages.
type Chain = pipeline.Pipeline[*Context]

// HostValidator decides whether a target host may be forwarded to.
type HostValidator interface {
	IsAcceptable(ctx context.Context, host string) bool
}

// NewContext wraps an inbound exchange.
//
// Parameters:
// - w: The response writer supplied by the server.
// - r: The inbound request.
// - logger: The base logger; the global one when nil.
//
// Returns:
// - *Context: A fresh context for one pipeline run.
func NewContext(w http.ResponseWriter, r *http.Request, logger *slog.Logger) *Context {
	if logger == nil {
		logger = logging.GetLogger()
	}
	rw, ok := w.(*writer.ResponseWriter)
	if !ok {
		rw = writer.NewResponseWriter(w)
	}
	return &Context{
		Request:  r,
		Response: rw,
		Logger:   logger,
		Start:    time.Now(),
	}
}
