package stages

import (
	"io"
	"net/http"
	"runtime/debug"

	"corsgate/failure"
	"corsgate/logging"
	"corsgate/pipeline"
)

// Errors wraps the rest of the chain and turns every failure, panics
// included, into a logged record and, if nothing was sent yet, a plain-text
// error response. It never returns an error.
type Errors struct{}

// Process implements pipeline.Stage.
func (Errors) Process(c *Context, next pipeline.Next) (err error) {
	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			err = &failure.InternalError{Value: v, Stack: debug.Stack()}
		}
		if err != nil {
			respondWithFailure(c, err)
			err = nil
		}
	}()
	return next()
}

// respondWithFailure logs err and writes its status and message.
func respondWithFailure(c *Context, err error) {
	logging.LogFailure(c.Request.Context(), c.Logger, "Request failed", err)

	if c.Response.Sent() {
		return
	}
	WriteFailure(c.Response, err)
}

// WriteFailure answers with the status of err and its message as the
// plain-text body, verbatim.
func WriteFailure(w http.ResponseWriter, err error) {
	h := w.Header()
	h.Del("Content-Length")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(failure.StatusCode(err))
	io.WriteString(w, err.Error())
}
