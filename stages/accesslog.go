package stages

import (
	"log/slog"
	"time"

	"corsgate/config"
	"corsgate/logging"
	"corsgate/metrics"
	"corsgate/pipeline"

	"github.com/google/uuid"
)

// RequestIDHeader carries a caller-supplied request ID.
const RequestIDHeader = "X-Request-ID"

// AccessLog is the outermost stage. It tags the request with an ID, and once
// the rest of the chain has finished it logs the exchange and records
// metrics.
type AccessLog struct {
	Logging config.Logging
	Metrics bool
}

// Process implements pipeline.Stage.
func (s *AccessLog) Process(c *Context, next pipeline.Next) error {
	if s.Metrics {
		metrics.UpdateActiveConnections(true)
		defer metrics.UpdateActiveConnections(false)
	}

	c.RequestID = c.Request.Header.Get(RequestIDHeader)
	if c.RequestID == "" {
		c.RequestID = uuid.NewString()
	}
	c.Logger = c.Logger.With(slog.String("request_id", c.RequestID))

	err := next()

	duration := time.Since(c.Start)
	status := c.Response.Status()
	target := ""
	if c.Target != nil {
		target = c.Target.String()
	}

	if s.Metrics {
		metrics.RecordRequest(c.Request.Method, status, duration.Seconds())
		metrics.RecordDataTransferred("inbound", c.Request.ContentLength)
		metrics.RecordDataTransferred("outbound", c.Response.Written())
	}

	if s.Logging.Enabled {
		if s.Logging.Verbose {
			preview, bodySize := c.Response.Preview()
			logging.LogRequestVerbose(c.Logger, c.Request, target, status, preview, bodySize, duration)
		} else {
			logging.LogRequestCompact(c.Logger, c.Request, target, status, c.Response.Written(), duration)
		}
	}
	return err
}
