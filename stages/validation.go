package stages

import (
	"net/url"

	"corsgate/failure"
	"corsgate/metrics"
	"corsgate/pipeline"
)

// Rejection reasons, used as the metrics label.
const (
	ReasonMissingParam    = "missing_param"
	ReasonInvalidURL      = "invalid_url"
	ReasonInvalidScheme   = "invalid_scheme"
	ReasonInvalidHostname = "invalid_hostname"
)

// Validation checks the target URL carried in the query and stores it in
// Context.Target.
type Validation struct {
	param string
	hosts HostValidator
}

// NewValidation returns a stage reading the target from param.
//
// Parameters:
// - param: The query parameter carrying the target URL.
// - hosts: Decides which hosts are acceptable.
//
// Returns:
// - *Validation: The stage.
func NewValidation(param string, hosts HostValidator) *Validation {
	return &Validation{param: param, hosts: hosts}
}

// Process implements pipeline.Stage.
func (s *Validation) Process(c *Context, next pipeline.Next) error {
	raw := c.Request.URL.Query().Get(s.param)
	if raw == "" {
		return s.reject(raw, ReasonMissingParam, "missing query parameter: %s", s.param)
	}

	target, err := url.Parse(raw)
	if err != nil || !target.IsAbs() || target.Host == "" {
		return s.reject(raw, ReasonInvalidURL, "invalid url: %s", raw)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return s.reject(raw, ReasonInvalidScheme, "invalid scheme: %s", target.Scheme)
	}

	host := target.Hostname()
	if !s.hosts.IsAcceptable(c.Request.Context(), host) {
		return s.reject(raw, ReasonInvalidHostname, "invalid hostname: %s", host)
	}

	c.Target = target
	return next()
}

func (s *Validation) reject(raw, reason, format string, args ...any) error {
	metrics.RecordRejection(reason)
	return failure.BadRequest(s.param, raw, reason, format, args...)
}
