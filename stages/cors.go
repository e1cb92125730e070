package stages

import (
	"net/http"
	"strconv"
	"strings"

	"corsgate/config"
	"corsgate/pipeline"
)

// CORS response headers.
const (
	HeaderAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderAllowMethods     = "Access-Control-Allow-Methods"
	HeaderMaxAge           = "Access-Control-Max-Age"
	HeaderRequestHeaders   = "Access-Control-Request-Headers"
)

// CORS grants the calling origin access to the response. Preflight requests
// are answered directly with 204 and never reach the following stages.
type CORS struct {
	allowMethods string
	allowHeaders string
	maxAge       string
}

// NewCORS builds the stage from cfg.
func NewCORS(cfg config.CORSConfig) *CORS {
	return &CORS{
		allowMethods: strings.Join(cfg.AllowedMethods, ","),
		allowHeaders: strings.Join(cfg.AllowedHeaders, ","),
		maxAge:       strconv.Itoa(cfg.MaxAge),
	}
}

// Process implements pipeline.Stage.
func (s *CORS) Process(c *Context, next pipeline.Next) error {
	h := c.Response.Header()

	origin := c.Request.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	h.Set(HeaderAllowOrigin, origin)
	h.Set(HeaderAllowCredentials, "true")

	if c.Request.Method != http.MethodOptions {
		return next()
	}

	allowHeaders := c.Request.Header.Get(HeaderRequestHeaders)
	if allowHeaders == "" {
		allowHeaders = s.allowHeaders
	}
	if allowHeaders != "" {
		h.Set(HeaderAllowHeaders, allowHeaders)
	}
	h.Set(HeaderAllowMethods, s.allowMethods)
	h.Set(HeaderMaxAge, s.maxAge)
	h.Add("Vary", "Origin")

	c.Response.WriteHeader(http.StatusNoContent)
	return nil
}
