package stages

import (
	"net/http"

	"corsgate/config"
	"corsgate/pipeline"
)

// NewChain composes the gateway chain:
// AccessLog → Errors → CORS → Validation → Proxy.
//
// Parameters:
// - cfg: The gateway configuration.
// - hosts: The hostname validator shared by every request.
// - rt: The upstream transport shared by every request.
//
// Returns:
// - *Chain: The composed chain.
// - error: An error if a stage could not be composed.
func NewChain(cfg *config.GatewayConfig, hosts HostValidator, rt http.RoundTripper) (*Chain, error) {
	return pipeline.Compose[*Context](
		&AccessLog{Logging: cfg.Logging, Metrics: cfg.Metrics.Enabled},
		Errors{},
		NewCORS(cfg.CORS),
		NewValidation(cfg.QueryParam, hosts),
		NewProxy(rt, hosts, cfg.Upstream.MaxRedirects, cfg.Upstream.RequestTimeout),
	)
}
