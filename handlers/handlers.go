package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"corsgate/app"
	credis "corsgate/client/redis"
	"corsgate/logging"
	"corsgate/metrics"
	"corsgate/stages"
)

const healthCheckTimeout = 2 * time.Second

// GatewayHandler serves one inbound request.
// The metrics and health endpoints are answered directly; every other request runs through the stage chain.
//
// Parameters:
// - gw: The Gateway instance containing the configuration, chain and logger.
// - w: The HTTP response writer.
// - r: The HTTP request.
func GatewayHandler(gw *app.Gateway, w http.ResponseWriter, r *http.Request) {
	cfg, chain, logger := gw.Snapshot()

	if cfg.Metrics.Enabled && isPathEndpoint(r.URL.Path, cfg.Metrics.Path) {
		logger.Debug("Handling metrics endpoint")
		metrics.ExposeMetricsHandler().ServeHTTP(w, r)
		return
	}

	if cfg.HealthPath != "" && isPathEndpoint(r.URL.Path, cfg.HealthPath) {
		HealthHandler(gw, w, r)
		return
	}

	c := stages.NewContext(w, r, logger)
	if err := chain.Run(c, nil); err != nil {
		logging.LogFailure(r.Context(), c.Logger, "Request chain failed", err)
		if !c.Response.Sent() {
			stages.WriteFailure(c.Response, err)
		}
	}
}

// HealthHandler answers liveness probes. It reports 503 when Redis is configured but unreachable.
func HealthHandler(gw *app.Gateway, w http.ResponseWriter, r *http.Request) {
	_, _, logger := gw.Snapshot()
	logger.Debug("Handling health endpoint")

	if client := gw.Redis(); client != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := credis.RedisHealthCheck(ctx, client); err != nil {
			logger.Warn("Health check failed", slog.Any("error", err))
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// isPathEndpoint checks if the request path matches the configured endpoint path.
//
// Parameters:
// - requestPath: The request path.
// - endpoint: The configured endpoint path.
//
// Returns:
// - bool: True if the request path matches the endpoint, false otherwise.
func isPathEndpoint(requestPath, endpoint string) bool {
	return requestPath == endpoint
}
