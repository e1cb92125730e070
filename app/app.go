package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	credis "corsgate/client/redis"
	"corsgate/config"
	"corsgate/hostname"
	"corsgate/logging"
	"corsgate/stages"
	"corsgate/transport"

	"github.com/redis/go-redis/v9"
)

// Gateway represents the main application structure.
// It holds the configuration, the shared TLD cache, the composed chain, the Redis client and the logger.
type Gateway struct {
	Config      *config.GatewayConfig
	configMutex sync.RWMutex
	RedisClient *redis.Client
	Logger      *slog.Logger
	Validator   *hostname.Validator
	Chain       *stages.Chain

	refresher *hostname.Refresher
	ctx       context.Context // set by Start; nil until then
}

// NewGateway creates a new instance of Gateway.
//
// Parameters:
// - cfg: The gateway configuration.
// - redisClient: The Redis client instance, nil when Redis is disabled.
// - logger: The logger instance.
//
// Returns:
// - *Gateway: A pointer to the newly created Gateway instance.
// - error: An error if the transport or the chain could not be built.
func NewGateway(cfg *config.GatewayConfig, redisClient *redis.Client, logger *slog.Logger) (*Gateway, error) {
	g := &Gateway{
		Config:      cfg,
		RedisClient: redisClient,
		Logger:      logger,
	}
	g.Validator = newValidator(cfg, redisClient, logger)

	chain, err := newChain(cfg, g.Validator)
	if err != nil {
		return nil, err
	}
	g.Chain = chain
	g.refresher = hostname.NewRefresher(g.Validator, cfg.TLD.RefreshSchedule, cfg.TLD.FetchTimeout, logger)
	return g, nil
}

// newValidator builds the TLD cache described by cfg.
func newValidator(cfg *config.GatewayConfig, redisClient *redis.Client, logger *slog.Logger) *hostname.Validator {
	opts := []hostname.Option{
		hostname.WithTTL(cfg.TLD.TTL),
		hostname.WithRetryInterval(cfg.TLD.RetryInterval),
		hostname.WithFetchTimeout(cfg.TLD.FetchTimeout),
		hostname.WithLogger(logger),
	}
	if redisClient != nil && cfg.Redis.Enabled {
		opts = append(opts, hostname.WithStore(hostname.NewRedisStore(redisClient, cfg.Redis.Key)))
	}
	return hostname.NewValidator(hostname.NewHTTPFetcher(cfg.TLD.SourceURL, cfg.TLD.FetchTimeout), opts...)
}

// newChain builds the upstream transport and the stage chain.
func newChain(cfg *config.GatewayConfig, validator *hostname.Validator) (*stages.Chain, error) {
	rt, err := transport.NewHTTPTransport(cfg.Transport.HTTP)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return stages.NewChain(cfg, validator, rt)
}

// Start starts the background work: the scheduled TLD refresh. It stops when ctx is cancelled.
//
// Parameters:
// - ctx: The lifetime of the background work.
//
// Returns:
// - error: An error if the refresh schedule is invalid.
func (g *Gateway) Start(ctx context.Context) error {
	g.configMutex.Lock()
	defer g.configMutex.Unlock()
	g.ctx = ctx
	return g.refresher.Start(ctx)
}

// GetCurrentConfig returns a pointer to the current configuration, safely.
//
// Returns:
// - *config.GatewayConfig: The current gateway configuration.
func (g *Gateway) GetCurrentConfig() *config.GatewayConfig {
	g.configMutex.RLock()
	defer g.configMutex.RUnlock()
	return g.Config
}

// Snapshot returns the configuration, chain and logger to serve one request with.
func (g *Gateway) Snapshot() (*config.GatewayConfig, *stages.Chain, *slog.Logger) {
	g.configMutex.RLock()
	defer g.configMutex.RUnlock()
	return g.Config, g.Chain, g.Logger
}

// GetLogger returns the current logger, safely.
func (g *Gateway) GetLogger() *slog.Logger {
	g.configMutex.RLock()
	defer g.configMutex.RUnlock()
	return g.Logger
}

// Redis returns the current Redis client, nil when Redis is disabled or unreachable.
func (g *Gateway) Redis() *redis.Client {
	g.configMutex.RLock()
	defer g.configMutex.RUnlock()
	return g.RedisClient
}

// UpdateComponents rebuilds what depends on the configuration when it changes.
// The TLD cache is kept unless its own settings or the Redis settings changed.
// On error the previous components stay in place.
//
// Parameters:
// - newConfig: The new configuration to be set.
//
// Returns:
// - error: An error if the new chain could not be built.
func (g *Gateway) UpdateComponents(newConfig *config.GatewayConfig) error {
	g.configMutex.Lock()
	defer g.configMutex.Unlock()

	old := g.Config
	logger := g.Logger
	if newConfig.Logging.Level != old.Logging.Level || newConfig.Logging.Format != old.Logging.Format {
		logger = logging.InitializeLogger(newConfig.Logging.Level, newConfig.Logging.Format)
	}

	redisClient := g.RedisClient
	redisChanged := newConfig.Redis != old.Redis
	if redisChanged {
		redisClient = nil
		if newConfig.Redis.Enabled {
			var err error
			redisClient, err = credis.InitRedis(logger, newConfig.Redis)
			if err != nil {
				logger.Error("Failed to initialize Redis client, TLD list will not be shared", slog.Any("error", err))
			}
		}
	}

	validator := g.Validator
	if newConfig.TLD != old.TLD || redisChanged {
		validator = newValidator(newConfig, redisClient, logger)
	}

	chain, err := newChain(newConfig, validator)
	if err != nil {
		if redisChanged && redisClient != nil {
			redisClient.Close()
		}
		return err
	}

	if redisChanged && g.RedisClient != nil {
		g.RedisClient.Close()
	}
	if validator != g.Validator || newConfig.TLD.RefreshSchedule != old.TLD.RefreshSchedule {
		g.refresher.Stop()
		g.refresher = hostname.NewRefresher(validator, newConfig.TLD.RefreshSchedule, newConfig.TLD.FetchTimeout, logger)
		if g.ctx != nil {
			if err := g.refresher.Start(g.ctx); err != nil {
				logger.Error("Failed to restart TLD refresher", slog.Any("error", err))
			}
		}
	}

	g.Config = newConfig
	g.Logger = logger
	g.RedisClient = redisClient
	g.Validator = validator
	g.Chain = chain
	logger.Warn("Configuration updated in Gateway")
	return nil
}

// Close releases the Redis client and stops the refresher.
func (g *Gateway) Close() {
	g.configMutex.Lock()
	defer g.configMutex.Unlock()
	g.refresher.Stop()
	if g.RedisClient != nil {
		g.RedisClient.Close()
		g.RedisClient = nil
	}
}
