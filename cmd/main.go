package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corsgate/app"
	credis "corsgate/client/redis"
	"corsgate/config"
	"corsgate/handlers"
	"corsgate/logging"
	"corsgate/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	reloadDebounce  = 500 * time.Millisecond
	shutdownTimeout = 30 * time.Second
)

// main is the entry point of the application.
// It loads the configuration, initializes the logger, metrics and Redis client, and starts the HTTP server.
func main() {
	configFile := flag.String("f", "config.yaml", "path to the configuration file")
	flag.Parse()

	if _, err := os.Stat(*configFile); os.IsNotExist(err) {
		log.Fatalf("Configuration file not found: %s", *configFile)
	}

	cfg, err := config.LoadAndSetConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.InitializeLogger(cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Metrics.Enabled {
		metrics.InitMetrics()
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = credis.InitRedis(logger, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to initialize Redis client: ", err)
		}
	}

	gw, err := app.NewGateway(cfg, redisClient, logger)
	if err != nil {
		log.Fatal("Failed to initialize gateway: ", err)
	}
	defer gw.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		log.Fatal("Failed to start TLD refresher: ", err)
	}

	onChange := func(newConfig *config.GatewayConfig) {
		if newConfig.Metrics.Enabled {
			metrics.InitMetrics()
		}
		if err := gw.UpdateComponents(newConfig); err != nil {
			gw.GetLogger().Error("Configuration rejected, keeping the previous one", slog.Any("error", err))
			return
		}
		config.UpdateConfig(newConfig)
	}

	if cfg.HotReload {
		go func() {
			if err := config.WatchConfig(ctx, *configFile, reloadDebounce, onChange, logger); err != nil {
				gw.GetLogger().Error("Configuration watcher stopped", slog.Any("error", err))
			}
		}()
	}

	StartServer(ctx, gw)
}

// StartServer initializes and starts the HTTP server for the gateway.
// It serves every path through handlers.GatewayHandler and shuts down gracefully when ctx is cancelled.
//
// Parameters:
// - ctx: Cancelled on SIGINT or SIGTERM.
// - gw: The Gateway instance containing the configuration and logger.
func StartServer(ctx context.Context, gw *app.Gateway) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handlers.GatewayHandler(gw, w, r)
	})

	server := &http.Server{
		Addr:              ":" + gw.GetCurrentConfig().Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		<-ctx.Done()
		gw.GetLogger().Info("Shutting down server gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			gw.GetLogger().Error("Server forced to shutdown", slog.Any("error", err))
		} else {
			gw.GetLogger().Info("Server shut down gracefully.")
		}
		close(idleConnsClosed)
	}()

	gw.GetLogger().Info(fmt.Sprintf("CORS gateway is ready on port: %s", server.Addr[1:]))

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		gw.GetLogger().Error("Server failed to start", slog.Any("error", err))
		log.Fatal(err)
	}

	<-idleConnsClosed
	gw.GetLogger().Info("All connections closed, exiting.")
}
