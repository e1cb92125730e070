package config

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTLDSourceURL is the IANA list of valid top-level domains.
	DefaultTLDSourceURL = "https://data.iana.org/TLD/tlds-alpha-by-domain.txt"

	// DefaultQueryParam is the query parameter carrying the target URL.
	DefaultQueryParam = "u"
)

// HTTPTransportConfig holds the configuration settings for the outbound HTTP transport.
//
// Fields:
// - IdleConnTimeout: The maximum amount of time an idle (keep-alive) connection will remain idle before closing.
// - MaxIdleConns: The maximum number of idle (keep-alive) connections across all hosts.
// - MaxIdleConnsPerHost: The maximum number of idle (keep-alive) connections to keep per-host.
// - MaxConnsPerHost: The maximum number of connections per host.
// - TLSHandshakeTimeout: The maximum amount of time allowed for the TLS handshake.
// - ResponseHeaderTimeout: The maximum amount of time to wait for the upstream's response headers (0 = no limit).
// - ExpectContinueTimeout: The maximum amount of time to wait for a 100-continue response.
// - ForceHTTP2: Whether to attempt HTTP/2 upstream connections.
// - DialTimeout: The maximum amount of time to wait for a dial to complete.
// - KeepAlive: The interval between keep-alive probes for an active network connection.
// - CertFile: Path to the certificate file for client authentication.
// - KeyFile: Path to the key file for client authentication.
// - CaFile: Path to the CA file for server certificate verification.
type HTTPTransportConfig struct {
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout"`
	ForceHTTP2            bool          `yaml:"force_http2"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	KeepAlive             time.Duration `yaml:"keep_alive"`
	CertFile              string        `yaml:"cert_file"` // Path to the certificate file.
	KeyFile               string        `yaml:"key_file"`  // Path to the key file.
	CaFile                string        `yaml:"ca_file"`   // Path to the CA file.
}

// TransportConfig wraps HTTP transport configuration
type TransportConfig struct {
	HTTP HTTPTransportConfig `yaml:"http"`
}

// MetricsConfig holds the configuration for the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enables/disables the metrics endpoint.
	Path    string `yaml:"path"`    // Path the metrics endpoint will respond to.
}

// Logging holds the configuration for logging.
type Logging struct {
	Enabled bool   `yaml:"enabled"` // Enables/disables request logging.
	Verbose bool   `yaml:"verbose"` // Enables/disables verbose request logging.
	Level   string `yaml:"level"`   // Log level (e.g., debug, info, notice, warning, error).
	Format  string `yaml:"format"`  // Output format: "text" or "json".
}

// CORSConfig holds the values the CORS stage returns on preflight requests.
type CORSConfig struct {
	AllowedMethods []string `yaml:"allowed_methods"` // Value of Access-Control-Allow-Methods.
	AllowedHeaders []string `yaml:"allowed_headers"` // Fallback for Access-Control-Allow-Headers.
	MaxAge         int      `yaml:"max_age"`         // Value of Access-Control-Max-Age, in seconds.
}

// TLDConfig holds the configuration of the top-level domain cache.
type TLDConfig struct {
	SourceURL       string        `yaml:"source_url"`       // Where the TLD list is fetched from.
	TTL             time.Duration `yaml:"ttl"`              // How long a fetched list stays valid.
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`    // Timeout of a single list download.
	RetryInterval   time.Duration `yaml:"retry_interval"`   // Minimum delay between attempts after a failure.
	RefreshSchedule string        `yaml:"refresh_schedule"` // Optional cron expression for proactive refreshes.
}

// RedisConfig holds the connection settings of the optional shared TLD store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"` // Key holding the shared TLD snapshot.
}

// UpstreamConfig holds settings of the forwarded exchange.
type UpstreamConfig struct {
	MaxRedirects   int           `yaml:"max_redirects"`   // Redirects followed per request; 0 relays 3xx responses as-is.
	RequestTimeout time.Duration `yaml:"request_timeout"` // Whole-exchange timeout; 0 means unbounded.
}

// GatewayConfig holds the configuration for the gateway.
type GatewayConfig struct {
	Port       string          `yaml:"port"`        // Port the gateway will listen on.
	HotReload  bool            `yaml:"hot_reload"`  // Enables/disables hot reloading.
	QueryParam string          `yaml:"query_param"` // Query parameter carrying the target URL.
	HealthPath string          `yaml:"health_path"` // Path answering liveness probes; empty disables it.
	Logging    Logging         `yaml:"logging"`     // Logging configuration.
	Metrics    MetricsConfig   `yaml:"metrics"`     // Metrics configuration.
	CORS       CORSConfig      `yaml:"cors"`        // CORS configuration.
	TLD        TLDConfig       `yaml:"tld"`         // TLD cache configuration.
	Redis      RedisConfig     `yaml:"redis"`       // Redis configuration.
	Upstream   UpstreamConfig  `yaml:"upstream"`    // Upstream exchange configuration.
	Transport  TransportConfig `yaml:"transport"`   // Transport configuration.
}

var currentConfig atomic.Value

// Default returns a configuration with every default applied.
func Default() *GatewayConfig {
	cfg := &GatewayConfig{}
	cfg.Upstream.MaxRedirects = -1
	if err := validateAndSetDefaults(cfg); err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfiguration loads the gateway configuration from a YAML file.
//
// Parameters:
// - file: The path to the configuration file.
//
// Returns:
// - *GatewayConfig: A pointer to the loaded GatewayConfig.
// - error: An error if the configuration could not be loaded.
func LoadConfiguration(file string) (*GatewayConfig, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration data and applies defaults.
//
// Parameters:
// - data: The raw YAML document.
//
// Returns:
// - *GatewayConfig: The decoded configuration.
// - error: A decoding or validation error.
func Parse(data []byte) (*GatewayConfig, error) {
	// -1 marks max_redirects as unset so an explicit 0 survives defaulting.
	config := GatewayConfig{Upstream: UpstreamConfig{MaxRedirects: -1}}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	if err := validateAndSetDefaults(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// validateAndSetDefaults validates the configuration and sets default values where needed.
//
// Parameters:
// - config: The configuration to validate
//
// Returns:
// - error: Any validation error
func validateAndSetDefaults(config *GatewayConfig) error {
	if config.Port == "" {
		config.Port = "8080"
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Port = port
	}

	if config.QueryParam == "" {
		config.QueryParam = DefaultQueryParam
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	switch strings.ToLower(config.Logging.Format) {
	case "":
		config.Logging.Format = "text"
	case "text", "json":
		config.Logging.Format = strings.ToLower(config.Logging.Format)
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", config.Logging.Format)
	}

	// Set default metrics path if enabled but path not specified
	if config.Metrics.Enabled && config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}

	if len(config.CORS.AllowedMethods) == 0 {
		config.CORS.AllowedMethods = []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"}
	}
	if config.CORS.MaxAge == 0 {
		config.CORS.MaxAge = 86400
	}
	if config.CORS.MaxAge < 0 {
		return fmt.Errorf("cors.max_age cannot be negative")
	}

	if config.TLD.SourceURL == "" {
		config.TLD.SourceURL = DefaultTLDSourceURL
	}
	if u, err := url.Parse(config.TLD.SourceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("tld.source_url must be an absolute http(s) URL, got %q", config.TLD.SourceURL)
	}
	if config.TLD.TTL == 0 {
		config.TLD.TTL = 24 * time.Hour
	}
	if config.TLD.FetchTimeout == 0 {
		config.TLD.FetchTimeout = 10 * time.Second
	}
	if config.TLD.RetryInterval == 0 {
		config.TLD.RetryInterval = 30 * time.Second
	}
	if config.TLD.TTL < 0 || config.TLD.FetchTimeout < 0 || config.TLD.RetryInterval < 0 {
		return fmt.Errorf("tld durations must be non-negative")
	}
	if config.TLD.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(config.TLD.RefreshSchedule); err != nil {
			return fmt.Errorf("invalid tld.refresh_schedule %q: %w", config.TLD.RefreshSchedule, err)
		}
	}

	if config.Redis.Enabled {
		if config.Redis.Host == "" {
			config.Redis.Host = "localhost"
		}
		if config.Redis.Port == "" {
			config.Redis.Port = "6379"
		}
	}
	if config.Redis.Key == "" {
		config.Redis.Key = "corsgate:tlds"
	}

	if config.Upstream.MaxRedirects < 0 {
		config.Upstream.MaxRedirects = 5
	}
	if config.Upstream.RequestTimeout < 0 {
		return fmt.Errorf("upstream.request_timeout cannot be negative")
	}

	http := &config.Transport.HTTP
	if http.DialTimeout == 0 {
		http.DialTimeout = 30 * time.Second
	}
	if http.KeepAlive == 0 {
		http.KeepAlive = 30 * time.Second
	}
	if http.TLSHandshakeTimeout == 0 {
		http.TLSHandshakeTimeout = 10 * time.Second
	}
	if http.IdleConnTimeout == 0 {
		http.IdleConnTimeout = 90 * time.Second
	}
	if http.MaxIdleConns == 0 {
		http.MaxIdleConns = 100
	}
	if http.ExpectContinueTimeout == 0 {
		http.ExpectContinueTimeout = time.Second
	}

	// Validate transport timeouts are positive
	if http.IdleConnTimeout < 0 ||
		http.TLSHandshakeTimeout < 0 ||
		http.ResponseHeaderTimeout < 0 ||
		http.ExpectContinueTimeout < 0 ||
		http.DialTimeout < 0 ||
		http.KeepAlive < 0 {
		return fmt.Errorf("transport timeouts must be non-negative")
	}
	if (http.CertFile == "") != (http.KeyFile == "") {
		return fmt.Errorf("transport.http.cert_file and key_file must be set together")
	}

	return nil
}

// UpdateConfig updates the current configuration with a new configuration.
//
// Parameters:
// - newConfig: A pointer to the new GatewayConfig.
func UpdateConfig(newConfig *GatewayConfig) {
	currentConfig.Store(newConfig)
	if !newConfig.Logging.Enabled {
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(os.Stdout)
	}
}

// GetCurrentConfig returns the current gateway configuration.
//
// Returns:
// - *GatewayConfig: A pointer to the current GatewayConfig, or nil before the first UpdateConfig.
func GetCurrentConfig() *GatewayConfig {
	config := currentConfig.Load()
	if config == nil {
		return nil
	}
	return config.(*GatewayConfig)
}

// LoadAndSetConfig loads the configuration from a file and sets it as the current configuration.
//
// Parameters:
// - configFile: The path to the configuration file.
//
// Returns:
// - *GatewayConfig: The loaded configuration.
// - error: An error if loading failed.
func LoadAndSetConfig(configFile string) (*GatewayConfig, error) {
	config, err := LoadConfiguration(configFile)
	if err != nil {
		return nil, err
	}
	UpdateConfig(config)
	return config, nil
}

// IsConfigDifferent compares two configurations using reflect.DeepEqual to determine if they are different.
//
// Parameters:
// - config1: A pointer to the first GatewayConfig.
// - config2: A pointer to the second GatewayConfig.
//
// Returns:
// - bool: True if the configurations are different, false otherwise.
func IsConfigDifferent(config1, config2 *GatewayConfig) bool {
	return !reflect.DeepEqual(config1, config2)
}

// WatchConfig watches the configuration file for changes and invokes a callback when changes are detected.
// The containing directory is watched so editors that replace the file atomically are handled.
// Bursts of events are collapsed into a single reload after debounce.
//
// Parameters:
// - ctx: Stops the watcher when cancelled.
// - configFile: The path to the configuration file.
// - debounce: Quiet period before a reload is attempted.
// - onChange: A callback function to invoke when the configuration changes.
// - logger: A logger to log messages.
//
// Returns:
// - error: An error if the watcher could not be started.
func WatchConfig(ctx context.Context, configFile string, debounce time.Duration, onChange func(*GatewayConfig), logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(configFile)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(absPath), err)
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath || event.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error(fmt.Sprintf("Configuration watcher error: %v", err))

		case <-timer.C:
			newConfig, err := LoadConfiguration(absPath)
			if err != nil {
				logger.Error(fmt.Sprintf("Error loading configuration: %v", err))
				continue
			}
			if IsConfigDifferent(GetCurrentConfig(), newConfig) {
				onChange(newConfig)
				logger.Info("Configuration reloaded successfully")
			}
		}
	}
}
