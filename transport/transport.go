package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"corsgate/config"
)

// OmitRequestHeaders are inbound headers that are never forwarded upstream.
// They describe the hop between the caller and the gateway, or its hosting
// platform, and would leak or confuse the target.
var OmitRequestHeaders = []string{
	"Connection",
	"Content-Length",
	"Forwarded",
	"Function-Execution-Id",
	"Host",
	"Traceparent",
	"X-Client-Data",
	"X-Cloud-Trace-Context",
	"X-Forwarded-For",
	"X-Forwarded-Proto",
}

// OmitRequestHeaderPrefix removes every header starting with it.
const OmitRequestHeaderPrefix = "X-Appengine-"

// OmitResponseHeaders are upstream headers that are never relayed to the caller.
var OmitResponseHeaders = []string{
	"X-Powered-By",
}

// HopHeaders describe a single connection and are not relayed in either direction.
var HopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// FilterRequestHeaders returns a copy of h without the omitted request headers.
//
// Parameters:
// - h: The inbound request headers.
//
// Returns:
// - http.Header: The headers to forward.
func FilterRequestHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		return http.Header{}
	}
	for _, name := range OmitRequestHeaders {
		out.Del(name)
	}
	for name := range out {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), OmitRequestHeaderPrefix) {
			delete(out, name)
		}
	}
	return out
}

// FilterResponseHeaders removes omitted and hop-by-hop headers from h in place.
func FilterResponseHeaders(h http.Header) {
	for _, name := range OmitResponseHeaders {
		h.Del(name)
	}
	// Headers named in Connection are hop-by-hop too.
	for _, value := range h.Values("Connection") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range HopHeaders {
		h.Del(name)
	}
}

// Caronte is the outbound RoundTripper. It applies the header policy to every
// hop, redirects included, and never reuses the upstream connection.
type Caronte struct {
	RT http.RoundTripper // The underlying RoundTripper to execute requests.
}

// RoundTrip executes a single HTTP transaction with filtered headers.
//
// Parameters:
// - req: The HTTP request to be executed.
//
// Returns:
// - *http.Response: The HTTP response received, with omitted headers removed.
// - error: An error if the request failed.
func (t *Caronte) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	out := req.Clone(req.Context())
	out.Header = FilterRequestHeaders(req.Header)
	out.Close = true

	rt := t.RT
	if rt == nil {
		rt = http.DefaultTransport
	}
	resp, err := rt.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	FilterResponseHeaders(resp.Header)
	return resp, nil
}

// NewHTTPTransport builds the transport used for upstream calls. Automatic
// decompression is always disabled so that relayed bodies are byte-identical
// to what the upstream sent.
//
// Parameters:
// - cfg: The transport settings.
//
// Returns:
// - *http.Transport: The configured transport.
// - error: An error if the TLS material could not be loaded.
func NewHTTPTransport(cfg config.HTTPTransportConfig) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAlive,
	}

	tlsConfig, err := createTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
		DisableCompression:    true,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
	}, nil
}

// createTLSConfig loads the optional CA bundle and client certificate.
//
// Parameters:
// - cfg: The transport settings.
//
// Returns:
// - *tls.Config: The TLS configuration, nil when no TLS material is configured.
// - error: An error if the files could not be read.
func createTLSConfig(cfg config.HTTPTransportConfig) (*tls.Config, error) {
	if cfg.CaFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	// Load CA certificate
	if cfg.CaFile != "" {
		caCert, err := os.ReadFile(cfg.CaFile)
		if err != nil {
			return nil, fmt.Errorf("error reading CA file: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in CA file %s", cfg.CaFile)
		}
		tlsConfig.RootCAs = caCertPool
	}

	// Load client certificate and key
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("error loading client certificate/key: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	return tlsConfig, nil
}
