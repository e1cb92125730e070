package transport_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"corsgate/config"
	"corsgate/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterRequestHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Accept", "text/html")
	in.Set("Authorization", "Bearer abc")
	in.Set("Connection", "keep-alive")
	in.Set("Content-Length", "12")
	in.Set("Forwarded", "for=1.2.3.4")
	in.Set("Function-Execution-Id", "abc")
	in.Set("Host", "gateway.local")
	in.Set("Traceparent", "00-abc-def-01")
	in.Set("X-Appengine-Country", "IT")
	in.Set("X-AppEngine-City", "rome")
	in.Set("X-Client-Data", "xyz")
	in.Set("X-Cloud-Trace-Context", "trace")
	in.Set("X-Forwarded-For", "1.2.3.4")
	in.Set("X-Forwarded-Proto", "https")

	out := transport.FilterRequestHeaders(in)

	assert.Equal(t, http.Header{
		"Accept":        {"text/html"},
		"Authorization": {"Bearer abc"},
	}, out)
	assert.Equal(t, "1.2.3.4", in.Get("X-Forwarded-For"), "input must not be modified")
}

func TestFilterRequestHeadersNil(t *testing.T) {
	assert.NotNil(t, transport.FilterRequestHeaders(nil))
}

func TestFilterResponseHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-Powered-By", "Express")
	h.Set("Connection", "X-Secret, keep-alive")
	h.Set("X-Secret", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Access-Control-Allow-Origin", "https://other.example")

	transport.FilterResponseHeaders(h)

	assert.Equal(t, http.Header{
		"Content-Type":                {"application/json"},
		"Access-Control-Allow-Origin": {"https://other.example"},
	}, h)
}

func TestCaronteRoundTrip(t *testing.T) {
	received := make(chan *http.Request, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r
		w.Header().Set("X-Powered-By", "PHP/8.1")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	client := &http.Client{Transport: &transport.Caronte{RT: http.DefaultTransport}}

	req, err := http.NewRequest(http.MethodGet, upstream.URL, nil)
	require.NoError(t, err)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req.Header.Set("X-Custom", "kept")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Powered-By"))
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))

	r := <-received
	assert.Empty(t, r.Header.Get("X-Forwarded-For"))
	assert.Equal(t, "kept", r.Header.Get("X-Custom"))
	assert.True(t, r.Close, "upstream connection must be closed after the exchange")
	assert.Equal(t, "10.0.0.1", req.Header.Get("X-Forwarded-For"), "caller's request must not be modified")
}

func TestCaronteFiltersRedirectHops(t *testing.T) {
	finalHeaders := make(chan http.Header, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/end", http.StatusFound)
			return
		}
		finalHeaders <- r.Header.Clone()
	}))
	defer upstream.Close()

	client := &http.Client{Transport: &transport.Caronte{}}
	req, err := http.NewRequest(http.MethodGet, upstream.URL+"/start", nil)
	require.NoError(t, err)
	req.Header.Set("Traceparent", "00-abc-def-01")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, (<-finalHeaders).Get("Traceparent"))
}

func TestNewHTTPTransport(t *testing.T) {
	cfg := config.Default().Transport.HTTP

	tr, err := transport.NewHTTPTransport(cfg)
	require.NoError(t, err)
	assert.True(t, tr.DisableCompression)
	assert.Equal(t, cfg.TLSHandshakeTimeout, tr.TLSHandshakeTimeout)
	assert.Equal(t, cfg.IdleConnTimeout, tr.IdleConnTimeout)
	assert.Zero(t, tr.ResponseHeaderTimeout)
	assert.Nil(t, tr.TLSClientConfig)
}

func TestNewHTTPTransportMissingCA(t *testing.T) {
	cfg := config.Default().Transport.HTTP
	cfg.CaFile = "/nonexistent/ca.pem"

	_, err := transport.NewHTTPTransport(cfg)
	assert.ErrorContains(t, err, "error reading CA file")
}
