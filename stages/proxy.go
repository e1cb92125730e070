package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"corsgate/failure"
	"corsgate/metrics"
	"corsgate/pipeline"
	"corsgate/transport"
	"corsgate/writer"
)

// Proxy forwards the request to Context.Target and streams the response
// back. Every upstream status is relayed as-is.
type Proxy struct {
	client  *http.Client
	timeout time.Duration
}

// NewProxy builds the proxy stage.
//
// Parameters:
// - rt: The transport used for upstream calls; wrapped in a transport.Caronte.
// - hosts: Re-validates the host of every redirect hop.
// - maxRedirects: Redirects followed per request; 0 relays redirects to the caller.
// - timeout: Bound of the whole exchange, body included; 0 means unbounded.
//
// Returns:
// - *Proxy: The stage.
func NewProxy(rt http.RoundTripper, hosts HostValidator, maxRedirects int, timeout time.Duration) *Proxy {
	return &Proxy{
		client: &http.Client{
			Transport:     &transport.Caronte{RT: rt},
			CheckRedirect: checkRedirect(hosts, maxRedirects),
		},
		timeout: timeout,
	}
}

// checkRedirect follows at most max redirects, each to an acceptable
// HTTP(S) host.
func checkRedirect(hosts HostValidator, max int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if max == 0 {
			return http.ErrUseLastResponse
		}
		if len(via) > max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
			return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
		}
		if !hosts.IsAcceptable(req.Context(), req.URL.Hostname()) {
			return fmt.Errorf("redirect to invalid hostname %q", req.URL.Hostname())
		}
		return nil
	}
}

// Process implements pipeline.Stage. It is the last stage of the chain and
// does not call next.
func (p *Proxy) Process(c *Context, _ pipeline.Next) error {
	if c.Target == nil {
		return errors.New("proxy: no validated target")
	}
	in := c.Request
	target := c.Target.String()

	ctx := in.Context()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var body io.Reader
	if in.ContentLength != 0 && in.Body != nil && in.Body != http.NoBody {
		body = in.Body
	}
	out, err := http.NewRequestWithContext(ctx, in.Method, target, body)
	if err != nil {
		return &failure.UpstreamError{Method: in.Method, URL: target, Err: err}
	}
	if body != nil {
		out.ContentLength = in.ContentLength
	}
	out.Header = in.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}

	resp, err := p.client.Do(out)
	if err != nil {
		metrics.RecordUpstreamFailure()
		return &failure.UpstreamError{Method: in.Method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	copyResponseHeaders(c.Response.Header(), resp.Header)
	c.Response.WriteHeader(resp.StatusCode)

	var dst io.Writer = c.Response
	if resp.ContentLength < 0 {
		dst = flushWriter{c.Response}
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return &failure.UpstreamError{
			Method: in.Method,
			URL:    target,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("relay response body: %w", err),
		}
	}
	return nil
}

// copyResponseHeaders copies the upstream headers onto dst. CORS headers
// already present on dst are kept. The upstream header set is already
// filtered by transport.Caronte.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if strings.HasPrefix(name, "Access-Control-") && len(dst[name]) > 0 {
			continue
		}
		dst[name] = append([]string(nil), values...)
	}
}

// flushWriter flushes after every write so chunks of a response of unknown
// length reach the caller as they arrive.
type flushWriter struct {
	w *writer.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.w.Flush()
	return n, err
}
