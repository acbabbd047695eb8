package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/llm-operator/tls-gateway/server/internal/flushwriter"
	"golang.org/x/net/http2"
	"k8s.io/klog/v2"
)

const proxyTypeHTTP = "http"

const forwardedForHeaderName = "x-forwarded-for"

// HTTPProxy forwards terminated HTTP requests to a single upstream over
// cleartext HTTP/2.
type HTTPProxy struct {
	upstream string
	client   *http.Client

	requests atomic.Int64
}

// NewHTTPProxy returns a new HTTPProxy for the given upstream address.
func NewHTTPProxy(upstream string) *HTTPProxy {
	// The upstream speaks h2c; dial it directly rather than negotiating
	// TLS and ALPN.
	t := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, _ string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, upstream)
		},
	}

	return &HTTPProxy{
		upstream: upstream,
		client: &http.Client{
			Transport: t,
			// Do not follow redirects (https://stackoverflow.com/questions/23297520/how-can-i-make-the-go-http-client-not-follow-redirects-automatically).
			// We should just pass the redirect back to the client.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Proxy forwards a HTTP request to the upstream.
func (t *HTTPProxy) Proxy(w http.ResponseWriter, r *http.Request) {
	t.requests.Add(1)

	// Set the scheme and host for the upstream request.
	r.URL.Host = t.upstream
	r.URL.Scheme = "http"

	// NOTE: Request.RequestURI can't be set in client requests.
	// http://golang.org/src/pkg/net/http/client.go
	r.RequestURI = ""

	if addr, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		r.Header.Add(forwardedForHeaderName, addr)
	}

	klog.V(2).Infof("forwarding request: url=%q", r.URL)
	resp, err := t.client.Do(r)
	if err != nil {
		klog.Infof("failed to forward request: %s", err)
		http.Error(w, fmt.Sprintf("Bad Gateway: %s", err), http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// Copy headers.
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	// Copy body.
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(flushwriter.New(w), resp.Body); err != nil {
		klog.Infof("failed to copy response body: %s", err)
		return
	}
}

// Status returns the current status of the proxy.
func (t *HTTPProxy) Status() Status {
	return Status{
		Type:     proxyTypeHTTP,
		Upstream: t.upstream,
		Requests: t.requests.Load(),
	}
}
