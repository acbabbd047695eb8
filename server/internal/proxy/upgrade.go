package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/llm-operator/tls-gateway/server/internal/flushwriter"
	"k8s.io/klog/v2"
)

const proxyTypeUpgrade = "upgrade"

// UpgradeProxy forwards requests that "upgrade" the connection before
// non-HTTP traffic is sent on it (e.g. websockets, SPDY), possibly in
// either direction.
type UpgradeProxy struct {
	upstream string
	tr       *http.Transport

	requests atomic.Int64
}

// NewUpgradeProxy returns a new UpgradeProxy for the given upstream
// address.
func NewUpgradeProxy(upstream string) *UpgradeProxy {
	return &UpgradeProxy{
		upstream: upstream,
		tr: &http.Transport{
			DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, upstream)
			},
			// Upgraded connections cannot be reused.
			DisableKeepAlives: true,
		},
	}
}

// Proxy forwards a request that needs a connection upgrade.
//
// After the upstream switches protocols, the connection between the
// client and the gateway is hijacked and the two sides (client ->
// gateway, gateway -> upstream) are bridged to allow bidirectional
// traffic flow.
func (t *UpgradeProxy) Proxy(w http.ResponseWriter, r *http.Request) {
	t.requests.Add(1)

	// Set the scheme and host for the upstream request.
	r.URL.Scheme = "http"
	r.URL.Host = t.upstream

	// NOTE: Request.RequestURI can't be set in client requests.
	// http://golang.org/src/pkg/net/http/client.go
	r.RequestURI = ""

	klog.V(2).Infof("forwarding upgrade request: url=%q", r.URL)

	resp, err := t.tr.RoundTrip(r)
	if err != nil {
		msg := fmt.Sprintf("failed to forward upgrade request: %s", err)
		klog.Infof(msg)
		http.Error(w, fmt.Sprintf("Bad Gateway: %s", msg), http.StatusBadGateway)
		return
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			klog.Errorf("failed to close response body: %s", err)
		}
	}()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		// The upstream declined the upgrade; relay its response as-is.
		klog.V(2).Infof("upstream did not switch protocols; statusCode=%d", resp.StatusCode)
		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	// The response body from an upgrade request with a 101 - Switching
	// Protocols status can be used to send / receive data to / from the
	// upstream, when cast as an io.ReadWriteCloser.
	upstreamConn, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		msg := fmt.Sprintf("body (type=%T) does not implement io.ReadWriteCloser", resp.Body)
		klog.Info(msg)
		http.Error(w, fmt.Sprintf("Server Error: %s", msg), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := upstreamConn.Close(); err != nil {
			klog.Infof("failed to close the upstream connection: %s", err)
		}
	}()

	// Copy headers to complete the upgrade on the client side.
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	// Hijack the client-side connection so that we can use it to send /
	// receive raw bytes.
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		msg := fmt.Sprintf("writer (type=%T) does not implement http.Hijacker", w)
		klog.Info(msg)
		http.Error(w, fmt.Sprintf("Server Error: %s", msg), http.StatusInternalServerError)
		return
	}

	klog.V(2).Infof("hijacking connection")

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		msg := fmt.Sprintf("could not hijack connection: %s", err)
		klog.Info(msg)
		http.Error(w, fmt.Sprintf("Server Error: %s", msg), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := clientConn.Close(); err != nil {
			klog.Infof("failed to close the (hijacked) client connection: %s", err)
		}
	}()

	// Bridge the two sides of the connection so that bytes can be proxied
	// between the client and the upstream.
	doneC := make(chan struct{})

	// Gateway -> Client.
	go func() {
		_, err := io.Copy(flushwriter.New(clientConn), upstreamConn)
		if err != nil {
			klog.V(2).Infof("copy (gateway -> client) failed: %s", err)
		}
		doneC <- struct{}{}
	}()

	// Gateway -> Upstream.
	go func() {
		_, err := io.Copy(flushwriter.New(upstreamConn), clientConn)
		if err != nil {
			klog.V(2).Infof("copy (gateway -> upstream) failed: %s", err)
		}
		doneC <- struct{}{}
	}()

	// Block waiting for one side of the connection to close.
	<-doneC

	// Kick off a cleanup goroutine that waits for the other side of the
	// connection to close. This allows the deferred statements to run
	// even after the calling function exits, cleaning up both sides of
	// the bridged connection.
	go func() {
		<-doneC
		klog.V(2).Infof("bridging complete")
		close(doneC)
	}()
}

// Status returns the current status of the proxy.
func (t *UpgradeProxy) Status() Status {
	return Status{
		Type:     proxyTypeUpgrade,
		Upstream: t.upstream,
		Requests: t.requests.Load(),
	}
}
