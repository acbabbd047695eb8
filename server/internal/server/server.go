package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/llm-operator/tls-gateway/server/internal/certmanager"
	"github.com/llm-operator/tls-gateway/server/internal/proxy"
	"golang.org/x/net/http2"
	"k8s.io/klog/v2"
)

// keepAlivePeriod is the period between keep-alives for accepted
// connections, which can idle for a long period of time.
const keepAlivePeriod = 10 * time.Second

// Frontend is the public facing TLS server for one VIP. It terminates
// TLS with the certificate its manager selects for the client hello and
// forwards the decrypted requests upstream.
type Frontend struct {
	name         string
	mgr          *certmanager.Manager
	httpProxy    proxy.Proxy
	upgradeProxy proxy.Proxy
}

// Opts are options for a Frontend.
type Opts struct {
	// Name names the VIP, for log messages.
	Name string

	Manager      *certmanager.Manager
	HTTPProxy    proxy.Proxy
	UpgradeProxy proxy.Proxy
}

// NewFrontend instantiates a new Frontend.
func NewFrontend(opts Opts) *Frontend {
	return &Frontend{
		name:         opts.Name,
		mgr:          opts.Manager,
		httpProxy:    opts.HTTPProxy,
		upgradeProxy: opts.UpgradeProxy,
	}
}

// getConfigForClient selects the TLS context to present for a client
// hello.
//
// A hello without a server name is served the default certificate.
// A named hello is resolved through the manager (exact name first, then
// the one-level wildcard); an unmatched name also falls back to the
// default certificate, so that clients probing with an unknown name see
// a handshake failure on certificate validation rather than a protocol
// error. The handshake is aborted only when the manager has no default
// context at all.
func (f *Frontend) getConfigForClient(hello *tls.ClientHelloInfo) (*tls.Config, error) {
	name := strings.ToLower(hello.ServerName)
	if name == "" {
		f.mgr.AbsentSNI()
		if cfg := f.mgr.DefaultContext(); cfg != nil {
			return cfg, nil
		}
		return nil, fmt.Errorf("server: no default certificate for VIP %s", f.name)
	}

	crypto := certmanager.PreferredCrypto(hello)
	if cfg := f.mgr.Lookup(name, crypto); cfg != nil {
		return cfg, nil
	}

	if cfg := f.mgr.DefaultContext(); cfg != nil {
		klog.V(2).Infof("no certificate for server name %q on VIP %s; falling back to default %q", name, f.name, f.mgr.DefaultDomain())
		return cfg, nil
	}
	return nil, fmt.Errorf("server: no certificate for server name %q on VIP %s", name, f.name)
}

// handle routes a terminated request to the forwarding proxy matching
// its type.
func (f *Frontend) handle(w http.ResponseWriter, r *http.Request) {
	switch inferRouteType(r) {
	case routeTypeUpgrade:
		klog.V(2).Infof("proxying upgrade request on VIP %s: url=%q", f.name, r.URL)
		f.upgradeProxy.Proxy(w, r)
	default:
		klog.V(2).Infof("proxying HTTP request on VIP %s: url=%q", f.name, r.URL)
		f.httpProxy.Proxy(w, r)
	}
}

// RunOpts are options for the Run function.
type RunOpts struct {
	Frontend *Frontend
	Addr     string
}

// Run is a blocking function that starts the TLS server for one VIP.
//
// The tls.Config installed on the listener carries no certificates of
// its own; every handshake is resolved through the frontend's
// certificate manager via GetConfigForClient.
func Run(ctx context.Context, opts RunOpts) error {
	httpSrv := &http.Server{
		Handler: http.HandlerFunc(opts.Frontend.handle),
		TLSConfig: &tls.Config{
			GetConfigForClient: opts.Frontend.getConfigForClient,
			MinVersion:         tls.VersionTLS12,
		},
	}
	if err := http2.ConfigureServer(httpSrv, nil); err != nil {
		return fmt.Errorf("server: configure http2: %s", err)
	}

	// Set keep-alive as the connection can idle for a long period of time.
	lc := net.ListenConfig{
		KeepAlive: keepAlivePeriod,
	}
	l, err := lc.Listen(ctx, "tcp", opts.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %s", err)
	}

	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	klog.Infof("Starting TLS listener for VIP %s: addr=%q", opts.Frontend.name, opts.Addr)
	tlsListener := tls.NewListener(l, httpSrv.TLSConfig)
	if err := httpSrv.Serve(tlsListener); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("server: serve TLS: %s", err)
	}
	return nil
}
