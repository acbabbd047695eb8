package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/llm-operator/tls-gateway/server/internal/certmanager"
	"github.com/llm-operator/tls-gateway/server/internal/proxy"
	"github.com/llm-operator/tls-gateway/server/internal/sessioncache"
	"github.com/stretchr/testify/assert"
)

func TestGetConfigForClient(t *testing.T) {
	mgr := certmanager.NewManager(certmanager.Opts{VIPName: "vip-1"})
	t.Cleanup(mgr.Close)

	// The first certificate covers an apex and its one-level wildcard and
	// is the default.
	err := mgr.AddCertificate(certmanager.CertConfig{
		Certificate: testCert(t, "example.com", "*.example.com"),
		Domains:     []string{"example.com", "*.example.com"},
		IsDefault:   true,
	}, sessioncache.Options{}, nil, "127.0.0.1:443", nil)
	assert.NoError(t, err)

	err = mgr.AddCertificate(certmanager.CertConfig{
		Certificate: testCert(t, "api.other.net"),
		Domains:     []string{"api.other.net"},
	}, sessioncache.Options{}, nil, "127.0.0.1:443", nil)
	assert.NoError(t, err)

	exampleCfg := mgr.LookupExact("example.com", certmanager.CertCryptoBestAvailable)
	assert.NotNil(t, exampleCfg)
	otherCfg := mgr.LookupExact("api.other.net", certmanager.CertCryptoBestAvailable)
	assert.NotNil(t, otherCfg)

	f := NewFrontend(Opts{Name: "vip-1", Manager: mgr})

	tcs := []struct {
		name       string
		serverName string
		want       *tls.Config
	}{
		{
			name:       "exact match",
			serverName: "example.com",
			want:       exampleCfg,
		},
		{
			name:       "wildcard match",
			serverName: "foo.example.com",
			want:       exampleCfg,
		},
		{
			name:       "case folded",
			serverName: "API.Other.NET",
			want:       otherCfg,
		},
		{
			name:       "unmatched name falls back to the default",
			serverName: "unknown.test",
			want:       exampleCfg,
		},
		{
			name:       "absent server name falls back to the default",
			serverName: "",
			want:       exampleCfg,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.getConfigForClient(&tls.ClientHelloInfo{
				ServerName:       tc.serverName,
				SignatureSchemes: []tls.SignatureScheme{tls.ECDSAWithP256AndSHA256},
			})
			assert.NoError(t, err)
			assert.Same(t, tc.want, got)
		})
	}
}

func TestGetConfigForClient_NoCertificates(t *testing.T) {
	mgr := certmanager.NewManager(certmanager.Opts{VIPName: "vip-1"})
	f := NewFrontend(Opts{Name: "vip-1", Manager: mgr})

	_, err := f.getConfigForClient(&tls.ClientHelloInfo{ServerName: "example.com"})
	assert.Error(t, err)

	_, err = f.getConfigForClient(&tls.ClientHelloInfo{})
	assert.Error(t, err)
}

func TestHandle(t *testing.T) {
	httpP := &fakeProxy{}
	upgradeP := &fakeProxy{}
	f := NewFrontend(Opts{
		Name:         "vip-1",
		HTTPProxy:    httpP,
		UpgradeProxy: upgradeP,
	})

	// A plain request goes to the HTTP proxy.
	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	f.handle(httptest.NewRecorder(), req)
	assert.Equal(t, 1, httpP.calls)
	assert.Equal(t, 0, upgradeP.calls)

	// An upgrade request goes to the upgrade proxy.
	req = httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	req.Header.Set("Upgrade", "websocket")
	f.handle(httptest.NewRecorder(), req)
	assert.Equal(t, 1, httpP.calls)
	assert.Equal(t, 1, upgradeP.calls)
}

// fakeProxy is a proxy.Proxy that counts calls.
type fakeProxy struct {
	calls int
}

func (p *fakeProxy) Proxy(http.ResponseWriter, *http.Request) {
	p.calls++
}

func (p *fakeProxy) Status() proxy.Status {
	return proxy.Status{}
}

// testCert returns a self-signed certificate covering the given domain
// names.
func testCert(t *testing.T, domains ...string) *tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: domains[0]},
		DNSNames:     domains,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}
}
