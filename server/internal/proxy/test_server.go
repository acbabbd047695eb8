package proxy

import (
	"net"
	"net/http"
	"testing"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// testServerOpts are options for a test backend.
type testServerOpts struct {
	greeting string
	// returnPath is true if the backend should return the request path in
	// the response.
	returnPath bool
}

// startTestBackend starts a plaintext HTTP/2 backend on an ephemeral
// port and returns its address. The backend is shut down when the test
// ends.
func startTestBackend(t *testing.T, opts testServerOpts) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		if opts.returnPath {
			_, _ = w.Write([]byte(r.URL.Path))
			return
		}
		_, _ = w.Write([]byte(opts.greeting))
	}

	srv := &http.Server{
		// Explicitly enable H2C support on the backend. Without this, the
		// server will reject inbound cleartext HTTP/2 requests and close
		// the connection.
		Handler: h2c.NewHandler(http.HandlerFunc(handler), &http2.Server{}),
	}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return l.Addr().String()
}
