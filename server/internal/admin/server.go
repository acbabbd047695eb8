package admin

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/llm-operator/tls-gateway/common/pkg/common"
	"github.com/llm-operator/tls-gateway/common/pkg/jwt"
	"github.com/llm-operator/tls-gateway/server/internal/certmanager"
	"github.com/llm-operator/tls-gateway/server/internal/proxy"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

// VIP is the administrative view of one served endpoint.
type VIP struct {
	Name    string
	Manager *certmanager.Manager
	Proxies []proxy.Proxy
}

// Server is an HTTP server for serving administrative endpoints, accessible
// from within the hosting cluster only (i.e. not external).
type Server struct {
	addr string
	srv  *http.Server

	vips []VIP

	// validator guards the mutating endpoints. A nil validator disables
	// authentication.
	validator jwt.Validator
}

// NewServer instantiates a new Server.
func NewServer(addr string, vips []VIP, validator jwt.Validator) *Server {
	s := &Server{
		addr:      addr,
		vips:      vips,
		validator: validator,
	}

	m := http.NewServeMux()
	m.Handle(common.PathServerReady, http.HandlerFunc(s.handleReady))
	m.Handle(common.PathServerStatus, http.HandlerFunc(s.handleStatus))
	m.Handle(common.PathTicketKeys, http.HandlerFunc(s.handleTicketKeys))
	m.Handle(common.PathMetrics, promhttp.Handler())
	s.srv = &http.Server{Handler: m}

	return s
}

// Run is a blocking command that starts the HTTP server.
func (s *Server) Run() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("admin: run: listen: %s", err)
	}

	klog.Infof("starting admin listener: addr=%q", s.addr)
	err = s.srv.Serve(l)
	if err != nil {
		return fmt.Errorf("admin: run: serve: %s", err)
	}

	return nil
}

// handleReady always returns a 200 response.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	klog.V(1).Infof("handling ready request")
	_, _ = w.Write([]byte("ok\n"))
}

// vipStatus is the status of one VIP.
type vipStatus struct {
	Name         string             `json:"name"`
	Certificates certmanager.Status `json:"certificates"`
	Proxies      []proxy.Status     `json:"proxies"`
}

// handleStatus returns the current status of every VIP.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var statuses []vipStatus
	for _, vip := range s.vips {
		st := vipStatus{Name: vip.Name}
		if vip.Manager != nil {
			st.Certificates = vip.Manager.Status()
		}
		for _, p := range vip.Proxies {
			st.Proxies = append(st.Proxies, p.Status())
		}
		statuses = append(statuses, st)
	}

	status := struct {
		Status []vipStatus `json:"status"`
	}{
		Status: statuses,
	}

	b, err := json.Marshal(&status)
	if err != nil {
		klog.Errorf("could not write status: %s", err)
		http.Error(w, "could not write status", http.StatusInternalServerError)
		return
	}

	_, err = w.Write(b)
	if err != nil {
		klog.Errorf("could not write status: %s", err)
		http.Error(w, "could not write status", http.StatusInternalServerError)
		return
	}
}

// ticketKeysRequest is the body of a ticket key rotation request.
type ticketKeysRequest struct {
	Old     []string `json:"old"`
	Current []string `json:"current"`
	New     []string `json:"new"`
}

// handleTicketKeys rotates the session ticket keys of every VIP from the
// seed sets in the request body.
func (s *Server) handleTicketKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authorize(r) {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}

	var req ticketKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		klog.Infof("could not decode ticket key request: %s", err)
		http.Error(w, "could not decode request", http.StatusBadRequest)
		return
	}
	if len(req.Current) == 0 {
		http.Error(w, "no current seeds", http.StatusBadRequest)
		return
	}

	for _, vip := range s.vips {
		if vip.Manager == nil {
			continue
		}
		if err := vip.Manager.ReloadTicketKeys(req.Old, req.Current, req.New); err != nil {
			klog.Errorf("could not rotate ticket keys for VIP %s: %s", vip.Name, err)
			http.Error(w, fmt.Sprintf("rotate ticket keys: %s", err), http.StatusInternalServerError)
			return
		}
	}

	klog.Infof("rotated ticket keys: vips=%d", len(s.vips))
	_, _ = w.Write([]byte("ok\n"))
}

// authorize validates the bearer token on a request. Requests are allowed
// when no validator is configured.
func (s *Server) authorize(r *http.Request) bool {
	if s.validator == nil {
		return true
	}

	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return false
	}

	t, err := s.validator.Validate(token)
	if err != nil {
		klog.Infof("token validation failed: %s", err)
		return false
	}
	return t.Valid
}
