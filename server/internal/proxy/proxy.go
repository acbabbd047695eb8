package proxy

import (
	"net/http"
)

// Proxy forwards terminated requests to the upstream backing a VIP.
type Proxy interface {
	// Proxy forwards the request and writes the upstream response.
	Proxy(w http.ResponseWriter, r *http.Request)

	// Status returns the current status of the Proxy.
	Status() Status
}

// Status is the current state of a proxy.
type Status struct {
	Type     string `json:"type"`
	Upstream string `json:"upstream"`
	Requests int64  `json:"requests"`
}
