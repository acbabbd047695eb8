package server

import (
	"net/http"
)

// routeType is the forwarding mode for an inbound request.
type routeType int

const (
	routeTypeHTTP routeType = iota
	routeTypeUpgrade
)

// inferRouteType returns the routeType to use when routing a request.
func inferRouteType(req *http.Request) routeType {
	if req.Header.Get("upgrade") != "" {
		return routeTypeUpgrade
	}
	return routeTypeHTTP
}
