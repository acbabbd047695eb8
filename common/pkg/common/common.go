package common

// Admin endpoints.
const (
	PathServerReady  = "/_/ready"
	PathServerStatus = "/_/status"
	PathTicketKeys   = "/_/ticket-keys"
	PathMetrics      = "/_/metrics"
)
