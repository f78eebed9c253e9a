package metrics

import (
	"strconv"
	"time"
)

var skippedEndpoints = map[string]bool{
	"/metrics": true,
	"/health":  true,
	"/ready":   true,
}

// ShouldSkipEndpoint reports whether the path is excluded from HTTP metrics
func ShouldSkipEndpoint(path string) bool {
	return skippedEndpoints[path]
}

// RecordHTTPRequest records a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordWSEvent records a processed websocket event
func (m *Metrics) RecordWSEvent(event, result string) {
	m.WSEventsTotal.WithLabelValues(event, result).Inc()
}
