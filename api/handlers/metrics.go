package handlers

import (
	"net/http"

	"github.com/linesmerrill/desktop-auth-api/api"
)

// Metrics exposes the request metrics collector
type Metrics struct {
	Collector *api.MetricsCollector
}

// formatRouteMetrics converts duration fields to milliseconds for JSON serialization
func formatRouteMetrics(routes []api.RouteMetrics) []map[string]interface{} {
	result := make([]map[string]interface{}, len(routes))
	for i, route := range routes {
		result[i] = map[string]interface{}{
			"method":      route.Method,
			"path":        route.Path,
			"count":       route.Count,
			"errorCount":  route.ErrorCount,
			"avgTime":     route.AvgTime.Milliseconds(),
			"minTime":     route.MinTime.Milliseconds(),
			"maxTime":     route.MaxTime.Milliseconds(),
			"lastRequest": route.LastRequest,
		}
	}
	return result
}

// MetricsHandler returns the summary and per-route metrics
func (m Metrics) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": m.Collector.GetSummary(),
		"routes":  formatRouteMetrics(m.Collector.GetRouteMetrics()),
	})
}
