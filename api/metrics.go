package api

import (
	"sort"
	"sync"
	"time"
)

// RequestTrace tracks timing for a single request
type RequestTrace struct {
	RequestID string        `json:"requestId"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
}

// RouteMetrics aggregates metrics for a specific route
type RouteMetrics struct {
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Count       int64         `json:"count"`
	ErrorCount  int64         `json:"errorCount"`
	TotalTime   time.Duration `json:"totalTime"`
	AvgTime     time.Duration `json:"avgTime"`
	MinTime     time.Duration `json:"minTime"`
	MaxTime     time.Duration `json:"maxTime"`
	LastRequest time.Time     `json:"lastRequest"`
}

// MetricsCollector collects and aggregates request metrics.
// Traces are queued on a buffered channel and dropped when it is full, so
// recording never blocks a request.
type MetricsCollector struct {
	mu            sync.RWMutex
	routeMetrics  map[string]*RouteMetrics
	windowStart   time.Time
	totalRequests int64
	totalErrors   int64
	traceChan     chan RequestTrace
	stopChan      chan struct{}
	doneChan      chan struct{}
	stopOnce      sync.Once
}

// NewMetricsCollector starts a collector that buffers up to buffer traces
func NewMetricsCollector(buffer int) *MetricsCollector {
	if buffer <= 0 {
		buffer = 1000
	}
	mc := &MetricsCollector{
		routeMetrics: make(map[string]*RouteMetrics),
		windowStart:  time.Now(),
		traceChan:    make(chan RequestTrace, buffer),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	go mc.processTraces()
	return mc
}

// RecordTrace queues a trace for aggregation, dropping it if the queue is full
func (mc *MetricsCollector) RecordTrace(trace RequestTrace) {
	select {
	case mc.traceChan <- trace:
	default:
	}
}

// Stop ends the background aggregation
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() {
		close(mc.stopChan)
	})
	<-mc.doneChan
}

func (mc *MetricsCollector) processTraces() {
	defer close(mc.doneChan)
	for {
		select {
		case trace := <-mc.traceChan:
			mc.processTrace(trace)
		case <-mc.stopChan:
			return
		}
	}
}

func (mc *MetricsCollector) processTrace(trace RequestTrace) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := trace.Method + " " + trace.Path
	rm, ok := mc.routeMetrics[key]
	if !ok {
		rm = &RouteMetrics{
			Method:  trace.Method,
			Path:    trace.Path,
			MinTime: trace.Duration,
		}
		mc.routeMetrics[key] = rm
	}

	rm.Count++
	rm.TotalTime += trace.Duration
	rm.AvgTime = rm.TotalTime / time.Duration(rm.Count)
	if trace.Duration < rm.MinTime {
		rm.MinTime = trace.Duration
	}
	if trace.Duration > rm.MaxTime {
		rm.MaxTime = trace.Duration
	}
	rm.LastRequest = trace.StartTime

	mc.totalRequests++
	if trace.Status >= 400 {
		rm.ErrorCount++
		mc.totalErrors++
	}
}

// GetRouteMetrics returns a copy of every route's metrics, busiest first
func (mc *MetricsCollector) GetRouteMetrics() []RouteMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	routes := make([]RouteMetrics, 0, len(mc.routeMetrics))
	for _, rm := range mc.routeMetrics {
		routes = append(routes, *rm)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Count != routes[j].Count {
			return routes[i].Count > routes[j].Count
		}
		return routes[i].Method+routes[i].Path < routes[j].Method+routes[j].Path
	})
	return routes
}

// GetSummary returns totals since the collector started
func (mc *MetricsCollector) GetSummary() map[string]interface{} {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	errorRate := 0.0
	if mc.totalRequests > 0 {
		errorRate = float64(mc.totalErrors) / float64(mc.totalRequests) * 100
	}
	return map[string]interface{}{
		"totalRequests": mc.totalRequests,
		"totalErrors":   mc.totalErrors,
		"errorRate":     errorRate,
		"routeCount":    len(mc.routeMetrics),
		"windowStart":   mc.windowStart,
		"uptime":        time.Since(mc.windowStart).String(),
	}
}
