package observability

import (
	"sort"
	"sync"
	"time"
)

// RouteStats aggregates one route+method pair.
type RouteStats struct {
	Route        string        `json:"route"`
	Method       string        `json:"method"`
	Requests     int64         `json:"requests"`
	Errors       int64         `json:"errors"`
	ServerErrors int64         `json:"server_errors"`
	TotalLatency time.Duration `json:"total_latency_ns"`
}

// Metrics keeps in-process per-route counters. Good enough for the health
// surface; anything heavier belongs to an external collector.
type Metrics struct {
	mu     sync.Mutex
	routes map[string]*RouteStats
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{routes: make(map[string]*RouteStats)}
}

// RecordRequest counts a completed request and accumulates its latency.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.route(path, method)
	stats.Requests++
	stats.TotalLatency += duration
	if status >= 500 {
		stats.ServerErrors++
	}
}

// RecordError counts a request rejected with a domain error code.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.route(path, method).Errors++
}

// Snapshot returns a stable copy of the counters, sorted by route.
func (m *Metrics) Snapshot() []RouteStats {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]RouteStats, 0, len(m.routes))
	for _, stats := range m.routes {
		result = append(result, *stats)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Route != result[j].Route {
			return result[i].Route < result[j].Route
		}
		return result[i].Method < result[j].Method
	})
	return result
}

func (m *Metrics) route(path, method string) *RouteStats {
	key := path + "|" + method
	stats, ok := m.routes[key]
	if !ok {
		stats = &RouteStats{Route: path, Method: method}
		m.routes[key] = stats
	}
	return stats
}
