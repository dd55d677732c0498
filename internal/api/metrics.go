package api

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

// dependencyCheckTimeout bounds each optional dependency health check.
const dependencyCheckTimeout = 2 * time.Second

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          DependencyStatus `json:"mqtt"`
	InfluxDB      DependencyStatus `json:"influxdb"`
	Links         LinkMetrics      `json:"links"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// DependencyStatus reports an optional dependency.
type DependencyStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// LinkMetrics summarises the registry.
type LinkMetrics struct {
	AdapterState string `json:"adapter_state"`
	Scanning     bool   `json:"scanning"`
	AutoPairing  bool   `json:"auto_pairing"`
	Discovered   int    `json:"discovered"`
	Connected    int    `json:"connected"`
	Saved        int    `json:"saved"`
	InFlight     int    `json:"in_flight"`
}

// handleMetrics returns runtime, dependency and link statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := s.ble.Registry().Snapshot()

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		MQTT:     checkDependency(r.Context(), s.mqtt),
		InfluxDB: checkDependency(r.Context(), s.influx),
		Links: LinkMetrics{
			AdapterState: string(snap.AdapterState),
			Scanning:     snap.Scanning,
			AutoPairing:  snap.AutoPairing,
			Discovered:   len(snap.Discovered),
			Connected:    len(snap.Connected),
			Saved:        len(snap.Saved),
			InFlight:     len(snap.Operations),
		},
	}

	writeJSON(w, http.StatusOK, metrics)
}

func checkDependency(ctx context.Context, hc HealthChecker) DependencyStatus {
	if hc == nil {
		return DependencyStatus{}
	}

	ctx, cancel := context.WithTimeout(ctx, dependencyCheckTimeout)
	defer cancel()

	if err := hc.HealthCheck(ctx); err != nil {
		return DependencyStatus{Enabled: true, Error: err.Error()}
	}
	return DependencyStatus{Enabled: true, Connected: true}
}
