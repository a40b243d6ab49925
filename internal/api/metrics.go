package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStatus is the response of GET /api/v1/system. Counters and
// histograms live on /metrics; this endpoint reports current state.
type SystemStatus struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	Automation    AutomationStatus `json:"automation"`
	Racks         RackMetrics      `json:"racks"`
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
	ConnectedClients int    `json:"connected_clients"`
	DroppedFrames    uint64 `json:"dropped_frames"`
}

// AutomationStatus describes the engine's running workers.
type AutomationStatus struct {
	DispatchPolicy string         `json:"dispatch_policy,omitempty"`
	Rules          int            `json:"rules"`
	Workers        []WorkerStatus `json:"workers"`
}

// WorkerStatus is the state of one rack worker.
type WorkerStatus struct {
	RackID string `json:"rack_id"`
	State  string `json:"state"`
}

// RackMetrics counts registered racks.
type RackMetrics struct {
	Registered int `json:"registered"`
	Inactive   int `json:"inactive"`
}

// handleSystem returns a snapshot of runtime and automation state.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	status := SystemStatus{
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
			ConnectedClients: s.Hub().ClientCount(),
			DroppedFrames:    s.Hub().Dropped(),
		},
		Automation: AutomationStatus{
			Rules:   s.rules.GetRuleCount(),
			Workers: []WorkerStatus{},
		},
	}

	if s.engine != nil {
		status.Automation.DispatchPolicy = string(s.engine.Policy())
		for _, rackID := range s.engine.ActiveRacks() {
			state, ok := s.engine.RackState(rackID)
			if !ok {
				continue // retired since ActiveRacks
			}
			status.Automation.Workers = append(status.Automation.Workers, WorkerStatus{
				RackID: rackID,
				State:  state.String(),
			})
		}
	}

	if s.racks != nil {
		for _, rk := range s.racks.List() {
			status.Racks.Registered++
			if !rk.IsActive {
				status.Racks.Inactive++
			}
		}
	}

	writeJSON(w, http.StatusOK, status)
}
