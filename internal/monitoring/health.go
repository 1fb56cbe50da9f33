package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker exposes a JSON health endpoint reflecting the bot's
// connection state and cycle freshness.
type HealthChecker struct {
	mu          sync.RWMutex
	lastCycle   time.Time
	lastError   string
	isConnected bool

	// A cycle older than this marks the bot degraded
	staleAfter time.Duration
}

type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	LastCycle   time.Time `json:"last_cycle"`
	IsConnected bool      `json:"is_connected"`
	Uptime      string    `json:"uptime"`
	LastError   string    `json:"last_error,omitempty"`
}

// NewHealthChecker creates a health checker. staleAfter bounds how old the
// last completed cycle may be before the bot reports degraded.
func NewHealthChecker(staleAfter time.Duration) *HealthChecker {
	return &HealthChecker{staleAfter: staleAfter}
}

// SetConnected updates the exchange connection state
func (h *HealthChecker) SetConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isConnected = connected
}

// RecordCycle marks a completed trading cycle
func (h *HealthChecker) RecordCycle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCycle = time.Now()
	h.lastError = ""
}

// RecordError stores the most recent cycle error
func (h *HealthChecker) RecordError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastError = err.Error()
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.isConnected || (h.staleAfter > 0 && !h.lastCycle.IsZero() && time.Since(h.lastCycle) > h.staleAfter) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if h.lastError != "" {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	health := HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		LastCycle:   h.lastCycle,
		IsConnected: h.isConnected,
		Uptime:      time.Since(startTime).String(),
		LastError:   h.lastError,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
