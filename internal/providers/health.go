package providers

import (
	"sync"
	"time"
)

// ewmaAlpha weights new latency samples in the moving average.
const ewmaAlpha = 0.2

// healthState tracks one provider's availability and latency.
type healthState struct {
	mu sync.Mutex

	healthy             bool
	consecutiveFailures int
	lastFailure         time.Time
	lastProbe           time.Time

	// latencyMs is an exponentially weighted moving average of request
	// latency, used by least-latency selection.
	latencyMs float64
	samples   int64
}

func newHealthState() *healthState {
	return &healthState{healthy: true}
}

// recordSuccess clears the failure streak and folds in a latency sample.
func (h *healthState) recordSuccess(latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures = 0
	h.healthy = true

	ms := float64(latency.Milliseconds())
	if h.samples == 0 {
		h.latencyMs = ms
	} else {
		h.latencyMs = ewmaAlpha*ms + (1-ewmaAlpha)*h.latencyMs
	}
	h.samples++
}

// recordFailure increments the streak; once it reaches threshold the
// provider is marked unhealthy until a probe succeeds.
func (h *healthState) recordFailure(threshold int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures++
	h.lastFailure = time.Now()
	if h.consecutiveFailures >= threshold {
		h.healthy = false
	}
}

func (h *healthState) isHealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

func (h *healthState) avgLatencyMs() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.samples == 0 {
		// Unsampled providers sort ahead of slow ones but behind proven
		// fast ones.
		return 500
	}
	return h.latencyMs
}

// HealthSnapshot is the externally visible health of one provider.
type HealthSnapshot struct {
	Provider            string    `json:"provider"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	AvgLatencyMs        float64   `json:"avg_latency_ms"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastProbe           time.Time `json:"last_probe,omitempty"`
}

func (h *healthState) snapshot(name string) HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Provider:            name,
		Healthy:             h.healthy,
		ConsecutiveFailures: h.consecutiveFailures,
		AvgLatencyMs:        h.latencyMs,
		LastFailure:         h.lastFailure,
		LastProbe:           h.lastProbe,
	}
}
