package audio

import (
	"math"
	"sync"
)

// GateConfig contains configuration for the silence gate. Thresholds are in
// int16 amplitude units. The gate can be disabled entirely, in which case
// every unit is submitted for recognition.
type GateConfig struct {
	Enabled        bool
	PeakThreshold  int     // Sample magnitude counted as active
	RMSThreshold   float64 // Minimum RMS energy of non-silent audio
	MinActiveRatio float64 // Minimum fraction of active samples
	AlwaysFlush    bool    // Final flush units bypass the gate
}

// GateDecision carries the measured signal properties alongside the verdict.
type GateDecision struct {
	Submit      bool    `json:"submit"`
	Silent      bool    `json:"silent"`
	Peak        int     `json:"peak"`
	RMS         float64 `json:"rms"`
	ActiveRatio float64 `json:"active_ratio"`
}

// Gate classifies units as speech or silence based on peak amplitude, RMS
// energy, and the fraction of samples above the peak threshold. Silent units
// are skipped to avoid wasting recognition calls.
type Gate struct {
	config GateConfig

	// Statistics
	unitsEvaluated uint64
	unitsSkipped   uint64

	mu sync.RWMutex
}

// GateStats represents gate statistics for monitoring.
type GateStats struct {
	Enabled        bool   `json:"enabled"`
	UnitsEvaluated uint64 `json:"units_evaluated"`
	UnitsSkipped   uint64 `json:"units_skipped"`
}

// NewGate creates a new silence gate.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate measures a unit and decides whether it should be submitted for
// recognition. A disabled gate submits everything; a final unit is submitted
// whenever AlwaysFlush is set so session end never loses trailing speech.
func (g *Gate) Evaluate(unit *Unit) GateDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.unitsEvaluated++

	decision := g.measure(unit.Samples)

	switch {
	case !g.config.Enabled:
		decision.Submit = true
	case unit.Final && g.config.AlwaysFlush:
		decision.Submit = true
	default:
		decision.Submit = !decision.Silent
	}

	if !decision.Submit {
		g.unitsSkipped++
	}

	return decision
}

// measure computes peak, RMS, and active-sample ratio for a sample span.
func (g *Gate) measure(samples []int16) GateDecision {
	if len(samples) == 0 {
		return GateDecision{Silent: true}
	}

	var peak int
	var energy float64
	var active int

	for _, s := range samples {
		mag := int(s)
		if mag < 0 {
			mag = -mag
		}
		if mag > peak {
			peak = mag
		}
		if mag >= g.config.PeakThreshold {
			active++
		}
		energy += float64(s) * float64(s)
	}

	rms := math.Sqrt(energy / float64(len(samples)))
	activeRatio := float64(active) / float64(len(samples))

	silent := rms < g.config.RMSThreshold && activeRatio < g.config.MinActiveRatio

	return GateDecision{
		Silent:      silent,
		Peak:        peak,
		RMS:         rms,
		ActiveRatio: activeRatio,
	}
}

// Enabled reports whether the gate is active.
func (g *Gate) Enabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config.Enabled
}

// SetEnabled toggles the gate at runtime.
func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config.Enabled = enabled
}

// GetStats returns current gate statistics.
func (g *Gate) GetStats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return GateStats{
		Enabled:        g.config.Enabled,
		UnitsEvaluated: g.unitsEvaluated,
		UnitsSkipped:   g.unitsSkipped,
	}
}
