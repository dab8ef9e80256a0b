package transcript

import (
	"strings"
	"sync"
	"time"
)

// Accumulator merges successive recognition results into one monotonically
// growing transcript string. Results must be applied in non-decreasing
// sequence order; anything at or below the last applied sequence is dropped
// as a stale duplicate. Overlap-duplicate suppression is delegated to the
// recognition engine's behavior on repeated context, so merging is plain
// space-joined append.
type Accumulator struct {
	text        strings.Builder
	lastApplied uint64
	merges      uint64
	staleDrops  uint64
	updatedAt   time.Time

	mu sync.RWMutex
}

// AccumulatorStats represents accumulator statistics for monitoring.
type AccumulatorStats struct {
	Length       int       `json:"length"`
	LastSequence uint64    `json:"last_sequence"`
	Merges       uint64    `json:"merges"`
	StaleDrops   uint64    `json:"stale_drops"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Merge appends text for the given unit sequence and returns the updated
// full transcript plus whether the result was applied. Stale sequences
// (<= last applied) leave the transcript unchanged and return false.
func (a *Accumulator) Merge(text string, sequence uint64) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sequence <= a.lastApplied {
		a.staleDrops++
		return a.text.String(), false
	}

	a.lastApplied = sequence

	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		if a.text.Len() > 0 {
			a.text.WriteByte(' ')
		}
		a.text.WriteString(trimmed)
	}

	a.merges++
	a.updatedAt = time.Now()

	return a.text.String(), true
}

// Text returns a snapshot of the current full transcript.
func (a *Accumulator) Text() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.text.String()
}

// LastSequence returns the highest sequence applied so far.
func (a *Accumulator) LastSequence() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastApplied
}

// GetStats returns current accumulator statistics.
func (a *Accumulator) GetStats() AccumulatorStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return AccumulatorStats{
		Length:       a.text.Len(),
		LastSequence: a.lastApplied,
		Merges:       a.merges,
		StaleDrops:   a.staleDrops,
		UpdatedAt:    a.updatedAt,
	}
}
