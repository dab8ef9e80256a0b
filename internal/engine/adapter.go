package engine

import (
	"context"
	"errors"
	"time"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/audio"
)

var (
	// ErrUnavailable marks a transient engine failure. The caller may retry
	// with backoff; the unit is eventually skipped, never the session ended.
	ErrUnavailable = errors.New("engine unavailable")

	// ErrRejected marks a permanent failure for one unit, e.g. malformed
	// audio. The caller must not retry the same unit.
	ErrRejected = errors.New("engine rejected unit")
)

// Result is the recognized text for one unit. Consumed immediately by the
// transcript accumulator and not retained.
type Result struct {
	Text       string    `json:"text"`
	Confidence float32   `json:"confidence"`
	Sequence   uint64    `json:"sequence"`
	Language   string    `json:"language,omitempty"`
	Duration   float64   `json:"duration"`
	ReceivedAt time.Time `json:"received_at"`
}

// Adapter submits one PCM unit for recognition. Implementations must be safe
// for concurrent use across sessions and must honor the context deadline;
// a deadline overrun is surfaced as ErrUnavailable.
type Adapter interface {
	Recognize(ctx context.Context, unit *audio.Unit) (*Result, error)
	Close() error
}
