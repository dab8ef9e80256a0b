package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAssemblerClosed is returned when audio is ingested after the final flush.
	ErrAssemblerClosed = errors.New("assembler closed")

	// ErrMalformedChunk is returned when a submission violates PCM-16 framing.
	ErrMalformedChunk = errors.New("malformed audio chunk")
)

// Unit represents a contiguous span of mono PCM-16 samples cut for one
// recognition call. Sequence numbers are assigned by the assembler and are
// strictly increasing and gap-free per session.
type Unit struct {
	ID         string        `json:"unit_id"`
	SessionID  string        `json:"session_id"`
	Sequence   uint64        `json:"sequence"`
	Samples    []int16       `json:"-"`
	SampleRate int           `json:"sample_rate"`
	Duration   time.Duration `json:"duration"`
	Final      bool          `json:"final"`
	CutAt      time.Time     `json:"cut_at"`
}

// AssemblerConfig contains configuration for unit assembly.
type AssemblerConfig struct {
	ChunkDuration   time.Duration // Target duration of new audio per unit
	OverlapDuration time.Duration // Trailing context prefixed onto the next unit
	SampleRate      int
}

// Assembler accumulates raw PCM-16 writes for one session and cuts
// fixed-duration, overlap-stitched units from them.
type Assembler struct {
	sessionID string
	config    AssemblerConfig

	pending []byte  // Raw PCM bytes not yet consumed by a cut
	overlap []int16 // Trailing samples of the previous cut

	sequence uint64
	closed   bool

	// Statistics
	bytesIngested uint64
	unitsCut      uint64

	mu sync.Mutex
}

// AssemblerStats represents assembler statistics for monitoring.
type AssemblerStats struct {
	SessionID      string `json:"session_id"`
	BytesIngested  uint64 `json:"bytes_ingested"`
	UnitsCut       uint64 `json:"units_cut"`
	PendingSamples int    `json:"pending_samples"`
	OverlapSamples int    `json:"overlap_samples"`
	LastSequence   uint64 `json:"last_sequence"`
}

// NewAssembler creates a new unit assembler for a session.
func NewAssembler(sessionID string, config AssemblerConfig) (*Assembler, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.ChunkDuration <= 0 {
		return nil, fmt.Errorf("chunk duration must be positive, got %v", config.ChunkDuration)
	}

	if config.OverlapDuration < 0 || config.OverlapDuration >= config.ChunkDuration {
		return nil, fmt.Errorf("overlap duration must be in [0, chunk duration), got %v", config.OverlapDuration)
	}

	return &Assembler{
		sessionID: sessionID,
		config:    config,
		pending:   make([]byte, 0, config.SampleRate*4),
	}, nil
}

// Ingest appends raw PCM-16 bytes to the internal buffer. Submissions with an
// odd byte count break 16-bit framing and are rejected whole.
func (a *Assembler) Ingest(raw []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAssemblerClosed
	}

	if len(raw)%2 != 0 {
		return fmt.Errorf("%w: length must be even, got %d bytes", ErrMalformedChunk, len(raw))
	}

	a.pending = append(a.pending, raw...)
	a.bytesIngested += uint64(len(raw))

	return nil
}

// Drain cuts the next unit if enough new audio has accumulated. The unit is
// the previous overlap tail followed by one chunk duration of new samples;
// the overlap buffer is replaced with the trailing overlap duration of the
// cut. Returns nil when the buffered duration is below the chunk duration.
func (a *Assembler) Drain() *Unit {
	a.mu.Lock()
	defer a.mu.Unlock()

	chunkBytes := a.durationToBytes(a.config.ChunkDuration)
	if len(a.pending) < chunkBytes {
		return nil
	}

	fresh := bytesToSamples(a.pending[:chunkBytes])
	a.pending = a.pending[chunkBytes:]

	return a.cut(fresh, false)
}

// Flush forces a final cut from whatever remains, regardless of the chunk
// duration threshold, and closes the assembler. Returns nil when no
// unconsumed audio remains.
func (a *Assembler) Flush() *Unit {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true

	if len(a.pending) == 0 {
		return nil
	}

	fresh := bytesToSamples(a.pending)
	a.pending = a.pending[:0]

	unit := a.cut(fresh, true)
	a.overlap = nil

	return unit
}

// cut builds a unit from overlap + fresh samples and advances the overlap
// buffer. Caller holds the lock.
func (a *Assembler) cut(fresh []int16, final bool) *Unit {
	samples := make([]int16, 0, len(a.overlap)+len(fresh))
	samples = append(samples, a.overlap...)
	samples = append(samples, fresh...)

	// Retain the trailing overlap duration of this cut for the next unit.
	overlapSamples := a.durationToSamples(a.config.OverlapDuration)
	if overlapSamples > len(samples) {
		overlapSamples = len(samples)
	}
	a.overlap = make([]int16, overlapSamples)
	copy(a.overlap, samples[len(samples)-overlapSamples:])

	a.sequence++
	a.unitsCut++

	return &Unit{
		ID:         uuid.NewString(),
		SessionID:  a.sessionID,
		Sequence:   a.sequence,
		Samples:    samples,
		SampleRate: a.config.SampleRate,
		Duration:   a.samplesToDuration(len(samples)),
		Final:      final,
		CutAt:      time.Now(),
	}
}

// BufferedDuration returns the duration of audio awaiting the next cut.
func (a *Assembler) BufferedDuration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.samplesToDuration(len(a.pending) / 2)
}

// OverlapLen returns the current overlap buffer length in samples.
func (a *Assembler) OverlapLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.overlap)
}

// LastSequence returns the sequence number of the most recently cut unit.
func (a *Assembler) LastSequence() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sequence
}

// Closed reports whether the assembler has been flushed.
func (a *Assembler) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// GetStats returns current assembler statistics.
func (a *Assembler) GetStats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AssemblerStats{
		SessionID:      a.sessionID,
		BytesIngested:  a.bytesIngested,
		UnitsCut:       a.unitsCut,
		PendingSamples: len(a.pending) / 2,
		OverlapSamples: len(a.overlap),
		LastSequence:   a.sequence,
	}
}

func (a *Assembler) durationToBytes(d time.Duration) int {
	return a.durationToSamples(d) * 2
}

func (a *Assembler) durationToSamples(d time.Duration) int {
	return int(d.Seconds() * float64(a.config.SampleRate))
}

func (a *Assembler) samplesToDuration(n int) time.Duration {
	if a.config.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(a.config.SampleRate) * float64(time.Second))
}

// bytesToSamples converts little-endian PCM-16 bytes to samples.
func bytesToSamples(raw []byte) []int16 {
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(raw[i*2]) | int16(raw[i*2+1])<<8
	}
	return samples
}
