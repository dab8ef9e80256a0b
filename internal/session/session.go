package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/audio"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/broadcast"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/engine"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/metrics"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/transcript"
	"github.com/google/uuid"
)

var (
	// ErrDuplicateSession is returned when a session ID is already in use.
	ErrDuplicateSession = errors.New("session already exists")

	// ErrSessionNotFound is returned for operations on an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded is returned when audio arrives after End.
	ErrSessionEnded = errors.New("session already ended")

	// ErrManagerStopped is returned by Create during shutdown.
	ErrManagerStopped = errors.New("session manager stopped")
)

// State is the lifecycle phase of a session.
type State string

const (
	StateCreated State = "created" // No audio received yet
	StateActive  State = "active"  // Receiving audio
	StateEnding  State = "ending"  // End requested, final unit in flight
	StateEnded   State = "ended"   // Terminal
)

// Settings bundles the per-session knobs the manager hands down.
type Settings struct {
	Assembler        audio.AssemblerConfig
	Gate             audio.GateConfig
	QueueSize        int
	RecognizeTimeout time.Duration
	OutageCeiling    time.Duration
}

// Session is one live transcription session. All unit recognition runs on a
// single worker goroutine, so at most one engine call is in flight per
// session and results apply in cut order.
type Session struct {
	id        string
	createdAt time.Time
	settings  Settings

	assembler *audio.Assembler
	gate      *audio.Gate
	acc       *transcript.Accumulator

	adapter     engine.Adapter
	broadcaster *broadcast.Broadcaster
	metrics     *metrics.Metrics
	logger      *slog.Logger

	queue       chan *audio.Unit
	queueClosed bool
	queueMu     sync.Mutex
	done        chan struct{}

	state        State
	lastActivity time.Time
	chunkCount   uint64
	unitsQueued  uint64
	unitsSkipped uint64
	endedAt      time.Time

	mu sync.RWMutex
}

// Stats is a point-in-time snapshot of one session.
type Stats struct {
	ID           string    `json:"session_id"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ChunkCount   uint64    `json:"chunk_count"`
	UnitsQueued  uint64    `json:"units_queued"`
	UnitsSkipped uint64    `json:"units_skipped"`
	LastSequence uint64    `json:"last_sequence"`
	Transcript   string    `json:"transcript"`
}

func newSession(id string, settings Settings, adapter engine.Adapter, b *broadcast.Broadcaster, m *metrics.Metrics, logger *slog.Logger) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	asm, err := audio.NewAssembler(id, settings.Assembler)
	if err != nil {
		return nil, err
	}
	if settings.QueueSize < 1 {
		settings.QueueSize = 32
	}
	if settings.RecognizeTimeout <= 0 {
		settings.RecognizeTimeout = 30 * time.Second
	}
	if settings.OutageCeiling <= 0 {
		settings.OutageCeiling = 2 * time.Minute
	}

	s := &Session{
		id:           id,
		createdAt:    time.Now(),
		settings:     settings,
		assembler:    asm,
		gate:         audio.NewGate(settings.Gate),
		acc:          transcript.NewAccumulator(),
		adapter:      adapter,
		broadcaster:  b,
		metrics:      m,
		logger:       logger.With("session_id", id),
		queue:        make(chan *audio.Unit, settings.QueueSize),
		done:         make(chan struct{}),
		state:        StateCreated,
		lastActivity: time.Now(),
	}

	go s.worker()
	return s, nil
}

// SubmitChunk appends raw PCM-16 audio and queues any units that became
// complete. Returns ErrSessionEnded once the session is ending or ended.
func (s *Session) SubmitChunk(raw []byte) error {
	s.mu.Lock()
	if s.state == StateEnding || s.state == StateEnded {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if err := s.assembler.Ingest(raw); err != nil {
		s.mu.Unlock()
		if errors.Is(err, audio.ErrMalformedChunk) {
			s.metrics.RecordMalformedChunk()
		}
		return err
	}
	s.state = StateActive
	s.chunkCount++
	s.lastActivity = time.Now()
	s.metrics.RecordChunkReceived()

	var units []*audio.Unit
	for {
		unit := s.assembler.Drain()
		if unit == nil {
			break
		}
		s.metrics.RecordUnitCut(unit.Duration.Seconds())
		units = append(units, unit)
	}
	s.mu.Unlock()

	for _, unit := range units {
		s.offer(unit)
	}
	return nil
}

// End flushes the trailing audio as a final unit and closes the queue. Any
// queued units that have not started recognition are discarded; the final
// unit always runs. Safe to call more than once.
func (s *Session) End() error {
	s.mu.Lock()
	if s.state == StateEnding || s.state == StateEnded {
		s.mu.Unlock()
		return nil
	}
	s.state = StateEnding
	s.lastActivity = time.Now()
	final := s.assembler.Flush()
	s.mu.Unlock()

	s.queueMu.Lock()
	if !s.queueClosed {
		if final != nil {
			s.metrics.RecordUnitCut(final.Duration.Seconds())
			s.enqueue(final)
		}
		close(s.queue)
		s.queueClosed = true
	}
	s.queueMu.Unlock()
	return nil
}

// Done is closed when the worker has finished the final unit and the
// session has reached its terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// offer gates the unit and enqueues it unless the queue already closed.
func (s *Session) offer(unit *audio.Unit) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if s.queueClosed {
		return
	}
	s.enqueue(unit)
}

// enqueue requires queueMu to be held and the queue to be open. A full queue
// blocks until the worker frees a slot, so a slow engine backpressures the
// ingest path instead of losing audio. The worker keeps draining while
// queueMu is held, so the send always makes progress.
func (s *Session) enqueue(unit *audio.Unit) {
	decision := s.gate.Evaluate(unit)
	if !decision.Submit {
		s.metrics.RecordGateSkipped()
		s.logger.Debug("unit gated as silence",
			"sequence", unit.Sequence,
			"peak", decision.Peak,
			"rms", decision.RMS)
		return
	}

	s.queue <- unit
	s.mu.Lock()
	s.unitsQueued++
	s.mu.Unlock()
}

// worker is the session's single recognition loop.
func (s *Session) worker() {
	defer close(s.done)

	var outageStart time.Time
	for unit := range s.queue {
		if s.ending() && !unit.Final {
			// Ending discards backlog; only the flush unit still runs.
			s.mu.Lock()
			s.unitsSkipped++
			s.mu.Unlock()
			continue
		}
		s.process(unit, &outageStart)
	}
	s.finalize()
}

func (s *Session) process(unit *audio.Unit, outageStart *time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.RecognizeTimeout)
	defer cancel()

	start := time.Now()
	s.metrics.RecordRecognitionRequest()
	result, err := s.adapter.Recognize(ctx, unit)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		kind := "rejected"
		if errors.Is(err, engine.ErrUnavailable) {
			kind = "unavailable"
			if outageStart.IsZero() {
				*outageStart = start
			}
			if time.Since(*outageStart) >= s.settings.OutageCeiling {
				s.logger.Error("engine outage exceeded ceiling, ending session",
					"outage", time.Since(*outageStart).String())
				s.publishError("recognition engine unavailable, session terminated")
				go s.End() // End closes the queue; must not run on the worker
			}
		}
		s.metrics.RecordRecognitionFailure(kind, elapsed)
		s.mu.Lock()
		s.unitsSkipped++
		s.mu.Unlock()
		s.logger.Warn("unit recognition failed, skipping unit",
			"sequence", unit.Sequence,
			"kind", kind,
			"error", err)
		return
	}

	*outageStart = time.Time{}
	s.metrics.RecordRecognitionSuccess(elapsed)

	full, merged := s.acc.Merge(result.Text, unit.Sequence)
	if !merged {
		s.metrics.RecordTranscriptStaleDrop()
		return
	}
	s.metrics.RecordTranscriptMerge()

	s.broadcaster.Publish(s.id, broadcast.Event{
		Type:       broadcast.EventTranscript,
		SessionID:  s.id,
		Transcript: full,
		Text:       result.Text,
		Sequence:   unit.Sequence,
	})
}

// finalize archives nothing itself; the manager observes Done and persists.
func (s *Session) finalize() {
	s.mu.Lock()
	s.state = StateEnded
	s.endedAt = time.Now()
	duration := s.endedAt.Sub(s.createdAt)
	s.mu.Unlock()

	s.broadcaster.Finish(s.id, broadcast.Event{
		Type:       broadcast.EventEnded,
		SessionID:  s.id,
		Transcript: s.acc.Text(),
	})
	s.metrics.RecordSessionEnded(duration.Seconds())
	s.logger.Info("session ended",
		"duration", duration.String(),
		"chunks", s.chunkCount,
		"transcript_length", len(s.acc.Text()))
}

func (s *Session) publishError(message string) {
	s.broadcaster.Publish(s.id, broadcast.Event{
		Type:      broadcast.EventError,
		SessionID: s.id,
		Message:   message,
	})
}

func (s *Session) ending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateEnding || s.state == StateEnded
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Transcript returns the full transcript accumulated so far.
func (s *Session) Transcript() string {
	return s.acc.Text()
}

// SampleRate returns the PCM sample rate this session ingests at.
func (s *Session) SampleRate() int {
	return s.settings.Assembler.SampleRate
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// EndedAt returns the terminal timestamp, zero while the session is live.
func (s *Session) EndedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt
}

// LastActivity returns the time of the most recent chunk or end request.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// ChunkCount returns the number of chunks ingested.
func (s *Session) ChunkCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunkCount
}

// GetStats returns a snapshot of the session.
func (s *Session) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		ID:           s.id,
		State:        s.state,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		ChunkCount:   s.chunkCount,
		UnitsQueued:  s.unitsQueued,
		UnitsSkipped: s.unitsSkipped,
		LastSequence: s.assembler.LastSequence(),
		Transcript:   s.acc.Text(),
	}
}
