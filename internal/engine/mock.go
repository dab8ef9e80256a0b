package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/audio"
)

// Mock is an in-memory Adapter for tests. It returns scripted text per
// sequence, can fail selected sequences, and tracks the high-water mark of
// concurrent Recognize calls so ordering guarantees are observable.
type Mock struct {
	// Delay simulates engine latency per call.
	Delay time.Duration

	// TextFor overrides the default "text for unit N" response.
	TextFor map[uint64]string

	// FailWith maps a sequence to the error its recognition returns.
	FailWith map[uint64]error

	calls          []uint64
	inFlight       int
	maxConcurrency int
	closed         bool

	mu sync.Mutex
}

// NewMock creates a mock adapter.
func NewMock() *Mock {
	return &Mock{
		TextFor:  make(map[uint64]string),
		FailWith: make(map[uint64]error),
	}
}

// Recognize returns the scripted result for the unit's sequence.
func (m *Mock) Recognize(ctx context.Context, unit *audio.Unit) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, unit.Sequence)
	m.inFlight++
	if m.inFlight > m.maxConcurrency {
		m.maxConcurrency = m.inFlight
	}
	delay := m.Delay
	failErr := m.FailWith[unit.Sequence]
	text, scripted := m.TextFor[unit.Sequence]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
	}

	if failErr != nil {
		return nil, failErr
	}

	if !scripted {
		text = fmt.Sprintf("text for unit %d", unit.Sequence)
	}

	return &Result{
		Text:       text,
		Confidence: 0.9,
		Sequence:   unit.Sequence,
		ReceivedAt: time.Now(),
	}, nil
}

// Calls returns the sequences recognized so far, in call order.
func (m *Mock) Calls() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.calls))
	copy(out, m.calls)
	return out
}

// MaxConcurrency returns the highest number of simultaneous Recognize calls
// observed.
func (m *Mock) MaxConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxConcurrency
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
