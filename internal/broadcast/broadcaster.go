package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/metrics"
)

// ErrNoTopic is returned when subscribing to a session with no live topic.
var ErrNoTopic = errors.New("no topic for session")

// EventType identifies the kind of stream event.
type EventType string

const (
	EventConnected  EventType = "connected"
	EventSnapshot   EventType = "snapshot"
	EventTranscript EventType = "transcript"
	EventKeepalive  EventType = "keepalive"
	EventEnded      EventType = "ended"
	EventError      EventType = "error"
)

// Event is one entry in a session's outbound stream.
type Event struct {
	ID         string    `json:"event_id"`
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id"`
	Transcript string    `json:"transcript,omitempty"` // Full transcript so far
	Text       string    `json:"text,omitempty"`       // Text added by this update
	Sequence   uint64    `json:"sequence,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// topic is the fan-out state for one session.
type topic struct {
	sessionID   string
	snapshot    func() string // Current full transcript provider
	subscribers map[string]chan Event
	done        chan struct{}
	finished    bool
	mu          sync.Mutex
}

// Config contains broadcaster configuration.
type Config struct {
	KeepaliveInterval time.Duration
	SubscriberBuffer  int // Channel capacity per subscriber
}

// Broadcaster owns the topics of all live sessions.
type Broadcaster struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	topics map[string]*topic

	// Statistics
	eventsPublished atomic.Uint64
	eventsDropped   atomic.Uint64
	subscriberCount atomic.Int64

	mu sync.RWMutex
}

// BroadcasterStats represents broadcaster statistics for monitoring.
type BroadcasterStats struct {
	Topics          int    `json:"topics"`
	Subscribers     int    `json:"subscribers"`
	EventsPublished uint64 `json:"events_published"`
	EventsDropped   uint64 `json:"events_dropped"`
}

// NewBroadcaster creates a broadcaster.
func NewBroadcaster(config Config, m *metrics.Metrics, logger *slog.Logger) *Broadcaster {
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 15 * time.Second
	}
	// Subscribe preloads two catch-up events, so the buffer must hold both.
	if config.SubscriberBuffer < 2 {
		config.SubscriberBuffer = 16
	}

	return &Broadcaster{
		config:  config,
		logger:  logger,
		metrics: m,
		topics:  make(map[string]*topic),
	}
}

// OpenTopic registers a session's topic. The snapshot function must return
// the current full transcript; it is called on every subscribe so late and
// reconnecting clients catch up immediately.
func (b *Broadcaster) OpenTopic(sessionID string, snapshot func() string) {
	t := &topic{
		sessionID:   sessionID,
		snapshot:    snapshot,
		subscribers: make(map[string]chan Event),
		done:        make(chan struct{}),
	}

	b.mu.Lock()
	b.topics[sessionID] = t
	b.mu.Unlock()

	b.logger.Debug("Topic opened", slog.String("session_id", sessionID))

	go b.keepaliveLoop(t)
}

// Subscribe attaches a subscriber to a session's topic. The returned channel
// immediately carries a connected event and a snapshot event with the
// current transcript. The cancel function detaches the subscriber; the
// channel is closed on detach or session end.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan Event, func(), error) {
	b.mu.RLock()
	t, exists := b.topics[sessionID]
	b.mu.RUnlock()

	if !exists {
		return nil, nil, ErrNoTopic
	}

	subID := uuid.NewString()
	ch := make(chan Event, b.config.SubscriberBuffer)

	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return nil, nil, ErrNoTopic
	}

	// Catch-up before any live event can be delivered: connected, then the
	// full current transcript. Buffer capacity covers both.
	ch <- Event{
		ID:        uuid.NewString(),
		Type:      EventConnected,
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
	ch <- Event{
		ID:         uuid.NewString(),
		Type:       EventSnapshot,
		SessionID:  sessionID,
		Transcript: t.snapshot(),
		Timestamp:  time.Now(),
	}

	t.subscribers[subID] = ch
	t.mu.Unlock()
	b.metrics.SetActiveSubscribers(int(b.subscriberCount.Add(1)))

	cancel := func() {
		t.mu.Lock()
		existing, ok := t.subscribers[subID]
		if ok {
			delete(t.subscribers, subID)
			close(existing)
		}
		t.mu.Unlock()
		if ok {
			b.metrics.SetActiveSubscribers(int(b.subscriberCount.Add(-1)))
		}
	}

	// Detach when the subscriber's context ends.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-t.done:
		}
	}()

	return ch, cancel, nil
}

// Publish fans an event out to the session's subscribers. Events for
// sessions with no topic or no subscribers are dropped; a slow subscriber
// with a full buffer loses the event rather than blocking the pipeline.
func (b *Broadcaster) Publish(sessionID string, event Event) {
	b.mu.RLock()
	t, exists := b.topics[sessionID]
	b.mu.RUnlock()

	if !exists {
		return
	}

	event.ID = uuid.NewString()
	event.SessionID = sessionID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finished {
		return
	}

	for _, ch := range t.subscribers {
		select {
		case ch <- event:
			b.countPublished()
		default:
			b.countDropped()
		}
	}
}

// Finish publishes the terminal event, closes every subscriber channel, and
// removes the topic. Calling it again for the same session is a no-op, so a
// retried end-session request produces no duplicate terminal event.
func (b *Broadcaster) Finish(sessionID string, terminal Event) {
	b.mu.Lock()
	t, exists := b.topics[sessionID]
	if exists {
		delete(b.topics, sessionID)
	}
	b.mu.Unlock()

	if !exists {
		return
	}

	terminal.ID = uuid.NewString()
	terminal.SessionID = sessionID
	if terminal.Timestamp.IsZero() {
		terminal.Timestamp = time.Now()
	}

	t.mu.Lock()
	t.finished = true
	close(t.done)

	for subID, ch := range t.subscribers {
		select {
		case ch <- terminal:
			b.countPublished()
		default:
			b.countDropped()
		}
		close(ch)
		delete(t.subscribers, subID)
		b.subscriberCount.Add(-1)
	}
	t.mu.Unlock()
	b.metrics.SetActiveSubscribers(int(b.subscriberCount.Load()))

	b.logger.Debug("Topic finished",
		slog.String("session_id", sessionID),
		slog.String("terminal_type", string(terminal.Type)),
	)
}

// Close finishes every remaining topic. Used on service shutdown.
func (b *Broadcaster) Close() {
	b.mu.RLock()
	ids := make([]string, 0, len(b.topics))
	for id := range b.topics {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	for _, id := range ids {
		b.Finish(id, Event{Type: EventEnded, Message: "service shutting down"})
	}
}

// keepaliveLoop emits periodic keep-alive events so idle long-lived
// connections are not reaped by intermediaries.
func (b *Broadcaster) keepaliveLoop(t *topic) {
	ticker := time.NewTicker(b.config.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			b.Publish(t.sessionID, Event{Type: EventKeepalive})
		}
	}
}

// SubscriberCount returns the number of subscribers attached to a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	t, exists := b.topics[sessionID]
	b.mu.RUnlock()

	if !exists {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// GetStats returns current broadcaster statistics.
func (b *Broadcaster) GetStats() BroadcasterStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := 0
	for _, t := range b.topics {
		t.mu.Lock()
		subscribers += len(t.subscribers)
		t.mu.Unlock()
	}

	return BroadcasterStats{
		Topics:          len(b.topics),
		Subscribers:     subscribers,
		EventsPublished: b.eventsPublished.Load(),
		EventsDropped:   b.eventsDropped.Load(),
	}
}

func (b *Broadcaster) countPublished() {
	b.eventsPublished.Add(1)
	b.metrics.RecordEventPublished()
}

func (b *Broadcaster) countDropped() {
	b.eventsDropped.Add(1)
	b.metrics.RecordEventDropped()
}
