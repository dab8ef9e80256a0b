package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/broadcast"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/engine"
	"github.com/EmminiX/NeuroBridge-EDU-OpenSource-sub000/internal/metrics"
)

// Record is the archived form of an ended session.
type Record struct {
	ID         string
	CreatedAt  time.Time
	EndedAt    time.Time
	SampleRate int
	ChunkCount uint64
	Transcript string
}

// Archiver persists ended sessions. Implemented by the store package.
type Archiver interface {
	SaveSession(ctx context.Context, record *Record) error
}

// ManagerConfig contains session manager configuration.
type ManagerConfig struct {
	Settings      Settings
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Manager tracks all sessions and enforces the idle timeout.
type Manager struct {
	config      ManagerConfig
	adapter     engine.Adapter
	broadcaster *broadcast.Broadcaster
	archiver    Archiver
	metrics     *metrics.Metrics
	logger      *slog.Logger

	sessions map[string]*Session
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu sync.RWMutex
}

// NewManager creates a session manager and starts the idle sweep.
func NewManager(config ManagerConfig, adapter engine.Adapter, b *broadcast.Broadcaster, archiver Archiver, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 30 * time.Second
	}

	mgr := &Manager{
		config:      config,
		adapter:     adapter,
		broadcaster: b,
		archiver:    archiver,
		metrics:     m,
		logger:      logger,
		sessions:    make(map[string]*Session),
		stopCh:      make(chan struct{}),
	}

	mgr.wg.Add(1)
	go mgr.sweepLoop()
	return mgr
}

// Create registers a new session. An empty ID is replaced with a generated
// one; a duplicate ID returns ErrDuplicateSession. A zero sampleRate falls
// back to the configured default. After Stop, Create returns
// ErrManagerStopped.
func (m *Manager) Create(id string, sampleRate int) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}
	if id != "" {
		if _, exists := m.sessions[id]; exists {
			return nil, ErrDuplicateSession
		}
	}

	settings := m.config.Settings
	if sampleRate > 0 {
		settings.Assembler.SampleRate = sampleRate
	}

	s, err := newSession(id, settings, m.adapter, m.broadcaster, m.metrics, m.logger)
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID()] = s

	m.broadcaster.OpenTopic(s.ID(), s.Transcript)
	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(len(m.sessions))
	m.logger.Info("session created", "session_id", s.ID())

	// Archive once the worker finishes, whether End came from the client,
	// the sweep, or an engine outage.
	m.wg.Add(1)
	go m.awaitEnd(s)

	return s, nil
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, exists := m.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// SubmitChunk routes a raw audio chunk to its session.
func (m *Manager) SubmitChunk(id string, raw []byte) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.SubmitChunk(raw)
}

// End terminates a session. Idempotent; unknown IDs return
// ErrSessionNotFound.
func (m *Manager) End(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.End()
}

// List returns snapshots of all tracked sessions, newest first.
func (m *Manager) List() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]Stats, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s.GetStats())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop rejects new sessions, ends the live ones, and waits for their
// workers to drain.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()
		close(m.stopCh)
	})

	m.mu.RLock()
	active := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		active = append(active, s)
	}
	m.mu.RUnlock()

	for _, s := range active {
		s.End()
	}
	m.wg.Wait()
	m.logger.Info("session manager stopped")
}

// awaitEnd archives the session once its worker exits and removes it from
// the registry.
func (m *Manager) awaitEnd(s *Session) {
	defer m.wg.Done()
	<-s.Done()

	if m.archiver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		record := &Record{
			ID:         s.ID(),
			CreatedAt:  s.CreatedAt(),
			EndedAt:    s.EndedAt(),
			SampleRate: s.SampleRate(),
			ChunkCount: s.ChunkCount(),
			Transcript: s.Transcript(),
		}
		if err := m.archiver.SaveSession(ctx, record); err != nil {
			m.logger.Error("failed to archive session",
				"session_id", s.ID(),
				"error", err)
		}
		cancel()
	}

	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()
}

// sweepLoop ends sessions with no activity past the idle timeout.
func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.config.IdleTimeout)

	m.mu.RLock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range idle {
		m.logger.Info("sweeping idle session",
			"session_id", s.ID(),
			"last_activity", s.LastActivity().Format(time.RFC3339))
		s.End()
		m.metrics.RecordSessionSwept()
	}
}
