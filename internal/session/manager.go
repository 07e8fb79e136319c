package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/penaltyvision/overlay-server/internal/logger"
	"github.com/penaltyvision/overlay-server/internal/metrics"
	"github.com/penaltyvision/overlay-server/internal/overlay"
	"github.com/penaltyvision/overlay-server/internal/playback"
	"github.com/penaltyvision/overlay-server/pkg/types"
)

var (
	ErrNotFound   = errors.New("session not found")
	ErrNoMetadata = errors.New("video metadata not set")
	ErrTooMany    = errors.New("too many open sessions")
)

// SchedulerFactory returns the frame scheduler for a new session.
type SchedulerFactory func() overlay.FrameScheduler

// Manager owns the open sessions, keyed by random UUID.
type Manager struct {
	loader      *Loader
	cfg         types.OverlayConfig
	maxSessions int
	metrics     *metrics.Metrics
	newSched    SchedulerFactory
	playerOpts  []playback.Option

	mu       sync.RWMutex
	sessions map[string]*Session
	opening  int // Slots reserved by loads in flight
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithScheduler replaces the default timer scheduler.
func WithScheduler(f SchedulerFactory) ManagerOption {
	return func(m *Manager) { m.newSched = f }
}

// WithPlayerOptions applies opts to every session's player.
func WithPlayerOptions(opts ...playback.Option) ManagerOption {
	return func(m *Manager) { m.playerOpts = opts }
}

// WithMaxSessions limits concurrent sessions. Zero means unlimited.
func WithMaxSessions(n int) ManagerOption {
	return func(m *Manager) { m.maxSessions = n }
}

// NewManager creates a session manager.
func NewManager(loader *Loader, cfg types.OverlayConfig, m *metrics.Metrics, opts ...ManagerOption) *Manager {
	if m == nil {
		m = metrics.New()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = overlay.DefaultRefreshInterval
	}
	mgr := &Manager{
		loader:   loader,
		cfg:      cfg,
		metrics:  m,
		sessions: make(map[string]*Session),
	}
	mgr.newSched = func() overlay.FrameScheduler {
		return overlay.NewTimerScheduler(mgr.cfg.RefreshInterval)
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Open loads penaltyID and starts a paused session for it. A slot is
// reserved for the duration of the load so concurrent opens respect the
// session limit.
func (m *Manager) Open(ctx context.Context, penaltyID string) (*Session, error) {
	if !m.reserve() {
		return nil, ErrTooMany
	}
	loaded, err := m.loader.Load(ctx, penaltyID)
	if err != nil {
		m.mu.Lock()
		m.opening--
		m.mu.Unlock()
		return nil, err
	}

	id := uuid.NewString()
	s := newSession(id, loaded, m.newSched(), m.cfg, m.metrics, m.playerOpts...)

	m.mu.Lock()
	m.opening--
	m.sessions[id] = s
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SessionsOpened.Add(1)
	m.metrics.SessionsActive.Store(uint64(active))
	logger.Info("Session", "Session %s opened for penalty %s (%d posture frames)", id, penaltyID, loaded.Postures.Len())
	return s, nil
}

func (m *Manager) reserve() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxSessions > 0 && len(m.sessions)+m.opening >= m.maxSessions {
		return false
	}
	m.opening++
	return true
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close closes and forgets a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	active := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.Close()
	m.metrics.SessionsActive.Store(uint64(active))
	return nil
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.metrics.SessionsActive.Store(0)
}

// List returns the open sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
