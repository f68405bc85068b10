package heartbeat

import (
	"context"
	"log/slog"
	"sync"
)

// Manager owns one Heartbeat per authenticated session. Login starts one,
// logout stops and discards it.
type Manager struct {
	registry Registry
	logger   *slog.Logger
	cfg      Config

	mu     sync.Mutex
	active map[int64]*Heartbeat
}

// NewManager constructs a Manager.
func NewManager(registry Registry, logger *slog.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		active:   make(map[int64]*Heartbeat),
	}
}

// Start begins liveness reporting for the user. A previous heartbeat for the
// same user is stopped first so re-login never leaves two timers running.
func (m *Manager) Start(ctx context.Context, userID int64) *Heartbeat {
	m.mu.Lock()
	if prev, ok := m.active[userID]; ok {
		prev.Stop()
	}
	hb := New(m.registry, m.logger, m.cfg, userID)
	m.active[userID] = hb
	m.mu.Unlock()

	hb.Start(ctx)
	return hb
}

// Get returns the heartbeat for a user, if one is running.
func (m *Manager) Get(userID int64) (*Heartbeat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hb, ok := m.active[userID]
	return hb, ok
}

// Stop ends liveness reporting for the user. Safe when none is running.
func (m *Manager) Stop(userID int64) {
	m.mu.Lock()
	hb, ok := m.active[userID]
	if ok {
		delete(m.active, userID)
	}
	m.mu.Unlock()
	if ok {
		hb.Stop()
	}
}

// StopAll tears down every heartbeat; used on server shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*Heartbeat, 0, len(m.active))
	for _, hb := range m.active {
		all = append(all, hb)
	}
	m.active = make(map[int64]*Heartbeat)
	m.mu.Unlock()
	for _, hb := range all {
		hb.Stop()
	}
}
