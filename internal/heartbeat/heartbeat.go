// Package heartbeat maintains the best-effort "is this user still active"
// signal against the remote session registry. Failures are swallowed locally:
// a degraded registry must never surface errors to the user or interrupt
// navigation.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Defaults match the product cadence.
const (
	DefaultInterval     = 5 * time.Minute
	DefaultDebounce     = 300 * time.Millisecond
	DefaultFailureLimit = 3
)

// Registry is the remote session registry write interface consumed here.
type Registry interface {
	Update(ctx context.Context, userID int64, currentPage string) error
}

// Config tunes one heartbeat. Zero values take the defaults above; tests
// shrink the durations.
type Config struct {
	Interval     time.Duration
	Debounce     time.Duration
	FailureLimit int

	// Observer, when set, is told the outcome of every liveness ping.
	Observer func(ok bool)
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = DefaultFailureLimit
	}
	return c
}

// Heartbeat reports liveness for one authenticated session. Start sends one
// immediate ping and then reports on a fixed interval until Stop, or until
// the failure breaker trips. The breaker does not auto-resume: only a new
// Start or a visibility resume brings reporting back.
type Heartbeat struct {
	registry Registry
	logger   *slog.Logger
	cfg      Config
	userID   int64

	mu            sync.Mutex
	base          context.Context
	location      string
	reported      string
	failures      int
	lastActivity  time.Time
	ticker        *time.Ticker
	debounceTimer *time.Timer
	done          chan struct{}
	stopped       bool
	tripped       bool
	started       bool
}

// New constructs a Heartbeat for the user. It does nothing until Start.
func New(registry Registry, logger *slog.Logger, cfg Config, userID int64) *Heartbeat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		registry: registry,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		userID:   userID,
	}
}

// Start sends an immediate liveness ping and arms the repeating timer.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started && !h.stopped {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.stopped = false
	h.tripped = false
	h.failures = 0
	h.lastActivity = time.Now()
	// Detached from the login request's cancellation but keeps its values,
	// so background pings still carry the session token.
	h.base = context.WithoutCancel(ctx)
	h.ticker = time.NewTicker(h.cfg.Interval)
	h.done = make(chan struct{})
	ticker, done := h.ticker, h.done
	h.mu.Unlock()

	go h.run(ticker, done)
	h.ping(ctx, false)
}

func (h *Heartbeat) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			h.ping(h.baseContext(), false)
		}
	}
}

// ping sends one liveness report. With resume set, a success re-arms a
// tripped breaker (the visibility path).
func (h *Heartbeat) ping(ctx context.Context, resume bool) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	userID, location := h.userID, h.location
	h.mu.Unlock()

	err := h.registry.Update(ctx, userID, location)
	if h.cfg.Observer != nil {
		h.cfg.Observer(err == nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		// In-flight result after Stop is dropped, not applied.
		return
	}
	if err != nil {
		h.failures++
		if h.failures >= h.cfg.FailureLimit && !h.tripped {
			h.tripped = true
			h.ticker.Stop()
			h.logger.Warn("liveness reporting suspended",
				slog.Int64("user_id", userID),
				slog.Int("consecutive_failures", h.failures))
		}
		return
	}
	h.failures = 0
	h.reported = location
	if h.tripped && resume {
		h.tripped = false
		h.ticker.Reset(h.cfg.Interval)
		h.logger.Info("liveness reporting resumed", slog.Int64("user_id", userID))
	}
}

// OnVisible bridges suspended background tabs: send one ping immediately,
// regardless of timer phase, and revive a tripped breaker on success.
func (h *Heartbeat) OnVisible(ctx context.Context) {
	h.ping(ctx, true)
}

// OnActivity records user activity. It never causes a network call; the
// timer callback alone decides when to send.
func (h *Heartbeat) OnActivity() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.lastActivity = time.Now()
}

// LastActivity returns the most recent recorded user activity.
func (h *Heartbeat) LastActivity() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastActivity
}

// UpdateLocation schedules a location report after a short debounce so rapid
// back-to-back navigations collapse into one call. A location equal to the
// last successfully reported one is suppressed entirely. This path is
// independent of the liveness timer; neither cancels the other.
func (h *Heartbeat) UpdateLocation(label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.location = label
	if label == h.reported {
		return
	}
	if h.debounceTimer != nil {
		h.debounceTimer.Stop()
	}
	h.debounceTimer = time.AfterFunc(h.cfg.Debounce, h.flushLocation)
}

func (h *Heartbeat) flushLocation() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	userID, location, reported := h.userID, h.location, h.reported
	h.mu.Unlock()
	if location == reported {
		return
	}

	err := h.registry.Update(h.baseContext(), userID, location)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if err != nil {
		// Location updates fail silently; only the liveness ticker feeds
		// the breaker.
		h.logger.Debug("location update failed",
			slog.Int64("user_id", userID),
			slog.Any("error", err))
		return
	}
	h.reported = location
}

// Stop clears the timer and any pending debounced update. Idempotent and
// safe to call from any teardown path, including with a request in flight.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped || !h.started {
		h.stopped = true
		return
	}
	h.stopped = true
	h.ticker.Stop()
	if h.debounceTimer != nil {
		h.debounceTimer.Stop()
		h.debounceTimer = nil
	}
	close(h.done)
}

func (h *Heartbeat) baseContext() context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.base == nil {
		return context.Background()
	}
	return h.base
}

// failureCount is exposed for tests.
func (h *Heartbeat) failureCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}
