package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vetor-crm/vetor-crm/internal/shared"
)

// stubRegistry records Update calls and can be switched between healthy and
// failing, or made to block until released.
type stubRegistry struct {
	mu      sync.Mutex
	calls   []string
	tokens  []string
	err     error
	release chan struct{}
}

func (r *stubRegistry) Update(ctx context.Context, userID int64, currentPage string) error {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, currentPage)
	token, _ := shared.TokenFromContext(ctx)
	r.tokens = append(r.tokens, token)
	return r.err
}

func (r *stubRegistry) seenTokens() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tokens...)
}

func (r *stubRegistry) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *stubRegistry) lastCall() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return ""
	}
	return r.calls[len(r.calls)-1]
}

func (r *stubRegistry) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func testConfig() Config {
	return Config{
		Interval:     20 * time.Millisecond,
		Debounce:     20 * time.Millisecond,
		FailureLimit: 3,
	}
}

func TestStartSendsImmediatePingAndRepeats(t *testing.T) {
	registry := &stubRegistry{}
	hb := New(registry, nil, testConfig(), 7)
	hb.Start(context.Background())
	defer hb.Stop()

	require.Eventually(t, func() bool {
		return registry.callCount() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestPingsCarrySessionTokenPastLoginRequest(t *testing.T) {
	registry := &stubRegistry{}
	hb := New(registry, nil, testConfig(), 7)

	ctx, cancel := context.WithCancel(shared.ContextWithToken(context.Background(), "jwt-token"))
	hb.Start(ctx)
	defer hb.Stop()
	// The login request ends long before the next tick; the token must
	// survive it.
	cancel()

	require.Eventually(t, func() bool {
		return registry.callCount() >= 2
	}, time.Second, 5*time.Millisecond)
	for _, token := range registry.seenTokens() {
		require.Equal(t, "jwt-token", token)
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	registry := &stubRegistry{}
	registry.setErr(errors.New("registry down"))
	hb := New(registry, nil, testConfig(), 7)
	hb.Start(context.Background())
	defer hb.Stop()

	require.Eventually(t, func() bool {
		return registry.callCount() >= 3
	}, time.Second, 5*time.Millisecond)

	// The breaker is tripped: several intervals pass with no further call.
	time.Sleep(60 * time.Millisecond)
	settled := registry.callCount()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, settled, registry.callCount())
	require.GreaterOrEqual(t, hb.failureCount(), 3)
}

func TestOnVisibleResumesTrippedBreaker(t *testing.T) {
	registry := &stubRegistry{}
	registry.setErr(errors.New("registry down"))
	hb := New(registry, nil, testConfig(), 7)
	hb.Start(context.Background())
	defer hb.Stop()

	require.Eventually(t, func() bool {
		return registry.callCount() >= 3
	}, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	// Registry recovers; a visibility ping re-arms the timer.
	registry.setErr(nil)
	hb.OnVisible(context.Background())
	require.Equal(t, 0, hb.failureCount())

	resumed := registry.callCount()
	require.Eventually(t, func() bool {
		return registry.callCount() >= resumed+2
	}, time.Second, 5*time.Millisecond)
}

func TestOnVisibleFailureKeepsBreakerTripped(t *testing.T) {
	registry := &stubRegistry{}
	registry.setErr(errors.New("registry down"))
	hb := New(registry, nil, testConfig(), 7)
	hb.Start(context.Background())
	defer hb.Stop()

	require.Eventually(t, func() bool {
		return registry.callCount() >= 3
	}, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	hb.OnVisible(context.Background())
	after := registry.callCount()

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, after, registry.callCount())
}

func TestUpdateLocationDebouncesRapidNavigation(t *testing.T) {
	registry := &stubRegistry{}
	hb := New(registry, nil, testConfig(), 7)
	defer hb.Stop()

	hb.UpdateLocation("/clients")
	hb.UpdateLocation("/contracts")
	hb.UpdateLocation("/billing")

	require.Eventually(t, func() bool {
		return registry.callCount() == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "/billing", registry.lastCall())

	// No trailing extra report after the debounce settles.
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, registry.callCount())
}

func TestUpdateLocationSuppressesDuplicate(t *testing.T) {
	registry := &stubRegistry{}
	hb := New(registry, nil, testConfig(), 7)
	defer hb.Stop()

	hb.UpdateLocation("/clients")
	require.Eventually(t, func() bool {
		return registry.callCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Same page again: already reported, nothing is sent.
	hb.UpdateLocation("/clients")
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 1, registry.callCount())
}

func TestUpdateLocationFailureDoesNotFeedBreaker(t *testing.T) {
	registry := &stubRegistry{}
	registry.setErr(errors.New("registry down"))
	hb := New(registry, nil, testConfig(), 7)
	defer hb.Stop()

	hb.UpdateLocation("/clients")
	require.Eventually(t, func() bool {
		return registry.callCount() == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, hb.failureCount())
}

func TestStopIsIdempotent(t *testing.T) {
	registry := &stubRegistry{}
	hb := New(registry, nil, testConfig(), 7)
	hb.Start(context.Background())

	hb.Stop()
	hb.Stop()

	n := registry.callCount()
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, n, registry.callCount())

	// Stopping a heartbeat that never started is also safe.
	idle := New(registry, nil, testConfig(), 8)
	idle.Stop()
}

func TestStopDropsInFlightResult(t *testing.T) {
	registry := &stubRegistry{release: make(chan struct{})}
	registry.setErr(errors.New("registry down"))
	hb := New(registry, nil, testConfig(), 7)

	go hb.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	hb.Stop()
	close(registry.release)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, hb.failureCount())
}

func TestUpdateLocationAfterStopIsIgnored(t *testing.T) {
	registry := &stubRegistry{}
	hb := New(registry, nil, testConfig(), 7)
	hb.Stop()

	hb.UpdateLocation("/clients")
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, 0, registry.callCount())
}

func TestOnActivityRecordsTimestampOnly(t *testing.T) {
	registry := &stubRegistry{}
	hb := New(registry, nil, testConfig(), 7)
	defer hb.Stop()

	before := hb.LastActivity()
	time.Sleep(5 * time.Millisecond)
	hb.OnActivity()
	require.True(t, hb.LastActivity().After(before))
	require.Equal(t, 0, registry.callCount())
}

func TestManagerReplacesPreviousHeartbeat(t *testing.T) {
	registry := &stubRegistry{}
	m := NewManager(registry, nil, testConfig())
	defer m.StopAll()

	first := m.Start(context.Background(), 7)
	second := m.Start(context.Background(), 7)
	require.NotSame(t, first, second)

	got, ok := m.Get(7)
	require.True(t, ok)
	require.Same(t, second, got)

	// The replaced heartbeat is stopped: its location path is dead.
	n := registry.callCount()
	first.UpdateLocation("/clients")
	time.Sleep(60 * time.Millisecond)
	require.GreaterOrEqual(t, registry.callCount(), n)
}

func TestManagerStop(t *testing.T) {
	registry := &stubRegistry{}
	m := NewManager(registry, nil, testConfig())

	m.Start(context.Background(), 7)
	m.Stop(7)
	_, ok := m.Get(7)
	require.False(t, ok)

	m.Stop(99)
}
