package access

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vetor-crm/vetor-crm/internal/shared"
)

type recordingAudit struct {
	mu        sync.Mutex
	denied    []string
	refreshes []bool
	logouts   []string
}

func (a *recordingAudit) RouteDenied(ctx context.Context, userID int64, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denied = append(a.denied, path)
}

func (a *recordingAudit) PermissionRefresh(ctx context.Context, userID int64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes = append(a.refreshes, ok)
}

func (a *recordingAudit) ForcedLogout(ctx context.Context, userID int64, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logouts = append(a.logouts, reason)
}

type middlewareFixture struct {
	mw       Middleware
	sessions *shared.SessionManager
	source   *stubGrantSource
	audit    *recordingAudit
}

func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	sessions := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)

	source := &stubGrantSource{}
	source.setStatus(UserStatus{
		GroupName: "Consultores",
		Grants:    []string{"Cliente_Visualizar"},
	})

	return &middlewareFixture{
		mw: Middleware{
			Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
			Table:       NewRouteTable(DefaultRoutes()),
			Evaluators:  NewEvaluators(),
			Sessions:    sessions,
			Audit:       &recordingAudit{},
			LandingPath: "/dashboard",
		},
		sessions: sessions,
		source:   source,
	}
}

func (f *middlewareFixture) auditSink() *recordingAudit {
	return f.mw.Audit.(*recordingAudit)
}

// installEvaluator primes an evaluator for user 42 against the fixture's
// grant source.
func (f *middlewareFixture) installEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	store := NewStore(f.source, time.Minute, nil)
	eval := NewEvaluator(store, 42)
	require.NoError(t, eval.Refresh(context.Background()))
	f.mw.Evaluators.Put(42, eval)
	return eval
}

// request builds a request for path carrying a session for user 42 when
// authenticated is set.
func (f *middlewareFixture) request(t *testing.T, path string, authenticated bool) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	sess, err := f.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	if authenticated {
		sess.SetUser("42")
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func (f *middlewareFixture) serve(req *http.Request) (*httptest.ResponseRecorder, bool) {
	nextCalled := false
	handler := f.mw.RequireRoute(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res, nextCalled
}

func TestRequireRouteRedirectsAnonymousToWelcome(t *testing.T) {
	f := newMiddlewareFixture(t)

	res, nextCalled := f.serve(f.request(t, "/clients", false))
	require.False(t, nextCalled)
	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/welcome", res.Header().Get("Location"))
}

func TestRequireRouteForcesLogoutWhenEvaluatorMissing(t *testing.T) {
	f := newMiddlewareFixture(t)

	res, nextCalled := f.serve(f.request(t, "/clients", true))
	require.False(t, nextCalled)
	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/welcome", res.Header().Get("Location"))
	require.Equal(t, []string{"evaluator missing"}, f.auditSink().logouts)
}

func TestRequireRouteAllowsGrantedRoute(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.installEvaluator(t)

	res, nextCalled := f.serve(f.request(t, "/clients", true))
	require.True(t, nextCalled)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestRequireRouteAllowsUnmappedRoute(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.installEvaluator(t)

	_, nextCalled := f.serve(f.request(t, "/dashboard", true))
	require.True(t, nextCalled)
}

func TestRequireRouteRedirectsDeniedToLanding(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.installEvaluator(t)

	res, nextCalled := f.serve(f.request(t, "/billing", true))
	require.False(t, nextCalled)
	require.Equal(t, http.StatusSeeOther, res.Code)
	require.Equal(t, "/dashboard", res.Header().Get("Location"))
	require.Equal(t, []string{"/billing"}, f.auditSink().denied)
}

func TestRequireRouteReloadsExpiredSnapshot(t *testing.T) {
	f := newMiddlewareFixture(t)
	eval := f.installEvaluator(t)

	// Expire the snapshot; the middleware must do a blocking reload before
	// deciding, and the decision still honours the fresh grants.
	eval.store.Invalidate()
	before := f.source.callCount()

	_, nextCalled := f.serve(f.request(t, "/clients", true))
	require.True(t, nextCalled)
	require.Equal(t, before+1, f.source.callCount())
	require.Equal(t, []bool{true}, f.auditSink().refreshes)
}

func TestRequireRouteForcesLogoutWhenRefreshRejected(t *testing.T) {
	f := newMiddlewareFixture(t)
	eval := f.installEvaluator(t)

	eval.store.Invalidate()
	f.source.mu.Lock()
	f.source.err = shared.ErrAuth
	f.source.mu.Unlock()

	res, nextCalled := f.serve(f.request(t, "/clients", true))
	require.False(t, nextCalled)
	require.Equal(t, "/welcome", res.Header().Get("Location"))
	require.Equal(t, []string{"permission refresh rejected"}, f.auditSink().logouts)

	_, ok := f.mw.Evaluators.Get(42)
	require.False(t, ok)
}

func TestRequireRouteFailsClosedOnTransientRefreshFailure(t *testing.T) {
	f := newMiddlewareFixture(t)
	eval := f.installEvaluator(t)

	eval.store.Invalidate()
	f.source.mu.Lock()
	f.source.err = context.DeadlineExceeded
	f.source.mu.Unlock()

	// Mapped route: no snapshot means no access, landing redirect.
	res, nextCalled := f.serve(f.request(t, "/clients", true))
	require.False(t, nextCalled)
	require.Equal(t, "/dashboard", res.Header().Get("Location"))

	// The session survives: the user was not logged out.
	_, ok := f.mw.Evaluators.Get(42)
	require.True(t, ok)
}
