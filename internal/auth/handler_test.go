package auth_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vetor-crm/vetor-crm/internal/auth"
	"github.com/vetor-crm/vetor-crm/internal/shared"
)

// sessionHarness serves requests through a real Redis-backed session cycle,
// mirroring the production middleware.
type sessionHarness struct {
	router   chi.Router
	sessions *shared.SessionManager
}

// commitOnWriteResponseWriter mirrors the production session middleware's
// wrapped writer: the session is committed before the first byte of the
// response goes out so Set-Cookie headers are not dropped.
type commitOnWriteResponseWriter struct {
	http.ResponseWriter
	t             *testing.T
	sess          *shared.Session
	manager       *shared.SessionManager
	req           *http.Request
	headerWritten bool
}

func (w *commitOnWriteResponseWriter) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.headerWritten = true
		require.NoError(w.t, w.manager.Commit(w.req.Context(), w.ResponseWriter, w.req, w.sess))
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *commitOnWriteResponseWriter) Write(data []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

func newAuthHarness(t *testing.T, f *serviceFixture) *sessionHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	sessionManager := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")

	handler := auth.NewHandler(nil, f.service, sessionManager, csrfManager)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessionManager.Load(req.Context(), req)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(req.Context(), sess)
			wrapped := &commitOnWriteResponseWriter{
				ResponseWriter: w,
				t:              t,
				sess:           sess,
				manager:        sessionManager,
				req:            req.WithContext(ctx),
			}
			next.ServeHTTP(wrapped, req.WithContext(ctx))
			if !wrapped.headerWritten {
				require.NoError(t, sessionManager.Commit(ctx, w, req, sess))
			}
		})
	})
	r.Route("/auth", handler.MountRoutes)
	return &sessionHarness{router: r, sessions: sessionManager}
}

func (h *sessionHarness) do(req *http.Request) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	h.router.ServeHTTP(res, req)
	return res
}

func TestHandleLoginSuccess(t *testing.T) {
	f := newServiceFixture(t)
	harness := newAuthHarness(t, f)

	body := `{"email":"ana@vetor.example","password":"segredo123"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := harness.do(req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"Ana Souza"`)
	// The token never leaves the server.
	require.NotContains(t, res.Body.String(), "jwt-token")
	require.NotEmpty(t, res.Result().Cookies())
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	f := newServiceFixture(t)
	f.idp.err = shared.ErrInvalidCredentials
	harness := newAuthHarness(t, f)

	body := `{"email":"ana@vetor.example","password":"errada12345"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := harness.do(req)

	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Contains(t, res.Body.String(), "email ou senha inválidos")
}

func TestHandleLoginValidation(t *testing.T) {
	f := newServiceFixture(t)
	harness := newAuthHarness(t, f)

	cases := []string{
		`{"email":"not-an-email","password":"segredo123"}`,
		`{"email":"ana@vetor.example","password":"curta"}`,
		`{not json`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		res := harness.do(req)
		require.Equal(t, http.StatusBadRequest, res.Code, "body=%s", body)
	}
	require.Empty(t, f.registry.registered)
}

func TestHandleLogout(t *testing.T) {
	f := newServiceFixture(t)
	harness := newAuthHarness(t, f)

	loginBody := `{"email":"ana@vetor.example","password":"segredo123"}`
	loginReq := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(loginBody))
	loginReq.Header.Set("Content-Type", "application/json")
	loginRes := harness.do(loginReq)
	require.Equal(t, http.StatusOK, loginRes.Code)

	logoutReq := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	for _, c := range loginRes.Result().Cookies() {
		logoutReq.AddCookie(c)
	}
	logoutRes := harness.do(logoutReq)
	require.Equal(t, http.StatusNoContent, logoutRes.Code)

	require.Equal(t, []int64{42}, f.registry.removed)
	_, ok := f.evaluators.Get(42)
	require.False(t, ok)
}

func TestIssueCSRFToken(t *testing.T) {
	f := newServiceFixture(t)
	harness := newAuthHarness(t, f)

	req := httptest.NewRequest(http.MethodGet, "/auth/csrf", nil)
	res := harness.do(req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"token"`)
}
