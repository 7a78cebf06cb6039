package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanfare-hq/fanfare/internal/platform/httpx"
	"github.com/fanfare-hq/fanfare/internal/roles"
	"github.com/fanfare-hq/fanfare/internal/shared"
	"github.com/fanfare-hq/fanfare/jobs"
	_ "github.com/fanfare-hq/fanfare/testing"
)

func newTestRouter(t *testing.T, repo Repository) (http.Handler, *shared.SessionManager) {
	t.Helper()
	return newServiceRouter(t, newTestService(t, repo))
}

func newServiceRouter(t *testing.T, svc *Service) (http.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", "secret", time.Hour, false)
	handler := NewHandler(nil, svc, sessions, shared.NewCSRFManager("csrfsecret"))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(req.Context(), sess)
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, req.WithContext(ctx))
			require.NoError(t, sessions.Commit(ctx, w, req, sess))
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	})
	r.Use(Middleware{Service: svc}.Attach)
	r.Route("/auth", handler.MountRoutes)
	return r, sessions
}

func sessionCookie(t *testing.T, res *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range res.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestLoginThenMe(t *testing.T) {
	router, sessions := newTestRouter(t, seededRepo())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"code":"mem-alice","kind":"member"}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var body principalResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, int64(100), body.Principal.ID)
	assert.Contains(t, body.Permissions, roles.PermCategoryFinanceManage)

	var issued struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &issued))
	assert.NotEmpty(t, issued.CSRFToken)

	cookie := sessionCookie(t, res, sessions.CookieName())
	meReq := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	meReq.AddCookie(cookie)
	meRes := httptest.NewRecorder()
	router.ServeHTTP(meRes, meReq)
	require.Equal(t, http.StatusOK, meRes.Code)
	assert.Contains(t, meRes.Body.String(), `"name":"Alice"`)
}

func login(t *testing.T, router http.Handler, sessions *shared.SessionManager, body string) *http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	return sessionCookie(t, res, sessions.CookieName())
}

func me(router http.Handler, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(cookie)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestMeRejectsRemovedBinding(t *testing.T) {
	repo := seededRepo()
	router, sessions := newTestRouter(t, repo)
	cookie := login(t, router, sessions, `{"code":"grp-10","kind":"group"}`)
	require.Equal(t, http.StatusOK, me(router, cookie).Code)

	// The redis session survives; only the binding row is gone.
	for digest := range repo.bindings {
		delete(repo.bindings, digest)
	}
	assert.Equal(t, http.StatusUnauthorized, me(router, cookie).Code)

	stored, err := sessions.Load(context.Background(), func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(cookie)
		return req
	}())
	require.NoError(t, err)
	assert.Empty(t, stored.Get(SessionPrincipalKey))
}

func TestMeRejectsPurgedBinding(t *testing.T) {
	repo := seededRepo()
	svc := newTestService(t, repo)
	router, sessions := newServiceRouter(t, svc)
	cookie := login(t, router, sessions, `{"code":"mem-alice","kind":"member"}`)

	svc.WithNow(func() time.Time { return time.Date(2026, 3, 1, 13, 30, 0, 0, time.UTC) })
	assert.Equal(t, http.StatusUnauthorized, me(router, cookie).Code)

	require.NoError(t, NewPurgeJob(svc, nil, nil).Handle(context.Background(), jobs.NewSessionPurgeTask()))
	assert.Empty(t, repo.bindings)
	assert.Equal(t, http.StatusUnauthorized, me(router, cookie).Code)
}

func TestMeFollowsAccountChanges(t *testing.T) {
	repo := seededRepo()
	router, sessions := newTestRouter(t, repo)
	cookie := login(t, router, sessions, `{"code":"mem-alice","kind":"member"}`)

	alice := repo.members["MEM-ALICE"]
	alice.Role = strPtr("member")
	repo.members["MEM-ALICE"] = alice
	res := me(router, cookie)
	require.Equal(t, http.StatusOK, res.Code)
	var body principalResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	assert.Equal(t, roles.RoleMember, body.Principal.Role)
	assert.NotContains(t, body.Permissions, roles.PermCategoryFinanceManage)

	repo.groups[10] = Group{ID: 10, Name: "Harmonie", IsActive: false}
	assert.Equal(t, http.StatusUnauthorized, me(router, cookie).Code)

	// Reactivating the group does not resurrect a cleared session.
	repo.groups[10] = Group{ID: 10, Name: "Harmonie", IsActive: true}
	assert.Equal(t, http.StatusUnauthorized, me(router, cookie).Code)
}

func TestMeUnavailableWhenAccountLookupFails(t *testing.T) {
	repo := seededRepo()
	router, sessions := newTestRouter(t, repo)
	cookie := login(t, router, sessions, `{"code":"root-1","kind":"administrator"}`)

	repo.failWith = errors.New("connection refused")
	assert.Equal(t, http.StatusServiceUnavailable, me(router, cookie).Code)

	repo.failWith = nil
	assert.Equal(t, http.StatusOK, me(router, cookie).Code)
}

func TestMeRequiresPrincipal(t *testing.T) {
	router, _ := newTestRouter(t, seededRepo())

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestLoginErrorMapping(t *testing.T) {
	router, _ := newTestRouter(t, seededRepo())

	cases := []struct {
		body   string
		status int
		detail string
	}{
		{`{"code":"nobody","kind":"member"}`, http.StatusUnauthorized, "invalid or inactive code"},
		{`{"code":"mem-bob","kind":"member"}`, http.StatusForbidden, "your group is currently suspended"},
		{`{"code":"mem-norole","kind":"member"}`, http.StatusInternalServerError, "something went wrong"},
		{`{"code":"","kind":"member"}`, http.StatusBadRequest, ""},
		{`{"code":"x","kind":"robot"}`, http.StatusBadRequest, ""},
		{`not json`, http.StatusBadRequest, "enter a valid access code"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tc.body))
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		assert.Equal(t, tc.status, res.Code, tc.body)
		var problem httpx.ProblemDetail
		require.NoError(t, json.Unmarshal(res.Body.Bytes(), &problem))
		if tc.detail != "" {
			assert.Equal(t, tc.detail, problem.Detail, tc.body)
		}
	}
}

func TestLogoutClearsSession(t *testing.T) {
	repo := seededRepo()
	router, sessions := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"code":"grp-10","kind":"group"}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Len(t, repo.bindings, 1)
	cookie := sessionCookie(t, res, sessions.CookieName())

	outReq := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	outReq.AddCookie(cookie)
	outRes := httptest.NewRecorder()
	router.ServeHTTP(outRes, outReq)
	assert.Equal(t, http.StatusNoContent, outRes.Code)
	assert.Empty(t, repo.bindings)

	meReq := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	meReq.AddCookie(cookie)
	meRes := httptest.NewRecorder()
	router.ServeHTTP(meRes, meReq)
	assert.Equal(t, http.StatusUnauthorized, meRes.Code)
}

func TestLoginRenewsSessionID(t *testing.T) {
	repo := seededRepo()
	router, sessions := newTestRouter(t, repo)

	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/auth/csrf", nil))
	require.Equal(t, http.StatusOK, res.Code)
	anonymous := sessionCookie(t, res, sessions.CookieName())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"code":"grp-10","kind":"group"}`))
	req.AddCookie(anonymous)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	first := sessionCookie(t, res, sessions.CookieName())
	assert.NotEqual(t, anonymous.Value, first.Value)

	// Logging in again from the same browser replaces the binding.
	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"code":"mem-alice","kind":"member"}`))
	req.AddCookie(first)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	second := sessionCookie(t, res, sessions.CookieName())
	assert.NotEqual(t, first.Value, second.Value)
	assert.Len(t, repo.bindings, 1)

	meReq := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	meReq.AddCookie(first)
	meRes := httptest.NewRecorder()
	router.ServeHTTP(meRes, meReq)
	assert.Equal(t, http.StatusUnauthorized, meRes.Code)
}
