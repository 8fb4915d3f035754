package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/fleetadmin/internal/repository"
	"github.com/hitoshi/fleetadmin/internal/session"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// --- ヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newTestManager(t *testing.T) *session.Manager {
	t.Helper()
	var buf bytes.Buffer
	m, err := session.NewManager(repository.NewMemoryStorageRepo(), 16, newTestLogger(&buf))
	if err != nil {
		t.Fatalf("NewManager がエラーを返した: %v", err)
	}
	return m
}

func signedToken(t *testing.T, exp time.Time, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "42",
		"role": role,
		"exp":  exp.Unix(),
	})
	raw, err := tok.SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatalf("トークンの署名に失敗: %v", err)
	}
	return raw
}

func sessionConfig() SessionConfig {
	return SessionConfig{Secret: testSecret, MaxAge: 3600}
}

// sessionCookie はレスポンスからセッションCookieを取り出す。
func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("セッションCookieが発行されていない")
	return nil
}

type failingProvider struct{}

func (failingProvider) Get(ctx context.Context, id string) (*session.Store, error) {
	return nil, errors.New("storage down")
}

// --- NewSessionMiddleware ---

func TestSessionMiddleware_NoCookie_IssuesCookieAndInjectsStore(t *testing.T) {
	mw := NewSessionMiddleware(newTestManager(t), sessionConfig())

	var gotStore bool
	var gotID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, gotStore = StoreFromContext(r.Context())
		gotID = BrowserSessionIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cars", nil))

	c := sessionCookie(t, w.Result())
	if !c.HttpOnly {
		t.Error("セッションCookieはHttpOnlyであるべき")
	}
	if c.Value == gotID {
		t.Error("CookieにはIDを署名付きで格納するべき")
	}
	if !gotStore || gotID == "" {
		t.Errorf("store = %v, id = %q", gotStore, gotID)
	}
}

func TestSessionMiddleware_SameCookie_ReusesStore(t *testing.T) {
	mw := NewSessionMiddleware(newTestManager(t), sessionConfig())

	var stores []*session.Store
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := StoreFromContext(r.Context())
		stores = append(stores, s)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cars", nil))
	cookie := sessionCookie(t, w.Result())

	req := httptest.NewRequest(http.MethodGet, "/drivers", nil)
	req.AddCookie(cookie)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req)

	if len(w2.Result().Cookies()) != 0 {
		t.Error("有効なCookieがある場合は再発行しない")
	}
	if len(stores) != 2 || stores[0] != stores[1] {
		t.Error("同じブラウザセッションには同じStoreが割り当てられるべき")
	}
}

func TestSessionMiddleware_TamperedCookie_IssuesNewSession(t *testing.T) {
	mw := NewSessionMiddleware(newTestManager(t), sessionConfig())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/cars", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "forged-value"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if c := sessionCookie(t, w.Result()); c.Value == "forged-value" {
		t.Error("改ざんされたCookieを受け入れてはならない")
	}
}

func TestSessionMiddleware_ProviderError_Returns500(t *testing.T) {
	mw := NewSessionMiddleware(failingProvider{}, sessionConfig())
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cars", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// --- RequireSession ---

func TestRequireSession_Anonymous_RedirectsToLogin(t *testing.T) {
	mw := NewSessionMiddleware(newTestManager(t), sessionConfig())
	handler := mw(RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fuel", nil))

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/login?next=%2Ffuel&reason=required" {
		t.Errorf("Location = %q", loc)
	}
}

func TestRequireSession_Authenticated_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	store := session.NewStore(session.NamespacedStorage(repository.NewMemoryStorageRepo(), "b1"), session.WithLogger(newTestLogger(&buf)))
	ctx := context.Background()
	if err := store.Login(ctx, signedToken(t, time.Now().Add(time.Hour), "ADMIN"), "alice"); err != nil {
		t.Fatalf("Login がエラーを返した: %v", err)
	}

	called := false
	handler := RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodGet, "/cars", nil)
	req = req.WithContext(ContextWithStore(req.Context(), store))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Error("認証済みリクエストは通過するべき")
	}
}

func TestRequireSession_ExpiredDuringSession_RedirectsAndClears(t *testing.T) {
	var buf bytes.Buffer
	now := time.Now()
	clock := now
	store := session.NewStore(
		session.NamespacedStorage(repository.NewMemoryStorageRepo(), "b2"),
		session.WithLogger(newTestLogger(&buf)),
		session.WithClock(func() time.Time { return clock }),
	)
	if err := store.Login(context.Background(), signedToken(t, now.Add(time.Minute), "USER"), "bob"); err != nil {
		t.Fatalf("Login がエラーを返した: %v", err)
	}
	clock = now.Add(2 * time.Minute)

	handler := RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))
	req := httptest.NewRequest(http.MethodGet, "/cars", nil)
	req = req.WithContext(ContextWithStore(req.Context(), store))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want 303", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/login?next=%2Fcars&reason=expired" {
		t.Errorf("Location = %q", loc)
	}
	if _, ok := store.Identity(); ok {
		t.Error("期限切れ検出後はAnonymousになるべき")
	}
}
