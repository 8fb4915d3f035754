package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newCSRFHandler(called *bool, token *string) http.Handler {
	mw := NewCSRFMiddleware(CSRFConfig{})
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		if token != nil {
			*token = CSRFTokenFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRFMiddleware_SafeMethods_PassThroughWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			w := httptest.NewRecorder()
			newCSRFHandler(&called, nil).ServeHTTP(w, httptest.NewRequest(method, "/cars", nil))

			if !called {
				t.Fatalf("handler should have been called for %s request", method)
			}
		})
	}
}

func TestCSRFMiddleware_GETRequest_SetsCookieAndContextToken(t *testing.T) {
	called := false
	var token string
	w := httptest.NewRecorder()
	newCSRFHandler(&called, &token).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cars/new", nil))

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("CSRFトークンCookieが設定されていない")
	}
	if len(cookie.Value) != 64 {
		t.Errorf("token length = %d, want 64", len(cookie.Value))
	}
	if token != cookie.Value {
		t.Errorf("context token = %q, want cookie value", token)
	}
}

func TestCSRFMiddleware_GETRequest_ExistingCookie_DoesNotReplace(t *testing.T) {
	called := false
	var token string
	req := httptest.NewRequest(http.MethodGet, "/cars", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	newCSRFHandler(&called, &token).ServeHTTP(w, req)

	if len(w.Result().Cookies()) != 0 {
		t.Error("既存Cookieがある場合は再発行しない")
	}
	if token != "existing" {
		t.Errorf("context token = %q, want existing", token)
	}
}

func TestCSRFMiddleware_POSTRequest_FormField_PassesThrough(t *testing.T) {
	called := false
	form := url.Values{CSRFFormField: {"tok"}, "brand": {"Volvo"}}
	req := httptest.NewRequest(http.MethodPost, "/cars/new", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	newCSRFHandler(&called, nil).ServeHTTP(w, req)

	if !called || w.Code != http.StatusOK {
		t.Errorf("called = %v, status = %d", called, w.Code)
	}
}

func TestCSRFMiddleware_POSTRequest_Header_PassesThrough(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set(csrfHeaderName, "tok")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	newCSRFHandler(&called, nil).ServeHTTP(w, req)

	if !called {
		t.Error("ヘッダーのトークンでも通過するべき")
	}
}

func TestCSRFMiddleware_StateMutatingRequests_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		cookie    string
		submitted string
	}{
		{"no cookie", http.MethodPost, "", "tok"},
		{"no submitted token", http.MethodPost, "tok", ""},
		{"mismatch", http.MethodPost, "tok", "other"},
		{"PUT without token", http.MethodPut, "", ""},
		{"DELETE without token", http.MethodDelete, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			req := httptest.NewRequest(tt.method, "/cars/new", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.submitted != "" {
				req.Header.Set(csrfHeaderName, tt.submitted)
			}
			w := httptest.NewRecorder()
			newCSRFHandler(&called, nil).ServeHTTP(w, req)

			if called {
				t.Error("handler should not be called")
			}
			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403", w.Code)
			}
		})
	}
}
