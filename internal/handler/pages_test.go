package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/fleetadmin/internal/gateway"
)

func TestStatusFor(t *testing.T) {
	tests := map[gateway.Kind]int{
		gateway.KindAuthMissing:      http.StatusUnauthorized,
		gateway.KindAuthExpired:      http.StatusUnauthorized,
		gateway.KindAuthDenied:       http.StatusForbidden,
		gateway.KindValidationFailed: http.StatusUnprocessableEntity,
		gateway.KindNotFound:         http.StatusNotFound,
		gateway.KindServerFault:      http.StatusBadGateway,
		gateway.KindUnreachable:      http.StatusGatewayTimeout,
	}
	for kind, want := range tests {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"/cars/3/edit":         "/cars/3/edit",
		"":                     "/",
		"cars":                 "/",
		"//evil.example.com":   "/",
		"/\\evil.example.com":  "/",
		"http://evil.example/": "/",
		"/login":               "/",
		"/login?next=%2Fcars":  "/",
	}
	for next, want := range tests {
		if got := safeNext(next); got != want {
			t.Errorf("safeNext(%q) = %q, want %q", next, got, want)
		}
	}
}

func TestLoginReason(t *testing.T) {
	if got := loginReason(gateway.KindAuthMissing); got != gateway.ReasonRequired {
		t.Errorf("loginReason(AuthMissing) = %q", got)
	}
	if got := loginReason(gateway.KindAuthExpired); got != gateway.ReasonExpired {
		t.Errorf("loginReason(AuthExpired) = %q", got)
	}
}

type stubChecker struct{ err error }

func (s stubChecker) PingContext(ctx context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checker    HealthChecker
		wantStatus int
		wantBody   string
	}{
		{name: "チェッカーなし", checker: nil, wantStatus: http.StatusOK, wantBody: `{"status":"ok"}`},
		{name: "疎通成功", checker: stubChecker{}, wantStatus: http.StatusOK, wantBody: `{"status":"ok"}`},
		{name: "疎通失敗", checker: stubChecker{err: errors.New("down")}, wantStatus: http.StatusServiceUnavailable, wantBody: `{"status":"unavailable"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			healthHandler(tt.checker)(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Body.String(); got != tt.wantBody+"\n" {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}
