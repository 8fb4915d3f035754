package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestClaims_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{name: "未来", expiresAt: now.Add(time.Second), want: false},
		{name: "ちょうど現在", expiresAt: now, want: true},
		{name: "過去", expiresAt: now.Add(-time.Second), want: true},
		{name: "ゼロ値", expiresAt: time.Time{}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Claims{ExpiresAt: tt.expiresAt}
			if got := c.ExpiredAt(now); got != tt.want {
				t.Errorf("ExpiredAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFieldErrors_CollectsAllViolations(t *testing.T) {
	merr := AppendFieldError(nil, "username", "Username is required")
	merr = AppendFieldError(merr, "password", "Password is required")

	err := fmt.Errorf("sign in: %w", merr.ErrorOrNil())

	want := map[string]string{
		"username": "Username is required",
		"password": "Password is required",
	}
	if diff := cmp.Diff(want, FieldErrors(err)); diff != "" {
		t.Errorf("FieldErrors mismatch (-want +got):\n%s", diff)
	}
	if got := merr.Error(); got != "Username is required; Password is required" {
		t.Errorf("Error() = %q", got)
	}
}

func TestFieldErrors_NonValidationError(t *testing.T) {
	if got := FieldErrors(errors.New("boom")); got != nil {
		t.Errorf("FieldErrors = %v, want nil", got)
	}
	if got := FieldErrors(nil); got != nil {
		t.Errorf("FieldErrors(nil) = %v, want nil", got)
	}
}

func TestAPIError_MessagesNameTheOperation(t *testing.T) {
	tests := []struct {
		err  *APIError
		code string
		msg  string
	}{
		{NewAuthDeniedError("update vehicle"), ErrCodeAuthDenied, "Access denied: you are not allowed to update vehicle."},
		{NewServerFaultError("list drivers"), ErrCodeServerFault, "The server failed to list drivers."},
		{NewUnreachableError("sign in"), ErrCodeUnreachable, "Could not reach the server to sign in."},
		{NewAuthExpiredError(), ErrCodeAuthExpired, "Your session has expired."},
	}
	for _, tt := range tests {
		if tt.err.Code != tt.code || tt.err.Message != tt.msg {
			t.Errorf("got [%s] %q, want [%s] %q", tt.err.Code, tt.err.Message, tt.code, tt.msg)
		}
		if tt.err.Action == "" {
			t.Errorf("%s: Action should not be empty", tt.code)
		}
		if got := tt.err.Error(); got != fmt.Sprintf("[%s] %s", tt.code, tt.msg) {
			t.Errorf("Error() = %q", got)
		}
	}
}
