package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/fleetadmin/internal/gateway"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

type staticSource string

func (s staticSource) Token(ctx context.Context) (string, error) { return string(s), nil }
func (s staticSource) Expire(ctx context.Context) error         { return nil }

var vehicles = Resource{Path: "/cars", Singular: "vehicle", Plural: "vehicles"}

func newTestClient(t *testing.T, handler http.HandlerFunc, prefix string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	gw, err := gateway.New(server.URL, server.Client(), logger)
	if err != nil {
		t.Fatalf("gateway.New がエラーを返した: %v", err)
	}
	return NewClient(gw, prefix, logger)
}

func TestClient_SignIn_ReturnsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/sign-in" {
			t.Errorf("request = %s %s, want POST /auth/sign-in", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["username"] != "alice" || body["password"] != "secret" {
			t.Errorf("body = %v", body)
		}
		w.Write([]byte(`{"token":"tok-alice"}`))
	}, "")

	tok, err := c.SignIn(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("SignIn がエラーを返した: %v", err)
	}
	if tok != "tok-alice" {
		t.Errorf("token = %q, want tok-alice", tok)
	}
}

func TestClient_SignIn_AccessTokenField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"accessToken":"tok-2"}`))
	}, "")

	tok, err := c.SignIn(context.Background(), "bob", "pw")
	if err != nil {
		t.Fatalf("SignIn がエラーを返した: %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("token = %q, want tok-2", tok)
	}
}

func TestClient_SignIn_MissingToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}, "")

	if _, err := c.SignIn(context.Background(), "bob", "pw"); !errors.Is(err, ErrMissingToken) {
		t.Errorf("err = %v, want ErrMissingToken", err)
	}
}

func TestClient_SignIn_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, "")

	_, err := c.SignIn(context.Background(), "bob", "wrong")
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) || gwErr.Status != http.StatusUnauthorized {
		t.Errorf("err = %v, want gateway error with status 401", err)
	}
}

func TestClient_SignUp_NoTokenIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/sign-up" {
			t.Errorf("path = %s, want /auth/sign-up", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
	}, "")

	tok, err := c.SignUp(context.Background(), SignUpRequest{Username: "carol", Email: "c@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("SignUp がエラーを返した: %v", err)
	}
	if tok != "" {
		t.Errorf("token = %q, want empty", tok)
	}
}

func TestClient_List_ArrayAndPage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"配列", `[{"id":1},{"id":2}]`, 2},
		{"ページ", `{"content":[{"id":1}],"totalElements":1}`, 1},
		{"空", `[]`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/admin/cars" {
					t.Errorf("path = %s, want /admin/cars", r.URL.Path)
				}
				w.Write([]byte(tt.body))
			}, "")

			recs, err := c.List(context.Background(), staticSource("t"), vehicles)
			if err != nil {
				t.Fatalf("List がエラーを返した: %v", err)
			}
			if len(recs) != tt.want {
				t.Errorf("len = %d, want %d", len(recs), tt.want)
			}
		})
	}
}

func TestClient_GetCreateUpdate_Paths(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		w.Write([]byte(`{"id":7,"brand":"Volvo"}`))
	}, "/api/v1/admin/")

	ctx := context.Background()
	rec, err := c.Get(ctx, staticSource("t"), vehicles, "7")
	if err != nil {
		t.Fatalf("Get がエラーを返した: %v", err)
	}
	if rec["brand"] != "Volvo" {
		t.Errorf("brand = %v", rec["brand"])
	}
	if _, err := c.Create(ctx, staticSource("t"), vehicles, map[string]any{"brand": "Volvo"}); err != nil {
		t.Fatalf("Create がエラーを返した: %v", err)
	}
	if _, err := c.Update(ctx, staticSource("t"), vehicles, "7", map[string]any{"brand": "Volvo"}); err != nil {
		t.Fatalf("Update がエラーを返した: %v", err)
	}

	want := []string{
		"GET /api/v1/admin/cars/7",
		"POST /api/v1/admin/cars",
		"PUT /api/v1/admin/cars/7",
	}
	if len(seen) != len(want) {
		t.Fatalf("requests = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("request[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestClient_Update_OperationName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, "")

	_, err := c.Update(context.Background(), staticSource("t"), vehicles, "1", map[string]any{})
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("err = %v, want *gateway.Error", err)
	}
	if gwErr.Operation != "update vehicle" {
		t.Errorf("Operation = %q, want %q", gwErr.Operation, "update vehicle")
	}
}
