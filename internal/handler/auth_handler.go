package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fleetadmin/internal/auth"
	"github.com/hitoshi/fleetadmin/internal/gateway"
	"github.com/hitoshi/fleetadmin/internal/middleware"
	"github.com/hitoshi/fleetadmin/internal/model"
	"github.com/hitoshi/fleetadmin/internal/view"
)

// AuthService は認証ハンドラーが必要とするサービスインターフェース。
type AuthService interface {
	SignIn(ctx context.Context, store auth.SessionStore, username, password string) error
	SignUp(ctx context.Context, store auth.SessionStore, in auth.SignUpInput) (bool, error)
	SignOut(ctx context.Context, store auth.SessionStore) error
}

// ログイン画面に表示する通知（reasonクエリパラメータ）
var loginNotices = map[string]string{
	gateway.ReasonRequired: "Authentication required. Please sign in to continue.",
	gateway.ReasonExpired:  "Your session has expired. Please sign in again.",
	"signed-up":  "Your account has been created. Please sign in.",
	"signed-out": "You have been signed out.",
}

// AuthHandler はサインイン・サインアップ・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	service AuthService
	pages   *pages
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthService, renderer *view.Renderer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		pages:   &pages{renderer: renderer, logger: logger},
	}
}

// LoginPage はログイン画面を表示する。ログイン済みの場合は遷移先へリダイレクトする。
// GET /login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	if store, err := storeFrom(r); err == nil && store.IsValid(r.Context()) {
		http.Redirect(w, r, safeNext(next), http.StatusSeeOther)
		return
	}

	pg := h.pages.page(r, "Sign in", "", view.LoginView{Next: next})
	pg.Notice = loginNotices[r.URL.Query().Get("reason")]
	h.pages.renderer.Render(w, http.StatusOK, view.PageLogin, pg)
}

// Login はユーザー名とパスワードでサインインする。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	store, err := storeFrom(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}

	data := view.LoginView{
		Username: r.PostFormValue("username"),
		Next:     r.PostFormValue("next"),
	}
	err = h.service.SignIn(r.Context(), store, data.Username, r.PostFormValue("password"))
	if err == nil {
		http.Redirect(w, r, safeNext(data.Next), http.StatusSeeOther)
		return
	}

	pg := h.pages.page(r, "Sign in", "", nil)
	status := http.StatusUnprocessableEntity
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
		pg.Error = model.NewSignInFailedError()
	case errors.As(err, &gwErr):
		status = statusFor(gwErr.Kind)
		pg.Error = gwErr.APIError()
	default:
		if data.Errors = model.FieldErrors(err); len(data.Errors) == 0 {
			h.pages.fail(w, r, err)
			return
		}
	}
	pg.Data = data
	h.pages.renderer.Render(w, status, view.PageLogin, pg)
}

// SignUpPage はアカウント登録画面を表示する。
// GET /sign-up
func (h *AuthHandler) SignUpPage(w http.ResponseWriter, r *http.Request) {
	h.pages.renderer.Render(w, http.StatusOK, view.PageSignUp, h.pages.page(r, "Create an account", "", view.SignUpView{}))
}

// SignUp はアカウントを登録する。
// バックエンドがトークンを返した場合はそのままログイン状態で一覧画面へ、
// 返さなかった場合はログイン画面へ遷移する。
// POST /sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	store, err := storeFrom(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}

	in := auth.SignUpInput{
		Username:        r.PostFormValue("username"),
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		PasswordConfirm: r.PostFormValue("passwordConfirm"),
	}
	signedIn, err := h.service.SignUp(r.Context(), store, in)
	if err == nil {
		if signedIn {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, gateway.LoginPath+"?reason=signed-up", http.StatusSeeOther)
		return
	}

	data := view.SignUpView{Username: in.Username, Email: in.Email}
	pg := h.pages.page(r, "Create an account", "", nil)
	status := http.StatusUnprocessableEntity
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		status = statusFor(gwErr.Kind)
		pg.Error = gwErr.APIError()
		data.Errors = gwErr.FieldErrors
	} else if data.Errors = model.FieldErrors(err); len(data.Errors) == 0 {
		h.pages.fail(w, r, err)
		return
	}
	pg.Data = data
	h.pages.renderer.Render(w, status, view.PageSignUp, pg)
}

// Logout はセッションストアを消去してログイン画面へ遷移する。
// POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if store, err := storeFrom(r); err == nil {
		if err := h.service.SignOut(r.Context(), store); err != nil {
			// 消去に失敗してもメモリ上の状態はAnonymousになっている
			h.pages.logger.Error("サインアウトに失敗しました", slog.String("error", err.Error()))
		}
	}
	http.Redirect(w, r, gateway.LoginPath+"?reason=signed-out", http.StatusSeeOther)
}

// sessionResponse は/api/sessionのレスポンス。
type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
}

// Session は現在のブラウザセッションの認証状態を返す。
// GET /api/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	store, err := storeFrom(r)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	var resp sessionResponse
	if store.IsValid(r.Context()) {
		if id, ok := store.Identity(); ok {
			resp = sessionResponse{Authenticated: true, Username: id.Username, Role: id.Role}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
