// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"github.com/hitoshi/fleetadmin/internal/gateway"
	"github.com/hitoshi/fleetadmin/internal/session"
)

const sessionCookieName = "fleetadmin_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	storeContextKey     = contextKey("session_store")
	browserIDContextKey = contextKey("browser_session_id")
)

// StoreProvider はブラウザセッションIDに対応するStoreを返す。
// session.Managerが満たす。
type StoreProvider interface {
	Get(ctx context.Context, browserSessionID string) (*session.Store, error)
}

// SessionConfig はブラウザセッションCookieの設定。
type SessionConfig struct {
	Secret       []byte // 署名鍵（32バイト以上）
	MaxAge       int    // Cookieの有効期間（秒）
	CookieSecure bool
	CookieDomain string
}

// NewSessionMiddleware は署名付きCookieからブラウザセッションIDを読み取り、
// 対応するStoreをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieが無い、または署名が不正な場合は新しいIDを発行する。
func NewSessionMiddleware(provider StoreProvider, config SessionConfig) func(next http.Handler) http.Handler {
	codec := securecookie.New(config.Secret, nil)
	codec.MaxAge(config.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := readBrowserSessionID(r, codec)
			if id == "" {
				id = uuid.NewString()
				encoded, err := codec.Encode(sessionCookieName, id)
				if err != nil {
					slog.Error("セッションCookieの生成に失敗しました",
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookieName,
					Value:    encoded,
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   config.MaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			store, err := provider.Get(r.Context(), id)
			if err != nil {
				slog.Error("セッションストアの取得に失敗しました",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			setLogSubject(r.Context(), store)
			ctx := context.WithValue(r.Context(), browserIDContextKey, id)
			ctx = ContextWithStore(ctx, store)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// readBrowserSessionID は署名を検証したブラウザセッションIDを返す。不正な場合は空文字。
func readBrowserSessionID(r *http.Request, codec *securecookie.SecureCookie) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	var id string
	if err := codec.Decode(sessionCookieName, cookie.Value, &id); err != nil {
		slog.Debug("署名が不正なセッションCookieを無視しました",
			slog.String("error", err.Error()),
		)
		return ""
	}
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}

// RequireSession は認証済みでないリクエストをログイン画面へリダイレクトする。
// 判定のたびにトークンの有効期限を確認し、期限切れの場合はその旨をログイン画面に伝える。
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reason := gateway.ReasonRequired
		if store, ok := StoreFromContext(r.Context()); ok {
			_, err := store.Token(r.Context())
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}
			if errors.Is(err, session.ErrTokenExpired) {
				reason = gateway.ReasonExpired
			}
		}
		http.Redirect(w, r, gateway.LoginURL(r.URL.Path, reason), http.StatusSeeOther)
	})
}

// StoreFromContext はリクエストコンテキストからStoreを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func StoreFromContext(ctx context.Context) (*session.Store, bool) {
	store, ok := ctx.Value(storeContextKey).(*session.Store)
	return store, ok && store != nil
}

// ContextWithStore はコンテキストにStoreを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithStore(ctx context.Context, store *session.Store) context.Context {
	return context.WithValue(ctx, storeContextKey, store)
}

// BrowserSessionIDFromContext はブラウザセッションIDを返す。
func BrowserSessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(browserIDContextKey).(string)
	return id
}

// usernameOf はログ出力用に認証済みユーザー名を返す。
func usernameOf(store *session.Store) string {
	if store == nil {
		return ""
	}
	id, ok := store.Identity()
	if !ok {
		return ""
	}
	return id.Username
}
