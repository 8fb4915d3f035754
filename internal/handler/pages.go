// Package handler はコンソール画面のHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/fleetadmin/internal/gateway"
	"github.com/hitoshi/fleetadmin/internal/middleware"
	"github.com/hitoshi/fleetadmin/internal/model"
	"github.com/hitoshi/fleetadmin/internal/session"
	"github.com/hitoshi/fleetadmin/internal/view"
)

// pages はハンドラー共通の画面描画処理。
type pages struct {
	renderer *view.Renderer
	logger   *slog.Logger
}

// page はレイアウト共通データを組み立てる。ログイン中の場合はナビゲーションを含める。
func (p *pages) page(r *http.Request, title, active string, data any) *view.Page {
	pg := &view.Page{
		Title:     title,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Data:      data,
	}
	if store, ok := middleware.StoreFromContext(r.Context()); ok {
		if id, ok := store.Identity(); ok {
			pg.Identity = &id
			pg.Nav = view.Navigation(active)
		}
	}
	return pg
}

// fail は処理の失敗を画面に反映する。
// セッションが終了した場合はログイン画面へ遷移させ、それ以外はエラー画面を表示する。
func (p *pages) fail(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Error("リクエストの処理に失敗しました",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		pg := p.page(r, "Error", "", nil)
		pg.Error = model.NewInternalError()
		p.renderer.Render(w, http.StatusInternalServerError, view.PageError, pg)
		return
	}

	if gwErr.Redirect != nil {
		nav := *gwErr.Redirect
		nav.Path = gateway.LoginURL(r.URL.Path, loginReason(gwErr.Kind))
		if nav.Delay <= 0 {
			http.Redirect(w, r, nav.Path, http.StatusSeeOther)
			return
		}
		p.renderer.Render(w, statusFor(gwErr.Kind), view.PageError, view.SessionExpiredPage(gwErr.APIError(), nav))
		return
	}

	pg := p.page(r, "Error", "", nil)
	pg.Error = gwErr.APIError()
	p.renderer.Render(w, statusFor(gwErr.Kind), view.PageError, pg)
}

// statusFor はエラー種別に対応するコンソールのHTTPステータスを返す。
func statusFor(kind gateway.Kind) int {
	switch kind {
	case gateway.KindAuthMissing, gateway.KindAuthExpired:
		return http.StatusUnauthorized
	case gateway.KindAuthDenied:
		return http.StatusForbidden
	case gateway.KindValidationFailed:
		return http.StatusUnprocessableEntity
	case gateway.KindNotFound:
		return http.StatusNotFound
	case gateway.KindServerFault:
		return http.StatusBadGateway
	case gateway.KindUnreachable:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// storeFrom はリクエストのセッションストアを返す。
func storeFrom(r *http.Request) (*session.Store, error) {
	store, ok := middleware.StoreFromContext(r.Context())
	if !ok {
		return nil, errors.New("session store not found in request context")
	}
	return store, nil
}

// loginReason はセッション終了の種別に対応するログイン画面の案内を返す。
func loginReason(kind gateway.Kind) string {
	if kind == gateway.KindAuthExpired {
		return gateway.ReasonExpired
	}
	return gateway.ReasonRequired
}

// safeNext はログイン後の遷移先を同一オリジンのパスに限定する。
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	if next == gateway.LoginPath || strings.HasPrefix(next, gateway.LoginPath+"?") {
		return "/"
	}
	return next
}
