package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/fleetadmin/internal/model"
)

// Kind はゲートウェイが返すエラーの分類。
type Kind string

const (
	// KindAuthMissing は操作時点でトークンが存在しないことを示す。
	KindAuthMissing Kind = "auth_missing"
	// KindAuthExpired はトークンが期限切れ（ローカル検出または401）であることを示す。
	KindAuthExpired Kind = "auth_expired"
	// KindAuthDenied はトークンは有効だが権限が不足している（403）ことを示す。
	KindAuthDenied Kind = "auth_denied"
	// KindValidationFailed は入力検証エラー（ローカルまたは400）を示す。
	KindValidationFailed Kind = "validation_failed"
	// KindNotFound は404を示す。
	KindNotFound Kind = "not_found"
	// KindServerFault は5xxを示す。
	KindServerFault Kind = "server_fault"
	// KindUnreachable は応答が得られなかった（ネットワーク障害・タイムアウト）ことを示す。
	KindUnreachable Kind = "unreachable"
)

// LoginPath はログイン画面のパス。
const LoginPath = "/login"

// ログイン画面に表示する案内の種別。
const (
	ReasonRequired = "required"
	ReasonExpired  = "expired"
)

// LoginURL はログイン画面のURLを返す。
// nextはログイン後に戻るパス、reasonはログイン画面に表示する案内の種別。
func LoginURL(next, reason string) string {
	q := url.Values{}
	if next != "" && next != "/" {
		q.Set("next", next)
	}
	if reason != "" {
		q.Set("reason", reason)
	}
	if len(q) == 0 {
		return LoginPath
	}
	return LoginPath + "?" + q.Encode()
}

// Classify はHTTPステータスコードをエラー分類に変換する。
// 2xxの場合はokにtrueを返す。
func Classify(statusCode int) (kind Kind, ok bool) {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "", true
	case statusCode == http.StatusUnauthorized:
		return KindAuthExpired, false
	case statusCode == http.StatusForbidden:
		return KindAuthDenied, false
	case statusCode == http.StatusNotFound:
		return KindNotFound, false
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return KindValidationFailed, false
	case statusCode >= 500:
		return KindServerFault, false
	default:
		// 想定外の4xx/3xxは一時的な失敗と同様に扱い、セッションには触れない
		return KindServerFault, false
	}
}

// Navigation はエラー表示後に行う画面遷移を表す。
// Delayが0の場合は即時に遷移する。
type Navigation struct {
	Path  string
	Delay time.Duration
}

// Error は認可付きリクエストの失敗を表す。
type Error struct {
	Kind      Kind
	Operation string // 例: "update vehicle"
	Status    int    // HTTPステータス。応答が無い場合は0
	Read      bool   // 読み取り操作かどうか（404のメッセージを切り替える）
	// Details はサーバーが返したメッセージ（サニタイズ済み）
	Details string
	// FieldErrors はサーバーが返したフィールドごとのメッセージ（サニタイズ済み）
	FieldErrors map[string]string
	// Redirect は遷移先。AuthMissing/AuthExpiredの場合のみ設定される
	Redirect *Navigation
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Operation, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// TerminatesSession はこのエラーによってセッションがAnonymousへ遷移したかどうかを返す。
func (e *Error) TerminatesSession() bool {
	return e.Kind == KindAuthMissing || e.Kind == KindAuthExpired
}

// APIError はユーザーに表示するメッセージを返す。
func (e *Error) APIError() *model.APIError {
	switch e.Kind {
	case KindAuthMissing:
		return model.NewAuthMissingError()
	case KindAuthExpired:
		return model.NewAuthExpiredError()
	case KindAuthDenied:
		return model.NewAuthDeniedError(e.Operation)
	case KindNotFound:
		if e.Read {
			return model.NewNotFoundError(e.Operation)
		}
		return model.NewEndpointUnavailableError(e.Operation)
	case KindValidationFailed:
		return model.NewValidationFailedError(e.validationMessage())
	case KindUnreachable:
		return model.NewUnreachableError(e.Operation)
	default:
		return model.NewServerFaultError(e.Operation)
	}
}

// validationMessage はサーバーのメッセージとフィールドメッセージを1つの文にまとめる。
func (e *Error) validationMessage() string {
	parts := make([]string, 0, len(e.FieldErrors)+1)
	if e.Details != "" {
		parts = append(parts, e.Details)
	}
	fields := make([]string, 0, len(e.FieldErrors))
	for f := range e.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.FieldErrors[f]))
	}
	return strings.Join(parts, "; ")
}
