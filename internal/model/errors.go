// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, backend, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthMissing      = "AUTH_MISSING"
	ErrCodeAuthExpired      = "AUTH_EXPIRED"
	ErrCodeAuthDenied       = "AUTH_DENIED"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeServerFault      = "SERVER_FAULT"
	ErrCodeUnreachable      = "UNREACHABLE"
	ErrCodeSignInFailed     = "SIGN_IN_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewAuthMissingError は操作時点でトークンが存在しない場合のエラーを生成する。
func NewAuthMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthMissing,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Please sign in to continue.",
	}
}

// NewAuthExpiredError はセッション期限切れエラーを生成する。
func NewAuthExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthExpired,
		Message:  "Your session has expired.",
		Category: "auth",
		Action:   "Redirecting to the login page. Please sign in again.",
	}
}

// NewAuthDeniedError は権限不足エラーを生成する。
// operationには拒否された操作名（例: "update vehicle"）を指定する。
func NewAuthDeniedError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthDenied,
		Message:  fmt.Sprintf("Access denied: you are not allowed to %s.", operation),
		Category: "auth",
		Action:   "Ask an administrator for the required privileges.",
	}
}

// NewNotFoundError は読み取り対象のリソースが存在しない場合のエラーを生成する。
func NewNotFoundError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("Resource not found (%s).", operation),
		Category: "backend",
		Action:   "Check the identifier and go back to the list.",
	}
}

// NewEndpointUnavailableError は書き込み先のエンドポイントが存在しない場合のエラーを生成する。
// バックエンドの配備構成の誤りで発生する。
func NewEndpointUnavailableError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("Endpoint unavailable (%s).", operation),
		Category: "system",
		Action:   "Contact the operator: the backend endpoint is not configured.",
	}
}

// NewValidationFailedError は入力検証エラーを生成する。
func NewValidationFailedError(message string) *APIError {
	if message == "" {
		message = "Some fields are invalid."
	}
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "Correct the highlighted fields and submit again.",
	}
}

// NewServerFaultError はバックエンドの5xxエラーを生成する。
func NewServerFaultError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeServerFault,
		Message:  fmt.Sprintf("The server failed to %s.", operation),
		Category: "backend",
		Action:   "Please wait a moment and try again.",
	}
}

// NewUnreachableError はバックエンドから応答が得られなかった場合のエラーを生成する。
func NewUnreachableError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeUnreachable,
		Message:  fmt.Sprintf("Could not reach the server to %s.", operation),
		Category: "system",
		Action:   "Check your connection and try again.",
	}
}

// NewSignInFailedError はサインイン失敗エラーを生成する。
// ユーザー名とパスワードのどちらが誤っているかは区別しない。
func NewSignInFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSignInFailed,
		Message:  "Invalid username or password.",
		Category: "auth",
		Action:   "Check your credentials and try again.",
	}
}

// NewInternalError はコンソール内部のエラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}
