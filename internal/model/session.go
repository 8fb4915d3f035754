package model

import "time"

// Claims はベアラートークンから復号したペイロードを表す。
// 署名検証は行わず、表示とガードに必要な項目のみを保持する。
type Claims struct {
	Subject   string
	Role      string
	ExpiresAt time.Time
}

// ExpiredAt はnow時点でトークンが期限切れかどうかを返す。
// expiresAt <= now の場合は期限切れとみなす。
func (c *Claims) ExpiredAt(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Identity はログイン中のユーザーを表す。
// usernameはログイン時に入力された値、roleはトークンのclaimsから取得する。
type Identity struct {
	Username string
	Role     string
}

// SessionState はセッションストアの状態を表す。
type SessionState string

const (
	// SessionAnonymous は未ログイン状態。
	SessionAnonymous SessionState = "anonymous"
	// SessionAuthenticated はログイン済み状態。
	SessionAuthenticated SessionState = "authenticated"
)
