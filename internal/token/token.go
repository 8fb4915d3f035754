// Package token はバックエンドが発行したベアラートークン（JWT）のペイロードを復号する。
//
// コンソールは署名を検証しない。署名の検証はバックエンドの責務であり、
// コンソールが必要とするのは有効期限とロールの表示・ガード用の値のみである。
package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/fleetadmin/internal/model"
)

var (
	// ErrMalformed はトークンがJWTとして解釈できない場合のエラー。
	ErrMalformed = errors.New("malformed token")
	// ErrMissingExpiry はexpクレームを持たないトークンのエラー。
	ErrMissingExpiry = errors.New("token has no exp claim")
)

// payload はトークンのペイロードのうちコンソールが参照するクレーム。
type payload struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Decode はトークン文字列を署名検証なしで復号し、Claimsを返す。
// 期限切れの判定は行わない（呼び出し元がClaims.ExpiredAtで判定する）。
func Decode(raw string) (*model.Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMalformed
	}

	var p payload
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if p.ExpiresAt == nil {
		return nil, ErrMissingExpiry
	}

	return &model.Claims{
		Subject:   p.Subject,
		Role:      p.Role,
		ExpiresAt: p.ExpiresAt.Time,
	}, nil
}
