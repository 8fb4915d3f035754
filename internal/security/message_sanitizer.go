// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer はバックエンドが返したエラーメッセージからHTMLを取り除き、
// 画面にプレーンテキストとして表示できる形にする。
// BackendGuard はバックエンドのベースURLを検証し、必要に応じてSSRF防止付きの
// HTTPクライアントを生成する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxMessageLength はサニタイズ後のメッセージの最大文字数。
const maxMessageLength = 500

// MessageSanitizer はサーバーメッセージのサニタイザー。
// bluemondayのStrictPolicyで全タグを除去する。スレッドセーフ。
type MessageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerを生成する。
func NewMessageSanitizer() *MessageSanitizer {
	return &MessageSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はHTMLタグを除去したプレーンテキストを返す。
// エンティティはデコードし（テンプレート側で再度エスケープされる）、
// 連続する空白は1つにまとめ、長すぎるメッセージは切り詰める。
// 同一入力に対して常に同一出力を返す。
func (s *MessageSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > maxMessageLength {
		runes := []rune(text)
		text = string(runes[:maxMessageLength]) + "…"
	}
	return text
}
