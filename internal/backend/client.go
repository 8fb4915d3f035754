// Package backend はフリート管理バックエンドのREST APIクライアントを提供する。
// すべての呼び出しはgateway.Gatewayを経由し、エラー分類はゲートウェイに委ねる。
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/hitoshi/fleetadmin/internal/gateway"
)

// DefaultAdminPrefix は管理APIのパスプレフィックス。
const DefaultAdminPrefix = "/admin"

// ErrMissingToken はサインイン成功応答にトークンが含まれていない場合のエラー。
var ErrMissingToken = errors.New("backend response did not include a token")

// Doer はゲートウェイのインターフェース。テスト時にモックに差し替え可能。
type Doer interface {
	Do(ctx context.Context, src gateway.TokenSource, op gateway.Operation, out any) error
	DoPublic(ctx context.Context, op gateway.Operation, out any) error
}

// Resource はバックエンドのレコードコレクションを表す。
type Resource struct {
	Path     string // 管理プレフィックスからの相対パス。例: "/cars"
	Singular string // 操作名に使う単数形。例: "vehicle"
	Plural   string // 操作名に使う複数形。例: "vehicles"
}

// Record はバックエンドが返すレコード。キーはサーバーのJSONフィールド名。
type Record map[string]any

// Client はバックエンドAPIのクライアント。
type Client struct {
	gw          Doer
	adminPrefix string
	logger      *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(gw Doer, adminPrefix string, logger *slog.Logger) *Client {
	if adminPrefix == "" {
		adminPrefix = DefaultAdminPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		gw:          gw,
		adminPrefix: "/" + strings.Trim(adminPrefix, "/"),
		logger:      logger,
	}
}

// SignUpRequest は新規アカウント登録のリクエスト。
type SignUpRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authResponse はサインイン・サインアップの応答。
// バックエンドによってtokenとaccessTokenのどちらかが使われる。
type authResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"accessToken"`
}

func (r authResponse) bearer() string {
	if r.Token != "" {
		return r.Token
	}
	return r.AccessToken
}

// SignIn はユーザー名とパスワードでサインインし、ベアラートークンを返す。
func (c *Client) SignIn(ctx context.Context, username, password string) (string, error) {
	var resp authResponse
	op := gateway.Operation{
		Name:   "sign in",
		Method: http.MethodPost,
		Path:   "/auth/sign-in",
		Body:   signInRequest{Username: username, Password: password},
	}
	if err := c.gw.DoPublic(ctx, op, &resp); err != nil {
		return "", err
	}
	if resp.bearer() == "" {
		c.logger.Error("サインイン応答にトークンが含まれていません")
		return "", ErrMissingToken
	}
	return resp.bearer(), nil
}

// SignUp は新規アカウントを登録する。
// 応答にトークンが含まれていればそれを返す。含まれていない場合は空文字列を返す。
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (string, error) {
	var resp authResponse
	op := gateway.Operation{
		Name:   "sign up",
		Method: http.MethodPost,
		Path:   "/auth/sign-up",
		Body:   req,
	}
	if err := c.gw.DoPublic(ctx, op, &resp); err != nil {
		return "", err
	}
	return resp.bearer(), nil
}

// List はコレクションの全レコードを取得する。
// 応答は配列、またはページング形式（{"content": [...]}）のどちらでもよい。
func (c *Client) List(ctx context.Context, src gateway.TokenSource, res Resource) ([]Record, error) {
	var raw json.RawMessage
	op := gateway.Operation{
		Name:   "list " + res.Plural,
		Method: http.MethodGet,
		Path:   c.collectionPath(res),
		Read:   true,
	}
	if err := c.gw.Do(ctx, src, op, &raw); err != nil {
		return nil, err
	}
	return decodeList(raw)
}

// Get は1件のレコードを取得する。
func (c *Client) Get(ctx context.Context, src gateway.TokenSource, res Resource, id string) (Record, error) {
	var rec Record
	op := gateway.Operation{
		Name:   "load " + res.Singular,
		Method: http.MethodGet,
		Path:   c.itemPath(res, id),
		Read:   true,
	}
	if err := c.gw.Do(ctx, src, op, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}

// Create はPOSTでレコードを作成する。
func (c *Client) Create(ctx context.Context, src gateway.TokenSource, res Resource, payload map[string]any) (Record, error) {
	var rec Record
	op := gateway.Operation{
		Name:   "create " + res.Singular,
		Method: http.MethodPost,
		Path:   c.collectionPath(res),
		Body:   payload,
	}
	if err := c.gw.Do(ctx, src, op, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update はPUTでレコードを更新する。
func (c *Client) Update(ctx context.Context, src gateway.TokenSource, res Resource, id string, payload map[string]any) (Record, error) {
	var rec Record
	op := gateway.Operation{
		Name:   "update " + res.Singular,
		Method: http.MethodPut,
		Path:   c.itemPath(res, id),
		Body:   payload,
	}
	if err := c.gw.Do(ctx, src, op, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Client) collectionPath(res Resource) string {
	return path.Join(c.adminPrefix, res.Path)
}

func (c *Client) itemPath(res Resource, id string) string {
	return c.collectionPath(res) + "/" + url.PathEscape(id)
}

// decodeList は配列またはページング形式の応答をレコード一覧に変換する。
func decodeList(raw json.RawMessage) ([]Record, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []Record{}, nil
	}

	var list []Record
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var page struct {
		Content []Record `json:"content"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("unexpected list response: %w", err)
	}
	if page.Content == nil {
		return []Record{}, nil
	}
	return page.Content, nil
}
