// Package gateway は認可付きリクエストの共通契約を実装する。
//
// すべてのレコードフォームはGateway.Doを経由してバックエンドを呼び出す。
// Doはセッションストアからトークンを取得してBearerヘッダーを付与し、
// 応答のステータスコードをKindに分類する。401の場合のみセッションを破棄し、
// ログイン画面への遅延遷移を指示する。リトライやバックオフは行わない。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/fleetadmin/internal/session"
)

const (
	// maxResponseSize はバックエンド応答ボディの読み取り上限（4MB）。
	maxResponseSize = 4 << 20
	// DefaultExpiredRedirectDelay はセッション期限切れメッセージを表示してから
	// ログイン画面へ遷移するまでの待ち時間。
	DefaultExpiredRedirectDelay = 1500 * time.Millisecond
	// DefaultTimeout はバックエンド呼び出しのタイムアウト。
	DefaultTimeout = 10 * time.Second
)

// TokenSource はゲートウェイがトークンを取得するセッションストアのインターフェース。
// session.Storeが満たす。
type TokenSource interface {
	// Token は有効なトークンを返す。未ログインならsession.ErrNoToken、
	// 期限切れならsession.ErrTokenExpiredを返す。
	Token(ctx context.Context) (string, error)
	// Expire はバックエンドがトークンを拒否した場合にセッションを破棄する。
	Expire(ctx context.Context) error
}

// Recorder はゲートウェイの結果をメトリクスとして記録するインターフェース。
type Recorder interface {
	RecordOutcome(operation string, outcome string)
	RecordBackendStatus(statusCode int)
	RecordBackendLatency(duration time.Duration)
}

// Sanitizer はサーバーが返したメッセージを表示可能なプレーンテキストに変換する。
type Sanitizer interface {
	SanitizeText(raw string) string
}

// Operation は1回のバックエンド呼び出しを表す。
type Operation struct {
	Name   string // ユーザーに表示する操作名。例: "update vehicle"
	Method string
	Path   string // ベースURLからの相対パス。例: "/admin/cars/3"
	Body   any    // nilの場合はボディなし
	Read   bool   // 読み取り操作かどうか
}

// Gateway はバックエンドREST APIへの認可付きリクエストを発行する。
type Gateway struct {
	baseURL       *url.URL
	httpClient    *http.Client
	logger        *slog.Logger
	recorder      Recorder
	sanitizer     Sanitizer
	redirectDelay time.Duration
}

// Option はGatewayの生成オプション。
type Option func(*Gateway)

// WithRecorder はメトリクス記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithSanitizer はサーバーメッセージのサニタイザーを設定する。
func WithSanitizer(s Sanitizer) Option {
	return func(g *Gateway) { g.sanitizer = s }
}

// WithExpiredRedirectDelay は期限切れ時の遷移待ち時間を設定する。
func WithExpiredRedirectDelay(d time.Duration) Option {
	return func(g *Gateway) { g.redirectDelay = d }
}

// New はGatewayを生成する。httpClientがnilの場合はDefaultTimeoutのクライアントを使用する。
func New(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend base URL: %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		baseURL:       u,
		httpClient:    httpClient,
		logger:        logger,
		redirectDelay: DefaultExpiredRedirectDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Do は認可付きリクエストを発行し、成功時は応答JSONをoutにデコードする。
//
//  1. トークンが無ければネットワーク呼び出しを行わずKindAuthMissingを返す。
//  2. Bearerヘッダーを付与して送信する。
//  3. 401ならsrc.Expireを1回だけ呼び、KindAuthExpiredと遅延遷移を返す。
//     403以降の失敗ではセッションに触れない。
func (g *Gateway) Do(ctx context.Context, src TokenSource, op Operation, out any) error {
	tok, err := src.Token(ctx)
	if err != nil {
		gwErr := &Error{
			Kind:      KindAuthMissing,
			Operation: op.Name,
			Read:      op.Read,
			Redirect:  &Navigation{Path: LoginURL("", ReasonRequired)},
			Err:       err,
		}
		if errors.Is(err, session.ErrTokenExpired) {
			gwErr.Kind = KindAuthExpired
			gwErr.Redirect = &Navigation{Path: LoginURL("", ReasonExpired), Delay: g.redirectDelay}
		}
		g.record(op, string(gwErr.Kind))
		g.logger.Warn("トークンが無いためバックエンド呼び出しを中止しました",
			slog.String("operation", op.Name),
			slog.String("kind", string(gwErr.Kind)),
		)
		return gwErr
	}

	err = g.send(ctx, op, tok, out)

	var gwErr *Error
	if errors.As(err, &gwErr) && gwErr.Kind == KindAuthExpired {
		if expireErr := src.Expire(ctx); expireErr != nil {
			g.logger.Error("期限切れセッションの破棄に失敗しました",
				slog.String("operation", op.Name),
				slog.String("error", expireErr.Error()),
			)
		}
		gwErr.Redirect = &Navigation{Path: LoginURL("", ReasonExpired), Delay: g.redirectDelay}
	}
	return err
}

// DoPublic はトークンを必要としない呼び出し（サインイン・サインアップ）を発行する。
// 分類はDoと同じだが、セッションには一切触れず、遷移も指示しない。
func (g *Gateway) DoPublic(ctx context.Context, op Operation, out any) error {
	return g.send(ctx, op, "", out)
}

// send はリクエストを送信して応答を分類する。tokが空の場合はAuthorizationヘッダーを付けない。
func (g *Gateway) send(ctx context.Context, op Operation, tok string, out any) error {
	req, err := g.newRequest(ctx, op, tok)
	if err != nil {
		g.record(op, "request_error")
		return fmt.Errorf("failed to build request for %s: %w", op.Name, err)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if g.recorder != nil {
		g.recorder.RecordBackendLatency(time.Since(start))
	}
	if err != nil {
		g.record(op, string(KindUnreachable))
		g.logger.Error("バックエンドに到達できませんでした",
			slog.String("operation", op.Name),
			slog.String("method", op.Method),
			slog.String("path", op.Path),
			slog.Bool("timeout", isTimeout(err)),
			slog.String("error", err.Error()),
		)
		return &Error{Kind: KindUnreachable, Operation: op.Name, Read: op.Read, Err: err}
	}
	defer resp.Body.Close()

	if g.recorder != nil {
		g.recorder.RecordBackendStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		g.record(op, string(KindUnreachable))
		return &Error{Kind: KindUnreachable, Operation: op.Name, Status: resp.StatusCode, Read: op.Read, Err: err}
	}

	kind, ok := Classify(resp.StatusCode)
	if ok {
		if out != nil && len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				g.record(op, string(KindServerFault))
				g.logger.Error("バックエンドのレスポンスのパースに失敗しました",
					slog.String("operation", op.Name),
					slog.String("error", err.Error()),
				)
				return &Error{Kind: KindServerFault, Operation: op.Name, Status: resp.StatusCode, Read: op.Read, Err: err}
			}
		}
		g.record(op, "ok")
		return nil
	}

	gwErr := &Error{
		Kind:      kind,
		Operation: op.Name,
		Status:    resp.StatusCode,
		Read:      op.Read,
	}
	gwErr.Details, gwErr.FieldErrors = g.parseErrorBody(body)

	g.record(op, string(kind))
	level := slog.LevelWarn
	if kind == KindServerFault {
		level = slog.LevelError
	}
	g.logger.Log(ctx, level, "バックエンドがエラーステータスを返しました",
		slog.String("operation", op.Name),
		slog.String("method", op.Method),
		slog.String("path", op.Path),
		slog.Int("status", resp.StatusCode),
		slog.String("kind", string(kind)),
	)
	return gwErr
}

func (g *Gateway) newRequest(ctx context.Context, op Operation, tok string) (*http.Request, error) {
	target := g.baseURL.JoinPath(op.Path)

	var body io.Reader
	if op.Body != nil {
		b, err := json.Marshal(op.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fleetadmin/1.0")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// errorBody はバックエンドのエラー応答として受け付ける形式。
// {"message": "...", "errors": {"field": "msg"}} と
// {"message": "...", "errors": [{"field": "...", "message": "..."}]} の両方に対応する。
type errorBody struct {
	Message     string          `json:"message"`
	Error       string          `json:"error"`
	Errors      json.RawMessage `json:"errors"`
	FieldErrors []fieldError    `json:"fieldErrors"`
}

type fieldError struct {
	Field          string `json:"field"`
	Message        string `json:"message"`
	DefaultMessage string `json:"defaultMessage"`
}

// parseErrorBody はエラー応答からメッセージとフィールドメッセージを取り出す。
// JSONでない場合はボディ全体をメッセージとして扱う。
func (g *Gateway) parseErrorBody(body []byte) (string, map[string]string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", nil
	}

	var eb errorBody
	if err := json.Unmarshal(trimmed, &eb); err != nil {
		return g.clean(truncate(string(trimmed), 300)), nil
	}

	details := eb.Message
	if details == "" {
		details = eb.Error
	}

	fields := make(map[string]string)
	for _, fe := range eb.FieldErrors {
		fields[fe.Field] = firstNonEmpty(fe.Message, fe.DefaultMessage)
	}
	if len(eb.Errors) > 0 {
		var asMap map[string]string
		var asList []fieldError
		if err := json.Unmarshal(eb.Errors, &asMap); err == nil {
			for k, v := range asMap {
				fields[k] = v
			}
		} else if err := json.Unmarshal(eb.Errors, &asList); err == nil {
			for _, fe := range asList {
				fields[fe.Field] = firstNonEmpty(fe.Message, fe.DefaultMessage)
			}
		}
	}

	for k, v := range fields {
		fields[k] = g.clean(v)
	}
	if len(fields) == 0 {
		fields = nil
	}
	return g.clean(details), fields
}

func (g *Gateway) clean(s string) string {
	if g.sanitizer == nil {
		return s
	}
	return g.sanitizer.SanitizeText(s)
}

func (g *Gateway) record(op Operation, outcome string) {
	if g.recorder != nil {
		g.recorder.RecordOutcome(op.Name, outcome)
	}
}

// isTimeout はエラーがタイムアウトによるものかどうかを判定する。
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
