// Package session はブラウザセッションごとの認証状態（セッションストア）を提供する。
//
// Storeは「誰がログインしているか」の唯一の情報源であり、
// ベアラートークンとユーザー名を永続化ストレージに保存してリロードをまたいで維持する。
// 状態はAnonymousとAuthenticatedの2つのみで、遷移はすべてミューテックスの内側で行う。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/hitoshi/fleetadmin/internal/model"
	"github.com/hitoshi/fleetadmin/internal/token"
)

// 永続化ストレージのキー
const (
	KeyToken    = "token"
	KeyUsername = "username"
)

var (
	// ErrNoToken はトークンが存在しない（未ログイン）場合のエラー。
	ErrNoToken = errors.New("no session token")
	// ErrTokenExpired はトークンの有効期限が切れている場合のエラー。
	ErrTokenExpired = errors.New("session token expired")
	// ErrInvalidToken はトークンを復号できない場合のエラー。
	ErrInvalidToken = errors.New("invalid session token")
)

// Storage はセッションストアが使用する文字列キー・値の永続化ストレージ。
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Decoder はトークン文字列をClaimsに復号する関数。
type Decoder func(raw string) (*model.Claims, error)

// TransitionFunc は状態遷移のたびに1回呼ばれるフック。
type TransitionFunc func(from, to model.SessionState, reason string)

// Store は1ブラウザセッション分の認証状態を保持する。
type Store struct {
	storage      Storage
	decode       Decoder
	now          func() time.Time
	logger       *slog.Logger
	onTransition TransitionFunc

	mu       sync.RWMutex
	token    string
	identity *model.Identity
}

// Option はStoreの生成オプション。
type Option func(*Store)

// WithDecoder はトークンの復号関数を差し替える。
func WithDecoder(d Decoder) Option {
	return func(s *Store) { s.decode = d }
}

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTransitionHook は状態遷移フックを設定する。
func WithTransitionHook(fn TransitionFunc) Option {
	return func(s *Store) { s.onTransition = fn }
}

// NewStore はStoreを生成する。生成直後はAnonymous状態であり、
// 永続化済みの状態を復元するにはInitializeを呼ぶ。
func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		decode:  token.Decode,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize は永続化ストレージからトークンとユーザー名を読み込み、状態を復元する。
// トークンが復号できない場合や期限切れの場合はストレージを消去してAnonymousのままにする。
// 復号失敗は呼び出し元にエラーとして返さない。返すのはストレージのI/Oエラーのみ。
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.storage.Get(ctx, KeyToken)
	if err != nil {
		return fmt.Errorf("failed to read session token: %w", err)
	}
	if !ok || raw == "" {
		s.setAnonymousLocked("no token")
		return nil
	}

	username, _, err := s.storage.Get(ctx, KeyUsername)
	if err != nil {
		return fmt.Errorf("failed to read session username: %w", err)
	}

	claims, err := s.decode(raw)
	if err != nil {
		s.logger.Warn("復号できないセッショントークンを破棄しました",
			slog.String("error", err.Error()),
		)
		return s.clearLocked(ctx, "invalid token")
	}
	if claims.ExpiredAt(s.now()) {
		return s.clearLocked(ctx, "token expired")
	}

	s.token = raw
	s.setIdentityLocked(&model.Identity{Username: username, Role: claims.Role}, "restored")
	return nil
}

// Login はトークンとユーザー名を無条件に永続化してから、トークンを復号する。
// 永続化に失敗した場合は書き込み済みの値を削除してAnonymousに戻し、エラーを返す。
// 復号に失敗した場合、またはトークンが既に期限切れの場合はLogoutと同等の処理を行い、
// ErrInvalidTokenまたはErrTokenExpiredを返す。
func (s *Store) Login(ctx context.Context, raw, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.Set(ctx, KeyToken, raw); err != nil {
		return s.abortLoginLocked(ctx, fmt.Errorf("failed to persist session token: %w", err))
	}
	if err := s.storage.Set(ctx, KeyUsername, username); err != nil {
		return s.abortLoginLocked(ctx, fmt.Errorf("failed to persist session username: %w", err))
	}

	claims, err := s.decode(raw)
	if err != nil {
		if clearErr := s.clearLocked(ctx, "invalid token"); clearErr != nil {
			return clearErr
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiredAt(s.now()) {
		if clearErr := s.clearLocked(ctx, "token expired"); clearErr != nil {
			return clearErr
		}
		return ErrTokenExpired
	}

	s.token = raw
	s.setIdentityLocked(&model.Identity{Username: username, Role: claims.Role}, "login")
	return nil
}

// Logout はストレージのトークンとユーザー名を削除し、identityを消去する。
// 未ログイン状態で呼んでもエラーにならない（冪等）。
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx, "logout")
}

// Expire はバックエンドの401応答などでトークン失効が判明した場合に呼ぶ。
// 処理内容はLogoutと同じだが、遷移理由を区別して記録する。
func (s *Store) Expire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked(ctx, "expired by backend")
}

// IsValid は期限切れでないトークンを保持しているかどうかを返す。
// 呼び出しのたびにトークンを復号し直す。期限切れを検出した場合はAnonymousへ遷移する。
func (s *Store) IsValid(ctx context.Context) bool {
	_, err := s.Token(ctx)
	return err == nil
}

// Token は有効なトークンを返す。
// トークンが無い場合はErrNoToken、期限切れの場合はストレージを消去してErrTokenExpiredを返す。
func (s *Store) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	raw := s.token
	s.mu.RUnlock()

	if raw == "" {
		return "", ErrNoToken
	}

	claims, err := s.decode(raw)
	if err == nil && !claims.ExpiredAt(s.now()) {
		return raw, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// ロック解放中に別のリクエストがLogin/Logoutした場合は再判定しない
	if s.token != raw {
		if s.token == "" {
			return "", ErrNoToken
		}
		return s.token, nil
	}
	if clearErr := s.clearLocked(ctx, "token expired"); clearErr != nil {
		s.logger.Error("期限切れセッションの破棄に失敗しました",
			slog.String("error", clearErr.Error()),
		)
	}
	return "", ErrTokenExpired
}

// Identity は現在のidentityを返す。未ログインの場合はfalseを返す。
func (s *Store) Identity() (model.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return model.Identity{}, false
	}
	return *s.identity, true
}

// State は現在の状態を返す。
func (s *Store) State() model.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return model.SessionAnonymous
	}
	return model.SessionAuthenticated
}

// abortLoginLocked は永続化に失敗したLoginを取り消し、Anonymousに戻す。
// 書き込み済みのキーも削除する。s.muを保持して呼ぶこと。
func (s *Store) abortLoginLocked(ctx context.Context, err error) error {
	if clearErr := s.clearLocked(ctx, "login aborted"); clearErr != nil {
		return multierror.Append(err, clearErr)
	}
	return err
}

// clearLocked はストレージとメモリ上の状態を消去する。s.muを保持して呼ぶこと。
func (s *Store) clearLocked(ctx context.Context, reason string) error {
	s.setAnonymousLocked(reason)
	if err := s.storage.Delete(ctx, KeyToken, KeyUsername); err != nil {
		return fmt.Errorf("failed to clear session storage: %w", err)
	}
	return nil
}

func (s *Store) setAnonymousLocked(reason string) {
	s.token = ""
	if s.identity == nil {
		return
	}
	s.identity = nil
	s.transition(model.SessionAuthenticated, model.SessionAnonymous, reason)
}

func (s *Store) setIdentityLocked(id *model.Identity, reason string) {
	wasAnonymous := s.identity == nil
	s.identity = id
	if wasAnonymous {
		s.transition(model.SessionAnonymous, model.SessionAuthenticated, reason)
	}
}

func (s *Store) transition(from, to model.SessionState, reason string) {
	s.logger.Info("セッション状態が変化しました",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason),
	)
	if s.onTransition != nil {
		s.onTransition(from, to, reason)
	}
}
