package session

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Repository はブラウザセッションIDで名前空間を分けたキー・値ストレージ。
// repositoryパッケージの各実装（PostgreSQL, SQLite, メモリ）が満たす。
type Repository interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string) error
	Delete(ctx context.Context, namespace string, keys ...string) error
}

// namespacedStorage はRepositoryの1名前空間をStorageとして見せるアダプタ。
type namespacedStorage struct {
	repo      Repository
	namespace string
}

func (n namespacedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	return n.repo.Get(ctx, n.namespace, key)
}

func (n namespacedStorage) Set(ctx context.Context, key, value string) error {
	return n.repo.Set(ctx, n.namespace, key, value)
}

func (n namespacedStorage) Delete(ctx context.Context, keys ...string) error {
	return n.repo.Delete(ctx, n.namespace, keys...)
}

// NamespacedStorage はrepoのnamespaceをStorageとして返す。
func NamespacedStorage(repo Repository, namespace string) Storage {
	return namespacedStorage{repo: repo, namespace: namespace}
}

// Manager はブラウザセッションIDごとにStoreを1つだけ保持する。
// 生成したStoreはLRUキャッシュに保持し、初回アクセス時にInitializeで状態を復元する。
// 復元はIDごとに1回だけ行い、別のIDの取得を待たせない。
type Manager struct {
	repo   Repository
	opts   []Option
	logger *slog.Logger

	loading singleflight.Group
	stores  *lru.Cache[string, *Store]
}

// NewManager はManagerを生成する。sizeはキャッシュするStoreの最大数。
// optsは生成する全Storeに適用される。
func NewManager(repo Repository, size int, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, *Store](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:   repo,
		opts:   append([]Option{WithLogger(logger)}, opts...),
		logger: logger,
		stores: cache,
	}, nil
}

// Get はブラウザセッションIDに対応するStoreを返す。
// キャッシュに無い場合は生成してInitializeし、キャッシュに登録する。
func (m *Manager) Get(ctx context.Context, browserSessionID string) (*Store, error) {
	if s, ok := m.stores.Get(browserSessionID); ok {
		return s, nil
	}

	v, err, _ := m.loading.Do(browserSessionID, func() (any, error) {
		if s, ok := m.stores.Get(browserSessionID); ok {
			return s, nil
		}

		opts := append([]Option{}, m.opts...)
		opts = append(opts, WithLogger(m.logger.With(slog.String("browser_session", shortID(browserSessionID)))))
		s := NewStore(NamespacedStorage(m.repo, browserSessionID), opts...)
		if err := s.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize session store: %w", err)
		}

		m.stores.Add(browserSessionID, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// Len はキャッシュ中のStore数を返す。テストおよびメトリクス用。
func (m *Manager) Len() int {
	return m.stores.Len()
}

// shortID はログ出力用にIDの先頭8文字のみを返す。
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
