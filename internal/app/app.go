package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/fleetadmin/internal/auth"
	"github.com/hitoshi/fleetadmin/internal/backend"
	"github.com/hitoshi/fleetadmin/internal/config"
	"github.com/hitoshi/fleetadmin/internal/database"
	"github.com/hitoshi/fleetadmin/internal/gateway"
	"github.com/hitoshi/fleetadmin/internal/handler"
	"github.com/hitoshi/fleetadmin/internal/logger"
	"github.com/hitoshi/fleetadmin/internal/metrics"
	"github.com/hitoshi/fleetadmin/internal/middleware"
	"github.com/hitoshi/fleetadmin/internal/model"
	"github.com/hitoshi/fleetadmin/internal/record"
	"github.com/hitoshi/fleetadmin/internal/repository"
	"github.com/hitoshi/fleetadmin/internal/security"
	"github.com/hitoshi/fleetadmin/internal/session"
	"github.com/hitoshi/fleetadmin/internal/view"
	"github.com/hitoshi/fleetadmin/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込んでログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("backend", cfg.BackendBaseURL),
		slog.String("storage", cfg.StorageDriver),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// storage はセッションストレージとその接続を保持する。
type storage struct {
	repo repository.StorageRepository
	db   *sql.DB // memoryドライバーの場合はnil
}

// openStorage はSTORAGE_DRIVERに応じたストレージリポジトリを生成する。
func openStorage(cfg *config.Config) (*storage, error) {
	if cfg.StorageDriver == database.DriverMemory {
		slog.Warn("in-memory session storage: sessions are lost on restart")
		return &storage{repo: repository.NewMemoryStorageRepo()}, nil
	}

	db, err := database.Open(cfg.StorageDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established", slog.String("driver", cfg.StorageDriver))

	st := &storage{db: db}
	if cfg.StorageDriver == database.DriverSQLite {
		st.repo = repository.NewSQLiteStorageRepo(db)
	} else {
		st.repo = repository.NewPostgresStorageRepo(db)
	}
	return st, nil
}

// healthChecker はストレージの疎通確認先を返す。memoryの場合はnil。
func (s *storage) healthChecker() handler.HealthChecker {
	if s.db == nil {
		return nil
	}
	return s.db
}

func (s *storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// newBackendClient はバックエンドAPIクライアントを構築する。
func newBackendClient(cfg *config.Config, recorder gateway.Recorder) (*backend.Client, error) {
	guard := security.NewBackendGuard(cfg.BackendPublicOnly)
	if err := guard.ValidateBaseURL(cfg.BackendBaseURL); err != nil {
		return nil, fmt.Errorf("invalid BACKEND_BASE_URL: %w", err)
	}
	httpClient, err := guard.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend HTTP client: %w", err)
	}

	gw, err := gateway.New(cfg.BackendBaseURL, httpClient, slog.Default(),
		gateway.WithRecorder(recorder),
		gateway.WithSanitizer(security.NewMessageSanitizer()),
		gateway.WithExpiredRedirectDelay(cfg.ExpiredRedirectDelay),
	)
	if err != nil {
		return nil, err
	}
	return backend.NewClient(gw, cfg.BackendAdminPrefix, slog.Default()), nil
}

// newCleanupJob はSESSION_MAX_AGEを保持期間とするクリーンアップジョブを生成する。
func newCleanupJob(cfg *config.Config, st *storage, recorder cleanup.Recorder) *cleanup.CleanupJob {
	job := cleanup.NewCleanupJob(st.repo, recorder, slog.Default())
	job.MaxAge = time.Duration(cfg.SessionMaxAge) * time.Second
	return job
}

// runServe は管理コンソールのHTTPサーバーを起動する。
// ストレージを開き、全依存関係をワイヤリングし、クリーンアップジョブとHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. ストレージ
	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. バックエンドとセッション
	client, err := newBackendClient(cfg, collector)
	if err != nil {
		return err
	}
	manager, err := session.NewManager(st.repo, cfg.SessionCacheSize, slog.Default(),
		session.WithLogger(slog.Default()),
		session.WithTransitionHook(func(from, to model.SessionState, reason string) {
			collector.RecordSessionTransition(string(from), string(to), reason)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	renderer, err := view.New(slog.Default())
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:   slog.Default(),
		Renderer: renderer,
		Sessions: manager,
		Session: middleware.SessionConfig{
			Secret:       []byte(cfg.SessionSecret),
			MaxAge:       cfg.SessionMaxAge,
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:   rateLimiter,
		AuthService:   auth.NewService(client, collector, slog.Default()),
		RecordService: record.NewService(client, slog.Default()),
		Metrics:       metrics.Handler(reg),
		Health:        st.healthChecker(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 5. 放置セッションのクリーンアップをバックグラウンドで実行
	go newCleanupJob(cfg, st, collector).Start(ctx, cfg.CleanupInterval)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// バックエンドのタイムアウトより長くする
		WriteTimeout: cfg.BackendTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("console server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down console server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("console server stopped gracefully")
	return nil
}

// runMigrate はセッションストレージのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。memoryドライバーでは何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.StorageDriver == database.DriverMemory {
		slog.Info("in-memory storage has no schema; nothing to migrate")
		return nil
	}

	slog.Info("running database migrations",
		slog.String("driver", cfg.StorageDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	db, err := database.Open(cfg.StorageDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// RunMigrationsは接続を閉じる
	if err := database.RunMigrations(db, cfg.StorageDriver); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runCleanup は放置セッションの削除を1回だけ実行する。cronなど外部スケジューラ用。
func runCleanup(cfg *config.Config) error {
	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return newCleanupJob(cfg, st, nil).Run(ctx)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
