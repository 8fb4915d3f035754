package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// サポートするストレージドライバー
var storageDrivers = []string{"memory", "postgres", "sqlite"}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendBaseURL       string        `env:"BACKEND_BASE_URL"`
	BackendTimeout       time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	BackendAdminPrefix   string        `env:"BACKEND_ADMIN_PREFIX" envDefault:"/admin"`
	BackendPublicOnly    bool          `env:"BACKEND_PUBLIC_ONLY" envDefault:"false"`
	ExpiredRedirectDelay time.Duration `env:"EXPIRED_REDIRECT_DELAY" envDefault:"1500ms"`

	// Storage
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"memory"`
	DatabaseURL   string `env:"DATABASE_URL"`

	// Session
	SessionSecret    string `env:"SESSION_SECRET"`
	SessionMaxAge    int    `env:"SESSION_MAX_AGE" envDefault:"86400"`
	SessionCacheSize int    `env:"SESSION_CACHE_SIZE" envDefault:"1024"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitLogin   int `env:"RATE_LIMIT_LOGIN" envDefault:"10"`

	// Cleanup
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値の形式が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var missing []string
	if cfg.BackendBaseURL == "" {
		missing = append(missing, "BACKEND_BASE_URL")
	}
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if cfg.StorageDriver != "memory" && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	return &cfg, nil
}

func (c *Config) validate() error {
	if !slices.Contains(storageDrivers, c.StorageDriver) {
		return fmt.Errorf("STORAGE_DRIVER must be one of %v, got %q", storageDrivers, c.StorageDriver)
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	positives := []struct {
		name  string
		value int64
	}{
		{"BACKEND_TIMEOUT", int64(c.BackendTimeout)},
		{"SESSION_MAX_AGE", int64(c.SessionMaxAge)},
		{"SESSION_CACHE_SIZE", int64(c.SessionCacheSize)},
		{"RATE_LIMIT_GENERAL", int64(c.RateLimitGeneral)},
		{"RATE_LIMIT_LOGIN", int64(c.RateLimitLogin)},
		{"CLEANUP_INTERVAL", int64(c.CleanupInterval)},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}
	if c.ExpiredRedirectDelay < 0 {
		return fmt.Errorf("EXPIRED_REDIRECT_DELAY must not be negative")
	}
	return nil
}
