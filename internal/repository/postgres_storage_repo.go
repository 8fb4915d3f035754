package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStorageRepo はPostgreSQLを使用したストレージリポジトリ。
type PostgresStorageRepo struct {
	db *sql.DB
}

// NewPostgresStorageRepo はPostgresStorageRepoを生成する。
func NewPostgresStorageRepo(db *sql.DB) *PostgresStorageRepo {
	return &PostgresStorageRepo{db: db}
}

// Get は値を取得する。
func (r *PostgresStorageRepo) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM console_storage WHERE namespace = $1 AND key = $2`,
		namespace, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get storage value: %w", err)
	}
	return value, true, nil
}

// Set は値を保存する。
func (r *PostgresStorageRepo) Set(ctx context.Context, namespace, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO console_storage (namespace, key, value, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key)
		 DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		namespace, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set storage value: %w", err)
	}
	return nil
}

// Delete は指定したキーを削除する。
func (r *PostgresStorageRepo) Delete(ctx context.Context, namespace string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM console_storage WHERE namespace = $1 AND key = ANY($2)`,
		namespace, pq.Array(keys),
	)
	if err != nil {
		return fmt.Errorf("failed to delete storage values: %w", err)
	}
	return nil
}

// DeleteIdle はbeforeより前に更新されたエントリを削除する。
func (r *PostgresStorageRepo) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM console_storage WHERE updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle storage: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ StorageRepository = (*PostgresStorageRepo)(nil)
