package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteStorageRepo はSQLiteを使用したストレージリポジトリ。
// updated_atはUnix秒で保存する。
type SQLiteStorageRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorageRepo はSQLiteStorageRepoを生成する。
func NewSQLiteStorageRepo(db *sql.DB) *SQLiteStorageRepo {
	return &SQLiteStorageRepo{db: db, now: time.Now}
}

// Get は値を取得する。
func (r *SQLiteStorageRepo) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM console_storage WHERE namespace = ? AND key = ?`,
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
func (r *SQLiteStorageRepo) Set(ctx context.Context, namespace, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO console_storage (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key)
		 DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, r.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to set storage value: %w", err)
	}
	return nil
}

// Delete は指定したキーを削除する。
func (r *SQLiteStorageRepo) Delete(ctx context.Context, namespace string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, 0, len(keys)+1)
	args = append(args, namespace)
	for _, k := range keys {
		args = append(args, k)
	}

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM console_storage WHERE namespace = ? AND key IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to delete storage values: %w", err)
	}
	return nil
}

// DeleteIdle はbeforeより前に更新されたエントリを削除する。
func (r *SQLiteStorageRepo) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM console_storage WHERE updated_at < ?`,
		before.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle storage: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ StorageRepository = (*SQLiteStorageRepo)(nil)
