// Package repository はセッションストアの永続化ストレージを提供する。
//
// ストレージは名前空間（ブラウザセッションID）ごとの文字列キー・値で、
// memory・postgres・sqliteの3つの実装を持つ。
package repository

import (
	"context"
	"time"
)

// StorageRepository は名前空間付きキー・値ストレージのインターフェース。
// session.Repositoryを満たす。
type StorageRepository interface {
	// Get は値を返す。キーが存在しない場合はfalseを返す。
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	// Set は値を保存する。既存の値は上書きする。
	Set(ctx context.Context, namespace, key, value string) error
	// Delete は指定したキーを削除する。存在しないキーは無視する。
	Delete(ctx context.Context, namespace string, keys ...string) error
	// DeleteIdle はbefore以降に書き込みの無いエントリを削除し、削除件数を返す。
	DeleteIdle(ctx context.Context, before time.Time) (int64, error)
}
