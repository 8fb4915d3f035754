package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	updatedAt time.Time
}

// MemoryStorageRepo はプロセス内メモリを使用したストレージリポジトリ。
// プロセスの再起動で内容は失われる。
type MemoryStorageRepo struct {
	mu   sync.RWMutex
	data map[string]map[string]memoryEntry
	now  func() time.Time
}

// NewMemoryStorageRepo はMemoryStorageRepoを生成する。
func NewMemoryStorageRepo() *MemoryStorageRepo {
	return &MemoryStorageRepo{
		data: make(map[string]map[string]memoryEntry),
		now:  time.Now,
	}
}

// Get は値を取得する。
func (r *MemoryStorageRepo) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.data[namespace][key]
	return e.value, ok, nil
}

// Set は値を保存する。
func (r *MemoryStorageRepo) Set(ctx context.Context, namespace, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.data[namespace]
	if !ok {
		ns = make(map[string]memoryEntry)
		r.data[namespace] = ns
	}
	ns[key] = memoryEntry{value: value, updatedAt: r.now()}
	return nil
}

// Delete は指定したキーを削除する。空になった名前空間も削除する。
func (r *MemoryStorageRepo) Delete(ctx context.Context, namespace string, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.data[namespace]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(ns, k)
	}
	if len(ns) == 0 {
		delete(r.data, namespace)
	}
	return nil
}

// DeleteIdle はbeforeより前に更新されたエントリを削除する。
func (r *MemoryStorageRepo) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for nsName, ns := range r.data {
		for k, e := range ns {
			if e.updatedAt.Before(before) {
				delete(ns, k)
				n++
			}
		}
		if len(ns) == 0 {
			delete(r.data, nsName)
		}
	}
	return n, nil
}

// compile-time interface check
var _ StorageRepository = (*MemoryStorageRepo)(nil)
