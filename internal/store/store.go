// Package store はクライアント側の永続状態（ブラウザのローカルストレージ相当）を提供する
//
// 値はすべて文字列で、論理名のキーで保存する。
package store

import (
	"context"
	"sync"
)

// 永続化するキー
const (
	KeySelectedCamera   = "selectedCameraId"
	KeySidebarCollapsed = "sidebarCollapsed"
)

// Store はキーと文字列値の永続ストア
type Store interface {
	// Get は値を返す。キーが存在しない場合は ok が false
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set は値を保存する
	Set(ctx context.Context, key, value string) error
	// Delete は値を削除する。存在しないキーはエラーにしない
	Delete(ctx context.Context, key string) error
}

// MemoryStore はプロセス内だけで値を保持する Store 実装
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore は空の MemoryStore を作成する
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get は値を返す
func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set は値を保存する
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Delete は値を削除する
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
