// Package store は、データの永続化機能を提供します。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stsysd/studyflow/model"
)

// ストアのキー
const (
	KeyAssignments = "assignments"
	KeyClasses     = "studyflow-classes"
	KeyQueue       = "offlineQueue"
	prefixPref     = "pref:"
)

// DefaultQuota はストアの既定の容量上限です。
const DefaultQuota int64 = 10 << 20

// Store は課題・クラス・オフラインキュー・設定値の保存と取得を行うインターフェースです。
// すべてのコレクションは全件単位で読み書きします。
type Store interface {
	// GetAssignments はすべての課題を取得します。
	GetAssignments(ctx context.Context) ([]*model.Assignment, error)
	// SetAssignments はすべての課題を置き換えます。
	SetAssignments(ctx context.Context, assignments []*model.Assignment) error
	// GetClasses はすべてのクラスを取得します。
	GetClasses(ctx context.Context) ([]*model.Class, error)
	// SetClasses はすべてのクラスを置き換えます。
	SetClasses(ctx context.Context, classes []*model.Class) error
	// GetQueue はオフラインキューを取得します。
	GetQueue(ctx context.Context) ([]model.QueuedAction, error)
	// SetQueue はオフラインキューを置き換えます。
	SetQueue(ctx context.Context, queue []model.QueuedAction) error
	// GetPreference は設定値を取得します。
	GetPreference(ctx context.Context, name string) (string, bool, error)
	// SetPreference は設定値を保存します。
	SetPreference(ctx context.Context, name, value string) error
	// Close はストアを閉じます。
	Close() error
}

// Backend は文字列キーと文字列値のフラットなキーバリューストアです。
type Backend interface {
	// Get はキーの値を取得します。キーが存在しない場合はfalseを返します。
	Get(ctx context.Context, key string) (string, bool, error)
	// Set はキーに値を保存します。
	Set(ctx context.Context, key, value string) error
	// Delete はキーを削除します。
	Delete(ctx context.Context, key string) error
	// Size は保存されているキーと値の合計バイト数を返します。
	Size(ctx context.Context) (int64, error)
	// Close はバックエンドの接続を閉じます。
	Close() error
}

// KVStore はBackendの上にStoreを実装します。値はJSONで保存します。
type KVStore struct {
	backend Backend
	quota   int64
}

// Option はKVStoreの設定を変更します。
type Option func(*KVStore)

// WithQuota は容量上限を設定します。0以下の場合は上限なしです。
func WithQuota(bytes int64) Option {
	return func(s *KVStore) {
		s.quota = bytes
	}
}

// NewKVStore は新しいKVStoreを作成します。
func NewKVStore(backend Backend, opts ...Option) *KVStore {
	s := &KVStore{backend: backend, quota: DefaultQuota}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAssignments はすべての課題を取得します。
func (s *KVStore) GetAssignments(ctx context.Context) ([]*model.Assignment, error) {
	assignments := []*model.Assignment{}
	if err := s.load(ctx, KeyAssignments, &assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

// SetAssignments はすべての課題を置き換えます。
func (s *KVStore) SetAssignments(ctx context.Context, assignments []*model.Assignment) error {
	if assignments == nil {
		assignments = []*model.Assignment{}
	}
	return s.save(ctx, KeyAssignments, assignments)
}

// GetClasses はすべてのクラスを取得します。
func (s *KVStore) GetClasses(ctx context.Context) ([]*model.Class, error) {
	classes := []*model.Class{}
	if err := s.load(ctx, KeyClasses, &classes); err != nil {
		return nil, err
	}
	return classes, nil
}

// SetClasses はすべてのクラスを置き換えます。
func (s *KVStore) SetClasses(ctx context.Context, classes []*model.Class) error {
	if classes == nil {
		classes = []*model.Class{}
	}
	return s.save(ctx, KeyClasses, classes)
}

// GetQueue はオフラインキューを取得します。
func (s *KVStore) GetQueue(ctx context.Context) ([]model.QueuedAction, error) {
	queue := []model.QueuedAction{}
	if err := s.load(ctx, KeyQueue, &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

// SetQueue はオフラインキューを置き換えます。空のキューはキーごと削除します。
func (s *KVStore) SetQueue(ctx context.Context, queue []model.QueuedAction) error {
	if len(queue) == 0 {
		if err := s.backend.Delete(ctx, KeyQueue); err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}
		return nil
	}
	return s.save(ctx, KeyQueue, queue)
}

// GetPreference は設定値を取得します。
func (s *KVStore) GetPreference(ctx context.Context, name string) (string, bool, error) {
	v, ok, err := s.backend.Get(ctx, prefixPref+name)
	if err != nil {
		return "", false, fmt.Errorf("failed to get preference %s: %w", name, err)
	}
	return v, ok, nil
}

// SetPreference は設定値を保存します。
func (s *KVStore) SetPreference(ctx context.Context, name, value string) error {
	return s.put(ctx, prefixPref+name, value)
}

// Close はバックエンドを閉じます。
func (s *KVStore) Close() error {
	return s.backend.Close()
}

// load はキーの値をvにデコードします。キーが存在しない場合はvを変更しません。
func (s *KVStore) load(ctx context.Context, key string, v any) error {
	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.put(ctx, key, string(data))
}

// put は容量上限を確認してから値を書き込みます。
func (s *KVStore) put(ctx context.Context, key, value string) error {
	if s.quota > 0 {
		size, err := s.backend.Size(ctx)
		if err != nil {
			return fmt.Errorf("failed to measure store size: %w", err)
		}
		old, ok, err := s.backend.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to get %s: %w", key, err)
		}
		next := size + int64(len(key)+len(value))
		if ok {
			next -= int64(len(key) + len(old))
		}
		if next > s.quota {
			return fmt.Errorf("failed to set %s (%d > %d bytes): %w", key, next, s.quota, model.ErrQuotaExceeded)
		}
	}
	if err := s.backend.Set(ctx, key, value); err != nil {
		if errors.Is(err, model.ErrQuotaExceeded) {
			return err
		}
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
