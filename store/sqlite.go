package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stsysd/studyflow/db"
)

// MigrateFunc はデータベースのスキーマを準備する関数です。
type MigrateFunc func(ctx context.Context, conn *sql.DB) error

// SQLiteBackend はSQLiteを使用したBackendの実装です。
type SQLiteBackend struct {
	conn    *sql.DB
	queries *db.Queries
}

// NewSQLiteBackend は新しいSQLiteBackendを作成します。
func NewSQLiteBackend(ctx context.Context, dataDir string, migrate MigrateFunc) (*SQLiteBackend, error) {
	// データディレクトリの作成（存在しない場合）
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "studyflow.db")
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteBackend{
		conn:    conn,
		queries: db.New(conn),
	}, nil
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.queries.GetValue(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLiteBackend) Set(ctx context.Context, key, value string) error {
	return s.queries.UpsertValue(ctx, db.UpsertValueParams{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	return s.queries.DeleteValue(ctx, key)
}

func (s *SQLiteBackend) Size(ctx context.Context) (int64, error) {
	return s.queries.TotalSize(ctx)
}

// Keys は保存されているすべてのキーを返します。
func (s *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	return s.queries.ListKeys(ctx)
}

// Close はデータベース接続を閉じます。
func (s *SQLiteBackend) Close() error {
	return s.conn.Close()
}
