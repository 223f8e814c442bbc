// Package db は、SQLiteバックエンドのスキーマとクエリを提供します。
package db

//go:generate go tool sqlc generate -f ../sqlc.yaml

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed schema/*.sql
var embedMigrations embed.FS

// Migrate はデータベースに対してマイグレーションを実行します。
func Migrate(ctx context.Context, conn *sql.DB) error {
	// 書き込み中の読み取りをブロックしないようにWALを有効化
	if _, err := conn.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}

	schema, err := fs.Sub(embedMigrations, "schema")
	if err != nil {
		return fmt.Errorf("failed to open embedded schema: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, schema)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	// マイグレーションを実行
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
