package db

import (
	"context"
)

const deleteValue = `-- name: DeleteValue :exec
DELETE FROM kv
WHERE key = ?
`

func (q *Queries) DeleteValue(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, deleteValue, key)
	return err
}

const getValue = `-- name: GetValue :one
SELECT value FROM kv
WHERE key = ?
`

func (q *Queries) GetValue(ctx context.Context, key string) (string, error) {
	row := q.db.QueryRowContext(ctx, getValue, key)
	var value string
	err := row.Scan(&value)
	return value, err
}

const listKeys = `-- name: ListKeys :many
SELECT key FROM kv
ORDER BY key
`

func (q *Queries) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		items = append(items, key)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const totalSize = `-- name: TotalSize :one
SELECT CAST(COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) AS INTEGER) AS total
FROM kv
`

func (q *Queries) TotalSize(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, totalSize)
	var total int64
	err := row.Scan(&total)
	return total, err
}

const upsertValue = `-- name: UpsertValue :exec
INSERT INTO kv (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    value = excluded.value,
    updated_at = excluded.updated_at
`

type UpsertValueParams struct {
	Key       string
	Value     string
	UpdatedAt string
}

func (q *Queries) UpsertValue(ctx context.Context, arg UpsertValueParams) error {
	_, err := q.db.ExecContext(ctx, upsertValue, arg.Key, arg.Value, arg.UpdatedAt)
	return err
}
