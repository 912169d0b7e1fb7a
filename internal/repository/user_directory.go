package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/dailytrio/internal/model"
)

// PostgresUserDirectory はPostgreSQLのusersテーブルを参照するUserDirectory。
type PostgresUserDirectory struct {
	db *sql.DB
}

// NewPostgresUserDirectory はPostgresUserDirectoryを生成する。
func NewPostgresUserDirectory(db *sql.DB) *PostgresUserDirectory {
	return &PostgresUserDirectory{db: db}
}

// ListActiveUserIDs はアクティブなユーザーIDを昇順で返す。
func (r *PostgresUserDirectory) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	return queryUserIDs(ctx, r.db, `SELECT id FROM users WHERE is_active ORDER BY id`)
}

// ResolveMembers はユーザーIDから表示用情報を引く。
func (r *PostgresUserDirectory) ResolveMembers(ctx context.Context, userIDs []string) (map[string]model.Member, error) {
	if len(userIDs) == 0 {
		return map[string]model.Member{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, display_name FROM users WHERE id = ANY($1)`,
		pq.Array(userIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve members: %w", err)
	}
	return scanMembers(rows)
}

// SQLiteUserDirectory はSQLiteのusersテーブルを参照するUserDirectory。
type SQLiteUserDirectory struct {
	db *sql.DB
}

// NewSQLiteUserDirectory はSQLiteUserDirectoryを生成する。
func NewSQLiteUserDirectory(db *sql.DB) *SQLiteUserDirectory {
	return &SQLiteUserDirectory{db: db}
}

// ListActiveUserIDs はアクティブなユーザーIDを昇順で返す。
func (r *SQLiteUserDirectory) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	return queryUserIDs(ctx, r.db, `SELECT id FROM users WHERE is_active = 1 ORDER BY id`)
}

// ResolveMembers はユーザーIDから表示用情報を引く。
func (r *SQLiteUserDirectory) ResolveMembers(ctx context.Context, userIDs []string) (map[string]model.Member, error) {
	if len(userIDs) == 0 {
		return map[string]model.Member{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, display_name FROM users WHERE id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve members: %w", err)
	}
	return scanMembers(rows)
}

func queryUserIDs(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return ids, nil
}

func scanMembers(rows *sql.Rows) (map[string]model.Member, error) {
	defer rows.Close()

	members := make(map[string]model.Member)
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.UserID, &m.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members[m.UserID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}
