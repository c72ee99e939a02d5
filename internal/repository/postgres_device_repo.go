package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/dealmoa/internal/model"
)

// PostgresDeviceRepo はPostgreSQLを使用したデバイスリポジトリ。
type PostgresDeviceRepo struct {
	db *sql.DB
}

// NewPostgresDeviceRepo はPostgresDeviceRepoを生成する。
func NewPostgresDeviceRepo(db *sql.DB) *PostgresDeviceRepo {
	return &PostgresDeviceRepo{db: db}
}

// Register はデバイストークンを登録する。
func (r *PostgresDeviceRepo) Register(ctx context.Context, d *model.UserDevice) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_devices (id, user_id, device_token, platform, is_active, last_used_at, created_at)
		 VALUES ($1, $2, $3, $4, true, $5, $6)
		 ON CONFLICT (device_token) DO UPDATE SET
		     user_id = EXCLUDED.user_id,
		     platform = EXCLUDED.platform,
		     is_active = true,
		     last_used_at = EXCLUDED.last_used_at`,
		d.ID, d.UserID, d.DeviceToken, d.Platform, d.LastUsedAt, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("デバイスの登録に失敗しました: %w", err)
	}
	return nil
}

// ListActiveTokens はユーザーの有効なデバイストークンを返す。
func (r *PostgresDeviceRepo) ListActiveTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device_token FROM user_devices
		 WHERE user_id = $1 AND is_active
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("デバイストークンの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("デバイストークンのスキャンに失敗しました: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("デバイストークンの走査に失敗しました: %w", err)
	}
	return tokens, nil
}

// Deactivate は指定トークンを無効化する。
func (r *PostgresDeviceRepo) Deactivate(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_devices SET is_active = false WHERE device_token = ANY($1)`,
		pq.Array(tokens),
	)
	if err != nil {
		return fmt.Errorf("デバイスの無効化に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ DeviceRepository = (*PostgresDeviceRepo)(nil)
