package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/dealmoa/internal/model"
)

// PostgresBlacklistRepo はPostgreSQLを使用したブラックリストリポジトリ。
type PostgresBlacklistRepo struct {
	db *sql.DB
}

// NewPostgresBlacklistRepo はPostgresBlacklistRepoを生成する。
func NewPostgresBlacklistRepo(db *sql.DB) *PostgresBlacklistRepo {
	return &PostgresBlacklistRepo{db: db}
}

// ListActive は有効なブラックリストを返す。
func (r *PostgresBlacklistRepo) ListActive(ctx context.Context) ([]*model.BlacklistEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, pattern, type, target_field, reason, is_active
		 FROM blacklist WHERE is_active
		 ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("ブラックリストの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	entries := make([]*model.BlacklistEntry, 0)
	for rows.Next() {
		e := &model.BlacklistEntry{}
		var typ string
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.Pattern, &typ, &e.TargetField, &reason, &e.IsActive); err != nil {
			return nil, fmt.Errorf("ブラックリストのスキャンに失敗しました: %w", err)
		}
		e.Type = model.BlacklistType(typ)
		e.Reason = nullStringValue(reason)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ブラックリストの走査に失敗しました: %w", err)
	}
	return entries, nil
}

// compile-time interface check
var _ BlacklistRepository = (*PostgresBlacklistRepo)(nil)
