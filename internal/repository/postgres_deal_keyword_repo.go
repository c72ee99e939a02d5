package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/dealmoa/internal/model"
)

// PostgresDealKeywordRepo はPostgreSQLを使用したディールキーワードリポジトリ。
type PostgresDealKeywordRepo struct {
	db *sql.DB
}

// NewPostgresDealKeywordRepo はPostgresDealKeywordRepoを生成する。
func NewPostgresDealKeywordRepo(db *sql.DB) *PostgresDealKeywordRepo {
	return &PostgresDealKeywordRepo{db: db}
}

// Replace はディールのキーワードを同一トランザクションで全置換する。
func (r *PostgresDealKeywordRepo) Replace(ctx context.Context, dealID string, keywords []model.DealKeyword) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM deal_keywords WHERE deal_id = $1`, dealID); err != nil {
		return fmt.Errorf("ディールキーワードの削除に失敗しました: %w", err)
	}

	for _, kw := range keywords {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO deal_keywords (deal_id, keyword, source)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (deal_id, keyword) DO NOTHING`,
			dealID, kw.Keyword, string(kw.Field),
		)
		if err != nil {
			return fmt.Errorf("ディールキーワードの追加に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByDeal はディールのキーワードを返す。
func (r *PostgresDealKeywordRepo) ListByDeal(ctx context.Context, dealID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT keyword FROM deal_keywords WHERE deal_id = $1 ORDER BY keyword`,
		dealID,
	)
	if err != nil {
		return nil, fmt.Errorf("ディールキーワードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	keywords := make([]string, 0)
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, fmt.Errorf("ディールキーワードのスキャンに失敗しました: %w", err)
		}
		keywords = append(keywords, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ディールキーワードの走査に失敗しました: %w", err)
	}
	return keywords, nil
}

// compile-time interface check
var _ DealKeywordRepository = (*PostgresDealKeywordRepo)(nil)
