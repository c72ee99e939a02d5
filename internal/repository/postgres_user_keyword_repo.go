package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/dealmoa/internal/model"
)

// PostgresUserKeywordRepo はPostgreSQLを使用したユーザーキーワードリポジトリ。
type PostgresUserKeywordRepo struct {
	db *sql.DB
}

// NewPostgresUserKeywordRepo はPostgresUserKeywordRepoを生成する。
func NewPostgresUserKeywordRepo(db *sql.DB) *PostgresUserKeywordRepo {
	return &PostgresUserKeywordRepo{db: db}
}

const userKeywordColumns = `id, user_id, keyword, is_inclusion, is_active, created_at, updated_at`

func scanUserKeyword(s rowScanner) (*model.UserKeyword, error) {
	kw := &model.UserKeyword{}
	err := s.Scan(&kw.ID, &kw.UserID, &kw.Keyword, &kw.IsInclusion, &kw.IsActive, &kw.CreatedAt, &kw.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return kw, nil
}

// FindByID は指定IDのキーワードを取得する。見つからない場合はnilを返す。
func (r *PostgresUserKeywordRepo) FindByID(ctx context.Context, id string) (*model.UserKeyword, error) {
	kw, err := scanUserKeyword(r.db.QueryRowContext(ctx,
		`SELECT `+userKeywordColumns+` FROM user_keywords WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キーワードの取得に失敗しました: %w", err)
	}
	return kw, nil
}

// ListActiveByUser はユーザーの有効なキーワードを作成順に返す。
func (r *PostgresUserKeywordRepo) ListActiveByUser(ctx context.Context, userID string) ([]*model.UserKeyword, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userKeywordColumns+` FROM user_keywords
		 WHERE user_id = $1 AND is_active
		 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("キーワード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	keywords := make([]*model.UserKeyword, 0)
	for rows.Next() {
		kw, err := scanUserKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("キーワードのスキャンに失敗しました: %w", err)
		}
		keywords = append(keywords, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("キーワード一覧の走査に失敗しました: %w", err)
	}
	return keywords, nil
}

// CountActiveByUser はユーザーの有効なキーワード数を返す。
func (r *PostgresUserKeywordRepo) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM user_keywords WHERE user_id = $1 AND is_active`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("キーワード数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// CreateBatch はキーワードを同一トランザクションで作成する。
// 全件が同じユーザーのものであること。ユーザー行をロックしてから件数を数えるため、
// 同時登録でもmaxActiveを超えない。
func (r *PostgresUserKeywordRepo) CreateBatch(ctx context.Context, keywords []*model.UserKeyword, maxActive int) error {
	if len(keywords) == 0 {
		return nil
	}
	userID := keywords[0].UserID

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockUser(ctx, tx, userID); err != nil {
		return err
	}
	count, err := countActive(ctx, tx, userID, "")
	if err != nil {
		return err
	}
	if count+len(keywords) > maxActive {
		return model.ErrKeywordLimit
	}

	for _, kw := range keywords {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO user_keywords (id, user_id, keyword, is_inclusion, is_active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			kw.ID, kw.UserID, kw.Keyword, kw.IsInclusion, kw.IsActive, kw.CreatedAt, kw.UpdatedAt,
		)
		if IsUniqueViolation(err) {
			return model.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("キーワードの追加に失敗しました: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetActive はキーワードの有効状態を切り替える。
// 有効化する場合は所有ユーザーの行をロックし、maxActiveを超えるなら model.ErrKeywordLimit を返す。
func (r *PostgresUserKeywordRepo) SetActive(ctx context.Context, id string, active bool, maxActive int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if active {
		var userID string
		err := tx.QueryRowContext(ctx,
			`SELECT u.id FROM users u
			 JOIN user_keywords k ON k.user_id = u.id
			 WHERE k.id = $1
			 FOR UPDATE OF u`,
			id,
		).Scan(&userID)
		if err == sql.ErrNoRows {
			return model.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("ユーザーのロックに失敗しました: %w", err)
		}
		count, err := countActive(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if count >= maxActive {
			return model.ErrKeywordLimit
		}
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE user_keywords SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active,
	)
	if IsUniqueViolation(err) {
		return model.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("キーワードの更新に失敗しました: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockUser はユーザー行を行ロックする。存在しなければ model.ErrNotFound を返す。
func lockUser(ctx context.Context, tx *sql.Tx, userID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ユーザーのロックに失敗しました: %w", err)
	}
	return nil
}

// countActive は有効なキーワード数を返す。excludeIDが空でなければそのキーワードは数えない。
func countActive(ctx context.Context, tx *sql.Tx, userID, excludeID string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT count(*) FROM user_keywords
		 WHERE user_id = $1 AND is_active AND ($2 = '' OR id::text <> $2)`,
		userID, excludeID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("キーワード数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Delete はキーワードを削除する。
func (r *PostgresUserKeywordRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_keywords WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("キーワードの削除に失敗しました: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ UserKeywordRepository = (*PostgresUserKeywordRepo)(nil)
