package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/dealmoa/internal/model"
)

// userColumns はusersテーブルのSELECT列。TIME型はtextで取得してTimeOfDayに変換する。
const userColumns = `u.id, u.email, u.nickname, u.is_active, u.push_enabled, u.dnd_enabled,
	u.dnd_start::text, u.dnd_end::text, u.created_at, u.updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func scanUser(s rowScanner, extra ...any) (*model.User, error) {
	user := &model.User{}
	var dndStart, dndEnd string
	dest := []any{
		&user.ID, &user.Email, &user.Nickname, &user.IsActive, &user.PushEnabled, &user.DNDEnabled,
		&dndStart, &dndEnd, &user.CreatedAt, &user.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	var err error
	if user.DNDStart, err = model.ParseTimeOfDay(dndStart); err != nil {
		return nil, err
	}
	if user.DNDEnd, err = model.ParseTimeOfDay(dndEnd); err != nil {
		return nil, err
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, nickname, is_active, push_enabled, dnd_enabled,
		                    dnd_start, dnd_end, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Email, user.Nickname, user.IsActive, user.PushEnabled, user.DNDEnabled,
		user.DNDStart.String(), user.DNDEnd.String(), user.CreatedAt, user.UpdatedAt,
	)
	if IsUniqueViolation(err) {
		return model.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// ListMatchCandidates はディールキーワードのいずれかを包含キーワードとして持つユーザーを返す。
func (r *PostgresUserRepo) ListMatchCandidates(ctx context.Context, dealKeywords []string) ([]MatchCandidate, error) {
	if len(dealKeywords) == 0 {
		return []MatchCandidate{}, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+`,
		        k.id, k.keyword, k.is_inclusion, k.created_at, k.updated_at
		 FROM users u
		 JOIN user_keywords k ON k.user_id = u.id AND k.is_active
		 WHERE u.is_active AND u.push_enabled
		   AND EXISTS (
		       SELECT 1 FROM user_keywords i
		       WHERE i.user_id = u.id AND i.is_active AND i.is_inclusion AND i.keyword = ANY($1)
		   )
		 ORDER BY u.id, k.created_at, k.id`,
		pq.Array(dealKeywords),
	)
	if err != nil {
		return nil, fmt.Errorf("一致候補ユーザーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	candidates := make([]MatchCandidate, 0)
	for rows.Next() {
		kw := &model.UserKeyword{IsActive: true}
		user, err := scanUser(rows, &kw.ID, &kw.Keyword, &kw.IsInclusion, &kw.CreatedAt, &kw.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("一致候補ユーザーのスキャンに失敗しました: %w", err)
		}
		kw.UserID = user.ID

		if n := len(candidates); n > 0 && candidates[n-1].User.ID == user.ID {
			candidates[n-1].Keywords = append(candidates[n-1].Keywords, kw)
			continue
		}
		candidates = append(candidates, MatchCandidate{User: user, Keywords: []*model.UserKeyword{kw}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("一致候補ユーザーの走査に失敗しました: %w", err)
	}
	return candidates, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
