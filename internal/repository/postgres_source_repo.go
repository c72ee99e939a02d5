package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/dealmoa/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
// 収集実行記録とカーソルも扱う。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

// FindByName はコネクタ名でソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByName(ctx context.Context, name string) (*model.Source, error) {
	s := &model.Source{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, display_name, base_url, is_active, created_at
		 FROM sources WHERE name = $1`,
		name,
	).Scan(&s.ID, &s.Name, &s.DisplayName, &s.BaseURL, &s.IsActive, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return s, nil
}

// Ensure はソースを名前でUPSERTし、保存済みのソースを返す。
// 既存ソースのis_activeは変更しない。
func (r *PostgresSourceRepo) Ensure(ctx context.Context, name, displayName, baseURL string) (*model.Source, error) {
	s := &model.Source{}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sources (id, name, display_name, base_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (name) DO UPDATE SET display_name = EXCLUDED.display_name, base_url = EXCLUDED.base_url
		 RETURNING id, name, display_name, base_url, is_active, created_at`,
		uuid.New().String(), name, displayName, baseURL,
	).Scan(&s.ID, &s.Name, &s.DisplayName, &s.BaseURL, &s.IsActive, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ソースの登録に失敗しました: %w", err)
	}
	return s, nil
}

// LoadCursor は保存済みカーソルを返す。未保存の場合はnilを返す。
func (r *PostgresSourceRepo) LoadCursor(ctx context.Context, sourceID string) (json.RawMessage, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT state_data FROM crawler_state WHERE source_id = $1`,
		sourceID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("カーソルの取得に失敗しました: %w", err)
	}
	return json.RawMessage(data), nil
}

// SaveCursor はカーソルを保存する。
func (r *PostgresSourceRepo) SaveCursor(ctx context.Context, sourceID string, cursor json.RawMessage) error {
	if len(cursor) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO crawler_state (source_id, state_data, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (source_id) DO UPDATE SET state_data = EXCLUDED.state_data, updated_at = now()`,
		sourceID, []byte(cursor),
	)
	if err != nil {
		return fmt.Errorf("カーソルの保存に失敗しました: %w", err)
	}
	return nil
}

// CreateRun は収集実行の開始を記録する。
func (r *PostgresSourceRepo) CreateRun(ctx context.Context, run *model.CrawlRun) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO crawler_runs (id, source_id, status, started_at)
		 VALUES ($1, $2, $3, $4)`,
		run.ID, run.SourceID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("収集実行の記録に失敗しました: %w", err)
	}
	return nil
}

// FinishRun は収集実行の結果を記録する。
func (r *PostgresSourceRepo) FinishRun(ctx context.Context, run *model.CrawlRun) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE crawler_runs SET
		     status = $2, finished_at = $3,
		     items_found = $4, items_new = $5, items_updated = $6, items_skipped = $7,
		     error_count = $8, error_message = $9, duration_ms = $10
		 WHERE id = $1`,
		run.ID, string(run.Status), run.FinishedAt,
		run.ItemsFound, run.ItemsNew, run.ItemsUpdated, run.ItemsSkipped,
		run.ErrorCount, nullString(run.ErrorMessage), run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("収集実行結果の記録に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var (
	_ SourceRepository      = (*PostgresSourceRepo)(nil)
	_ SourceStateRepository = (*PostgresSourceRepo)(nil)
)
