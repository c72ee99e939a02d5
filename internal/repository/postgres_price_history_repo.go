package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/dealmoa/internal/model"
)

// PostgresPriceHistoryRepo はPostgreSQLを使用した価格履歴リポジトリ。
type PostgresPriceHistoryRepo struct {
	db *sql.DB
}

// NewPostgresPriceHistoryRepo はPostgresPriceHistoryRepoを生成する。
func NewPostgresPriceHistoryRepo(db *sql.DB) *PostgresPriceHistoryRepo {
	return &PostgresPriceHistoryRepo{db: db}
}

// LatestPrice は直近に記録された価格を返す。履歴がない場合はnilを返す。
func (r *PostgresPriceHistoryRepo) LatestPrice(ctx context.Context, dealID string) (*int, error) {
	var price int
	err := r.db.QueryRowContext(ctx,
		`SELECT price FROM price_history
		 WHERE deal_id = $1
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT 1`,
		dealID,
	).Scan(&price)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("直近価格の取得に失敗しました: %w", err)
	}
	return &price, nil
}

// Append は価格履歴を1件追加する。
func (r *PostgresPriceHistoryRepo) Append(ctx context.Context, rec *model.PriceHistoryRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO price_history (id, deal_id, price, original_price, discount_rate, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.DealID, rec.Price, rec.OriginalPrice, rec.DiscountRate, rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("価格履歴の追加に失敗しました: %w", err)
	}
	return nil
}

// PricesSince はsince以降に記録された価格を記録順に返す。
func (r *PostgresPriceHistoryRepo) PricesSince(ctx context.Context, dealID string, since time.Time) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT price FROM price_history
		 WHERE deal_id = $1 AND recorded_at >= $2
		 ORDER BY recorded_at ASC`,
		dealID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("価格履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	prices := make([]int, 0)
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("価格履歴のスキャンに失敗しました: %w", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("価格履歴の走査に失敗しました: %w", err)
	}
	return prices, nil
}

// Statistics は全期間の価格集計を返す。履歴がない場合はnilを返す。
func (r *PostgresPriceHistoryRepo) Statistics(ctx context.Context, dealID string) (*model.PriceStatistics, error) {
	stats := &model.PriceStatistics{}
	var lowest, highest sql.NullInt64
	var average sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		`SELECT min(price), max(price), avg(price)::float8, count(*)
		 FROM price_history WHERE deal_id = $1`,
		dealID,
	).Scan(&lowest, &highest, &average, &stats.RecordCount)
	if err != nil {
		return nil, fmt.Errorf("価格統計の取得に失敗しました: %w", err)
	}
	if stats.RecordCount == 0 {
		return nil, nil
	}

	stats.Lowest = int(lowest.Int64)
	stats.Highest = int(highest.Int64)
	stats.Average = average.Float64

	current, err := r.LatestPrice(ctx, dealID)
	if err != nil {
		return nil, err
	}
	stats.Current = current
	return stats, nil
}

// compile-time interface check
var _ PriceHistoryRepository = (*PostgresPriceHistoryRepo)(nil)
