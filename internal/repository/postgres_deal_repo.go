package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/dealmoa/internal/model"
)

// dealColumns はdealsテーブルのSELECT列。scanDealの順序と一致させること。
const dealColumns = `id, source_id, external_id, url, title, content, author, product_name,
	price, original_price, discount_rate,
	upvotes, downvotes, comment_count, view_count, bookmark_count,
	hot_score, price_signal, published_at, is_date_estimated,
	is_active, is_blocked, block_reason, deleted_at, created_at, updated_at,
	keywords_extracted_at, matched_at`

// hotScoreExpr は基準時刻のプレースホルダを受け取りhot_scoreのSQL式を返す。
// scoring.HotScoreと同じ式であること。
func hotScoreExpr(nowParam string) string {
	return `GREATEST(0, (upvotes - downvotes) * 10 + comment_count * 5 + view_count / 100.0
	- GREATEST(0, EXTRACT(EPOCH FROM (` + nowParam + `::timestamptz - published_at)) / 3600.0) * 0.5)`
}

// PostgresDealRepo はPostgreSQLを使用したディールリポジトリ。
type PostgresDealRepo struct {
	db *sql.DB
}

// NewPostgresDealRepo はPostgresDealRepoを生成する。
func NewPostgresDealRepo(db *sql.DB) *PostgresDealRepo {
	return &PostgresDealRepo{db: db}
}

func scanDeal(s rowScanner) (*model.Deal, error) {
	d := &model.Deal{}
	var content, author, productName, blockReason sql.NullString
	var price, originalPrice sql.NullInt64
	var discountRate sql.NullFloat64
	var deletedAt, keywordsExtractedAt, matchedAt sql.NullTime
	var signal string

	err := s.Scan(
		&d.ID, &d.SourceID, &d.ExternalID, &d.URL, &d.Title, &content, &author, &productName,
		&price, &originalPrice, &discountRate,
		&d.Upvotes, &d.Downvotes, &d.CommentCount, &d.ViewCount, &d.BookmarkCount,
		&d.HotScore, &signal, &d.PublishedAt, &d.IsDateEstimated,
		&d.IsActive, &d.IsBlocked, &blockReason, &deletedAt, &d.CreatedAt, &d.UpdatedAt,
		&keywordsExtractedAt, &matchedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Content = nullStringValue(content)
	d.Author = nullStringValue(author)
	d.ProductName = nullStringValue(productName)
	d.BlockReason = nullStringValue(blockReason)
	d.Price = nullIntPtr(price)
	d.OriginalPrice = nullIntPtr(originalPrice)
	d.DiscountRate = nullFloatPtr(discountRate)
	d.DeletedAt = nullTimePtr(deletedAt)
	d.KeywordsExtractedAt = nullTimePtr(keywordsExtractedAt)
	d.MatchedAt = nullTimePtr(matchedAt)
	d.PriceSignal = model.PriceSignal(signal)
	return d, nil
}

// FindByID は指定IDのディールを取得する。見つからない場合はnilを返す。
func (r *PostgresDealRepo) FindByID(ctx context.Context, id string) (*model.Deal, error) {
	d, err := scanDeal(r.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ディールの取得に失敗しました: %w", err)
	}
	return d, nil
}

// FindBySourceAndExternalID は(source_id, external_id)でディールを検索する。
func (r *PostgresDealRepo) FindBySourceAndExternalID(ctx context.Context, sourceID, externalID string) (*model.Deal, error) {
	d, err := scanDeal(r.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE source_id = $1 AND external_id = $2`,
		sourceID, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ディールの検索に失敗しました: %w", err)
	}
	return d, nil
}

// Create は新規ディールを作成する。
func (r *PostgresDealRepo) Create(ctx context.Context, d *model.Deal) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deals (id, source_id, external_id, url, title, content, author, product_name,
		                    price, original_price, discount_rate,
		                    upvotes, downvotes, comment_count, view_count, bookmark_count,
		                    hot_score, price_signal, published_at, is_date_estimated,
		                    is_active, is_blocked, block_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		         $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		d.ID, d.SourceID, d.ExternalID, d.URL, d.Title,
		nullString(d.Content), nullString(d.Author), nullString(d.ProductName),
		d.Price, d.OriginalPrice, d.DiscountRate,
		d.Upvotes, d.Downvotes, d.CommentCount, d.ViewCount, d.BookmarkCount,
		d.HotScore, string(d.PriceSignal), d.PublishedAt, d.IsDateEstimated,
		d.IsActive, d.IsBlocked, nullString(d.BlockReason), d.CreatedAt, d.UpdatedAt,
	)
	if IsUniqueViolation(err) {
		return model.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("ディールの作成に失敗しました: %w", err)
	}
	return nil
}

// RefreshCounters はカウンタと価格を1文で更新し、更新後のディールを返す。
func (r *PostgresDealRepo) RefreshCounters(ctx context.Context, dealID string, upd model.CounterUpdate) (*model.Deal, error) {
	d, err := scanDeal(r.db.QueryRowContext(ctx,
		`UPDATE deals SET
		     upvotes        = GREATEST(upvotes, $2),
		     downvotes      = GREATEST(downvotes, $3),
		     comment_count  = GREATEST(comment_count, $4),
		     view_count     = GREATEST(view_count, $5),
		     price          = COALESCE($6, price),
		     original_price = COALESCE($7, original_price),
		     discount_rate  = COALESCE($8, discount_rate),
		     updated_at     = now()
		 WHERE id = $1
		 RETURNING `+dealColumns,
		dealID, upd.Upvotes, upd.Downvotes, upd.CommentCount, upd.ViewCount,
		upd.Price, upd.OriginalPrice, upd.DiscountRate,
	))
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("カウンタの更新に失敗しました: %w", err)
	}
	return d, nil
}

// UpdateScores はhot_scoreとprice_signalを更新する。
func (r *PostgresDealRepo) UpdateScores(ctx context.Context, dealID string, hotScore float64, signal model.PriceSignal) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deals SET hot_score = $2, price_signal = $3, updated_at = now() WHERE id = $1`,
		dealID, hotScore, string(signal),
	)
	if err != nil {
		return fmt.Errorf("スコアの更新に失敗しました: %w", err)
	}
	return nil
}

// MarkKeywordsExtracted はキーワード抽出の完了を記録する。
func (r *PostgresDealRepo) MarkKeywordsExtracted(ctx context.Context, dealID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deals SET keywords_extracted_at = $2 WHERE id = $1`, dealID, at)
	if err != nil {
		return fmt.Errorf("キーワード抽出済みの記録に失敗しました: %w", err)
	}
	return nil
}

// MarkMatched はユーザー照合と通知予約の完了を記録する。
func (r *PostgresDealRepo) MarkMatched(ctx context.Context, dealID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deals SET matched_at = $2 WHERE id = $1`, dealID, at)
	if err != nil {
		return fmt.Errorf("照合済みの記録に失敗しました: %w", err)
	}
	return nil
}

// RecomputeHotScores はsince以降に公開されたディールのhot_scoreを再計算する。
func (r *PostgresDealRepo) RecomputeHotScores(ctx context.Context, since, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE deals SET hot_score = `+hotScoreExpr("$1")+`
		 WHERE published_at >= $2 AND deleted_at IS NULL`,
		now, since,
	)
	if err != nil {
		return 0, fmt.Errorf("hot_scoreの再計算に失敗しました: %w", err)
	}
	return result.RowsAffected()
}

// ListMatching はキーワード条件に合致するディールを返す。
// hot_scoreは保存値ではなくq.Nowを基準に算出した値で並べる。
func (r *PostgresDealRepo) ListMatching(ctx context.Context, q DealMatchQuery) ([]*model.Deal, int, error) {
	if len(q.Inclusion) == 0 {
		return []*model.Deal{}, 0, nil
	}

	exclusion := q.Exclusion
	if exclusion == nil {
		exclusion = []string{}
	}

	where := `published_at >= $1
		  AND deleted_at IS NULL AND is_active AND NOT is_blocked
		  AND EXISTS (SELECT 1 FROM deal_keywords k WHERE k.deal_id = deals.id AND k.keyword = ANY($2))
		  AND NOT EXISTS (SELECT 1 FROM deal_keywords k WHERE k.deal_id = deals.id AND k.keyword = ANY($3))`

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM deals WHERE `+where,
		q.Since, pq.Array(q.Inclusion), pq.Array(exclusion),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("一致ディール件数の取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+dealColumns+` FROM deals
		 WHERE `+where+`
		 ORDER BY `+hotScoreExpr("$4")+` DESC, id ASC
		 LIMIT $5 OFFSET $6`,
		q.Since, pq.Array(q.Inclusion), pq.Array(exclusion), q.Now, q.Limit, q.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("一致ディールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	deals := make([]*model.Deal, 0)
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("一致ディールのスキャンに失敗しました: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("一致ディールの走査に失敗しました: %w", err)
	}

	return deals, total, nil
}

// compile-time interface check
var _ DealRepository = (*PostgresDealRepo)(nil)
