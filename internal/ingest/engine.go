// Package ingest はディールの正規化・重複排除・保存を提供する。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dealmoa/internal/keyword"
	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/repository"
	"github.com/hitoshi/dealmoa/internal/security"
)

// ErrInvalidRecord はコネクタから受け取ったレコードが検証に失敗したことを表す。
// 再試行しても成功しないため、呼び出し側はスキップとして数える。
var ErrInvalidRecord = errors.New("ディールレコードが不正です")

// RecordValidator はDealRecordの検証インターフェース。
type RecordValidator interface {
	ValidateRecord(rec *model.DealRecord) error
}

// Rescorer はディールのスコアを再計算して保存する。
type Rescorer interface {
	Rescore(ctx context.Context, d *model.Deal) error
}

// BlockChecker はディールの遮断判定を行う。
type BlockChecker interface {
	Check(ctx context.Context, d *model.Deal) (bool, string, error)
}

// Result は1件のインジェスト結果。
type Result struct {
	Deal    *model.Deal
	Created bool
	// Keywords は今回抽出したキーワード。抽出済みのディールを更新した場合はnil。
	Keywords []string
	// NeedsMatching はユーザー照合が未完了で、キューに投入すべきことを表す。
	// 遮断・削除済みのディールでは常にfalse。
	NeedsMatching bool
}

// Engine はDealRecordを(source, external_id)でUPSERTする。
// 新規作成時はスコア計算とキーワード抽出まで行い、既存ディールはカウンタと価格のみ更新する。
// 既存ディールでもキーワード抽出が未完了なら抽出し直す。
type Engine struct {
	sources      repository.SourceRepository
	deals        repository.DealRepository
	history      repository.PriceHistoryRepository
	dealKeywords repository.DealKeywordRepository
	validator    RecordValidator
	sanitizer    security.TextSanitizer
	blacklist    BlockChecker
	scorer       Rescorer
	extractor    *keyword.Extractor
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	sourceIDs map[string]string // source name -> id
}

// NewEngine はEngineを生成する。
func NewEngine(
	sources repository.SourceRepository,
	deals repository.DealRepository,
	history repository.PriceHistoryRepository,
	dealKeywords repository.DealKeywordRepository,
	validator RecordValidator,
	sanitizer security.TextSanitizer,
	blacklist BlockChecker,
	scorer Rescorer,
	extractor *keyword.Extractor,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		sources:      sources,
		deals:        deals,
		history:      history,
		dealKeywords: dealKeywords,
		validator:    validator,
		sanitizer:    sanitizer,
		blacklist:    blacklist,
		scorer:       scorer,
		extractor:    extractor,
		logger:       logger,
		now:          time.Now,
		sourceIDs:    make(map[string]string),
	}
}

// Ingest はDealRecordを保存する。
// 同じレコードの同時インジェストで行が重複することはなく、競合した作成は更新として再試行する。
func (e *Engine) Ingest(ctx context.Context, rec model.DealRecord) (*Result, error) {
	if err := e.validator.ValidateRecord(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	sourceID, err := e.sourceID(ctx, rec.SourceName)
	if err != nil {
		return nil, err
	}

	existing, err := e.deals.FindBySourceAndExternalID(ctx, sourceID, rec.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("ディールの同一性判定に失敗: %w", err)
	}

	var result *Result
	if existing == nil {
		result, err = e.create(ctx, sourceID, rec)
		if errors.Is(err, model.ErrConflict) {
			// 他のワーカーが先に作成した
			existing, err = e.deals.FindBySourceAndExternalID(ctx, sourceID, rec.ExternalID)
			if err != nil {
				return nil, fmt.Errorf("ディールの再検索に失敗: %w", err)
			}
			if existing == nil {
				return nil, fmt.Errorf("競合したディールが見つかりません: %s/%s", rec.SourceName, rec.ExternalID)
			}
			result, err = e.refresh(ctx, existing, rec)
		}
	} else {
		result, err = e.refresh(ctx, existing, rec)
	}
	if err != nil {
		return nil, err
	}

	if err := e.recordPrice(ctx, result.Deal, rec); err != nil {
		return nil, err
	}

	if err := e.scorer.Rescore(ctx, result.Deal); err != nil {
		return nil, fmt.Errorf("スコアの再計算に失敗: %w", err)
	}

	// 抽出済みの記録がなければ、前回の中断後でも抽出からやり直す
	if result.Created || result.Deal.KeywordsExtractedAt == nil {
		if err := e.extractKeywords(ctx, result); err != nil {
			return nil, err
		}
	}

	d := result.Deal
	result.NeedsMatching = d.MatchedAt == nil && !d.IsBlocked && d.DeletedAt == nil
	return result, nil
}

// extractKeywords はディールのキーワードを全置換し、抽出済みを記録する。
func (e *Engine) extractKeywords(ctx context.Context, result *Result) error {
	d := result.Deal
	keywords := e.extractor.ExtractDeal(d)
	if err := e.dealKeywords.Replace(ctx, d.ID, keywords); err != nil {
		return fmt.Errorf("キーワードの保存に失敗: %w", err)
	}
	now := e.now()
	if err := e.deals.MarkKeywordsExtracted(ctx, d.ID, now); err != nil {
		return err
	}
	d.KeywordsExtractedAt = &now
	result.Keywords = keyword.Values(keywords)

	if !result.Created {
		e.logger.Info("未完了だったキーワード抽出を再実行しました",
			slog.String("deal_id", d.ID),
			slog.Int("keywords", len(result.Keywords)),
		)
	}
	return nil
}

// sourceID はソース名に対応するIDを返す。未登録の場合は登録する。
func (e *Engine) sourceID(ctx context.Context, name string) (string, error) {
	e.mu.Lock()
	id, ok := e.sourceIDs[name]
	e.mu.Unlock()
	if ok {
		return id, nil
	}

	src, err := e.sources.FindByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("ソースの取得に失敗: %w", err)
	}
	if src == nil {
		src, err = e.sources.Ensure(ctx, name, name, "")
		if err != nil {
			return "", fmt.Errorf("ソースの登録に失敗: %w", err)
		}
	}

	e.mu.Lock()
	e.sourceIDs[name] = src.ID
	e.mu.Unlock()
	return src.ID, nil
}

// create は新規ディールを作成する。published_at未設定の場合は取得時刻を代用し推定フラグを付与する。
func (e *Engine) create(ctx context.Context, sourceID string, rec model.DealRecord) (*Result, error) {
	now := e.now()
	d := &model.Deal{
		ID:            uuid.New().String(),
		SourceID:      sourceID,
		ExternalID:    rec.ExternalID,
		URL:           rec.URL,
		Title:         rec.Title,
		Content:       e.sanitizer.Sanitize(rec.Content),
		Author:        rec.Author,
		ProductName:   rec.ProductName,
		Price:         rec.Price,
		OriginalPrice: rec.OriginalPrice,
		DiscountRate:  rec.DiscountRate,
		Upvotes:       rec.Upvotes,
		Downvotes:     rec.Downvotes,
		CommentCount:  rec.CommentCount,
		ViewCount:     rec.ViewCount,
		PriceSignal:   model.PriceSignalNone,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if rec.PublishedAt != nil {
		d.PublishedAt = *rec.PublishedAt
	} else {
		d.PublishedAt = now
		d.IsDateEstimated = true
	}

	blocked, reason, err := e.blacklist.Check(ctx, d)
	if err != nil {
		return nil, err
	}
	if blocked {
		d.IsBlocked = true
		d.BlockReason = reason
		e.logger.Info("ディールがブラックリストに該当しました",
			slog.String("source", rec.SourceName),
			slog.String("external_id", rec.ExternalID),
			slog.String("reason", reason),
		)
	}

	if err := e.deals.Create(ctx, d); err != nil {
		return nil, err
	}
	return &Result{Deal: d, Created: true}, nil
}

// refresh は既存ディールのカウンタと価格を更新する。
// カウンタは既存値より小さくならず、nilの価格は既存値を維持する。
func (e *Engine) refresh(ctx context.Context, existing *model.Deal, rec model.DealRecord) (*Result, error) {
	if rec.Upvotes < existing.Upvotes || rec.Downvotes < existing.Downvotes ||
		rec.CommentCount < existing.CommentCount || rec.ViewCount < existing.ViewCount {
		e.logger.Warn("カウンタの減少を無視しました",
			slog.String("deal_id", existing.ID),
			slog.String("source", rec.SourceName),
			slog.Int("upvotes", rec.Upvotes),
			slog.Int("stored_upvotes", existing.Upvotes),
			slog.Int("view_count", rec.ViewCount),
			slog.Int("stored_view_count", existing.ViewCount),
		)
	}

	d, err := e.deals.RefreshCounters(ctx, existing.ID, model.CounterUpdate{
		Upvotes:       rec.Upvotes,
		Downvotes:     rec.Downvotes,
		CommentCount:  rec.CommentCount,
		ViewCount:     rec.ViewCount,
		Price:         rec.Price,
		OriginalPrice: rec.OriginalPrice,
		DiscountRate:  rec.DiscountRate,
	})
	if err != nil {
		return nil, fmt.Errorf("ディールの更新に失敗: %w", err)
	}
	return &Result{Deal: d, Created: false}, nil
}

// recordPrice は価格が直近の履歴と異なる場合に価格履歴を追記する。
func (e *Engine) recordPrice(ctx context.Context, d *model.Deal, rec model.DealRecord) error {
	if rec.Price == nil {
		return nil
	}

	latest, err := e.history.LatestPrice(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("直近価格の取得に失敗: %w", err)
	}
	if latest != nil && *latest == *rec.Price {
		return nil
	}

	err = e.history.Append(ctx, &model.PriceHistoryRecord{
		ID:            uuid.New().String(),
		DealID:        d.ID,
		Price:         *rec.Price,
		OriginalPrice: rec.OriginalPrice,
		DiscountRate:  rec.DiscountRate,
		RecordedAt:    e.now(),
	})
	if err != nil {
		return fmt.Errorf("価格履歴の追記に失敗: %w", err)
	}
	return nil
}
