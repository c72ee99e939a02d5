package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/repository"
)

// ScoreWriter はスコアの保存先。
type ScoreWriter interface {
	UpdateScores(ctx context.Context, dealID string, hotScore float64, signal model.PriceSignal) error
}

// DealFinder はディールの取得元。
type DealFinder interface {
	FindByID(ctx context.Context, id string) (*model.Deal, error)
}

// Service はコミット済みの価格履歴からディールのスコアを再計算して保存する。
type Service struct {
	deals   DealFinder
	scores  ScoreWriter
	history repository.PriceHistoryRepository
	cfg     PriceSignalConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewService はServiceを生成する。
func NewService(deals DealFinder, scores ScoreWriter, history repository.PriceHistoryRepository, cfg PriceSignalConfig, logger *slog.Logger) *Service {
	return &Service{
		deals:   deals,
		scores:  scores,
		history: history,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Rescore はディールのhot_scoreとprice_signalを再計算して保存し、dに反映する。
func (s *Service) Rescore(ctx context.Context, d *model.Deal) error {
	now := s.now()
	hot := DealHotScore(d, now)

	signal := model.PriceSignalNone
	if d.Price != nil {
		since := now.AddDate(0, 0, -s.cfg.HistoryDays)
		prices, err := s.history.PricesSince(ctx, d.ID, since)
		if err != nil {
			return fmt.Errorf("価格履歴の取得に失敗しました: %w", err)
		}
		signal = ClassifyPrice(d.Price, prices, s.cfg)
	}

	if err := s.scores.UpdateScores(ctx, d.ID, hot, signal); err != nil {
		return err
	}

	if signal != d.PriceSignal {
		s.logger.Debug("価格シグナルが変化しました",
			slog.String("deal_id", d.ID),
			slog.String("from", string(d.PriceSignal)),
			slog.String("to", string(signal)),
		)
	}
	d.HotScore = hot
	d.PriceSignal = signal
	return nil
}

// Statistics はディールの全期間の価格統計を返す。
// 履歴がない場合はディールの現在価格で埋める。
func (s *Service) Statistics(ctx context.Context, dealID string) (*model.PriceStatistics, error) {
	d, err := s.deals.FindByID(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if d == nil || d.DeletedAt != nil {
		return nil, model.NewDealNotFoundError(dealID)
	}

	stats, err := s.history.Statistics(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = &model.PriceStatistics{}
		if d.Price != nil {
			stats.Lowest = *d.Price
			stats.Highest = *d.Price
			stats.Average = float64(*d.Price)
		}
	}
	stats.Current = d.Price
	return stats, nil
}
