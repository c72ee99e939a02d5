package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/dealmoa/internal/matcher"
	"github.com/hitoshi/dealmoa/internal/metrics"
	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/notification"
)

// defaultFanout は1件のディールに対して同時に予約する通知数。
const defaultFanout = 8

// DealStore はディールの取得と照合完了の記録を行う。
type DealStore interface {
	FindByID(ctx context.Context, id string) (*model.Deal, error)
	MarkMatched(ctx context.Context, dealID string, at time.Time) error
}

// DealMatcher はディールに一致するユーザーを返す。
type DealMatcher interface {
	MatchDealToUsers(ctx context.Context, d *model.Deal, dealKeywords []string) ([]matcher.Match, error)
}

// NotificationScheduler はユーザーへの通知を予約する。
type NotificationScheduler interface {
	Schedule(ctx context.Context, d *model.Deal, u *model.User, matchedKeywords []string) (notification.Outcome, error)
}

// Processor はキューから取り出した1件のディールを照合し、一致したユーザーへの通知を予約する。
// 予約は(user_id, deal_id)の一意制約により冪等なので、同じディールを再処理しても重複通知は生じない。
// 全員分の予約が成功した場合のみ照合済みを記録し、それ以外は次回の収集で再投入される。
type Processor struct {
	deals     DealStore
	matcher   DealMatcher
	scheduler NotificationScheduler
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	fanout    int
	now       func() time.Time
}

// NewProcessor はProcessorを生成する。
func NewProcessor(
	deals DealStore,
	m DealMatcher,
	scheduler NotificationScheduler,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		deals:     deals,
		matcher:   m,
		scheduler: scheduler,
		metrics:   collector,
		logger:    logger,
		fanout:    defaultFanout,
		now:       time.Now,
	}
}

// Process はディール1件を照合し、一致したユーザーごとに通知を予約する。
// ディールが見つからない場合はログに残してスキップする。
func (p *Processor) Process(ctx context.Context, dealID string) error {
	d, err := p.deals.FindByID(ctx, dealID)
	if err != nil {
		return fmt.Errorf("ディールの取得に失敗しました: %w", err)
	}
	if d == nil {
		p.logger.Warn("キューのディールが見つからないためスキップしました",
			slog.String("deal_id", dealID),
		)
		return nil
	}

	matches, err := p.matcher.MatchDealToUsers(ctx, d, nil)
	if err != nil {
		return err
	}
	p.metrics.RecordMatches(len(matches))
	if len(matches) == 0 {
		return p.markMatched(ctx, d.ID)
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fanout)

	for _, m := range matches {
		g.Go(func() error {
			outcome, err := p.scheduler.Schedule(gctx, d, m.User, m.MatchedKeywords)
			if err != nil {
				failed.Add(1)
				p.logger.Error("通知の予約に失敗しました",
					slog.String("deal_id", d.ID),
					slog.String("user_id", m.User.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			p.logger.Debug("通知を予約しました",
				slog.String("deal_id", d.ID),
				slog.String("user_id", m.User.ID),
				slog.String("outcome", string(outcome)),
			)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("ディールの照合が完了しました",
		slog.String("deal_id", d.ID),
		slog.Int("matched", len(matches)),
		slog.Int64("failed", failed.Load()),
	)

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d件の通知予約に失敗しました", n)
	}
	return p.markMatched(ctx, d.ID)
}

func (p *Processor) markMatched(ctx context.Context, dealID string) error {
	if err := p.deals.MarkMatched(ctx, dealID, p.now()); err != nil {
		return fmt.Errorf("照合済みの記録に失敗しました: %w", err)
	}
	return nil
}
