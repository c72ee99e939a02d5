package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dealmoa/internal/metrics"
	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/repository"
)

const (
	// DefaultSweepBatchSize は1回の取得で処理する通知数。
	DefaultSweepBatchSize = 200
	// DefaultStaleAfter は即時送信が中断されたとみなすまでの時間。
	DefaultStaleAfter = 10 * time.Minute
	// maxSweepBatches は1回のスイープで処理するバッチ数の上限。
	maxSweepBatches = 50
)

// SweepResult は1回のスイープの集計。
type SweepResult struct {
	Processed int
	Sent      int
	Failed    int
}

// DealFinder は送信直前にディールの状態を確認するためのインターフェース。
type DealFinder interface {
	FindByID(ctx context.Context, id string) (*model.Deal, error)
}

// Sweeper は送信予定時刻を過ぎたPENDING通知を送信する。
// 即時送信の途中で中断されたPENDING通知（scheduled_forなし）もstaleAfter経過後に回収する。
// 予約後にディールが削除・ブロックされた通知は送信せずFAILEDにする。
// 同時に複数実行しないことは呼び出し側で保証する。
type Sweeper struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	deals         DealFinder
	dispatcher    Deliverer
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	batchSize     int
	staleAfter    time.Duration
	now           func() time.Time
}

// NewSweeper はSweeperを生成する。
func NewSweeper(
	notifications repository.NotificationRepository,
	users repository.UserRepository,
	deals DealFinder,
	dispatcher Deliverer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		notifications: notifications,
		users:         users,
		deals:         deals,
		dispatcher:    dispatcher,
		metrics:       collector,
		logger:        logger,
		batchSize:     DefaultSweepBatchSize,
		staleAfter:    DefaultStaleAfter,
		now:           time.Now,
	}
}

// SweepDue は送信期限を迎えたPENDING通知をすべて処理する。
func (s *Sweeper) SweepDue(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	for batch := 0; batch < maxSweepBatches; batch++ {
		now := s.now()
		due, err := s.notifications.ListDuePending(ctx, now, now.Add(-s.staleAfter), s.batchSize)
		if err != nil {
			return result, fmt.Errorf("送信待ち通知の取得に失敗しました: %w", err)
		}

		for _, n := range due {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			outcome, err := s.process(ctx, n)
			if err != nil {
				s.logger.Error("送信待ち通知の処理に失敗しました",
					slog.String("notification_id", n.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			result.Processed++
			switch outcome {
			case OutcomeFailed:
				result.Failed++
			case OutcomeSent, OutcomeNoDevices, OutcomeDryRun:
				result.Sent++
			}
			s.metrics.RecordNotification(string(outcome))
		}

		if len(due) < s.batchSize {
			break
		}
	}

	s.metrics.RecordSweepRun(result.Processed)
	return result, nil
}

func (s *Sweeper) process(ctx context.Context, n *model.Notification) (Outcome, error) {
	u, err := s.users.FindByID(ctx, n.UserID)
	if err != nil {
		return "", err
	}
	if u == nil || !u.IsActive || !u.PushEnabled {
		// 予約後にユーザーが無効化された
		return s.discard(ctx, n, "ユーザーへの通知が無効です", "無効なユーザーの送信待ち通知を破棄しました")
	}

	if reason, err := s.undeliverableDeal(ctx, n.DealID); err != nil {
		return "", err
	} else if reason != "" {
		return s.discard(ctx, n, reason, "配信対象外のディールの送信待ち通知を破棄しました")
	}

	matchType := model.MatchTypeScheduled
	if n.ScheduledFor == nil {
		matchType = model.MatchTypeKeyword
	}
	return s.dispatcher.Deliver(ctx, n, matchType)
}

// undeliverableDeal は送信できないディールであればその理由を返す。
func (s *Sweeper) undeliverableDeal(ctx context.Context, dealID string) (string, error) {
	if dealID == "" {
		return "ディールが指定されていません", nil
	}
	d, err := s.deals.FindByID(ctx, dealID)
	if err != nil {
		return "", fmt.Errorf("ディールの取得に失敗しました: %w", err)
	}
	switch {
	case d == nil:
		return "ディールが存在しません", nil
	case d.DeletedAt != nil:
		return "ディールは削除されています", nil
	case d.IsBlocked:
		return "ディールはブロックされています", nil
	}
	return "", nil
}

func (s *Sweeper) discard(ctx context.Context, n *model.Notification, reason, logMsg string) (Outcome, error) {
	ok, err := s.notifications.MarkFailed(ctx, n.ID, reason, nil)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeDuplicate, nil
	}
	s.logger.Info(logMsg,
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("deal_id", n.DealID),
		slog.String("reason", reason),
	)
	return OutcomeFailed, nil
}
