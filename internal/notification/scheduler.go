package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dealmoa/internal/metrics"
	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/repository"
)

// Scheduler は一致したユーザーごとに通知を作成し、おやすみモード外であれば即時送信する。
// (user_id, deal_id) の一意制約が重複通知を防ぐ唯一のガードであり、制約違反は処理済みとして扱う。
type Scheduler struct {
	notifications repository.NotificationRepository
	dispatcher    Deliverer
	metrics       metrics.MetricsCollector
	loc           *time.Location
	logger        *slog.Logger
	now           func() time.Time
}

// NewScheduler はSchedulerを生成する。locはおやすみモード判定に使うタイムゾーン。
func NewScheduler(
	notifications repository.NotificationRepository,
	dispatcher Deliverer,
	collector metrics.MetricsCollector,
	loc *time.Location,
	logger *slog.Logger,
) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		notifications: notifications,
		dispatcher:    dispatcher,
		metrics:       collector,
		loc:           loc,
		logger:        logger,
		now:           time.Now,
	}
}

// Schedule はディールとユーザーの組に対して通知を1件作成する。
// おやすみモード中はdnd_end時刻を予定時刻とするPENDINGとして保存し、
// それ以外は作成直後に送信する。
func (s *Scheduler) Schedule(ctx context.Context, d *model.Deal, u *model.User, matchedKeywords []string) (Outcome, error) {
	now := s.now().In(s.loc)

	n := &model.Notification{
		ID:              uuid.New().String(),
		UserID:          u.ID,
		DealID:          d.ID,
		Title:           BuildTitle(matchedKeywords),
		Body:            BuildBody(d.Title),
		MatchedKeywords: matchedKeywords,
		Status:          model.NotificationStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	dnd := InDND(u, now)
	if dnd {
		scheduled := NextSendTime(u, now)
		n.ScheduledFor = &scheduled
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		if errors.Is(err, model.ErrConflict) {
			s.logger.Debug("通知済みのためスキップしました",
				slog.String("user_id", u.ID),
				slog.String("deal_id", d.ID),
			)
			s.metrics.RecordNotification(string(OutcomeDuplicate))
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("通知の作成に失敗しました: %w", err)
	}

	if dnd {
		s.logger.Info("おやすみモード中のため通知を予約しました",
			slog.String("notification_id", n.ID),
			slog.String("user_id", u.ID),
			slog.String("deal_id", d.ID),
			slog.Time("scheduled_for", *n.ScheduledFor),
		)
		s.metrics.RecordNotification(string(OutcomePending))
		return OutcomePending, nil
	}

	outcome, err := s.dispatcher.Deliver(ctx, n, model.MatchTypeKeyword)
	if err != nil {
		return "", err
	}
	s.metrics.RecordNotification(string(outcome))
	return outcome, nil
}
