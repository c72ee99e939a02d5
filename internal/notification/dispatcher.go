package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dealmoa/internal/metrics"
	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/push"
	"github.com/hitoshi/dealmoa/internal/repository"
)

// Outcome は1件の通知処理の結果。メトリクスのラベルと一致する。
type Outcome string

const (
	OutcomeSent      Outcome = metrics.OutcomeSent
	OutcomePending   Outcome = metrics.OutcomePending
	OutcomeFailed    Outcome = metrics.OutcomeFailed
	OutcomeDuplicate Outcome = metrics.OutcomeDuplicate
	OutcomeNoDevices Outcome = metrics.OutcomeNoDevices
	OutcomeDryRun    Outcome = metrics.OutcomeDryRun
)

// noDevicesResponse は送信先デバイスがない場合にpush_responseへ記録する値。
var noDevicesResponse = json.RawMessage(`{"skipped":true,"reason":"no_devices"}`)

// Gateway はプッシュゲートウェイのインターフェース。
type Gateway interface {
	Send(ctx context.Context, msg model.PushMessage) (*model.PushResult, error)
}

// Deliverer はPENDINGの通知を送信して終端状態へ遷移させる。
type Deliverer interface {
	Deliver(ctx context.Context, n *model.Notification, matchType model.MatchType) (Outcome, error)
}

// Dispatcher はPENDINGの通知をプッシュゲートウェイへ送信する。
// 一時的な失敗は指数バックオフで再試行し、上限に達した場合はFAILEDとする。
// FAILEDやSENTからPENDINGへ戻すことはない。
type Dispatcher struct {
	notifications repository.NotificationRepository
	devices       repository.DeviceRepository
	gateway       Gateway
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	maxRetries    int
	backoff       time.Duration
	now           func() time.Time
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(
	notifications repository.NotificationRepository,
	devices repository.DeviceRepository,
	gateway Gateway,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxRetries int,
	backoff time.Duration,
) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		devices:       devices,
		gateway:       gateway,
		metrics:       collector,
		logger:        logger,
		maxRetries:    maxRetries,
		backoff:       backoff,
		now:           time.Now,
	}
}

// Deliver は通知を送信し、SENTまたはFAILEDへ遷移させる。
// コンテキストのキャンセルで中断した場合はPENDINGのまま残し、スイープで回収する。
func (d *Dispatcher) Deliver(ctx context.Context, n *model.Notification, matchType model.MatchType) (Outcome, error) {
	tokens, err := d.devices.ListActiveTokens(ctx, n.UserID)
	if err != nil {
		return "", fmt.Errorf("デバイストークンの取得に失敗しました: %w", err)
	}

	if len(tokens) == 0 {
		d.logger.Info("有効なデバイスがないため通知を保存のみ行いました",
			slog.String("notification_id", n.ID),
			slog.String("user_id", n.UserID),
		)
		return d.markSent(ctx, n, noDevicesResponse, OutcomeNoDevices)
	}

	msg := model.PushMessage{
		DeviceTokens: tokens,
		Title:        n.Title,
		Body:         n.Body,
		Data:         buildData(n.DealID, string(matchType)),
	}

	start := d.now()
	var result *model.PushResult
	err = retryWithBackoff(ctx, d.maxRetries, d.backoff, isRetryable, func(attempt int) error {
		res, err := d.gateway.Send(ctx, msg)
		if err != nil {
			d.logger.Warn("プッシュ送信に失敗しました",
				slog.String("notification_id", n.ID),
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", d.maxRetries+1),
				slog.String("error", err.Error()),
			)
			return err
		}
		result = res
		return nil
	})
	d.metrics.RecordPushLatency(d.now().Sub(start))

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return d.markFailed(ctx, n, err)
	}

	if len(result.InvalidTokens) > 0 {
		if err := d.devices.Deactivate(ctx, result.InvalidTokens); err != nil {
			d.logger.Error("無効なデバイストークンの無効化に失敗しました",
				slog.String("user_id", n.UserID),
				slog.String("error", err.Error()),
			)
		} else {
			d.logger.Info("無効なデバイストークンを無効化しました",
				slog.String("user_id", n.UserID),
				slog.Int("count", len(result.InvalidTokens)),
			)
		}
	}

	outcome := OutcomeSent
	if result.DryRun {
		outcome = OutcomeDryRun
	}
	return d.markSent(ctx, n, result.Raw, outcome)
}

func (d *Dispatcher) markSent(ctx context.Context, n *model.Notification, raw json.RawMessage, outcome Outcome) (Outcome, error) {
	now := d.now()
	ok, err := d.notifications.MarkSent(ctx, n.ID, now, raw)
	if err != nil {
		return "", err
	}
	if !ok {
		// 他のワーカーが既に遷移させた
		d.logger.Info("通知は既に処理済みです",
			slog.String("notification_id", n.ID),
		)
		return OutcomeDuplicate, nil
	}
	n.Status = model.NotificationStatusSent
	n.SentAt = &now
	n.PushResponse = raw
	return outcome, nil
}

func (d *Dispatcher) markFailed(ctx context.Context, n *model.Notification, cause error) (Outcome, error) {
	d.logger.Error("プッシュ送信を断念しました",
		slog.String("notification_id", n.ID),
		slog.String("user_id", n.UserID),
		slog.String("error", cause.Error()),
	)
	ok, err := d.notifications.MarkFailed(ctx, n.ID, cause.Error(), nil)
	if err != nil {
		return "", err
	}
	if !ok {
		return OutcomeDuplicate, nil
	}
	n.Status = model.NotificationStatusFailed
	n.ErrorMessage = cause.Error()
	return OutcomeFailed, nil
}

// isRetryable はゲートウェイが拒否したエラー以外を再試行対象とする。
func isRetryable(err error) bool {
	return !errors.Is(err, push.ErrRejected) && !errors.Is(err, context.Canceled)
}
