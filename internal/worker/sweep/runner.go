// Package sweep は送信待ち通知の定期スイープを提供する。
// 同時に実行されるスイープは常に1つだけとなるようロックを取得してから実行する。
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/dealmoa/internal/notification"
)

// DueSweeper は送信期限を迎えた通知を処理する。
type DueSweeper interface {
	SweepDue(ctx context.Context) (notification.SweepResult, error)
}

// Runner はロックを取得してスイープを実行する。
type Runner struct {
	sweeper DueSweeper
	locker  Locker
	logger  *slog.Logger
}

// NewRunner はRunnerを生成する。lockerがnilの場合はLocalLockerを使う。
func NewRunner(sweeper DueSweeper, locker Locker, logger *slog.Logger) *Runner {
	if locker == nil {
		locker = &LocalLocker{}
	}
	return &Runner{sweeper: sweeper, locker: locker, logger: logger}
}

// RunOnce はロックを取得できた場合のみスイープを1回実行する。
// 実行した場合はtrueを返す。
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	unlock, ok, err := r.locker.TryLock(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		r.logger.Debug("他のスイープが実行中のためスキップしました")
		return false, nil
	}
	defer unlock()

	result, err := r.sweeper.SweepDue(ctx)
	if err != nil {
		return true, err
	}
	if result.Processed > 0 {
		r.logger.Info("送信待ち通知のスイープが完了しました",
			slog.Int("processed", result.Processed),
			slog.Int("sent", result.Sent),
			slog.Int("failed", result.Failed),
		)
	}
	return true, nil
}

// Start はinterval間隔でスイープを実行する。コンテキストがキャンセルされるまで継続する。
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("スイープを開始しました", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("スイープを停止しました")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("スイープの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
