// Package rescore はhot_scoreの定期再計算ジョブを提供する。
// 公開日が直近N日以内のディールについて、経過時間による減衰を反映したhot_scoreを保存し直す。
package rescore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dealmoa/internal/metrics"
)

// DefaultWindowDays は再計算対象とする公開日の遡り日数。
const DefaultWindowDays = 7

// HotScoreRecomputer はhot_scoreを一括再計算するリポジトリ操作。
type HotScoreRecomputer interface {
	RecomputeHotScores(ctx context.Context, since, now time.Time) (int64, error)
}

// Job はhot_scoreの再計算ジョブ。冪等であり、何度実行しても同じ時刻なら同じ結果になる。
type Job struct {
	deals      HotScoreRecomputer
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	WindowDays int
	now        func() time.Time
}

// NewJob は新しいJobを生成する。windowDaysが0以下の場合はデフォルトの7日を使う。
func NewJob(deals HotScoreRecomputer, collector metrics.MetricsCollector, logger *slog.Logger, windowDays int) *Job {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Job{
		deals:      deals,
		metrics:    collector,
		logger:     logger,
		WindowDays: windowDays,
		now:        time.Now,
	}
}

// Run は直近WindowDays日に公開されたディールのhot_scoreを再計算する。
func (j *Job) Run(ctx context.Context) error {
	start := j.now()
	since := start.AddDate(0, 0, -j.WindowDays)

	updated, err := j.deals.RecomputeHotScores(ctx, since, start)
	if err != nil {
		j.logger.Error("hot_score再計算ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("window_days", j.WindowDays),
		)
		return fmt.Errorf("hot_scoreの再計算に失敗: %w", err)
	}
	j.metrics.RecordHotScoresRecomputed(updated)

	j.logger.Info("hot_score再計算ジョブが完了しました",
		slog.Int64("updated_count", updated),
		slog.Int("window_days", j.WindowDays),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}

// Start はinterval間隔でRunを実行する。コンテキストがキャンセルされるまで継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
