// Package collect はソースコネクタの定期収集を提供する。
// ソースごとにカーソルを読み込んで取得し、レコードをインジェストして
// 新規ディールをパイプラインのキューへ投入する。
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dealmoa/internal/ingest"
	"github.com/hitoshi/dealmoa/internal/metrics"
	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/repository"
	"github.com/hitoshi/dealmoa/internal/source"
)

// Ingester はDealRecordを保存する。
type Ingester interface {
	Ingest(ctx context.Context, rec model.DealRecord) (*ingest.Result, error)
}

// Enqueuer は新規ディールをパイプラインへ投入する。
type Enqueuer interface {
	Enqueue(ctx context.Context, dealID string) error
}

// Collector はコネクタの収集サイクルを実行する。
// semaphoreパターンで同時に取得するソース数を制御する。
type Collector struct {
	connectors     []source.Connector
	sources        repository.SourceRepository
	state          repository.SourceStateRepository
	ingester       Ingester
	queue          Enqueuer
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	backoff        *backoffTracker
	now            func() time.Time
}

// NewCollector はCollectorを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewCollector(
	connectors []source.Connector,
	sources repository.SourceRepository,
	state repository.SourceStateRepository,
	ingester Ingester,
	queue Enqueuer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
) *Collector {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Collector{
		connectors:     connectors,
		sources:        sources,
		state:          state,
		ingester:       ingester,
		queue:          queue,
		metrics:        collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		backoff:        newBackoffTracker(),
		now:            time.Now,
	}
}

// Start はinterval間隔で収集サイクルを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("収集スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("sources", len(c.connectors)),
		slog.Int("max_concurrency", c.maxConcurrency),
	)

	// 起動直後に1回実行
	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("収集スケジューラを停止しました")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce はバックオフ中・停止中でないすべてのソースを1回ずつ収集する。
// 個々のソースの失敗はログに残し、他のソースの収集は継続する。
func (c *Collector) RunOnce(ctx context.Context) {
	start := c.now()

	var due []source.Connector
	for _, conn := range c.connectors {
		if c.backoff.due(conn.Name(), start) {
			due = append(due, conn)
		}
	}
	if len(due) == 0 {
		c.logger.Info("収集対象のソースはありません")
		return
	}

	sem := make(chan struct{}, c.maxConcurrency)
	var wg sync.WaitGroup

	for _, conn := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(conn source.Connector) {
			defer wg.Done()
			defer func() { <-sem }()

			run, err := c.CollectSource(ctx, conn)
			if err != nil {
				c.logger.Error("ソースの収集に失敗しました",
					slog.String("source", conn.Name()),
					slog.String("error", err.Error()),
				)
				return
			}
			c.logger.Info("ソースの収集が完了しました",
				slog.String("source", conn.Name()),
				slog.String("status", string(run.Status)),
				slog.Int("found", run.ItemsFound),
				slog.Int("new", run.ItemsNew),
				slog.Int("updated", run.ItemsUpdated),
				slog.Int("skipped", run.ItemsSkipped),
				slog.Int("errors", run.ErrorCount),
			)
		}(conn)
	}

	wg.Wait()

	c.logger.Info("収集サイクルが完了しました",
		slog.Int("source_count", len(due)),
		slog.Float64("duration_ms", float64(c.now().Sub(start).Milliseconds())),
	)
}

// CollectSource は1つのソースを収集し、実行記録を返す。
// レコードのインジェストに1件でも失敗した場合はカーソルを進めず、次回同じ範囲を再取得する。
func (c *Collector) CollectSource(ctx context.Context, conn source.Connector) (*model.CrawlRun, error) {
	src, err := c.sources.Ensure(ctx, conn.Name(), conn.Name(), conn.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("ソースの登録に失敗しました: %w", err)
	}

	run := &model.CrawlRun{
		ID:        uuid.New().String(),
		SourceID:  src.ID,
		Status:    model.CrawlRunStatusRunning,
		StartedAt: c.now(),
	}
	if err := c.state.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("収集実行の記録に失敗しました: %w", err)
	}

	cursor, err := c.state.LoadCursor(ctx, src.ID)
	if err != nil {
		return c.finish(ctx, conn, run, fmt.Errorf("カーソルの読み込みに失敗しました: %w", err))
	}

	fetchStart := c.now()
	batch, err := conn.Fetch(ctx, cursor)
	c.metrics.RecordFetchLatency(c.now().Sub(fetchStart))
	if err != nil {
		delay := c.backoff.failure(conn.Name(), err, c.now())
		if errors.Is(err, source.ErrSourceStopped) {
			c.logger.Error("ソースの収集を停止しました",
				slog.String("source", conn.Name()),
				slog.String("error", err.Error()),
			)
		} else {
			c.logger.Warn("ソースの取得に失敗したためバックオフします",
				slog.String("source", conn.Name()),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}
		return c.finish(ctx, conn, run, err)
	}
	c.backoff.success(conn.Name())

	run.ItemsFound = len(batch.Records)
	var lastErr error
	for _, rec := range batch.Records {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			run.ErrorCount++
			break
		}
		c.ingestRecord(ctx, conn.Name(), rec, run, &lastErr)
	}

	if run.ErrorCount == 0 && batch.Cursor != nil {
		if err := c.state.SaveCursor(ctx, src.ID, batch.Cursor); err != nil {
			run.ErrorCount++
			lastErr = fmt.Errorf("カーソルの保存に失敗しました: %w", err)
		}
	}

	if lastErr != nil {
		run.ErrorMessage = lastErr.Error()
	}
	run.Finish(c.now())
	if err := c.state.FinishRun(ctx, run); err != nil {
		c.logger.Error("収集実行の終了記録に失敗しました",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
	c.metrics.RecordCollectRun(conn.Name(), string(run.Status))
	return run, nil
}

func (c *Collector) ingestRecord(ctx context.Context, sourceName string, rec model.DealRecord, run *model.CrawlRun, lastErr *error) {
	res, err := c.ingester.Ingest(ctx, rec)
	if errors.Is(err, ingest.ErrInvalidRecord) {
		run.ItemsSkipped++
		c.metrics.RecordDealSkipped(sourceName)
		c.logger.Warn("不正なレコードをスキップしました",
			slog.String("source", sourceName),
			slog.String("external_id", rec.ExternalID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err != nil {
		run.ErrorCount++
		*lastErr = err
		c.logger.Error("レコードのインジェストに失敗しました",
			slog.String("source", sourceName),
			slog.String("external_id", rec.ExternalID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.metrics.RecordDealIngested(res.Created)
	if res.Created {
		run.ItemsNew++
	} else {
		run.ItemsUpdated++
	}
	if len(res.Keywords) > 0 {
		c.metrics.RecordKeywordsExtracted(len(res.Keywords))
	}

	// 新規ディールに加え、前回照合まで到達しなかったディールも投入する
	if !res.NeedsMatching {
		return
	}
	if err := c.queue.Enqueue(ctx, res.Deal.ID); err != nil {
		// 照合は取りこぼすが、ディール自体は保存済み
		run.ErrorCount++
		*lastErr = err
		c.logger.Error("ディールのキュー投入に失敗しました",
			slog.String("deal_id", res.Deal.ID),
			slog.String("error", err.Error()),
		)
	}
}

// finish は取得前に失敗した実行を終了させる。
func (c *Collector) finish(ctx context.Context, conn source.Connector, run *model.CrawlRun, cause error) (*model.CrawlRun, error) {
	run.ErrorCount++
	run.ErrorMessage = cause.Error()
	run.Finish(c.now())
	if err := c.state.FinishRun(ctx, run); err != nil {
		c.logger.Error("収集実行の終了記録に失敗しました",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
	c.metrics.RecordCollectRun(conn.Name(), string(run.Status))
	return run, cause
}
