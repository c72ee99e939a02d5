package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// DealProcessor はディール1件を処理する。
type DealProcessor interface {
	Process(ctx context.Context, dealID string) error
}

// Pool はキューからディールIDを取り出して並列に処理するワーカープール。
type Pool struct {
	queue     Queue
	processor DealProcessor
	workers   int
	logger    *slog.Logger
}

// NewPool はPoolを生成する。workersが0以下の場合は1とする。
func NewPool(queue Queue, processor DealProcessor, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		queue:     queue,
		processor: processor,
		workers:   workers,
		logger:    logger,
	}
}

// Run はctxが終了するかキューがクローズされるまでワーカーを実行する。
// 1件の処理失敗はログに残して次に進む。
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("パイプラインワーカーを開始しました",
		slog.Int("workers", p.workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.work(gctx, i)
		})
	}

	err := g.Wait()
	p.logger.Info("パイプラインワーカーを停止しました")
	if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
		return nil
	}
	return err
}

func (p *Pool) work(ctx context.Context, worker int) error {
	for {
		dealID, err := p.queue.Dequeue(ctx)
		if err != nil {
			return err
		}

		if err := p.processor.Process(ctx, dealID); err != nil {
			p.logger.Error("ディールの処理に失敗しました",
				slog.Int("worker", worker),
				slog.String("deal_id", dealID),
				slog.String("error", err.Error()),
			)
		}
	}
}
