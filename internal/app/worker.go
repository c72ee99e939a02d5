package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hitoshi/dealmoa/internal/config"
	"github.com/hitoshi/dealmoa/internal/database"
	"github.com/hitoshi/dealmoa/internal/handler"
	"github.com/hitoshi/dealmoa/internal/ingest"
	"github.com/hitoshi/dealmoa/internal/keyword"
	"github.com/hitoshi/dealmoa/internal/matcher"
	"github.com/hitoshi/dealmoa/internal/metrics"
	"github.com/hitoshi/dealmoa/internal/notification"
	"github.com/hitoshi/dealmoa/internal/pipeline"
	"github.com/hitoshi/dealmoa/internal/push"
	"github.com/hitoshi/dealmoa/internal/repository"
	"github.com/hitoshi/dealmoa/internal/scoring"
	"github.com/hitoshi/dealmoa/internal/security"
	"github.com/hitoshi/dealmoa/internal/source"
	"github.com/hitoshi/dealmoa/internal/worker/collect"
	"github.com/hitoshi/dealmoa/internal/worker/rescore"
	"github.com/hitoshi/dealmoa/internal/worker/sweep"
)

const (
	blacklistCacheTTL = time.Minute
	sweepLockTTL      = 5 * time.Minute
)

// ratePerMinute はreq/min指定をrate.Limitに変換する。
func ratePerMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

func priceSignalConfig(cfg *config.Config) scoring.PriceSignalConfig {
	return scoring.PriceSignalConfig{
		LowestThreshold:  cfg.PriceLowestThreshold,
		AverageThreshold: cfg.PriceAverageThreshold,
		MinHistory:       cfg.PriceMinHistory,
		HistoryDays:      cfg.PriceHistoryDays,
	}
}

// buildConnectors はSOURCE_FEEDSの定義からRSSコネクタを生成する。
func buildConnectors(cfg *config.Config, guard source.URLGuard, logger *slog.Logger) []source.Connector {
	connectors := make([]source.Connector, 0, len(cfg.SourceFeeds))
	for _, f := range cfg.SourceFeeds {
		connectors = append(connectors, source.NewRSSConnector(f.Name, f.URL, guard, logger, cfg.FetchTimeout, cfg.FetchMaxSize))
	}
	return connectors
}

// worker はワーカーモードで動かすジョブ一式。
type worker struct {
	collector *collect.Collector
	pool      *pipeline.Pool
	queue     pipeline.Queue
	rescore   *rescore.Job
	sweep     *sweep.Runner
	registry  http.Handler
}

// buildWorker はワーカーの依存関係を組み立てる。rdbがnilの場合はプロセス内キューとローカルロックを使う。
func buildWorker(cfg *config.Config, repos workerRepos, rdb *goredis.Client, collector metrics.MetricsCollector, logger *slog.Logger) *worker {
	// セキュリティ・抽出
	guard := security.NewURLGuard()
	sanitizer := security.NewTextSanitizer()
	extractor := keyword.NewExtractor(keyword.ExtractorConfig{
		MaxKeywords:         cfg.MaxDealKeywords,
		MaxContentKeywords:  cfg.MaxContentKeywords,
		ContentExcerptChars: cfg.ContentExcerptChars,
	})

	// インジェスト
	scorer := scoring.NewService(repos.deals, repos.deals, repos.history, priceSignalConfig(cfg), logger)
	blacklist := ingest.NewBlacklist(repos.blacklist, blacklistCacheTTL, logger)
	engine := ingest.NewEngine(
		repos.sources, repos.deals, repos.history, repos.dealKeywords,
		source.NewValidator(), sanitizer, blacklist, scorer, extractor, logger,
	)

	// キュー
	var queue pipeline.Queue
	if rdb != nil {
		queue = pipeline.NewRedisQueue(rdb, cfg.RedisQueueKey)
	} else {
		queue = pipeline.NewChannelQueue(0)
	}

	// 通知
	pushClient := push.NewClient(nil, push.Config{
		ServerKey:  cfg.FCMServerKey,
		Endpoint:   cfg.FCMEndpoint,
		Timeout:    cfg.PushTimeout,
		RatePerSec: cfg.PushRatePerSec,
	}, logger)
	dispatcher := notification.NewDispatcher(
		repos.notifications, repos.devices, pushClient, collector, logger,
		cfg.NotifyMaxRetries, cfg.NotifyRetryBackoff,
	)
	scheduler := notification.NewScheduler(repos.notifications, dispatcher, collector, cfg.Location, logger)
	sweeper := notification.NewSweeper(repos.notifications, repos.users, repos.deals, dispatcher, collector, logger)

	var locker sweep.Locker
	if rdb != nil {
		locker = sweep.NewRedisLocker(rdb, sweep.DefaultLockKey, sweepLockTTL)
	}

	// 照合
	dealMatcher := matcher.NewMatcher(repos.users, repos.userKeywords, repos.dealKeywords, repos.deals, cfg.MatchWindowDays, logger)
	processor := pipeline.NewProcessor(repos.deals, dealMatcher, scheduler, collector, logger)

	return &worker{
		collector: collect.NewCollector(
			buildConnectors(cfg, guard, logger), repos.sources, repos.sources,
			engine, queue, collector, logger, cfg.CollectMaxConcurrent,
		),
		pool:    pipeline.NewPool(queue, processor, cfg.PipelineWorkers, logger),
		queue:   queue,
		rescore: rescore.NewJob(repos.deals, collector, logger, cfg.RescoreWindowDays),
		sweep:   sweep.NewRunner(sweeper, locker, logger),
	}
}

// workerRepos はワーカーが使うリポジトリ。
type workerRepos struct {
	sources       *repository.PostgresSourceRepo
	deals         *repository.PostgresDealRepo
	history       *repository.PostgresPriceHistoryRepo
	dealKeywords  *repository.PostgresDealKeywordRepo
	blacklist     *repository.PostgresBlacklistRepo
	users         *repository.PostgresUserRepo
	userKeywords  *repository.PostgresUserKeywordRepo
	notifications *repository.PostgresNotificationRepo
	devices       *repository.PostgresDeviceRepo
}

// run は全ジョブを起動し、ctxの終了まで待つ。
func (w *worker) run(ctx context.Context, cfg *config.Config) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.pool.Run(ctx)
	})
	g.Go(func() error {
		w.collector.Start(ctx, cfg.CollectInterval)
		return nil
	})
	g.Go(func() error {
		w.rescore.Start(ctx, cfg.RescoreInterval)
		return nil
	})
	g.Go(func() error {
		w.sweep.Start(ctx, cfg.DNDSweepInterval)
		return nil
	})
	if w.registry != nil {
		g.Go(func() error {
			return serveMetrics(ctx, ":"+cfg.MetricsPort, w.registry)
		})
	}

	err := g.Wait()
	if cerr := w.queue.Close(); cerr != nil {
		slog.Warn("failed to close queue", slog.String("error", cerr.Error()))
	}
	return err
}

// serveMetrics はワーカーの /metrics と /health を公開し、ctxの終了で停止する。
func serveMetrics(ctx context.Context, addr string, metricsHandler http.Handler) error {
	r := chi.NewRouter()
	r.Get("/health", handler.HealthHandler(nil))
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server starting", slog.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// runWorker はワーカーモードで起動する。
// 収集、照合パイプライン、hot_score再計算、PENDINGスイープを並行して実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 2. Redis（任意）
	rdb, err := database.OpenRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
		slog.Info("redis connection established", slog.String("queue_key", cfg.RedisQueueKey))
	}

	// 3. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 4. リポジトリとジョブの組み立て
	repos := workerRepos{
		sources:       repository.NewPostgresSourceRepo(db),
		deals:         repository.NewPostgresDealRepo(db),
		history:       repository.NewPostgresPriceHistoryRepo(db),
		dealKeywords:  repository.NewPostgresDealKeywordRepo(db),
		blacklist:     repository.NewPostgresBlacklistRepo(db),
		users:         repository.NewPostgresUserRepo(db),
		userKeywords:  repository.NewPostgresUserKeywordRepo(db),
		notifications: repository.NewPostgresNotificationRepo(db),
		devices:       repository.NewPostgresDeviceRepo(db),
	}
	w := buildWorker(cfg, repos, rdb, collector, slog.Default())
	w.registry = metrics.Handler(reg)

	if len(cfg.SourceFeeds) == 0 {
		slog.Warn("SOURCE_FEEDS is empty; collector has no sources")
	}

	slog.Info("worker starting",
		slog.Duration("collect_interval", cfg.CollectInterval),
		slog.Int("collect_max_concurrent", cfg.CollectMaxConcurrent),
		slog.Int("pipeline_workers", cfg.PipelineWorkers),
		slog.Duration("sweep_interval", cfg.DNDSweepInterval),
		slog.Bool("redis", rdb != nil),
	)

	if err := w.run(ctx, cfg); err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}
