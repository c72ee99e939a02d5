// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 通知の処理結果ラベル。
const (
	OutcomeSent      = "sent"
	OutcomePending   = "pending"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeNoDevices = "no_devices"
	OutcomeDryRun    = "dry_run"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordCollectRun(source, status string)
	RecordFetchLatency(duration time.Duration)
	RecordDealIngested(created bool)
	RecordDealSkipped(source string)
	RecordKeywordsExtracted(count int)
	RecordMatches(count int)
	RecordNotification(outcome string)
	RecordPushLatency(duration time.Duration)
	RecordSweepRun(processed int)
	RecordHotScoresRecomputed(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	collectRuns       *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
	dealsIngested     *prometheus.CounterVec
	dealsSkipped      *prometheus.CounterVec
	keywordsExtracted prometheus.Counter
	matches           prometheus.Counter
	notifications     *prometheus.CounterVec
	pushLatency       prometheus.Histogram
	sweepRuns         prometheus.Counter
	sweepProcessed    prometheus.Counter
	hotScores         prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		collectRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealmoa_collect_runs_total",
			Help: "ソース別・結果別の収集実行数",
		}, []string{"source", "status"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealmoa_fetch_latency_seconds",
			Help:    "ソース取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		dealsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealmoa_deals_ingested_total",
			Help: "インジェストされたディール数（created/updated）",
		}, []string{"result"}),
		dealsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealmoa_deals_skipped_total",
			Help: "検証エラー等でスキップされたレコード数",
		}, []string{"source"}),
		keywordsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealmoa_keywords_extracted_total",
			Help: "抽出されたディールキーワードの合計数",
		}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealmoa_matches_total",
			Help: "キーワード一致したユーザー数の合計",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dealmoa_notifications_total",
			Help: "処理結果別の通知数",
		}, []string{"outcome"}),
		pushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dealmoa_push_latency_seconds",
			Help:    "プッシュゲートウェイ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealmoa_sweep_runs_total",
			Help: "送信待ち通知スイープの実行回数",
		}),
		sweepProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealmoa_sweep_processed_total",
			Help: "スイープで処理された通知数",
		}),
		hotScores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dealmoa_hot_scores_recomputed_total",
			Help: "定期再計算されたhot_scoreの件数",
		}),
	}

	reg.MustRegister(
		c.collectRuns,
		c.fetchLatency,
		c.dealsIngested,
		c.dealsSkipped,
		c.keywordsExtracted,
		c.matches,
		c.notifications,
		c.pushLatency,
		c.sweepRuns,
		c.sweepProcessed,
		c.hotScores,
	)

	return c
}

// RecordCollectRun は収集実行の結果を記録する。
func (c *Collector) RecordCollectRun(source, status string) {
	c.collectRuns.WithLabelValues(source, status).Inc()
}

// RecordFetchLatency はソース取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordDealIngested はインジェスト結果を記録する。
func (c *Collector) RecordDealIngested(created bool) {
	if created {
		c.dealsIngested.WithLabelValues("created").Inc()
		return
	}
	c.dealsIngested.WithLabelValues("updated").Inc()
}

// RecordDealSkipped はスキップされたレコードを記録する。
func (c *Collector) RecordDealSkipped(source string) {
	c.dealsSkipped.WithLabelValues(source).Inc()
}

// RecordKeywordsExtracted は抽出キーワード数を記録する。
func (c *Collector) RecordKeywordsExtracted(count int) {
	c.keywordsExtracted.Add(float64(count))
}

// RecordMatches は一致ユーザー数を記録する。
func (c *Collector) RecordMatches(count int) {
	c.matches.Add(float64(count))
}

// RecordNotification は通知の処理結果を記録する。
func (c *Collector) RecordNotification(outcome string) {
	c.notifications.WithLabelValues(outcome).Inc()
}

// RecordPushLatency はプッシュ送信のレイテンシを記録する。
func (c *Collector) RecordPushLatency(duration time.Duration) {
	c.pushLatency.Observe(duration.Seconds())
}

// RecordSweepRun はスイープの実行を記録する。
func (c *Collector) RecordSweepRun(processed int) {
	c.sweepRuns.Inc()
	c.sweepProcessed.Add(float64(processed))
}

// RecordHotScoresRecomputed は再計算件数を記録する。
func (c *Collector) RecordHotScoresRecomputed(count int64) {
	c.hotScores.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// スクレイプ自体の件数と処理中数もregに登録される。
// 一部のコレクタが失敗しても取得できたメトリクスは返す。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:      reg,
		ErrorHandling: promhttp.ContinueOnError,
	}))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordCollectRun(string, string) {}
func (Nop) RecordFetchLatency(time.Duration) {}
func (Nop) RecordDealIngested(bool) {}
func (Nop) RecordDealSkipped(string) {}
func (Nop) RecordKeywordsExtracted(int) {}
func (Nop) RecordMatches(int) {}
func (Nop) RecordNotification(string) {}
func (Nop) RecordPushLatency(time.Duration) {}
func (Nop) RecordSweepRun(int) {}
func (Nop) RecordHotScoresRecomputed(int64) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
