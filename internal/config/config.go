package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// SourceFeed はRSSコネクタで収集するソースの定義。
type SourceFeed struct {
	Name string
	URL  string
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（未設定の場合はプロセス内キューとローカルロックを使う）
	RedisAddr     string
	RedisQueueKey string

	// Price signal
	PriceLowestThreshold  float64
	PriceAverageThreshold float64
	PriceMinHistory       int
	PriceHistoryDays      int

	// Keyword
	MaxUserKeywords     int
	MaxDealKeywords     int
	MaxContentKeywords  int
	ContentExcerptChars int
	MatchWindowDays     int

	// Notification
	NotifyMaxRetries   int
	NotifyRetryBackoff time.Duration
	DNDSweepInterval   time.Duration
	Location           *time.Location

	// Push gateway
	FCMServerKey   string
	FCMEndpoint    string
	PushTimeout    time.Duration
	PushRatePerSec int

	// Pipeline
	PipelineWorkers int

	// Collect
	SourceFeeds          []SourceFeed
	CollectInterval      time.Duration
	CollectMaxConcurrent int
	FetchTimeout         time.Duration
	FetchMaxSize         int64

	// Rescore
	RescoreInterval   time.Duration
	RescoreWindowDays int

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort  string
	MetricsPort string // ワーカーの /metrics 公開ポート

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env があれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisQueueKey = getEnvString("REDIS_QUEUE_KEY", "dealmoa:ingested")
	cfg.PriceLowestThreshold = getEnvFloat("PRICE_LOWEST_THRESHOLD", 0.05)
	cfg.PriceAverageThreshold = getEnvFloat("PRICE_AVERAGE_THRESHOLD", 0.10)
	cfg.PriceMinHistory = getEnvInt("PRICE_MIN_HISTORY", 3)
	cfg.PriceHistoryDays = getEnvInt("PRICE_HISTORY_DAYS", 90)
	cfg.MaxUserKeywords = getEnvInt("MAX_USER_KEYWORDS", 20)
	cfg.MaxDealKeywords = getEnvInt("MAX_DEAL_KEYWORDS", 50)
	cfg.MaxContentKeywords = getEnvInt("MAX_CONTENT_KEYWORDS", 20)
	cfg.ContentExcerptChars = getEnvInt("CONTENT_EXCERPT_CHARS", 500)
	cfg.MatchWindowDays = getEnvInt("MATCH_WINDOW_DAYS", 7)
	cfg.NotifyMaxRetries = getEnvInt("NOTIFY_MAX_RETRIES", 3)
	cfg.NotifyRetryBackoff = getEnvDuration("NOTIFY_RETRY_BACKOFF", 30*time.Second)
	cfg.DNDSweepInterval = getEnvDuration("DND_SWEEP_INTERVAL", time.Minute)
	cfg.FCMServerKey = getEnvString("FCM_SERVER_KEY", "")
	cfg.FCMEndpoint = getEnvString("FCM_ENDPOINT", "https://fcm.googleapis.com/fcm/send")
	cfg.PushTimeout = getEnvDuration("PUSH_TIMEOUT", 10*time.Second)
	cfg.PushRatePerSec = getEnvInt("PUSH_RATE_PER_SEC", 50)
	cfg.PipelineWorkers = getEnvInt("PIPELINE_WORKERS", 4)
	cfg.CollectInterval = getEnvDuration("COLLECT_INTERVAL", 5*time.Minute)
	cfg.CollectMaxConcurrent = getEnvInt("COLLECT_MAX_CONCURRENT", 4)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.RescoreInterval = getEnvDuration("RESCORE_INTERVAL", 15*time.Minute)
	cfg.RescoreWindowDays = getEnvInt("RESCORE_WINDOW_DAYS", 7)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	feeds, err := parseSourceFeeds(os.Getenv("SOURCE_FEEDS"))
	if err != nil {
		return nil, err
	}
	cfg.SourceFeeds = feeds

	loc, err := time.LoadLocation(getEnvString("TIMEZONE", "Asia/Seoul"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	return cfg, nil
}

// parseSourceFeeds は "name=url,name=url" 形式のSOURCE_FEEDSを解析する。
func parseSourceFeeds(v string) ([]SourceFeed, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	var feeds []SourceFeed
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("invalid SOURCE_FEEDS entry: %q", part)
		}
		feeds = append(feeds, SourceFeed{Name: strings.TrimSpace(name), URL: strings.TrimSpace(url)})
	}
	return feeds, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
