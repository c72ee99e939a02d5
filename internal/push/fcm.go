// Package push はプッシュゲートウェイ（FCMレガシーHTTP API）のクライアントを提供する。
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/dealmoa/internal/model"
)

const (
	// DefaultEndpoint はFCMレガシーHTTP APIの送信エンドポイント。
	DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"
	// maxTokensPerRequest は1リクエストあたりの最大トークン数。
	maxTokensPerRequest = 1000
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
)

// ErrRejected はゲートウェイがリクエスト自体を拒否したことを表す（認証エラー・不正なリクエスト）。
// 再試行しても成功しない。
var ErrRejected = errors.New("プッシュゲートウェイがリクエストを拒否しました")

// FCMのトークン単位エラーのうち、トークンを無効化すべきもの。
var invalidTokenErrors = map[string]bool{
	"NotRegistered":       true,
	"InvalidRegistration": true,
	"MismatchSenderId":    true,
}

// Config はプッシュゲートウェイの設定。
type Config struct {
	ServerKey  string // 空の場合はドライラン
	Endpoint   string
	Timeout    time.Duration
	RatePerSec int
}

// Client はFCMレガシーHTTP APIのクライアント。
// 送信レートはrate.Limiterで制限する。
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient はClientを生成する。httpClientがnilの場合はcfg.Timeoutのクライアントを使う。
func NewClient(httpClient *http.Client, cfg Config, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = cfg.RatePerSec
	}
	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// Configured はサーバーキーが設定されているかを返す。
func (c *Client) Configured() bool {
	return c.cfg.ServerKey != ""
}

type fcmRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Notification    fcmNotification   `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

type fcmResponse struct {
	MulticastID int64       `json:"multicast_id"`
	Success     int         `json:"success"`
	Failure     int         `json:"failure"`
	Results     []fcmResult `json:"results"`
}

type fcmResult struct {
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Send はデバイストークン群に通知を送信する。
// サーバーキー未設定の場合は送信せずログのみ出力し、全件成功のドライラン結果を返す。
// ネットワークエラー・429・5xxは一時的な失敗としてエラーを返す。
func (c *Client) Send(ctx context.Context, msg model.PushMessage) (*model.PushResult, error) {
	if len(msg.DeviceTokens) == 0 {
		raw, _ := json.Marshal(map[string]any{"success": 0, "failure": 0, "skipped": true})
		return &model.PushResult{Raw: raw}, nil
	}

	if !c.Configured() {
		c.logger.Info("プッシュ通知をドライランで処理しました",
			slog.Int("device_count", len(msg.DeviceTokens)),
			slog.String("title", msg.Title),
		)
		raw, _ := json.Marshal(map[string]any{
			"dry_run":      true,
			"success":      len(msg.DeviceTokens),
			"failure":      0,
			"device_count": len(msg.DeviceTokens),
		})
		return &model.PushResult{Success: len(msg.DeviceTokens), DryRun: true, Raw: raw}, nil
	}

	result := &model.PushResult{}
	var responses []fcmResponse
	for start := 0; start < len(msg.DeviceTokens); start += maxTokensPerRequest {
		end := min(start+maxTokensPerRequest, len(msg.DeviceTokens))
		tokens := msg.DeviceTokens[start:end]

		resp, err := c.sendChunk(ctx, tokens, msg)
		if err != nil {
			return nil, err
		}
		responses = append(responses, *resp)

		result.Success += resp.Success
		result.Failure += resp.Failure
		for i, r := range resp.Results {
			if i < len(tokens) && invalidTokenErrors[r.Error] {
				result.InvalidTokens = append(result.InvalidTokens, tokens[i])
			}
		}
	}

	raw, err := json.Marshal(summarize(responses))
	if err != nil {
		return nil, fmt.Errorf("レスポンスのエンコードに失敗しました: %w", err)
	}
	result.Raw = raw
	return result, nil
}

// summarize は分割送信した応答を1件にまとめる。
func summarize(responses []fcmResponse) fcmResponse {
	if len(responses) == 1 {
		return responses[0]
	}
	var out fcmResponse
	for _, r := range responses {
		if out.MulticastID == 0 {
			out.MulticastID = r.MulticastID
		}
		out.Success += r.Success
		out.Failure += r.Failure
		out.Results = append(out.Results, r.Results...)
	}
	return out
}

func (c *Client) sendChunk(ctx context.Context, tokens []string, msg model.PushMessage) (*fcmResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(fcmRequest{
		RegistrationIDs: tokens,
		Notification:    fcmNotification{Title: msg.Title, Body: msg.Body, Sound: "default"},
		Data:            msg.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "key="+c.cfg.ServerKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("プッシュゲートウェイの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("device_count", len(tokens)),
		)
		return nil, fmt.Errorf("プッシュゲートウェイの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.logger.Warn("プッシュゲートウェイが一時的なエラーを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("プッシュゲートウェイがステータス %d を返しました", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		c.logger.Error("プッシュゲートウェイがリクエストを拒否しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("ステータス %d: %w", resp.StatusCode, ErrRejected)
	}

	var out fcmResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return &out, nil
}
