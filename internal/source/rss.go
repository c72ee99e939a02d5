package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/dealmoa/internal/model"
)

// URLGuard はSSRF検証のインターフェース。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// rssCursor はRSSコネクタのカーソル。条件付きGETに使う。
type rssCursor struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// RSSConnector はRSS/Atomフィードを提供するコミュニティ用のコネクタ。
// ETag/Last-Modifiedによる条件付きGETとSSRF検証を行う。
type RSSConnector struct {
	name        string
	feedURL     string
	guard       URLGuard
	client      *http.Client
	logger      *slog.Logger
	maxBodySize int64
}

// NewRSSConnector はRSSConnectorを生成する。
func NewRSSConnector(name, feedURL string, guard URLGuard, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *RSSConnector {
	return &RSSConnector{
		name:        name,
		feedURL:     feedURL,
		guard:       guard,
		client:      guard.NewSafeClient(timeout),
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// Name はコネクタ識別名を返す。
func (c *RSSConnector) Name() string {
	return c.name
}

// BaseURL はフィードURLのスキームとホストを返す。
func (c *RSSConnector) BaseURL() string {
	scheme, rest, ok := strings.Cut(c.feedURL, "://")
	if !ok {
		return c.feedURL
	}
	host, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + host
}

// Fetch はフィードを取得してDealRecordに変換する。
// 304の場合はレコードなしで受け取ったカーソルをそのまま返す。
func (c *RSSConnector) Fetch(ctx context.Context, cursor json.RawMessage) (*Batch, error) {
	if err := c.guard.ValidateURL(c.feedURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	var cur rssCursor
	if len(cursor) > 0 {
		if err := json.Unmarshal(cursor, &cur); err != nil {
			// 壊れたカーソルは初回取得として扱う
			c.logger.Warn("カーソルの解析に失敗しました",
				slog.String("source", c.name),
				slog.String("error", err.Error()),
			)
			cur = rssCursor{}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Dealmoa/1.0 Collector")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")
	if cur.ETag != "" {
		req.Header.Set("If-None-Match", cur.ETag)
	}
	if cur.LastModified != "" {
		req.Header.Set("If-Modified-Since", cur.LastModified)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Batch{Records: []model.DealRecord{}, Cursor: cursor}, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone,
		resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("HTTPステータス %d: %w", resp.StatusCode, ErrSourceStopped)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("予期しないHTTPステータス: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	next := rssCursor{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	var nextCursor json.RawMessage
	if next != (rssCursor{}) {
		nextCursor, err = json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("カーソルのエンコードに失敗: %w", err)
		}
	}

	return &Batch{
		Records: convertFeedItems(c.name, parsed.Items),
		Cursor:  nextCursor,
	}, nil
}

// convertFeedItems はgofeedの記事をDealRecordに変換する。
// GUIDもリンクもない記事は識別できないため捨てる。
func convertFeedItems(sourceName string, items []*gofeed.Item) []model.DealRecord {
	records := make([]model.DealRecord, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		rec := model.DealRecord{
			SourceName: sourceName,
			ExternalID: strings.TrimSpace(item.GUID),
			URL:        strings.TrimSpace(item.Link),
			Title:      strings.TrimSpace(item.Title),
			Content:    item.Content,
		}
		if rec.Content == "" {
			rec.Content = item.Description
		}

		if item.Author != nil {
			rec.Author = item.Author.Name
		}
		if rec.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			rec.Author = item.Authors[0].Name
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			rec.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			rec.PublishedAt = &t
		}

		if rec.URL == "" && (strings.HasPrefix(rec.ExternalID, "http://") || strings.HasPrefix(rec.ExternalID, "https://")) {
			rec.URL = rec.ExternalID
		}
		if rec.ExternalID == "" {
			rec.ExternalID = rec.URL
		}
		if rec.ExternalID == "" {
			continue
		}

		rec.Price = ExtractPrice(rec.Title)

		records = append(records, rec)
	}

	return records
}

var (
	// 12,000원 / 12000원
	wonPattern = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)\s*원`)
	// 12만원 / 1.5만원
	manWonPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*만\s*원`)
)

// ExtractPrice はタイトル中のウォン表記から価格を取り出す。見つからない場合はnilを返す。
func ExtractPrice(title string) *int {
	if m := manWonPattern.FindStringSubmatch(title); m != nil {
		f, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			p := int(f * 10000)
			return &p
		}
	}
	if m := wonPattern.FindStringSubmatch(title); m != nil {
		p, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err == nil {
			return &p
		}
	}
	return nil
}
