package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dealmoa/internal/middleware"
	"github.com/hitoshi/dealmoa/internal/model"
)

// DealFeedInterface はユーザーに一致するディール一覧を返すインターフェース。
type DealFeedInterface interface {
	MatchUserToDeals(ctx context.Context, userID string, page, pageSize int) (*model.DealPage, error)
}

// PriceStatisticsInterface はディールの価格統計を返すインターフェース。
type PriceStatisticsInterface interface {
	Statistics(ctx context.Context, dealID string) (*model.PriceStatistics, error)
}

// DealHandler はディール参照のHTTPハンドラー。
type DealHandler struct {
	feed  DealFeedInterface
	stats PriceStatisticsInterface
}

// NewDealHandler はDealHandlerを生成する。
func NewDealHandler(feed DealFeedInterface, stats PriceStatisticsInterface) *DealHandler {
	return &DealHandler{feed: feed, stats: stats}
}

type dealResponse struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Author        string    `json:"author,omitempty"`
	Price         *int      `json:"price"`
	OriginalPrice *int      `json:"original_price"`
	DiscountRate  *float64  `json:"discount_rate"`
	Upvotes       int       `json:"upvotes"`
	Downvotes     int       `json:"downvotes"`
	CommentCount  int       `json:"comment_count"`
	ViewCount     int       `json:"view_count"`
	HotScore      float64   `json:"hot_score"`
	PriceSignal   string    `json:"price_signal"`
	PublishedAt   time.Time `json:"published_at"`
}

type dealPageResponse struct {
	Deals      []dealResponse `json:"deals"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

type priceStatisticsResponse struct {
	DealID      string  `json:"deal_id"`
	Lowest      int     `json:"lowest"`
	Highest     int     `json:"highest"`
	Average     float64 `json:"average"`
	Current     *int    `json:"current"`
	RecordCount int     `json:"record_count"`
}

func toDealResponse(d *model.Deal) dealResponse {
	return dealResponse{
		ID:            d.ID,
		URL:           d.URL,
		Title:         d.Title,
		Author:        d.Author,
		Price:         d.Price,
		OriginalPrice: d.OriginalPrice,
		DiscountRate:  d.DiscountRate,
		Upvotes:       d.Upvotes,
		Downvotes:     d.Downvotes,
		CommentCount:  d.CommentCount,
		ViewCount:     d.ViewCount,
		HotScore:      d.HotScore,
		PriceSignal:   string(d.PriceSignal),
		PublishedAt:   d.PublishedAt,
	}
}

// Feed はユーザーのキーワードに一致する直近のディールを返す。
// GET /api/deals/feed?page=1&page_size=20
func (h *DealHandler) Feed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	page, pageSize, err := parsePage(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	result, err := h.feed.MatchUserToDeals(r.Context(), userID, page, pageSize)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	deals := make([]dealResponse, len(result.Deals))
	for i, d := range result.Deals {
		deals[i] = toDealResponse(d)
	}
	writeJSON(w, http.StatusOK, dealPageResponse{
		Deals:      deals,
		Total:      result.Total,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalPages: result.TotalPages,
	})
}

// PriceStatistics はディールの価格統計を返す。
// GET /api/deals/{id}/price-stats
func (h *DealHandler) PriceStatistics(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "id")

	stats, err := h.stats.Statistics(r.Context(), dealID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, priceStatisticsResponse{
		DealID:      dealID,
		Lowest:      stats.Lowest,
		Highest:     stats.Highest,
		Average:     stats.Average,
		Current:     stats.Current,
		RecordCount: stats.RecordCount,
	})
}
