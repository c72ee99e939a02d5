package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dealmoa/internal/middleware"
	"github.com/hitoshi/dealmoa/internal/model"
)

// InboxInterface は通知ハンドラーが必要とするサービスインターフェース。
type InboxInterface interface {
	List(ctx context.Context, userID string, page, pageSize int) (*model.NotificationPage, error)
	MarkRead(ctx context.Context, userID, notificationID string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	MarkClicked(ctx context.Context, userID, notificationID string) (*model.Notification, error)
	MarkDelivered(ctx context.Context, notificationID string) (bool, error)
}

// NotificationHandler は通知受信箱のHTTPハンドラー。
type NotificationHandler struct {
	inbox InboxInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(inbox InboxInterface) *NotificationHandler {
	return &NotificationHandler{inbox: inbox}
}

type notificationResponse struct {
	ID              string     `json:"id"`
	DealID          string     `json:"deal_id,omitempty"`
	Title           string     `json:"title"`
	Body            string     `json:"body"`
	MatchedKeywords []string   `json:"matched_keywords"`
	Status          string     `json:"status"`
	IsRead          bool       `json:"is_read"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	ClickedAt       *time.Time `json:"clicked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type notificationPageResponse struct {
	Notifications []notificationResponse `json:"notifications"`
	Total         int                    `json:"total"`
	UnreadCount   int                    `json:"unread_count"`
	Page          int                    `json:"page"`
	PageSize      int                    `json:"page_size"`
}

func toNotificationResponse(n *model.Notification) notificationResponse {
	keywords := n.MatchedKeywords
	if keywords == nil {
		keywords = []string{}
	}
	return notificationResponse{
		ID:              n.ID,
		DealID:          n.DealID,
		Title:           n.Title,
		Body:            n.Body,
		MatchedKeywords: keywords,
		Status:          string(n.Status),
		IsRead:          n.IsRead(),
		ScheduledFor:    n.ScheduledFor,
		SentAt:          n.SentAt,
		ClickedAt:       n.ClickedAt,
		CreatedAt:       n.CreatedAt,
	}
}

// ListNotifications は通知を新しい順に返す。
// GET /api/notifications?page=1&page_size=20
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	page, pageSize, err := parsePage(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	result, err := h.inbox.List(r.Context(), userID, page, pageSize)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	list := make([]notificationResponse, len(result.Notifications))
	for i, n := range result.Notifications {
		list[i] = toNotificationResponse(n)
	}
	writeJSON(w, http.StatusOK, notificationPageResponse{
		Notifications: list,
		Total:         result.Total,
		UnreadCount:   result.UnreadCount,
		Page:          result.Page,
		PageSize:      result.PageSize,
	})
}

// MarkRead は通知を既読にする。
// POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.inbox.MarkRead(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead は未読の通知をすべて既読にする。
// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	n, err := h.inbox.MarkAllRead(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated_count": n})
}

// MarkClicked は通知を開封済みにする。
// POST /api/notifications/{id}/click
func (h *NotificationHandler) MarkClicked(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	n, err := h.inbox.MarkClicked(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationResponse(n))
}

// MarkDelivered は端末到達の受信通知を記録する。SENT以外の通知には何もしない。
// POST /api/notifications/{id}/delivered
func (h *NotificationHandler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}

	updated, err := h.inbox.MarkDelivered(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
}
