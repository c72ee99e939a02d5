package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dealmoa/internal/middleware"
	"github.com/hitoshi/dealmoa/internal/model"
)

// --- モック定義 ---

type mockKeywordService struct {
	addFn       func(ctx context.Context, userID string, in model.KeywordInput) (*model.UserKeyword, error)
	addBatchFn  func(ctx context.Context, userID string, inputs []model.KeywordInput) ([]*model.UserKeyword, error)
	listFn      func(ctx context.Context, userID string) (*model.KeywordSummary, error)
	setActiveFn func(ctx context.Context, userID, keywordID string, active bool) (*model.UserKeyword, error)
	deleteFn    func(ctx context.Context, userID, keywordID string) error
}

func (m *mockKeywordService) Add(ctx context.Context, userID string, in model.KeywordInput) (*model.UserKeyword, error) {
	return m.addFn(ctx, userID, in)
}

func (m *mockKeywordService) AddBatch(ctx context.Context, userID string, inputs []model.KeywordInput) ([]*model.UserKeyword, error) {
	return m.addBatchFn(ctx, userID, inputs)
}

func (m *mockKeywordService) List(ctx context.Context, userID string) (*model.KeywordSummary, error) {
	return m.listFn(ctx, userID)
}

func (m *mockKeywordService) SetActive(ctx context.Context, userID, keywordID string, active bool) (*model.UserKeyword, error) {
	return m.setActiveFn(ctx, userID, keywordID, active)
}

func (m *mockKeywordService) Delete(ctx context.Context, userID, keywordID string) error {
	return m.deleteFn(ctx, userID, keywordID)
}

type mockDealFeed struct {
	matchFn func(ctx context.Context, userID string, page, pageSize int) (*model.DealPage, error)
}

func (m *mockDealFeed) MatchUserToDeals(ctx context.Context, userID string, page, pageSize int) (*model.DealPage, error) {
	return m.matchFn(ctx, userID, page, pageSize)
}

type mockPriceStats struct {
	statisticsFn func(ctx context.Context, dealID string) (*model.PriceStatistics, error)
}

func (m *mockPriceStats) Statistics(ctx context.Context, dealID string) (*model.PriceStatistics, error) {
	return m.statisticsFn(ctx, dealID)
}

type mockInbox struct {
	listFn          func(ctx context.Context, userID string, page, pageSize int) (*model.NotificationPage, error)
	markReadFn      func(ctx context.Context, userID, notificationID string) error
	markAllReadFn   func(ctx context.Context, userID string) (int64, error)
	markClickedFn   func(ctx context.Context, userID, notificationID string) (*model.Notification, error)
	markDeliveredFn func(ctx context.Context, notificationID string) (bool, error)
}

func (m *mockInbox) List(ctx context.Context, userID string, page, pageSize int) (*model.NotificationPage, error) {
	return m.listFn(ctx, userID, page, pageSize)
}

func (m *mockInbox) MarkRead(ctx context.Context, userID, notificationID string) error {
	return m.markReadFn(ctx, userID, notificationID)
}

func (m *mockInbox) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return m.markAllReadFn(ctx, userID)
}

func (m *mockInbox) MarkClicked(ctx context.Context, userID, notificationID string) (*model.Notification, error) {
	return m.markClickedFn(ctx, userID, notificationID)
}

func (m *mockInbox) MarkDelivered(ctx context.Context, notificationID string) (bool, error) {
	return m.markDeliveredFn(ctx, notificationID)
}

type mockDeviceRegistrar struct {
	registered []*model.UserDevice
	err        error
}

func (m *mockDeviceRegistrar) Register(_ context.Context, device *model.UserDevice) error {
	if m.err != nil {
		return m.err
	}
	m.registered = append(m.registered, device)
	return nil
}

type mockUserFinder struct {
	users map[string]*model.User
}

func (m *mockUserFinder) FindByID(_ context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

// --- ヘルパー ---

// withUserID はテスト用にコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}
