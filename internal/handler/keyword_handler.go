package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dealmoa/internal/middleware"
	"github.com/hitoshi/dealmoa/internal/model"
)

// KeywordServiceInterface はキーワードハンドラーが必要とするサービスインターフェース。
type KeywordServiceInterface interface {
	Add(ctx context.Context, userID string, in model.KeywordInput) (*model.UserKeyword, error)
	AddBatch(ctx context.Context, userID string, inputs []model.KeywordInput) ([]*model.UserKeyword, error)
	List(ctx context.Context, userID string) (*model.KeywordSummary, error)
	SetActive(ctx context.Context, userID, keywordID string, active bool) (*model.UserKeyword, error)
	Delete(ctx context.Context, userID, keywordID string) error
}

// KeywordHandler はユーザーキーワード管理のHTTPハンドラー。
type KeywordHandler struct {
	service KeywordServiceInterface
}

// NewKeywordHandler はKeywordHandlerを生成する。
func NewKeywordHandler(service KeywordServiceInterface) *KeywordHandler {
	return &KeywordHandler{service: service}
}

// keywordRequest はキーワード登録リクエストの1件分。is_inclusion省略時は包含キーワード。
type keywordRequest struct {
	Keyword     string `json:"keyword"`
	IsInclusion *bool  `json:"is_inclusion,omitempty"`
}

func (k keywordRequest) input() model.KeywordInput {
	inclusion := true
	if k.IsInclusion != nil {
		inclusion = *k.IsInclusion
	}
	return model.KeywordInput{Keyword: k.Keyword, IsInclusion: inclusion}
}

type keywordBatchRequest struct {
	Keywords []keywordRequest `json:"keywords" validate:"required,min=1,dive"`
}

type keywordActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type keywordResponse struct {
	ID          string    `json:"id"`
	Keyword     string    `json:"keyword"`
	IsInclusion bool      `json:"is_inclusion"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type keywordListResponse struct {
	Keywords       []keywordResponse `json:"keywords"`
	Total          int               `json:"total"`
	InclusionCount int               `json:"inclusion_count"`
	ExclusionCount int               `json:"exclusion_count"`
	MaxKeywords    int               `json:"max_keywords"`
}

func toKeywordResponse(kw *model.UserKeyword) keywordResponse {
	return keywordResponse{
		ID:          kw.ID,
		Keyword:     kw.Keyword,
		IsInclusion: kw.IsInclusion,
		IsActive:    kw.IsActive,
		CreatedAt:   kw.CreatedAt,
	}
}

func toKeywordResponses(list []*model.UserKeyword) []keywordResponse {
	out := make([]keywordResponse, len(list))
	for i, kw := range list {
		out[i] = toKeywordResponse(kw)
	}
	return out
}

// ListKeywords は有効なキーワードの一覧を返す。
// GET /api/keywords
func (h *KeywordHandler) ListKeywords(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	summary, err := h.service.List(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, keywordListResponse{
		Keywords:       toKeywordResponses(summary.Keywords),
		Total:          summary.Total,
		InclusionCount: summary.InclusionCount,
		ExclusionCount: summary.ExclusionCount,
		MaxKeywords:    summary.MaxKeywords,
	})
}

// AddKeyword はキーワードを1件登録する。
// POST /api/keywords
func (h *KeywordHandler) AddKeyword(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req keywordRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	kw, err := h.service.Add(r.Context(), userID, req.input())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toKeywordResponse(kw))
}

// AddKeywords はキーワードを一括登録する。1件でも失敗した場合は何も登録しない。
// POST /api/keywords/batch
func (h *KeywordHandler) AddKeywords(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req keywordBatchRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	inputs := make([]model.KeywordInput, len(req.Keywords))
	for i, k := range req.Keywords {
		inputs[i] = k.input()
	}

	created, err := h.service.AddBatch(r.Context(), userID, inputs)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"keywords": toKeywordResponses(created)})
}

// UpdateKeyword はキーワードの有効状態を切り替える。
// PATCH /api/keywords/{id}
func (h *KeywordHandler) UpdateKeyword(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req keywordActiveRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	kw, err := h.service.SetActive(r.Context(), userID, chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeywordResponse(kw))
}

// DeleteKeyword はキーワードを削除する。
// DELETE /api/keywords/{id}
func (h *KeywordHandler) DeleteKeyword(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
