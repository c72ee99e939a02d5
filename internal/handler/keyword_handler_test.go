package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/dealmoa/internal/model"
)

func TestKeywordHandler_AddKeyword_DefaultsToInclusion(t *testing.T) {
	var got model.KeywordInput
	svc := &mockKeywordService{
		addFn: func(ctx context.Context, userID string, in model.KeywordInput) (*model.UserKeyword, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			got = in
			return &model.UserKeyword{ID: "kw-1", Keyword: "맥북", IsInclusion: true, IsActive: true, CreatedAt: time.Now()}, nil
		},
	}
	h := NewKeywordHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/keywords", bytes.NewBufferString(`{"keyword":"맥북"}`))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()
	h.AddKeyword(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if diff := cmp.Diff(model.KeywordInput{Keyword: "맥북", IsInclusion: true}, got); diff != "" {
		t.Errorf("input mismatch (-want +got):\n%s", diff)
	}

	var body keywordResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.ID != "kw-1" || !body.IsActive {
		t.Errorf("body = %+v", body)
	}
}

func TestKeywordHandler_AddKeyword_ServiceErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		want     int
	}{
		{"empty", model.NewKeywordEmptyError(), model.ErrCodeKeywordEmpty, http.StatusBadRequest},
		{"limit", model.NewKeywordLimitError(20), model.ErrCodeKeywordLimit, http.StatusUnprocessableEntity},
		{"duplicate", model.NewDuplicateKeywordError("맥북"), model.ErrCodeDuplicateKeyword, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockKeywordService{
				addFn: func(context.Context, string, model.KeywordInput) (*model.UserKeyword, error) {
					return nil, tt.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/api/keywords", bytes.NewBufferString(`{"keyword":"x","is_inclusion":false}`))
			req = withUserID(req, "user-1")
			w := httptest.NewRecorder()
			NewKeywordHandler(svc).AddKeyword(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

func TestKeywordHandler_AddKeyword_InvalidJSON(t *testing.T) {
	svc := &mockKeywordService{
		addFn: func(context.Context, string, model.KeywordInput) (*model.UserKeyword, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/keywords", bytes.NewBufferString(`{"keyword":`))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()
	NewKeywordHandler(svc).AddKeyword(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != model.ErrCodeInvalidRequest {
		t.Errorf("code = %q", body["code"])
	}
}

func TestKeywordHandler_AddKeywords_Batch(t *testing.T) {
	svc := &mockKeywordService{
		addBatchFn: func(ctx context.Context, userID string, inputs []model.KeywordInput) ([]*model.UserKeyword, error) {
			want := []model.KeywordInput{
				{Keyword: "맥북", IsInclusion: true},
				{Keyword: "리퍼", IsInclusion: false},
			}
			if diff := cmp.Diff(want, inputs); diff != "" {
				t.Errorf("inputs mismatch (-want +got):\n%s", diff)
			}
			out := make([]*model.UserKeyword, len(inputs))
			for i, in := range inputs {
				out[i] = &model.UserKeyword{ID: in.Keyword, Keyword: in.Keyword, IsInclusion: in.IsInclusion, IsActive: true}
			}
			return out, nil
		},
	}

	body := `{"keywords":[{"keyword":"맥북"},{"keyword":"리퍼","is_inclusion":false}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/keywords/batch", bytes.NewBufferString(body))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()
	NewKeywordHandler(svc).AddKeywords(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var resp struct {
		Keywords []keywordResponse `json:"keywords"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(resp.Keywords) != 2 {
		t.Errorf("keywords = %d, want 2", len(resp.Keywords))
	}
}

func TestKeywordHandler_AddKeywords_EmptyBatchRejected(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/keywords/batch", bytes.NewBufferString(`{"keywords":[]}`))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()
	NewKeywordHandler(&mockKeywordService{}).AddKeywords(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestKeywordHandler_ListKeywords(t *testing.T) {
	svc := &mockKeywordService{
		listFn: func(ctx context.Context, userID string) (*model.KeywordSummary, error) {
			return &model.KeywordSummary{
				Keywords: []*model.UserKeyword{
					{ID: "kw-1", Keyword: "맥북", IsInclusion: true, IsActive: true},
					{ID: "kw-2", Keyword: "리퍼", IsInclusion: false, IsActive: true},
				},
				Total:          2,
				InclusionCount: 1,
				ExclusionCount: 1,
				MaxKeywords:    20,
			}, nil
		},
	}
	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/keywords", nil), "user-1")
	w := httptest.NewRecorder()
	NewKeywordHandler(svc).ListKeywords(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body keywordListResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Total != 2 || body.InclusionCount != 1 || body.ExclusionCount != 1 || body.MaxKeywords != 20 {
		t.Errorf("body = %+v", body)
	}
}

func TestKeywordHandler_UpdateKeyword(t *testing.T) {
	svc := &mockKeywordService{
		setActiveFn: func(ctx context.Context, userID, keywordID string, active bool) (*model.UserKeyword, error) {
			if keywordID != "kw-1" || active {
				t.Errorf("SetActive(%q, %v)", keywordID, active)
			}
			return &model.UserKeyword{ID: keywordID, Keyword: "맥북", IsActive: active}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPatch, "/api/keywords/kw-1", bytes.NewBufferString(`{"is_active":false}`))
	req = withChiURLParam(withUserID(req, "user-1"), "id", "kw-1")
	w := httptest.NewRecorder()
	NewKeywordHandler(svc).UpdateKeyword(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestKeywordHandler_UpdateKeyword_MissingField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPatch, "/api/keywords/kw-1", bytes.NewBufferString(`{}`))
	req = withChiURLParam(withUserID(req, "user-1"), "id", "kw-1")
	w := httptest.NewRecorder()
	NewKeywordHandler(&mockKeywordService{}).UpdateKeyword(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestKeywordHandler_DeleteKeyword(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"deleted", nil, http.StatusNoContent},
		{"not found", model.NewKeywordNotFoundError("kw-9"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockKeywordService{
				deleteFn: func(context.Context, string, string) error { return tt.err },
			}
			req := httptest.NewRequest(http.MethodDelete, "/api/keywords/kw-9", nil)
			req = withChiURLParam(withUserID(req, "user-1"), "id", "kw-9")
			w := httptest.NewRecorder()
			NewKeywordHandler(svc).DeleteKeyword(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestKeywordHandler_NoUser_Returns401(t *testing.T) {
	w := httptest.NewRecorder()
	NewKeywordHandler(&mockKeywordService{}).ListKeywords(w, httptest.NewRequest(http.MethodGet, "/api/keywords", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
