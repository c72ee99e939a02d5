// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/dealmoa/internal/middleware"
	"github.com/hitoshi/dealmoa/internal/model"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
	maxRequestBody  = 1 << 20
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// writeJSON はステータスコードとともにJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeRequest はリクエストボディをJSONとして読み込み、validateタグで検証する。
func decodeRequest(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewInvalidRequestError("リクエストボディが空です。")
		}
		return model.NewInvalidRequestError("JSONの解析に失敗しました。")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return model.NewInvalidRequestError(verrs[0].Field() + " が不正です。")
		}
		return model.NewInvalidRequestError(err.Error())
	}
	return nil
}

// parsePage はpageとpage_sizeのクエリを読み込む。範囲の検証はサービス層で行う。
func parsePage(r *http.Request) (int, int, error) {
	page, err := queryInt(r, "page", defaultPage)
	if err != nil {
		return 0, 0, model.NewInvalidPageError("pageは整数で指定してください。")
	}
	pageSize, err := queryInt(r, "page_size", defaultPageSize)
	if err != nil {
		return 0, 0, model.NewInvalidPageError("page_sizeは整数で指定してください。")
	}
	return page, pageSize, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// requireUserID はコンテキストのユーザーIDを返す。見つからない場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUserNotFoundError())
		return "", false
	}
	return userID, true
}
