// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, keyword, notification, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeKeywordEmpty         = "KEYWORD_EMPTY"
	ErrCodeKeywordLimit         = "KEYWORD_LIMIT"
	ErrCodeDuplicateKeyword     = "DUPLICATE_KEYWORD"
	ErrCodeKeywordNotFound      = "KEYWORD_NOT_FOUND"
	ErrCodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	ErrCodeNotificationNotSent  = "NOTIFICATION_NOT_SENT"
	ErrCodeDealNotFound         = "DEAL_NOT_FOUND"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeInvalidPage          = "INVALID_PAGE"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
)

// ErrConflict は一意制約違反を表す。
// 呼び出し元では「既に存在する」として冪等に扱う。
var ErrConflict = errors.New("一意制約に違反しました")

// ErrNotFound は参照先のレコードが存在しないことを表す。
var ErrNotFound = errors.New("レコードが見つかりません")

// ErrKeywordLimit は有効キーワード数が上限に達していることを表す。
var ErrKeywordLimit = errors.New("有効キーワード数の上限に達しています")

// NewKeywordEmptyError は空キーワードのエラーを生成する。
func NewKeywordEmptyError() *APIError {
	return &APIError{
		Code:     ErrCodeKeywordEmpty,
		Message:  "キーワードが空です。",
		Category: "validation",
		Action:   "1文字以上のキーワードを入力してください。",
	}
}

// NewKeywordLimitError はキーワード登録上限エラーを生成する。
func NewKeywordLimitError(max int) *APIError {
	return &APIError{
		Code:     ErrCodeKeywordLimit,
		Message:  fmt.Sprintf("有効なキーワード数が上限（%d件）に達しています。", max),
		Category: "keyword",
		Action:   "不要なキーワードを削除または無効化してから登録してください。",
	}
}

// NewDuplicateKeywordError は登録済みキーワードの重複エラーを生成する。
func NewDuplicateKeywordError(keyword string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateKeyword,
		Message:  fmt.Sprintf("このキーワードは既に登録されています: %s", keyword),
		Category: "keyword",
		Action:   "キーワード一覧から該当キーワードを確認してください。",
	}
}

// NewKeywordNotFoundError はキーワード未検出エラーを生成する。
func NewKeywordNotFoundError(keywordID string) *APIError {
	return &APIError{
		Code:     ErrCodeKeywordNotFound,
		Message:  fmt.Sprintf("指定されたキーワードが見つかりません: %s", keywordID),
		Category: "keyword",
		Action:   "キーワードIDを確認してください。",
	}
}

// NewNotificationNotFoundError は通知未検出エラーを生成する。
func NewNotificationNotFoundError(notificationID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotFound,
		Message:  fmt.Sprintf("指定された通知が見つかりません: %s", notificationID),
		Category: "notification",
		Action:   "通知IDを確認してください。",
	}
}

// NewNotificationNotSentError は未送信の通知を開封しようとした場合のエラーを生成する。
func NewNotificationNotSentError(notificationID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotificationNotSent,
		Message:  fmt.Sprintf("この通知はまだ送信されていません: %s", notificationID),
		Category: "notification",
		Action:   "送信済みの通知のみ開封できます。",
	}
}

// NewDealNotFoundError はディール未検出エラーを生成する。
func NewDealNotFoundError(dealID string) *APIError {
	return &APIError{
		Code:     ErrCodeDealNotFound,
		Message:  fmt.Sprintf("指定されたディールが見つかりません: %s", dealID),
		Category: "deal",
		Action:   "ディールが削除されていないか確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidPageError は不正なページ指定のエラーを生成する。
func NewInvalidPageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPage,
		Message:  fmt.Sprintf("無効なページ指定です: %s", reason),
		Category: "validation",
		Action:   "page は1以上、page_size は1から100の範囲で指定してください。",
	}
}

// NewInvalidRequestError はリクエストボディ不正のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}
