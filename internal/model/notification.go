package model

import (
	"encoding/json"
	"time"
)

// NotificationStatus は通知の配信状態を表す。
type NotificationStatus string

const (
	// NotificationStatusPending はおやすみモードにより送信待ちの状態。
	NotificationStatusPending NotificationStatus = "PENDING"
	// NotificationStatusSent はプッシュゲートウェイへ送信済みの状態。
	NotificationStatusSent NotificationStatus = "SENT"
	// NotificationStatusDelivered は端末への到達が確認された状態。
	NotificationStatusDelivered NotificationStatus = "DELIVERED"
	// NotificationStatusClicked はユーザーが通知を開いた状態。
	NotificationStatusClicked NotificationStatus = "CLICKED"
	// NotificationStatusFailed はリトライ上限に達し送信を諦めた状態。
	NotificationStatusFailed NotificationStatus = "FAILED"
)

// MatchType は通知の発生契機。
type MatchType string

const (
	// MatchTypeKeyword はキーワード一致による即時通知。
	MatchTypeKeyword MatchType = "keyword_match"
	// MatchTypeScheduled はおやすみモード明けの予約通知。
	MatchTypeScheduled MatchType = "scheduled"
)

// Notification はユーザーへのディール通知。
// (UserID, DealID) の組で一意であり、同じディールは1ユーザーに最大1回しか通知されない。
type Notification struct {
	ID              string
	UserID          string
	DealID          string // ディール削除後は空文字
	Title           string
	Body            string
	MatchedKeywords []string
	Status          NotificationStatus
	ScheduledFor    *time.Time
	SentAt          *time.Time
	DeliveredAt     *time.Time
	ClickedAt       *time.Time
	ReadAt          *time.Time
	ErrorMessage    string
	PushResponse    json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsRead は既読かどうかを返す。
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// NotificationPage は通知一覧の1ページ分。
type NotificationPage struct {
	Notifications []*Notification
	Total         int
	UnreadCount   int
	Page          int
	PageSize      int
}

// PushMessage はプッシュゲートウェイへの送信要求。
type PushMessage struct {
	DeviceTokens []string
	Title        string
	Body         string
	Data         map[string]string
}

// PushResult はプッシュゲートウェイからの応答。
type PushResult struct {
	Success       int
	Failure       int
	DryRun        bool
	InvalidTokens []string        // 無効化すべきデバイストークン
	Raw           json.RawMessage // 通知レコードに保存する生の応答
}
