// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// TimeOfDay はタイムゾーンを持たない時刻（時:分）を表す。
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay は "HH:MM" または "HH:MM:SS" 形式の文字列をTimeOfDayに変換する。
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	n, _ := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	if n < 2 {
		return TimeOfDay{}, fmt.Errorf("時刻の形式が不正です: %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("時刻の範囲が不正です: %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Minutes は0時からの経過分を返す。
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// String は "HH:MM" 形式で返す。
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On は指定日のlocにおける同時刻を返す。
func (t TimeOfDay) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// User は通知を受け取るユーザーを表す。
type User struct {
	ID          string
	Email       string
	Nickname    string
	IsActive    bool
	PushEnabled bool
	DNDEnabled  bool
	DNDStart    TimeOfDay
	DNDEnd      TimeOfDay
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DefaultDNDStart と DefaultDNDEnd は新規ユーザーのおやすみモード初期値。
var (
	DefaultDNDStart = TimeOfDay{Hour: 23}
	DefaultDNDEnd   = TimeOfDay{Hour: 7}
)

// UserKeyword はユーザーが登録した関心キーワード。
// IsInclusion=false の場合は除外キーワードとして扱う。
type UserKeyword struct {
	ID          string
	UserID      string
	Keyword     string // 正規化済み
	IsInclusion bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// KeywordInput はキーワード登録リクエストの1件分。
type KeywordInput struct {
	Keyword     string
	IsInclusion bool
}

// KeywordSummary はユーザーのキーワード一覧と件数。
type KeywordSummary struct {
	Keywords       []*UserKeyword
	Total          int
	InclusionCount int
	ExclusionCount int
	MaxKeywords    int
}

// UserDevice はプッシュ通知の送信先デバイス。
type UserDevice struct {
	ID          string
	UserID      string
	DeviceToken string
	Platform    string // ios, android, web
	IsActive    bool
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}
