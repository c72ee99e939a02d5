// Package model はドメインモデルを定義する。
package model

import "time"

// PriceSignal は価格履歴に基づく価格評価を表す。
type PriceSignal string

const (
	// PriceSignalLowest は履歴上の最安値圏であることを示す。
	PriceSignalLowest PriceSignal = "lowest"
	// PriceSignalAverage は平均的な価格帯であることを示す。
	PriceSignalAverage PriceSignal = "average"
	// PriceSignalHigh は平均より高い価格であることを示す。
	PriceSignalHigh PriceSignal = "high"
	// PriceSignalNone は履歴不足などで評価できないことを示す。
	PriceSignalNone PriceSignal = "none"
)

// Source はディールの取得元コミュニティを表す。
type Source struct {
	ID          string
	Name        string // コネクタ識別名（例: ppomppu）
	DisplayName string
	BaseURL     string
	IsActive    bool
	CreatedAt   time.Time
}

// Deal はコミュニティに投稿されたディールを表す。
// (SourceID, ExternalID) の組で一意。
type Deal struct {
	ID            string
	SourceID      string
	ExternalID    string
	URL           string
	Title         string
	Content       string // HTML除去済みテキスト
	Author        string
	ProductName   string
	Price         *int
	OriginalPrice *int
	DiscountRate  *float64

	Upvotes       int
	Downvotes     int
	CommentCount  int
	ViewCount     int
	BookmarkCount int

	HotScore    float64
	PriceSignal PriceSignal

	PublishedAt     time.Time
	IsDateEstimated bool
	IsActive        bool
	IsBlocked       bool
	BlockReason     string
	DeletedAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// パイプラインの進行記録。NULLの段階は次回のインジェストで再実行される。
	KeywordsExtractedAt *time.Time
	MatchedAt           *time.Time
}

// DealRecord はソースコネクタから受け取る未保存のディールデータ。
// インジェスト前にバリデーションされる。
type DealRecord struct {
	SourceName    string     `validate:"required,max=50"`
	ExternalID    string     `validate:"required,max=255"`
	URL           string     `validate:"required,url"`
	Title         string     `validate:"required"`
	Content       string     // 未サニタイズのHTML
	Author        string     `validate:"max=100"`
	ProductName   string     `validate:"max=500"`
	PublishedAt   *time.Time
	Price         *int       `validate:"omitempty,gte=0"`
	OriginalPrice *int       `validate:"omitempty,gte=0"`
	DiscountRate  *float64   `validate:"omitempty,gte=0,lte=100"`
	Upvotes       int        `validate:"gte=0"`
	Downvotes     int        `validate:"gte=0"`
	CommentCount  int        `validate:"gte=0"`
	ViewCount     int        `validate:"gte=0"`
}

// CounterUpdate は既存ディールに対するカウンタと価格の部分更新。
// nilの価格フィールドは既存値を維持する。
type CounterUpdate struct {
	Upvotes       int
	Downvotes     int
	CommentCount  int
	ViewCount     int
	Price         *int
	OriginalPrice *int
	DiscountRate  *float64
}

// PriceHistoryRecord はディールの価格観測を表す。追記専用。
type PriceHistoryRecord struct {
	ID            string
	DealID        string
	Price         int
	OriginalPrice *int
	DiscountRate  *float64
	RecordedAt    time.Time
}

// PriceStatistics はディールの価格履歴の集計値。
type PriceStatistics struct {
	Lowest      int
	Highest     int
	Average     float64
	Current     *int
	RecordCount int
}

// KeywordField はキーワードの抽出元フィールドを表す。
type KeywordField string

const (
	// KeywordFieldTitle はタイトルから抽出されたことを示す。
	KeywordFieldTitle KeywordField = "title"
	// KeywordFieldProductName は商品名から抽出されたことを示す。
	KeywordFieldProductName KeywordField = "product_name"
	// KeywordFieldContent は本文抜粋から抽出されたことを示す。
	KeywordFieldContent KeywordField = "content"
)

// DealKeyword はディールから抽出されたキーワード。
type DealKeyword struct {
	DealID  string
	Keyword string
	Field   KeywordField
}

// BlacklistType はブラックリストのパターン種別。
type BlacklistType string

const (
	// BlacklistTypeKeyword は部分一致のキーワードパターン。
	BlacklistTypeKeyword BlacklistType = "keyword"
	// BlacklistTypeRegex は正規表現パターン。
	BlacklistTypeRegex BlacklistType = "regex"
)

// BlacklistEntry はディールをブロックするパターン。
type BlacklistEntry struct {
	ID          string
	Pattern     string
	Type        BlacklistType
	TargetField string // title, content, author, all
	Reason      string
	IsActive    bool
}

// DealPage はユーザー向けディールフィードの1ページ分。
type DealPage struct {
	Deals      []*Deal
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}
