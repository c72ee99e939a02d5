// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hitoshi/dealmoa/internal/model"
)

// SourceRepository はディール取得元の永続化インターフェース。
type SourceRepository interface {
	// FindByName はコネクタ名でソースを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Source, error)

	// Ensure はソースを名前でUPSERTし、保存済みのソースを返す。
	Ensure(ctx context.Context, name, displayName, baseURL string) (*model.Source, error)
}

// SourceStateRepository はソースごとのカーソルと収集実行記録の永続化インターフェース。
type SourceStateRepository interface {
	// LoadCursor は保存済みカーソルを返す。未保存の場合はnilを返す。
	LoadCursor(ctx context.Context, sourceID string) (json.RawMessage, error)

	// SaveCursor はコネクタが返したカーソルをそのまま保存する。
	SaveCursor(ctx context.Context, sourceID string, cursor json.RawMessage) error

	// CreateRun は収集実行の開始を記録する。
	CreateRun(ctx context.Context, run *model.CrawlRun) error

	// FinishRun は収集実行の結果を記録する。
	FinishRun(ctx context.Context, run *model.CrawlRun) error
}

// DealRepository はディールの永続化インターフェース。
type DealRepository interface {
	// FindByID は指定IDのディールを取得する。論理削除済みを含む。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Deal, error)

	// FindBySourceAndExternalID は(source_id, external_id)でディールを検索する。
	// 見つからない場合はnilを返す。
	FindBySourceAndExternalID(ctx context.Context, sourceID, externalID string) (*model.Deal, error)

	// Create は新規ディールを作成する。
	// (source_id, external_id) が既に存在する場合は model.ErrConflict を返す。
	Create(ctx context.Context, deal *model.Deal) error

	// RefreshCounters はカウンタと価格を1文のUPDATE ... RETURNINGで更新し、更新後のディールを返す。
	// カウンタは既存値より小さくならず、nilの価格フィールドは既存値を維持する。
	// ディールが存在しない場合は model.ErrNotFound を返す。
	RefreshCounters(ctx context.Context, dealID string, upd model.CounterUpdate) (*model.Deal, error)

	// UpdateScores はhot_scoreとprice_signalを更新する。
	UpdateScores(ctx context.Context, dealID string, hotScore float64, signal model.PriceSignal) error

	// MarkKeywordsExtracted はキーワード抽出の完了時刻を記録する。
	MarkKeywordsExtracted(ctx context.Context, dealID string, at time.Time) error

	// MarkMatched はユーザー照合と通知予約の完了時刻を記録する。
	MarkMatched(ctx context.Context, dealID string, at time.Time) error

	// RecomputeHotScores はsince以降に公開されたディールのhot_scoreをnow基準で再計算する。
	// 更新件数を返す。
	RecomputeHotScores(ctx context.Context, since, now time.Time) (int64, error)

	// ListMatching はキーワード条件に合致するディールをhot_score降順、id昇順で返す。
	// 総件数も返す。
	ListMatching(ctx context.Context, q DealMatchQuery) ([]*model.Deal, int, error)
}

// DealMatchQuery はユーザーのキーワードに合致するディールの検索条件。
type DealMatchQuery struct {
	Inclusion []string
	Exclusion []string
	Since     time.Time
	Now       time.Time
	Limit     int
	Offset    int
}

// PriceHistoryRepository は価格履歴の永続化インターフェース。追記専用。
type PriceHistoryRepository interface {
	// LatestPrice は直近に記録された価格を返す。履歴がない場合はnilを返す。
	LatestPrice(ctx context.Context, dealID string) (*int, error)

	// Append は価格履歴を1件追加する。
	Append(ctx context.Context, rec *model.PriceHistoryRecord) error

	// PricesSince はsince以降に記録された価格を返す。
	PricesSince(ctx context.Context, dealID string, since time.Time) ([]int, error)

	// Statistics は全期間の価格集計を返す。履歴がない場合はnilを返す。
	Statistics(ctx context.Context, dealID string) (*model.PriceStatistics, error)
}

// DealKeywordRepository はディールキーワードの永続化インターフェース。
type DealKeywordRepository interface {
	// Replace はディールのキーワードを同一トランザクションで全置換する。
	Replace(ctx context.Context, dealID string, keywords []model.DealKeyword) error

	// ListByDeal はディールのキーワードを返す。
	ListByDeal(ctx context.Context, dealID string) ([]string, error)
}

// UserRepository はユーザーの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// ListMatchCandidates はディールキーワードのいずれかを有効な包含キーワードとして持つ、
	// 有効かつプッシュ許可済みのユーザーを、そのユーザーの有効キーワード全件とともに返す。
	// 除外キーワードの判定は呼び出し側で行う。
	ListMatchCandidates(ctx context.Context, dealKeywords []string) ([]MatchCandidate, error)
}

// MatchCandidate は一致候補のユーザーと、そのユーザーの有効キーワード。
type MatchCandidate struct {
	User     *model.User
	Keywords []*model.UserKeyword
}

// UserKeywordRepository はユーザーキーワードの永続化インターフェース。
type UserKeywordRepository interface {
	// FindByID は指定IDのキーワードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.UserKeyword, error)

	// ListActiveByUser はユーザーの有効なキーワードを作成順に返す。
	ListActiveByUser(ctx context.Context, userID string) ([]*model.UserKeyword, error)

	// CountActiveByUser はユーザーの有効なキーワード数を返す。
	CountActiveByUser(ctx context.Context, userID string) (int, error)

	// CreateBatch はキーワードを同一トランザクションで作成する。
	// 有効キーワードの重複が1件でもあれば全件ロールバックし model.ErrConflict を返す。
	// 登録後の有効件数がmaxActiveを超える場合は model.ErrKeywordLimit を返す。
	CreateBatch(ctx context.Context, keywords []*model.UserKeyword, maxActive int) error

	// SetActive はキーワードの有効状態を切り替える。
	// 再有効化で重複する場合は model.ErrConflict、上限を超える場合は model.ErrKeywordLimit を返す。
	SetActive(ctx context.Context, id string, active bool, maxActive int) error

	// Delete はキーワードを削除する。
	Delete(ctx context.Context, id string) error
}

// DeviceRepository はプッシュ送信先デバイスの永続化インターフェース。
type DeviceRepository interface {
	// Register はデバイストークンを登録する。既存トークンは所有者を付け替えて有効化する。
	Register(ctx context.Context, device *model.UserDevice) error

	// ListActiveTokens はユーザーの有効なデバイストークンを返す。
	ListActiveTokens(ctx context.Context, userID string) ([]string, error)

	// Deactivate は指定トークンを無効化する。
	Deactivate(ctx context.Context, tokens []string) error
}

// NotificationRepository は通知の永続化インターフェース。
// 状態遷移はすべて条件付きUPDATEで行い、遷移元が一致しない場合はfalseを返す。
type NotificationRepository interface {
	// Create は通知を作成する。(user_id, deal_id) が既に存在する場合は model.ErrConflict を返す。
	Create(ctx context.Context, n *model.Notification) error

	// FindByID は指定IDの通知を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Notification, error)

	// MarkSent はPENDINGの通知をSENTに遷移させる。
	MarkSent(ctx context.Context, id string, sentAt time.Time, response json.RawMessage) (bool, error)

	// MarkFailed はPENDINGの通知をFAILEDに遷移させる。
	MarkFailed(ctx context.Context, id, errorMessage string, response json.RawMessage) (bool, error)

	// MarkDelivered はSENTの通知をDELIVEREDに遷移させる。
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkClicked はユーザーの通知をCLICKEDに遷移させ、既読にする。
	MarkClicked(ctx context.Context, id, userID string, at time.Time) (bool, error)

	// MarkRead はユーザーの通知を既読にする。
	MarkRead(ctx context.Context, id, userID string, at time.Time) (bool, error)

	// MarkAllRead はユーザーの未読通知をすべて既読にし、更新件数を返す。
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)

	// ListDuePending は送信予定時刻を過ぎたPENDING通知を返す。
	// scheduled_forが未設定でstaleBefore以前に作成されたものも対象とする。
	ListDuePending(ctx context.Context, now, staleBefore time.Time, limit int) ([]*model.Notification, error)

	// ListByUser はユーザーの通知を新しい順に返す。総件数と未読件数も返す。
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*model.Notification, int, int, error)
}

// BlacklistRepository はブラックリストの永続化インターフェース。
type BlacklistRepository interface {
	// ListActive は有効なブラックリストを返す。
	ListActive(ctx context.Context) ([]*model.BlacklistEntry, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
