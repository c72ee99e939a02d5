// Package source はディール取得元コミュニティのコネクタを提供する。
package source

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hitoshi/dealmoa/internal/model"
)

// ErrSourceStopped はソース側が恒久的に取得を拒否したことを表す（404/410/401/403）。
// 呼び出し側はバックオフせず、設定を見直すまで取得を止める。
var ErrSourceStopped = errors.New("ソースへのアクセスが停止されました")

// Batch は1回の取得で得られたディールと次回のカーソル。
type Batch struct {
	Records []model.DealRecord
	// Cursor は次回のFetchにそのまま渡す不透明な値。
	Cursor json.RawMessage
}

// Connector はコミュニティごとの取得アダプタ。
// 実装はサイト固有の取得方法を隠蔽し、正規化済みのDealRecordだけを返す。
type Connector interface {
	// Name はソースのコネクタ識別名を返す。DealRecord.SourceNameと一致する。
	Name() string

	// BaseURL はソースのサイトURLを返す。
	BaseURL() string

	// Fetch は前回のカーソルを受け取り、新しいレコードと次回のカーソルを返す。
	// cursorがnilの場合は初回取得として扱う。
	Fetch(ctx context.Context, cursor json.RawMessage) (*Batch, error)
}
