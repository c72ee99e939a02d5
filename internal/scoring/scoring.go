// Package scoring はディールの人気度スコアと価格シグナルを算出する。
package scoring

import (
	"math"
	"time"

	"github.com/hitoshi/dealmoa/internal/model"
)

// HotScore は投票数・コメント数・閲覧数と経過時間から人気度スコアを算出する。
//
//	max(0, (up - down)*10 + comments*5 + views/100 - age_hours*0.5)
//
// publishedAtがnowより未来の場合は経過時間を0として扱う。
func HotScore(upvotes, downvotes, comments, views int, publishedAt, now time.Time) float64 {
	ageHours := now.Sub(publishedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	score := float64(upvotes-downvotes)*10 +
		float64(comments)*5 +
		float64(views)/100 -
		ageHours*0.5
	return math.Max(0, score)
}

// DealHotScore はディールのカウンタからnow時点の人気度スコアを算出する。
func DealHotScore(d *model.Deal, now time.Time) float64 {
	return HotScore(d.Upvotes, d.Downvotes, d.CommentCount, d.ViewCount, d.PublishedAt, now)
}

// PriceSignalConfig は価格シグナル判定の閾値。
type PriceSignalConfig struct {
	LowestThreshold  float64 // 最安値判定の許容幅（0.05 = +5%）
	AverageThreshold float64 // 平均値判定の許容幅（0.10 = +10%）
	MinHistory       int     // 判定に必要な最小履歴件数
	HistoryDays      int     // 判定対象期間（日）
}

// DefaultPriceSignalConfig はデフォルトの価格シグナル設定を返す。
func DefaultPriceSignalConfig() PriceSignalConfig {
	return PriceSignalConfig{
		LowestThreshold:  0.05,
		AverageThreshold: 0.10,
		MinHistory:       3,
		HistoryDays:      90,
	}
}

// ClassifyPrice は期間内の価格履歴に対する現在価格の位置づけを判定する。
// 現在価格がない場合や履歴がMinHistory件未満の場合はnoneを返す。
func ClassifyPrice(current *int, history []int, cfg PriceSignalConfig) model.PriceSignal {
	if current == nil || len(history) < cfg.MinHistory || len(history) == 0 {
		return model.PriceSignalNone
	}

	minPrice := history[0]
	sum := 0
	for _, p := range history {
		if p < minPrice {
			minPrice = p
		}
		sum += p
	}
	avg := float64(sum) / float64(len(history))
	price := float64(*current)

	switch {
	case price <= float64(minPrice)*(1+cfg.LowestThreshold):
		return model.PriceSignalLowest
	case price <= avg*(1+cfg.AverageThreshold):
		return model.PriceSignalAverage
	default:
		return model.PriceSignalHigh
	}
}
