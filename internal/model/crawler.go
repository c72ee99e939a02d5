package model

import (
	"encoding/json"
	"time"
)

// CrawlRunStatus はコレクタ実行の結果状態。
type CrawlRunStatus string

const (
	CrawlRunStatusRunning CrawlRunStatus = "running"
	CrawlRunStatusSuccess CrawlRunStatus = "success"
	CrawlRunStatusPartial CrawlRunStatus = "partial"
	CrawlRunStatusFailed  CrawlRunStatus = "failed"
)

// CrawlRun はソースごとの1回の収集実行の記録。
type CrawlRun struct {
	ID           string
	SourceID     string
	Status       CrawlRunStatus
	StartedAt    time.Time
	FinishedAt   *time.Time
	ItemsFound   int
	ItemsNew     int
	ItemsUpdated int
	ItemsSkipped int
	ErrorCount   int
	ErrorMessage string
	DurationMs   int64
}

// Finish は集計結果から最終状態を決定して実行を終了する。
func (r *CrawlRun) Finish(now time.Time) {
	r.FinishedAt = &now
	r.DurationMs = now.Sub(r.StartedAt).Milliseconds()
	switch {
	case r.ErrorCount == 0:
		r.Status = CrawlRunStatusSuccess
	case r.ItemsNew+r.ItemsUpdated > 0:
		r.Status = CrawlRunStatusPartial
	default:
		r.Status = CrawlRunStatusFailed
	}
}

// SourceState はソースごとの不透明なカーソル。
// コネクタが返した値をそのまま保存し、次回実行時に渡す。
type SourceState struct {
	SourceID  string
	Cursor    json.RawMessage
	UpdatedAt time.Time
}
