package collect

import (
	"errors"
	"sync"
	"time"

	"github.com/hitoshi/dealmoa/internal/source"
)

const (
	// initialBackoff は指数バックオフの初回遅延（5分）。
	initialBackoff = 5 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（6時間）。
	maxBackoff = 6 * time.Hour
)

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回5分、2倍ずつ増加、最大6時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// sourceState はソースごとの取得可否。プロセス内でのみ保持する。
type sourceState struct {
	consecutiveErrors int
	nextAttemptAt     time.Time
	stopped           bool
	reason            string
}

// backoffTracker はソース名ごとのバックオフと停止状態を管理する。
type backoffTracker struct {
	mu     sync.Mutex
	states map[string]*sourceState
}

func newBackoffTracker() *backoffTracker {
	return &backoffTracker{states: make(map[string]*sourceState)}
}

func (t *backoffTracker) get(name string) *sourceState {
	st, ok := t.states[name]
	if !ok {
		st = &sourceState{}
		t.states[name] = st
	}
	return st
}

// due はソースを今回取得すべきかを返す。
func (t *backoffTracker) due(name string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.get(name)
	if st.stopped {
		return false
	}
	return !now.Before(st.nextAttemptAt)
}

// success は連続エラー回数をリセットする。
func (t *backoffTracker) success(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.get(name)
	st.consecutiveErrors = 0
	st.nextAttemptAt = time.Time{}
	st.reason = ""
}

// failure は取得失敗を記録する。ErrSourceStoppedの場合は以後取得しない。
// 次回取得までの遅延を返す。停止した場合は0を返す。
func (t *backoffTracker) failure(name string, err error, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.get(name)
	st.reason = err.Error()
	if errors.Is(err, source.ErrSourceStopped) {
		st.stopped = true
		return 0
	}
	delay := CalculateBackoff(st.consecutiveErrors)
	st.consecutiveErrors++
	st.nextAttemptAt = now.Add(delay)
	return delay
}

// stopped はソースが停止済みかを返す。
func (t *backoffTracker) stopped(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(name).stopped
}
