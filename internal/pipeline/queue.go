// Package pipeline は取り込み済みディールのキューと、照合・通知予約を行うワーカープールを提供する。
// 1件のディールについては取り込み→スコア→抽出→照合→予約の順序を保ち、
// ディール間はワーカー数まで並列に処理する。
package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed はクローズ済みのキューに対する操作で返される。
var ErrQueueClosed = errors.New("キューはクローズされています")

// Queue は取り込み済みディールIDのキュー。
type Queue interface {
	// Enqueue はディールIDを追加する。
	Enqueue(ctx context.Context, dealID string) error

	// Dequeue はディールIDを1件取り出す。空の場合は追加されるかctxが終了するまで待つ。
	Dequeue(ctx context.Context) (string, error)

	// Close はキューをクローズする。
	Close() error
}

// ChannelQueue はプロセス内のバッファ付きチャネルによるキュー。
// プロセス終了で未処理のIDは失われるが、取り込みは冪等なので次回の収集で再投入される。
type ChannelQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// NewChannelQueue は容量sizeのChannelQueueを生成する。
func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 1024
	}
	return &ChannelQueue{
		ch:   make(chan string, size),
		done: make(chan struct{}),
	}
}

// Enqueue はディールIDを追加する。バッファが満杯の場合は空くまで待つ。
func (q *ChannelQueue) Enqueue(ctx context.Context, dealID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- dealID:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue はディールIDを1件取り出す。
// クローズ後もバッファに残ったIDは取り出せる。
func (q *ChannelQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	default:
	}

	select {
	case id := <-q.ch:
		return id, nil
	case <-q.done:
		select {
		case id := <-q.ch:
			return id, nil
		default:
			return "", ErrQueueClosed
		}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len はバッファ内の件数を返す。
func (q *ChannelQueue) Len() int {
	return len(q.ch)
}

// Close はキューをクローズする。複数回呼び出しても安全。
func (q *ChannelQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

var _ Queue = (*ChannelQueue)(nil)
