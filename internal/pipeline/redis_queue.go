package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultRedisQueueKey はディールIDを積むRedisリストのキー。
const DefaultRedisQueueKey = "dealmoa:ingested"

// redisPollTimeout はBRPOPの1回あたりの待ち時間。ctxの終了はこの間隔で確認する。
const redisPollTimeout = 5 * time.Second

// RedisQueue はRedisリストによるキュー。LPUSHで追加しBRPOPで取り出す。
// プロセスをまたいで未処理のIDが残り、複数のワーカープロセスで共有できる。
type RedisQueue struct {
	rdb         *goredis.Client
	key         string
	pollTimeout time.Duration
}

// NewRedisQueue はRedisQueueを生成する。keyが空の場合はDefaultRedisQueueKeyを使う。
func NewRedisQueue(rdb *goredis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisQueueKey
	}
	return &RedisQueue{rdb: rdb, key: key, pollTimeout: redisPollTimeout}
}

// Enqueue はディールIDをリストの先頭に追加する。
func (q *RedisQueue) Enqueue(ctx context.Context, dealID string) error {
	if err := q.rdb.LPush(ctx, q.key, dealID).Err(); err != nil {
		if errors.Is(err, goredis.ErrClosed) {
			return ErrQueueClosed
		}
		return fmt.Errorf("キューへの追加に失敗しました: %w", err)
	}
	return nil
}

// Dequeue はリストの末尾からディールIDを取り出す。
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, err := q.rdb.BRPop(ctx, q.pollTimeout, q.key).Result()
		switch {
		case err == nil:
			// [key, value]
			if len(res) == 2 {
				return res[1], nil
			}
		case errors.Is(err, goredis.Nil):
			// タイムアウト
		case errors.Is(err, goredis.ErrClosed):
			return "", ErrQueueClosed
		case ctx.Err() != nil:
			return "", ctx.Err()
		default:
			return "", fmt.Errorf("キューからの取り出しに失敗しました: %w", err)
		}
	}
}

// Len はリスト内の件数を返す。
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}

// Close はRedisクライアントをクローズする。
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

var _ Queue = (*RedisQueue)(nil)
