package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Locker はスイープの単一実行を保証するロック。
type Locker interface {
	// TryLock はロックの取得を試みる。取得できた場合は解放関数とtrueを返す。
	TryLock(ctx context.Context) (func(), bool, error)
}

// LocalLocker はプロセス内のミューテックスによるロック。単一プロセス構成で使う。
type LocalLocker struct {
	mu sync.Mutex
}

// TryLock はロックの取得を試みる。
func (l *LocalLocker) TryLock(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// DefaultLockKey はスイープロックのRedisキー。
const DefaultLockKey = "dealmoa:sweep:lock"

// releaseScript は自分が取得したロックのみを削除する。
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker はSET NXによる複数プロセス間のロック。
// ttlを過ぎるとロックは自動的に失効するため、ttlはスイープ1回の所要時間より長くすること。
type RedisLocker struct {
	rdb *goredis.Client
	key string
	ttl time.Duration
}

// NewRedisLocker はRedisLockerを生成する。
func NewRedisLocker(rdb *goredis.Client, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = DefaultLockKey
	}
	return &RedisLocker{rdb: rdb, key: key, ttl: ttl}
}

// TryLock はロックの取得を試みる。
func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("スイープロックの取得に失敗しました: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
	}
	return release, true, nil
}
