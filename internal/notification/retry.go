package notification

import (
	"context"
	"fmt"
	"time"
)

// retryWithBackoff はfnを最大maxRetries+1回、指数バックオフを挟んで呼び出す。
// fnは試行回数（0始まり）を受け取る。retryableがfalseを返したエラーは即座に返す。
// コンテキストがキャンセルされた場合はコンテキストのエラーを返す。
func retryWithBackoff(ctx context.Context, maxRetries int, base time.Duration, retryable func(error) bool, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}

		// 最後の試行の後は待たない
		if attempt == maxRetries {
			break
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := base * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}
