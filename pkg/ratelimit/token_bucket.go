package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket 按每分钟请求数限流，供模型调用共享
type TokenBucket struct {
	mu       sync.Mutex
	perSec   float64
	burst    float64
	tokens   float64
	lastFill time.Time
}

// NewTokenBucket qpm<=0 时按 60 处理，burst<=0 时取 qpm/2 且至少为 1
func NewTokenBucket(qpm int, burst int) *TokenBucket {
	if qpm <= 0 {
		qpm = 60
	}
	if burst <= 0 {
		burst = max(qpm/2, 1)
	}
	return &TokenBucket{
		perSec:   float64(qpm) / 60,
		burst:    float64(burst),
		tokens:   float64(burst),
		lastFill: time.Now(),
	}
}

// take 尝试取一个令牌，失败时返回还需等待的时长。调用方持有锁
func (tb *TokenBucket) take(now time.Time) (time.Duration, bool) {
	tb.tokens = min(tb.burst, tb.tokens+now.Sub(tb.lastFill).Seconds()*tb.perSec)
	tb.lastFill = now
	if tb.tokens >= 1 {
		tb.tokens--
		return 0, true
	}
	return time.Duration((1 - tb.tokens) / tb.perSec * float64(time.Second)), false
}

// Allow 非阻塞地取一个令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	_, ok := tb.take(time.Now())
	return ok
}

// Wait 阻塞到取得令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		tb.mu.Lock()
		wait, ok := tb.take(time.Now())
		tb.mu.Unlock()
		if ok {
			return nil
		}

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
