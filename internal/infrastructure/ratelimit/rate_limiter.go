package ratelimit

import (
	"sync"
	"time"
)

// Actions known to the limiter.
const (
	ActionSendMessage        = "send_message"
	ActionCreateConversation = "create_conversation"
	ActionTyping             = "typing"
)

// TokenBucket is a refilling bucket guarding one (user, action) pair.
type TokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate int
	refillTime time.Duration
	lastRefill time.Time
	lastUsed   time.Time
	mutex      sync.Mutex
}

func NewTokenBucket(maxTokens, refillRate int, refillTime time.Duration) *TokenBucket {
	now := time.Now()
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		refillTime: refillTime,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Allow consumes a token when available, otherwise reports how long until the
// next one.
func (tb *TokenBucket) Allow() (bool, time.Duration) {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	now := time.Now()
	tb.lastUsed = now

	elapsed := now.Sub(tb.lastRefill)
	tokensToAdd := int(elapsed/tb.refillTime) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
		tb.lastRefill = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true, 0
	}

	waitTime := tb.lastRefill.Add(tb.refillTime).Sub(now)
	return false, waitTime
}

func (tb *TokenBucket) idleSince(cutoff time.Time) bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()
	return tb.lastUsed.Before(cutoff)
}

// RateLimiter manages per-user, per-action buckets.
type RateLimiter struct {
	buckets map[string]*TokenBucket
	mutex   sync.RWMutex
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*TokenBucket),
	}
}

func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action

	rl.mutex.RLock()
	bucket, exists := rl.buckets[key]
	rl.mutex.RUnlock()

	if !exists {
		rl.mutex.Lock()
		if bucket, exists = rl.buckets[key]; !exists {
			bucket = newBucketForAction(action)
			rl.buckets[key] = bucket
		}
		rl.mutex.Unlock()
	}

	return bucket.Allow()
}

func newBucketForAction(action string) *TokenBucket {
	switch action {
	case ActionSendMessage:
		// 20 messages burst, one new token every 3 seconds
		return NewTokenBucket(20, 1, 3*time.Second)
	case ActionCreateConversation:
		// 10 new conversations burst, one new token every 5 minutes
		return NewTokenBucket(10, 1, 5*time.Minute)
	case ActionTyping:
		return NewTokenBucket(30, 1, time.Second)
	default:
		return NewTokenBucket(60, 1, time.Second)
	}
}

// StartCleanupRoutine drops buckets idle for over an hour.
func (rl *RateLimiter) StartCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			cutoff := time.Now().Add(-time.Hour)
			rl.mutex.Lock()
			for key, bucket := range rl.buckets {
				if bucket.idleSince(cutoff) {
					delete(rl.buckets, key)
				}
			}
			rl.mutex.Unlock()
		}
	}()
}
