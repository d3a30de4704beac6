// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package server

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// rateLimiter counts requests per client ip in fixed windows. Expired
// windows are dropped while handling requests.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string]*clientWindow
	limit    int
	window   time.Duration
	now      func() time.Time
	nextGC   time.Time
}

type clientWindow struct {
	count     int
	resetTime time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		requests: make(map[string]*clientWindow),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// allow reports whether key may make another request and, if not, how long
// it has to wait.
func (rl *rateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.After(rl.nextGC) {
		rl.cleanup(now)
		rl.nextGC = now.Add(rl.window)
	}

	client, ok := rl.requests[key]
	if !ok || now.After(client.resetTime) {
		rl.requests[key] = &clientWindow{count: 1, resetTime: now.Add(rl.window)}
		return true, 0
	}
	if client.count >= rl.limit {
		return false, client.resetTime.Sub(now)
	}
	client.count++
	return true, 0
}

func (rl *rateLimiter) cleanup(now time.Time) {
	for key, client := range rl.requests {
		if now.After(client.resetTime) {
			delete(rl.requests, key)
		}
	}
}

func (rl *rateLimiter) middleware(c *gin.Context) {
	ok, wait := rl.allow(c.ClientIP())
	if !ok {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"message":     "Too many requests. Please try again later.",
			"retry_after": math.Ceil(wait.Seconds()),
		})
		return
	}
	c.Next()
}
