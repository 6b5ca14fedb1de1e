package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"pdv/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ── API rate limiter ──────────────────────────────────────────────────────────

// rateEntry tracks request counts per IP within a fixed window.
type rateEntry struct {
	count     int
	windowEnd time.Time
	mu        sync.Mutex
}

// RateLimiter limits each client IP to limit requests per window.
func RateLimiter(limit int, window time.Duration) gin.HandlerFunc {
	var (
		entries = make(map[string]*rateEntry)
		mu      sync.Mutex
	)
	go purgeExpiredEntries(entries, &mu)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		entry, exists := entries[ip]
		if !exists {
			entry = &rateEntry{}
			entries[ip] = entry
		}
		mu.Unlock()

		entry.mu.Lock()
		now := time.Now()
		if now.After(entry.windowEnd) {
			entry.count = 0
			entry.windowEnd = now.Add(window)
		}
		entry.count++
		over := entry.count > limit
		retryAfter := entry.windowEnd.Sub(now)
		entry.mu.Unlock()

		if over {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New("RATE_LIMITED", "too many requests, try again shortly"))
			return
		}
		c.Next()
	}
}

// ── Purge goroutine ───────────────────────────────────────────────────────────
// Removes expired entries so IPs that never return do not accumulate.

const purgeInterval = 5 * time.Minute

func purgeExpiredEntries(entries map[string]*rateEntry, mu *sync.Mutex) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		mu.Lock()
		purged := 0
		for ip, entry := range entries {
			entry.mu.Lock()
			if now.After(entry.windowEnd) {
				delete(entries, ip)
				purged++
			}
			entry.mu.Unlock()
		}
		remaining := len(entries)
		mu.Unlock()

		if purged > 0 {
			log.Debug().
				Int("entries_purged", purged).
				Int("entries_remaining", remaining).
				Msg("rate limiter map purged")
		}
	}
}
