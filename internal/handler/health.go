package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"pdv/internal/infra"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// Probe checks one dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Health returns a JSON health check response. Probes run concurrently; a
// failing probe answers 503. Breaker states are informational: an open
// breaker degrades fiscal emission, not the sale path.
func Health(probes []Probe, breakers map[string]*infra.CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		var mu sync.Mutex
		checks := make(map[string]string, len(probes))
		ok := true

		var g errgroup.Group
		for _, p := range probes {
			p := p
			g.Go(func() error {
				status := "connected"
				if err := p.Check(ctx); err != nil {
					status = "error"
				}
				mu.Lock()
				checks[p.Name] = status
				if status != "connected" {
					ok = false
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		fiscal := make(map[string]string, len(breakers))
		for kind, cb := range breakers {
			fiscal[kind] = cb.State().String()
		}

		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ok":     ok,
			"checks": checks,
			"fiscal": fiscal,
		})
	}
}
