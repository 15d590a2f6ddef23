package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wuwenbin0122/modelchat/internal/auth"
)

const ownerKey = "ownerID"

var errMissingToken = errors.New("missing bearer token")

// requireOwner resolves the caller from the Authorization header. Websocket clients cannot set
// headers, so allowQuery also accepts ?token=.
func (h *Handler) requireOwner(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok && allowQuery {
			token = c.Query("token")
			ok = token != ""
		}
		if !ok {
			writeError(c, http.StatusUnauthorized, "authentication required", errMissingToken)
			return
		}

		owner, err := h.authService.OwnerID(token)
		if err != nil {
			writeError(c, http.StatusUnauthorized, "invalid token", err)
			return
		}

		c.Set(ownerKey, owner)
		c.Next()
	}
}

func ownerFrom(c *gin.Context) string {
	return c.GetString(ownerKey)
}

func (h *Handler) rateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.limiter.Allow(ownerFrom(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "Too many requests"})
			return
		}
		c.Next()
	}
}

const limiterIdleTTL = 10 * time.Minute

type ownerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// OwnerLimiter keeps one token bucket per owner. A non-positive rate disables limiting.
type OwnerLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	limiters  map[string]*ownerLimiter
	lastPrune time.Time
	now       func() time.Time
}

func NewOwnerLimiter(rps float64, burst int) *OwnerLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &OwnerLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*ownerLimiter),
		now:      time.Now,
	}
}

func (l *OwnerLimiter) Allow(owner string) bool {
	if l == nil || l.rps <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	entry, ok := l.limiters[owner]
	if !ok {
		entry = &ownerLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[owner] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// pruneLocked drops idle buckets at most once per idle period.
func (l *OwnerLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < limiterIdleTTL {
		return
	}
	l.lastPrune = now
	for owner, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, owner)
		}
	}
}

// RequestLogger writes one access log line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if owner := ownerFrom(c); owner != "" {
			fields = append(fields, zap.String("owner_id", owner))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
