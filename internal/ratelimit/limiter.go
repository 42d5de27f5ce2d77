// Package ratelimit implements rate limiting for WebSocket connections and
// signaling/admission events, backed by Redis when available and falling
// back to an in-memory store otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/example/meetinghub/internal/config"
	"github.com/example/meetinghub/internal/logging"
	"github.com/example/meetinghub/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the per-concern limiter instances.
type RateLimiter struct {
	wsIP      *limiter.Limiter
	wsUser    *limiter.Limiter
	admission *limiter.Limiter
	signaling *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter builds a RateLimiter from validated config, using redisClient
// as the backing store when non-nil and an in-memory store otherwise.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	wsUserRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS user rate: %w", err)
	}
	admissionRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAdmission)
	if err != nil {
		return nil, fmt.Errorf("invalid admission rate: %w", err)
	}
	signalingRate, err := limiter.NewRateFromFormatted(cfg.RateLimitSignaling)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "meetinghub:limiter:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (Redis disabled)")
	}

	return &RateLimiter{
		wsIP:      limiter.New(store, wsIPRate),
		wsUser:    limiter.New(store, wsUserRate),
		admission: limiter.New(store, admissionRate),
		signaling: limiter.New(store, signalingRate),
		store:     store,
	}, nil
}

// CheckWebSocket enforces the per-IP connection rate limit. Returns true if the
// connection should proceed; on rejection it writes the HTTP response itself.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	lc, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (ip)", zap.Error(err))
		return true // fail open: availability over strict enforcement
	}

	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lc.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this address"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("websocket_connect").Inc()
	return true
}

// CheckWebSocketUser enforces the per-user connection rate limit after the
// caller's identity has been resolved.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, userID string) error {
	lc, err := rl.wsUser.Get(ctx, userID)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (user)", zap.Error(err))
		return nil // fail open
	}

	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "user").Inc()
		return fmt.Errorf("rate limit exceeded for user")
	}
	return nil
}

// CheckEvent enforces the per-event-type rate limit for admission or
// signaling events sent over an established connection. eventClass must be
// "admission" or "signaling".
func (rl *RateLimiter) CheckEvent(ctx context.Context, eventClass, key string) error {
	var limiterInstance *limiter.Limiter
	switch eventClass {
	case "admission":
		limiterInstance = rl.admission
	case "signaling":
		limiterInstance = rl.signaling
	default:
		return fmt.Errorf("unknown event class %q", eventClass)
	}

	lc, err := limiterInstance.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed (event)", zap.Error(err))
		return nil // fail open
	}

	if lc.Reached {
		metrics.RateLimitExceeded.WithLabelValues(eventClass, "event").Inc()
		return fmt.Errorf("rate limit exceeded for %s events", eventClass)
	}

	metrics.RateLimitRequests.WithLabelValues(eventClass).Inc()
	return nil
}
