// Package ratelimit implements rate limiting backed by Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/turingden/find-the-ai/internal/v1/auth"
	"github.com/turingden/find-the-ai/internal/v1/config"
	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/metrics"
)

// ClaimsContextKey is where transports stash verified session claims for the
// per-player limiters.
const ClaimsContextKey = "session_claims"

// RateLimiter holds the limiter instances for each endpoint class.
type RateLimiter struct {
	apiGlobal   *limiter.Limiter
	apiPublic   *limiter.Limiter
	apiRooms    *limiter.Limiter
	apiMessages *limiter.Limiter
	wsIP        *limiter.Limiter
	store       limiter.Store
}

// NewRateLimiter parses the configured rates and picks the store: Redis when a
// client is provided, in-process memory otherwise.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	rates := map[string]*limiter.Rate{}
	for name, formatted := range map[string]string{
		"global":   cfg.RateLimitAPIGlobal,
		"public":   cfg.RateLimitAPIPublic,
		"rooms":    cfg.RateLimitAPIRooms,
		"messages": cfg.RateLimitAPIMessages,
		"ws_ip":    cfg.RateLimitWsIP,
	} {
		rate, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return nil, fmt.Errorf("invalid %s rate %q: %w", name, formatted, err)
		}
		rates[name] = &rate
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "Rate limiter using memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		apiGlobal:   limiter.New(store, *rates["global"]),
		apiPublic:   limiter.New(store, *rates["public"]),
		apiRooms:    limiter.New(store, *rates["rooms"]),
		apiMessages: limiter.New(store, *rates["messages"]),
		wsIP:        limiter.New(store, *rates["ws_ip"]),
		store:       store,
	}, nil
}

// GlobalMiddleware applies the baseline limit: per-player when a verified
// session is present, per-IP otherwise.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		instance := rl.apiPublic
		key := c.ClientIP()
		limitType := "ip"
		if claims, ok := sessionClaims(c); ok {
			instance = rl.apiGlobal
			key = claims.RoomCode + "/" + claims.PlayerID
			limitType = "player"
		}

		ctx := c.Request.Context()
		lctx, err := instance.Get(ctx, key)
		if err != nil {
			// Fail open: losing the limiter store should not take the API down.
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), limitType).Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// MiddlewareForEndpoint enforces the tighter per-class limits on room creation
// and message posting.
func (rl *RateLimiter) MiddlewareForEndpoint(endpointType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var instance *limiter.Limiter
		switch endpointType {
		case "rooms":
			instance = rl.apiRooms
		case "messages":
			instance = rl.apiMessages
		default:
			instance = rl.apiGlobal
		}

		key := c.ClientIP()
		if claims, ok := sessionClaims(c); ok {
			key = claims.RoomCode + "/" + claims.PlayerID
		}

		ctx := c.Request.Context()
		lctx, err := instance.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), endpointType).Inc()
			c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckWebSocket applies the per-IP connection limit before an upgrade.
// Returns false after writing the error response.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	lctx, err := rl.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true // fail open
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}
	return true
}

func sessionClaims(c *gin.Context) (*auth.Claims, bool) {
	v, exists := c.Get(ClaimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
