package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/odyssey-auth/pkg/config"
	appErrors "github.com/noah-isme/odyssey-auth/pkg/errors"
	"github.com/noah-isme/odyssey-auth/pkg/response"
)

// attemptCounter is the narrow counting interface the throttle needs from
// its backing store.
type attemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// redisCounter adapts a redis client to attemptCounter.
type redisCounter struct {
	client *redis.Client
}

func (r redisCounter) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r redisCounter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

// LoginThrottle limits login attempts per client IP and identifier using a
// redis counter with a rolling window. A redis outage never blocks logins;
// the limiter fails open and logs.
func LoginThrottle(client *redis.Client, cfg config.ThrottleConfig, logger *zap.Logger) gin.HandlerFunc {
	if client == nil {
		cfg.Enabled = false
	}
	return loginThrottle(redisCounter{client: client}, cfg, logger)
}

func loginThrottle(counter attemptCounter, cfg config.ThrottleConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		identifier := peekIdentifier(c)
		key := fmt.Sprintf("auth:throttle:%s:%s", c.ClientIP(), identifier)

		ctx := c.Request.Context()
		count, err := counter.Incr(ctx, key)
		if err != nil {
			logger.Warn("login throttle unavailable", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			if err := counter.Expire(ctx, key, cfg.Window); err != nil {
				logger.Warn("login throttle expire failed", zap.Error(err))
			}
		}

		if count > int64(cfg.MaxAttempts) {
			response.Error(c, appErrors.ErrTooManyAttempts)
			c.Abort()
			return
		}

		c.Next()
	}
}

// peekIdentifier reads the login identifier from the request body without
// consuming it for the handler.
func peekIdentifier(c *gin.Context) string {
	body, err := c.GetRawData()
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	var payload struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(payload.Username))
}
