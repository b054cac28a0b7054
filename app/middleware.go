package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"email-login/delivery"
	"email-login/delivery/model"
)

// Limiter decides whether another request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter counts requests per key in fixed windows.
type RedisLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisLimiter(client *redis.Client, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "ratelimit:login:",
	}
}

// Allow counts one hit for key. The window starts with the first hit; a key
// left without a TTL is given one on the next hit.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key

	pipe := l.client.TxPipeline()
	hits := pipe.Incr(ctx, k)
	ttl := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	if ttl.Val() < 0 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, err
		}
	}
	return hits.Val() <= l.limit, nil
}

// LoginRateLimit rejects callers that exceed the login limit. Limiter
// failures let the request through. Callers are keyed by the address
// TrustedRealIP settled on.
func (a *App) LoginRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := delivery.ClientIP(r)
		allowed, err := a.limiter.Allow(r.Context(), ip)
		if err != nil {
			a.logger.Warn("rate limiter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			a.logger.Info("login rate limit reached", zap.String("ip", ip))
			writeJSONError(w, http.StatusTooManyRequests, delivery.MessageTooManyLogins)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSONError is a helper to standardize JSON error responses.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.LoginResponse{Success: false, Message: message})
}
