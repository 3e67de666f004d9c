package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfbatcher/internal/metrics"
	"github.com/local/pdfbatcher/internal/orchestrator"
)

// ErrBreakerOpen is returned while a publish target is cooling down.
var ErrBreakerOpen = errors.New("circuit breaker open")

// CircuitBreaker manages circuit breaker state in Redis, shared by every
// worker process publishing to the same target.
type CircuitBreaker struct {
	redis       *redis.Client
	baseBackoff time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(redisClient *redis.Client, baseBackoff, maxBackoff time.Duration) *CircuitBreaker {
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	if maxBackoff < baseBackoff {
		maxBackoff = baseBackoff
	}
	return &CircuitBreaker{
		redis:       redisClient,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		now:         time.Now,
	}
}

func breakerKey(target string) string { return fmt.Sprintf("cb:publish:%s", target) }

// Open opens the breaker for target, doubling the cooldown per consecutive failure.
func (cb *CircuitBreaker) Open(ctx context.Context, target string) {
	key := breakerKey(target)

	failuresStr, _ := cb.redis.HGet(ctx, key, "failures").Result()
	failures, _ := strconv.Atoi(failuresStr)
	failures++

	// Exponential backoff: 30s, 60s, 120s, 240s, max 5m
	backoff := cb.baseBackoff
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff > cb.maxBackoff {
			backoff = cb.maxBackoff
			break
		}
	}

	now := cb.now()
	retryAt := now.Add(backoff).Unix()
	cb.redis.HSet(ctx, key, map[string]interface{}{
		"state":     "open",
		"retry_at":  retryAt,
		"failures":  failures,
		"opened_at": now.Unix(),
	})
	cb.redis.Expire(ctx, key, cb.maxBackoff+10*time.Minute)
	metrics.BreakerOpened(target)

	log.Warn().
		Str("target", target).
		Dur("cooldown", backoff).
		Int("failures", failures).
		Time("retry_at", time.Unix(retryAt, 0)).
		Msg("circuit breaker OPENED")
}

// IsOpen checks if the breaker for target is open. An expired cooldown moves
// it to half-open and lets one trial call through.
func (cb *CircuitBreaker) IsOpen(ctx context.Context, target string) bool {
	key := breakerKey(target)

	state, err := cb.redis.HGet(ctx, key, "state").Result()
	if err != nil || state == "" {
		// No breaker record → closed by default
		return false
	}
	if state != "open" {
		return false
	}

	retryAtStr, _ := cb.redis.HGet(ctx, key, "retry_at").Result()
	retryAt, _ := strconv.ParseInt(retryAtStr, 10, 64)
	if cb.now().Unix() >= retryAt {
		cb.redis.HSet(ctx, key, "state", "half_open")
		log.Info().Str("target", target).Msg("circuit breaker moved to HALF-OPEN")
		return false
	}
	return true
}

// Close resets the breaker on success.
func (cb *CircuitBreaker) Close(ctx context.Context, target string) {
	key := breakerKey(target)

	state, _ := cb.redis.HGet(ctx, key, "state").Result()
	if state == "" || state == "closed" {
		return
	}
	cb.redis.Del(ctx, key)
	metrics.BreakerClosed(target)
	log.Info().Str("target", target).Msg("circuit breaker CLOSED (reset)")
}

// GuardedPublisher skips uploads while the target's breaker is open and
// feeds upload outcomes back into it.
type GuardedPublisher struct {
	Next    orchestrator.Publisher
	Breaker *CircuitBreaker
	Target  string
}

func (g *GuardedPublisher) Upload(ctx context.Context, key, path string) (string, error) {
	if g.Breaker.IsOpen(ctx, g.Target) {
		return "", fmt.Errorf("publish %s: %w", g.Target, ErrBreakerOpen)
	}
	url, err := g.Next.Upload(ctx, key, path)
	if err != nil {
		if isTransientError(err) {
			g.Breaker.Open(ctx, g.Target)
		}
		return "", err
	}
	g.Breaker.Close(ctx, g.Target)
	return url, nil
}
