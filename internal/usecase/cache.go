package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-gateway/internal/facerecognition"
	"github.com/example/face-gateway/internal/logging"
)

// Cache abstracts the Redis operations used by the use case to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// verificationCacheKey identifies a verification by both payloads and the
// options that influence the verdict.
func verificationCacheKey(reference, candidate string, opts facerecognition.MatchOptions) string {
	h := sha1.New()
	for _, part := range []string{reference, candidate, formatThreshold(opts.Threshold), opts.ModelName} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "verification:" + hex.EncodeToString(h.Sum(nil))
}

func formatThreshold(threshold *float64) string {
	if threshold == nil {
		return "default"
	}
	return strconv.FormatFloat(*threshold, 'g', -1, 64)
}

// cachedVerification returns a previously stored result. Misses and cache
// failures both yield nil.
func (uc *FaceUseCase) cachedVerification(ctx context.Context, requestID, key string) facerecognition.VerificationResult {
	if uc.cache == nil || key == "" {
		return nil
	}
	opLogger := logging.WithOperation(uc.logger, "cache.get.verification", requestID)

	var raw string
	err := uc.withRedisRetry(ctx, requestID, "cache.get.verification", func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
		return nil
	}

	var result facerecognition.VerificationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		opLogger.Warn("failed to decode cached result", zap.Error(err))
		return nil
	}
	return result
}

func (uc *FaceUseCase) storeVerification(ctx context.Context, requestID, key string, result facerecognition.VerificationResult) {
	if uc.cache == nil || key == "" {
		return
	}
	opLogger := logging.WithOperation(uc.logger, "cache.set.verification", requestID)

	serialized, err := json.Marshal(result)
	if err != nil {
		opLogger.Warn("failed to serialize verification result", zap.Error(err))
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.verification", func() error {
		return uc.cache.Set(ctx, key, string(serialized), uc.opts.CacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache verification result", zap.Error(err))
	}
}

func (uc *FaceUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, requestID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
