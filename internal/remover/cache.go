package remover

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/mwlogger"
	"github.com/redis/go-redis/v9"
)

type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedRemover remembers results by md5 of the input, so the same picture is not sent to
// the engine twice while the entry lives.
type CachedRemover struct {
	next   Remover
	client cacheClient
	ttl    time.Duration
}

func NewCachedRemover(next Remover, client cacheClient, ttl time.Duration) *CachedRemover {
	return &CachedRemover{next: next, client: client, ttl: ttl}
}

func (c *CachedRemover) Remove(ctx context.Context, src []byte, contentType string, cfg Config) ([]byte, error) {
	logger := mwlogger.LoggerFromContext(ctx)
	key := cacheKey(src)

	cached, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil && len(cached) > 0:
		logger.Info().Str("cache_key", key).Msg("cache hit")
		cfg.report("fetch:cache", 1, 1)
		return cached, nil
	case err != nil && !errors.Is(err, redis.Nil):
		// кэш недоступен - работаем без него
		logger.Warn().Err(err).Msg("failed to get cached result")
	}

	res, err := c.next.Remove(ctx, src, contentType, cfg)
	if err != nil {
		return nil, err
	}

	if err := c.client.Set(ctx, key, res, c.ttl).Err(); err != nil {
		logger.Warn().Err(err).Msg("failed to cache result")
	}
	return res, nil
}

func cacheKey(src []byte) string {
	sum := md5.Sum(src)
	return "bgremoved:" + hex.EncodeToString(sum[:])
}

// NewRedisClient connects to redis and checks it with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
