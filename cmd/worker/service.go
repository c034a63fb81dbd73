package main

import (
	"context"
	"fmt"
	"log"

	"github.com/UnendingLoop/BgRemover/internal/remover"
	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/retry"
)

// NoopPublisher - ЗАГЛУШКА, функциональность настоящего паблишера в очередь не нужна в рамках работы воркера
type NoopPublisher struct{}

func (NoopPublisher) SendWithRetry(ctx context.Context, strategy retry.Strategy, k []byte, v []byte) error {
	return nil
}

// setDefaults - значения для энвов, которые можно не задавать
func setDefaults(appConfig *config.Config) {
	appConfig.SetDefault("REMOVER_MODE", "local")
	appConfig.SetDefault("REMOVER_TIMEOUT", "2m")
	appConfig.SetDefault("REMOVER_DEBUG", false)
	appConfig.SetDefault("CACHE_TTL", "24h")
}

// buildRemover выбирает движок по REMOVER_MODE и, если задан REDIS_ADDR, оборачивает его кэшем
func buildRemover(ctx context.Context, appConfig *config.Config) (remover.Remover, *redis.Client, error) {
	var rm remover.Remover

	switch mode := appConfig.GetString("REMOVER_MODE"); mode {
	case "local":
		rm = remover.NewLocalRemover(0, 0)
	case "http":
		url := appConfig.GetString("REMOVER_URL")
		if url == "" {
			return nil, nil, fmt.Errorf("REMOVER_URL is required for REMOVER_MODE=http")
		}
		rm = remover.NewHTTPRemover(url, appConfig.GetDuration("REMOVER_TIMEOUT"))
	default:
		return nil, nil, fmt.Errorf("unknown REMOVER_MODE %q", mode)
	}

	addr := appConfig.GetString("REDIS_ADDR")
	if addr == "" {
		return rm, nil, nil
	}

	client, err := remover.NewRedisClient(ctx, addr, appConfig.GetString("REDIS_PASSWORD"), 0)
	if err != nil {
		// без кэша работать можно
		log.Printf("Redis at %q is not available, results will not be cached: %v", addr, err)
		return rm, nil, nil
	}
	return remover.NewCachedRemover(rm, client, appConfig.GetDuration("CACHE_TTL")), client, nil
}
