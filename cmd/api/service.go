package main

import (
	"context"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/upload"
	"github.com/wb-go/wbf/config"
)

type StaleSweeper interface {
	FailStale(ctx context.Context, olderThan time.Duration, limit int)
	DropIdleZones(idleFor time.Duration) int
}

// setDefaults - значения для энвов, которые можно не задавать
func setDefaults(appConfig *config.Config) {
	appConfig.SetDefault("UPLOAD_ERROR_TTL", upload.DefaultErrorTTL.String())
	appConfig.SetDefault("STALE_AFTER", "5m")
	appConfig.SetDefault("STALE_SWEEP_SPEC", "@every 1m")
	appConfig.SetDefault("ZONE_IDLE_TTL", "30m")
}
