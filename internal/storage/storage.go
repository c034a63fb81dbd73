// Package storage keeps the binary data behind image handles
package storage

import (
	"log"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/storage/miniostorage"
	"github.com/wb-go/wbf/config"
)

// NewHandleStorage connects to MinIO, retrying until it succeeds
func NewHandleStorage(cfg *config.Config, delay time.Duration) *miniostorage.MinioHandleStorage {
	for {
		log.Println("Connecting to handle-storage...")
		client, err := miniostorage.NewMinioClient(cfg)
		if err != nil {
			log.Printf("Failed to init connection to handle-storage: %v\nNext retry in %v...", err, delay)
			time.Sleep(delay)
			continue
		}
		log.Println("Successfully connected handle-storage!")
		return client
	}
}
