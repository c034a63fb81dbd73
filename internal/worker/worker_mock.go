package worker

import (
	"context"
	"io"
	"sync"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/UnendingLoop/BgRemover/internal/remover"
	kafkago "github.com/segmentio/kafka-go"
)

type mockSessionService struct {
	mu         sync.Mutex
	progress   []int
	completed  [][]byte
	failed     []error
	completeFn func(ctx context.Context, id, originalKey string, result []byte) error
}

func (m *mockSessionService) ReportProgress(ctx context.Context, id, originalKey string, current, total int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	percent, _ := model.ProgressPercent(current, total)
	m.progress = append(m.progress, percent)
	return nil
}

func (m *mockSessionService) CompleteRemoval(ctx context.Context, id, originalKey string, result []byte) error {
	m.mu.Lock()
	m.completed = append(m.completed, result)
	m.mu.Unlock()
	if m.completeFn != nil {
		return m.completeFn(ctx, id, originalKey, result)
	}
	return nil
}

func (m *mockSessionService) FailRemoval(ctx context.Context, id, originalKey string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, cause)
	return nil
}

//----------------------------------

type mockStorage struct {
	getFn func(ctx context.Context, key string) (io.ReadCloser, string, error)
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return m.getFn(ctx, key)
}

func (m *mockStorage) Put(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
	return nil
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	return nil
}

//----------------------------------

type mockRemover struct {
	removeFn func(ctx context.Context, src []byte, cType string, cfg remover.Config) ([]byte, error)
}

func (m *mockRemover) Remove(ctx context.Context, src []byte, cType string, cfg remover.Config) ([]byte, error) {
	return m.removeFn(ctx, src, cType, cfg)
}

type mockCommitter struct {
	mu        sync.Mutex
	committed []kafkago.Message
}

func (m *mockCommitter) Commit(ctx context.Context, msg kafkago.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msg)
	return nil
}

func (m *mockCommitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}
