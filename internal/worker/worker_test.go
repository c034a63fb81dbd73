package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/UnendingLoop/BgRemover/internal/remover"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func taskMessage(t *testing.T) (kafkago.Message, model.RemovalTask) {
	t.Helper()
	task := model.RemovalTask{
		SessionID:   uuid.NewString(),
		OriginalKey: "original/" + uuid.NewString() + ".png",
		ContentType: model.PNG,
	}
	v, err := task.Encode()
	require.NoError(t, err)
	return kafkago.Message{Key: []byte(task.SessionID), Value: v}, task
}

func okStorage() *mockStorage {
	return &mockStorage{
		getFn: func(ctx context.Context, key string) (io.ReadCloser, string, error) {
			return io.NopCloser(bytes.NewReader([]byte("src"))), model.PNG, nil
		},
	}
}

func TestWorker_handle(t *testing.T) {
	tests := []struct {
		name          string
		storage       *mockStorage
		removeErr     error
		wantCompleted int
		wantFailed    int
	}{
		{
			name:          "removed",
			storage:       okStorage(),
			wantCompleted: 1,
		},
		{
			name:       "engine fails",
			storage:    okStorage(),
			removeErr:  errors.New("engine down"),
			wantFailed: 1,
		},
		{
			name: "original released",
			storage: &mockStorage{
				getFn: func(ctx context.Context, key string) (io.ReadCloser, string, error) {
					return nil, "", model.ErrHandleNotFound
				},
			},
		},
		{
			name: "storage down",
			storage: &mockStorage{
				getFn: func(ctx context.Context, key string) (io.ReadCloser, string, error) {
					return nil, "", errors.New("minio down")
				},
			},
			wantFailed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockSessionService{}
			rm := &mockRemover{
				removeFn: func(ctx context.Context, src []byte, cType string, cfg remover.Config) ([]byte, error) {
					require.Equal(t, "src", string(src))
					require.Equal(t, model.PNG, cType)
					if tt.removeErr != nil {
						return nil, tt.removeErr
					}
					return []byte("cut"), nil
				},
			}

			w := NewWorkerInstance(tt.storage, svc, rm, nil, &mockCommitter{}, false)
			msg, _ := taskMessage(t)

			require.NoError(t, w.handle(context.Background(), msg))
			require.Len(t, svc.completed, tt.wantCompleted)
			require.Len(t, svc.failed, tt.wantFailed)
		})
	}
}

func TestWorker_handle_MalformedTask(t *testing.T) {
	svc := &mockSessionService{}
	w := NewWorkerInstance(okStorage(), svc, &mockRemover{}, nil, &mockCommitter{}, false)

	require.NoError(t, w.handle(context.Background(), kafkago.Message{Value: []byte("{oops")}))
	require.Empty(t, svc.completed)
	require.Empty(t, svc.failed)
}

func TestWorker_ProgressIsThrottled(t *testing.T) {
	svc := &mockSessionService{}
	rm := &mockRemover{
		removeFn: func(ctx context.Context, src []byte, cType string, cfg remover.Config) ([]byte, error) {
			for i := int64(0); i <= 1000; i++ {
				cfg.Progress("compute:inference", i, 1000)
			}
			cfg.Progress("fetch", 0, 0) // неизвестный размер
			return []byte("cut"), nil
		},
	}

	w := NewWorkerInstance(okStorage(), svc, rm, nil, &mockCommitter{}, false)
	msg, _ := taskMessage(t)
	require.NoError(t, w.handle(context.Background(), msg))

	require.Len(t, svc.progress, 101)
	require.Equal(t, 0, svc.progress[0])
	require.Equal(t, 100, svc.progress[100])
}

func TestWorker_ProgressRoundsLikeLoadingText(t *testing.T) {
	svc := &mockSessionService{}
	rm := &mockRemover{
		removeFn: func(ctx context.Context, src []byte, cType string, cfg remover.Config) ([]byte, error) {
			cfg.Progress("fetch", 494, 1000) // 49%
			cfg.Progress("fetch", 496, 1000) // 49.6% - на экране уже 50%
			cfg.Progress("fetch", 503, 1000) // все еще 50%
			return []byte("cut"), nil
		},
	}

	w := NewWorkerInstance(okStorage(), svc, rm, nil, &mockCommitter{}, false)
	msg, _ := taskMessage(t)
	require.NoError(t, w.handle(context.Background(), msg))

	require.Equal(t, []int{49, 50}, svc.progress)
}

func TestWorker_StartWorker_CommitsHandledTasks(t *testing.T) {
	svc := &mockSessionService{
		completeFn: func(ctx context.Context, id, originalKey string, result []byte) error {
			if string(result) == "bad" {
				return model.ErrCommon500
			}
			return nil
		},
	}
	calls := 0
	rm := &mockRemover{
		removeFn: func(ctx context.Context, src []byte, cType string, cfg remover.Config) ([]byte, error) {
			calls++
			if calls == 2 {
				return []byte("bad"), nil
			}
			return []byte("cut"), nil
		},
	}
	queue := make(chan kafkago.Message, 3)
	cons := &mockCommitter{}
	w := NewWorkerInstance(okStorage(), svc, rm, queue, cons, true)

	for range 3 {
		msg, _ := taskMessage(t)
		queue <- msg
	}
	close(queue)

	done := make(chan struct{})
	go func() {
		w.StartWorker(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue was closed")
	}

	// вторая задача не смогла сохранить результат - не коммитится
	require.Equal(t, 2, cons.count())
}
