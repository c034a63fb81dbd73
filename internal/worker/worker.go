// Package worker consumes removal tasks, runs the removal engine and reports progress and outcome back to the sessions
package worker

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/UnendingLoop/BgRemover/internal/mwlogger"
	"github.com/UnendingLoop/BgRemover/internal/remover"
	"github.com/UnendingLoop/BgRemover/internal/service"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type SessionService interface {
	ReportProgress(ctx context.Context, id, originalKey string, current, total int64) error
	CompleteRemoval(ctx context.Context, id, originalKey string, result []byte) error
	FailRemoval(ctx context.Context, id, originalKey string, cause error) error
}

type Committer interface {
	Commit(ctx context.Context, msg kafkago.Message) error
}

type Worker struct {
	storage  service.HandleStorage
	service  SessionService
	remover  remover.Remover
	queue    <-chan kafkago.Message
	consumer Committer
	debug    bool
	metrics  outcomeMetrics
}

func NewWorkerInstance(strg service.HandleStorage, svc SessionService, rm remover.Remover, q <-chan kafkago.Message, cons Committer, debug bool) *Worker {
	return &Worker{storage: strg, service: svc, remover: rm, queue: q, consumer: cons, debug: debug, metrics: newOutcomeMetrics()}
}

func (w *Worker) StartWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.queue:
			if !ok {
				log.Println("Queue channel closed, stopping worker...")
				return
			}
			if err := w.handle(ctx, msg); err != nil {
				log.Printf("Task %s failed: %v", string(msg.Key), err)
				continue
			}
			if err := w.consumer.Commit(ctx, msg); err != nil {
				log.Printf("Failed to commit queue-message: %v", err)
			}
		}
	}
}

// handle returns an error only when the outcome could not be recorded; the message then stays uncommitted.
func (w *Worker) handle(ctx context.Context, msg kafkago.Message) error {
	task, err := model.DecodeRemovalTask(msg.Value)
	if err != nil {
		log.Printf("Skipping malformed removal task %q: %v", string(msg.Key), err)
		return nil
	}

	logger := zlog.Logger.With().Str("session", task.SessionID).Str("original", task.OriginalKey).Logger()
	ctx = mwlogger.WithLogger(ctx, logger)

	started := time.Now()
	src, err := w.loadOriginal(ctx, task.OriginalKey)
	if err != nil {
		if errors.Is(err, model.ErrHandleNotFound) {
			// оригинал уже освобожден: сессию сбросили или загрузили новый файл
			logger.Info().Msg("Original released before processing, task skipped")
			w.metrics.record(ctx, "skipped", started)
			return nil
		}
		w.metrics.record(ctx, "failed", started)
		return w.service.FailRemoval(ctx, task.SessionID, task.OriginalKey, err)
	}

	cfg := remover.Config{
		Progress: w.progressReporter(ctx, task),
		Debug:    w.debug,
	}

	result, err := w.remover.Remove(ctx, src, task.ContentType, cfg)
	if err != nil {
		w.metrics.record(ctx, "failed", started)
		return w.service.FailRemoval(ctx, task.SessionID, task.OriginalKey, err)
	}

	w.metrics.record(ctx, "done", started)
	return w.service.CompleteRemoval(ctx, task.SessionID, task.OriginalKey, result)
}

func (w *Worker) loadOriginal(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := w.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer closeFileFlow(rc)

	return io.ReadAll(rc)
}

// progressReporter forwards progress to the session, skipping reports that would not change the percentage.
func (w *Worker) progressReporter(ctx context.Context, task model.RemovalTask) remover.ProgressFunc {
	var mu sync.Mutex
	lastKey, lastPercent := "", -1

	return func(key string, current, total int64) {
		percent, ok := model.ProgressPercent(current, total)
		if !ok {
			return
		}

		mu.Lock()
		if key == lastKey && percent == lastPercent {
			mu.Unlock()
			return
		}
		lastKey, lastPercent = key, percent
		mu.Unlock()

		if err := w.service.ReportProgress(ctx, task.SessionID, task.OriginalKey, current, total); err != nil {
			log.Printf("Failed to report progress of session %q: %v", task.SessionID, err)
		}
	}
}

type outcomeMetrics struct {
	removals metric.Int64Counter
	duration metric.Float64Histogram
}

func newOutcomeMetrics() outcomeMetrics {
	meter := otel.GetMeterProvider().Meter("bgremover/worker")

	removals, err := meter.Int64Counter("removals_total", metric.WithDescription("Background removals by outcome"))
	if err != nil {
		log.Printf("Failed to create removals counter: %v", err)
	}
	duration, err := meter.Float64Histogram("removal_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		log.Printf("Failed to create removal duration histogram: %v", err)
	}
	return outcomeMetrics{removals: removals, duration: duration}
}

func (m outcomeMetrics) record(ctx context.Context, outcome string, started time.Time) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.removals != nil {
		m.removals.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, time.Since(started).Seconds(), attrs)
	}
}

func closeFileFlow(res io.ReadCloser) {
	if res == nil {
		return
	}

	if err := res.Close(); err != nil {
		log.Println("Worker failed to close fileflow:", err)
	}
}
