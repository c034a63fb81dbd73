// Package service provides business-logic for the app: the editor sessions with their image handles
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/UnendingLoop/BgRemover/internal/mwlogger"
	"github.com/UnendingLoop/BgRemover/internal/repository"
	"github.com/UnendingLoop/BgRemover/internal/upload"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
)

type EditorService struct {
	repo      repository.SessionRepo
	publisher TaskPublisher
	storage   HandleStorage
	errTTL    time.Duration
	now       func() time.Time

	mu    sync.Mutex
	zones map[string]*zoneEntry
}

type zoneEntry struct {
	zone    *upload.Zone
	touched time.Time
}

func NewEditorService(sessionRep repository.SessionRepo, pub TaskPublisher, strg HandleStorage, uploadErrTTL time.Duration) *EditorService {
	return &EditorService{
		repo:      sessionRep,
		publisher: pub,
		storage:   strg,
		errTTL:    uploadErrTTL,
		now:       time.Now,
		zones:     make(map[string]*zoneEntry),
	}
}

// TaskPublisher - контракт для работы с очередью
type TaskPublisher interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, v []byte) error
}

// HandleStorage - контракт для работы с хранилищем данных хендлов
type HandleStorage interface {
	Delete(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (output io.ReadCloser, ctype string, err error)
	Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error
}

// Стратегия ретрая отправки в очередь
var retryStrategy = retry.Strategy{
	Attempts: 5,
	Delay:    3 * time.Second,
	Backoff:  1.5,
}

var errStale = errors.New("removal did not finish in time")

const maxUpdateAttempts = 5

func (c *EditorService) NewSession(ctx context.Context) (*model.SessionView, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	now := c.now().UTC()
	s := &model.Session{
		UID:         uuid.New(),
		LoadingText: model.LoadingInitial,
		CreatedAt:   &now,
		UpdatedAt:   &now,
	}

	if err := c.repo.Create(ctx, s); err != nil {
		logger.Error().Err(err).Msg("Failed to create session in DB")
		return nil, model.ErrCommon500
	}

	return c.view(s), nil
}

func (c *EditorService) Get(ctx context.Context, id string) (*model.SessionView, error) {
	s, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.view(s), nil
}

// Drop passes dropped files through the session's upload zone.
func (c *EditorService) Drop(ctx context.Context, id string, files []model.UploadedFile) (*model.SessionView, error) {
	if _, err := c.load(ctx, id); err != nil {
		return nil, err
	}
	if err := c.zone(id).Drop(ctx, files); err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

// Pick passes files chosen in the file picker through the session's upload zone.
func (c *EditorService) Pick(ctx context.Context, id string, files []model.UploadedFile) (*model.SessionView, error) {
	if _, err := c.load(ctx, id); err != nil {
		return nil, err
	}
	if err := c.zone(id).Pick(ctx, files); err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

func (c *EditorService) Drag(ctx context.Context, id string, ev upload.DragEvent) (*model.SessionView, error) {
	s, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.zone(id).Drag(ev); err != nil {
		return nil, err
	}
	return c.view(s), nil
}

// SelectFile is the upload zone callback: it installs the file as the new original,
// releases the handles it supersedes and queues the background removal.
func (c *EditorService) SelectFile(ctx context.Context, id string, f model.UploadedFile) error {
	logger := mwlogger.LoggerFromContext(ctx)

	if _, err := c.load(ctx, id); err != nil {
		return err
	}

	// кладем в хранилище исходник
	origKey := newHandleKey(originalPrefix, f.ContentType)
	if err := c.storage.Put(ctx, origKey, int64(len(f.Data)), f.ContentType, bytes.NewReader(f.Data)); err != nil {
		logger.Error().Err(err).Msg("Failed to save original image in Storage")
		return model.ErrCommon500
	}

	prev, err := c.mutate(ctx, id, func(s *model.Session) bool {
		s.OriginalKey = origKey
		s.ResultKey = ""
		s.Processing = true
		s.LoadingText = model.LoadingStarting
		s.Alert = ""
		return true
	})
	if err != nil {
		c.release(ctx, origKey)
		return err
	}

	// старые хендлы больше никому не нужны
	c.release(ctx, prev.OriginalKey)
	c.release(ctx, prev.ResultKey)

	task, err := model.RemovalTask{SessionID: id, OriginalKey: origKey, ContentType: f.ContentType}.Encode()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode removal task")
		return c.FailRemoval(ctx, id, origKey, err)
	}

	// кладем в очередь задач(в кафку)
	if err := c.publisher.SendWithRetry(ctx, retryStrategy, []byte(id), task); err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to publish removal of session %q to task-queue", id))
		return c.FailRemoval(ctx, id, origKey, err)
	}

	logger.Info().Str("session", id).Str("original", origKey).Int("bytes", len(f.Data)).Msg("Background removal queued")
	return nil
}

// ReportProgress maps (current, total) to the loading text. Stale reports are dropped.
func (c *EditorService) ReportProgress(ctx context.Context, id, originalKey string, current, total int64) error {
	text, ok := progressText(current, total)
	if !ok {
		return nil
	}

	if _, err := c.repo.SetProgress(ctx, id, originalKey, text); err != nil {
		logger := mwlogger.LoggerFromContext(ctx)
		logger.Error().Err(err).Msg("Failed to save progress in DB")
		return model.ErrCommon500
	}
	return nil
}

// CompleteRemoval stores the result handle. A result for a superseded original is discarded.
func (c *EditorService) CompleteRemoval(ctx context.Context, id, originalKey string, result []byte) error {
	logger := mwlogger.LoggerFromContext(ctx)

	resKey := newHandleKey(resultPrefix, model.PNG)
	if err := c.storage.Put(ctx, resKey, int64(len(result)), model.PNG, bytes.NewReader(result)); err != nil {
		logger.Error().Err(err).Msg("Failed to save result image in Storage")
		return c.FailRemoval(ctx, id, originalKey, err)
	}

	applied, err := c.repo.FinishRemoval(ctx, id, originalKey, resKey, "")
	if err != nil {
		c.release(ctx, resKey)
		logger.Error().Err(err).Msg("Failed to save result in DB")
		return model.ErrCommon500
	}
	if !applied {
		c.release(ctx, resKey)
		logger.Info().Str("session", id).Str("original", originalKey).Msg("Result discarded: original was superseded")
		return nil
	}

	logger.Info().Str("session", id).Str("result", resKey).Msg("Background removed")
	return nil
}

// FailRemoval raises the blocking alert and leaves the processing state keeping the original.
func (c *EditorService) FailRemoval(ctx context.Context, id, originalKey string, cause error) error {
	logger := mwlogger.LoggerFromContext(ctx)
	logger.Error().Err(cause).Str("session", id).Msg("Background removal failed")

	if _, err := c.repo.FinishRemoval(ctx, id, originalKey, "", model.AlertRemoval); err != nil {
		logger.Error().Err(err).Msg("Failed to save removal failure in DB")
		return model.ErrCommon500
	}
	return nil
}

func (c *EditorService) DismissAlert(ctx context.Context, id string) (*model.SessionView, error) {
	if _, err := c.mutate(ctx, id, func(s *model.Session) bool {
		if s.Alert == "" {
			return false
		}
		s.Alert = ""
		return true
	}); err != nil {
		return nil, err
	}
	return c.Get(ctx, id)
}

// Reset releases both handles and brings the session back to the landing screen.
func (c *EditorService) Reset(ctx context.Context, id string) (*model.SessionView, error) {
	prev, err := c.mutate(ctx, id, func(s *model.Session) bool {
		s.OriginalKey = ""
		s.ResultKey = ""
		s.Processing = false
		s.LoadingText = model.LoadingInitial
		s.Alert = ""
		return true
	})
	if err != nil {
		return nil, err
	}

	c.release(ctx, prev.OriginalKey)
	c.release(ctx, prev.ResultKey)

	return c.Get(ctx, id)
}

// Download returns the result image; the caller serves it as model.DownloadName.
func (c *EditorService) Download(ctx context.Context, id string) (io.ReadCloser, string, error) {
	s, err := c.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if s.ResultKey == "" {
		return nil, "", model.ErrResultNotReady
	}
	return c.OpenHandle(ctx, s.ResultKey)
}

func (c *EditorService) OpenHandle(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if !validHandleKey(key) {
		return nil, "", model.ErrHandleNotFound
	}

	data, cType, err := c.storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, model.ErrHandleNotFound) {
			return nil, "", err
		}
		logger := mwlogger.LoggerFromContext(ctx)
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch handle %q from Storage", key))
		return nil, "", model.ErrCommon500
	}
	return data, cType, nil
}

// Close tears the session down: handles are released, the row and the upload zone are dropped.
func (c *EditorService) Close(ctx context.Context, id string) error {
	logger := mwlogger.LoggerFromContext(ctx)

	s, err := c.load(ctx, id)
	if err != nil {
		return err
	}

	if err := c.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return err
		}
		logger.Error().Err(err).Msg("Failed to delete session from DB")
		return model.ErrCommon500
	}

	c.release(ctx, s.OriginalKey)
	c.release(ctx, s.ResultKey)

	c.mu.Lock()
	delete(c.zones, id)
	c.mu.Unlock()

	return nil
}

// FailStale fails removals that have been running longer than olderThan. They are not retried.
func (c *EditorService) FailStale(ctx context.Context, olderThan time.Duration, limit int) {
	logger := mwlogger.LoggerFromContext(ctx)

	stale, err := c.repo.FetchStale(ctx, c.now().UTC().Add(-olderThan), limit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load stale sessions from DB")
		return
	}

	for _, s := range stale {
		if err := c.FailRemoval(ctx, s.UID.String(), s.OriginalKey, errStale); err != nil {
			logger.Error().Err(err).Msg("Failed to fail stale session")
		}
	}
}

// DropIdleZones forgets upload zones untouched for idleFor. A later request to the session
// starts with a fresh zone.
func (c *EditorService) DropIdleZones(idleFor time.Duration) int {
	cutoff := c.now().Add(-idleFor)

	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for id, e := range c.zones {
		if e.touched.Before(cutoff) {
			delete(c.zones, id)
			dropped++
		}
	}
	return dropped
}

func (c *EditorService) load(ctx context.Context, id string) (*model.Session, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, model.ErrIncorrectID
	}

	s, err := c.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			return nil, err // 404
		}
		logger := mwlogger.LoggerFromContext(ctx)
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch session %q from DB", id))
		return nil, model.ErrCommon500
	}
	return s, nil
}

// mutate applies change to the session row. The write lands only if the row is still what change saw,
// otherwise the row is re-read and change applied again. Returns the row as it was right before the
// write; change returns false when there is nothing to write.
func (c *EditorService) mutate(ctx context.Context, id string, change func(s *model.Session) bool) (*model.Session, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		s, err := c.load(ctx, id)
		if err != nil {
			return nil, err
		}
		prev := *s
		if !change(s) {
			return &prev, nil
		}
		now := c.now().UTC()
		s.UpdatedAt = &now

		applied, err := c.repo.CompareAndUpdate(ctx, s, prev)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to update session in DB")
			return nil, model.ErrCommon500
		}
		if applied {
			return &prev, nil
		}
	}

	logger.Error().Str("session", id).Msg("Session keeps changing, update gave up")
	return nil, model.ErrCommon500
}

// release deletes the data behind a handle. Failures are only logged: the handle is already
// detached from the session.
func (c *EditorService) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := c.storage.Delete(ctx, key); err != nil {
		logger := mwlogger.LoggerFromContext(ctx)
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to release handle %q", key))
	}
}

func (c *EditorService) zone(id string) *upload.Zone {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.zones[id]
	if !ok {
		e = &zoneEntry{zone: upload.NewZone(func(ctx context.Context, f model.UploadedFile) error {
			return c.SelectFile(ctx, id, f)
		}, c.errTTL)}
		c.zones[id] = e
	}
	e.touched = c.now()
	return e.zone
}

func (c *EditorService) view(s *model.Session) *model.SessionView {
	var uploadErr string
	var drag bool

	c.mu.Lock()
	e := c.zones[s.UID.String()]
	c.mu.Unlock()

	if e != nil {
		uploadErr = e.zone.Error()
		drag = e.zone.DragActive()
	}

	v := model.NewView(s, uploadErr, drag)
	return &v
}
