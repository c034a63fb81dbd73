package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/wb-go/wbf/retry"
)

// FAKE REPOSITORY - keeps rows in memory, same conditional semantics as the postgres one

type fakeRepo struct {
	mu       sync.Mutex
	rows     map[string]model.Session
	updateFn func(s *model.Session) error // runs before the write: failures and concurrent changes
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]model.Session)}
}

func (r *fakeRepo) Create(ctx context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.UID.String()] = *s
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return &s, nil
}

func (r *fakeRepo) CompareAndUpdate(ctx context.Context, s *model.Session, expect model.Session) (bool, error) {
	if r.updateFn != nil {
		if err := r.updateFn(s); err != nil {
			return false, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[s.UID.String()]
	if !ok || cur.OriginalKey != expect.OriginalKey || cur.ResultKey != expect.ResultKey ||
		cur.Processing != expect.Processing || cur.Alert != expect.Alert {
		return false, nil
	}
	r.rows[s.UID.String()] = *s
	return true, nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return model.ErrSessionNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *fakeRepo) SetProgress(ctx context.Context, id, originalKey, text string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || s.OriginalKey != originalKey || !s.Processing {
		return false, nil
	}
	s.LoadingText = text
	r.rows[id] = s
	return true, nil
}

func (r *fakeRepo) FinishRemoval(ctx context.Context, id, originalKey, resultKey, alert string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || s.OriginalKey != originalKey || !s.Processing {
		return false, nil
	}
	s.Processing = false
	s.ResultKey = resultKey
	s.Alert = alert
	r.rows[id] = s
	return true, nil
}

func (r *fakeRepo) FetchStale(ctx context.Context, cutoff time.Time, limit int) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]model.Session, 0)
	for _, s := range r.rows {
		if s.Processing && s.UpdatedAt != nil && s.UpdatedAt.Before(cutoff) && len(res) < limit {
			res = append(res, s)
		}
	}
	return res, nil
}

// FAKE STORAGE

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	ctypes  map[string]string
	putErr  error
	deleted []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte), ctypes: make(map[string]string)}
}

func (s *fakeStorage) Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.ctypes[key] = contentType
	return nil
}

func (s *fakeStorage) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, "", model.ErrHandleNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), s.ctypes[key], nil
}

func (s *fakeStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStorage) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *fakeStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// MOCK PUBLISHER

type mockPublisher struct {
	sendFn func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error
	sent   []model.RemovalTask
}

func (m *mockPublisher) SendWithRetry(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
	if m.sendFn != nil {
		if err := m.sendFn(ctx, s, key, v); err != nil {
			return err
		}
	}
	t, err := model.DecodeRemovalTask(v)
	if err != nil {
		return err
	}
	m.sent = append(m.sent, t)
	return nil
}
