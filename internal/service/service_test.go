package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/UnendingLoop/BgRemover/internal/upload"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"
)

// минимальный валидный PNG-заголовок, чтобы сниффер узнал картинку
var pngMagic = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestService(t *testing.T) (*EditorService, *fakeRepo, *fakeStorage, *mockPublisher) {
	t.Helper()
	repo := newFakeRepo()
	strg := newFakeStorage()
	pub := &mockPublisher{}
	return NewEditorService(repo, pub, strg, time.Minute), repo, strg, pub
}

func newSessionID(t *testing.T, svc *EditorService) string {
	t.Helper()
	v, err := svc.NewSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.StateIdle, v.State)
	require.Equal(t, model.ScreenLanding, v.Screen)
	return v.UID.String()
}

func pngFile() model.UploadedFile {
	return model.UploadedFile{Name: "cat.png", ContentType: model.PNG, Data: pngMagic}
}

func TestEditorService_DropText_Rejected(t *testing.T) {
	svc, repo, strg, pub := newTestService(t)
	id := newSessionID(t, svc)

	_, err := svc.Drop(context.Background(), id, []model.UploadedFile{{Name: "a.txt", ContentType: "text/plain", Data: []byte("hi")}})
	require.ErrorIs(t, err, model.ErrNotImage)

	v, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "Please upload an image file", v.UploadError)
	require.Equal(t, model.StateIdle, v.State)
	require.Empty(t, pub.sent)
	require.Zero(t, strg.count())

	s, _ := repo.Get(context.Background(), id)
	require.False(t, s.Processing)
}

func TestEditorService_DropPNG_Flow(t *testing.T) {
	svc, _, strg, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	v, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	require.Equal(t, model.StateProcessing, v.State)
	require.Equal(t, model.ScreenEditor, v.Screen)
	require.Equal(t, model.LoadingStarting, v.LoadingText)
	require.NotEmpty(t, v.OriginalURL)
	require.Equal(t, v.OriginalURL, v.DisplayURL)
	require.False(t, v.CanDownload)

	require.Len(t, pub.sent, 1)
	task := pub.sent[0]
	require.Equal(t, id, task.SessionID)
	require.True(t, strg.has(task.OriginalKey))

	// прогресс
	require.NoError(t, svc.ReportProgress(ctx, id, task.OriginalKey, 1, 3))
	v, err = svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Processing: 33%", v.LoadingText)

	// успех
	require.NoError(t, svc.CompleteRemoval(ctx, id, task.OriginalKey, []byte("result-png")))
	v, err = svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StateHasResult, v.State)
	require.False(t, v.Processing)
	require.Empty(t, v.LoadingText)
	require.True(t, v.CanDownload)
	require.Equal(t, v.ResultURL, v.DisplayURL)
	require.Equal(t, model.DownloadName, v.DownloadName)

	// оригинал жив до ресета, результат ровно один
	require.True(t, strg.has(task.OriginalKey))
	require.Equal(t, 2, strg.count())

	rc, cType, err := svc.Download(ctx, id)
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	require.Equal(t, "result-png", string(data))
	require.Equal(t, model.PNG, cType)
}

func TestEditorService_RemovalFails_KeepsOriginal(t *testing.T) {
	svc, _, strg, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	_, err := svc.Pick(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	task := pub.sent[0]

	require.NoError(t, svc.FailRemoval(ctx, id, task.OriginalKey, errors.New("model crashed")))

	v, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.AlertRemoval, v.Alert)
	require.False(t, v.Processing)
	require.Equal(t, model.StateHasOriginalOnly, v.State)
	require.Equal(t, model.ScreenEditor, v.Screen)
	require.Equal(t, v.OriginalURL, v.DisplayURL)
	require.True(t, strg.has(task.OriginalKey))

	_, _, err = svc.Download(ctx, id)
	require.ErrorIs(t, err, model.ErrResultNotReady)

	v, err = svc.DismissAlert(ctx, id)
	require.NoError(t, err)
	require.Empty(t, v.Alert)
}

func TestEditorService_NewFileReleasesPrevious(t *testing.T) {
	svc, _, strg, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	_, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	first := pub.sent[0]
	require.NoError(t, svc.CompleteRemoval(ctx, id, first.OriginalKey, []byte("r1")))
	require.Equal(t, 2, strg.count())

	v, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	require.Equal(t, model.StateProcessing, v.State)
	require.Empty(t, v.ResultURL)

	second := pub.sent[1]
	require.False(t, strg.has(first.OriginalKey))
	require.True(t, strg.has(second.OriginalKey))
	require.Equal(t, 1, strg.count())
}

func TestEditorService_SupersededResultDiscarded(t *testing.T) {
	svc, _, strg, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	_, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	_, err = svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	first, second := pub.sent[0], pub.sent[1]

	// старая задача догоняет - ее результат не должен попасть в сессию
	require.NoError(t, svc.ReportProgress(ctx, id, first.OriginalKey, 9, 10))
	require.NoError(t, svc.CompleteRemoval(ctx, id, first.OriginalKey, []byte("old")))

	v, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StateProcessing, v.State)
	require.Equal(t, model.LoadingStarting, v.LoadingText)
	require.Equal(t, 1, strg.count())

	require.NoError(t, svc.CompleteRemoval(ctx, id, second.OriginalKey, []byte("new")))
	v, err = svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StateHasResult, v.State)
}

func TestEditorService_Reset(t *testing.T) {
	svc, _, strg, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	_, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	task := pub.sent[0]
	require.NoError(t, svc.CompleteRemoval(ctx, id, task.OriginalKey, []byte("r")))

	v, err := svc.Reset(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StateIdle, v.State)
	require.Equal(t, model.ScreenLanding, v.Screen)
	require.Empty(t, v.OriginalURL)
	require.Empty(t, v.ResultURL)
	require.Zero(t, strg.count())

	_, _, err = svc.OpenHandle(ctx, task.OriginalKey)
	require.ErrorIs(t, err, model.ErrHandleNotFound)
}

func TestEditorService_ResetDuringProcessing(t *testing.T) {
	svc, _, strg, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	_, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	task := pub.sent[0]

	_, err = svc.Reset(ctx, id)
	require.NoError(t, err)

	require.NoError(t, svc.CompleteRemoval(ctx, id, task.OriginalKey, []byte("late")))
	v, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.StateIdle, v.State)
	require.Zero(t, strg.count())
}

func TestEditorService_ResultLandsDuringReset(t *testing.T) {
	svc, repo, strg, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	_, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	task := pub.sent[0]

	// воркер успевает сохранить результат между чтением и записью сессии
	landed := false
	repo.updateFn = func(s *model.Session) error {
		if !landed {
			landed = true
			require.NoError(t, svc.CompleteRemoval(ctx, id, task.OriginalKey, []byte("r")))
		}
		return nil
	}

	v, err := svc.Reset(ctx, id)
	require.NoError(t, err)
	require.True(t, landed)
	require.Equal(t, model.StateIdle, v.State)
	require.Zero(t, strg.count())
}

func TestEditorService_ResultLandsDuringNewDrop(t *testing.T) {
	svc, repo, strg, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	_, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	first := pub.sent[0]

	landed := false
	repo.updateFn = func(s *model.Session) error {
		if !landed {
			landed = true
			require.NoError(t, svc.CompleteRemoval(ctx, id, first.OriginalKey, []byte("r")))
		}
		return nil
	}

	v, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	require.True(t, landed)
	require.Equal(t, model.StateProcessing, v.State)
	require.Empty(t, v.ResultURL)

	second := pub.sent[1]
	require.True(t, strg.has(second.OriginalKey))
	require.Equal(t, 1, strg.count())
}

func TestEditorService_NewDropDuringDismiss(t *testing.T) {
	svc, repo, strg, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	_, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	require.NoError(t, svc.FailRemoval(ctx, id, pub.sent[0].OriginalKey, errors.New("engine down")))

	// пока закрывается алерт, пользователь уже бросил новый файл
	dropped := false
	repo.updateFn = func(s *model.Session) error {
		if !dropped {
			dropped = true
			require.NoError(t, svc.SelectFile(ctx, id, pngFile()))
		}
		return nil
	}

	v, err := svc.DismissAlert(ctx, id)
	require.NoError(t, err)
	require.True(t, dropped)
	require.Empty(t, v.Alert)
	require.Equal(t, model.StateProcessing, v.State)

	second := pub.sent[1]
	require.Equal(t, model.HandleURL(second.OriginalKey), v.OriginalURL)
	require.True(t, strg.has(second.OriginalKey))
	require.Equal(t, 1, strg.count())
}

func TestEditorService_UpdateGivesUp(t *testing.T) {
	svc, repo, strg, _ := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	// строка меняется перед каждой записью
	repo.updateFn = func(s *model.Session) error {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		row := repo.rows[id]
		row.Alert += "!"
		repo.rows[id] = row
		return nil
	}

	_, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.ErrorIs(t, err, model.ErrCommon500)
	require.Zero(t, strg.count())
}

func TestEditorService_Close(t *testing.T) {
	svc, _, strg, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	_, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	require.NoError(t, svc.CompleteRemoval(ctx, id, pub.sent[0].OriginalKey, []byte("r")))

	require.NoError(t, svc.Close(ctx, id))
	require.Zero(t, strg.count())

	_, err = svc.Get(ctx, id)
	require.ErrorIs(t, err, model.ErrSessionNotFound)
	require.ErrorIs(t, svc.Close(ctx, id), model.ErrSessionNotFound)
}

func TestEditorService_PublishFailure_RaisesAlert(t *testing.T) {
	svc, _, strg, pub := newTestService(t)
	pub.sendFn = func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
		return errors.New("kafka is down")
	}
	id := newSessionID(t, svc)

	v, err := svc.Drop(context.Background(), id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)
	require.Equal(t, model.AlertRemoval, v.Alert)
	require.Equal(t, model.StateHasOriginalOnly, v.State)
	require.Equal(t, 1, strg.count())
}

func TestEditorService_StorageFailure(t *testing.T) {
	svc, _, strg, pub := newTestService(t)
	strg.putErr = errors.New("minio is down")
	id := newSessionID(t, svc)

	_, err := svc.Drop(context.Background(), id, []model.UploadedFile{pngFile()})
	require.ErrorIs(t, err, model.ErrCommon500)
	require.Empty(t, pub.sent)

	v, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.StateIdle, v.State)
}

func TestEditorService_Drag(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	id := newSessionID(t, svc)

	v, err := svc.Drag(context.Background(), id, upload.DragEnter)
	require.NoError(t, err)
	require.True(t, v.DragActive)

	_, err = svc.Drag(context.Background(), id, "bogus")
	require.ErrorIs(t, err, model.ErrIncorrectEvent)
}

func TestEditorService_DropIdleZones(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	start := time.Now()
	svc.now = func() time.Time { return start }

	idle := newSessionID(t, svc)
	active := newSessionID(t, svc)

	_, err := svc.Drag(ctx, idle, upload.DragEnter)
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(20 * time.Minute) }
	_, err = svc.Drag(ctx, active, upload.DragEnter)
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(40 * time.Minute) }
	require.Equal(t, 1, svc.DropIdleZones(30*time.Minute))
	require.Len(t, svc.zones, 1)
	require.Contains(t, svc.zones, active)

	// забытая зона создается заново, сессия жива
	v, err := svc.Get(ctx, idle)
	require.NoError(t, err)
	require.False(t, v.DragActive)
}

func TestEditorService_IncorrectID(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, model.ErrIncorrectID)

	_, err = svc.Get(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestEditorService_OpenHandle_RejectsForeignKeys(t *testing.T) {
	svc, _, strg, _ := newTestService(t)
	strg.objects["secrets/creds.txt"] = []byte("nope")

	_, _, err := svc.OpenHandle(context.Background(), "secrets/creds.txt")
	require.ErrorIs(t, err, model.ErrHandleNotFound)
}

func TestEditorService_FailStale(t *testing.T) {
	svc, _, _, pub := newTestService(t)
	ctx := context.Background()
	id := newSessionID(t, svc)

	_, err := svc.Drop(ctx, id, []model.UploadedFile{pngFile()})
	require.NoError(t, err)

	// время уходит вперед
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	svc.FailStale(ctx, 10*time.Minute, 20)

	v, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, v.Processing)
	require.Equal(t, model.AlertRemoval, v.Alert)
	require.Len(t, pub.sent, 1)
}

func TestProgressText(t *testing.T) {
	tests := []struct {
		current, total int64
		want           string
		ok             bool
	}{
		{0, 10, "Processing: 0%", true},
		{1, 3, "Processing: 33%", true},
		{2, 3, "Processing: 67%", true},
		{10, 10, "Processing: 100%", true},
		{12, 10, "Processing: 100%", true},
		{5, 0, "", false},
		{-1, 10, "", false},
	}

	for _, tt := range tests {
		got, ok := progressText(tt.current, tt.total)
		require.Equal(t, tt.ok, ok)
		require.Equal(t, tt.want, got)
	}
}
