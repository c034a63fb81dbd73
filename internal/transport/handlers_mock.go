package transport

import (
	"context"
	"io"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/UnendingLoop/BgRemover/internal/upload"
	"github.com/gin-gonic/gin"
)

type mockEditorService struct {
	newSessionFn   func(ctx context.Context) (*model.SessionView, error)
	getFn          func(ctx context.Context, id string) (*model.SessionView, error)
	dropFn         func(ctx context.Context, id string, files []model.UploadedFile) (*model.SessionView, error)
	pickFn         func(ctx context.Context, id string, files []model.UploadedFile) (*model.SessionView, error)
	dragFn         func(ctx context.Context, id string, ev upload.DragEvent) (*model.SessionView, error)
	dismissAlertFn func(ctx context.Context, id string) (*model.SessionView, error)
	resetFn        func(ctx context.Context, id string) (*model.SessionView, error)
	downloadFn     func(ctx context.Context, id string) (io.ReadCloser, string, error)
	openHandleFn   func(ctx context.Context, key string) (io.ReadCloser, string, error)
	closeFn        func(ctx context.Context, id string) error
}

func (m *mockEditorService) NewSession(ctx context.Context) (*model.SessionView, error) {
	return m.newSessionFn(ctx)
}

func (m *mockEditorService) Get(ctx context.Context, id string) (*model.SessionView, error) {
	return m.getFn(ctx, id)
}

func (m *mockEditorService) Drop(ctx context.Context, id string, files []model.UploadedFile) (*model.SessionView, error) {
	return m.dropFn(ctx, id, files)
}

func (m *mockEditorService) Pick(ctx context.Context, id string, files []model.UploadedFile) (*model.SessionView, error) {
	return m.pickFn(ctx, id, files)
}

func (m *mockEditorService) Drag(ctx context.Context, id string, ev upload.DragEvent) (*model.SessionView, error) {
	return m.dragFn(ctx, id, ev)
}

func (m *mockEditorService) DismissAlert(ctx context.Context, id string) (*model.SessionView, error) {
	return m.dismissAlertFn(ctx, id)
}

func (m *mockEditorService) Reset(ctx context.Context, id string) (*model.SessionView, error) {
	return m.resetFn(ctx, id)
}

func (m *mockEditorService) Download(ctx context.Context, id string) (io.ReadCloser, string, error) {
	return m.downloadFn(ctx, id)
}

func (m *mockEditorService) OpenHandle(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return m.openHandleFn(ctx, key)
}

func (m *mockEditorService) Close(ctx context.Context, id string) error {
	return m.closeFn(ctx, id)
}

func init() {
	gin.SetMode(gin.TestMode)
}
