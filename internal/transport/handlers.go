// Package transport provides methods for processing requests from endpoints
package transport

import (
	"context"
	"io"
	"log"
	"strings"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/UnendingLoop/BgRemover/internal/upload"
	"github.com/wb-go/wbf/ginext"
)

type SessionHandler struct {
	service EditorService
}

type EditorService interface {
	NewSession(ctx context.Context) (*model.SessionView, error)
	Get(ctx context.Context, id string) (*model.SessionView, error)
	Drop(ctx context.Context, id string, files []model.UploadedFile) (*model.SessionView, error)
	Pick(ctx context.Context, id string, files []model.UploadedFile) (*model.SessionView, error)
	Drag(ctx context.Context, id string, ev upload.DragEvent) (*model.SessionView, error)
	DismissAlert(ctx context.Context, id string) (*model.SessionView, error)
	Reset(ctx context.Context, id string) (*model.SessionView, error)
	Download(ctx context.Context, id string) (io.ReadCloser, string, error) // скачать результат
	OpenHandle(ctx context.Context, key string) (io.ReadCloser, string, error)
	Close(ctx context.Context, id string) error // освободить хэндлы и удалить сессию
}

func NewSessionHandler(svc EditorService) *SessionHandler {
	return &SessionHandler{
		service: svc,
	}
}

func (h SessionHandler) SimplePinger(ctx *ginext.Context) {
	ctx.JSON(200, map[string]string{"message": "pong"})
}

func (h SessionHandler) Create(ctx *ginext.Context) {
	res, err := h.service.NewSession(ctx.Request.Context())
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(201, res)
}

func (h SessionHandler) Get(ctx *ginext.Context) {
	res, err := h.service.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, res)
}

// Drop принимает все перетащенные файлы, зона сама возьмет первый
func (h SessionHandler) Drop(ctx *ginext.Context) {
	files, err := readUploads(ctx, "file", false)
	if err != nil {
		ctx.JSON(400, map[string]string{"error": "failed to parse uploaded files"})
		return
	}

	res, err := h.service.Drop(ctx.Request.Context(), ctx.Param("id"), files)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, res)
}

func (h SessionHandler) Pick(ctx *ginext.Context) {
	files, err := readUploads(ctx, "file", true)
	if err != nil {
		ctx.JSON(400, map[string]string{"error": "failed to parse uploaded files"})
		return
	}

	res, err := h.service.Pick(ctx.Request.Context(), ctx.Param("id"), files)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, res)
}

func (h SessionHandler) Drag(ctx *ginext.Context) {
	ev := upload.DragEvent(ctx.PostForm("event"))

	res, err := h.service.Drag(ctx.Request.Context(), ctx.Param("id"), ev)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, res)
}

func (h SessionHandler) DismissAlert(ctx *ginext.Context) {
	res, err := h.service.DismissAlert(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, res)
}

func (h SessionHandler) Reset(ctx *ginext.Context) {
	res, err := h.service.Reset(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, res)
}

func (h SessionHandler) Download(ctx *ginext.Context) {
	id := ctx.Param("id")

	res, cType, err := h.service.Download(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}
	defer closeFileFlow(res)

	ctx.Writer.Header().Set("Content-Type", cType)
	ctx.Writer.Header().Set("Content-Disposition", `attachment; filename="`+model.DownloadName+`"`)
	ctx.Writer.WriteHeader(200)
	if n, err := io.Copy(ctx.Writer, res); err != nil {
		log.Printf("Failed to write response at byte %d for session %q: %v", n, id, err)
	}
}

// OpenHandle отдает оригинал или результат по ключу хэндла - так страница показывает картинки
func (h SessionHandler) OpenHandle(ctx *ginext.Context) {
	key := strings.TrimPrefix(ctx.Param("key"), "/")

	res, cType, err := h.service.OpenHandle(ctx.Request.Context(), key)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}
	defer closeFileFlow(res)

	ctx.Writer.Header().Set("Content-Type", cType)
	ctx.Writer.Header().Set("Cache-Control", "private, max-age=3600")
	ctx.Writer.WriteHeader(200)
	if n, err := io.Copy(ctx.Writer, res); err != nil {
		log.Printf("Failed to write response at byte %d for handle %q: %v", n, key, err)
	}
}

func (h SessionHandler) Delete(ctx *ginext.Context) {
	if err := h.service.Close(ctx.Request.Context(), ctx.Param("id")); err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.Status(204)
}
