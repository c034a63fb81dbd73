package transport

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/wb-go/wbf/ginext"
)

const maxUploadMemory = 32 << 20

func errorCodeDefiner(err error) int {
	switch {
	case errors.Is(err, model.ErrCommon500):
		return 500
	case errors.Is(err, model.ErrSessionNotFound),
		errors.Is(err, model.ErrHandleNotFound),
		errors.Is(err, model.ErrResultNotReady):
		return 404
	case errors.Is(err, model.ErrIncorrectID),
		errors.Is(err, model.ErrNotImage),
		errors.Is(err, model.ErrIncorrectEvent):
		return 400
	default:
		return 500
	}
}

// readUploads читает файлы из multipart-поля; пустой список - не ошибка
func readUploads(ctx *ginext.Context, field string, firstOnly bool) ([]model.UploadedFile, error) {
	if err := ctx.Request.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, err
	}
	if ctx.Request.MultipartForm == nil {
		return nil, nil
	}

	headers := ctx.Request.MultipartForm.File[field]
	if firstOnly && len(headers) > 1 {
		headers = headers[:1]
	}

	files := make([]model.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := readUpload(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func readUpload(fh *multipart.FileHeader) (model.UploadedFile, error) {
	src, err := fh.Open()
	if err != nil {
		return model.UploadedFile{}, fmt.Errorf("open %q: %w", fh.Filename, err)
	}
	defer closeFileFlow(src)

	data, err := io.ReadAll(src)
	if err != nil {
		return model.UploadedFile{}, fmt.Errorf("read %q: %w", fh.Filename, err)
	}

	return model.UploadedFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Data:        data,
	}, nil
}

func closeFileFlow(res io.ReadCloser) {
	if res == nil {
		return
	}
	if err := res.Close(); err != nil {
		log.Println("Handler failed to close fileflow:", err)
	}
}
