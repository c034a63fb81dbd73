// Package upload provides the upload zone: it accepts a file dropped or picked by the user,
// checks that it is an image and hands it over to the selection callback
package upload

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/model"
)

// SelectFunc receives a validated image file.
type SelectFunc func(ctx context.Context, f model.UploadedFile) error

type DragEvent string

const (
	DragEnter DragEvent = "dragenter"
	DragOver  DragEvent = "dragover"
	DragLeave DragEvent = "dragleave"
)

const DefaultErrorTTL = 3 * time.Second

type Zone struct {
	mu         sync.Mutex
	onSelect   SelectFunc
	errTTL     time.Duration
	now        func() time.Time
	dragActive bool
	errMsg     string
	errAt      time.Time
}

func NewZone(onSelect SelectFunc, errTTL time.Duration) *Zone {
	if errTTL <= 0 {
		errTTL = DefaultErrorTTL
	}
	return &Zone{onSelect: onSelect, errTTL: errTTL, now: time.Now}
}

// Drag updates the drag-active flag.
func (z *Zone) Drag(ev DragEvent) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	switch ev {
	case DragEnter, DragOver:
		z.dragActive = true
	case DragLeave:
		z.dragActive = false
	default:
		return model.ErrIncorrectEvent
	}
	return nil
}

// Drop handles files dropped on the zone. Only the first file counts.
func (z *Zone) Drop(ctx context.Context, files []model.UploadedFile) error {
	z.mu.Lock()
	z.dragActive = false
	z.mu.Unlock()

	return z.accept(ctx, files)
}

// Pick handles files chosen with the file picker. Only the first file counts.
func (z *Zone) Pick(ctx context.Context, files []model.UploadedFile) error {
	return z.accept(ctx, files)
}

// Error returns the displayed error; it disappears once errTTL has passed.
func (z *Zone) Error() string {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.errMsg == "" {
		return ""
	}
	if z.now().Sub(z.errAt) >= z.errTTL {
		z.errMsg = ""
		return ""
	}
	return z.errMsg
}

func (z *Zone) DragActive() bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.dragActive
}

func (z *Zone) accept(ctx context.Context, files []model.UploadedFile) error {
	if len(files) == 0 {
		return nil
	}
	f := files[0]

	if err := Validate(&f); err != nil {
		z.mu.Lock()
		z.errMsg = model.UploadErrorText
		z.errAt = z.now()
		z.mu.Unlock()
		return err
	}

	z.mu.Lock()
	z.errMsg = ""
	z.mu.Unlock()

	return z.onSelect(ctx, f)
}

// Validate checks the media type of the file. A missing or generic declared type is replaced
// with the sniffed one. A zero-byte file is not an image whatever its declared type.
func Validate(f *model.UploadedFile) error {
	if len(f.Data) == 0 {
		return model.ErrNotImage
	}

	if f.ContentType == "" || f.ContentType == "application/octet-stream" {
		f.ContentType = http.DetectContentType(f.Data)
	}
	if !model.IsImageType(f.ContentType) {
		return model.ErrNotImage
	}
	return nil
}
