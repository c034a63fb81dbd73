// Package remover provides background-removal engines the worker delegates to
package remover

import (
	"bytes"
	"context"
	"fmt"

	"github.com/UnendingLoop/BgRemover/internal/imageproc"
	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/wb-go/wbf/zlog"
)

// ProgressFunc receives progress per stage key, e.g. "upload", "fetch", "compute:inference".
type ProgressFunc func(key string, current, total int64)

type Config struct {
	Progress ProgressFunc
	Debug    bool
}

// Remover returns the input image with its background made transparent, encoded as PNG.
type Remover interface {
	Remove(ctx context.Context, src []byte, contentType string, cfg Config) ([]byte, error)
}

func (c Config) report(key string, current, total int64) {
	if c.Progress != nil {
		c.Progress(key, current, total)
	}
}

func (c Config) debugf(format string, args ...any) {
	if c.Debug {
		zlog.Logger.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

// LocalRemover cuts the background out in-process.
type LocalRemover struct {
	opts imageproc.Options
}

func NewLocalRemover(tolerance float64, maxSide int) *LocalRemover {
	return &LocalRemover{opts: imageproc.Options{Tolerance: tolerance, MaxSide: maxSide}}
}

func (l *LocalRemover) Remove(ctx context.Context, src []byte, contentType string, cfg Config) ([]byte, error) {
	format, err := imageproc.DetectFormat(src)
	if err != nil {
		return nil, fmt.Errorf("%w: local remover can't read %q: %v", model.ErrUnsupportedImage, contentType, err)
	}

	opts := l.opts
	opts.Progress = func(current, total int64) {
		cfg.report("compute:inference", current, total)
	}

	cfg.debugf("local cutout started: %s, %d bytes, tolerance %.0f", model.GetCType[format], len(src), opts.Tolerance)
	res, size, err := imageproc.Cutout(bytes.NewReader(src), opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, size)
	buf := bytes.NewBuffer(out)
	if _, err := buf.ReadFrom(res); err != nil {
		return nil, err
	}
	cfg.debugf("local cutout done: %d bytes", buf.Len())
	return buf.Bytes(), nil
}
