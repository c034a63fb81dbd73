package remover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/model"
)

// HTTPRemover sends the image to an external inference service and reads back the PNG.
//
//	curl -X POST "$REMOVER_URL" -F "image=@cat.png" -o removed.png
type HTTPRemover struct {
	url    string
	client *http.Client
}

func NewHTTPRemover(url string, timeout time.Duration) *HTTPRemover {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPRemover{url: url, client: &http.Client{Timeout: timeout}}
}

var ErrEngineResponse = errors.New("removal engine returned unexpected response")

func (h *HTTPRemover) Remove(ctx context.Context, src []byte, contentType string, cfg Config) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", `form-data; name="image"; filename="image`+model.GetImageFileExt[contentType]+`"`)
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(src); err != nil {
		return nil, fmt.Errorf("copy form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	total := int64(body.Len())
	reqBody := &countingReader{r: body, total: total, report: func(cur, tot int64) { cfg.report("upload", cur, tot) }}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", model.PNG)

	cfg.debugf("sending %d bytes to removal engine %s", total, h.url)
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEngineResponse, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !model.IsImageType(ct) {
		return nil, fmt.Errorf("%w: content-type %q", ErrEngineResponse, ct)
	}

	respBody := &countingReader{r: resp.Body, total: resp.ContentLength, report: func(cur, tot int64) { cfg.report("fetch", cur, tot) }}
	out, err := io.ReadAll(respBody)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrEngineResponse)
	}

	cfg.debugf("removal engine answered with %d bytes", len(out))
	return out, nil
}

// countingReader reports read bytes; unknown total (<= 0) is not reported.
type countingReader struct {
	r      io.Reader
	read   int64
	total  int64
	report func(current, total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.total > 0 {
			c.report(c.read, c.total)
		}
	}
	return n, err
}
