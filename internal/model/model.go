// Package model provides data-structs for internal app-usage
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

type (
	ViewState string
	Screen    string
)

const (
	StateIdle            ViewState = "idle"
	StateHasOriginalOnly ViewState = "has_original_only"
	StateProcessing      ViewState = "processing"
	StateHasResult       ViewState = "has_result"
)

const (
	ScreenLanding Screen = "landing"
	ScreenEditor  Screen = "editor"
)

// Тексты, которые видит пользователь
const (
	LoadingInitial  = "Initializing..."
	LoadingStarting = "Starting processing engine..."
	AlertRemoval    = "Failed to remove background."
	UploadErrorText = "Please upload an image file"
	DownloadName    = "removed-background.png"
)

//---------------------

// Session is one editor view. OriginalKey and ResultKey are handle keys in the blob storage,
// empty string means no handle.
type Session struct {
	UID         uuid.UUID  `json:"uid"`
	OriginalKey string     `json:"-"`
	ResultKey   string     `json:"-"`
	Processing  bool       `json:"processing"`
	LoadingText string     `json:"loading_text"`
	Alert       string     `json:"alert,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// State derives the view state from the handles and the processing flag.
func (s *Session) State() ViewState {
	switch {
	case s.Processing:
		return StateProcessing
	case s.ResultKey != "":
		return StateHasResult
	case s.OriginalKey != "":
		return StateHasOriginalOnly
	default:
		return StateIdle
	}
}

func (s *Session) Screen() Screen {
	if s.OriginalKey != "" || s.Processing {
		return ScreenEditor
	}
	return ScreenLanding
}

// SessionView is what the client renders.
type SessionView struct {
	UID           uuid.UUID `json:"uid"`
	State         ViewState `json:"state"`
	Screen        Screen    `json:"screen"`
	OriginalURL   string    `json:"original_url,omitempty"`
	ResultURL     string    `json:"result_url,omitempty"`
	DisplayURL    string    `json:"display_url,omitempty"`
	Processing    bool      `json:"processing"`
	LoadingText   string    `json:"loading_text,omitempty"`
	Alert         string    `json:"alert,omitempty"`
	UploadError   string    `json:"upload_error,omitempty"`
	DragActive    bool      `json:"drag_active"`
	CanDownload   bool      `json:"can_download"`
	DownloadURL   string    `json:"download_url,omitempty"`
	DownloadName  string    `json:"download_name,omitempty"`
	BackgroundOff bool      `json:"background_removed"`
}

// HandleURL turns a handle key into the URL clients use to address it.
func HandleURL(key string) string {
	if key == "" {
		return ""
	}
	return "/handles/" + key
}

// NewView builds the client view of a session.
func NewView(s *Session, uploadErr string, dragActive bool) SessionView {
	v := SessionView{
		UID:         s.UID,
		State:       s.State(),
		Screen:      s.Screen(),
		OriginalURL: HandleURL(s.OriginalKey),
		ResultURL:   HandleURL(s.ResultKey),
		Processing:  s.Processing,
		Alert:       s.Alert,
		UploadError: uploadErr,
		DragActive:  dragActive,
	}
	if s.Processing {
		v.LoadingText = s.LoadingText
	}

	// результат вытесняет превью оригинала
	v.DisplayURL = v.OriginalURL
	if v.ResultURL != "" {
		v.DisplayURL = v.ResultURL
		v.CanDownload = true
		v.BackgroundOff = true
		v.DownloadURL = "/sessions/" + s.UID.String() + "/download"
		v.DownloadName = DownloadName
	}
	return v
}

//-------------------

// RemovalTask is the queue message asking the worker to process an original.
type RemovalTask struct {
	SessionID   string `json:"session_id"`
	OriginalKey string `json:"original_key"`
	ContentType string `json:"content_type"`
}

func (t RemovalTask) Encode() ([]byte, error) {
	return json.Marshal(t)
}

func DecodeRemovalTask(b []byte) (RemovalTask, error) {
	var t RemovalTask
	if err := json.Unmarshal(b, &t); err != nil {
		return RemovalTask{}, fmt.Errorf("failed to decode removal task: %w", err)
	}
	if t.SessionID == "" || t.OriginalKey == "" {
		return RemovalTask{}, ErrIncorrectTask
	}
	return t, nil
}

// ProgressPercent turns a progress report into a whole percentage, rounded to nearest and
// capped at 100. Reports without a known total are not a percentage.
func ProgressPercent(current, total int64) (int, bool) {
	if total <= 0 || current < 0 {
		return 0, false
	}
	if current > total {
		current = total
	}
	return int(math.Round(float64(current) / float64(total) * 100)), true
}

// UploadedFile is a single file coming from drop or pick.
type UploadedFile struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// IsImageType reports whether the media type is in the image/* family.
func IsImageType(cType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(cType)), "image/")
}

// ------------------

var (
	ErrCommon500        error = errors.New("something went wrong. Try again later") // 500
	ErrIncorrectID      error = errors.New("incorrect session UUID")                // 400
	ErrSessionNotFound  error = errors.New("specified session doesn't exist")       // 404
	ErrHandleNotFound   error = errors.New("image handle is released or unknown")   // 404
	ErrResultNotReady   error = errors.New("background is not removed yet")         // 404
	ErrNotImage         error = errors.New(UploadErrorText)                         // 400
	ErrIncorrectTask    error = errors.New("incorrect removal task")
	ErrIncorrectEvent   error = errors.New("unsupported drag event") // 400
	ErrUnsupportedImage error = errors.New("unsupported image format")
)

//--------------------

const (
	JPEG = "image/jpeg"
	PNG  = "image/png"
	GIF  = "image/gif"
	TIFF = "image/tiff"
	BMP  = "image/bmp"
)

var GetImageFileExt = map[string]string{
	JPEG: ".jpg",
	PNG:  ".png",
	GIF:  ".gif",
	TIFF: ".tiff",
	BMP:  ".bmp",
}

var GetCType = map[imaging.Format]string{
	imaging.JPEG: JPEG,
	imaging.GIF:  GIF,
	imaging.PNG:  PNG,
	imaging.TIFF: TIFF,
	imaging.BMP:  BMP,
}
