package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSession_StateAndScreen(t *testing.T) {
	tests := []struct {
		name       string
		s          Session
		wantState  ViewState
		wantScreen Screen
	}{
		{"fresh", Session{}, StateIdle, ScreenLanding},
		{"original only", Session{OriginalKey: "original/a.png"}, StateHasOriginalOnly, ScreenEditor},
		{"processing", Session{OriginalKey: "original/a.png", Processing: true}, StateProcessing, ScreenEditor},
		{"result", Session{OriginalKey: "original/a.png", ResultKey: "result/b.png"}, StateHasResult, ScreenEditor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantState, tt.s.State())
			require.Equal(t, tt.wantScreen, tt.s.Screen())
		})
	}
}

func TestNewView(t *testing.T) {
	s := &Session{UID: uuid.New(), OriginalKey: "original/a.png", Processing: true, LoadingText: "Processing: 40%"}

	v := NewView(s, "", true)
	require.Equal(t, "/handles/original/a.png", v.DisplayURL)
	require.Equal(t, "Processing: 40%", v.LoadingText)
	require.False(t, v.CanDownload)
	require.True(t, v.DragActive)

	s.Processing = false
	s.ResultKey = "result/b.png"
	v = NewView(s, UploadErrorText, false)
	require.Equal(t, "/handles/result/b.png", v.DisplayURL)
	require.Empty(t, v.LoadingText)
	require.True(t, v.CanDownload)
	require.True(t, v.BackgroundOff)
	require.Equal(t, DownloadName, v.DownloadName)
	require.Equal(t, "/sessions/"+s.UID.String()+"/download", v.DownloadURL)
	require.Equal(t, UploadErrorText, v.UploadError)
}

func TestDecodeRemovalTask(t *testing.T) {
	b, err := RemovalTask{SessionID: "s", OriginalKey: "original/a.png", ContentType: PNG}.Encode()
	require.NoError(t, err)

	task, err := DecodeRemovalTask(b)
	require.NoError(t, err)
	require.Equal(t, "original/a.png", task.OriginalKey)

	_, err = DecodeRemovalTask([]byte(`{"session_id":"s"}`))
	require.ErrorIs(t, err, ErrIncorrectTask)

	_, err = DecodeRemovalTask([]byte(`nope`))
	require.Error(t, err)
}

func TestIsImageType(t *testing.T) {
	require.True(t, IsImageType("image/png"))
	require.True(t, IsImageType(" Image/WEBP"))
	require.False(t, IsImageType("text/plain"))
	require.False(t, IsImageType(""))
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		current, total int64
		want           int
		ok             bool
	}{
		{0, 10, 0, true},
		{496, 1000, 50, true},
		{494, 1000, 49, true},
		{12, 10, 100, true},
		{5, 0, 0, false},
		{-1, 10, 0, false},
	}

	for _, tt := range tests {
		got, ok := ProgressPercent(tt.current, tt.total)
		require.Equal(t, tt.ok, ok)
		require.Equal(t, tt.want, got)
	}
}
