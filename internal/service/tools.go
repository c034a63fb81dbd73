package service

import (
	"fmt"
	"regexp"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/google/uuid"
)

const (
	originalPrefix = "original/"
	resultPrefix   = "result/"
)

var handleKeyRe = regexp.MustCompile(`^(original|result)/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.[a-z]+)?$`)

func newHandleKey(prefix, cType string) string {
	return prefix + uuid.NewString() + model.GetImageFileExt[cType]
}

// validHandleKey не дает вытащить из бакета что-то кроме хендлов
func validHandleKey(key string) bool {
	return handleKeyRe.MatchString(key)
}

// progressText: (current, total) -> "Processing: N%"
func progressText(current, total int64) (string, bool) {
	percent, ok := model.ProgressPercent(current, total)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Processing: %d%%", percent), true
}
