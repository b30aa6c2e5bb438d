package runninghub

import (
	"strings"

	"github.com/runninghub-studio/studio/internal/model"
)

// File value modes (RUNNINGHUB_FILEVALUE_MODE).
const (
	FileValueAuto      = "auto"
	FileValueFileValue = "filevalue"
	FileValueFileKey   = "filekey"
)

// resolveFileValue picks what an uploaded image is referenced by in the run
// payload. Unknown modes behave like auto.
func resolveFileValue(mode string, up *model.UploadResult) string {
	if mode == FileValueFileKey {
		return up.FileKey
	}
	fields := []string{"name", "full", "url"}
	if mode == FileValueFileValue {
		fields = fields[1:]
	}
	switch v := up.FileValue.(type) {
	case map[string]interface{}:
		for _, f := range fields {
			if s, ok := v[f].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return up.FileKey
}
