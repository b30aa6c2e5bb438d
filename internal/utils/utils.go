package utils

import (
	"fmt"
	"strings"
)

// StackPreview keeps the first maxLines lines of a stack trace.
func StackPreview(stack []byte, maxLines int) string {
	lines := strings.Split(strings.TrimSpace(string(stack)), "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.Join(lines, "\n")
}

// PanicMessage renders a recovered value.
func PanicMessage(recovered interface{}) string {
	if err, ok := recovered.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(recovered)
}
