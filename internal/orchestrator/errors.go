package orchestrator

import (
	"errors"
	"strings"

	"github.com/runninghub-studio/studio/internal/poller"
	"github.com/runninghub-studio/studio/internal/store"
)

var (
	// ErrCancelled is poller.ErrCancelled, so either matches with errors.Is.
	ErrCancelled          = poller.ErrCancelled
	ErrInsufficientPoints = store.ErrInsufficientPoints
	ErrNoImage            = errors.New("format: no image data")
)

// ErrorType is the user-facing category of a failed generation.
type ErrorType string

const (
	ErrorNetwork     ErrorType = "network"
	ErrorFormat      ErrorType = "format"
	ErrorCompliance  ErrorType = "compliance"
	ErrorServiceBusy ErrorType = "service-busy"
	ErrorPermission  ErrorType = "permission"
)

// GenerationError is what a failed generation reports to the user.
type GenerationError struct {
	Type    ErrorType
	Message string
	Action  string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

var errorRules = []struct {
	keywords []string
	typ      ErrorType
	message  string
	action   string
}{
	{[]string{"network", "fetch"}, ErrorNetwork, "Network connection failed", "Check the network and retry"},
	{[]string{"format", "unsupported"}, ErrorFormat, "Image format not supported", "Choose a JPG, PNG or WebP image"},
	{[]string{"compliance"}, ErrorCompliance, "This image cannot be used for generation", "Choose another image"},
	{[]string{"busy", "timeout"}, ErrorServiceBusy, "Service busy", "Try again later"},
	{[]string{"permission", "missing-env", "unauthorized", "401", "403"}, ErrorPermission, "Service is not configured or not authorized", "Check the server configuration"},
}

// ParseError classifies err by keywords in its text. The first matching rule
// wins; anything unrecognised is reported as a generic service-busy failure.
func ParseError(err error) *GenerationError {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge
	}
	text := "unknown"
	if err != nil {
		text = strings.ToLower(err.Error())
	}
	for _, rule := range errorRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return &GenerationError{Type: rule.typ, Message: rule.message, Action: rule.action, Err: err}
			}
		}
	}
	return &GenerationError{
		Type:    ErrorServiceBusy,
		Message: "Generation failed",
		Action:  "Retry or choose another image",
		Err:     err,
	}
}
