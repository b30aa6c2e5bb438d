package runninghub

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/runninghub-studio/studio/internal/model"
)

// Kind groups errors by who is at fault and how they map to HTTP.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindClientInput
	KindUpstreamNetwork
	KindUpstreamHTTP
	KindUpstreamProtocol
	KindNotReady
	KindWorkerException
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindClientInput:
		return "client-input"
	case KindUpstreamNetwork:
		return "upstream-network"
	case KindUpstreamHTTP:
		return "upstream-http"
	case KindUpstreamProtocol:
		return "upstream-protocol"
	case KindNotReady:
		return "not-ready"
	case KindWorkerException:
		return "worker-exception"
	}
	return "unknown"
}

// Stages name the upstream call an error came from.
const (
	StageUpload = "upload"
	StageRun    = "run"
	StageQuery  = "query"
	StageFetch  = "fetch"
)

// Error codes sent to the browser in the "error" field.
const (
	CodeMissingEnv          = "missing-env"
	CodeInvalidEnv          = "invalid-env"
	CodeBadRequest          = "bad-request"
	CodeMissingFile         = "missing-file"
	CodePayloadTooLarge     = "payload-too-large"
	CodeMissingImage        = "missing-image"
	CodeMissingTaskID       = "missing-taskId"
	CodeMissingNodeInfoList = "missing-nodeInfoList"
	CodeNetwork             = "runninghub-network"
	CodeUpstream            = "runninghub-error"
	CodeInvalidJSON         = "runninghub-invalid-json"
	CodeResponseError       = "runninghub-response-error"
	CodeInvalidResponse     = "runninghub-invalid-response"
	CodeNotReady            = "not-ready"
	CodeMissingResultURL    = "missing-result-url"
	CodeWorkerException     = "worker-exception"
)

const (
	hintMissingNodeInfoList = "the workflow API requires a non-empty nodeInfoList; send one, or send imageDataUrl / file and configure RUNNINGHUB_IMAGE_NODE_ID / RUNNINGHUB_IMAGE_PARAM_KEY for automatic mapping"
	hintRunNetwork          = "the connection to RunningHub failed; try RUNNINGHUB_API_BASE (for example https://api.runninghub.cn) or add mirrors to RUNNINGHUB_RUN_HOSTS"
	HintUploadMultipart     = "upload the image as multipart/form-data in the field \"file\""
	HintUploadMissingFile   = "multipart form is missing the \"file\" field"
)

// Error is the single error type crossing the HTTP boundary. Everything but
// Status, Kind and Err is serialized into the JSON body.
type Error struct {
	Kind   Kind
	Status int
	Code   string
	Err    error

	Stage               string
	Key                 string
	Reason              string
	Message             string
	Hint                string
	Host                string
	Path                string
	Expected            string
	UpstreamStatus      int
	UpstreamStatusText  string
	UpstreamContentType string
	UsedSchema          string
	TaskStatus          string
	Index               *int
	Attempts            []model.Attempt
	Body                interface{}
	Debug               *PayloadSummary
	Stack               string
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.UpstreamStatus != 0 {
		msg += fmt.Sprintf(" (status %d)", e.UpstreamStatus)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Payload renders the JSON error body, omitting empty fields.
func (e *Error) Payload() map[string]interface{} {
	p := map[string]interface{}{"error": e.Code}
	set := func(k, v string) {
		if v != "" {
			p[k] = v
		}
	}
	set("stage", e.Stage)
	set("key", e.Key)
	set("reason", e.Reason)
	set("message", e.Message)
	set("hint", e.Hint)
	set("host", e.Host)
	set("path", e.Path)
	set("expectedExample", e.Expected)
	set("upstreamStatusText", e.UpstreamStatusText)
	set("upstreamContentType", e.UpstreamContentType)
	set("usedSchema", e.UsedSchema)
	set("status", e.TaskStatus)
	set("stack", e.Stack)
	if e.UpstreamStatus != 0 {
		p["upstreamStatus"] = e.UpstreamStatus
	}
	if e.Index != nil {
		p["index"] = *e.Index
	}
	if len(e.Attempts) > 0 {
		p["attempts"] = e.Attempts
	}
	if e.Body != nil {
		p["body"] = e.Body
	}
	if e.Debug != nil {
		p["debug"] = e.Debug
	}
	return p
}

// HTTPStatus returns the status to answer with, defaulting to 500.
func (e *Error) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == k
}

func MissingEnvError(key string) *Error {
	return &Error{Kind: KindConfig, Status: http.StatusInternalServerError, Code: CodeMissingEnv, Key: key}
}

func InvalidRunURLConfigError(key, reason, host, path, expected string) *Error {
	return &Error{
		Kind:     KindConfig,
		Status:   http.StatusInternalServerError,
		Code:     CodeInvalidEnv,
		Key:      key,
		Reason:   reason,
		Host:     host,
		Path:     path,
		Expected: expected,
	}
}

func ClientInputError(code, hint string) *Error {
	return &Error{Kind: KindClientInput, Status: http.StatusBadRequest, Code: code, Hint: hint}
}

// PayloadTooLargeError rejects a request body longer than limit bytes.
func PayloadTooLargeError(limit int64) *Error {
	return &Error{
		Kind:    KindClientInput,
		Status:  http.StatusRequestEntityTooLarge,
		Code:    CodePayloadTooLarge,
		Message: fmt.Sprintf("request body exceeds %d bytes", limit),
	}
}

func MissingNodeInfoListError() *Error {
	return ClientInputError(CodeMissingNodeInfoList, hintMissingNodeInfoList)
}

func UploadNetworkError(err error, host, path string) *Error {
	return &Error{
		Kind:    KindUpstreamNetwork,
		Status:  http.StatusBadGateway,
		Code:    CodeNetwork,
		Stage:   StageUpload,
		Message: transportMessage(err),
		Host:    host,
		Path:    path,
		Err:     err,
	}
}

// UploadUpstreamError mirrors the upstream status back to the caller.
func UploadUpstreamError(status int, host, path string, body interface{}) *Error {
	return &Error{
		Kind:           KindUpstreamHTTP,
		Status:         status,
		Code:           CodeUpstream,
		Stage:          StageUpload,
		UpstreamStatus: status,
		Host:           host,
		Path:           path,
		Body:           body,
	}
}

func UploadInvalidResponseError() *Error {
	return &Error{Kind: KindUpstreamProtocol, Status: http.StatusBadGateway, Code: CodeInvalidResponse, Stage: StageUpload}
}

func RunNetworkError(message string, attempts []model.Attempt, cause error) *Error {
	return &Error{
		Kind:     KindUpstreamNetwork,
		Status:   http.StatusBadGateway,
		Code:     CodeNetwork,
		Stage:    StageRun,
		Message:  message,
		Hint:     hintRunNetwork,
		Attempts: attempts,
		Err:      cause,
	}
}

// upstreamHTTPError mirrors a non-2xx upstream status for run or query.
func upstreamHTTPError(stage string, resp *upstreamResponse, body interface{}) *Error {
	return &Error{
		Kind:                KindUpstreamHTTP,
		Status:              resp.status,
		Code:                CodeUpstream,
		Stage:               stage,
		UpstreamStatus:      resp.status,
		UpstreamStatusText:  resp.statusText,
		UpstreamContentType: resp.contentType,
		Body:                body,
	}
}

func InvalidJSONError(stage, text string) *Error {
	return &Error{Kind: KindUpstreamProtocol, Status: http.StatusBadGateway, Code: CodeInvalidJSON, Stage: stage, Body: text}
}

func ResponseError(stage string, body interface{}) *Error {
	return &Error{Kind: KindUpstreamProtocol, Status: http.StatusBadGateway, Code: CodeResponseError, Stage: stage, Body: body}
}

func InvalidResponseError(stage string, body interface{}) *Error {
	return &Error{Kind: KindUpstreamProtocol, Status: http.StatusBadGateway, Code: CodeInvalidResponse, Stage: stage, Body: body}
}

func QueryNetworkError(err error) *Error {
	return &Error{
		Kind:    KindUpstreamNetwork,
		Status:  http.StatusBadGateway,
		Code:    CodeNetwork,
		Stage:   StageQuery,
		Message: transportMessage(err),
		Err:     err,
	}
}

func NotReadyError(taskStatus string) *Error {
	return &Error{Kind: KindNotReady, Status: http.StatusConflict, Code: CodeNotReady, Stage: StageQuery, TaskStatus: taskStatus}
}

func MissingResultURLError(index int) *Error {
	return &Error{Kind: KindUpstreamProtocol, Status: http.StatusBadGateway, Code: CodeMissingResultURL, Stage: StageQuery, Index: &index}
}

func FetchNetworkError(err error, host, path string) *Error {
	return &Error{
		Kind:    KindUpstreamNetwork,
		Status:  http.StatusBadGateway,
		Code:    CodeNetwork,
		Stage:   StageFetch,
		Message: transportMessage(err),
		Host:    host,
		Path:    path,
		Err:     err,
	}
}

// FetchUpstreamError is always a 502; the asset host status is informational.
func FetchUpstreamError(status int, host, path string) *Error {
	return &Error{
		Kind:           KindUpstreamHTTP,
		Status:         http.StatusBadGateway,
		Code:           CodeUpstream,
		Stage:          StageFetch,
		UpstreamStatus: status,
		Host:           host,
		Path:           path,
	}
}

func WorkerExceptionError(message, stack string) *Error {
	return &Error{Kind: KindWorkerException, Status: http.StatusInternalServerError, Code: CodeWorkerException, Message: message, Stack: stack}
}

// transportMessage drops the request URL from net/http errors; it may carry
// a signed query string.
func transportMessage(err error) string {
	if err == nil {
		return ""
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	return err.Error()
}
