package model

import "encoding/json"

// Task statuses reported by the upstream. Anything else means still running.
const (
	TaskStatusSuccess   = "SUCCESS"
	TaskStatusFailed    = "FAILED"
	TaskStatusCancelled = "CANCELLED"
)

// NodeInfoItem is one editable workflow parameter group addressed by node id.
type NodeInfoItem struct {
	NodeID string                 `json:"nodeId"`
	Params map[string]interface{} `json:"params"`
}

// RunRequest is the client body of POST /api/runninghub/run. Flag fields are
// left loosely typed because clients send both booleans and "true"/"false".
type RunRequest struct {
	WorkflowType     string          `json:"workflowType,omitempty"`
	NodeInfoList     json.RawMessage `json:"nodeInfoList,omitempty"`
	ImageDataURL     string          `json:"imageDataUrl,omitempty"`
	Prompt           string          `json:"prompt,omitempty"`
	AddMetadata      interface{}     `json:"addMetadata,omitempty"`
	UsePersonalQueue interface{}     `json:"usePersonalQueue,omitempty"`
	InstanceType     string          `json:"instanceType,omitempty"`
	WebhookURL       string          `json:"webhookUrl,omitempty"`
}

// WorkflowPayload is the body sent to the upstream run endpoint.
type WorkflowPayload struct {
	NodeInfoList     []NodeInfoItem `json:"nodeInfoList"`
	AddMetadata      *bool          `json:"addMetadata,omitempty"`
	UsePersonalQueue *bool          `json:"usePersonalQueue,omitempty"`
	InstanceType     string         `json:"instanceType,omitempty"`
	WebhookURL       string         `json:"webhookUrl,omitempty"`
}

// UploadResult is what the upload endpoint yields. FileValue may embed a
// temporary signed URL and is never serialized back to the browser.
type UploadResult struct {
	FileKey   string      `json:"fileKey"`
	FileValue interface{} `json:"-"`
}

// UploadResponse is the body of a successful POST /api/runninghub/upload.
type UploadResponse struct {
	OK      bool   `json:"ok"`
	FileKey string `json:"fileKey"`
}

// RunResult is a parsed upstream run response. Raw keeps every upstream field
// so that the handler can pass it through unchanged.
type RunResult struct {
	TaskID       string          `json:"taskId"`
	Status       string          `json:"status"`
	ErrorCode    string          `json:"errorCode,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	ClientID     string          `json:"clientId,omitempty"`
	PromptTips   string          `json:"promptTips,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// QueryResultItem is one output asset of a finished task.
type QueryResultItem struct {
	URL        string  `json:"url"`
	OutputType string  `json:"outputType,omitempty"`
	Text       *string `json:"text,omitempty"`
}

// QueryUsage carries upstream accounting.
type QueryUsage struct {
	TaskCostTime string `json:"taskCostTime,omitempty"`
}

// QueryResult is the task status document returned by the query endpoint.
type QueryResult struct {
	TaskID       string            `json:"taskId"`
	Status       string            `json:"status"`
	ErrorCode    string            `json:"errorCode,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	FailedReason json.RawMessage   `json:"failedReason,omitempty"`
	Usage        *QueryUsage       `json:"usage,omitempty"`
	Results      []QueryResultItem `json:"results,omitempty"`
	ClientID     string            `json:"clientId,omitempty"`
	PromptTips   string            `json:"promptTips,omitempty"`
	Raw          json.RawMessage   `json:"-"`
}

// IsTerminal reports whether the status ends polling.
func IsTerminal(status string) bool {
	switch status {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// QueryRequest is the body of POST /api/runninghub/query. WorkflowType only
// selects the configuration and is not forwarded upstream.
type QueryRequest struct {
	TaskID       string `json:"taskId"`
	WorkflowType string `json:"workflowType,omitempty"`
}

// PingRequest is the body of POST /api/runninghub/ping.
type PingRequest struct {
	WorkflowType string `json:"workflowType,omitempty"`
}

// PingResponse reports which configuration keys a workflow type resolves to.
// Pointers encode null for absent values.
type PingResponse struct {
	OK                bool    `json:"ok"`
	WorkflowType      *string `json:"workflowType"`
	WorkflowIDKeyUsed *string `json:"workflowIdKeyUsed"`
	RunURLKeyUsed     *string `json:"runUrlKeyUsed"`
	QueryURLKeyUsed   *string `json:"queryUrlKeyUsed"`
	RunURLHost        *string `json:"runUrlHost"`
	RunURLPath        *string `json:"runUrlPath"`
}

// Attempt is one entry of the run dispatcher's candidate log.
type Attempt struct {
	URL    string `json:"url"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StringPtr returns nil for "" so optional strings marshal as null.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
