package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/runninghub-studio/studio/internal/model"
	"github.com/runninghub-studio/studio/internal/poller"
	"github.com/runninghub-studio/studio/internal/runninghub"
)

const DefaultBaseURL = "http://127.0.0.1:8788"

// Options configures the studio API client.
type Options struct {
	BaseURL string
	// APIKey is sent as the API-KEY header when the server requires one.
	APIKey         string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Client calls the studio HTTP API the way the browser does.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// APIError is a non-2xx answer of the studio API. Error returns the JSON body
// when it carries an "error" field so that callers can match on its content.
type APIError struct {
	Status int
	Code   string
	Path   string
	Body   []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return string(e.Body)
	}
	text := strings.TrimSpace(string(e.Body))
	if len(text) > 500 {
		text = text[:500]
	}
	if text == "" {
		return fmt.Sprintf("HTTP_%d %s", e.Status, e.Path)
	}
	return text
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
	}
}

// BaseURL is the server origin requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("API-KEY", c.apiKey)
	}
	return req, nil
}

// do sends req and returns the body of a 2xx answer.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: network: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: network: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, req.URL.Path, raw)
	}
	return raw, nil
}

func newAPIError(status int, path string, raw []byte) *APIError {
	e := &APIError{Status: status, Path: path, Body: raw}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		e.Code = body.Error
	}
	return e
}

func (c *Client) postJSON(ctx context.Context, path string, in interface{}) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("client: encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) Ping(ctx context.Context, workflowType string) (*model.PingResponse, error) {
	raw, err := c.postJSON(ctx, "/api/runninghub/ping", model.PingRequest{WorkflowType: workflowType})
	if err != nil {
		return nil, err
	}
	var out model.PingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("client: decode ping: %w", err)
	}
	return &out, nil
}

// Run submits a JSON run request.
func (c *Client) Run(ctx context.Context, req *model.RunRequest) (*model.RunResult, error) {
	raw, err := c.postJSON(ctx, "/api/runninghub/run", req)
	if err != nil {
		return nil, err
	}
	return decodeRunResult(raw)
}

// FileRunRequest is a run request that carries the image as a file.
type FileRunRequest struct {
	WorkflowType     string
	FileName         string
	ContentType      string
	Data             []byte
	Prompt           string
	AddMetadata      *bool
	UsePersonalQueue *bool
	InstanceType     string
	WebhookURL       string
}

// RunWithFile submits a multipart run request; the server uploads the file
// before starting the workflow.
func (c *Client) RunWithFile(ctx context.Context, in *FileRunRequest) (*model.RunResult, error) {
	fields := map[string]string{
		"workflowType": in.WorkflowType,
		"prompt":       in.Prompt,
		"instanceType": in.InstanceType,
		"webhookUrl":   in.WebhookURL,
	}
	if in.AddMetadata != nil {
		fields["addMetadata"] = strconv.FormatBool(*in.AddMetadata)
	}
	if in.UsePersonalQueue != nil {
		fields["usePersonalQueue"] = strconv.FormatBool(*in.UsePersonalQueue)
	}
	body, contentType, err := multipartBody(fields, in.FileName, in.ContentType, in.Data)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/runninghub/run", body, contentType)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeRunResult(raw)
}

// Upload stores an image upstream and returns its file key.
func (c *Client) Upload(ctx context.Context, workflowType, fileName, contentType string, data []byte) (string, error) {
	body, formType, err := multipartBody(map[string]string{"workflowType": workflowType}, fileName, contentType, data)
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/runninghub/upload", body, formType)
	if err != nil {
		return "", err
	}
	raw, err := c.do(req)
	if err != nil {
		return "", err
	}
	var out model.UploadResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("client: decode upload: %w", err)
	}
	return out.FileKey, nil
}

func (c *Client) Query(ctx context.Context, taskID string) (*model.QueryResult, error) {
	return c.QueryWorkflow(ctx, "", taskID)
}

// QueryWorkflow queries a task using the configuration of workflowType. A
// task that ended in FAILED or CANCELLED is returned as a document even
// though the server reports it as an upstream response error.
func (c *Client) QueryWorkflow(ctx context.Context, workflowType, taskID string) (*model.QueryResult, error) {
	raw, err := c.postJSON(ctx, "/api/runninghub/query", model.QueryRequest{TaskID: taskID, WorkflowType: workflowType})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == runninghub.CodeResponseError {
			var wrapped struct {
				Body json.RawMessage `json:"body"`
			}
			if json.Unmarshal(apiErr.Body, &wrapped) == nil && len(wrapped.Body) > 0 {
				if doc, derr := decodeQueryResult(wrapped.Body); derr == nil && model.IsTerminal(doc.Status) && doc.Status != model.TaskStatusSuccess {
					return doc, nil
				}
			}
		}
		return nil, err
	}
	return decodeQueryResult(raw)
}

// WaitForResult polls the task until it is terminal.
func (c *Client) WaitForResult(ctx context.Context, workflowType, taskID string, opts poller.Options) (*model.QueryResult, error) {
	return poller.Poll(ctx, taskID, func(ctx context.Context, taskID string) (*model.QueryResult, error) {
		return c.QueryWorkflow(ctx, workflowType, taskID)
	}, opts)
}

// ImageURL is the result proxy address of output index of taskID.
func (c *Client) ImageURL(taskID string, index int) string {
	q := url.Values{}
	q.Set("taskId", taskID)
	q.Set("index", strconv.Itoa(index))
	return c.baseURL + "/api/runninghub/image?" + q.Encode()
}

// FetchImage downloads a result through the result proxy.
func (c *Client) FetchImage(ctx context.Context, taskID string, index int) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ImageURL(taskID, index), nil)
	if err != nil {
		return nil, "", fmt.Errorf("client: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("API-KEY", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("client: network: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("client: network: read image: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", newAPIError(resp.StatusCode, req.URL.Path, raw)
	}
	return raw, resp.Header.Get("Content-Type"), nil
}

func (c *Client) Analyze(ctx context.Context, imageDataURL string) (*model.AnalysisResult, error) {
	raw, err := c.postJSON(ctx, "/api/analyze", model.AnalyzeRequest{ImageDataURL: imageDataURL})
	if err != nil {
		return nil, err
	}
	var out model.AnalyzeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("client: decode analysis: %w", err)
	}
	return &out.Analysis, nil
}

func (c *Client) Generate(ctx context.Context, imageDataURL string) (string, error) {
	raw, err := c.postJSON(ctx, "/api/generate", model.AnalyzeRequest{ImageDataURL: imageDataURL})
	if err != nil {
		return "", err
	}
	var out model.GenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("client: decode generate: %w", err)
	}
	return out.GeneratedURL, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func multipartBody(fields map[string]string, fileName, contentType string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("client: encode form: %w", err)
		}
	}
	if fileName == "" {
		fileName = "image"
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(fileName)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("client: encode form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("client: encode form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("client: encode form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// flexID is a task id sent either as a JSON string or as a number.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("taskId: %w", err)
	}
	*id = flexID(n.String())
	return nil
}

// flexDoc reads the id and status fields, which some gateways send as numbers.
type flexDoc struct {
	TaskID flexID `json:"taskId"`
	Status string `json:"status"`
}

func decodeRunResult(raw []byte) (*model.RunResult, error) {
	var out model.RunResult
	_ = json.Unmarshal(raw, &out)
	var ids flexDoc
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("client: decode run: %w", err)
	}
	out.TaskID = string(ids.TaskID)
	out.Status = ids.Status
	out.Raw = json.RawMessage(raw)
	return &out, nil
}

func decodeQueryResult(raw []byte) (*model.QueryResult, error) {
	var out model.QueryResult
	_ = json.Unmarshal(raw, &out)
	var ids flexDoc
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("client: decode query: %w", err)
	}
	out.TaskID = string(ids.TaskID)
	out.Status = ids.Status
	out.Raw = json.RawMessage(raw)
	return &out, nil
}
