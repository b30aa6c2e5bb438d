package runninghub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/logger"
)

// Options configures the RunningHub client.
type Options struct {
	Resolver       *config.Resolver
	HTTPClient     *http.Client
	Logger         *logger.CustomLogger
	RequestTimeout time.Duration
}

// Client talks to the RunningHub workflow API on behalf of the browser.
type Client struct {
	resolver   *config.Resolver
	httpClient *http.Client
	logger     *logger.CustomLogger
}

// NewClient constructs a client, filling in a timeout-bound HTTP client and a
// component logger when none are given.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewComponentLogger("runninghub")
	}
	return &Client{
		resolver:   opts.Resolver,
		httpClient: httpClient,
		logger:     l,
	}
}

// settings is the per-request view of the configuration for one workflow type.
type settings struct {
	workflowType string

	apiKey        string
	workflowID    string
	workflowIDKey string
	runOverride   string
	runURLKey     string
	queryURL      string
	queryURLKey   string
	runHosts      []string

	uploadURL       string
	uploadField     string
	uploadUseBearer string

	imageNodeID    string
	imageParamKey  string
	imageParamMode string
	promptNodeID   string
	promptParamKey string
	defaultPrompt  string
	fileValueMode  string
}

func (c *Client) settings(workflowType string) *settings {
	r := c.resolver
	s := &settings{workflowType: workflowType}
	s.apiKey, _ = r.Get(config.KeyAPIKey, workflowType)
	s.workflowID, s.workflowIDKey, _ = r.Resolve(config.KeyWorkflowID, workflowType)
	s.runOverride, s.runURLKey, _ = r.Resolve(config.KeyWorkflowRunURL, workflowType)
	s.queryURL, s.queryURLKey, _ = r.Resolve(config.KeyQueryURL, workflowType)
	if s.queryURL == "" {
		s.queryURL = config.DefaultQueryURL
	}
	s.runHosts = r.RunHosts(workflowType)

	s.uploadURL = r.GetOr(config.KeyUploadURL, workflowType, config.DefaultUploadURL)
	s.uploadField = r.GetOr(config.KeyUploadField, workflowType, config.DefaultUploadField)
	s.uploadUseBearer, _ = r.Get(config.KeyUploadUseBearer, workflowType)

	s.imageNodeID = r.GetOr(config.KeyImageNodeID, workflowType, config.DefaultImageNodeID)
	s.imageParamKey = r.GetOr(config.KeyImageParamKey, workflowType, config.DefaultImageParamKey)
	s.imageParamMode = strings.ToLower(r.GetOr(config.KeyImageParamMode, workflowType, config.DefaultImageParamMode))
	s.promptNodeID = r.GetOr(config.KeyPromptNodeID, workflowType, config.DefaultPromptNodeID)
	s.promptParamKey = r.GetOr(config.KeyPromptParamKey, workflowType, config.DefaultPromptParamKey)
	s.defaultPrompt, _ = r.Get(config.KeyDefaultPrompt, workflowType)
	s.fileValueMode = strings.ToLower(r.GetOr(config.KeyFileValueMode, workflowType, config.DefaultFileValueMode))
	return s
}

// runURL is the override when configured, else the URL derived from the
// workflow id. Empty when neither is available.
func (c *Client) runURL(s *settings) string {
	if s.runOverride != "" {
		return s.runOverride
	}
	if s.workflowID != "" {
		return c.resolver.DefaultRunURL(s.workflowType, s.workflowID)
	}
	return ""
}

// upstreamResponse is a fully read upstream reply.
type upstreamResponse struct {
	status      int
	statusText  string
	contentType string
	body        []byte
}

func (r *upstreamResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

func apiHeaders(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("X-API-KEY", apiKey)
	return h
}

// do sends req and reads the whole body. Transport and body read failures are
// both returned as errors.
func (c *Client) do(req *http.Request) (*upstreamResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &upstreamResponse{
		status:      resp.StatusCode,
		statusText:  http.StatusText(resp.StatusCode),
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body []byte, headers http.Header) (*upstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	return c.do(req)
}

// HostPath returns only the host and path of rawURL, which is what logs and
// error bodies may show.
func HostPath(rawURL string) (host, path string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", ""
	}
	return u.Host, u.Path
}

// redactURL strips query and fragment, keeping scheme, host and path.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}

// decodeBody parses a JSON body keeping numbers intact. ok is false for
// anything that is not a JSON value.
func decodeBody(raw []byte) (interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return v, true
}

// bodyForError returns the decoded JSON body when possible, else the text.
func bodyForError(raw []byte) interface{} {
	if v, ok := decodeBody(raw); ok {
		return v
	}
	return string(raw)
}

// truthy follows the upstream's loose notion of a present field.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	}
	return true
}

// stringField reads key as a string, rendering numbers in their JSON form.
func stringField(m map[string]interface{}, key string) string {
	switch t := m[key].(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}
