package runninghub

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/model"
)

// Schemas name the strategy that produced a node list.
const (
	SchemaClientNodeInfoList = "client-nodeInfoList"
	SchemaEnvMappedFile      = "env-mapped-file"
	SchemaEnvMappedImage     = "env-mapped-image"
)

// Image parameter layouts (RUNNINGHUB_IMAGE_PARAM_MODE).
const (
	ImageParamModeFile   = "file"
	ImageParamModeDirect = "direct"
)

// FileInput is an image received as a multipart file.
type FileInput struct {
	Name        string
	ContentType string
	Data        []byte
}

// RunInput is a run request after transport decoding. WorkflowType must
// already be normalized.
type RunInput struct {
	WorkflowType     string
	NodeInfoList     json.RawMessage
	ImageDataURL     string
	File             *FileInput
	Prompt           string
	AddMetadata      interface{}
	UsePersonalQueue interface{}
	InstanceType     string
	WebhookURL       string
}

// NewRunInput converts the JSON body of a run request.
func NewRunInput(req *model.RunRequest) *RunInput {
	return &RunInput{
		WorkflowType:     config.NormalizeWorkflowType(req.WorkflowType),
		NodeInfoList:     req.NodeInfoList,
		ImageDataURL:     req.ImageDataURL,
		Prompt:           req.Prompt,
		AddMetadata:      req.AddMetadata,
		UsePersonalQueue: req.UsePersonalQueue,
		InstanceType:     req.InstanceType,
		WebhookURL:       req.WebhookURL,
	}
}

// NodeSummary lists the parameter keys of one node, never their values.
type NodeSummary struct {
	NodeID string   `json:"nodeId"`
	Keys   []string `json:"keys"`
}

// PayloadSummary describes a built payload for logs and error bodies.
type PayloadSummary struct {
	WorkflowType         string        `json:"workflowType,omitempty"`
	UsedSchema           string        `json:"usedSchema"`
	RunURLHost           string        `json:"runUrlHost,omitempty"`
	RunURLPath           string        `json:"runUrlPath,omitempty"`
	UpstreamBodyBytes    int           `json:"upstreamBodyBytes"`
	NodeInfoListSummary  []NodeSummary `json:"nodeInfoListSummary"`
	MappedImageNodeID    string        `json:"mappedImageNodeId,omitempty"`
	MappedImageParamKey  string        `json:"mappedImageParamKey,omitempty"`
	MappedPromptNodeID   string        `json:"mappedPromptNodeId,omitempty"`
	MappedPromptParamKey string        `json:"mappedPromptParamKey,omitempty"`
	ImageBase64Length    int           `json:"imageBase64Length,omitempty"`
	ImageBase64Prefix    string        `json:"imageBase64Prefix,omitempty"`
	UploadFileKeyLength  int           `json:"uploadFileKeyLength,omitempty"`
}

// payloadStrategy turns a RunInput into a node list. applies is false when the
// input does not carry what the strategy needs.
type payloadStrategy struct {
	name  string
	build func(ctx context.Context, c *Client, s *settings, in *RunInput, sum *PayloadSummary) (nodes []model.NodeInfoItem, applies bool, err error)
}

// payloadStrategies are tried in order; the first that applies wins.
var payloadStrategies = []payloadStrategy{
	{name: SchemaClientNodeInfoList, build: clientNodeInfoList},
	{name: SchemaEnvMappedFile, build: envMappedFile},
	{name: SchemaEnvMappedImage, build: envMappedImage},
}

func clientNodeInfoList(_ context.Context, _ *Client, _ *settings, in *RunInput, _ *PayloadSummary) ([]model.NodeInfoItem, bool, error) {
	nodes := NormalizeNodeInfoList(in.NodeInfoList)
	return nodes, len(nodes) > 0, nil
}

func envMappedFile(ctx context.Context, c *Client, s *settings, in *RunInput, sum *PayloadSummary) ([]model.NodeInfoItem, bool, error) {
	if in.File == nil || len(in.File.Data) == 0 {
		return nil, false, nil
	}
	up, err := c.upload(ctx, s, in.File)
	if err != nil {
		return nil, true, err
	}
	value := resolveFileValue(s.fileValueMode, up)

	var params map[string]interface{}
	if s.imageParamMode == ImageParamModeDirect {
		params = map[string]interface{}{s.imageParamKey: value}
	} else {
		params = map[string]interface{}{"fileKey": s.imageParamKey, "fileValue": value}
	}
	sum.MappedImageNodeID = s.imageNodeID
	sum.MappedImageParamKey = s.imageParamKey
	sum.UploadFileKeyLength = len(up.FileKey)
	return []model.NodeInfoItem{{NodeID: s.imageNodeID, Params: params}}, true, nil
}

func envMappedImage(_ context.Context, _ *Client, s *settings, in *RunInput, sum *PayloadSummary) ([]model.NodeInfoItem, bool, error) {
	dataURL := strings.TrimSpace(in.ImageDataURL)
	if dataURL == "" {
		return nil, false, nil
	}
	b64 := StripBase64Prefix(dataURL)
	sum.MappedImageNodeID = s.imageNodeID
	sum.MappedImageParamKey = s.imageParamKey
	sum.ImageBase64Length = len(b64)
	sum.ImageBase64Prefix = b64
	if len(b64) > 24 {
		sum.ImageBase64Prefix = b64[:24]
	}
	return []model.NodeInfoItem{{NodeID: s.imageNodeID, Params: map[string]interface{}{s.imageParamKey: b64}}}, true, nil
}

// BuildPayload runs the payload strategies for in. An uploaded file goes
// through the upload endpoint as a side effect.
func (c *Client) BuildPayload(ctx context.Context, in *RunInput) (*model.WorkflowPayload, *PayloadSummary, error) {
	return c.buildPayload(ctx, c.settings(in.WorkflowType), in)
}

func (c *Client) buildPayload(ctx context.Context, s *settings, in *RunInput) (*model.WorkflowPayload, *PayloadSummary, error) {
	sum := &PayloadSummary{WorkflowType: in.WorkflowType}

	var nodes []model.NodeInfoItem
	for _, st := range payloadStrategies {
		n, applies, err := st.build(ctx, c, s, in, sum)
		if err != nil {
			sum.UsedSchema = st.name
			return nil, sum, err
		}
		if applies {
			nodes = n
			sum.UsedSchema = st.name
			break
		}
	}
	if len(nodes) == 0 {
		return nil, sum, MissingNodeInfoListError()
	}

	if sum.UsedSchema != SchemaClientNodeInfoList {
		prompt := strings.TrimSpace(in.Prompt)
		if prompt == "" {
			prompt = s.defaultPrompt
		}
		if prompt != "" {
			nodes = append(nodes, model.NodeInfoItem{
				NodeID: s.promptNodeID,
				Params: map[string]interface{}{s.promptParamKey: prompt},
			})
			sum.MappedPromptNodeID = s.promptNodeID
			sum.MappedPromptParamKey = s.promptParamKey
		}
	}

	p := &model.WorkflowPayload{NodeInfoList: nodes}
	if b, ok := CoerceBool(in.AddMetadata); ok {
		p.AddMetadata = &b
	}
	if b, ok := CoerceBool(in.UsePersonalQueue); ok {
		p.UsePersonalQueue = &b
	}
	p.InstanceType = strings.TrimSpace(in.InstanceType)
	p.WebhookURL = strings.TrimSpace(in.WebhookURL)

	for _, n := range nodes {
		keys := make([]string, 0, len(n.Params))
		for k := range n.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sum.NodeInfoListSummary = append(sum.NodeInfoListSummary, NodeSummary{NodeID: n.NodeID, Keys: keys})
	}
	return p, sum, nil
}

// NormalizeNodeInfoList keeps the items with a non-blank nodeId and a
// non-empty params object. Anything that is not a JSON array yields nil.
func NormalizeNodeInfoList(raw json.RawMessage) []model.NodeInfoItem {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []interface{}
	if err := dec.Decode(&items); err != nil {
		return nil
	}
	var out []model.NodeInfoItem
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		id, ok := m["nodeId"].(string)
		if !ok || strings.TrimSpace(id) == "" {
			continue
		}
		params, ok := m["params"].(map[string]interface{})
		if !ok || len(params) == 0 {
			continue
		}
		out = append(out, model.NodeInfoItem{NodeID: strings.TrimSpace(id), Params: params})
	}
	return out
}

// StripBase64Prefix drops everything up to and including "base64,".
func StripBase64Prefix(s string) string {
	const marker = "base64,"
	if i := strings.Index(s, marker); i >= 0 {
		return s[i+len(marker):]
	}
	return s
}

// CoerceBool accepts booleans and "true"/"false" strings in any case.
func CoerceBool(v interface{}) (value, ok bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return config.ParseBool(t)
	}
	return false, false
}
