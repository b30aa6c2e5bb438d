package runninghub

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"regexp"
	"strings"

	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/model"
)

var rhQueryParam = regexp.MustCompile(`(?i)^Rh-`)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Upload sends an image to the upload endpoint configured for workflowType.
func (c *Client) Upload(ctx context.Context, workflowType string, file *FileInput) (*model.UploadResult, error) {
	return c.upload(ctx, c.settings(workflowType), file)
}

func (c *Client) upload(ctx context.Context, s *settings, file *FileInput) (*model.UploadResult, error) {
	if s.apiKey == "" {
		return nil, MissingEnvError(config.KeyAPIKey)
	}
	host, path := HostPath(s.uploadURL)
	useBearer := uploadUsesBearer(s.uploadURL, s.uploadUseBearer)
	log := c.logger.With("stage", StageUpload, "workflowType", s.workflowType)

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	log.Infow("upload start",
		"uploadUrlHost", host,
		"uploadUrlPath", path,
		"useBearer", useBearer,
		"fileSize", len(file.Data),
		"fileType", contentType,
	)

	body, formType, err := multipartBody(s.uploadField, file.Name, contentType, file.Data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, body)
	if err != nil {
		return nil, UploadNetworkError(err, host, path)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", formType)
	if useBearer {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("X-API-KEY", s.apiKey)
	}

	resp, err := c.do(req)
	if err != nil {
		log.Warnw("upload network error", "uploadUrlHost", host, "uploadUrlPath", path, "message", transportMessage(err))
		return nil, UploadNetworkError(err, host, path)
	}
	if !resp.ok() {
		log.Warnw("upload upstream not ok",
			"upstreamStatus", resp.status,
			"uploadUrlHost", host,
			"uploadUrlPath", path,
			"bodyBytes", len(resp.body),
		)
		return nil, UploadUpstreamError(resp.status, host, path, bodyForError(resp.body))
	}

	data, _ := decodeBody(resp.body)
	result := parseUploadResponse(data)
	if result.FileKey == "" {
		log.Warnw("upload invalid response", "uploadUrlHost", host, "uploadUrlPath", path)
		return nil, UploadInvalidResponseError()
	}
	log.Infow("upload ok", "fileKeyLength", len(result.FileKey))
	return result, nil
}

// uploadUsesBearer decides whether credentials go in headers. An explicit
// setting wins; otherwise a signed Rh-* query disables them.
func uploadUsesBearer(uploadURL, explicit string) bool {
	if explicit != "" {
		return strings.EqualFold(strings.TrimSpace(explicit), "true")
	}
	return !hasRhQuery(uploadURL)
}

func hasRhQuery(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for k := range u.Query() {
		if rhQueryParam.MatchString(k) {
			return true
		}
	}
	return false
}

func multipartBody(field, filename, contentType string, data []byte) (*bytes.Buffer, string, error) {
	if filename == "" {
		filename = "image"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// parseUploadResponse reads fileKey from the top level or data, falling back
// to name. fileValue defaults to the whole body.
func parseUploadResponse(v interface{}) *model.UploadResult {
	d, _ := v.(map[string]interface{})
	if d == nil {
		d = map[string]interface{}{}
	}
	inner, _ := d["data"].(map[string]interface{})

	res := &model.UploadResult{}
	for _, cand := range []interface{}{d["fileKey"], inner["fileKey"], d["name"], inner["name"]} {
		if s, ok := cand.(string); ok && strings.TrimSpace(s) != "" {
			res.FileKey = strings.TrimSpace(s)
			break
		}
	}

	if fv, ok := d["fileValue"]; ok {
		res.FileValue = fv
	} else if fv, ok := inner["fileValue"]; ok {
		res.FileValue = fv
	} else {
		res.FileValue = d
	}
	return res
}
