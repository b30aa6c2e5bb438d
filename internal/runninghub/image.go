package runninghub

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/runninghub-studio/studio/internal/model"
)

// DefaultAssetContentType is used when the asset host sends none.
const DefaultAssetContentType = "image/jpeg"

// Asset is an open result stream. The caller must close Body.
type Asset struct {
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}

// FetchResult queries taskID once and opens results[index].url. The signed
// asset URL never leaves this function.
func (c *Client) FetchResult(ctx context.Context, workflowType, taskID string, index int) (*Asset, error) {
	if index < 0 {
		index = 0
	}
	result, err := c.Query(ctx, workflowType, taskID)
	if err != nil {
		return nil, err
	}
	if result.Status != model.TaskStatusSuccess {
		return nil, NotReadyError(result.Status)
	}
	assetURL, ok := resultURL(result, index)
	if !ok {
		return nil, MissingResultURLError(index)
	}

	host, path := HostPath(assetURL)
	log := c.logger.With("stage", StageFetch, "assetHost", host, "assetPath", path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, FetchNetworkError(err, host, path)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warnw("fetch network error", "message", transportMessage(err))
		return nil, FetchNetworkError(err, host, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		log.Warnw("fetch upstream not ok", "upstreamStatus", resp.StatusCode)
		return nil, FetchUpstreamError(resp.StatusCode, host, path)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = DefaultAssetContentType
	}
	log.Infow("fetch ok", "taskId", result.TaskID, "index", index, "contentType", ct, "contentLength", resp.ContentLength)
	return &Asset{ContentType: ct, ContentLength: resp.ContentLength, Body: resp.Body}, nil
}

// resultURL returns results[index].url when it is an absolute http(s) URL.
func resultURL(result *model.QueryResult, index int) (string, bool) {
	if index >= len(result.Results) {
		return "", false
	}
	raw := strings.TrimSpace(result.Results[index].URL)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return raw, true
}
