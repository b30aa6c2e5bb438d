package runninghub

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/model"
)

// Query fetches the status document of taskID once.
func (c *Client) Query(ctx context.Context, workflowType, taskID string) (*model.QueryResult, error) {
	s := c.settings(workflowType)
	if s.apiKey == "" {
		return nil, MissingEnvError(config.KeyAPIKey)
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, ClientInputError(CodeMissingTaskID, "")
	}
	host, path := HostPath(s.queryURL)
	log := c.logger.With("stage", StageQuery, "queryUrlHost", host, "queryUrlPath", path)
	log.Debugw("query start", "taskId", taskID)

	body, err := json.Marshal(model.QueryRequest{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	resp, err := c.postJSON(ctx, s.queryURL, body, apiHeaders(s.apiKey))
	if err != nil {
		log.Warnw("query network error", "message", transportMessage(err))
		return nil, QueryNetworkError(err)
	}
	data, err := classify(StageQuery, resp)
	if err != nil {
		if e, ok := AsError(err); ok {
			log.Warnw("query failed", "error", e.Code, "upstreamStatus", resp.status, "bodyBytes", len(resp.body))
		}
		return nil, err
	}

	result := &model.QueryResult{}
	// the shape of nested fields varies between gateways; the required ones
	// are re-read below
	_ = json.Unmarshal(resp.body, result)
	result.TaskID = stringField(data, "taskId")
	result.Status = stringField(data, "status")
	result.ErrorCode = stringField(data, "errorCode")
	result.ErrorMessage = stringField(data, "errorMessage")
	result.Raw = json.RawMessage(resp.body)
	log.Debugw("query ok", "taskId", result.TaskID, "status", result.Status, "results", len(result.Results))
	return result, nil
}
