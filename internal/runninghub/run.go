package runninghub

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/model"
)

// fallbackStatus reports the statuses that move the dispatcher on to the next
// candidate URL.
func fallbackStatus(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusNotFound, 530:
		return true
	}
	return false
}

// RunOutcome is a successful run together with how it was reached.
type RunOutcome struct {
	Result   *model.RunResult
	Attempts []model.Attempt
	Summary  *PayloadSummary
}

// Run builds the workflow payload for in and submits it.
func (c *Client) Run(ctx context.Context, in *RunInput) (*RunOutcome, error) {
	s := c.settings(in.WorkflowType)
	log := c.logger.With("stage", StageRun, "workflowType", in.WorkflowType)

	if s.apiKey == "" {
		return nil, MissingEnvError(config.KeyAPIKey)
	}
	if s.runOverride == "" && s.workflowID == "" {
		return nil, MissingEnvError(config.KeyWorkflowID)
	}
	if s.runOverride != "" {
		if reason, host, path := ValidateRunURL(s.runOverride); reason != "" {
			return nil, InvalidRunURLConfigError(s.runURLKey, reason, host, path,
				ExpectedRunURL(c.resolver, s.workflowType, s.workflowID))
		}
	}
	runURL := c.runURL(s)

	payload, sum, err := c.buildPayload(ctx, s, in)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	sum.RunURLHost, sum.RunURLPath = HostPath(runURL)
	sum.UpstreamBodyBytes = len(body)
	log.Infow("run start", "debug", sum)

	candidates := BuildCandidates(runURL, s.workflowID, s.runHosts)
	resp, attempts, err := c.dispatch(ctx, candidates, body, s.apiKey)
	if err != nil {
		log.Warnw("run network error", "attempts", attempts)
		e, _ := AsError(err)
		e.Debug = sum
		return nil, e
	}
	if resp.status == http.StatusUnauthorized {
		log.Warnw("run unauthorized", "attempts", attempts)
	}

	data, err := classify(StageRun, resp)
	if err != nil {
		if e, ok := AsError(err); ok {
			if e.Kind == KindUpstreamHTTP {
				e.UsedSchema = sum.UsedSchema
				e.Debug = sum
				e.Attempts = attempts
			}
			log.Warnw("run failed", "error", e.Code, "upstreamStatus", resp.status, "bodyBytes", len(resp.body))
		}
		return nil, err
	}

	result := &model.RunResult{
		TaskID:       stringField(data, "taskId"),
		Status:       stringField(data, "status"),
		ClientID:     stringField(data, "clientId"),
		PromptTips:   stringField(data, "promptTips"),
		ErrorCode:    stringField(data, "errorCode"),
		ErrorMessage: stringField(data, "errorMessage"),
		Raw:          json.RawMessage(resp.body),
	}
	log.Infow("run ok", "taskId", result.TaskID, "status", result.Status, "attempts", len(attempts))
	return &RunOutcome{Result: result, Attempts: attempts, Summary: sum}, nil
}

// dispatch posts body to each candidate in turn. A fallback status moves on
// while candidates remain, as does a transport failure. The last HTTP
// response wins over a later transport failure; only when no candidate
// answered at all is a network error returned.
func (c *Client) dispatch(ctx context.Context, candidates []string, body []byte, apiKey string) (*upstreamResponse, []model.Attempt, error) {
	var (
		attempts []model.Attempt
		last     *upstreamResponse
		lastErr  error
	)
	for i, u := range candidates {
		resp, err := c.postJSON(ctx, u, body, apiHeaders(apiKey))
		if err != nil {
			lastErr = err
			attempts = append(attempts, model.Attempt{URL: redactURL(u), Error: transportMessage(err)})
			if ctx.Err() != nil {
				break
			}
			continue
		}
		attempts = append(attempts, model.Attempt{URL: redactURL(u), Status: resp.status})
		last = resp
		if fallbackStatus(resp.status) && i < len(candidates)-1 {
			continue
		}
		return resp, attempts, nil
	}
	if last != nil {
		return last, attempts, nil
	}
	msg := "network-error"
	if lastErr != nil {
		msg = transportMessage(lastErr)
	}
	return nil, attempts, RunNetworkError(msg, attempts, lastErr)
}

// classify applies the shared run/query response rules in order: non-2xx,
// unparsable JSON, upstream-signalled error, missing taskId or status.
func classify(stage string, resp *upstreamResponse) (map[string]interface{}, error) {
	if !resp.ok() {
		return nil, upstreamHTTPError(stage, resp, bodyForError(resp.body))
	}
	v, ok := decodeBody(resp.body)
	if !ok || v == nil {
		return nil, InvalidJSONError(stage, string(resp.body))
	}
	data, ok := v.(map[string]interface{})
	if !ok {
		return nil, InvalidResponseError(stage, v)
	}
	if truthy(data["errorCode"]) || truthy(data["errorMessage"]) {
		return nil, ResponseError(stage, data)
	}
	if stringField(data, "taskId") == "" || stringField(data, "status") == "" {
		return nil, InvalidResponseError(stage, data)
	}
	return data, nil
}
