package runninghub

import (
	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/model"
)

// Ping reports, without any network call, whether workflowType is runnable
// and which configuration keys it resolves to.
func (c *Client) Ping(workflowType string) *model.PingResponse {
	s := c.settings(workflowType)
	runURL := c.runURL(s)

	resp := &model.PingResponse{
		WorkflowType:      model.StringPtr(workflowType),
		WorkflowIDKeyUsed: model.StringPtr(s.workflowIDKey),
		RunURLKeyUsed:     model.StringPtr(s.runURLKey),
		QueryURLKeyUsed:   model.StringPtr(s.queryURLKey),
	}
	if runURL == "" {
		return resp
	}
	host, path := HostPath(runURL)
	resp.RunURLHost = model.StringPtr(host)
	resp.RunURLPath = model.StringPtr(path)

	reason, _, _ := ValidateRunURL(runURL)
	resp.OK = s.apiKey != "" && host != "" && reason == ""
	if !resp.OK {
		c.logger.Debugw("ping not ok",
			"workflowType", workflowType,
			"hasApiKey", s.apiKey != "",
			"runUrlHost", host,
			"runUrlReason", reason,
		)
	}
	return resp
}

// PingWorkflowType normalizes free-form input before Ping.
func (c *Client) PingWorkflowType(raw string) *model.PingResponse {
	return c.Ping(config.NormalizeWorkflowType(raw))
}
