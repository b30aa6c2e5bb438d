package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/runninghub"
	"github.com/runninghub-studio/studio/internal/utils"
)

// Image streams a finished task's result so that the signed asset URL stays
// on the server.
func (h *Handler) Image(c *gin.Context) {
	taskID := c.Query("taskId")
	index, err := strconv.Atoi(c.DefaultQuery("index", "0"))
	if err != nil || index < 0 {
		index = 0
	}
	workflowType := config.NormalizeWorkflowType(c.Query("workflowType"))

	asset, err := h.client.FetchResult(c.Request.Context(), workflowType, taskID, index)
	if err != nil {
		if e, ok := runninghub.AsError(err); ok && e.Kind != runninghub.KindClientInput {
			h.logger.Warnw("image proxy failed", "taskId", taskID, "index", index, "error", e.Code)
		}
		utils.GinFailedWithError(c, err)
		return
	}
	defer asset.Body.Close()
	c.DataFromReader(200, asset.ContentLength, asset.ContentType, asset.Body, map[string]string{
		"Cache-Control": "no-store",
	})
}
