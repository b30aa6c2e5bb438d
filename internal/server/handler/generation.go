package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/runninghub-studio/studio/internal/model"
	"github.com/runninghub-studio/studio/internal/runninghub"
	"github.com/runninghub-studio/studio/internal/utils"
)

// Generate echoes the input image back after MockDelay.
func (h *Handler) Generate(c *gin.Context) {
	var req model.AnalyzeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		failInput(c, err, runninghub.CodeMissingImage, "")
		return
	}
	if strings.TrimSpace(req.ImageDataURL) == "" {
		utils.GinFailedWithMessage(c, runninghub.CodeMissingImage, "")
		return
	}
	if h.MockDelay > 0 {
		select {
		case <-time.After(h.MockDelay):
		case <-c.Request.Context().Done():
			return
		}
	}
	c.JSON(http.StatusOK, model.GenerateResponse{GeneratedURL: req.ImageDataURL})
}
