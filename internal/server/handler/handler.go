package handler

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/runninghub-studio/studio/internal/logger"
	"github.com/runninghub-studio/studio/internal/runninghub"
)

// Handler serves the browser-facing API on top of a RunningHub client.
type Handler struct {
	client *runninghub.Client
	logger *logger.CustomLogger

	// MockDelay is the simulated latency of /api/generate.
	MockDelay time.Duration
}

func New(client *runninghub.Client) *Handler {
	return &Handler{
		client:    client,
		logger:    logger.NewComponentLogger("handler"),
		MockDelay: 3 * time.Second,
	}
}

// bindOptionalJSON binds a JSON body, treating an empty body as {}.
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
