package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/runninghub-studio/studio/internal/runninghub"
)

// GinFailedWithError writes err as the typed JSON error body. Errors that
// are not *runninghub.Error become a worker exception.
func GinFailedWithError(c *gin.Context, err error) {
	e, ok := runninghub.AsError(err)
	if !ok {
		e = runninghub.WorkerExceptionError(err.Error(), "")
	}
	c.AbortWithStatusJSON(e.HTTPStatus(), e.Payload())
}

// GinFailedWithMessage answers a client input problem.
func GinFailedWithMessage(c *gin.Context, code, hint string) {
	GinFailedWithError(c, runninghub.ClientInputError(code, hint))
}

// GinOKWithRawJSON passes an upstream JSON document through unchanged.
func GinOKWithRawJSON(c *gin.Context, raw []byte) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}
