package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/model"
	"github.com/runninghub-studio/studio/internal/runninghub"
	"github.com/runninghub-studio/studio/internal/utils"
)

const hintJSONBody = "the request body must be a JSON object"

// failInput answers a request whose body could not be read. A body cut off by
// the size limit is reported as such instead of as malformed.
func failInput(c *gin.Context, err error, code, hint string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		utils.GinFailedWithError(c, runninghub.PayloadTooLargeError(tooLarge.Limit))
		return
	}
	utils.GinFailedWithMessage(c, code, hint)
}

func isMultipart(c *gin.Context) bool {
	return strings.Contains(strings.ToLower(c.GetHeader("Content-Type")), "multipart/form-data")
}

func (h *Handler) Ping(c *gin.Context) {
	var req model.PingRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		failInput(c, err, runninghub.CodeBadRequest, hintJSONBody)
		return
	}
	c.JSON(http.StatusOK, h.client.PingWorkflowType(req.WorkflowType))
}

func (h *Handler) Upload(c *gin.Context) {
	if !isMultipart(c) {
		utils.GinFailedWithMessage(c, runninghub.CodeBadRequest, runninghub.HintUploadMultipart)
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		failInput(c, err, runninghub.CodeMissingFile, runninghub.HintUploadMissingFile)
		return
	}
	file, err := readFormFile(fh)
	if err != nil {
		failInput(c, err, runninghub.CodeBadRequest, runninghub.HintUploadMultipart)
		return
	}
	workflowType := config.NormalizeWorkflowType(c.PostForm("workflowType"))
	res, err := h.client.Upload(c.Request.Context(), workflowType, file)
	if err != nil {
		utils.GinFailedWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.UploadResponse{OK: true, FileKey: res.FileKey})
}

func (h *Handler) Run(c *gin.Context) {
	var in *runninghub.RunInput
	if isMultipart(c) {
		var err error
		if in, err = runInputFromForm(c); err != nil {
			failInput(c, err, runninghub.CodeBadRequest, runninghub.HintUploadMultipart)
			return
		}
	} else {
		var req model.RunRequest
		if err := bindOptionalJSON(c, &req); err != nil {
			failInput(c, err, runninghub.CodeBadRequest, hintJSONBody)
			return
		}
		in = runninghub.NewRunInput(&req)
	}

	out, err := h.client.Run(c.Request.Context(), in)
	if err != nil {
		utils.GinFailedWithError(c, err)
		return
	}
	utils.GinOKWithRawJSON(c, out.Result.Raw)
}

func (h *Handler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		failInput(c, err, runninghub.CodeBadRequest, hintJSONBody)
		return
	}
	workflowType := config.NormalizeWorkflowType(req.WorkflowType)
	res, err := h.client.Query(c.Request.Context(), workflowType, req.TaskID)
	if err != nil {
		utils.GinFailedWithError(c, err)
		return
	}
	utils.GinOKWithRawJSON(c, res.Raw)
}

func runInputFromForm(c *gin.Context) (*runninghub.RunInput, error) {
	if _, err := c.MultipartForm(); err != nil {
		return nil, err
	}
	in := &runninghub.RunInput{
		WorkflowType: config.NormalizeWorkflowType(c.PostForm("workflowType")),
		ImageDataURL: c.PostForm("imageDataUrl"),
		Prompt:       c.PostForm("prompt"),
		InstanceType: c.PostForm("instanceType"),
		WebhookURL:   c.PostForm("webhookUrl"),
	}
	if v, ok := c.GetPostForm("addMetadata"); ok {
		in.AddMetadata = v
	}
	if v, ok := c.GetPostForm("usePersonalQueue"); ok {
		in.UsePersonalQueue = v
	}
	if v := strings.TrimSpace(c.PostForm("nodeInfoList")); v != "" {
		in.NodeInfoList = json.RawMessage(v)
	}
	if fh, err := c.FormFile("file"); err == nil {
		file, err := readFormFile(fh)
		if err != nil {
			return nil, err
		}
		in.File = file
	}
	return in, nil
}

func readFormFile(fh *multipart.FileHeader) (*runninghub.FileInput, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &runninghub.FileInput{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
