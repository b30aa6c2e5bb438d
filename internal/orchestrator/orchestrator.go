package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/runninghub-studio/studio/internal/client"
	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/logger"
	"github.com/runninghub-studio/studio/internal/model"
	"github.com/runninghub-studio/studio/internal/poller"
	"github.com/runninghub-studio/studio/internal/store"
)

const (
	DefaultRenderTimeout = 10 * time.Minute
	DefaultPollInterval  = 2 * time.Second

	imageRepairWorkflow = "IMAGE_REPAIR"
)

// Kind selects how an input is turned into a result.
type Kind string

const (
	KindModelRender Kind = "model-render"
	KindImageRepair Kind = "image-repair"
	KindGeneric     Kind = "generic"
)

func (k Kind) workflowType() string {
	if k == KindImageRepair {
		return imageRepairWorkflow
	}
	return ""
}

func (k Kind) title() string {
	switch k {
	case KindImageRepair:
		return "Image repair"
	case KindModelRender:
		return "Model render"
	}
	return "Generation"
}

// ParseKind maps a command line kind name, defaulting to model-render.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindModelRender:
		return KindModelRender, nil
	case KindImageRepair:
		return KindImageRepair, nil
	case KindGeneric:
		return KindGeneric, nil
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

// API is the part of the studio server the orchestrator drives.
type API interface {
	Ping(ctx context.Context, workflowType string) (*model.PingResponse, error)
	RunWithFile(ctx context.Context, in *client.FileRunRequest) (*model.RunResult, error)
	WaitForResult(ctx context.Context, workflowType, taskID string, opts poller.Options) (*model.QueryResult, error)
	ImageURL(taskID string, index int) string
	Analyze(ctx context.Context, imageDataURL string) (*model.AnalysisResult, error)
	Generate(ctx context.Context, imageDataURL string) (string, error)
}

// Input is one image to generate from.
type Input struct {
	Kind  Kind
	Image model.ImageData
	// FileName, ContentType and Data carry the image bytes. When Data is
	// empty a data: URL in Image.URL is decoded instead.
	FileName    string
	ContentType string
	Data        []byte
	// Analysis skips the analyze call of generic generations.
	Analysis *model.AnalysisResult
}

type Options struct {
	// Account overrides the signed-in account.
	Account      string
	PollInterval time.Duration
	Timeout      time.Duration
	// OnProgress receives a short description of every step.
	OnProgress func(step string)
	Now        func() time.Time
	// PollSleep replaces the wait between status queries.
	PollSleep func(ctx context.Context, d time.Duration) error
}

type Orchestrator struct {
	api    API
	store  *store.Store
	opts   Options
	logger *logger.CustomLogger
}

func New(api API, st *store.Store, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRenderTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		api:    api,
		store:  st,
		opts:   opts,
		logger: logger.NewComponentLogger("orchestrator"),
	}
}

// CostPoints bills one point per started minute, at least one.
func CostPoints(elapsed time.Duration) int {
	minutes := int(math.Ceil(float64(elapsed) / float64(time.Minute)))
	if minutes < 1 {
		return 1
	}
	return minutes
}

func (o *Orchestrator) account() (string, error) {
	if o.opts.Account != "" {
		return o.opts.Account, nil
	}
	return o.store.Auth.AccountID()
}

func (o *Orchestrator) progress(step string) {
	if o.opts.OnProgress != nil {
		o.opts.OnProgress(step)
	}
}

// run is the state of one generation in flight.
type run struct {
	account  string
	jobID    string
	analysis model.AnalysisResult
}

// Generate turns one input into a history entry. Points are checked before
// starting and charged by elapsed time after the result is known. A cancelled
// ctx yields ErrCancelled; other failures come back as *GenerationError.
func (o *Orchestrator) Generate(ctx context.Context, in Input) (*model.GenerationResult, error) {
	account, err := o.account()
	if err != nil {
		return nil, err
	}
	ok, err := o.store.Points.CanSpend(account, 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientPoints
	}
	if in.Kind == "" {
		in.Kind = KindModelRender
	}
	if in.Image.ID == "" {
		in.Image.ID = "img-" + uuid.NewString()
	}
	if in.Image.Timestamp == 0 {
		in.Image.Timestamp = o.opts.Now().UnixMilli()
	}

	started := o.opts.Now()
	r := &run{account: account}
	var generatedURL string
	if in.Kind == KindGeneric {
		generatedURL, err = o.generic(ctx, r, in)
	} else {
		generatedURL, err = o.render(ctx, r, in)
	}
	if err != nil {
		return nil, o.fail(ctx, r, err)
	}

	o.progress("Post-processing")
	cost := CostPoints(o.opts.Now().Sub(started))
	title := fmt.Sprintf("%s (%d points)", in.Kind.title(), cost)
	if _, err := o.store.Points.Spend(account, cost, title); err != nil {
		if errors.Is(err, ErrInsufficientPoints) {
			o.abort(r, "Insufficient points", err)
			return nil, err
		}
		err = fmt.Errorf("charge points: %w", err)
		o.abort(r, "Charging points failed", err)
		return nil, err
	}

	result := model.GenerationResult{
		ID:            "gen-" + uuid.NewString(),
		OriginalImage: in.Image,
		GeneratedURL:  generatedURL,
		Analysis:      r.analysis,
		Timestamp:     o.opts.Now().UnixMilli(),
	}
	if !strings.HasPrefix(in.Image.URL, "data:") {
		if err := o.store.RecentImages.Add(account, in.Image); err != nil {
			o.logger.Warnw("recent images not saved", "error", err)
		}
	}
	if err := o.store.History.Add(account, result); err != nil {
		if _, rerr := o.store.Points.Earn(account, cost, "Refund: "+title); rerr != nil {
			o.logger.Warnw("refund failed", "cost", cost, "error", rerr)
		}
		err = fmt.Errorf("save history: %w", err)
		o.abort(r, "Result not saved", err)
		return nil, err
	}
	o.markJob(r, func(j *model.RenderJob) {
		j.Status = model.RenderJobSuccess
		j.StatusText = "Render complete"
		j.ResultURL = generatedURL
		j.ResultID = result.ID
		j.CompletedAt = o.opts.Now().UnixMilli()
	})
	o.logger.Infow("generation finished", "kind", in.Kind, "resultId", result.ID, "cost", cost)
	return &result, nil
}

// GenerateBatch processes inputs one after another and stops at the first
// failure, returning what was produced until then.
func (o *Orchestrator) GenerateBatch(ctx context.Context, inputs []Input) ([]model.GenerationResult, error) {
	account, err := o.account()
	if err != nil {
		return nil, err
	}
	var results []model.GenerationResult
	for i, in := range inputs {
		if ctx.Err() != nil {
			return results, ErrCancelled
		}
		ok, err := o.store.Points.CanSpend(account, 1)
		if err != nil {
			return results, err
		}
		if !ok {
			return results, ErrInsufficientPoints
		}
		o.progress(fmt.Sprintf("Item %d of %d", i+1, len(inputs)))
		res, err := o.Generate(ctx, in)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

func (o *Orchestrator) render(ctx context.Context, r *run, in Input) (string, error) {
	workflowType := in.Kind.workflowType()

	o.progress("Checking service configuration")
	ping, err := o.api.Ping(ctx, workflowType)
	if err != nil {
		return "", err
	}
	if !ping.OK {
		if ping.WorkflowIDKeyUsed == nil && ping.RunURLKeyUsed == nil {
			return "", fmt.Errorf("missing-env %s", config.KeyWorkflowID)
		}
		return "", fmt.Errorf("missing-env %s", config.KeyAPIKey)
	}

	data, contentType, err := imageBytes(in)
	if err != nil {
		return "", err
	}
	o.progress("Submitting render task")
	yes, no := true, false
	fileName := in.FileName
	if fileName == "" {
		fileName = in.Image.ID
	}
	resp, err := o.api.RunWithFile(ctx, &client.FileRunRequest{
		WorkflowType:     workflowType,
		FileName:         fileName,
		ContentType:      contentType,
		Data:             data,
		AddMetadata:      &yes,
		UsePersonalQueue: &no,
		InstanceType:     "default",
	})
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ErrCancelled
	}

	taskID := resp.TaskID
	now := o.opts.Now().UnixMilli()
	job := model.RenderJob{
		JobID:           "rh-" + taskID,
		Kind:            string(in.Kind),
		Title:           in.Kind.title(),
		TaskID:          taskID,
		Status:          model.RenderJobRendering,
		StatusText:      "Submitted, waiting for render",
		CreatedAt:       now,
		UpdatedAt:       now,
		TimeoutMs:       o.opts.Timeout.Milliseconds(),
		OriginalURL:     in.Image.URL,
		OriginalImageID: in.Image.ID,
	}
	if strings.HasPrefix(job.OriginalURL, "data:") {
		job.OriginalURL = ""
	}
	if err := o.store.Jobs.Upsert(r.account, job); err != nil {
		return "", fmt.Errorf("save job: %w", err)
	}
	r.jobID = job.JobID
	r.analysis = model.AnalysisResult{
		Summary:    in.Kind.title(),
		Details:    "taskId: " + taskID,
		Tags:       []string{in.Kind.title()},
		Confidence: 1,
	}

	o.progress("Rendering")
	doc, err := o.api.WaitForResult(ctx, workflowType, taskID, poller.Options{
		Interval: o.opts.PollInterval,
		Timeout:  o.opts.Timeout,
		Now:      o.opts.Now,
		Sleep:    o.opts.PollSleep,
		OnTick: func(status string) {
			text := fmt.Sprintf("Rendering (%s)", status)
			o.progress(text)
			o.markJob(r, func(j *model.RenderJob) {
				j.Status = model.RenderJobRendering
				j.StatusText = text
			})
		},
	})
	if err != nil {
		return "", err
	}
	if len(doc.Results) > 0 && doc.Results[0].URL != "" {
		return doc.Results[0].URL, nil
	}
	return o.api.ImageURL(taskID, 0), nil
}

func (o *Orchestrator) generic(ctx context.Context, r *run, in Input) (string, error) {
	dataURL := in.Image.URL
	if dataURL == "" {
		if len(in.Data) == 0 {
			return "", ErrNoImage
		}
		ct := in.ContentType
		if ct == "" {
			ct = http.DetectContentType(in.Data)
		}
		dataURL = "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(in.Data)
	}
	if in.Analysis != nil {
		r.analysis = *in.Analysis
	} else {
		o.progress("Analyzing")
		a, err := o.api.Analyze(ctx, dataURL)
		if err != nil {
			return "", err
		}
		r.analysis = *a
	}
	o.progress("Generating")
	return o.api.Generate(ctx, dataURL)
}

// fail records err on the job and converts it for the caller.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) error {
	if ctx.Err() != nil || errors.Is(err, ErrCancelled) {
		o.markJob(r, func(j *model.RenderJob) {
			j.Status = model.RenderJobCancelled
			j.StatusText = "Cancelled"
			j.CompletedAt = o.opts.Now().UnixMilli()
		})
		return ErrCancelled
	}
	ge := ParseError(err)
	o.logger.Warnw("generation failed", "type", ge.Type, "error", err)
	o.markJob(r, func(j *model.RenderJob) {
		j.Status = model.RenderJobFailed
		j.StatusText = "Render failed"
		j.ErrorMessage = ge.Message
		j.CompletedAt = o.opts.Now().UnixMilli()
	})
	return ge
}

// abort fails the job after the render itself succeeded.
func (o *Orchestrator) abort(r *run, statusText string, err error) {
	o.logger.Warnw("generation not recorded", "status", statusText, "error", err)
	o.markJob(r, func(j *model.RenderJob) {
		j.Status = model.RenderJobFailed
		j.StatusText = statusText
		j.ErrorMessage = err.Error()
		j.CompletedAt = o.opts.Now().UnixMilli()
	})
}

func (o *Orchestrator) markJob(r *run, patch func(*model.RenderJob)) {
	if r.jobID == "" {
		return
	}
	if err := o.store.Jobs.Update(r.account, r.jobID, patch); err != nil {
		o.logger.Warnw("job not updated", "jobId", r.jobID, "error", err)
	}
}

// imageBytes returns the raw image of in, decoding a base64 data: URL when no
// bytes were given.
func imageBytes(in Input) ([]byte, string, error) {
	if len(in.Data) > 0 {
		ct := in.ContentType
		if ct == "" {
			ct = http.DetectContentType(in.Data)
		}
		return in.Data, ct, nil
	}
	u := in.Image.URL
	if !strings.HasPrefix(u, "data:") {
		return nil, "", ErrNoImage
	}
	meta, payload, found := strings.Cut(strings.TrimPrefix(u, "data:"), ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return nil, "", errors.New("unsupported data url")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("unsupported data url: %w", err)
	}
	return data, strings.TrimSuffix(meta, ";base64"), nil
}
