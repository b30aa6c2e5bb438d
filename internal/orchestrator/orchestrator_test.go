package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/runninghub-studio/studio/internal/client"
	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/logger"
	"github.com/runninghub-studio/studio/internal/model"
	"github.com/runninghub-studio/studio/internal/poller"
	"github.com/runninghub-studio/studio/internal/runninghub"
	"github.com/runninghub-studio/studio/internal/server"
	"github.com/runninghub-studio/studio/internal/server/handler"
	"github.com/runninghub-studio/studio/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.now = f.now.Add(d)
	return nil
}

// startStudio runs the real router in front of a fake RunningHub whose task
// t1 reports RUNNING twice and then SUCCESS.
func startStudio(t *testing.T, env config.MapSource) (*client.Client, *int32) {
	t.Helper()
	var queries int32
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"fileKey":"api/up.png"}`)
	})
	mux.HandleFunc("/run/workflow/42", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"taskId":"t1","status":"RUNNING"}`)
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&queries, 1) < 3 {
			_, _ = io.WriteString(w, `{"taskId":"t1","status":"RUNNING"}`)
			return
		}
		_, _ = io.WriteString(w, `{"taskId":"t1","status":"SUCCESS","results":[{"url":"https://x/y.png"}]}`)
	})
	upstream := httptest.NewTLSServer(mux)
	t.Cleanup(upstream.Close)

	full := config.MapSource{
		"RUNNINGHUB_API_KEY":     "k",
		"RUNNINGHUB_API_BASE":    upstream.URL,
		"RUNNINGHUB_WORKFLOW_ID": "42",
		"RUNNINGHUB_QUERY_URL":   upstream.URL + "/query",
		"RUNNINGHUB_UPLOAD_URL":  upstream.URL + "/upload",
	}
	for k, v := range env {
		if v == "" {
			delete(full, k)
			continue
		}
		full[k] = v
	}
	rh := runninghub.NewClient(runninghub.Options{
		Resolver:   config.NewResolver(full),
		HTTPClient: upstream.Client(),
		Logger:     logger.NewNopLogger(),
	})
	h := handler.New(rh)
	h.MockDelay = 0
	studio := httptest.NewServer(server.InitRouter(config.ServerConfig{BodyLimitMB: 4}, h))
	t.Cleanup(studio.Close)
	return client.NewClient(client.Options{BaseURL: studio.URL}), &queries
}

func TestGenerateModelRenderEndToEnd(t *testing.T) {
	api, queries := startStudio(t, nil)
	st := store.New(store.NewMemoryKV(), nil)
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	var steps []string
	o := New(api, st, Options{
		PollInterval: time.Minute,
		Now:          clock.Now,
		PollSleep:    clock.Sleep,
		OnProgress:   func(s string) { steps = append(steps, s) },
	})

	res, err := o.Generate(context.Background(), Input{
		Kind:        KindModelRender,
		Image:       model.ImageData{ID: "img1", URL: "https://cdn/in.png", Source: model.ImageSourceModel},
		FileName:    "in.png",
		ContentType: "image/png",
		Data:        []byte("PNGDATA"),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.GeneratedURL != "https://x/y.png" || res.Analysis.Details != "taskId: t1" {
		t.Fatalf("result = %+v", res)
	}
	if atomic.LoadInt32(queries) != 3 {
		t.Fatalf("queries = %d", *queries)
	}

	// two one-minute waits between three queries
	if b, _ := st.Points.Balance(store.GuestAccount); b != store.InitialBalance-2 {
		t.Fatalf("balance = %d", b)
	}
	history, _ := st.History.List(store.GuestAccount)
	if len(history) != 1 || history[0].ID != res.ID {
		t.Fatalf("history = %+v", history)
	}
	job, ok, _ := st.Jobs.Get(store.GuestAccount, "rh-t1")
	if !ok || job.Status != model.RenderJobSuccess || job.ResultURL != "https://x/y.png" || job.ResultID != res.ID {
		t.Fatalf("job = %+v", job)
	}
	if job.TimeoutMs != DefaultRenderTimeout.Milliseconds() || job.CompletedAt == 0 {
		t.Fatalf("job = %+v", job)
	}
	if !contains(steps, "Rendering (RUNNING)") || !contains(steps, "Rendering (SUCCESS)") {
		t.Fatalf("steps = %v", steps)
	}
	recent, _ := st.RecentImages.List(store.GuestAccount)
	if len(recent) != 1 || recent[0].ID != "img1" {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestGenerateMissingWorkflowEndToEnd(t *testing.T) {
	api, _ := startStudio(t, config.MapSource{"RUNNINGHUB_WORKFLOW_ID": ""})
	st := store.New(store.NewMemoryKV(), nil)
	o := New(api, st, Options{})
	_, err := o.Generate(context.Background(), Input{Data: []byte("PNGDATA")})
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Type != ErrorPermission || !strings.Contains(err.Error(), "RUNNINGHUB_WORKFLOW_ID") {
		t.Fatalf("err = %v", err)
	}
	if jobs, _ := st.Jobs.List(store.GuestAccount); len(jobs) != 0 {
		t.Fatalf("jobs = %+v", jobs)
	}
	if b, _ := st.Points.Balance(store.GuestAccount); b != store.InitialBalance {
		t.Fatalf("charged on failure: %d", b)
	}
}

type fakeAPI struct {
	ping    *model.PingResponse
	taskID  string
	wait    func(ctx context.Context) (*model.QueryResult, error)
	runs    int
	lastRun *client.FileRunRequest
}

func (f *fakeAPI) Ping(ctx context.Context, workflowType string) (*model.PingResponse, error) {
	if f.ping != nil {
		return f.ping, nil
	}
	return &model.PingResponse{OK: true}, nil
}

func (f *fakeAPI) RunWithFile(ctx context.Context, in *client.FileRunRequest) (*model.RunResult, error) {
	f.runs++
	f.lastRun = in
	id := f.taskID
	if id == "" {
		id = "t1"
	}
	return &model.RunResult{TaskID: id, Status: "RUNNING"}, nil
}

func (f *fakeAPI) WaitForResult(ctx context.Context, workflowType, taskID string, opts poller.Options) (*model.QueryResult, error) {
	if f.wait != nil {
		return f.wait(ctx)
	}
	return &model.QueryResult{TaskID: taskID, Status: "SUCCESS"}, nil
}

func (f *fakeAPI) ImageURL(taskID string, index int) string {
	return "http://studio/api/runninghub/image?index=0&taskId=" + taskID
}

func (f *fakeAPI) Analyze(ctx context.Context, imageDataURL string) (*model.AnalysisResult, error) {
	return &model.AnalysisResult{Summary: "portrait", Confidence: 0.9}, nil
}

func (f *fakeAPI) Generate(ctx context.Context, imageDataURL string) (string, error) {
	return imageDataURL, nil
}

func TestGenerateFallsBackToResultProxy(t *testing.T) {
	api := &fakeAPI{}
	st := store.New(store.NewMemoryKV(), nil)
	res, err := New(api, st, Options{}).Generate(context.Background(), Input{
		Kind:  KindImageRepair,
		Image: model.ImageData{URL: "data:image/png;base64,UE5H"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.GeneratedURL != "http://studio/api/runninghub/image?index=0&taskId=t1" {
		t.Fatalf("url = %s", res.GeneratedURL)
	}
	in := api.lastRun
	if in.WorkflowType != "IMAGE_REPAIR" || string(in.Data) != "PNG" || in.ContentType != "image/png" {
		t.Fatalf("run = %+v", in)
	}
	if !*in.AddMetadata || *in.UsePersonalQueue || in.InstanceType != "default" {
		t.Fatalf("run flags = %+v", in)
	}
	if recent, _ := st.RecentImages.List(store.GuestAccount); len(recent) != 0 {
		t.Fatalf("data url stored in recent images: %+v", recent)
	}
}

func TestGeneratePingNotOK(t *testing.T) {
	key := "RUNNINGHUB_WORKFLOW_ID"
	api := &fakeAPI{ping: &model.PingResponse{WorkflowIDKeyUsed: &key}}
	_, err := New(api, store.New(store.NewMemoryKV(), nil), Options{}).Generate(context.Background(), Input{Data: []byte("x")})
	if err == nil || !strings.Contains(err.Error(), "missing-env RUNNINGHUB_API_KEY") || api.runs != 0 {
		t.Fatalf("err = %v runs = %d", err, api.runs)
	}
}

func TestGenerateTaskFailedMarksJob(t *testing.T) {
	api := &fakeAPI{wait: func(ctx context.Context) (*model.QueryResult, error) {
		return nil, &poller.TaskFailedError{TaskID: "t1", Status: "FAILED", Message: "upstream busy"}
	}}
	st := store.New(store.NewMemoryKV(), nil)
	_, err := New(api, st, Options{}).Generate(context.Background(), Input{Data: []byte("x")})
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Type != ErrorServiceBusy || ge.Message != "Service busy" {
		t.Fatalf("err = %v", err)
	}
	var failed *poller.TaskFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("cause lost: %v", err)
	}
	job, _, _ := st.Jobs.Get(store.GuestAccount, "rh-t1")
	if job.Status != model.RenderJobFailed || job.ErrorMessage != "Service busy" || job.CompletedAt == 0 {
		t.Fatalf("job = %+v", job)
	}
}

// flakyKV fails writes under failPrefix once it is set.
type flakyKV struct {
	store.KV
	failPrefix string
}

func (f *flakyKV) Set(key string, value json.RawMessage) error {
	if f.failPrefix != "" && strings.HasPrefix(key, f.failPrefix) {
		return errors.New("disk full")
	}
	return f.KV.Set(key, value)
}

func TestGenerateChargeFailureMarksJob(t *testing.T) {
	kv := &flakyKV{KV: store.NewMemoryKV()}
	st := store.New(kv, nil)
	api := &fakeAPI{wait: func(ctx context.Context) (*model.QueryResult, error) {
		kv.failPrefix = store.BalancePrefix
		return &model.QueryResult{TaskID: "t1", Status: "SUCCESS"}, nil
	}}
	_, err := New(api, st, Options{}).Generate(context.Background(), Input{Data: []byte("x")})
	if err == nil || !strings.Contains(err.Error(), "disk full") || errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("err = %v", err)
	}
	job, _, _ := st.Jobs.Get(store.GuestAccount, "rh-t1")
	if job.Status != model.RenderJobFailed || job.StatusText != "Charging points failed" || job.CompletedAt == 0 {
		t.Fatalf("job = %+v", job)
	}
	if items, _ := st.History.List(store.GuestAccount); len(items) != 0 {
		t.Fatalf("history = %+v", items)
	}
}

func TestGenerateHistoryFailureRefunds(t *testing.T) {
	kv := &flakyKV{KV: store.NewMemoryKV()}
	st := store.New(kv, nil)
	api := &fakeAPI{wait: func(ctx context.Context) (*model.QueryResult, error) {
		kv.failPrefix = store.HistoryPrefix
		return &model.QueryResult{TaskID: "t1", Status: "SUCCESS"}, nil
	}}
	_, err := New(api, st, Options{}).Generate(context.Background(), Input{Data: []byte("x")})
	if err == nil || !strings.Contains(err.Error(), "save history") {
		t.Fatalf("err = %v", err)
	}
	job, _, _ := st.Jobs.Get(store.GuestAccount, "rh-t1")
	if job.Status != model.RenderJobFailed || job.StatusText != "Result not saved" || job.CompletedAt == 0 {
		t.Fatalf("job = %+v", job)
	}
	if balance, _ := st.Points.Balance(store.GuestAccount); balance != store.InitialBalance {
		t.Fatalf("balance = %d", balance)
	}
	ledger, _ := st.Points.Ledger(store.GuestAccount, store.MaxLedger)
	if len(ledger) != 2 || ledger[0].Type != store.LedgerEarn || !strings.HasPrefix(ledger[0].Title, "Refund: ") {
		t.Fatalf("ledger = %+v", ledger)
	}
}

func TestGenerateCancelledMarksJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeAPI{wait: func(ctx context.Context) (*model.QueryResult, error) {
		cancel()
		return nil, poller.ErrCancelled
	}}
	st := store.New(store.NewMemoryKV(), nil)
	_, err := New(api, st, Options{}).Generate(ctx, Input{Data: []byte("x")})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v", err)
	}
	job, _, _ := st.Jobs.Get(store.GuestAccount, "rh-t1")
	if job.Status != model.RenderJobCancelled {
		t.Fatalf("job = %+v", job)
	}
	if h, _ := st.History.List(store.GuestAccount); len(h) != 0 {
		t.Fatalf("history = %+v", h)
	}
}

func TestGenerateNeedsPoints(t *testing.T) {
	kv := store.NewMemoryKV()
	st := store.New(kv, nil)
	_ = kv.Set(store.BalancePrefix+":guest", json.RawMessage(`0`))
	api := &fakeAPI{}
	_, err := New(api, st, Options{}).Generate(context.Background(), Input{Data: []byte("x")})
	if !errors.Is(err, ErrInsufficientPoints) || api.runs != 0 {
		t.Fatalf("err = %v runs = %d", err, api.runs)
	}
}

func TestGenerateBatchStopsWhenPointsRunOut(t *testing.T) {
	kv := store.NewMemoryKV()
	st := store.New(kv, nil)
	_ = kv.Set(store.BalancePrefix+":guest", json.RawMessage(`2`))
	n := 0
	api := &fakeAPI{}
	api.wait = func(ctx context.Context) (*model.QueryResult, error) {
		n++
		return &model.QueryResult{Status: "SUCCESS", Results: []model.QueryResultItem{{URL: "https://x/" + string(rune('a'+n)) + ".png"}}}, nil
	}
	inputs := []Input{{Data: []byte("1")}, {Data: []byte("2")}, {Data: []byte("3")}}
	results, err := New(api, st, Options{}).GenerateBatch(context.Background(), inputs)
	if !errors.Is(err, ErrInsufficientPoints) || len(results) != 2 || api.runs != 2 {
		t.Fatalf("results = %d runs = %d err = %v", len(results), api.runs, err)
	}
	if h, _ := st.History.List(store.GuestAccount); len(h) != 2 {
		t.Fatalf("history = %d", len(h))
	}
}

func TestGenerateBatchStopsOnFailure(t *testing.T) {
	calls := 0
	api := &fakeAPI{}
	api.wait = func(ctx context.Context) (*model.QueryResult, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("runninghub-network")
		}
		return &model.QueryResult{Status: "SUCCESS"}, nil
	}
	results, err := New(api, store.New(store.NewMemoryKV(), nil), Options{}).GenerateBatch(context.Background(),
		[]Input{{Data: []byte("1")}, {Data: []byte("2")}, {Data: []byte("3")}})
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Type != ErrorNetwork || len(results) != 1 || api.runs != 2 {
		t.Fatalf("results = %d runs = %d err = %v", len(results), api.runs, err)
	}
}

func TestGenerateGeneric(t *testing.T) {
	api := &fakeAPI{}
	st := store.New(store.NewMemoryKV(), nil)
	res, err := New(api, st, Options{Account: "wechat:demo"}).Generate(context.Background(), Input{
		Kind:        KindGeneric,
		Data:        []byte("A"),
		ContentType: "image/png",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.GeneratedURL != "data:image/png;base64,QQ==" || res.Analysis.Summary != "portrait" || api.runs != 0 {
		t.Fatalf("res = %+v runs = %d", res, api.runs)
	}
	if b, _ := st.Points.Balance("wechat:demo"); b != store.InitialBalance-1 {
		t.Fatalf("balance = %d", b)
	}

	_, err = New(api, st, Options{}).Generate(context.Background(), Input{Kind: KindGeneric})
	var ge *GenerationError
	if !errors.As(err, &ge) || ge.Type != ErrorFormat {
		t.Fatalf("err = %v", err)
	}
}

func TestCostPoints(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 1},
		{time.Second, 1},
		{time.Minute, 1},
		{time.Minute + time.Millisecond, 2},
		{10 * time.Minute, 10},
	}
	for _, c := range cases {
		if got := CostPoints(c.elapsed); got != c.want {
			t.Errorf("CostPoints(%s) = %d, want %d", c.elapsed, got, c.want)
		}
	}
}

func TestParseError(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorType
	}{
		{errors.New("client: network: dial tcp"), ErrorNetwork},
		{errors.New("failed to fetch"), ErrorNetwork},
		{errors.New("unsupported data url"), ErrorFormat},
		{errors.New("compliance check rejected"), ErrorCompliance},
		{errors.New("polling timeout"), ErrorServiceBusy},
		{errors.New("missing-env RUNNINGHUB_API_KEY"), ErrorPermission},
		{errors.New(`{"error":"unauthorized","message":"Invalid API key"}`), ErrorPermission},
		{errors.New("HTTP_403 /api/runninghub/run"), ErrorPermission},
		{errors.New("something odd"), ErrorServiceBusy},
		{nil, ErrorServiceBusy},
	}
	for _, c := range cases {
		if got := ParseError(c.err); got.Type != c.want {
			t.Errorf("ParseError(%v) = %s, want %s", c.err, got.Type, c.want)
		}
	}
	if ge := ParseError(errors.New("something odd")); ge.Message != "Generation failed" {
		t.Fatalf("default message = %q", ge.Message)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(""); err != nil || k != KindModelRender {
		t.Fatalf("ParseKind(\"\") = %s %v", k, err)
	}
	if k, err := ParseKind(" Image-Repair "); err != nil || k != KindImageRepair {
		t.Fatalf("ParseKind = %s %v", k, err)
	}
	if _, err := ParseKind("video"); err == nil {
		t.Fatal("expected error")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
