package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/runninghub-studio/studio/internal/config"
	"github.com/runninghub-studio/studio/internal/logger"
	"github.com/runninghub-studio/studio/internal/runninghub"
	"github.com/runninghub-studio/studio/internal/server/handler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeUpstream imitates the RunningHub endpoints used by the handlers.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/run/workflow/42", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if nodes, _ := body["nodeInfoList"].([]interface{}); len(nodes) == 0 {
			t.Errorf("run without nodes: %v", body)
		}
		_, _ = io.WriteString(w, `{"taskId":"t1","status":"RUNNING","promptTips":"{}"}`)
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["taskId"] == "t1" {
			_, _ = io.WriteString(w, `{"taskId":"t1","status":"SUCCESS","results":[{"url":"`+srv.URL+`/asset.png"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"taskId":"`+body["taskId"]+`","status":"RUNNING"}`)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"fileKey":"api/up.png"}`)
	})
	mux.HandleFunc("/asset.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = io.WriteString(w, "PNG")
	})
	srv = httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T, cfg config.ServerConfig) *gin.Engine {
	t.Helper()
	up := fakeUpstream(t)
	client := runninghub.NewClient(runninghub.Options{
		Resolver: config.NewResolver(config.MapSource{
			"RUNNINGHUB_API_KEY":     "k",
			"RUNNINGHUB_API_BASE":    up.URL,
			"RUNNINGHUB_WORKFLOW_ID": "42",
			"RUNNINGHUB_QUERY_URL":   up.URL + "/query",
			"RUNNINGHUB_UPLOAD_URL":  up.URL + "/upload",
		}),
		HTTPClient: up.Client(),
		Logger:     logger.NewNopLogger(),
	})
	h := handler.New(client)
	h.MockDelay = 0
	if cfg.BodyLimitMB == 0 {
		cfg.BodyLimitMB = 1
	}
	return InitRouter(cfg, h)
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("response is not JSON: %q", w.Body.String())
	}
	return m
}

func multipartRequest(t *testing.T, path string, fields map[string]string, withFile bool) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if withFile {
		fw, err := mw.CreateFormFile("file", "photo.png")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte("PNGDATA"))
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{})
	w := doJSON(r, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || decode(t, w)["ok"] != true {
		t.Fatalf("healthz = %d %s", w.Code, w.Body.String())
	}
}

func TestPingEndpoint(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{})
	w := doJSON(r, http.MethodPost, "/api/runninghub/ping", "")
	m := decode(t, w)
	if w.Code != http.StatusOK || m["ok"] != true || m["workflowIdKeyUsed"] != "RUNNINGHUB_WORKFLOW_ID" {
		t.Fatalf("ping = %d %v", w.Code, m)
	}
	if _, present := m["runUrlKeyUsed"]; !present || m["runUrlKeyUsed"] != nil {
		t.Fatalf("runUrlKeyUsed should be null: %v", m)
	}
}

func TestRunEndpointJSON(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{})
	w := doJSON(r, http.MethodPost, "/api/runninghub/run", `{"imageDataUrl":"data:image/png;base64,QQ==","addMetadata":true}`)
	m := decode(t, w)
	if w.Code != http.StatusOK || m["taskId"] != "t1" || m["promptTips"] != "{}" {
		t.Fatalf("run = %d %v", w.Code, m)
	}

	w = doJSON(r, http.MethodPost, "/api/runninghub/run", "")
	m = decode(t, w)
	if w.Code != http.StatusBadRequest || m["error"] != runninghub.CodeMissingNodeInfoList {
		t.Fatalf("empty run = %d %v", w.Code, m)
	}

	w = doJSON(r, http.MethodPost, "/api/runninghub/run", "{not json")
	if w.Code != http.StatusBadRequest || decode(t, w)["error"] != runninghub.CodeBadRequest {
		t.Fatalf("bad json = %d %s", w.Code, w.Body.String())
	}
}

func TestRunEndpointMultipart(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{})
	req := multipartRequest(t, "/api/runninghub/run", map[string]string{
		"addMetadata":      "true",
		"usePersonalQueue": "false",
		"instanceType":     "default",
	}, true)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if m := decode(t, w); w.Code != http.StatusOK || m["taskId"] != "t1" {
		t.Fatalf("multipart run = %d %v", w.Code, m)
	}
}

func TestUploadEndpoint(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{})

	w := doJSON(r, http.MethodPost, "/api/runninghub/upload", `{}`)
	if m := decode(t, w); w.Code != http.StatusBadRequest || m["error"] != runninghub.CodeBadRequest {
		t.Fatalf("json upload = %d %v", w.Code, m)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/runninghub/upload", map[string]string{"workflowType": "x"}, false))
	if m := decode(t, w); w.Code != http.StatusBadRequest || m["error"] != runninghub.CodeMissingFile {
		t.Fatalf("upload without file = %d %v", w.Code, m)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "/api/runninghub/upload", nil, true))
	m := decode(t, w)
	if w.Code != http.StatusOK || m["ok"] != true || m["fileKey"] != "api/up.png" || len(m) != 2 {
		t.Fatalf("upload = %d %v", w.Code, m)
	}
}

func TestQueryEndpoint(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{})
	w := doJSON(r, http.MethodPost, "/api/runninghub/query", `{}`)
	if m := decode(t, w); w.Code != http.StatusBadRequest || m["error"] != runninghub.CodeMissingTaskID {
		t.Fatalf("query without id = %d %v", w.Code, m)
	}
	w = doJSON(r, http.MethodPost, "/api/runninghub/query", `{"taskId":"t2"}`)
	if m := decode(t, w); w.Code != http.StatusOK || m["status"] != "RUNNING" {
		t.Fatalf("query = %d %v", w.Code, m)
	}
}

func TestImageEndpoint(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{})

	w := doJSON(r, http.MethodGet, "/api/runninghub/image?taskId=t1&index=oops", "")
	if w.Code != http.StatusOK || w.Body.String() != "PNG" {
		t.Fatalf("image = %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("headers = %v", w.Header())
	}

	w = doJSON(r, http.MethodGet, "/api/runninghub/image?taskId=t2", "")
	if m := decode(t, w); w.Code != http.StatusConflict || m["error"] != runninghub.CodeNotReady || m["status"] != "RUNNING" {
		t.Fatalf("not ready = %d %v", w.Code, m)
	}

	w = doJSON(r, http.MethodGet, "/api/runninghub/image", "")
	if m := decode(t, w); w.Code != http.StatusBadRequest || m["error"] != runninghub.CodeMissingTaskID {
		t.Fatalf("missing taskId = %d %v", w.Code, m)
	}
}

func TestMockEndpoints(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{})
	w := doJSON(r, http.MethodPost, "/api/analyze", `{"imageDataUrl":"data:x"}`)
	m := decode(t, w)
	analysis, _ := m["analysis"].(map[string]interface{})
	if w.Code != http.StatusOK || analysis["summary"] == "" {
		t.Fatalf("analyze = %d %v", w.Code, m)
	}
	w = doJSON(r, http.MethodPost, "/api/generate", `{"imageDataUrl":"data:x"}`)
	if m := decode(t, w); w.Code != http.StatusOK || m["generatedUrl"] != "data:x" {
		t.Fatalf("generate = %d %v", w.Code, m)
	}
	w = doJSON(r, http.MethodPost, "/api/analyze", `{}`)
	if m := decode(t, w); w.Code != http.StatusBadRequest || m["error"] != runninghub.CodeMissingImage {
		t.Fatalf("analyze without image = %d %v", w.Code, m)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{})
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })
	w := doJSON(r, http.MethodGet, "/boom", "")
	m := decode(t, w)
	if w.Code != http.StatusInternalServerError || m["error"] != runninghub.CodeWorkerException || m["message"] != "kaboom" {
		t.Fatalf("panic = %d %v", w.Code, m)
	}
	stack, _ := m["stack"].(string)
	if stack == "" || strings.Count(stack, "\n") > stackPreviewLines-1 {
		t.Fatalf("stack preview = %q", stack)
	}
}

func TestPermissionCheck(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{APIKey: "shared"})
	if w := doJSON(r, http.MethodPost, "/api/runninghub/ping", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no key = %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/runninghub/ping", nil)
	req.Header.Set("API-KEY", "shared")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("with key = %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz should stay open, got %d", w.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	r := newTestRouter(t, config.ServerConfig{BodyLimitMB: 1})
	big := `{"imageDataUrl":"data:image/png;base64,` + strings.Repeat("A", 2<<20) + `"}`

	for _, tc := range []struct {
		name    string
		path    string
		chunked bool
	}{
		{"declared length", "/api/runninghub/run", false},
		{"chunked run", "/api/runninghub/run", true},
		{"chunked query", "/api/runninghub/query", true},
		{"chunked analyze", "/api/analyze", true},
	} {
		req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(big))
		req.Header.Set("Content-Type", "application/json")
		if tc.chunked {
			req.ContentLength = -1
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("%s: status = %d %s", tc.name, w.Code, w.Body.String())
			continue
		}
		if got := decode(t, w)["error"]; got != runninghub.CodePayloadTooLarge {
			t.Errorf("%s: error = %v", tc.name, got)
		}
	}

	upload := multipartRequest(t, "/api/runninghub/upload", map[string]string{"pad": strings.Repeat("B", 2<<20)}, true)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, upload)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("upload status = %d", w.Code)
	}

	if w := doJSON(r, http.MethodPost, "/api/runninghub/run", `{"imageDataUrl":"data:image/png;base64,QQ=="}`); w.Code != http.StatusOK {
		t.Fatalf("small body = %d %s", w.Code, w.Body.String())
	}
}
