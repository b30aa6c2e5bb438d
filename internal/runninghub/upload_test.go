package runninghub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/runninghub-studio/studio/internal/config"
)

type uploadCapture struct {
	authorization string
	apiKey        string
	field         string
	partType      string
	data          string
}

func uploadServer(t *testing.T, field string, status int, reply string) (*httptest.Server, *uploadCapture) {
	t.Helper()
	got := &uploadCapture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.authorization = r.Header.Get("Authorization")
		got.apiKey = r.Header.Get("X-API-KEY")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if f, hdr, err := r.FormFile(field); err == nil {
			got.field = field
			got.partType = hdr.Header.Get("Content-Type")
			b, _ := io.ReadAll(f)
			got.data = string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestUploadSendsBearerByDefault(t *testing.T) {
	srv, got := uploadServer(t, "image", http.StatusOK, `{"fileKey":"api/abc.png","fileValue":{"url":"https://signed/x?sig=1"}}`)
	c := newTestClient(config.MapSource{
		"RUNNINGHUB_API_KEY":    "secret",
		"RUNNINGHUB_UPLOAD_URL": srv.URL + "/openapi/v2/upload/image",
	}, srv.Client())

	res, err := c.Upload(context.Background(), "", &FileInput{Name: "a.png", ContentType: "image/png", Data: []byte("PNG")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.FileKey != "api/abc.png" {
		t.Fatalf("fileKey = %q", res.FileKey)
	}
	if got.authorization != "Bearer secret" || got.apiKey != "secret" {
		t.Fatalf("auth headers = %q / %q", got.authorization, got.apiKey)
	}
	if got.field != "image" || got.partType != "image/png" || got.data != "PNG" {
		t.Fatalf("multipart part = %+v", got)
	}
	b, _ := json.Marshal(res)
	if strings.Contains(string(b), "signed") {
		t.Fatalf("fileValue leaked into JSON: %s", b)
	}
}

func TestUploadSignedQueryDisablesBearer(t *testing.T) {
	srv, got := uploadServer(t, "file", http.StatusOK, `{"data":{"fileKey":"k1","fileValue":"v1"}}`)
	env := config.MapSource{
		"RUNNINGHUB_API_KEY":      "secret",
		"RUNNINGHUB_UPLOAD_URL_X": srv.URL + "/upload?Rh-Comfy-Auth=tok",
		"RUNNINGHUB_UPLOAD_FIELD": "file",
	}
	c := newTestClient(env, srv.Client())

	res, err := c.Upload(context.Background(), "X", &FileInput{Data: []byte("JPG")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.FileKey != "k1" || res.FileValue != "v1" {
		t.Fatalf("result = %+v", res)
	}
	if got.authorization != "" || got.apiKey != "" {
		t.Fatalf("credentials sent with signed URL: %q / %q", got.authorization, got.apiKey)
	}

	env["RUNNINGHUB_UPLOAD_USE_BEARER"] = "TRUE"
	if _, err := c.Upload(context.Background(), "X", &FileInput{Data: []byte("JPG")}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got.authorization != "Bearer secret" {
		t.Fatalf("explicit override ignored, Authorization = %q", got.authorization)
	}
}

func TestUploadErrors(t *testing.T) {
	c := newTestClient(config.MapSource{}, nil)
	if _, err := c.Upload(context.Background(), "", &FileInput{Data: []byte("x")}); !IsKind(err, KindConfig) {
		t.Fatalf("missing key: err = %v", err)
	}

	srv, _ := uploadServer(t, "image", http.StatusForbidden, `{"msg":"denied"}`)
	c = newTestClient(config.MapSource{
		"RUNNINGHUB_API_KEY":    "secret",
		"RUNNINGHUB_UPLOAD_URL": srv.URL + "/up",
	}, srv.Client())
	_, err := c.Upload(context.Background(), "", &FileInput{Data: []byte("x")})
	e, ok := AsError(err)
	if !ok || e.HTTPStatus() != http.StatusForbidden || e.Stage != StageUpload || e.Path != "/up" {
		t.Fatalf("upstream error = %+v", err)
	}

	srv2, _ := uploadServer(t, "image", http.StatusOK, `{"ok":true}`)
	c = newTestClient(config.MapSource{
		"RUNNINGHUB_API_KEY":    "secret",
		"RUNNINGHUB_UPLOAD_URL": srv2.URL + "/up",
	}, srv2.Client())
	_, err = c.Upload(context.Background(), "", &FileInput{Data: []byte("x")})
	if e, ok := AsError(err); !ok || e.Code != CodeInvalidResponse || e.HTTPStatus() != http.StatusBadGateway {
		t.Fatalf("invalid response error = %v", err)
	}
}

func TestUploadNetworkErrorHidesQuery(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()

	c := newTestClient(config.MapSource{
		"RUNNINGHUB_API_KEY":    "secret",
		"RUNNINGHUB_UPLOAD_URL": dead + "/up?Rh-Sig=s3cr3t",
	}, nil)
	_, err := c.Upload(context.Background(), "", &FileInput{Data: []byte("x")})
	e, ok := AsError(err)
	if !ok || e.Kind != KindUpstreamNetwork || e.HTTPStatus() != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}
	b, _ := json.Marshal(e.Payload())
	if strings.Contains(string(b), "s3cr3t") {
		t.Fatalf("signed query leaked: %s", b)
	}
}

func TestParseUploadResponseFallsBackToName(t *testing.T) {
	v, _ := decodeBody([]byte(`{"data":{"name":"n.png"}}`))
	res := parseUploadResponse(v)
	if res.FileKey != "n.png" {
		t.Fatalf("fileKey = %q", res.FileKey)
	}
	if m, ok := res.FileValue.(map[string]interface{}); !ok || m["data"] == nil {
		t.Fatalf("fileValue should default to the whole body, got %#v", res.FileValue)
	}
}
