package runninghub

import (
	"reflect"
	"testing"
)

func TestBuildCandidatesKnownHost(t *testing.T) {
	got := BuildCandidates("https://api.runninghub.cn/run/workflow/42", "42", nil)
	want := []string{
		"https://api.runninghub.cn/run/workflow/42",
		"https://www.runninghub.cn/run/workflow/42",
		"https://api.runninghub.ai/run/workflow/42",
		"https://www.runninghub.ai/run/workflow/42",
		"https://api.runninghub.cn/openapi/v2/run/workflow/42",
		"https://api.runninghub.cn/call-api/run/workflow/42",
		"https://www.runninghub.cn/openapi/v2/run/workflow/42",
		"https://www.runninghub.cn/call-api/run/workflow/42",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildCandidates =\n%v\nwant\n%v", got, want)
	}
	if len(got) > MaxCandidates {
		t.Fatalf("more than %d candidates", MaxCandidates)
	}
}

func TestBuildCandidatesCustomHost(t *testing.T) {
	got := BuildCandidates("https://gw.example.com/run/workflow/7", "", []string{"https://b.example.com/", "gw.example.com", " "})
	want := []string{
		"https://gw.example.com/run/workflow/7",
		"https://b.example.com/run/workflow/7",
		"https://gw.example.com/openapi/v2/run/workflow/7",
		"https://gw.example.com/call-api/run/workflow/7",
		"https://b.example.com/openapi/v2/run/workflow/7",
		"https://b.example.com/call-api/run/workflow/7",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildCandidates =\n%v\nwant\n%v", got, want)
	}
}

func TestBuildCandidatesDeduplicates(t *testing.T) {
	got := BuildCandidates("https://x.example.com/openapi/v2/run/workflow/9", "9", nil)
	want := []string{
		"https://x.example.com/openapi/v2/run/workflow/9",
		"https://x.example.com/call-api/run/workflow/9",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("BuildCandidates = %v, want %v", got, want)
	}
	if got := BuildCandidates("", "9", nil); got != nil {
		t.Fatalf("empty primary should yield nil, got %v", got)
	}
}

func TestValidateRunURL(t *testing.T) {
	tests := []struct {
		url    string
		reason string
	}{
		{"https://api.runninghub.cn/run/workflow/1", ""},
		{"https://api.runninghub.cn/openapi/v2/run/workflow/1", ""},
		{"https://api.runninghub.cn/call-api/run/workflow/1", ""},
		{"http://api.runninghub.cn/run/workflow/1", ReasonNotHTTPS},
		{"https://www.runninghub.cn/openapi/v2/upload/image", ReasonPathNotWorkflow},
		{"not a url", ReasonInvalidURL},
	}
	for _, tt := range tests {
		if reason, _, _ := ValidateRunURL(tt.url); reason != tt.reason {
			t.Errorf("ValidateRunURL(%q) reason = %q, want %q", tt.url, reason, tt.reason)
		}
	}
}

func TestWorkflowIDFromPath(t *testing.T) {
	if got := WorkflowIDFromPath("/call-api/run/workflow/123/"); got != "123" {
		t.Fatalf("WorkflowIDFromPath = %q", got)
	}
	if got := WorkflowIDFromPath("/upload/image"); got != "" {
		t.Fatalf("WorkflowIDFromPath = %q, want empty", got)
	}
}
