package config

import (
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Environment keys understood by the resolver. Every key may be suffixed with
// _<WORKFLOWTYPE> to override it for one workflow type.
const (
	KeyAPIKey          = "RUNNINGHUB_API_KEY"
	KeyAPIBase         = "RUNNINGHUB_API_BASE"
	KeyWorkflowID      = "RUNNINGHUB_WORKFLOW_ID"
	KeyWorkflowRunURL  = "RUNNINGHUB_WORKFLOW_RUN_URL"
	KeyQueryURL        = "RUNNINGHUB_QUERY_URL"
	KeyUploadURL       = "RUNNINGHUB_UPLOAD_URL"
	KeyUploadField     = "RUNNINGHUB_UPLOAD_FIELD"
	KeyUploadUseBearer = "RUNNINGHUB_UPLOAD_USE_BEARER"
	KeyImageNodeID     = "RUNNINGHUB_IMAGE_NODE_ID"
	KeyImageParamKey   = "RUNNINGHUB_IMAGE_PARAM_KEY"
	KeyImageParamMode  = "RUNNINGHUB_IMAGE_PARAM_MODE"
	KeyPromptNodeID    = "RUNNINGHUB_PROMPT_NODE_ID"
	KeyPromptParamKey  = "RUNNINGHUB_PROMPT_PARAM_KEY"
	KeyDefaultPrompt   = "RUNNINGHUB_DEFAULT_PROMPT"
	KeyRunHosts        = "RUNNINGHUB_RUN_HOSTS"
	KeyFileValueMode   = "RUNNINGHUB_FILEVALUE_MODE"
)

const (
	DefaultAPIBase        = "https://api.runninghub.cn"
	DefaultQueryURL       = "https://www.runninghub.cn/openapi/v2/query"
	DefaultUploadURL      = "https://www.runninghub.cn/openapi/v2/upload/image"
	DefaultUploadField    = "image"
	DefaultImageNodeID    = "1"
	DefaultImageParamKey  = "image"
	DefaultImageParamMode = "file"
	DefaultPromptNodeID   = "4"
	DefaultPromptParamKey = "prompt"
	DefaultFileValueMode  = "auto"
)

// Source is a read-only view of a configuration namespace.
type Source interface {
	Lookup(key string) (string, bool)
}

// MapSource is a fixed snapshot, mostly used by tests.
type MapSource map[string]string

func (m MapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// ViperSource reads keys through viper, so values may come from the process
// environment or from a loaded config file.
type ViperSource struct {
	v *viper.Viper
}

func NewViperSource(v *viper.Viper) *ViperSource {
	return &ViperSource{v: v}
}

func (s *ViperSource) Lookup(key string) (string, bool) {
	if !s.v.IsSet(key) {
		return "", false
	}
	return s.v.GetString(key), true
}

// Resolver resolves RunningHub settings with workflow-type suffix fallback.
type Resolver struct {
	src Source
}

func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Value returns the trimmed value stored under key. Blank values are absent.
func (r *Resolver) Value(key string) (string, bool) {
	if r == nil || r.src == nil {
		return "", false
	}
	v, ok := r.src.Lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}

// Resolve looks up baseKey_workflowType, then baseKey. keyUsed names the key
// that produced the value.
func (r *Resolver) Resolve(baseKey, workflowType string) (value, keyUsed string, ok bool) {
	if workflowType != "" {
		suffixed := baseKey + "_" + workflowType
		if v, found := r.Value(suffixed); found {
			return v, suffixed, true
		}
	}
	if v, found := r.Value(baseKey); found {
		return v, baseKey, true
	}
	return "", "", false
}

// Get is Resolve without the key name.
func (r *Resolver) Get(baseKey, workflowType string) (string, bool) {
	v, _, ok := r.Resolve(baseKey, workflowType)
	return v, ok
}

// GetOr is Get with a fallback for absent values.
func (r *Resolver) GetOr(baseKey, workflowType, fallback string) string {
	if v, ok := r.Get(baseKey, workflowType); ok {
		return v
	}
	return fallback
}

// APIBase is the configured API base without a trailing slash.
func (r *Resolver) APIBase(workflowType string) string {
	return strings.TrimRight(r.GetOr(KeyAPIBase, workflowType, DefaultAPIBase), "/")
}

// DefaultRunURL is the run URL derived from the API base and workflow id.
func (r *Resolver) DefaultRunURL(workflowType, workflowID string) string {
	return r.APIBase(workflowType) + "/run/workflow/" + workflowID
}

// RunHosts splits RUNNINGHUB_RUN_HOSTS into trimmed, non-empty hosts.
func (r *Resolver) RunHosts(workflowType string) []string {
	raw, ok := r.Get(KeyRunHosts, workflowType)
	if !ok {
		return nil
	}
	var hosts []string
	for _, h := range strings.Split(raw, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// NormalizeWorkflowType upper-cases s and replaces every character outside
// [A-Z0-9_] with '_'. Underscores at either end are dropped, so
// "image repair!" becomes "IMAGE_REPAIR". Blank input yields "".
func NormalizeWorkflowType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// a Caser is stateful, so one per call
	s = cases.Upper(language.Und).String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

// ParseBool accepts "true"/"false" case-insensitively. Anything else is absent.
func ParseBool(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}
