package runninghub

import (
	"net/url"
	"strings"

	"github.com/runninghub-studio/studio/internal/config"
)

// MaxCandidates bounds the number of run URLs tried for one request.
const MaxCandidates = 8

// Run endpoint path prefixes accepted by the upstream gateways.
const (
	PathRun        = "/run/workflow/"
	PathOpenAPIRun = "/openapi/v2/run/workflow/"
	PathCallAPIRun = "/call-api/run/workflow/"
)

var runPathPrefixes = []string{PathRun, PathOpenAPIRun, PathCallAPIRun}

// knownHosts are the CN and global mirrors of the workflow API.
var knownHosts = []string{
	"api.runninghub.cn",
	"www.runninghub.cn",
	"api.runninghub.ai",
	"www.runninghub.ai",
}

// Reasons reported by ValidateRunURL.
const (
	ReasonInvalidURL      = "invalid-url"
	ReasonNotHTTPS        = "protocol-not-https"
	ReasonPathNotWorkflow = "path-not-workflow"
)

// ValidateRunURL checks a configured run URL override. reason is empty when
// the URL is acceptable.
func ValidateRunURL(rawURL string) (reason, host, path string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ReasonInvalidURL, "", ""
	}
	if u.Scheme != "https" {
		return ReasonNotHTTPS, u.Host, u.Path
	}
	if !isRunPath(u.Path) {
		return ReasonPathNotWorkflow, u.Host, u.Path
	}
	return "", u.Host, u.Path
}

func isRunPath(p string) bool {
	for _, prefix := range runPathPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// WorkflowIDFromPath extracts the trailing workflow id from a run path.
func WorkflowIDFromPath(p string) string {
	for _, prefix := range runPathPrefixes {
		if strings.HasPrefix(p, prefix) {
			return strings.Trim(strings.TrimPrefix(p, prefix), "/")
		}
	}
	return ""
}

func isKnownHost(host string) bool {
	for _, h := range knownHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// cleanHost accepts "host", "https://host" or "https://host/" forms.
func cleanHost(h string) string {
	h = strings.TrimSpace(h)
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	return h
}

// BuildCandidates returns the ordered, deduplicated list of run URLs to try:
// the primary URL, the same path on extraHosts and (for RunningHub hosts) the
// known mirrors, then gateway path variants on the primary host and the first
// alternate. The query string of primaryURL is kept on every candidate.
func BuildCandidates(primaryURL, workflowID string, extraHosts []string) []string {
	u, err := url.Parse(primaryURL)
	if err != nil || u.Host == "" {
		if primaryURL == "" {
			return nil
		}
		return []string{primaryURL}
	}

	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s == "" || seen[s] || len(out) >= MaxCandidates {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	withHostPath := func(host, path string) string {
		c := *u
		c.Host = host
		c.Path = path
		c.RawPath = ""
		return c.String()
	}

	add(primaryURL)

	var alternates []string
	seenHost := map[string]bool{strings.ToLower(u.Host): true}
	addHost := func(h string) {
		h = cleanHost(h)
		if h == "" || seenHost[strings.ToLower(h)] {
			return
		}
		seenHost[strings.ToLower(h)] = true
		alternates = append(alternates, h)
	}
	for _, h := range extraHosts {
		addHost(h)
	}
	if isKnownHost(u.Host) {
		for _, h := range knownHosts {
			addHost(h)
		}
	}
	for _, h := range alternates {
		add(withHostPath(h, u.Path))
	}

	if workflowID == "" {
		workflowID = WorkflowIDFromPath(u.Path)
	}
	if workflowID != "" {
		hosts := []string{u.Host}
		if len(alternates) > 0 {
			hosts = append(hosts, alternates[0])
		}
		for _, h := range hosts {
			add(withHostPath(h, PathOpenAPIRun+workflowID))
			add(withHostPath(h, PathCallAPIRun+workflowID))
		}
	}
	return out
}

// ExpectedRunURL is the example shown when an override is rejected.
func ExpectedRunURL(r *config.Resolver, workflowType, workflowID string) string {
	if workflowID == "" {
		workflowID = "<workflowId>"
	}
	return r.DefaultRunURL(workflowType, workflowID)
}
