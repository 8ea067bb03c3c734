package extraction

import (
	"fmt"
	"regexp"
	"strings"
)

const maxErrorLen = 100

// FormatSteps renders one line per step with a status icon. Step errors are
// truncated to 100 characters.
func FormatSteps(steps []Step) string {
	if len(steps) == 0 {
		return "(no steps recorded)"
	}
	var b strings.Builder
	for i, s := range steps {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s", statusIcon(s.Status), s.Name)
		if s.Error != "" {
			fmt.Fprintf(&b, ": %s", truncate(s.Error, maxErrorLen))
		}
	}
	return b.String()
}

// FormatStages renders one line per stage with elapsed seconds and artifact
// count.
func FormatStages(stages []Stage) string {
	if len(stages) == 0 {
		return "(no stages recorded)"
	}
	var b strings.Builder
	for i, s := range stages {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s (%.1fs, %d artifacts)", s.Name, s.Status, s.Elapsed.Seconds(), s.Artifacts)
	}
	return b.String()
}

func statusIcon(status string) string {
	switch strings.ToLower(status) {
	case "completed", "success", "succeeded":
		return "✓"
	case "failed", "error":
		return "✗"
	default:
		return "○"
	}
}

// truncate cuts s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// systemPrompt is the fixed instruction sent with every extraction request.
const systemPrompt = `You analyze completed multi-agent workflow runs and distill durable lessons that will help future runs.
Respond with JSON only, in this exact shape:
{"lessons":[{"type":"success_pattern|failure_pattern|optimization|edge_case|anti_pattern|best_practice","title":"...","content":"...","situation":"...","recommendation":"...","confidence":0.0,"domain_tags":["..."]}]}
Only include lessons with confidence of 0.7 or higher. Return {"lessons":[]} when nothing is worth keeping.`

const promptTemplate = `Workflow: %s
Task: %s
Status: %s
Duration: %.1fs

Execution summary:
%s

Stage summary:
%s

Extract lessons from this run.`

// BuildPrompt renders the request text for in. Secrets are scrubbed before
// the text leaves the process.
func BuildPrompt(in RunInput) string {
	return scrubSecrets(fmt.Sprintf(promptTemplate,
		in.WorkflowID,
		in.Task,
		in.Status,
		in.Duration.Seconds(),
		FormatSteps(in.Steps),
		FormatStages(in.Stages),
	))
}

var secretPatterns = []struct {
	regex       *regexp.Regexp
	replacement string
}{
	{
		regexp.MustCompile(`(OPENAI_API_KEY|ANTHROPIC_API_KEY|GITHUB_TOKEN|GITLAB_TOKEN|AWS_SECRET_ACCESS_KEY)\s*=\s*([^\s]+)`),
		"$1=[REDACTED:ENV_SECRET]",
	},
	{
		regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`),
		"[REDACTED:ANTHROPIC_KEY]",
	},
	{
		regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
		"[REDACTED:OPENAI_KEY]",
	},
	{
		regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`),
		"[REDACTED:GITHUB_TOKEN]",
	},
	{
		regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?\s*([^"'\s]{8,})["']?`),
		"$1=[REDACTED:API_KEY]",
	},
	{
		regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.=]{20,}`),
		"[REDACTED:BEARER_TOKEN]",
	},
	{
		regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']?\s*([^"'\s]{4,})["']?`),
		"$1=[REDACTED:PASSWORD]",
	},
	{
		regexp.MustCompile(`(?i)-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----[\s\S]*?-----END (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
		"[REDACTED:PRIVATE_KEY]",
	},
}

// scrubSecrets replaces common credential patterns. More specific patterns
// run first.
func scrubSecrets(content string) string {
	for _, p := range secretPatterns {
		content = p.regex.ReplaceAllString(content, p.replacement)
	}
	return content
}

// clusterRules map workflow id substrings to clusters, first match wins.
var clusterRules = []struct {
	cluster  string
	keywords []string
}{
	{"code", []string{"code", "dev", "bug", "refactor", "test", "review"}},
	{"content", []string{"content", "write", "blog", "doc", "copy"}},
	{"analysis", []string{"analy", "research", "report", "data"}},
}

// DetectCluster buckets a workflow id into code, content, analysis or
// general.
func DetectCluster(workflowID string) string {
	id := strings.ToLower(workflowID)
	for _, r := range clusterRules {
		for _, kw := range r.keywords {
			if strings.Contains(id, kw) {
				return r.cluster
			}
		}
	}
	return "general"
}
