package remediation

import (
	"strings"

	"github.com/kioku-ai/kioku/internal/model"
)

// classifierRules is the canonical, ordered keyword rule list. First match
// wins; matching is case-sensitive substring search over the joined
// message + stack trace text. This single table serves every call path so
// identical text always classifies identically.
var classifierRules = []struct {
	pattern  model.ErrorPattern
	keywords []string
}{
	{model.PatternDatabaseError, []string{"database", "SQL", "query", "pgx", "gorm"}},
	{model.PatternConnectionError, []string{"connection", "timeout", "ECONNREFUSED", "dial tcp"}},
	{model.PatternResourceExhaustion, []string{"memory", "OOM", "OutOfMemory", "out of memory"}},
	{model.PatternAuthenticationError, []string{"401", "403", "Unauthorized", "Forbidden"}},
	{model.PatternNotFound, []string{"404", "NotFound", "not found"}},
	{model.PatternServerError, []string{"500", "502", "503", "Internal Server Error"}},
	{model.PatternRuntimePanic, []string{"panic", "runtime error", "nil pointer"}},
}

// ClassifyPattern categorizes an error by keyword matching over its message
// and stack trace. Returns PatternUnknown when nothing matches.
func ClassifyPattern(message, stackTrace string) model.ErrorPattern {
	text := joinContext(message, stackTrace)
	for _, rule := range classifierRules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.pattern
			}
		}
	}
	return model.PatternUnknown
}

// severityByPattern is the static severity lookup.
var severityByPattern = map[model.ErrorPattern]model.Severity{
	model.PatternResourceExhaustion:  model.SeverityCritical,
	model.PatternRuntimePanic:        model.SeverityCritical,
	model.PatternDatabaseError:       model.SeverityHigh,
	model.PatternConnectionError:     model.SeverityHigh,
	model.PatternServerError:         model.SeverityHigh,
	model.PatternAuthenticationError: model.SeverityMedium,
	model.PatternPerformance:         model.SeverityMedium,
	model.PatternNotFound:            model.SeverityLow,
}

// ClassifySeverity ranks a pattern's urgency. Unlisted patterns (including
// unknown) default to medium.
func ClassifySeverity(pattern model.ErrorPattern) model.Severity {
	if sev, ok := severityByPattern[pattern]; ok {
		return sev
	}
	return model.SeverityMedium
}

// joinContext builds the classification and embedding text from the
// non-empty parts of an error signature.
func joinContext(message, stackTrace string) string {
	parts := make([]string, 0, 2)
	if message != "" {
		parts = append(parts, message)
	}
	if stackTrace != "" {
		parts = append(parts, stackTrace)
	}
	return strings.Join(parts, "\n")
}

// checklists holds the static remediation steps per pattern.
var checklists = map[model.ErrorPattern][]string{
	model.PatternDatabaseError: {
		"Check database connectivity and credentials",
		"Inspect slow query log for the failing statement",
		"Verify recent schema migrations applied cleanly",
		"Check connection pool saturation",
	},
	model.PatternConnectionError: {
		"Verify the target service is up and reachable",
		"Check DNS resolution and firewall rules",
		"Review timeout configuration against observed latency",
		"Look for connection pool or file descriptor exhaustion",
	},
	model.PatternResourceExhaustion: {
		"Capture a heap profile before the process restarts",
		"Check for unbounded caches or queues",
		"Review recent deploys for memory regressions",
		"Verify container memory limits match expected footprint",
	},
	model.PatternAuthenticationError: {
		"Check token or key expiry",
		"Verify the credential has the required scopes",
		"Review recent permission or role changes",
	},
	model.PatternNotFound: {
		"Confirm the resource id is correct",
		"Check whether the resource was deleted or archived",
		"Verify routing and path construction",
	},
	model.PatternServerError: {
		"Check upstream service health dashboards",
		"Inspect server logs around the failure timestamp",
		"Look for correlated deploys or config changes",
	},
	model.PatternRuntimePanic: {
		"Locate the panic site from the stack trace",
		"Check for nil dereferences on optional fields",
		"Add the failing input to the regression suite",
	},
	model.PatternPerformance: {
		"Profile the hot path under representative load",
		"Check for missing indexes on frequent queries",
		"Review recent changes to data volume or fan-out",
	},
}

// defaultChecklist applies to unknown patterns.
var defaultChecklist = []string{
	"Reproduce the failure with the captured inputs",
	"Search past failures for a similar signature",
	"Escalate with full context if no match is found",
}

// Checklist returns the static remediation steps for a pattern.
func Checklist(pattern model.ErrorPattern) []string {
	if steps, ok := checklists[pattern]; ok {
		return steps
	}
	return defaultChecklist
}
