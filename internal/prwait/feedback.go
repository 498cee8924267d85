package prwait

import (
	"fmt"
	"strings"
	"time"

	"remotedev/internal/envelope"
	"remotedev/internal/services/github"
)

// StageRework is the history stage recorded on rework envelopes.
const StageRework = "REWORK"

// FormatFeedback renders review feedback as markdown for the reworking agent.
func FormatFeedback(prNumber int, fb *github.ReviewFeedback) string {
	if fb == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## PR #%d review feedback\n", prNumber)
	fmt.Fprintf(&b, "- Reviewer: %s\n", fb.Reviewer)
	fmt.Fprintf(&b, "- Status: %s", github.ReviewChangesRequested)
	if body := strings.TrimSpace(fb.Body); body != "" {
		fmt.Fprintf(&b, "\n\n### Review\n%s", body)
	}
	if len(fb.Comments) > 0 {
		b.WriteString("\n\n### Inline comments")
		for _, c := range fb.Comments {
			path := c.Path
			if path == "" {
				path = "unknown"
			}
			line := "?"
			if c.Line > 0 {
				line = fmt.Sprint(c.Line)
			}
			fmt.Fprintf(&b, "\n\n**%s:%s**\n%s", path, line, c.Body)
		}
	}
	return b.String()
}

// ReworkEnvelope derives the envelope sent back to the originating stage.
func ReworkEnvelope(reg Registration, fb *github.ReviewFeedback, now time.Time) *envelope.Envelope {
	env := reg.Snapshot.Clone()
	formatted := FormatFeedback(reg.PRNumber, fb)
	env.Task.IsRework = true
	env.Task.ReworkFeedback = formatted
	env.Task.ReworkInstructions = formatted
	env.Task.Status = envelope.StatusRework
	env.Task.CurrentStage = reg.AgentName
	if env.Context == nil {
		env.Context = map[string]any{}
	}
	env.Context["rework_agent"] = reg.AgentName
	env.AppendHistory(StageRework, fmt.Sprintf("Changes requested on PR #%d by %s", reg.PRNumber, fb.Reviewer), now)
	return env
}
