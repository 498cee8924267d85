package notifications

import (
	"fmt"
	"strings"

	"remotedev/internal/envelope"
)

// ChannelKey is the envelope context key holding the caller's notification target.
const ChannelKey = "notification_channel"

// Channel returns the notification target recorded on env.
func Channel(env *envelope.Envelope) string {
	return env.ContextString(ChannelKey)
}

func base(env *envelope.Envelope, event Event, title, body string, tags ...string) Message {
	return Message{
		Event:      event,
		Title:      title,
		Body:       body,
		Tags:       append([]string{"remotedev"}, tags...),
		EnvelopeID: env.ID,
		WorkItemID: env.Meta.WorkItemID,
	}
}

func label(env *envelope.Envelope) string {
	if title := strings.TrimSpace(env.Task.Title); title != "" {
		return title
	}
	return env.ID
}

// ClarificationNeeded reports a stage waiting on a human answer.
func ClarificationNeeded(env *envelope.Envelope, stage string) Message {
	msg := base(env, EventClarificationNeeded, "remotedev - Clarification Needed",
		fmt.Sprintf("%s (%s) needs clarification: %s\nResume with: remotedev clarify %s \"<answer>\"",
			label(env), stage, env.Task.ClarificationQuestion, env.ID),
		"clarification")
	msg.Priority = "high"
	return msg
}

// ApprovalNeeded reports a stage waiting on a human decision.
func ApprovalNeeded(env *envelope.Envelope, stage string) Message {
	msg := base(env, EventApprovalNeeded, "remotedev - Approval Needed",
		fmt.Sprintf("%s (%s) awaits approval: %s\nResume with: remotedev approve %s",
			label(env), stage, env.Task.ApprovalMessage, env.ID),
		"approval")
	msg.Priority = "high"
	return msg
}

// Failed reports a terminal failure.
func Failed(env *envelope.Envelope, stage string) Message {
	msg := base(env, EventEnvelopeFailed, "remotedev - Failed",
		fmt.Sprintf("%s failed at %s: %s", label(env), stage, env.Task.ErrorMessage),
		"failed")
	msg.Priority = "high"
	return msg
}

// Completed reports an envelope that left the last stage.
func Completed(env *envelope.Envelope) Message {
	return base(env, EventEnvelopeCompleted, "remotedev - Complete",
		fmt.Sprintf("%s completed all stages", label(env)), "completed")
}

// PRResolved reports a merged, closed or timed out pull request wait.
func PRResolved(env *envelope.Envelope, event Event, prNumber int, detail string) Message {
	title := "remotedev - PR Update"
	switch event {
	case EventPRMerged:
		title = "remotedev - PR Merged"
	case EventPRClosed:
		title = "remotedev - PR Closed"
	case EventPRTimeout:
		title = "remotedev - PR Wait Timed Out"
	}
	body := fmt.Sprintf("PR #%d for %s", prNumber, label(env))
	if detail = strings.TrimSpace(detail); detail != "" {
		body += ": " + detail
	}
	msg := base(env, event, title, body, "pr")
	if event == EventPRTimeout || event == EventPRClosed {
		msg.Priority = "high"
	}
	return msg
}

// Rework reports review feedback being sent back to its stage.
func Rework(env *envelope.Envelope, prNumber int, reviewer string) Message {
	return base(env, EventPRRework, "remotedev - Changes Requested",
		fmt.Sprintf("%s requested changes on PR #%d for %s", reviewer, prNumber, label(env)), "pr", "rework")
}

// WorkItemTransition reports a work item moving between workflow states.
func WorkItemTransition(workItemID, title, from, to, event string) Message {
	return Message{
		Event:      EventWorkItemTransition,
		Title:      "remotedev - Work Item Update",
		Body:       fmt.Sprintf("%s moved %s → %s via %s", title, from, to, event),
		Tags:       []string{"remotedev", "workflow"},
		WorkItemID: workItemID,
	}
}

// Test is sent by the operator to verify delivery.
func Test() Message {
	return Message{
		Event: EventTest,
		Title: "remotedev - Test Notification",
		Body:  "Notifications are configured correctly.",
		Tags:  []string{"remotedev", "test"},
	}
}
