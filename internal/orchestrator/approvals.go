package orchestrator

import (
	"sort"
	"strings"
)

// combinedEvents maps an exact set of required approvals to the event fired
// once all of them are recorded.
var combinedEvents = map[string]string{
	approvalSetKey([]string{"UX_APPROVED", "ARCH_APPROVED"}): "UX_ARCH_DONE",
}

// CombinedEvent returns the event synthesized for approvals.
func CombinedEvent(approvals []string) (string, bool) {
	event, ok := combinedEvents[approvalSetKey(approvals)]
	return event, ok
}

func approvalSetKey(approvals []string) string {
	set := make([]string, 0, len(approvals))
	seen := make(map[string]struct{}, len(approvals))
	for _, a := range approvals {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		set = append(set, a)
	}
	sort.Strings(set)
	return strings.Join(set, "+")
}

// ApprovalType names a human approval accepted by SubmitApproval.
type ApprovalType string

const (
	ApprovalUX      ApprovalType = "UX"
	ApprovalArch    ApprovalType = "ARCH"
	ApprovalRelease ApprovalType = "RELEASE"
)

type approvalEvents struct {
	approve string
	reject  string
}

var approvalTypes = map[ApprovalType]approvalEvents{
	ApprovalUX:      {approve: "UX_APPROVED", reject: "DESIGN_REJECTED"},
	ApprovalArch:    {approve: "ARCH_APPROVED", reject: "DESIGN_REJECTED"},
	ApprovalRelease: {approve: "RELEASED", reject: "RELEASE_REJECTED"},
}

// ApprovalTypes lists the accepted approval types.
func ApprovalTypes() []ApprovalType {
	return []ApprovalType{ApprovalUX, ApprovalArch, ApprovalRelease}
}

// pendingApprovals returns the required approvals not yet flagged.
func pendingApprovals(required []string, flags map[string]bool) []string {
	var pending []string
	for _, approval := range required {
		if !flags[approval] {
			pending = append(pending, approval)
		}
	}
	return pending
}
