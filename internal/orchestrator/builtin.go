package orchestrator

// DefaultWorkflow names the built-in product development workflow.
const DefaultWorkflow = "product_dev_v1"

func enqueue(agents ...string) []Action {
	actions := make([]Action, len(agents))
	for i, agent := range agents {
		actions[i] = Action{EnqueueAgent: agent}
	}
	return actions
}

func to(state string) Transition { return Transition{To: state} }

// ProductDevV1 returns the built-in product development workflow. DESIGN waits
// for both the UX and architecture approvals; UXUI, ARCHITECT and RELEASE jobs
// emit no event on completion and rely on SubmitApproval.
func ProductDevV1() *Definition {
	return &Definition{
		Name:         DefaultWorkflow,
		Description:  "Requirements through monitoring with design and release approvals",
		InitialState: "REQUIREMENTS",
		States: map[string]State{
			"REQUIREMENTS": {
				OnEnter: enqueue("REQUIREMENT"),
				Transitions: map[string]Transition{
					"REQUIREMENTS_COMPLETED":      to("PLANNING"),
					"REQUIREMENTS_NEEDS_MORE_INFO": to("REQUIREMENTS"),
				},
			},
			"PLANNING": {
				OnEnter: enqueue("PLAN"),
				Transitions: map[string]Transition{
					"PLAN_COMPLETED":     to("DESIGN"),
					"PLAN_SCOPE_CHANGED": to("REQUIREMENTS"),
				},
			},
			"DESIGN": {
				OnEnter: enqueue("UXUI", "ARCHITECT"),
				Transitions: map[string]Transition{
					"UX_APPROVED":     to("DESIGN"),
					"ARCH_APPROVED":   to("DESIGN"),
					"UX_ARCH_DONE":    to("CODING"),
					"DESIGN_REJECTED": to("REQUIREMENTS"),
				},
				RequiresApprovals: []string{"UX_APPROVED", "ARCH_APPROVED"},
			},
			"CODING": {
				OnEnter: enqueue("CODE"),
				Transitions: map[string]Transition{
					"CODE_READY_FOR_QA":   to("QA"),
					"CODE_NEEDS_REFACTOR": to("REFACTOR"),
				},
			},
			"REFACTOR": {
				OnEnter:     enqueue("REFACTORING"),
				Transitions: map[string]Transition{"REFACTOR_DONE": to("CODING")},
			},
			"QA": {
				OnEnter: enqueue("TESTQA"),
				Transitions: map[string]Transition{
					"QA_PASSED":       to("DOC"),
					"QA_FAILED":       to("CODING"),
					"QA_SCOPE_CHANGE": to("REQUIREMENTS"),
				},
			},
			"DOC": {
				OnEnter:     enqueue("DOC"),
				Transitions: map[string]Transition{"DOC_DONE": to("RELEASE")},
			},
			"RELEASE": {
				OnEnter: enqueue("RELEASE"),
				Transitions: map[string]Transition{
					"RELEASED":         to("MONITORING"),
					"RELEASE_REJECTED": to("QA"),
				},
			},
			"MONITORING": {
				OnEnter: enqueue("MONITORING"),
				Transitions: map[string]Transition{
					"INCIDENT_HOTFIX":     to("CODING"),
					"NEW_FEATURE_IDEA":    to("REQUIREMENTS"),
					"MONITORING_COMPLETE": to("DONE"),
				},
			},
			"DONE": {},
		},
		StageEvents: map[string]string{
			"REQUIREMENT": "REQUIREMENTS_COMPLETED",
			"PLAN":        "PLAN_COMPLETED",
			"CODE":        "CODE_READY_FOR_QA",
			"REFACTORING": "REFACTOR_DONE",
			"TESTQA":      "QA_PASSED",
			"DOC":         "DOC_DONE",
			"MONITORING":  "MONITORING_COMPLETE",
		},
	}
}
