package envelope

// Keys of Task.GitContext understood by the pipeline. A stage that opened a
// pull request sets GitPRNumber, GitRepoOwner and GitRepoName; GitNextAgent
// overrides the stage a merged pull request resumes at.
const (
	GitBranch    = "branch"
	GitPRNumber  = "pr_number"
	GitPRURL     = "pr_url"
	GitRepoOwner = "repo_owner"
	GitRepoName  = "repo_name"
	GitNextAgent = "next_agent"
)

// GitString returns a string value from Task.GitContext.
func (e *Envelope) GitString(key string) string {
	if e == nil || e.Task.GitContext == nil {
		return ""
	}
	switch v := e.Task.GitContext[key].(type) {
	case string:
		return v
	default:
		return ""
	}
}

// SetGit records a Task.GitContext value.
func (e *Envelope) SetGit(key string, value any) {
	if e.Task.GitContext == nil {
		e.Task.GitContext = map[string]any{}
	}
	e.Task.GitContext[key] = value
}
