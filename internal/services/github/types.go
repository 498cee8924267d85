package github

import "time"

// State is the coarse pull request status the poller acts on.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
	StateMerged State = "merged"
)

// ReviewChangesRequested is the review state that triggers rework.
const ReviewChangesRequested = "CHANGES_REQUESTED"

// PullRequest is the subset of the pull request resource the pipeline reads.
type PullRequest struct {
	Number  int    `json:"number"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
	HTMLURL string `json:"html_url"`
	Title   string `json:"title"`
	Head    Ref    `json:"head"`
	Base    Ref    `json:"base"`
}

// Ref names a branch on either side of a pull request.
type Ref struct {
	Ref string `json:"ref"`
}

// Status collapses the open/closed/merged fields into a State.
func (p PullRequest) Status() State {
	switch {
	case p.Merged:
		return StateMerged
	case p.State == "closed":
		return StateClosed
	default:
		return StateOpen
	}
}

// NewPullRequest describes a pull request to open.
type NewPullRequest struct {
	Owner string `json:"-"`
	Repo  string `json:"-"`
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body,omitempty"`
}

type user struct {
	Login string `json:"login"`
}

// Review is a submitted pull request review.
type Review struct {
	ID          int64     `json:"id"`
	User        user      `json:"user"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ReviewComment is an inline comment attached to a review.
type ReviewComment struct {
	ID           int64  `json:"id"`
	ReviewID     int64  `json:"pull_request_review_id"`
	Path         string `json:"path"`
	Line         int    `json:"line"`
	OriginalLine int    `json:"original_line"`
	Body         string `json:"body"`
	User         user   `json:"user"`
}

// InlineComment is one file-anchored remark in ReviewFeedback.
type InlineComment struct {
	Path string
	Line int
	Body string
}

// ReviewFeedback is the pending "changes requested" review for a pull request.
type ReviewFeedback struct {
	ReviewID    int64
	Reviewer    string
	Body        string
	SubmittedAt time.Time
	Comments    []InlineComment
}
