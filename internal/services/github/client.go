package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"remotedev/internal/config"
	"remotedev/internal/services"
)

const userAgent = "remotedev/0.1"

// HTTPDoer describes the HTTP client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient injects a custom HTTP client (primarily for tests).
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// Client talks to the GitHub REST API.
type Client struct {
	baseURL string
	token   string
	http    HTTPDoer
}

// New constructs a client for baseURL authenticated with token.
func New(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a client from the [github] section.
func NewFromConfig(cfg *config.Config, opts ...Option) *Client {
	return New(cfg.GitHub.APIURL, cfg.GitHub.Token, time.Duration(cfg.GitHub.RequestTimeout)*time.Second, opts...)
}

// Configured reports whether a token is available.
func (c *Client) Configured() bool {
	return c != nil && c.token != ""
}

// Viewer returns the login the token authenticates as.
func (c *Client) Viewer(ctx context.Context) (string, error) {
	var u user
	if err := c.do(ctx, http.MethodGet, "/user", nil, &u, http.StatusOK); err != nil {
		return "", err
	}
	return u.Login, nil
}

// PullRequest fetches one pull request.
func (c *Client) PullRequest(ctx context.Context, owner, repo string, number int) (PullRequest, error) {
	var pr PullRequest
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number), nil, &pr, http.StatusOK)
	return pr, err
}

// PullRequestState reports whether the pull request is open, closed or merged.
func (c *Client) PullRequestState(ctx context.Context, owner, repo string, number int) (State, error) {
	pr, err := c.PullRequest(ctx, owner, repo, number)
	if err != nil {
		return "", err
	}
	return pr.Status(), nil
}

// Reviews lists submitted reviews in submission order.
func (c *Client) Reviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	var reviews []Review
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews?per_page=100", owner, repo, number), nil, &reviews, http.StatusOK)
	return reviews, err
}

// ReviewComments lists inline review comments.
func (c *Client) ReviewComments(ctx context.Context, owner, repo string, number int) ([]ReviewComment, error) {
	var comments []ReviewComment
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d/comments?per_page=100", owner, repo, number), nil, &comments, http.StatusOK)
	return comments, err
}

// PendingReviewFeedback returns the most recent CHANGES_REQUESTED review with
// its inline comments, or nil when no review requests changes.
func (c *Client) PendingReviewFeedback(ctx context.Context, owner, repo string, number int) (*ReviewFeedback, error) {
	reviews, err := c.Reviews(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	latest := latestChangesRequested(reviews)
	if latest == nil {
		return nil, nil
	}
	comments, err := c.ReviewComments(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	feedback := &ReviewFeedback{
		ReviewID:    latest.ID,
		Reviewer:    latest.User.Login,
		Body:        strings.TrimSpace(latest.Body),
		SubmittedAt: latest.SubmittedAt,
	}
	for _, comment := range comments {
		if comment.ReviewID != latest.ID {
			continue
		}
		line := comment.Line
		if line == 0 {
			line = comment.OriginalLine
		}
		feedback.Comments = append(feedback.Comments, InlineComment{Path: comment.Path, Line: line, Body: strings.TrimSpace(comment.Body)})
	}
	return feedback, nil
}

func latestChangesRequested(reviews []Review) *Review {
	var candidates []Review
	for _, review := range reviews {
		if strings.EqualFold(review.State, ReviewChangesRequested) {
			candidates = append(candidates, review)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].SubmittedAt.Before(candidates[j].SubmittedAt)
	})
	latest := candidates[len(candidates)-1]
	return &latest
}

// CreatePullRequest opens a pull request. When one already exists for the
// head branch, the existing open pull request is returned instead.
func (c *Client) CreatePullRequest(ctx context.Context, req NewPullRequest) (PullRequest, error) {
	var pr PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls", req.Owner, req.Repo)
	err := c.do(ctx, http.MethodPost, path, req, &pr, http.StatusCreated)
	if err == nil {
		return pr, nil
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnprocessableEntity {
		return PullRequest{}, err
	}
	existing, lookupErr := c.findOpenPullRequest(ctx, req.Owner, req.Repo, req.Head)
	if lookupErr != nil {
		return PullRequest{}, lookupErr
	}
	if existing == nil {
		return PullRequest{}, err
	}
	return *existing, nil
}

func (c *Client) findOpenPullRequest(ctx context.Context, owner, repo, head string) (*PullRequest, error) {
	query := url.Values{}
	query.Set("state", "open")
	query.Set("head", owner+":"+head)
	var prs []PullRequest
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls?%s", owner, repo, query.Encode()), nil, &prs, http.StatusOK); err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}

// AddComment posts an issue comment on the pull request conversation.
func (c *Client) AddComment(ctx context.Context, owner, repo string, number int, body string) error {
	payload := map[string]string{"body": body}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number), payload, nil, http.StatusCreated)
}

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github returned %d", e.Code)
	}
	return fmt.Sprintf("github returned %d: %s", e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any, want int) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return services.Wrap(services.ErrValidation, "github", method+" "+path, "encode request", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return services.Wrap(services.ErrValidation, "github", method+" "+path, "build request", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrExternalTimeout, "github", method+" "+path, "request timed out", err)
		}
		return services.Wrap(services.ErrExternalService, "github", method+" "+path, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{Code: resp.StatusCode, Message: githubMessage(snippet)}
		marker := services.ErrExternalService
		if resp.StatusCode == http.StatusNotFound {
			marker = services.ErrNotFound
		}
		return services.Wrap(marker, "github", method+" "+path, "unexpected status", statusErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrExternalService, "github", method+" "+path, "decode response", err)
	}
	return nil
}

func githubMessage(raw []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(raw))
}
