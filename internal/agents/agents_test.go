package agents_test

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"remotedev/internal/agents"
	"remotedev/internal/config"
	"remotedev/internal/envelope"
	"remotedev/internal/services"
	"remotedev/internal/services/github"
	"remotedev/internal/stage"
)

type fakeExecutor struct {
	argv   []string
	stdin  []byte
	stdout []byte
	stderr []string
	err    error
	block  bool
}

func (f *fakeExecutor) Run(ctx context.Context, argv, _ []string, stdin []byte, onStderr func(string)) ([]byte, error) {
	f.argv = argv
	f.stdin = stdin
	for _, line := range f.stderr {
		onStderr(line)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.stdout, f.err
}

func testEnvelope() *envelope.Envelope {
	return envelope.New(envelope.Options{Title: "Todo", Prompt: "Build a todo app", Stage: "CODE"})
}

func TestCommandRoundTripsEnvelope(t *testing.T) {
	env := testEnvelope()
	reply := env.Clone()
	reply.SetStageOutput("CODE", map[string]any{"summary": "wrote main.go"})
	raw, _ := json.Marshal(reply)
	fake := &fakeExecutor{stdout: raw}

	cmd, err := agents.NewCommand("CODE", "TESTQA", config.Agent{Command: []string{"coder", "--fast"}}, agents.WithExecutor(fake))
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	out, err := cmd.Process(context.Background(), env)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if strings.Join(fake.argv, " ") != "coder --fast" {
		t.Fatalf("argv = %v", fake.argv)
	}
	var sent envelope.Envelope
	if err := json.Unmarshal(fake.stdin, &sent); err != nil || sent.ID != env.ID {
		t.Fatalf("stdin was not the envelope: %v", err)
	}
	if _, ok := out.StageOutput("CODE"); !ok {
		t.Fatalf("missing stage output: %+v", out.Data)
	}
	if cmd.NextStage() != "TESTQA" || cmd.DisplayName() != "Code Agent" {
		t.Fatalf("unexpected identity %s %s", cmd.NextStage(), cmd.DisplayName())
	}
}

func TestCommandFailureIncludesStderrTail(t *testing.T) {
	fake := &fakeExecutor{err: errors.New("exit status 2"), stderr: []string{"compiling", "syntax error at line 3"}}
	cmd, _ := agents.NewCommand("CODE", "", config.Agent{Command: []string{"coder"}}, agents.WithExecutor(fake))

	_, err := cmd.Process(context.Background(), testEnvelope())
	if !errors.Is(err, services.ErrHandler) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if !strings.Contains(err.Error(), "syntax error at line 3") {
		t.Fatalf("stderr tail missing from %v", err)
	}
}

func TestCommandTimeout(t *testing.T) {
	fake := &fakeExecutor{block: true}
	cmd, _ := agents.NewCommand("CODE", "", config.Agent{Command: []string{"coder"}, Timeout: 1}, agents.WithExecutor(fake))

	start := time.Now()
	_, err := cmd.Process(context.Background(), testEnvelope())
	if !errors.Is(err, services.ErrExternalTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout was not enforced")
	}
}

func TestCommandRejectsEmptyOrInvalidOutput(t *testing.T) {
	for name, stdout := range map[string]string{"empty": "  \n", "invalid": "not json"} {
		t.Run(name, func(t *testing.T) {
			fake := &fakeExecutor{stdout: []byte(stdout)}
			cmd, _ := agents.NewCommand("CODE", "", config.Agent{Command: []string{"coder"}}, agents.WithExecutor(fake))
			if _, err := cmd.Process(context.Background(), testEnvelope()); !errors.Is(err, services.ErrHandler) {
				t.Fatalf("expected handler error, got %v", err)
			}
		})
	}
}

func TestCommandRunsRealProcess(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	cmd, err := agents.NewCommand("DOC", "", config.Agent{Command: []string{"cat"}, Timeout: 10})
	if err != nil {
		t.Fatalf("NewCommand: %v", err)
	}
	env := testEnvelope()
	out, err := cmd.Process(context.Background(), env)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.ID != env.ID || out.Task.OriginalPrompt != env.Task.OriginalPrompt {
		t.Fatalf("unexpected echo: %+v", out.Task)
	}
	if health := cmd.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy, got %+v", health)
	}
}

func TestCommandHealthReportsMissingBinary(t *testing.T) {
	cmd, _ := agents.NewCommand("DOC", "", config.Agent{Command: []string{"/nonexistent/agent-binary"}})
	if health := cmd.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy")
	}
}

func TestNewCommandRequiresCommand(t *testing.T) {
	if _, err := agents.NewCommand("DOC", "", config.Agent{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRecordWritesPlaceholderOutput(t *testing.T) {
	rec := agents.NewRecord("REQUIREMENT", "PLAN")
	out, err := rec.Process(context.Background(), testEnvelope())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	value, ok := out.Data["requirement"].(map[string]any)
	if !ok {
		t.Fatalf("data.requirement = %#v", out.Data["requirement"])
	}
	if value["agent"] != "Requirement Agent" || value["prompt"] != "Build a todo app" {
		t.Fatalf("unexpected output %+v", value)
	}
	if !strings.Contains(value["summary"].(string), "Todo") {
		t.Fatalf("summary = %v", value["summary"])
	}
}

type fakePusher struct {
	branches []string
	err      error
}

func (f *fakePusher) PushBranch(_ context.Context, branch string) error {
	f.branches = append(f.branches, branch)
	return f.err
}

type fakeOpener struct {
	requests []github.NewPullRequest
}

func (f *fakeOpener) CreatePullRequest(_ context.Context, req github.NewPullRequest) (github.PullRequest, error) {
	f.requests = append(f.requests, req)
	return github.PullRequest{Number: 42, HTMLURL: "https://github.com/acme/todo/pull/42"}, nil
}

type branchHandler struct {
	stage.Handler
	branch string
}

func (b branchHandler) Process(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	out, err := b.Handler.Process(ctx, env)
	if err == nil && b.branch != "" {
		out.SetGit(envelope.GitBranch, b.branch)
	}
	return out, err
}

func TestPullRequestOpensAndMarksPending(t *testing.T) {
	pusher := &fakePusher{}
	opener := &fakeOpener{}
	inner := branchHandler{Handler: agents.NewRecord("CODE", "TESTQA"), branch: "feature/todo"}
	handler := agents.NewPullRequest(inner, pusher, opener, agents.PullRequestSettings{Owner: "acme", Repo: "todo"})

	out, err := handler.Process(context.Background(), testEnvelope())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(pusher.branches) != 1 || pusher.branches[0] != "feature/todo" {
		t.Fatalf("pushed = %v", pusher.branches)
	}
	req := opener.requests[0]
	if req.Base != "main" || req.Head != "feature/todo" || req.Owner != "acme" || req.Repo != "todo" {
		t.Fatalf("request = %+v", req)
	}
	if !strings.Contains(req.Body, "Build a todo app") {
		t.Fatalf("body = %q", req.Body)
	}
	if out.Task.Status != envelope.StatusPendingPRClose {
		t.Fatalf("status = %s", out.Task.Status)
	}
	if out.Task.GitContext[envelope.GitPRNumber] != 42 || out.GitString(envelope.GitRepoOwner) != "acme" {
		t.Fatalf("git context = %+v", out.Task.GitContext)
	}
}

func TestPullRequestSkipsWithoutBranch(t *testing.T) {
	pusher := &fakePusher{}
	handler := agents.NewPullRequest(agents.NewRecord("CODE", ""), pusher, &fakeOpener{}, agents.PullRequestSettings{Owner: "acme", Repo: "todo"})
	out, err := handler.Process(context.Background(), testEnvelope())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(pusher.branches) != 0 || out.Task.Status == envelope.StatusPendingPRClose {
		t.Fatal("no branch should mean no pull request")
	}
}

func TestPullRequestPushFailure(t *testing.T) {
	pusher := &fakePusher{err: services.ErrExternalService}
	inner := branchHandler{Handler: agents.NewRecord("CODE", ""), branch: "b"}
	handler := agents.NewPullRequest(inner, pusher, &fakeOpener{}, agents.PullRequestSettings{Owner: "acme", Repo: "todo"})
	if _, err := handler.Process(context.Background(), testEnvelope()); !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected push failure, got %v", err)
	}
}

func TestBuildUsesRecordForUnconfiguredStages(t *testing.T) {
	cfg := config.Default()
	registry, err := agents.Build(&cfg, agents.Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Join(registry.Stages(), ",") != strings.Join(cfg.Pipeline.Stages, ",") {
		t.Fatalf("stages = %v", registry.Stages())
	}
	handler, _ := registry.Get("REQUIREMENT")
	if _, ok := handler.(*agents.Record); !ok {
		t.Fatalf("REQUIREMENT handler = %T", handler)
	}
	if handler.NextStage() != "PLAN" {
		t.Fatalf("next = %q", handler.NextStage())
	}
}

func TestBuildWiresCommandsAndPullRequests(t *testing.T) {
	cfg := config.Default()
	cfg.Agents = map[string]config.Agent{
		"CODE": {Command: []string{"coder"}, Timeout: 60, OpenPullRequest: true},
		"DOC":  {Command: []string{"documenter"}, Timeout: 60},
	}
	if _, err := agents.Build(&cfg, agents.Deps{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error without git deps, got %v", err)
	}

	registry, err := agents.Build(&cfg, agents.Deps{Pusher: &fakePusher{}, Opener: &fakeOpener{}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	code, _ := registry.Get("CODE")
	if _, ok := code.(*agents.PullRequest); !ok {
		t.Fatalf("CODE handler = %T", code)
	}
	doc, _ := registry.Get("DOC")
	if _, ok := doc.(*agents.Command); !ok {
		t.Fatalf("DOC handler = %T", doc)
	}
}
