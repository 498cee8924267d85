package prwait_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedev/internal/envelope"
	"remotedev/internal/notifications"
	"remotedev/internal/prwait"
	"remotedev/internal/queue"
	"remotedev/internal/services"
	"remotedev/internal/services/github"
	"remotedev/internal/store"
)

type fakeSource struct {
	mu          sync.Mutex
	states      map[int]github.State
	feedback    map[int]*github.ReviewFeedback
	stateErr    error
	stateCalls  int
	reviewCalls int
	// onState runs inside PullRequestState, standing in for work that
	// happens while the GitHub call is in flight.
	onState func(number int)
}

func (f *fakeSource) PullRequestState(_ context.Context, _, _ string, number int) (github.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if f.onState != nil {
		f.onState(number)
	}
	if f.stateErr != nil {
		return "", f.stateErr
	}
	if state, ok := f.states[number]; ok {
		return state, nil
	}
	return github.StateOpen, nil
}

func (f *fakeSource) PendingReviewFeedback(_ context.Context, _, _ string, number int) (*github.ReviewFeedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewCalls++
	return f.feedback[number], nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Notify(_ context.Context, _ string, msg notifications.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg.Event)
}

type harness struct {
	now      time.Time
	registry *prwait.Registry
	queue    *queue.Queue
	archive  *queue.Archive
	source   *fakeSource
	notifier *recordingNotifier
	poller   *prwait.Poller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	h := &harness{
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		registry: prwait.NewRegistry(st),
		queue:    queue.New(st, nil),
		archive:  queue.NewArchive(st),
		source:   &fakeSource{states: map[int]github.State{}, feedback: map[int]*github.ReviewFeedback{}},
		notifier: &recordingNotifier{},
	}
	h.poller = prwait.NewPoller(h.registry, h.queue, h.archive, h.source, prwait.Options{
		Interval: 10 * time.Millisecond,
		Timeout:  24 * time.Hour,
		Notifier: h.notifier,
		Now:      func() time.Time { return h.now },
	})
	return h
}

func (h *harness) register(t *testing.T, pr int, createdAt time.Time) *envelope.Envelope {
	t.Helper()
	env := envelope.New(envelope.Options{Title: "Todo", Prompt: "Build a todo app", Stage: "CODE", Now: createdAt})
	env.Task.Status = envelope.StatusPendingPRClose
	require.NoError(t, h.registry.Register(context.Background(), prwait.Registration{
		EventID:   env.ID,
		PRNumber:  pr,
		RepoOwner: "acme",
		RepoName:  "app",
		AgentName: "CODE",
		NextAgent: "REFACTORING",
		Snapshot:  env,
		CreatedAt: createdAt,
	}))
	return env
}

func TestOpenPullRequestStaysPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	env := h.register(t, 1, h.now.Add(-time.Hour))

	result := h.poller.PollOnce(ctx)
	assert.Equal(t, 1, result.Open)

	count, err := h.registry.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	depth, _ := h.queue.Len(ctx, "REFACTORING")
	assert.Zero(t, depth)
	assert.Empty(t, h.notifier.events)

	reg, err := h.registry.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, h.now, reg.LastCheckedAt)
}

func TestMergedForwardsSnapshotOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	env := h.register(t, 2, h.now.Add(-time.Hour))
	h.source.states[2] = github.StateMerged

	result := h.poller.PollOnce(ctx)
	assert.Equal(t, 1, result.Merged)

	_, err := h.registry.Get(ctx, env.ID)
	assert.True(t, errors.Is(err, services.ErrNotFound))

	forwarded, err := h.queue.Pop(ctx, "REFACTORING")
	require.NoError(t, err)
	require.NotNil(t, forwarded)
	assert.Equal(t, env.ID, forwarded.ID)
	assert.Equal(t, envelope.StatusPRMerged, forwarded.Task.Status)
	assert.Equal(t, "REFACTORING", forwarded.Task.CurrentStage)
	assert.Equal(t, prwait.StagePRMerged, forwarded.History[len(forwarded.History)-1].Stage)

	// A second cycle must not fire the merged callback again.
	second := h.poller.PollOnce(ctx)
	assert.Zero(t, second.Checked)
	depth, _ := h.queue.Len(ctx, "REFACTORING")
	assert.Zero(t, depth)

	outcome, err := h.registry.Outcome(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, prwait.StatusMerged, outcome.Status)
	assert.Equal(t, []notifications.Event{notifications.EventPRMerged}, h.notifier.events)
}

func TestTimeoutNeverFiresMergedCallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	env := h.register(t, 3, h.now.Add(-25*time.Hour))
	h.source.states[3] = github.StateMerged

	result := h.poller.PollOnce(ctx)
	assert.Equal(t, 1, result.TimedOut)
	assert.Zero(t, h.source.stateCalls, "timed out waits must not query GitHub")

	depth, _ := h.queue.Len(ctx, "REFACTORING")
	assert.Zero(t, depth)
	count, _ := h.registry.Count(ctx)
	assert.Zero(t, count)

	outcome, err := h.registry.Outcome(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, prwait.StatusTimeout, outcome.Status)

	archived, err := h.archive.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, envelope.StatusFailed, archived.Task.Status)
	assert.Equal(t, prwait.StagePRTimeout, archived.History[len(archived.History)-1].Stage)
}

func TestClosedWithoutMergeFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	env := h.register(t, 4, h.now.Add(-time.Hour))
	h.source.states[4] = github.StateClosed

	result := h.poller.PollOnce(ctx)
	assert.Equal(t, 1, result.Closed)

	outcome, err := h.registry.Outcome(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, prwait.StatusClosed, outcome.Status)
	assert.Equal(t, []notifications.Event{notifications.EventPRClosed}, h.notifier.events)
}

func TestChangesRequestedQueuesReworkAndKeepsRegistration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	env := h.register(t, 5, h.now.Add(-time.Hour))
	h.source.feedback[5] = &github.ReviewFeedback{
		ReviewID: 77,
		Reviewer: "bob",
		Body:     "please add tests",
		Comments: []github.InlineComment{{Path: "main.go", Line: 3, Body: "nil check"}},
	}
	h.source.states[5] = github.StateMerged

	result := h.poller.PollOnce(ctx)
	assert.Equal(t, 1, result.Reworked)
	assert.Zero(t, h.source.stateCalls, "merge check is skipped when rework is pending")

	rework, err := h.queue.Pop(ctx, "CODE")
	require.NoError(t, err)
	require.NotNil(t, rework)
	assert.True(t, rework.Task.IsRework)
	assert.Equal(t, envelope.StatusRework, rework.Task.Status)
	assert.Contains(t, rework.Task.ReworkFeedback, "## PR #5 review feedback")
	assert.Contains(t, rework.Task.ReworkInstructions, "**main.go:3**\nnil check")
	assert.Equal(t, "CODE", rework.Context["rework_agent"])

	reg, err := h.registry.Get(ctx, env.ID)
	require.NoError(t, err, "registration must remain after rework")
	assert.Equal(t, int64(77), reg.ActionedReviewID)

	// The same review is not actioned twice; the merge check runs instead.
	second := h.poller.PollOnce(ctx)
	assert.Equal(t, 1, second.Merged)
	depth, _ := h.queue.Len(ctx, "CODE")
	assert.Zero(t, depth)
}

func TestClientErrorsAreRetriedNextCycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, 6, h.now.Add(-time.Hour))
	h.register(t, 7, h.now.Add(-time.Hour))
	h.source.stateErr = services.Wrap(services.ErrExternalService, "github", "get", "boom", nil)

	result := h.poller.PollOnce(ctx)
	assert.Equal(t, 2, result.Errors)
	count, _ := h.registry.Count(ctx)
	assert.Equal(t, 2, count)
	assert.Error(t, h.poller.Status(ctx).LastErr)

	h.source.stateErr = nil
	h.source.states[6] = github.StateMerged
	result = h.poller.PollOnce(ctx)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 1, result.Open)
}

func TestRegisterValidatesAndReplaces(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	err := h.registry.Register(ctx, prwait.Registration{EventID: "evt_1"})
	assert.True(t, errors.Is(err, services.ErrValidation))

	env := h.register(t, 8, h.now)
	reg, err := h.registry.Get(ctx, env.ID)
	require.NoError(t, err)
	reg.PRNumber = 9
	require.NoError(t, h.registry.Register(ctx, reg))

	all, err := h.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 9, all[0].PRNumber)
}

func TestRegisterSamePRKeepsActionedReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	env := h.register(t, 8, h.now)
	reg, err := h.registry.Get(ctx, env.ID)
	require.NoError(t, err)
	reg.ActionedReviewID = 41
	updated, err := h.registry.Update(ctx, &reg)
	require.NoError(t, err)
	require.True(t, updated)

	fresh := reg
	fresh.ActionedReviewID = 0
	require.NoError(t, h.registry.Register(ctx, fresh))
	got, err := h.registry.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(41), got.ActionedReviewID)

	fresh.PRNumber = 9
	require.NoError(t, h.registry.Register(ctx, fresh))
	got, err = h.registry.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ActionedReviewID)
}

func TestReRegistrationDuringPollIsKept(t *testing.T) {
	for _, state := range []github.State{github.StateOpen, github.StateMerged, github.StateClosed} {
		t.Run(string(state), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			env := h.register(t, 5, h.now.Add(-time.Hour))
			h.source.states[5] = state

			replacement := prwait.Registration{
				EventID:   env.ID,
				PRNumber:  6,
				RepoOwner: "acme",
				RepoName:  "app",
				AgentName: "CODE",
				NextAgent: "REFACTORING",
				Snapshot:  env,
				CreatedAt: h.now,
			}
			h.source.onState = func(number int) {
				if number == 5 {
					require.NoError(t, h.registry.Register(ctx, replacement))
				}
			}

			result := h.poller.PollOnce(ctx)
			assert.Equal(t, 1, result.Superseded)
			assert.Zero(t, result.Merged+result.Closed+result.Open)

			reg, err := h.registry.Get(ctx, env.ID)
			require.NoError(t, err, "replacement registration must survive the poll")
			assert.Equal(t, 6, reg.PRNumber)
			assert.True(t, reg.LastCheckedAt.IsZero())
			depth, _ := h.queue.Len(ctx, "REFACTORING")
			assert.Zero(t, depth, "stale merge must not forward the envelope")
			_, err = h.registry.Outcome(ctx, env.ID)
			assert.True(t, errors.Is(err, services.ErrNotFound))
		})
	}
}

func TestReworkSkipsSupersededRegistration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	env := h.register(t, 5, h.now.Add(-time.Hour))
	stale, err := h.registry.Get(ctx, env.ID)
	require.NoError(t, err)

	fresh := stale
	fresh.PRNumber = 6
	require.NoError(t, h.registry.Register(ctx, fresh))

	stale.ActionedReviewID = 77
	updated, err := h.registry.Update(ctx, &stale)
	require.NoError(t, err)
	assert.False(t, updated)

	got, err := h.registry.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.PRNumber)
	assert.Zero(t, got.ActionedReviewID)
}

func TestFormatFeedback(t *testing.T) {
	out := prwait.FormatFeedback(12, &github.ReviewFeedback{
		Reviewer: "ann",
		Body:     "needs work",
		Comments: []github.InlineComment{{Path: "", Line: 0, Body: "general"}},
	})
	assert.True(t, strings.HasPrefix(out, "## PR #12 review feedback\n- Reviewer: ann\n- Status: CHANGES_REQUESTED"))
	assert.Contains(t, out, "### Review\nneeds work")
	assert.Contains(t, out, "**unknown:?**\ngeneral")
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.poller.Start(ctx))
	assert.Error(t, h.poller.Start(ctx))
	assert.True(t, h.poller.Status(ctx).Running)
	h.poller.Stop(time.Second)
	assert.False(t, h.poller.Status(ctx).Running)
}
