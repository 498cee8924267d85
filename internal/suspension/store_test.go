package suspension_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"remotedev/internal/envelope"
	"remotedev/internal/queue"
	"remotedev/internal/services"
	"remotedev/internal/store"
	"remotedev/internal/suspension"
)

type fixture struct {
	st      store.Store
	queue   *queue.Queue
	archive *queue.Archive
	susp    *suspension.Store
}

func newFixture() fixture {
	st := store.NewMemory()
	q := queue.New(st, nil)
	archive := queue.NewArchive(st)
	return fixture{st: st, queue: q, archive: archive, susp: suspension.New(st, q, archive, nil)}
}

func suspended(t *testing.T, f fixture, kind suspension.Kind, stage string) *envelope.Envelope {
	t.Helper()
	env := envelope.New(envelope.Options{Title: "Todo", Prompt: "Build a todo app", Stage: stage})
	env.SetStageOutput("requirement", "draft")
	switch kind {
	case suspension.KindClarification:
		env.Task.NeedsClarification = true
		env.Task.ClarificationQuestion = "Which platform?"
	case suspension.KindApproval:
		env.Task.NeedsApproval = true
		env.Task.ApprovalMessage = "Ship it?"
	}
	if err := f.susp.Suspend(context.Background(), kind, env); err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	return env
}

func TestResumeClarificationRequeuesToSameStage(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	env := suspended(t, f, suspension.KindClarification, "REQUIREMENT")

	resumed, err := f.susp.ResumeClarification(ctx, env.ID, "Web only")
	if err != nil {
		t.Fatalf("ResumeClarification: %v", err)
	}
	if !strings.HasSuffix(resumed.Task.OriginalPrompt, "\n\n[User clarification]: Web only") {
		t.Fatalf("unexpected prompt %q", resumed.Task.OriginalPrompt)
	}
	if resumed.Task.NeedsClarification || resumed.Task.ClarificationQuestion != "" {
		t.Fatalf("clarification flags not cleared: %+v", resumed.Task)
	}
	last := resumed.History[len(resumed.History)-1]
	if last.Stage != suspension.StageClarification {
		t.Fatalf("unexpected history stage %q", last.Stage)
	}

	got, err := f.queue.Pop(ctx, "REQUIREMENT")
	if err != nil || got == nil || got.ID != env.ID {
		t.Fatalf("expected envelope back on REQUIREMENT, got %+v (%v)", got, err)
	}
	if got.Data["requirement"] != "draft" {
		t.Fatalf("data must survive suspension, got %v", got.Data)
	}
	if n, _ := f.susp.Count(ctx, suspension.KindClarification); n != 0 {
		t.Fatalf("expected clarification store empty, got %d", n)
	}
}

func TestResumeTwiceReportsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	env := suspended(t, f, suspension.KindClarification, "PLAN")

	if _, err := f.susp.ResumeClarification(ctx, env.ID, "answer"); err != nil {
		t.Fatalf("first resume: %v", err)
	}
	_, err := f.susp.ResumeClarification(ctx, env.ID, "answer")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second resume, got %v", err)
	}
	if n, _ := f.queue.Len(ctx, "PLAN"); n != 1 {
		t.Fatalf("expected exactly one queued copy, got %d", n)
	}
}

func TestResumeClarificationRejectsEmptyResponse(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	env := suspended(t, f, suspension.KindClarification, "PLAN")

	if _, err := f.susp.ResumeClarification(ctx, env.ID, "  "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.susp.Get(ctx, suspension.KindClarification, env.ID); err != nil {
		t.Fatalf("envelope must remain suspended: %v", err)
	}
}

func TestResumeApprovalGranted(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	env := suspended(t, f, suspension.KindApproval, "RELEASE")

	resumed, err := f.susp.ResumeApproval(ctx, env.ID, true, "looks good")
	if err != nil {
		t.Fatalf("ResumeApproval: %v", err)
	}
	if !resumed.Task.ApprovalGranted || resumed.Task.NeedsApproval || resumed.Task.ApprovalMessage != "" {
		t.Fatalf("unexpected task after approval: %+v", resumed.Task)
	}
	last := resumed.History[len(resumed.History)-1]
	if last.Stage != suspension.StageApproval || last.Message != "Approved: looks good" {
		t.Fatalf("unexpected history %+v", last)
	}
	if n, _ := f.queue.Len(ctx, "RELEASE"); n != 1 {
		t.Fatalf("expected envelope on RELEASE queue, depth %d", n)
	}
}

func TestResumeApprovalRejectedFailsTerminally(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	env := suspended(t, f, suspension.KindApproval, "RELEASE")

	resumed, err := f.susp.ResumeApproval(ctx, env.ID, false, "not ready")
	if err != nil {
		t.Fatalf("ResumeApproval: %v", err)
	}
	if resumed.Task.Status != envelope.StatusFailed || !resumed.Task.HasError {
		t.Fatalf("expected FAILED, got %+v", resumed.Task)
	}
	if n, _ := f.queue.Len(ctx, "RELEASE"); n != 0 {
		t.Fatalf("rejected envelope must not be requeued, depth %d", n)
	}
	archived, err := f.archive.Get(ctx, env.ID)
	if err != nil {
		t.Fatalf("expected archived envelope: %v", err)
	}
	if archived.Task.ErrorMessage != "Approval rejected: not ready" {
		t.Fatalf("unexpected error message %q", archived.Task.ErrorMessage)
	}
}

func TestListReturnsSuspendedEnvelopes(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	suspended(t, f, suspension.KindClarification, "PLAN")
	suspended(t, f, suspension.KindClarification, "CODE")
	suspended(t, f, suspension.KindApproval, "RELEASE")

	clar, err := f.susp.List(ctx, suspension.KindClarification)
	if err != nil || len(clar) != 2 {
		t.Fatalf("List clarification = %d, %v; want 2", len(clar), err)
	}
	appr, err := f.susp.List(ctx, suspension.KindApproval)
	if err != nil || len(appr) != 1 {
		t.Fatalf("List approval = %d, %v; want 1", len(appr), err)
	}
	if _, err := f.susp.Get(ctx, suspension.KindApproval, "evt_missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResumeKeepsUndecodableEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	key := suspension.Key(suspension.KindClarification, "evt_corrupt")
	if err := f.st.Set(ctx, key, []byte("{not json")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	_, err := f.susp.ResumeClarification(ctx, "evt_corrupt", "web")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	raw, ok, err := f.st.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("entry dropped after failed resume: ok=%v err=%v", ok, err)
	}
	if string(raw) != "{not json" {
		t.Fatalf("entry changed: %q", raw)
	}
}
