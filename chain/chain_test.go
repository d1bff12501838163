package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/johnwu5/idoit/command"
	"github.com/johnwu5/idoit/internal/demoleaf"
	"github.com/johnwu5/idoit/queueerr"
	"github.com/johnwu5/idoit/store"
	"github.com/johnwu5/idoit/task"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return store.New(client, "test:")
}

func TestPrepare_ZeroChildren_ConfigurationError(t *testing.T) {
	s := newTestStore(t)
	_, _, err := New().WithPool("default").Prepare(context.Background(), s, task.ParentRef{})
	var taskErr *queueerr.TaskError
	if !errors.As(err, &taskErr) || taskErr.Kind != queueerr.KindConfiguration {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestHandle_Activate_UIDFenceDropsStaleCommand(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _, err := New(demoleaf.New(nil, "x").WithPool("default")).WithPool("default").Prepare(ctx, s, task.ParentRef{})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	outcome, err := Handle(ctx, s, "default", "irrelevant", command.New(id, "not-the-real-uid", command.TypeActivate))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Won || outcome.Terminal {
		t.Errorf("expected a stale-UID command to be dropped silently, got %+v", outcome)
	}

	rec, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if rec.State != store.StateWaiting {
		t.Errorf("expected state unchanged by the dropped command, got %q", rec.State)
	}
}

func TestHandleActivate_SkipsEmissionForDeletedFirstChild(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, _, err := New(demoleaf.New(nil, "x").WithPool("default")).WithPool("default").Prepare(ctx, s, task.ParentRef{})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	rec, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if err := s.DeleteTask(ctx, rec.Children[0]); err != nil {
		t.Fatalf("delete child: %v", err)
	}

	canonical, err := command.Canonical(command.New(id, rec.UID, command.TypeActivate))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if err := s.EnqueueCommand(ctx, "default", canonical, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	locked, ok, err := s.ClaimCommand(ctx, "default")
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	outcome, err := Handle(ctx, s, "default", locked, command.New(id, rec.UID, command.TypeActivate))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !outcome.Won {
		t.Fatal("expected the activate transaction to win despite the missing child")
	}

	if _, ok, err := s.ClaimCommand(ctx, "default"); err != nil || ok {
		t.Errorf("expected no activate command emitted for the deleted first child, ok=%v err=%v", ok, err)
	}
}

func TestHandleResult_UnknownChildSourceErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &store.Record{State: store.StateIdle, Children: []string{"child-a"}, UID: "uid-1", Pool: "default"}
	if err := s.PutTask(ctx, "parent-1", rec); err != nil {
		t.Fatalf("put task: %v", err)
	}

	cmd := command.NewResult("parent-1", "uid-1", "not-a-child", "result")
	_, err := Handle(ctx, s, "default", "canon", cmd)
	if err == nil {
		t.Fatal("expected an error for a result reported by an unrecognized child")
	}
}

func TestHandleResult_AbsentNextChild_StillAdvancesWithoutActivating(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &store.Record{
		State:    store.StateIdle,
		Children: []string{"child-a", "child-b"},
		UID:      "uid-1",
		Pool:     "default",
	}
	if err := s.PutTask(ctx, "parent-1", rec); err != nil {
		t.Fatalf("put task: %v", err)
	}
	// child-b deliberately never persisted: the "absent next child" case.

	canonical, err := command.Canonical(command.NewResult("parent-1", "uid-1", "child-a", "done"))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if err := s.EnqueueCommand(ctx, "default", canonical, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	locked, ok, err := s.ClaimCommand(ctx, "default")
	if err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}

	outcome, err := Handle(ctx, s, "default", locked, command.NewResult("parent-1", "uid-1", "child-a", "done"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !outcome.Won || outcome.Terminal {
		t.Fatalf("expected a winning, non-terminal outcome, got %+v", outcome)
	}

	if _, ok, err := s.ClaimCommand(ctx, "default"); err != nil || ok {
		t.Errorf("expected no activate enqueued for the absent next child, ok=%v err=%v", ok, err)
	}

	got, err := s.GetTask(ctx, "parent-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.ChildrenFinished != 1 {
		t.Errorf("expected children_finished incremented to 1, got %d", got.ChildrenFinished)
	}
	if got.State != store.StateIdle {
		t.Errorf("expected the chain to remain idle (not spuriously finished), got %q", got.State)
	}
}
