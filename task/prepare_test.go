package task_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

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

func TestPrepare_ZeroChildrenAndNoInit_ConfigurationError(t *testing.T) {
	s := newTestStore(t)
	self := task.ParentRef{ID: "root-1"}

	_, err := task.Prepare(context.Background(), s, self, task.Config{Name: "chain"}, "chain")
	var taskErr *queueerr.TaskError
	if !errors.As(err, &taskErr) || taskErr.Kind != queueerr.KindConfiguration {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestPrepare_InitProducesChildren(t *testing.T) {
	s := newTestStore(t)
	self := task.ParentRef{ID: "root-1"}

	init := func(args []any) ([]task.Child, error) {
		return []task.Child{
			demoleaf.New(nil, args...).WithPool("default"),
		}, nil
	}

	result, err := task.Prepare(context.Background(), s, self, task.Config{Init: init, Args: []any{"x"}, Pool: "default"}, "chain")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if len(result.ChildIDs) != 1 {
		t.Fatalf("expected 1 child id, got %d", len(result.ChildIDs))
	}
	if result.Total != 1 {
		t.Errorf("expected total 1 (one leaf unit), got %d", result.Total)
	}

	child, err := s.GetTask(context.Background(), result.ChildIDs[0])
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if child == nil {
		t.Fatal("expected the init-produced child to be persisted")
	}
	if child.Parent != "root-1" {
		t.Errorf("expected the child linked to its parent, got parent=%q", child.Parent)
	}
}

func TestPrepare_InitError_PropagatesWrapped(t *testing.T) {
	s := newTestStore(t)
	self := task.ParentRef{ID: "root-1"}
	boom := errors.New("init boom")

	init := func(args []any) ([]task.Child, error) { return nil, boom }

	_, err := task.Prepare(context.Background(), s, self, task.Config{Init: init}, "chain")
	if !errors.Is(err, boom) {
		t.Fatalf("expected the init error to be wrapped and unwrappable, got %v", err)
	}
}

func TestPrepare_ChildPrepareError_PropagatesWrapped(t *testing.T) {
	s := newTestStore(t)
	self := task.ParentRef{ID: "root-1"}

	failing := failingChild{err: errors.New("child prepare boom")}
	_, err := task.Prepare(context.Background(), s, self, task.Config{Children: []task.Child{failing}}, "chain")
	if !errors.Is(err, failing.err) {
		t.Fatalf("expected the child's prepare error to be wrapped and unwrappable, got %v", err)
	}
}

type failingChild struct{ err error }

func (f failingChild) Prepare(ctx context.Context, s *store.Store, parent task.ParentRef) (string, int, error) {
	return "", 0, f.err
}
