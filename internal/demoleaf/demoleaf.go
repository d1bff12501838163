// Package demoleaf is a minimal leaf task building block used to exercise
// chains and groups end-to-end in the queueworker CLI and in this module's
// own tests. A production leaf runner — one that dispatches to arbitrary
// external side effects — is out of scope for this engine; this package
// stands in for it with an in-process function registry so a single
// binary can submit and finish a composite without any other collaborator.
package demoleaf

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/johnwu5/idoit/command"
	"github.com/johnwu5/idoit/queueerr"
	"github.com/johnwu5/idoit/store"
	"github.com/johnwu5/idoit/task"
)

// DispatchName is the Record.Name leaves persist, routing activate commands
// to Handle via queue.Extend.
const DispatchName = "leaf"

// Func computes a leaf's result from its accumulated args (a chain feeds a
// preceding child's result into the next child's Args; a leaf with no
// predecessor sees whatever Args it was constructed with).
type Func func(args []any) (any, error)

var registry sync.Map // task id -> Func

// Leaf is a leaf task: no children, a single unit of progress, resolved
// synchronously against fn when it activates.
type Leaf struct {
	cfg  task.Config
	fn   Func
	args []any
}

// New builds a leaf that computes its result by calling fn against its args
// when activated. A nil fn echoes args back as the result, useful for
// wiring up a composite tree without caring about leaf behavior.
func New(fn Func, args ...any) *Leaf {
	return &Leaf{cfg: task.Config{Name: DispatchName}, fn: fn, args: args}
}

// WithPool sets the pool this leaf's activate command travels on; the
// result/error commands it emits go to its parent's pool.
func (l *Leaf) WithPool(pool string) *Leaf {
	l.cfg.Pool = pool
	return l
}

// WithRemoveDelay sets how long after finishing this leaf's record stays
// around before the janitor sweeps it.
func (l *Leaf) WithRemoveDelay(ms int64) *Leaf {
	l.cfg.RemoveDelay = ms
	return l
}

// Prepare implements task.Child: assign id/uid, persist the leaf's own
// record in the waiting state, and register fn so Handle can find it when
// the leaf's activate command is dispatched.
func (l *Leaf) Prepare(ctx context.Context, s *store.Store, parent task.ParentRef) (string, int, error) {
	id := task.NewID()
	uid := task.NewUID()

	rec := &store.Record{
		State:       store.StateWaiting,
		Args:        l.args,
		Total:       1,
		Pool:        l.cfg.Pool,
		Parent:      parent.ID,
		ParentPool:  parent.Pool,
		ParentUID:   parent.UID,
		RemoveDelay: l.cfg.RemoveDelay,
		Name:        DispatchName,
		UID:         uid,
	}
	if err := s.PutTask(ctx, id, rec); err != nil {
		return "", 0, fmt.Errorf("leaf: persist %s: %w", id, err)
	}
	if err := s.AddWaiting(ctx, id); err != nil {
		return "", 0, fmt.Errorf("leaf: mark waiting %s: %w", id, err)
	}
	if l.fn != nil {
		registry.Store(id, l.fn)
	}
	return id, 1, nil
}

// Handle resolves a leaf's activate command: runs its fn (or echoes args),
// transitions straight from waiting to finished, and reports the outcome
// to its parent, mirroring the terminal-transition shape of package chain's
// and package group's own handlers.
func Handle(ctx context.Context, s *store.Store, pool, canonical string, cmd command.Command) (task.Outcome, error) {
	rec, err := s.GetTask(ctx, cmd.To)
	if err != nil {
		return task.Outcome{}, err
	}
	if rec == nil || rec.UID != cmd.ToUID {
		return task.Outcome{}, nil
	}
	if cmd.Type != command.TypeActivate {
		return task.Outcome{}, fmt.Errorf("leaf: unhandled command type %q", cmd.Type)
	}
	if rec.State != store.StateWaiting {
		return task.Outcome{}, nil
	}

	id := cmd.To
	fn, _ := registry.LoadAndDelete(id)
	var result any
	var runErr error
	if f, ok := fn.(Func); ok && f != nil {
		result, runErr = f(rec.Args)
	} else {
		result = rec.Args
	}

	now, err := s.Now(ctx)
	if err != nil {
		return task.Outcome{}, err
	}

	exec := []store.Op{
		store.HSet(s.TaskKey(id), "state", mustJSON(store.StateFinished)),
		store.SRem(s.WaitingKey(), id),
		store.ZAdd(s.FinishedKey(), float64(now+rec.RemoveDelay), id),
	}
	outcome := task.Outcome{Terminal: true}

	if runErr != nil {
		exec = append(exec, store.HSet(s.TaskKey(id), "error", mustJSON(runErr.Error())))
		outcome.Err = queueerr.Leaf(id, runErr)
		if rec.HasParent() {
			parentCanon, err := command.Canonical(command.NewError(rec.Parent, rec.ParentUID, id, runErr.Error()))
			if err != nil {
				return task.Outcome{}, err
			}
			exec = append(exec, store.ZAdd(s.CommandsKey(rec.ParentPool), float64(now), parentCanon))
		}
	} else {
		exec = append(exec,
			store.HSet(s.TaskKey(id), "progress", mustJSON(1)),
			store.HSet(s.TaskKey(id), "result", mustJSON(result)),
		)
		outcome.Result = result
		if rec.HasParent() {
			parentCanon, err := command.Canonical(command.NewResult(rec.Parent, rec.ParentUID, id, result))
			if err != nil {
				return task.Outcome{}, err
			}
			exec = append(exec, store.ZAdd(s.CommandsKey(rec.ParentPool), float64(now), parentCanon))
		}
	}

	txn := store.Transaction{
		Validate: []store.Validate{store.Locked(s.CommandsLockedKey(pool), canonical)},
		Exec:     exec,
	}
	won, err := s.Eval(ctx, txn)
	if err != nil || !won {
		return task.Outcome{Won: won}, err
	}
	outcome.Won = true
	return outcome, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
