// Package group implements the parallel composite: fan out activate to
// every child in one atomic burst, gather results as children report in
// any order, finish once every child has reported.
package group

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/johnwu5/idoit/command"
	"github.com/johnwu5/idoit/queueerr"
	"github.com/johnwu5/idoit/store"
	"github.com/johnwu5/idoit/task"
)

// DispatchName is the Record.Name value groups persist, used by package
// queue to route commands addressed to a group to this package's handlers.
const DispatchName = "group"

// Group is a parallel composite task, constructed via New or NewWithInit
// and materialized into the store via Prepare.
type Group struct {
	uid string
	cfg task.Config
}

// New builds a group from a fixed sequence of children.
func New(children ...task.Child) *Group {
	return &Group{cfg: task.Config{Children: children, Name: DispatchName}}
}

// NewWithInit builds a group whose children are produced by init when
// Prepare runs.
func NewWithInit(init task.InitFunc, args ...any) *Group {
	return &Group{cfg: task.Config{Init: init, Args: args, Name: DispatchName}}
}

// WithPool sets the pool this group is dispatched on.
func (g *Group) WithPool(pool string) *Group {
	g.cfg.Pool = pool
	return g
}

// WithRemoveDelay sets how long after finishing this group's record stays
// around before the janitor sweeps it.
func (g *Group) WithRemoveDelay(ms int64) *Group {
	g.cfg.RemoveDelay = ms
	return g
}

// WithUserData attaches opaque caller data to the persisted record.
func (g *Group) WithUserData(data any) *Group {
	g.cfg.UserData = data
	return g
}

// Prepare implements task.Child, identical in shape to Chain's: resolve
// children, fail on zero children, prepare each child, persist this
// group's own record — with Result initialized as an empty sequence, the
// one difference from Chain's prepare.
func (g *Group) Prepare(ctx context.Context, s *store.Store, parent task.ParentRef) (string, int, error) {
	id := task.NewID()
	g.uid = task.NewUID()
	self := task.ParentRef{ID: id, Pool: g.cfg.Pool, UID: g.uid}

	result, err := task.Prepare(ctx, s, self, g.cfg, DispatchName)
	if err != nil {
		return "", 0, err
	}

	rec := &store.Record{
		State:            store.StateWaiting,
		Args:             []any{},
		Children:         result.ChildIDs,
		ChildrenFinished: 0,
		Total:            result.Total,
		Progress:         0,
		Result:           []any{},
		Pool:             g.cfg.Pool,
		Parent:           parent.ID,
		ParentPool:       parent.Pool,
		ParentUID:        parent.UID,
		RemoveDelay:      g.cfg.RemoveDelay,
		Name:             DispatchName,
		UID:              g.uid,
		UserData:         g.cfg.UserData,
	}
	if err := s.PutTask(ctx, id, rec); err != nil {
		return "", 0, fmt.Errorf("group: persist %s: %w", id, err)
	}
	if err := s.AddWaiting(ctx, id); err != nil {
		return "", 0, fmt.Errorf("group: mark waiting %s: %w", id, err)
	}
	return id, result.Total, nil
}

// Handle dispatches a command addressed to a group task, implementing its
// state machine: activate, result, and the two-step group_check completion
// protocol (plus error propagation, folded into the same protocol by
// recording an error on the group's own record as soon as any child reports
// one).
func Handle(ctx context.Context, s *store.Store, pool, canonical string, cmd command.Command) (task.Outcome, error) {
	rec, err := s.GetTask(ctx, cmd.To)
	if err != nil {
		return task.Outcome{}, err
	}
	if rec == nil || rec.UID != cmd.ToUID {
		return task.Outcome{}, nil
	}

	switch cmd.Type {
	case command.TypeActivate:
		return handleActivate(ctx, s, pool, canonical, cmd.To, rec)
	case command.TypeResult:
		return handleChildDone(ctx, s, pool, canonical, cmd, rec, false)
	case command.TypeError:
		return handleChildDone(ctx, s, pool, canonical, cmd, rec, true)
	case command.TypeGroupCheck:
		return handleGroupCheck(ctx, s, pool, canonical, cmd.To, rec)
	default:
		return task.Outcome{}, fmt.Errorf("group: unhandled command type %q", cmd.Type)
	}
}

func handleActivate(ctx context.Context, s *store.Store, pool, canonical, id string, rec *store.Record) (task.Outcome, error) {
	if rec.State != store.StateWaiting {
		return task.Outcome{}, nil
	}

	now, err := s.Now(ctx)
	if err != nil {
		return task.Outcome{}, err
	}

	children, err := s.GetTasks(ctx, rec.Children)
	if err != nil {
		return task.Outcome{}, err
	}

	exec := []store.Op{
		store.HSet(s.TaskKey(id), "state", mustJSON(store.StateIdle)),
		store.SRem(s.WaitingKey(), id),
		store.SAdd(s.IdleKey(), id),
	}
	// Every child present at activate time is sent activate in this same
	// transaction; a nil (deleted) child is skipped.
	for i, child := range children {
		if child == nil {
			continue
		}
		activateCanon, err := command.Canonical(command.New(rec.Children[i], child.UID, command.TypeActivate))
		if err != nil {
			return task.Outcome{}, err
		}
		exec = append(exec, store.ZAdd(s.CommandsKey(child.Pool), float64(now), activateCanon))
	}

	txn := store.Transaction{
		Validate: []store.Validate{store.Locked(s.CommandsLockedKey(pool), canonical)},
		Exec:     exec,
	}
	won, err := s.Eval(ctx, txn)
	return task.Outcome{Won: won}, err
}

// handleChildDone handles both `result` and `error` commands from a child:
// each increments children_finished by one and re-enters via group_check
// to decide completion in a fresh transaction. The record this handler
// holds was read before its own increment, so it cannot tell whether this
// report is the last one; the group_check handler re-reads the record and
// sees the incremented counter. An error additionally persists onto the
// group's own error field immediately, so the eventual group_check sees it
// regardless of which child's report happens to be last.
func handleChildDone(ctx context.Context, s *store.Store, pool, canonical string, cmd command.Command, rec *store.Record, isError bool) (task.Outcome, error) {
	if rec.State != store.StateIdle {
		return task.Outcome{}, nil
	}

	id := cmd.To
	now, err := s.Now(ctx)
	if err != nil {
		return task.Outcome{}, err
	}

	exec := []store.Op{store.HIncrBy(s.TaskKey(id), "children_finished", 1)}
	if isError {
		var errVal any
		if cmd.Data != nil {
			errVal = cmd.Data.Error
		}
		exec = append(exec, store.HSet(s.TaskKey(id), "error", mustJSON(errVal)))
	}

	checkCanon, err := command.Canonical(command.New(id, rec.UID, command.TypeGroupCheck))
	if err != nil {
		return task.Outcome{}, err
	}
	exec = append(exec, store.ZAdd(s.CommandsKey(rec.Pool), float64(now), checkCanon))

	txn := store.Transaction{
		Validate: []store.Validate{store.Locked(s.CommandsLockedKey(pool), canonical)},
		Exec:     exec,
	}
	won, err := s.Eval(ctx, txn)
	return task.Outcome{Won: won}, err
}

// handleGroupCheck implements the terminal re-entry: a no-op while
// children_finished < N, and on the Nth report either a failure carrying
// an error a child already reported, an integrity failure (any child
// record missing), or success with results collected in children order.
func handleGroupCheck(ctx context.Context, s *store.Store, pool, canonical, id string, rec *store.Record) (task.Outcome, error) {
	if rec.State != store.StateIdle {
		return task.Outcome{}, nil
	}
	if rec.ChildrenFinished < len(rec.Children) {
		// group_check arriving before every child has reported: no state
		// change, no re-emission — but we still must consume the locked
		// command so the worker loop doesn't spin on it.
		txn := store.Transaction{
			Validate: []store.Validate{store.Locked(s.CommandsLockedKey(pool), canonical)},
			Exec:     []store.Op{},
		}
		won, err := s.Eval(ctx, txn)
		return task.Outcome{Won: won}, err
	}

	now, err := s.Now(ctx)
	if err != nil {
		return task.Outcome{}, err
	}

	exec := []store.Op{
		store.HSet(s.TaskKey(id), "state", mustJSON(store.StateFinished)),
		store.SRem(s.IdleKey(), id),
		store.ZAdd(s.FinishedKey(), float64(now+rec.RemoveDelay), id),
	}
	outcome := task.Outcome{}

	if rec.Error != nil {
		// An error command already persisted onto this record; finalize
		// as an integrity/leaf failure without re-checking children.
		if rec.HasParent() {
			parentCanon, err := command.Canonical(command.NewError(rec.Parent, rec.ParentUID, id, rec.Error))
			if err != nil {
				return task.Outcome{}, err
			}
			exec = append(exec, store.ZAdd(s.CommandsKey(rec.ParentPool), float64(now), parentCanon))
		}
		outcome = task.Outcome{Terminal: true, Err: queueerr.Leaf(id, fmt.Errorf("%v", rec.Error))}
	} else {
		children, err := s.GetTasks(ctx, rec.Children)
		if err != nil {
			return task.Outcome{}, err
		}

		missing := false
		results := make([]any, len(children))
		for i, child := range children {
			if child == nil {
				missing = true
				break
			}
			results[i] = child.Result
		}

		if missing {
			// Any child deleted before completion is an integrity error;
			// the group still transitions to finished.
			exec = append(exec, store.HSet(s.TaskKey(id), "error", mustJSON(queueerr.ErrChildMissing.Error())))
			if rec.HasParent() {
				parentCanon, err := command.Canonical(command.NewError(rec.Parent, rec.ParentUID, id, queueerr.ErrChildMissing.Error()))
				if err != nil {
					return task.Outcome{}, err
				}
				exec = append(exec, store.ZAdd(s.CommandsKey(rec.ParentPool), float64(now), parentCanon))
			}
			outcome = task.Outcome{Terminal: true, Err: queueerr.Integrity(id, queueerr.ErrChildMissing)}
		} else {
			// Collect results in children order.
			exec = append(exec,
				store.HSet(s.TaskKey(id), "result", mustJSON(results)),
				store.HSet(s.TaskKey(id), "progress", mustJSON(rec.Total)),
			)
			if rec.HasParent() {
				parentCanon, err := command.Canonical(command.NewResult(rec.Parent, rec.ParentUID, id, results))
				if err != nil {
					return task.Outcome{}, err
				}
				exec = append(exec, store.ZAdd(s.CommandsKey(rec.ParentPool), float64(now), parentCanon))
			}
			outcome = task.Outcome{Terminal: true, Result: results}
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
