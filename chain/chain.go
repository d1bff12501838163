// Package chain implements the sequential composite: activate the first
// child, feed each child's result into the next child's args, finish when
// the last child responds.
package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/johnwu5/idoit/command"
	"github.com/johnwu5/idoit/queueerr"
	"github.com/johnwu5/idoit/store"
	"github.com/johnwu5/idoit/task"
)

// DispatchName is the Record.Name value chains persist, used by package
// queue to route commands addressed to a chain to this package's handlers.
const DispatchName = "chain"

// Chain is a sequential composite task, constructed via New or NewWithInit
// and materialized into the store via Prepare.
type Chain struct {
	uid string
	cfg task.Config
}

// New builds a chain from a fixed, ordered sequence of children.
func New(children ...task.Child) *Chain {
	return &Chain{cfg: task.Config{Children: children, Name: DispatchName}}
}

// NewWithInit builds a chain whose children are produced by init when
// Prepare runs.
func NewWithInit(init task.InitFunc, args ...any) *Chain {
	return &Chain{cfg: task.Config{Init: init, Args: args, Name: DispatchName}}
}

// WithPool sets the pool this chain is dispatched on.
func (c *Chain) WithPool(pool string) *Chain {
	c.cfg.Pool = pool
	return c
}

// WithRemoveDelay sets how long after finishing this chain's record stays
// around before the janitor sweeps it.
func (c *Chain) WithRemoveDelay(ms int64) *Chain {
	c.cfg.RemoveDelay = ms
	return c
}

// WithUserData attaches opaque caller data to the persisted record.
func (c *Chain) WithUserData(data any) *Chain {
	c.cfg.UserData = data
	return c
}

// Prepare implements task.Child: assign id/uid, resolve children (direct
// or via Init), fail with a configuration error on zero children, prepare
// each child in order (linking parent refs, summing Total), then persist
// this chain's own record in the waiting state.
func (c *Chain) Prepare(ctx context.Context, s *store.Store, parent task.ParentRef) (string, int, error) {
	id := task.NewID()
	c.uid = task.NewUID()
	self := task.ParentRef{ID: id, Pool: c.cfg.Pool, UID: c.uid}

	result, err := task.Prepare(ctx, s, self, c.cfg, DispatchName)
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
		Pool:             c.cfg.Pool,
		Parent:           parent.ID,
		ParentPool:       parent.Pool,
		ParentUID:        parent.UID,
		RemoveDelay:      c.cfg.RemoveDelay,
		Name:             DispatchName,
		UID:              c.uid,
		UserData:         c.cfg.UserData,
	}
	if err := s.PutTask(ctx, id, rec); err != nil {
		return "", 0, fmt.Errorf("chain: persist %s: %w", id, err)
	}
	if err := s.AddWaiting(ctx, id); err != nil {
		return "", 0, fmt.Errorf("chain: mark waiting %s: %w", id, err)
	}
	return id, result.Total, nil
}

// Handle dispatches a command addressed to a chain task (cmd.To is the
// chain's own id; for result/error commands cmd.Data.From identifies the
// reporting child), implementing the activate/result/error state machine
// and its error-propagation behavior.
func Handle(ctx context.Context, s *store.Store, pool, canonical string, cmd command.Command) (task.Outcome, error) {
	rec, err := s.GetTask(ctx, cmd.To)
	if err != nil {
		return task.Outcome{}, err
	}
	if rec == nil || rec.UID != cmd.ToUID {
		// Stale or deleted target, drop silently.
		return task.Outcome{}, nil
	}

	switch cmd.Type {
	case command.TypeActivate:
		return handleActivate(ctx, s, pool, canonical, cmd.To, rec)
	case command.TypeResult:
		return handleResult(ctx, s, pool, canonical, cmd, rec)
	case command.TypeError:
		return handleError(ctx, s, pool, canonical, cmd, rec)
	default:
		return task.Outcome{}, fmt.Errorf("chain: unhandled command type %q", cmd.Type)
	}
}

func handleActivate(ctx context.Context, s *store.Store, pool, canonical, id string, rec *store.Record) (task.Outcome, error) {
	if rec.State != store.StateWaiting {
		return task.Outcome{}, nil
	}
	if len(rec.Children) == 0 {
		return task.Outcome{}, fmt.Errorf("chain: %s has no children at activate", id)
	}

	now, err := s.Now(ctx)
	if err != nil {
		return task.Outcome{}, err
	}

	exec := []store.Op{
		store.HSet(s.TaskKey(id), "state", mustJSON(store.StateIdle)),
		store.SRem(s.WaitingKey(), id),
		store.SAdd(s.IdleKey(), id),
	}

	firstChild, err := s.GetTask(ctx, rec.Children[0])
	if err != nil {
		return task.Outcome{}, err
	}
	// If children[0] was already deleted, the activate emission is simply
	// omitted; the chain still advances.
	if firstChild != nil {
		activateCanon, err := command.Canonical(command.New(rec.Children[0], firstChild.UID, command.TypeActivate))
		if err != nil {
			return task.Outcome{}, err
		}
		exec = append(exec, store.ZAdd(s.CommandsKey(firstChild.Pool), float64(now), activateCanon))
	}

	txn := store.Transaction{
		Validate: []store.Validate{store.Locked(s.CommandsLockedKey(pool), canonical)},
		Exec:     exec,
	}
	won, err := s.Eval(ctx, txn)
	return task.Outcome{Won: won}, err
}

func handleResult(ctx context.Context, s *store.Store, pool, canonical string, cmd command.Command, rec *store.Record) (task.Outcome, error) {
	if rec.State != store.StateIdle {
		return task.Outcome{}, nil
	}

	from := ""
	var result any
	if cmd.Data != nil {
		from = cmd.Data.From
		result = cmd.Data.Result
	}
	childIndex := indexOf(rec.Children, from)
	if childIndex < 0 {
		return task.Outcome{}, fmt.Errorf("chain: result from unknown child %q", from)
	}

	now, err := s.Now(ctx)
	if err != nil {
		return task.Outcome{}, err
	}

	id := cmd.To
	exec := []store.Op{store.HIncrBy(s.TaskKey(id), "children_finished", 1)}
	last := childIndex == len(rec.Children)-1
	outcome := task.Outcome{}

	if !last {
		nextID := rec.Children[childIndex+1]
		nextChild, err := s.GetTask(ctx, nextID)
		if err != nil {
			return task.Outcome{}, err
		}
		// A deleted next child just means no activate is emitted; the
		// chain still advances.
		if nextChild != nil {
			newArgs := append(append([]any{}, nextChild.Args...), result)
			exec = append(exec, store.HSet(s.TaskKey(nextID), "args", mustJSON(newArgs)))

			activateCanon, err := command.Canonical(command.New(nextID, nextChild.UID, command.TypeActivate))
			if err != nil {
				return task.Outcome{}, err
			}
			exec = append(exec, store.ZAdd(s.CommandsKey(nextChild.Pool), float64(now), activateCanon))
		}
	} else {
		exec = append(exec,
			store.HSet(s.TaskKey(id), "state", mustJSON(store.StateFinished)),
			store.HSet(s.TaskKey(id), "progress", mustJSON(rec.Total)),
			store.SRem(s.IdleKey(), id),
			store.ZAdd(s.FinishedKey(), float64(now+rec.RemoveDelay), id),
		)
		if result != nil {
			exec = append(exec, store.HSet(s.TaskKey(id), "result", mustJSON(result)))
		}
		if rec.HasParent() {
			parentCanon, err := command.Canonical(command.NewResult(rec.Parent, rec.ParentUID, id, result))
			if err != nil {
				return task.Outcome{}, err
			}
			exec = append(exec, store.ZAdd(s.CommandsKey(rec.ParentPool), float64(now), parentCanon))
		}
		outcome = task.Outcome{Terminal: true, Result: result}
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

func handleError(ctx context.Context, s *store.Store, pool, canonical string, cmd command.Command, rec *store.Record) (task.Outcome, error) {
	if rec.State != store.StateIdle {
		return task.Outcome{}, nil
	}

	id := cmd.To
	var errVal any
	if cmd.Data != nil {
		errVal = cmd.Data.Error
	}

	now, err := s.Now(ctx)
	if err != nil {
		return task.Outcome{}, err
	}

	exec := []store.Op{
		store.HSet(s.TaskKey(id), "state", mustJSON(store.StateFinished)),
		store.HSet(s.TaskKey(id), "error", mustJSON(errVal)),
		store.HIncrBy(s.TaskKey(id), "children_finished", 1),
		store.SRem(s.IdleKey(), id),
		store.ZAdd(s.FinishedKey(), float64(now+rec.RemoveDelay), id),
	}
	if rec.HasParent() {
		parentCanon, err := command.Canonical(command.NewError(rec.Parent, rec.ParentUID, id, errVal))
		if err != nil {
			return task.Outcome{}, err
		}
		exec = append(exec, store.ZAdd(s.CommandsKey(rec.ParentPool), float64(now), parentCanon))
	}

	txn := store.Transaction{
		Validate: []store.Validate{store.Locked(s.CommandsLockedKey(pool), canonical)},
		Exec:     exec,
	}
	won, err := s.Eval(ctx, txn)
	if err != nil || !won {
		return task.Outcome{Won: won}, err
	}
	return task.Outcome{Won: true, Terminal: true, Err: queueerr.Leaf(id, fmt.Errorf("%v", errVal))}, nil
}

func indexOf(ss []string, v string) int {
	for i, s := range ss {
		if s == v {
			return i
		}
	}
	return -1
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
