// Package queue is the host-facing surface of the composite task engine:
// constructing chains and groups, dispatching commands claimed off a pool
// to the right composite's handler, and publishing the task:end /
// task:end:{id} events those dispatches produce.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johnwu5/idoit/chain"
	"github.com/johnwu5/idoit/command"
	"github.com/johnwu5/idoit/group"
	"github.com/johnwu5/idoit/metrics"
	"github.com/johnwu5/idoit/queueerr"
	"github.com/johnwu5/idoit/store"
	"github.com/johnwu5/idoit/task"
)

// Handler processes one command addressed to a composite task, returning
// what happened to that composite's state.
type Handler func(ctx context.Context, s *store.Store, pool, canonical string, cmd command.Command) (task.Outcome, error)

// Queue owns the store connection, the registry of composite handlers keyed
// by Record.Name, and the event bus — the whole of the engine's
// process-wide state.
type Queue struct {
	store        *store.Store
	bus          *Bus
	handlers     map[string]Handler
	collector    *metrics.Collector
	pollInterval time.Duration
}

// New builds a Queue over the given store, registering the built-in chain
// and group handlers. Extend registers additional composite kinds as a
// registered subclass. collector may be nil; every Collector method is
// nil-receiver safe.
func New(s *store.Store, collector *metrics.Collector) *Queue {
	q := &Queue{
		store:        s,
		bus:          NewBus(),
		collector:    collector,
		pollInterval: store.PollInterval(),
		handlers: map[string]Handler{
			chain.DispatchName: chain.Handle,
			group.DispatchName: group.Handle,
		},
	}
	return q
}

// Store returns the underlying store adapter.
func (q *Queue) Store() *store.Store { return q.store }

// WithPollInterval overrides the backoff Run uses between empty polls of a
// pool's commands queue, replacing the store's default.
func (q *Queue) WithPollInterval(d time.Duration) *Queue {
	if d > 0 {
		q.pollInterval = d
	}
	return q
}

// Events returns the queue's event bus for task:end / task:end:{id}
// subscriptions.
func (q *Queue) Events() *Bus { return q.bus }

// Extend registers a handler for a composite kind under the given dispatch
// name: a caller-defined composite need only persist Record.Name == name
// and implement Handler to participate in Dispatch.
func (q *Queue) Extend(name string, h Handler) {
	q.handlers[name] = h
}

// Chain builds a new sequential composite, bound to this queue's store on
// Submit.
func (q *Queue) Chain(children ...task.Child) *chain.Chain {
	return chain.New(children...)
}

// ChainWithInit builds a new sequential composite whose children are
// produced by init when submitted.
func (q *Queue) ChainWithInit(init task.InitFunc, args ...any) *chain.Chain {
	return chain.NewWithInit(init, args...)
}

// Group builds a new parallel composite, bound to this queue's store on
// Submit.
func (q *Queue) Group(children ...task.Child) *group.Group {
	return group.New(children...)
}

// GroupWithInit builds a new parallel composite whose children are
// produced by init when submitted.
func (q *Queue) GroupWithInit(init task.InitFunc, args ...any) *group.Group {
	return group.NewWithInit(init, args...)
}

// Submit materializes a root task.Child into the store and enqueues its own
// activate command onto the pool it was built with (via WithPool), returning
// its assigned id. Root tasks have no parent (ParentRef.Empty()).
func (q *Queue) Submit(ctx context.Context, root task.Child) (string, error) {
	id, _, err := root.Prepare(ctx, q.store, task.ParentRef{})
	if err != nil {
		var taskErr *queueerr.TaskError
		if errors.As(err, &taskErr) && taskErr.Kind == queueerr.KindConfiguration {
			q.collector.IncConfigError()
		}
		return "", err
	}

	rec, err := q.store.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("queue: submitted task %s vanished before activation", id)
	}

	now, err := q.store.Now(ctx)
	if err != nil {
		return "", err
	}
	canonical, err := command.Canonical(command.New(id, rec.UID, command.TypeActivate))
	if err != nil {
		return "", err
	}
	if err := q.store.EnqueueCommand(ctx, rec.Pool, canonical, now); err != nil {
		return "", err
	}
	return id, nil
}

// Dispatch looks up the command's target record to find its dispatch name,
// routes to the matching handler, and — on a winning, terminal transition —
// publishes task:end / task:end:{id}. The canonical argument is the exact
// string this command was locked under, required by the handler's ZREM
// validate step.
func (q *Queue) Dispatch(ctx context.Context, pool, canonical string, cmd command.Command) (task.Outcome, error) {
	rec, err := q.store.GetTask(ctx, cmd.To)
	if err != nil {
		return task.Outcome{}, err
	}
	if rec == nil {
		// Target deleted before this command was processed: nothing to do.
		return task.Outcome{}, nil
	}
	h, ok := q.handlers[rec.Name]
	if !ok {
		return task.Outcome{}, fmt.Errorf("queue: no handler registered for %q", rec.Name)
	}

	outcome, err := h(ctx, q.store, pool, canonical, cmd)
	if err != nil {
		q.collector.IncCommandErrored()
		return outcome, err
	}
	q.recordOutcome(rec.Name, cmd, outcome)
	if outcome.Won && outcome.Terminal {
		q.bus.emit(Event{TaskID: cmd.To, Result: outcome.Result, Err: outcome.Err})
	}
	return outcome, nil
}

func (q *Queue) recordOutcome(dispatchName string, cmd command.Command, outcome task.Outcome) {
	if !outcome.Won {
		q.collector.IncCommandLost()
		return
	}
	q.collector.IncCommandWon()

	switch dispatchName {
	case chain.DispatchName:
		if outcome.Terminal {
			q.collector.IncChainFinished()
		} else if cmd.Type == command.TypeResult {
			q.collector.IncChainAdvanced()
		}
	case group.DispatchName:
		if cmd.Type == command.TypeActivate {
			q.collector.IncGroupActivated()
		}
		if outcome.Terminal {
			q.collector.IncGroupFinished()
		}
	}

	if outcome.Terminal && outcome.Err != nil {
		var taskErr *queueerr.TaskError
		if errors.As(outcome.Err, &taskErr) && taskErr.Kind == queueerr.KindIntegrity {
			q.collector.IncIntegrityError()
		} else {
			q.collector.IncLeafError()
		}
	}
}
