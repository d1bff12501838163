package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/johnwu5/idoit/command"
	"github.com/johnwu5/idoit/task"
)

// ErrPoolRequired is returned by Run/PollOnce when called with an empty
// pool name.
var ErrPoolRequired = errors.New("queue: pool name is required")

// PollOnce claims and processes a single command from pool, if any is
// pending. Returns ok=false if the pool's commands queue was empty.
//
// Claiming and dispatching are two separate store round-trips: a crash
// between them leaves the command in commands_locked, and nothing in this
// package re-claims commands from there, so it stays until an operator
// intervenes — the engine's correctness does not depend on prompt
// recovery, only on the locking discipline inside Dispatch's transaction.
func (q *Queue) PollOnce(ctx context.Context, pool string) (task.Outcome, bool, error) {
	if pool == "" {
		return task.Outcome{}, false, ErrPoolRequired
	}
	canonical, ok, err := q.store.ClaimCommand(ctx, pool)
	if err != nil {
		return task.Outcome{}, false, err
	}
	if !ok {
		return task.Outcome{}, false, nil
	}
	q.collector.IncCommandClaimed()

	var cmd command.Command
	if err := json.Unmarshal([]byte(canonical), &cmd); err != nil {
		return task.Outcome{}, true, fmt.Errorf("queue: decode claimed command: %w", err)
	}

	outcome, err := q.Dispatch(ctx, pool, canonical, cmd)
	return outcome, true, err
}

// Run polls pool in a loop until ctx is done, waiting the queue's poll
// interval (store.PollInterval unless set via WithPollInterval) between
// empty polls. Handler errors are reported through onErr rather
// than aborting the loop, so one bad command doesn't wedge a worker
// (onErr may be nil to discard them).
func (q *Queue) Run(ctx context.Context, pool string, onErr func(error)) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		_, claimed, err := q.PollOnce(ctx, pool)
		if err != nil && onErr != nil {
			onErr(err)
		}
		if claimed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
