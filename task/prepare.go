package task

import (
	"context"
	"fmt"

	"github.com/johnwu5/idoit/queueerr"
	"github.com/johnwu5/idoit/store"
)

// Config is the construction-time configuration shared by Chain and Group:
// either a fixed Children sequence or an Init override.
type Config struct {
	Children    []Child
	Init        InitFunc
	Args        []any
	Pool        string
	Name        string
	RemoveDelay int64
	UserData    any
}

// PrepareResult is what Prepare hands back to the caller (Chain.Prepare or
// Group.Prepare) to finish building its own record.
type PrepareResult struct {
	ChildIDs []string
	Total    int
}

// Prepare implements the composite preparation pipeline shared by Chain and
// Group: resolve children (direct or via Init), fail with a configuration
// error on zero children, then depth-first prepare each child in order,
// linking its parent and summing Total.
//
// dispatchName identifies the kind of composite being prepared ("chain" or
// "group"), used purely for the error message; the caller is responsible
// for persisting its own record with cfg.Name as the handler-dispatch key.
func Prepare(ctx context.Context, s *store.Store, self ParentRef, cfg Config, dispatchName string) (PrepareResult, error) {
	children := cfg.Children
	if len(children) == 0 && cfg.Init != nil {
		resolved, err := cfg.Init(cfg.Args)
		if err != nil {
			return PrepareResult{}, fmt.Errorf("%s: init: %w", dispatchName, err)
		}
		children = resolved
	}
	if len(children) == 0 {
		return PrepareResult{}, queueerr.Configuration(self.ID, queueerr.ErrNoChildren)
	}

	childIDs := make([]string, 0, len(children))
	total := 0
	for i, child := range children {
		childID, childTotal, err := child.Prepare(ctx, s, self)
		if err != nil {
			return PrepareResult{}, fmt.Errorf("%s: prepare child %d: %w", dispatchName, i, err)
		}
		childIDs = append(childIDs, childID)
		total += childTotal
	}

	return PrepareResult{ChildIDs: childIDs, Total: total}, nil
}
