// Package task provides the base contract composites build on: identity,
// parent linkage, and the Child/Init machinery that lets a composite's
// children be either fixed at construction or produced by a caller-supplied
// closure.
package task

import (
	"context"

	"github.com/google/uuid"

	"github.com/johnwu5/idoit/store"
)

// NewID generates a new, globally-unique TaskID.
func NewID() string { return uuid.NewString() }

// NewUID generates a new UID to fence stale commands against a
// resurrected-with-same-id task.
func NewUID() string { return uuid.NewString() }

// ParentRef is a reference, not ownership: the value a child stamps onto
// its own record so it can later address its parent.
type ParentRef struct {
	ID   string
	Pool string
	UID  string
}

// Empty reports whether this ref names no parent.
func (p ParentRef) Empty() bool { return p.ID == "" }

// Child is anything a composite's children list can hold: a leaf task or
// another composite. Prepare materializes it into the store (assigning an
// ID, linking parent, persisting its record) and reports its total
// progress units, which the caller sums.
type Child interface {
	Prepare(ctx context.Context, s *store.Store, parent ParentRef) (id string, total int, err error)
}

// InitFunc is the subclassing hook: a caller-supplied closure that produces
// a composite's children, standing in for languages where this would be an
// overridden method. Treated as an injected closure on the composite's
// config, not as class inheritance.
type InitFunc func(args []any) ([]Child, error)

// Outcome reports what a single Handle call did to a composite's state,
// shared between package chain and package group so package queue can
// dispatch both through one code path.
type Outcome struct {
	// Won is false if this worker lost the race to another transaction;
	// no state changed and the caller does nothing further.
	Won bool
	// Terminal is true if this call transitioned the composite to
	// finished.
	Terminal bool
	Result   any
	Err      error
}
