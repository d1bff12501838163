// Package command defines the addressed message that task handlers consume
// from pool queues, and its canonical encoding.
//
// A command's canonical form is its identity as a member of a Redis sorted
// set: two commands with the same (To, ToUID, Type, Data) produce the exact
// same byte-string, which is what lets the locking discipline in package
// store remove "this exact command" from commands_locked as a validate step.
package command

import (
	"bytes"
	"encoding/json"
)

// Type is the wire discriminator for a command.
type Type string

// Command types handled or emitted by the composite engine.
const (
	// TypeActivate is sent to a child to start it.
	TypeActivate Type = "activate"
	// TypeResult is sent to a parent carrying a completed child's result.
	TypeResult Type = "result"
	// TypeError is sent to a parent carrying a failed child's error.
	TypeError Type = "error"
	// TypeGroupCheck is sent by a group to itself to re-evaluate completion.
	TypeGroupCheck Type = "group_check"
)

// Data carries the optional payload of a command. Exactly one of Result or
// Error is set for result/error commands; both are nil for activate and
// group_check. From identifies the child that originated a result/error
// command, letting the parent's single record lookup (keyed by To, its own
// id) determine which of its children just reported.
type Data struct {
	From   string `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  any    `json:"error,omitempty"`
}

// Command is the addressed message routed to exactly one task handler.
//
// To/ToUID address the target task and fence stale deliveries: a command
// is only honored if the live record at To still has uid == ToUID.
type Command struct {
	To    string `json:"to"`
	ToUID string `json:"to_uid"`
	Type  Type   `json:"type"`
	Data  *Data  `json:"data,omitempty"`
}

// New builds a command with no payload, e.g. activate or group_check.
func New(to, toUID string, typ Type) Command {
	return Command{To: to, ToUID: toUID, Type: typ}
}

// NewResult builds a result command carrying the given result value,
// originating from the child identified by from.
func NewResult(to, toUID, from string, result any) Command {
	return Command{To: to, ToUID: toUID, Type: TypeResult, Data: &Data{From: from, Result: result}}
}

// NewError builds an error command carrying the given error value,
// originating from the child identified by from.
func NewError(to, toUID, from string, errVal any) Command {
	return Command{To: to, ToUID: toUID, Type: TypeError, Data: &Data{From: from, Error: errVal}}
}

// Canonical returns the stable byte-string encoding of the command. Field
// order and escaping are fixed by the struct tag order above, so two
// Commands built with equal field values always encode identically; this
// is what makes Canonical usable as a set-member identity and a locking
// token in package store.
func Canonical(c Command) (string, error) {
	buf, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	// json.Marshal on a struct with explicit field order and no map values
	// already produces a stable encoding; Data's fields are likewise
	// ordered, so no further canonicalization is needed for Result/Error
	// scalars. Compact to drop any incidental whitespace.
	var out bytes.Buffer
	if err := json.Compact(&out, buf); err != nil {
		return "", err
	}
	return out.String(), nil
}

// MustCanonical is Canonical but panics on error. Callers that construct a
// Command from values they just marshaled successfully (e.g. from a
// previously-decoded record) may use this to avoid repeating error checks.
func MustCanonical(c Command) string {
	s, err := Canonical(c)
	if err != nil {
		panic(err)
	}
	return s
}
