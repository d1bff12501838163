package store

import "fmt"

// Key layout, all namespaced under a configurable prefix so one Redis
// instance can host multiple queue namespaces.
//
//	P{id}                      hash, task record
//	Pwaiting, Pidle            sets of task IDs by state
//	Pfinished                  sorted set of task IDs, score = removal deadline (ms)
//	P{pool}:commands           sorted set of canonical commands, score = enqueue ms
//	P{pool}:commands_locked    sorted set of canonical commands currently held by a worker

// TaskKey returns the hash key for a task record.
func (s *Store) TaskKey(id string) string {
	return s.prefix + id
}

// WaitingKey returns the set key for waiting-state task IDs.
func (s *Store) WaitingKey() string {
	return s.prefix + "waiting"
}

// IdleKey returns the set key for idle-state task IDs.
func (s *Store) IdleKey() string {
	return s.prefix + "idle"
}

// FinishedKey returns the sorted-set key for finished task IDs, scored by
// removal deadline.
func (s *Store) FinishedKey() string {
	return s.prefix + "finished"
}

// CommandsKey returns the sorted-set key holding a pool's pending commands.
func (s *Store) CommandsKey(pool string) string {
	return fmt.Sprintf("%s%s:commands", s.prefix, pool)
}

// CommandsLockedKey returns the sorted-set key holding a pool's claimed,
// not-yet-processed commands.
func (s *Store) CommandsLockedKey(pool string) string {
	return fmt.Sprintf("%s%s:commands_locked", s.prefix, pool)
}
