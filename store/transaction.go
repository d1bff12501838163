package store

import "encoding/json"

// Op is one store-side operation: its first element is the Redis command
// name, the rest are its arguments. Op marshals to a JSON array ([cmd,
// ...args]), the transaction script's ABI for both validate and exec ops.
type Op []any

// HGet reads a hash field. Used as a validate read op.
func HGet(key, field string) Op { return Op{"HGET", key, field} }

// HSet writes a hash field.
func HSet(key, field string, value string) Op { return Op{"HSET", key, field, value} }

// HIncrBy atomically increments a hash field holding an integer.
func HIncrBy(key, field string, delta int64) Op { return Op{"HINCRBY", key, field, delta} }

// SAdd adds a member to a set.
func SAdd(key string, member string) Op { return Op{"SADD", key, member} }

// SRem removes a member from a set.
func SRem(key string, member string) Op { return Op{"SREM", key, member} }

// ZAdd adds a member to a sorted set with the given score.
func ZAdd(key string, score float64, member string) Op { return Op{"ZADD", key, score, member} }

// ZRem removes a member from a sorted set. Used both as a write op and,
// crucially, as the first validate entry of every handler transaction: its
// result (the number of members removed) is compared against the expected
// value 1 to implement the locking discipline: only the worker whose
// ZREM actually removes the command gets to run its exec ops.
func ZRem(key string, member string) Op { return Op{"ZREM", key, member} }

// Validate pairs an expected result with the op that must produce it for
// the transaction to proceed to its Exec ops. Marshals as [expected, op].
type Validate struct {
	Expected any
	Op       Op
}

// MarshalJSON encodes a Validate entry as the two-element array the
// transaction script ABI expects.
func (v Validate) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{v.Expected, v.Op})
}

// Transaction is the validate-then-exec-atomically document sent to the
// store-side script: it runs every Validate op in order; if every result
// equals its Expected, it runs every Exec op atomically and reports
// success; otherwise it reports failure and performs no Exec op.
type Transaction struct {
	Validate []Validate `json:"validate"`
	Exec     []Op       `json:"exec"`
}

// Locked builds the standard first validate entry every handler
// transaction starts with: remove the command's canonical form from the
// pool's locked set, expecting exactly one removal.
func Locked(lockedKey, canonicalCommand string) Validate {
	return Validate{Expected: int64(1), Op: ZRem(lockedKey, canonicalCommand)}
}
