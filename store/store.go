// Package store adapts the composite task engine to Redis: it wraps the
// atomic transaction script and exposes the read/write primitives the
// rest of the engine needs (task records, command queues, clock).
package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

//go:embed script.lua
var scriptSource string

// DefaultPrefix is the default key namespace prefix.
const DefaultPrefix = "idoit:"

// Config configures a Store's Redis connection.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix namespaces every key this Store touches (default DefaultPrefix).
	Prefix string
}

// Store wraps a Redis client with the composite engine's key layout and
// transaction script.
type Store struct {
	client *goredis.Client
	prefix string
	script *goredis.Script
}

// Dial creates a Store from a Redis URL, parsing it into client options
// and applying the default prefix when none is given.
func Dial(cfg Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("store: URL is required")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: invalid URL: %w", err)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return New(goredis.NewClient(opts), cfg.Prefix), nil
}

// New wraps an already-constructed Redis client. Useful for tests against
// miniredis, where the caller owns client construction.
func New(client *goredis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		script: goredis.NewScript(scriptSource),
	}
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Now reads the store's wall clock in milliseconds. Using the store's
// clock rather than the local host keeps enqueue scoring monotonic across
// workers.
func (s *Store) Now(ctx context.Context) (int64, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("store: now: %w", err)
	}
	return t.UnixMilli(), nil
}

// GetTask reads a task record. Returns (nil, nil) if the task does not
// exist.
func (s *Store) GetTask(ctx context.Context, id string) (*Record, error) {
	hash, err := s.client.HGetAll(ctx, s.TaskKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get task %s: %w", id, err)
	}
	if len(hash) == 0 {
		return nil, nil
	}
	rec, err := recordFromHash(hash)
	if err != nil {
		return nil, fmt.Errorf("store: decode task %s: %w", id, err)
	}
	return rec, nil
}

// GetTasks reads multiple task records, returning a slice aligned with ids
// where absent entries are nil.
func (s *Store) GetTasks(ctx context.Context, ids []string) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.TaskKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("store: get tasks: %w", err)
	}
	out := make([]*Record, len(ids))
	for i, cmd := range cmds {
		hash, err := cmd.Result()
		if err != nil {
			return nil, fmt.Errorf("store: get task %s: %w", ids[i], err)
		}
		if len(hash) == 0 {
			continue
		}
		rec, err := recordFromHash(hash)
		if err != nil {
			return nil, fmt.Errorf("store: decode task %s: %w", ids[i], err)
		}
		out[i] = rec
	}
	return out, nil
}

// PutTask persists a task record's full field set, unconditionally. Used
// only by Prepare, the sole phase that creates records; every later
// mutation goes through Eval so it participates in the locking discipline.
func (s *Store) PutTask(ctx context.Context, id string, rec *Record) error {
	hash, err := rec.toHash()
	if err != nil {
		return fmt.Errorf("store: encode task %s: %w", id, err)
	}
	if err := s.client.HSet(ctx, s.TaskKey(id), hash).Err(); err != nil {
		return fmt.Errorf("store: put task %s: %w", id, err)
	}
	return nil
}

// DeleteTask removes a task record outright, outside the locking
// discipline, for force-deleting a single record directly (the scenario
// the missing-child integrity check guards against). Sweep does not call
// it; it deletes records in its own pipeline.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.TaskKey(id)).Err(); err != nil {
		return fmt.Errorf("store: delete task %s: %w", id, err)
	}
	return nil
}

// Eval runs a Transaction atomically via the embedded Lua script and
// reports whether it validated and executed. A false result with a nil
// error means this transaction failed validation (typically it lost the
// race to another worker's transaction); it is not an error condition.
func (s *Store) Eval(ctx context.Context, txn Transaction) (bool, error) {
	payload, err := json.Marshal(txn)
	if err != nil {
		return false, fmt.Errorf("store: encode transaction: %w", err)
	}
	res, err := s.script.Run(ctx, s.client, nil, string(payload)).Int64()
	if err != nil {
		return false, fmt.Errorf("store: eval: %w", err)
	}
	return res == 1, nil
}

// EnqueueCommand places a canonical command on a pool's pending queue,
// scored by enqueue time.
func (s *Store) EnqueueCommand(ctx context.Context, pool, canonical string, score int64) error {
	if err := s.client.ZAdd(ctx, s.CommandsKey(pool), goredis.Z{Score: float64(score), Member: canonical}).Err(); err != nil {
		return fmt.Errorf("store: enqueue command on %s: %w", pool, err)
	}
	return nil
}

// AddWaiting marks a task as newly created and waiting.
func (s *Store) AddWaiting(ctx context.Context, id string) error {
	return s.client.SAdd(ctx, s.WaitingKey(), id).Err()
}

// Sweep removes finished task records whose removal deadline has passed,
// implementing the janitor's single responsibility. The janitor process
// itself is external to this engine; this is the one operation it needs.
func (s *Store) Sweep(ctx context.Context, now int64) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.FinishedKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("store: sweep: scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.TaskKey(id))
	}
	pipe.ZRem(ctx, s.FinishedKey(), toAnySlice(ids)...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("store: sweep: delete: %w", err)
	}
	return len(ids), nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ClaimCommand pops the earliest-scored command off a pool's pending queue
// and moves it into the locked set, returning its canonical form. Reports
// ok=false if the pool is empty.
//
// Claiming is intentionally not part of the atomic transaction script:
// two workers may both claim the same command (ZPopMin is itself atomic,
// so in practice at most one claims any given command, but a worker crash
// between claim and handler transaction can leave a command locked and
// unprocessed). The handler's ZREM-based validate step is what actually
// decides a winner; claiming only makes a command visible to a worker's
// handler dispatch, which is external to this engine.
func (s *Store) ClaimCommand(ctx context.Context, pool string) (canonical string, ok bool, err error) {
	z, err := s.client.ZPopMin(ctx, s.CommandsKey(pool), 1).Result()
	if err != nil {
		return "", false, fmt.Errorf("store: claim command on %s: %w", pool, err)
	}
	if len(z) == 0 {
		return "", false, nil
	}
	member, _ := z[0].Member.(string)
	if err := s.client.ZAdd(ctx, s.CommandsLockedKey(pool), goredis.Z{Score: z[0].Score, Member: member}).Err(); err != nil {
		return "", false, fmt.Errorf("store: lock command on %s: %w", pool, err)
	}
	return member, true, nil
}

// pollInterval is the default backoff a worker loop might use between
// empty polls of a pool's commands queue. The worker loop itself is
// external to this engine; this constant exists only so a host binary
// has a documented default to start from.
const pollInterval = 250 * time.Millisecond

// PollInterval returns the default polling backoff for a worker loop.
func PollInterval() time.Duration { return pollInterval }
