// Package metrics provides per-worker metrics collection for the composite
// task engine.
//
// The Collector accumulates counters across however many commands a worker
// processes. It is a leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all metrics. Returned by
// Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Commands processed, by outcome.
	CommandsClaimed int64
	CommandsWon     int64 // transaction validated and executed
	CommandsLost    int64 // lost the race to another worker's transaction
	CommandsErrored int64 // handler or store error, not a race loss

	// Composite transitions.
	ChainsAdvanced  int64 // non-terminal result, fed into next child
	ChainsFinished  int64
	GroupsActivated int64
	GroupsFinished  int64

	// Failure modes.
	LeafErrors       int64
	IntegrityErrors  int64
	ConfigErrors     int64 // zero-children rejection at prepare

	// Dimensions (informational, set at construction).
	Pool string
}

// Collector accumulates metrics for one worker's lifetime.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	commandsClaimed int64
	commandsWon     int64
	commandsLost    int64
	commandsErrored int64

	chainsAdvanced  int64
	chainsFinished  int64
	groupsActivated int64
	groupsFinished  int64

	leafErrors      int64
	integrityErrors int64
	configErrors    int64

	pool string
}

// NewCollector creates a Collector labeled with the pool it watches.
func NewCollector(pool string) *Collector {
	return &Collector{pool: pool}
}

// IncCommandClaimed records a worker claiming a command off its pool.
func (c *Collector) IncCommandClaimed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandsClaimed++
	c.mu.Unlock()
}

// IncCommandWon records a handler transaction that validated and executed.
func (c *Collector) IncCommandWon() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandsWon++
	c.mu.Unlock()
}

// IncCommandLost records a handler transaction that lost the race to
// another worker's transaction — not an error condition.
func (c *Collector) IncCommandLost() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandsLost++
	c.mu.Unlock()
}

// IncCommandErrored records a handler or store error distinct from a race
// loss.
func (c *Collector) IncCommandErrored() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.commandsErrored++
	c.mu.Unlock()
}

// IncChainAdvanced records a chain feeding a non-terminal child's result
// into the next child.
func (c *Collector) IncChainAdvanced() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chainsAdvanced++
	c.mu.Unlock()
}

// IncChainFinished records a chain reaching its terminal state.
func (c *Collector) IncChainFinished() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chainsFinished++
	c.mu.Unlock()
}

// IncGroupActivated records a group fanning activate out to its children.
func (c *Collector) IncGroupActivated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.groupsActivated++
	c.mu.Unlock()
}

// IncGroupFinished records a group reaching its terminal state.
func (c *Collector) IncGroupFinished() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.groupsFinished++
	c.mu.Unlock()
}

// IncLeafError records a leaf task reporting an error to its parent
// composite.
func (c *Collector) IncLeafError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.leafErrors++
	c.mu.Unlock()
}

// IncIntegrityError records a composite discovering a deleted child record
// at completion time.
func (c *Collector) IncIntegrityError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.integrityErrors++
	c.mu.Unlock()
}

// IncConfigError records a composite rejected at prepare for having zero
// children.
func (c *Collector) IncConfigError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.configErrors++
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		CommandsClaimed: c.commandsClaimed,
		CommandsWon:     c.commandsWon,
		CommandsLost:    c.commandsLost,
		CommandsErrored: c.commandsErrored,

		ChainsAdvanced:  c.chainsAdvanced,
		ChainsFinished:  c.chainsFinished,
		GroupsActivated: c.groupsActivated,
		GroupsFinished:  c.groupsFinished,

		LeafErrors:      c.leafErrors,
		IntegrityErrors: c.integrityErrors,
		ConfigErrors:    c.configErrors,

		Pool: c.pool,
	}
}
