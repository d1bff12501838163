package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("default")

	c.IncCommandClaimed()
	c.IncCommandClaimed()
	c.IncCommandWon()
	c.IncCommandLost()
	c.IncCommandErrored()
	c.IncChainAdvanced()
	c.IncChainFinished()
	c.IncGroupActivated()
	c.IncGroupFinished()
	c.IncGroupFinished()
	c.IncLeafError()
	c.IncIntegrityError()
	c.IncConfigError()

	s := c.Snapshot()

	if s.CommandsClaimed != 2 {
		t.Errorf("CommandsClaimed = %d, want 2", s.CommandsClaimed)
	}
	if s.CommandsWon != 1 {
		t.Errorf("CommandsWon = %d, want 1", s.CommandsWon)
	}
	if s.CommandsLost != 1 {
		t.Errorf("CommandsLost = %d, want 1", s.CommandsLost)
	}
	if s.CommandsErrored != 1 {
		t.Errorf("CommandsErrored = %d, want 1", s.CommandsErrored)
	}
	if s.ChainsAdvanced != 1 {
		t.Errorf("ChainsAdvanced = %d, want 1", s.ChainsAdvanced)
	}
	if s.ChainsFinished != 1 {
		t.Errorf("ChainsFinished = %d, want 1", s.ChainsFinished)
	}
	if s.GroupsActivated != 1 {
		t.Errorf("GroupsActivated = %d, want 1", s.GroupsActivated)
	}
	if s.GroupsFinished != 2 {
		t.Errorf("GroupsFinished = %d, want 2", s.GroupsFinished)
	}
	if s.LeafErrors != 1 {
		t.Errorf("LeafErrors = %d, want 1", s.LeafErrors)
	}
	if s.IntegrityErrors != 1 {
		t.Errorf("IntegrityErrors = %d, want 1", s.IntegrityErrors)
	}
	if s.ConfigErrors != 1 {
		t.Errorf("ConfigErrors = %d, want 1", s.ConfigErrors)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("ingest-pool")
	s := c.Snapshot()

	if s.Pool != "ingest-pool" {
		t.Errorf("Pool = %q, want %q", s.Pool, "ingest-pool")
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("default")
	c.IncCommandClaimed()
	c.IncChainFinished()

	s1 := c.Snapshot()

	c.IncCommandClaimed()
	c.IncChainFinished()
	c.IncChainFinished()

	if s1.CommandsClaimed != 1 {
		t.Errorf("s1.CommandsClaimed = %d, want 1 (snapshot should be frozen)", s1.CommandsClaimed)
	}
	if s1.ChainsFinished != 1 {
		t.Errorf("s1.ChainsFinished = %d, want 1 (snapshot should be frozen)", s1.ChainsFinished)
	}

	s2 := c.Snapshot()
	if s2.CommandsClaimed != 2 {
		t.Errorf("s2.CommandsClaimed = %d, want 2", s2.CommandsClaimed)
	}
	if s2.ChainsFinished != 3 {
		t.Errorf("s2.ChainsFinished = %d, want 3", s2.ChainsFinished)
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	c.IncCommandClaimed()
	c.IncCommandWon()
	c.IncCommandLost()
	c.IncCommandErrored()
	c.IncChainAdvanced()
	c.IncChainFinished()
	c.IncGroupActivated()
	c.IncGroupFinished()
	c.IncLeafError()
	c.IncIntegrityError()
	c.IncConfigError()

	s := c.Snapshot()
	if s.CommandsClaimed != 0 {
		t.Errorf("nil collector snapshot CommandsClaimed = %d, want 0", s.CommandsClaimed)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("default")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncCommandClaimed()
				c.IncCommandWon()
				c.IncLeafError()
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.CommandsClaimed != want {
		t.Errorf("CommandsClaimed = %d, want %d", s.CommandsClaimed, want)
	}
	if s.CommandsWon != want {
		t.Errorf("CommandsWon = %d, want %d", s.CommandsWon, want)
	}
	if s.LeafErrors != want {
		t.Errorf("LeafErrors = %d, want %d", s.LeafErrors, want)
	}
}

func TestCollector_ZeroValueSnapshot(t *testing.T) {
	c := NewCollector("default")
	s := c.Snapshot()

	if s.CommandsClaimed != 0 || s.CommandsWon != 0 || s.CommandsLost != 0 || s.CommandsErrored != 0 {
		t.Error("fresh collector should have zero command counters")
	}
	if s.ChainsAdvanced != 0 || s.ChainsFinished != 0 || s.GroupsActivated != 0 || s.GroupsFinished != 0 {
		t.Error("fresh collector should have zero composite counters")
	}
	if s.LeafErrors != 0 || s.IntegrityErrors != 0 || s.ConfigErrors != 0 {
		t.Error("fresh collector should have zero failure counters")
	}
}
