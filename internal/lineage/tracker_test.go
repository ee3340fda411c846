package lineage

import (
	"testing"
)

func TestLineageOrdersOldestAncestorFirst(t *testing.T) {
	tr := NewTracker(0)
	tr.AddProcess(1, 0, "systemd", "/sbin/init", 0, "root")
	tr.AddProcess(10, 1, "bash", "/bin/bash", 1000, "dev")
	tr.AddProcess(20, 10, "curl", "curl http://example.com", 1000, "dev")

	chain := tr.Lineage(20)
	if len(chain) != 3 {
		t.Fatalf("expected chain of 3, got %d", len(chain))
	}
	if chain[0].PID != 1 || chain[1].PID != 10 || chain[2].PID != 20 {
		t.Fatalf("unexpected chain order: %+v", chain)
	}
	if chain[1].Command != "bash" || chain[2].Command != "curl" {
		t.Fatalf("unexpected chain commands: %+v", chain)
	}
}

func TestLineageUnknownPidIsEmpty(t *testing.T) {
	tr := NewTracker(0)
	if got := tr.Lineage(42); len(got) != 0 {
		t.Fatalf("expected empty chain, got %+v", got)
	}
	if got := tr.LineageString(42); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}

func TestLineageStringJoinsCommands(t *testing.T) {
	tr := NewTracker(0)
	tr.AddProcess(10, 1, "bash", "", 0, "")
	tr.AddProcess(20, 10, "sh", "", 0, "")
	if got := tr.LineageString(20); got != "bash -> sh" {
		t.Fatalf("unexpected lineage string: %q", got)
	}
}

func TestLineageTerminatesOnCycle(t *testing.T) {
	tr := NewTracker(0)
	// Force a cycle: 10 claims 20 as parent and vice versa.
	tr.AddProcess(10, 20, "a", "", 0, "")
	tr.AddProcess(20, 10, "b", "", 0, "")

	chain := tr.LineageDepth(10, 64)
	if len(chain) != 2 {
		t.Fatalf("expected partial chain of 2, got %d", len(chain))
	}
}

func TestLineageRespectsMaxDepth(t *testing.T) {
	tr := NewTracker(0)
	for pid := 1; pid <= 40; pid++ {
		tr.AddProcess(pid, pid-1, "p", "", 0, "")
	}
	chain := tr.LineageDepth(40, 5)
	if len(chain) != 5 {
		t.Fatalf("expected chain bounded to 5, got %d", len(chain))
	}
	if chain[len(chain)-1].PID != 40 {
		t.Fatalf("expected target pid last, got %+v", chain)
	}
}

func TestRemoveProcessKeepsParentWithLiveChildren(t *testing.T) {
	tr := NewTracker(0)
	tr.AddProcess(10, 1, "bash", "", 0, "")
	tr.AddProcess(20, 10, "sleep", "", 0, "")

	tr.RemoveProcess(10)
	if tr.Size() != 2 {
		t.Fatalf("dead parent with live child must stay tracked, size=%d", tr.Size())
	}

	// Child lineage still resolves through the dead parent.
	chain := tr.Lineage(20)
	if len(chain) != 2 || chain[0].PID != 10 {
		t.Fatalf("unexpected chain after parent exit: %+v", chain)
	}
}

func TestRemoveProcessCascadesThroughDeadAncestors(t *testing.T) {
	tr := NewTracker(0)
	tr.AddProcess(10, 1, "bash", "", 0, "")
	tr.AddProcess(20, 10, "sh", "", 0, "")
	tr.AddProcess(30, 20, "curl", "", 0, "")

	tr.RemoveProcess(10)
	tr.RemoveProcess(20)
	if tr.Size() != 3 {
		t.Fatalf("dead chain with live leaf must stay, size=%d", tr.Size())
	}

	tr.RemoveProcess(30)
	if tr.Size() != 0 {
		t.Fatalf("expected full cascade removal, size=%d", tr.Size())
	}
}

func TestPruneSweepRemovesDeadLeavesAtCeiling(t *testing.T) {
	tr := NewTracker(4)
	tr.AddProcess(1, 0, "init", "", 0, "")
	tr.AddProcess(2, 1, "a", "", 0, "")
	tr.AddProcess(3, 1, "b", "", 0, "")

	// Kill a leaf through direct node state so the sweep has work;
	// RemoveProcess would already have pruned it.
	tr.mu.Lock()
	tr.nodes[2].alive = false
	tr.nodes[3].alive = false
	tr.mu.Unlock()

	tr.AddProcess(4, 1, "c", "", 0, "")
	tr.AddProcess(5, 1, "d", "", 0, "")

	if tr.Size() != 3 {
		t.Fatalf("expected sweep to drop dead leaves, size=%d", tr.Size())
	}
	if got := tr.LineageString(2); got != "unknown" {
		t.Fatalf("expected pruned pid to be unknown, got %q", got)
	}
}

func TestAddProcessOverwritesRecycledPid(t *testing.T) {
	tr := NewTracker(0)
	tr.AddProcess(10, 1, "old", "", 0, "")
	tr.AddProcess(10, 1, "new", "", 0, "")

	chain := tr.Lineage(10)
	if len(chain) != 1 || chain[0].Command != "new" {
		t.Fatalf("expected overwritten node, got %+v", chain)
	}
}
