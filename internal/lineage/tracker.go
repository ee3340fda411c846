package lineage

import (
	"strings"
	"sync"

	"nightwatch/pkg/models"
)

// DefaultMaxDepth bounds ancestry walks.
const DefaultMaxDepth = 20

// DefaultMaxProcesses is the tracked-node ceiling before a pruning
// sweep runs.
const DefaultMaxProcesses = 10000

type node struct {
	pid         int
	ppid        int
	command     string
	commandLine string
	uid         int
	username    string
	alive       bool
	children    map[int]struct{}
}

// Tracker maintains an in-memory forest of host processes for ancestry
// enrichment. Exited processes are kept until they become dead leaves,
// so lineage survives short-lived children. The pruning sweep is O(n)
// over the node map, which is fine at the default ceiling.
//
// Every operation takes the tracker mutex for its duration; the
// parent/child adjacency is mutated from concurrent producer callbacks
// and partial updates would corrupt it.
type Tracker struct {
	mu           sync.Mutex
	nodes        map[int]*node
	maxProcesses int
}

// NewTracker creates a tracker with the given node ceiling.
func NewTracker(maxProcesses int) *Tracker {
	if maxProcesses <= 0 {
		maxProcesses = DefaultMaxProcesses
	}
	return &Tracker{
		nodes:        make(map[int]*node),
		maxProcesses: maxProcesses,
	}
}

// AddProcess registers a process start, overwriting any stale node for
// the same pid and linking it under a live parent when one is tracked.
func (t *Tracker) AddProcess(pid, ppid int, command, commandLine string, uid int, username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nodes[pid] = &node{
		pid:         pid,
		ppid:        ppid,
		command:     command,
		commandLine: commandLine,
		uid:         uid,
		username:    username,
		alive:       true,
		children:    make(map[int]struct{}),
	}

	if parent, ok := t.nodes[ppid]; ok && parent.alive {
		parent.children[pid] = struct{}{}
	}

	if len(t.nodes) > t.maxProcesses {
		t.pruneDeadLeaves()
	}
}

// RemoveProcess marks a process as exited. A dead node with no live
// children is removed immediately, and the removal cascades upward
// through any dead ancestors that become childless.
func (t *Tracker) RemoveProcess(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[pid]
	if !ok {
		return
	}
	n.alive = false
	if t.hasLiveChild(n) {
		return
	}
	current := n.ppid
	t.removeLeaf(pid)

	// Cascade through dead ancestors left without children.
	for {
		parent, ok := t.nodes[current]
		if !ok || parent.alive || len(parent.children) != 0 {
			return
		}
		next := parent.ppid
		t.removeLeaf(current)
		current = next
	}
}

// Lineage returns the ancestor chain for pid using DefaultMaxDepth.
func (t *Tracker) Lineage(pid int) []models.LineageEntry {
	return t.LineageDepth(pid, DefaultMaxDepth)
}

// LineageDepth walks pid -> ppid -> ... up to maxDepth hops, stopping
// at an unknown pid or a previously visited one. The visited-set guard
// means the walk terminates even if the graph somehow contains a cycle;
// the partial chain built so far is returned. Result order is oldest
// ancestor first.
func (t *Tracker) LineageDepth(pid, maxDepth int) []models.LineageEntry {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var chain []models.LineageEntry
	visited := make(map[int]struct{}, maxDepth)
	current := pid
	for depth := 0; depth < maxDepth; depth++ {
		if _, seen := visited[current]; seen {
			break
		}
		n, ok := t.nodes[current]
		if !ok {
			break
		}
		visited[current] = struct{}{}
		chain = append(chain, models.LineageEntry{
			PID:         n.pid,
			Command:     n.command,
			CommandLine: n.commandLine,
		})
		current = n.ppid
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// LineageString returns the chain commands joined for display, or
// "unknown" when the pid is not tracked.
func (t *Tracker) LineageString(pid int) string {
	chain := t.Lineage(pid)
	if len(chain) == 0 {
		return "unknown"
	}
	commands := make([]string, 0, len(chain))
	for _, entry := range chain {
		commands = append(commands, entry.Command)
	}
	return strings.Join(commands, " -> ")
}

// Size returns the number of tracked nodes.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

func (t *Tracker) hasLiveChild(n *node) bool {
	for childPID := range n.children {
		if child, ok := t.nodes[childPID]; ok && child.alive {
			return true
		}
	}
	return false
}

func (t *Tracker) removeLeaf(pid int) {
	n, ok := t.nodes[pid]
	if !ok {
		return
	}
	if parent, ok := t.nodes[n.ppid]; ok {
		delete(parent.children, pid)
	}
	delete(t.nodes, pid)
}

// pruneDeadLeaves removes every dead node without a live child. Caller
// holds the mutex.
func (t *Tracker) pruneDeadLeaves() {
	var toRemove []int
	for pid, n := range t.nodes {
		if !n.alive && !t.hasLiveChild(n) {
			toRemove = append(toRemove, pid)
		}
	}
	for _, pid := range toRemove {
		t.removeLeaf(pid)
	}
}
