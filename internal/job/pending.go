package job

import (
	"sort"
	"sync"
)

// PendingTable maps a segment index to its active remote operation.
// Entries are added on submission, replaced on resubmission and removed as
// soon as the segment reaches a terminal state.
type PendingTable struct {
	mu  sync.RWMutex
	ops map[int]string
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{ops: make(map[int]string)}
}

// Track records (or replaces) the active operation for index.
func (p *PendingTable) Track(index int, operationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops[index] = operationID
}

// Drop removes index from the table. Dropping an unknown index is a no-op.
func (p *PendingTable) Drop(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.ops, index)
}

// Lookup returns the active operation for index.
func (p *PendingTable) Lookup(index int) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	op, ok := p.ops[index]
	return op, ok
}

// Len returns the number of unresolved segments.
func (p *PendingTable) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ops)
}

// Indexes returns the tracked indexes in ascending order.
func (p *PendingTable) Indexes() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]int, 0, len(p.ops))
	for i := range p.ops {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Clone returns an independent copy. A nil table clones to an empty one.
func (p *PendingTable) Clone() *PendingTable {
	c := NewPendingTable()
	if p == nil {
		return c
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for k, v := range p.ops {
		c.ops[k] = v
	}
	return c
}
