package bottle

import "sync"

// Claim is the exclusion token for one bottle id. Release must be called
// exactly once, after which the claim is dead.
type Claim struct {
	table *claimTable
	id    string
	entry *claimEntry
}

// Release drops the exclusion so the next waiter for the same id can
// proceed.
func (c *Claim) Release() {
	<-c.entry.sem
	c.table.release(c.id)
}

type claimEntry struct {
	refs int
	sem  chan struct{}
}

// claimTable maps bottle ids to their exclusion tokens. Entries are
// created lazily on first acquire and dropped once the last holder or
// waiter releases, so the table stays proportional to active contention,
// not to the number of bottles ever seen.
type claimTable struct {
	mu      sync.Mutex
	entries map[string]*claimEntry
}

func newClaimTable() *claimTable {
	return &claimTable{entries: make(map[string]*claimEntry)}
}

func (t *claimTable) acquire(id string) *Claim {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok {
		entry = &claimEntry{sem: make(chan struct{}, 1)}
		t.entries[id] = entry
	}
	entry.refs++
	t.mu.Unlock()

	entry.sem <- struct{}{}
	return &Claim{table: t, id: id, entry: entry}
}

func (t *claimTable) release(id string) {
	t.mu.Lock()
	entry := t.entries[id]
	entry.refs--
	if entry.refs == 0 {
		delete(t.entries, id)
	}
	t.mu.Unlock()
}
