package flowroute

import "sync"

// TagTable assigns stable ids to channel tag names. The first time a name is
// seen it receives the next id; the same name always maps to the same id
// afterwards. One table is shared by every planner of a process so that both
// sides of a channel agree on the id.
type TagTable struct {
	mu   sync.Mutex
	ids  map[string]uint64
	next uint64
}

// NewTagTable returns an empty table. The first id handed out is 0.
func NewTagTable() *TagTable {
	return &TagTable{ids: make(map[string]uint64)}
}

// ID returns the id of name, assigning one if the name is new.
func (t *TagTable) ID(name string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.ids[name]; ok {
		return id
	}
	id := t.next
	t.ids[name] = id
	t.next++
	return id
}

// Len returns the number of names seen so far.
func (t *TagTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ids)
}
