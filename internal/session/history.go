package session

// History is a bounded, persistent stack of snapshots. Push and Pop return a
// new History and never modify the receiver's backing array in place, so
// sessions sharing a prefix of history stay independent.
type History struct {
	limit int
	items []Snapshot
}

// NewHistory returns an empty history holding at most limit snapshots. A
// non-positive limit disables history.
func NewHistory(limit int) History {
	return History{limit: limit}
}

func (h History) Len() int {
	return len(h.items)
}

// Push adds snap on top, dropping the oldest entry once the limit is reached.
func (h History) Push(snap Snapshot) History {
	if h.limit <= 0 {
		return h
	}
	start := 0
	if len(h.items) >= h.limit {
		start = len(h.items) - h.limit + 1
	}
	items := make([]Snapshot, 0, len(h.items)-start+1)
	items = append(items, h.items[start:]...)
	items = append(items, snap)
	return History{limit: h.limit, items: items}
}

// Pop returns the top snapshot and the remaining history.
func (h History) Pop() (Snapshot, History, bool) {
	if len(h.items) == 0 {
		return Snapshot{}, h, false
	}
	top := h.items[len(h.items)-1]
	return top, History{limit: h.limit, items: h.items[:len(h.items)-1]}, true
}
