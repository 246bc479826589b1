package memory

import "time"

// DefaultRingCap bounds the display ring.
const DefaultRingCap = 50

// Entry is a lightweight display record derived from a node description.
// The ring is a bounded presentation view only; the Store remains the
// system of record and is never evicted from.
type Entry struct {
	Description string    `json:"description"`
	Importance  int       `json:"importance"`
	At          time.Time `json:"at"`
}

// Ring holds the most presentable recent memories, capped. When full, the
// least important entry is evicted, oldest first among ties.
type Ring struct {
	cap     int
	entries []Entry
}

// NewRing creates a display ring with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCap
	}
	return &Ring{cap: capacity}
}

// Add inserts an entry, evicting if the ring is full.
func (r *Ring) Add(e Entry) {
	if len(r.entries) >= r.cap {
		victim := 0
		for i := 1; i < len(r.entries); i++ {
			if r.entries[i].Importance < r.entries[victim].Importance ||
				(r.entries[i].Importance == r.entries[victim].Importance &&
					r.entries[i].At.Before(r.entries[victim].At)) {
				victim = i
			}
		}
		r.entries = append(r.entries[:victim], r.entries[victim+1:]...)
	}
	r.entries = append(r.entries, e)
}

// Entries returns the ring contents, oldest first.
func (r *Ring) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Len returns the number of entries.
func (r *Ring) Len() int { return len(r.entries) }
