package memory

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Snapshot is the persisted form of a memory stream: the node records keyed
// by id, the embedding cache keyed by literal text, and the two keyword
// strength maps. Dates serialize as ISO-8601 via encoding/json.
type Snapshot struct {
	Nodes             map[string]*Node     `json:"nodes"`
	Embeddings        map[string][]float32 `json:"embeddings"`
	StrengthEvents    map[string]int       `json:"kw_strength_event"`
	StrengthThoughts  map[string]int       `json:"kw_strength_thought"`
}

// Snapshot captures the store's full persisted state. Node records are
// copied so a retrieval touching access times after the snapshot cannot
// mutate a record mid-marshal.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &Snapshot{
		Nodes:            make(map[string]*Node, len(s.nodes)),
		Embeddings:       make(map[string][]float32, len(s.embeddings)),
		StrengthEvents:   make(map[string]int, len(s.strengthEvents)),
		StrengthThoughts: make(map[string]int, len(s.strengthThoughts)),
	}
	for id, n := range s.nodes {
		cp := *n
		snap.Nodes[id] = &cp
	}
	for k, v := range s.embeddings {
		snap.Embeddings[k] = v
	}
	for k, v := range s.strengthEvents {
		snap.StrengthEvents[k] = v
	}
	for k, v := range s.strengthThoughts {
		snap.StrengthThoughts[k] = v
	}
	return snap
}

// MarshalJSON is provided on Store for convenience when persisting.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// Restore rebuilds a store from a snapshot by replaying node additions in
// ascending id order, so type sequence numbering and depth computation come
// out identical to the original run. Malformed snapshots fail fast.
func Restore(snap *Snapshot, logger *zap.Logger) (*Store, error) {
	if snap == nil {
		return nil, fmt.Errorf("restore: nil snapshot")
	}

	ids := make([]string, 0, len(snap.Nodes))
	for id := range snap.Nodes {
		if numericID(id) < 0 {
			return nil, fmt.Errorf("restore: malformed node id %q", id)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return numericID(ids[i]) < numericID(ids[j])
	})

	s := NewStore(logger)
	for _, id := range ids {
		if err := s.replay(id, snap.Nodes[id]); err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
	}

	for k, v := range snap.Embeddings {
		s.embeddings[k] = v
	}
	// Strength maps are restored from the snapshot rather than recounted,
	// since the snapshot is authoritative for idle-exclusion decisions made
	// at write time.
	for k, v := range snap.StrengthEvents {
		s.strengthEvents[k] = v
	}
	for k, v := range snap.StrengthThoughts {
		s.strengthThoughts[k] = v
	}
	return s, nil
}

// replay re-inserts one persisted node, recomputing sequence numbers and
// thought depth and validating them against the record.
func (s *Store) replay(id string, rec *Node) error {
	if rec == nil {
		return fmt.Errorf("node %s: empty record", id)
	}
	switch rec.Type {
	case NodeEvent, NodeThought, NodeChat, NodeSource:
	default:
		return fmt.Errorf("node %s: unknown type %q", id, rec.Type)
	}
	if rec.Poignancy < 1 || rec.Poignancy > 10 {
		return fmt.Errorf("node %s: poignancy %d out of range", id, rec.Poignancy)
	}

	depth := 0
	if rec.Type == NodeThought {
		depth = 1
		for _, evID := range rec.Evidence {
			ev, ok := s.nodes[evID]
			if !ok {
				return fmt.Errorf("node %s: evidence %s not yet replayed", id, evID)
			}
			if ev.Depth+1 > depth {
				depth = ev.Depth + 1
			}
		}
	}
	if rec.Depth != depth {
		return fmt.Errorf("node %s: stored depth %d, replay computed %d", id, rec.Depth, depth)
	}

	n := *rec
	n.ID = id
	n.TypeSeq = len(s.seqs[n.Type]) + 1
	n.Depth = depth
	s.insert(&n, nil)

	if num := numericID(id); num > s.nextID {
		s.nextID = num
	}
	return nil
}
