package memory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store is one agent's append-only memory stream: every node the agent has
// observed, thought, said, or cited, plus the lookup paths retrieval needs.
// A Store is owned by exactly one agent, but its owner's slow path, the
// save loop, and API reads overlap, so adds, touches, reads, and snapshots
// lock internally.
type Store struct {
	mu     sync.RWMutex
	nextID int
	nodes  map[string]*Node

	// Per-type sequences, most recent first.
	seqs map[NodeType][]*Node

	// Per-type keyword buckets, lower-cased keys, most recent first.
	keywords map[NodeType]map[string][]*Node

	// Embedding cache keyed by the literal embedded text. Shared across
	// nodes with identical descriptions.
	embeddings map[string][]float32

	// Keyword strength counters for events and thoughts. Exposed for
	// ranking experiments; idle triples are excluded.
	strengthEvents   map[string]int
	strengthThoughts map[string]int

	logger *zap.Logger
}

// NewStore creates an empty memory stream.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		nodes:            make(map[string]*Node),
		seqs:             make(map[NodeType][]*Node),
		keywords:         make(map[NodeType]map[string][]*Node),
		embeddings:       make(map[string][]float32),
		strengthEvents:   make(map[string]int),
		strengthThoughts: make(map[string]int),
		logger:           logger,
	}
}

// Len returns the total number of nodes in the stream.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// AddEvent appends an observation node.
func (s *Store) AddEvent(created time.Time, expiration *time.Time, triple Triple, description string, keywords []string, poignancy int, embeddingKey string, vector []float32) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.newNode(NodeEvent, created, expiration, triple, description, keywords, poignancy, embeddingKey)
	s.insert(n, vector)
	s.bumpStrength(s.strengthEvents, n)
	return n
}

// AddThought appends a synthesized thought node. Depth is one more than the
// deepest cited evidence node, or 1 when the thought cites nothing. Unknown
// evidence IDs are a caller bug and fail hard.
func (s *Store) AddThought(created time.Time, expiration *time.Time, triple Triple, description string, keywords []string, poignancy int, embeddingKey string, vector []float32, evidence []string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := 1
	for _, id := range evidence {
		ev, ok := s.nodes[id]
		if !ok {
			return nil, fmt.Errorf("thought evidence %s: unknown node", id)
		}
		if ev.Depth+1 > depth {
			depth = ev.Depth + 1
		}
	}

	n := s.newNode(NodeThought, created, expiration, triple, description, keywords, poignancy, embeddingKey)
	n.Depth = depth
	n.Evidence = append([]string(nil), evidence...)
	s.insert(n, vector)
	s.bumpStrength(s.strengthThoughts, n)
	return n, nil
}

// AddChat appends a conversation-summary node.
func (s *Store) AddChat(created time.Time, expiration *time.Time, triple Triple, description string, keywords []string, poignancy int, embeddingKey string, vector []float32) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.newNode(NodeChat, created, expiration, triple, description, keywords, poignancy, embeddingKey)
	s.insert(n, vector)
	return n
}

// AddSource appends a corpus-citation node. Source nodes never expire and
// carry the corpus work identifier plus the literal quoted passage.
func (s *Store) AddSource(created time.Time, triple Triple, description string, keywords []string, poignancy int, embeddingKey string, vector []float32, sourceID, passage string) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.newNode(NodeSource, created, nil, triple, description, keywords, poignancy, embeddingKey)
	n.SourceID = sourceID
	n.SourcePassage = passage
	s.insert(n, vector)
	return n
}

func (s *Store) newNode(typ NodeType, created time.Time, expiration *time.Time, triple Triple, description string, keywords []string, poignancy int, embeddingKey string) *Node {
	s.nextID++
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		lowered = append(lowered, strings.ToLower(kw))
	}
	return &Node{
		ID:           fmt.Sprintf("node_%d", s.nextID),
		Type:         typ,
		TypeSeq:      len(s.seqs[typ]) + 1,
		Depth:        0,
		Created:      created,
		Expiration:   expiration,
		LastAccessed: created,
		Subject:      triple.Subject,
		Predicate:    triple.Predicate,
		Object:       triple.Object,
		Description:  description,
		EmbeddingKey: embeddingKey,
		Poignancy:    poignancy,
		Keywords:     lowered,
	}
}

// insert wires a built node into the id map, its type sequence, its keyword
// buckets, and the embedding cache. Sequences and buckets are head-first.
// The cache entry for the exact embedding key is overwritten: embeddings are
// deduplicated by literal text, not by node.
func (s *Store) insert(n *Node, vector []float32) {
	s.nodes[n.ID] = n
	s.seqs[n.Type] = append([]*Node{n}, s.seqs[n.Type]...)

	bucket := s.keywords[n.Type]
	if bucket == nil {
		bucket = make(map[string][]*Node)
		s.keywords[n.Type] = bucket
	}
	for _, kw := range n.Keywords {
		bucket[kw] = append([]*Node{n}, bucket[kw]...)
	}

	if n.EmbeddingKey != "" && len(vector) > 0 {
		s.embeddings[n.EmbeddingKey] = vector
	}
}

// bumpStrength increments keyword strength counters, skipping the idle
// placeholder triple.
func (s *Store) bumpStrength(counter map[string]int, n *Node) {
	if n.Triple().IsIdle() {
		return
	}
	for _, kw := range n.Keywords {
		counter[kw]++
	}
}

// Node returns a node by id.
func (s *Store) Node(id string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// Embedding returns the cached vector for the given literal text.
func (s *Store) Embedding(key string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.embeddings[key]
	return v, ok
}

// AllMemories returns events and thoughts, each most recent first. This is
// the retrieval candidate pool for reflection.
func (s *Store) AllMemories() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allMemories()
}

func (s *Store) allMemories() []*Node {
	out := make([]*Node, 0, len(s.seqs[NodeEvent])+len(s.seqs[NodeThought]))
	out = append(out, s.seqs[NodeEvent]...)
	out = append(out, s.seqs[NodeThought]...)
	return out
}

// AllMemoriesWithSources additionally includes source-citation nodes. This
// is the candidate pool for dialogue retrieval, where grounding matters.
func (s *Store) AllMemoriesWithSources() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(s.allMemories(), s.seqs[NodeSource]...)
}

// RecentEvents returns the n most recent events, most recent first.
func (s *Store) RecentEvents(n int) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return headOf(s.seqs[NodeEvent], n)
}

// RecentThoughts returns the n most recent thoughts, most recent first.
func (s *Store) RecentThoughts(n int) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return headOf(s.seqs[NodeThought], n)
}

// RecentMemories returns the n most recently added events and thoughts,
// newest first. Seeds reflection's focal-question generation.
func (s *Store) RecentMemories(n int) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.allMemories()
	sort.Slice(all, func(i, j int) bool {
		return numericID(all[i].ID) > numericID(all[j].ID)
	})
	return headOf(all, n)
}

// ByKeyword returns nodes indexed under the keyword, case-insensitively.
// With no type filter it searches events and thoughts.
func (s *Store) ByKeyword(keyword string, types ...NodeType) []*Node {
	if len(types) == 0 {
		types = []NodeType{NodeEvent, NodeThought}
	}
	kw := strings.ToLower(keyword)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Node
	for _, typ := range types {
		out = append(out, s.keywords[typ][kw]...)
	}
	return out
}

// LastChat returns the most recent chat node indexed under the given
// person's name.
func (s *Store) LastChat(person string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.keywords[NodeChat][strings.ToLower(person)]
	if len(bucket) == 0 {
		return nil, false
	}
	return bucket[0], true
}

// Touch updates a node's last-accessed time. Called once per returned node
// on every retrieval.
func (s *Store) Touch(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		n.LastAccessed = at
	}
}

// LatestEventTriples returns the deduplicated triples of the n most recent
// events.
func (s *Store) LatestEventTriples(n int) []Triple {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[Triple]bool)
	var out []Triple
	for _, node := range headOf(s.seqs[NodeEvent], n) {
		t := node.Triple()
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// SourcesForTopic returns source nodes matching any of the keywords,
// deduplicated by node identity.
func (s *Store) SourcesForTopic(keywords []string) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []*Node
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		for _, n := range s.keywords[NodeSource][strings.ToLower(kw)] {
			if !seen[n.ID] {
				seen[n.ID] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// KeywordStrength returns the event and thought strength counts for a keyword.
func (s *Store) KeywordStrength(keyword string) (event, thought int) {
	kw := strings.ToLower(keyword)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strengthEvents[kw], s.strengthThoughts[kw]
}

func headOf(nodes []*Node, n int) []*Node {
	if n < 0 {
		n = 0
	}
	if n > len(nodes) {
		n = len(nodes)
	}
	return nodes[:n]
}

// numericID extracts the numeric suffix of a node id, or -1 when malformed.
func numericID(id string) int {
	idx := strings.LastIndexByte(id, '_')
	if idx < 0 {
		return -1
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return -1
	}
	return n
}
