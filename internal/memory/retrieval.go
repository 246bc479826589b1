package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/embedding"
)

// Weights blends the three retrieval signals. Relevance dominates by
// default: an agent surfaces what is on-topic first, what matters second,
// what is merely fresh a distant third.
type Weights struct {
	Recency    float64 `json:"recency"`
	Relevance  float64 `json:"relevance"`
	Importance float64 `json:"importance"`
	Decay      float64 `json:"decay"` // recency decay per rank, in (0,1)
}

// DefaultWeights returns the standard scoring blend.
func DefaultWeights() Weights {
	return Weights{Recency: 0.5, Relevance: 3, Importance: 2, Decay: 0.99}
}

// DefaultMaxResults is the top-K cutoff per focal string.
const DefaultMaxResults = 30

// relationshipResults is the smaller cutoff for partner-focused retrieval.
const relationshipResults = 10

// ScoredNode wraps a node with its per-signal and blended scores. Produced
// fresh per retrieval call, never persisted.
type ScoredNode struct {
	Node            *Node
	RecencyScore    float64
	RelevanceScore  float64
	ImportanceScore float64
	TotalScore      float64
}

// Retriever ranks an agent's memory pool against focal strings.
type Retriever struct {
	store      *Store
	embedder   embedding.Provider
	weights    Weights
	maxResults int
	now        func() time.Time
	logger     *zap.Logger
}

// NewRetriever creates a retriever over one agent's store.
func NewRetriever(store *Store, embedder embedding.Provider, weights Weights, logger *zap.Logger) *Retriever {
	if weights.Decay <= 0 || weights.Decay >= 1 {
		weights = DefaultWeights()
	}
	return &Retriever{
		store:      store,
		embedder:   embedder,
		weights:    weights,
		maxResults: DefaultMaxResults,
		now:        time.Now,
		logger:     logger,
	}
}

// SetClock overrides the retriever's time source, used to stamp access
// times when touching returned nodes.
func (r *Retriever) SetClock(now func() time.Time) { r.now = now }

// SetMaxResults overrides the top-K cutoff.
func (r *Retriever) SetMaxResults(n int) {
	if n > 0 {
		r.maxResults = n
	}
}

// Retrieve ranks the candidate pool against each focal string and returns
// the top-K per focal, most relevant first. Every returned node is touched:
// retrieval itself is an access event, which keeps frequently-recalled
// memories fresh.
func (r *Retriever) Retrieve(ctx context.Context, focals []string, includeSources bool) (map[string][]*Node, error) {
	out := make(map[string][]*Node, len(focals))
	for _, focal := range focals {
		nodes, err := r.retrieveOne(ctx, focal, includeSources, r.maxResults)
		if err != nil {
			return nil, err
		}
		out[focal] = nodes
	}
	return out, nil
}

// DialogueRetrieval partitions retrieval output for conversation grounding:
// ordinary recollection, partner-focused memories, and citable sources.
type DialogueRetrieval struct {
	Topical      []*Node
	Relationship []*Node
	Sources      []*Node
}

// RetrieveForDialogue runs topic retrieval over the full pool including
// sources, splits out the source-typed hits, and adds a smaller
// partner-focused pass.
func (r *Retriever) RetrieveForDialogue(ctx context.Context, topic, partner string) (*DialogueRetrieval, error) {
	topical, err := r.retrieveOne(ctx, topic, true, r.maxResults)
	if err != nil {
		return nil, err
	}
	relationship, err := r.retrieveOne(ctx, partner, false, relationshipResults)
	if err != nil {
		return nil, err
	}

	dr := &DialogueRetrieval{Relationship: relationship}
	for _, n := range topical {
		if n.Type == NodeSource {
			dr.Sources = append(dr.Sources, n)
		} else {
			dr.Topical = append(dr.Topical, n)
		}
	}
	return dr, nil
}

// RetrieveByTriple is the pure keyword fallback: the union of keyword-indexed
// events and thoughts for each non-empty term, deduplicated. No embeddings
// involved.
func (r *Retriever) RetrieveByTriple(subject, predicate, object string) []*Node {
	seen := make(map[string]bool)
	var out []*Node
	for _, term := range []string{subject, predicate, object} {
		if term == "" {
			continue
		}
		for _, n := range r.store.ByKeyword(term) {
			if !seen[n.ID] {
				seen[n.ID] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func (r *Retriever) retrieveOne(ctx context.Context, focal string, includeSources bool, k int) ([]*Node, error) {
	cands := r.candidates(includeSources)
	if len(cands) == 0 {
		return nil, nil
	}

	scored, err := r.score(ctx, focal, cands)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].TotalScore > scored[j].TotalScore
	})
	if k > len(scored) {
		k = len(scored)
	}

	now := r.now()
	out := make([]*Node, 0, k)
	for _, sn := range scored[:k] {
		r.store.Touch(sn.Node.ID, now)
		out = append(out, sn.Node)
	}

	r.logger.Debug("retrieval complete",
		zap.String("focal", focal),
		zap.Int("candidates", len(cands)),
		zap.Int("returned", len(out)))
	return out, nil
}

// candidates builds the pool, dropping idle placeholders.
func (r *Retriever) candidates(includeSources bool) []*Node {
	var pool []*Node
	if includeSources {
		pool = r.store.AllMemoriesWithSources()
	} else {
		pool = r.store.AllMemories()
	}
	out := pool[:0:0]
	for _, n := range pool {
		if !n.IsIdle() {
			out = append(out, n)
		}
	}
	return out
}

// score computes the three raw signal maps, normalizes each independently,
// and blends them by weight.
func (r *Retriever) score(ctx context.Context, focal string, cands []*Node) ([]ScoredNode, error) {
	recency := recencyScores(cands, r.weights.Decay)
	importance := importanceScores(cands)
	relevance, err := r.relevanceScores(ctx, focal, cands)
	if err != nil {
		return nil, err
	}

	normRec := normalize(recency)
	normImp := normalize(importance)
	normRel := normalize(relevance)

	out := make([]ScoredNode, 0, len(cands))
	for _, n := range cands {
		sn := ScoredNode{
			Node:            n,
			RecencyScore:    normRec[n.ID],
			RelevanceScore:  normRel[n.ID],
			ImportanceScore: normImp[n.ID],
		}
		sn.TotalScore = r.weights.Recency*sn.RecencyScore +
			r.weights.Relevance*sn.RelevanceScore +
			r.weights.Importance*sn.ImportanceScore
		out = append(out, sn)
	}
	return out, nil
}

// recencyScores assigns decay^rank by last access, rank 0 being the most
// recently touched node. The exponential rewards recently-touched memories
// regardless of wall-clock gap size.
func recencyScores(cands []*Node, decay float64) map[string]float64 {
	ranked := append([]*Node(nil), cands...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].LastAccessed.After(ranked[j].LastAccessed)
	})
	out := make(map[string]float64, len(ranked))
	for rank, n := range ranked {
		out[n.ID] = math.Pow(decay, float64(rank))
	}
	return out
}

func importanceScores(cands []*Node) map[string]float64 {
	out := make(map[string]float64, len(cands))
	for _, n := range cands {
		out[n.ID] = float64(n.Poignancy)
	}
	return out
}

// relevanceScores embeds the focal string and scores each candidate by
// cosine similarity against its cached vector. Candidates without a cached
// vector score 0. An embedding-gateway failure degrades to all-zero
// relevance rather than failing the retrieval.
func (r *Retriever) relevanceScores(ctx context.Context, focal string, cands []*Node) (map[string]float64, error) {
	out := make(map[string]float64, len(cands))
	for _, n := range cands {
		out[n.ID] = 0
	}

	vecs, err := r.embedder.Embed(ctx, []string{focal})
	if err != nil || len(vecs) == 0 {
		r.logger.Warn("focal embedding failed, relevance zeroed", zap.Error(err))
		return out, nil
	}
	focalVec := vecs[0]

	for _, n := range cands {
		cached, ok := r.store.Embedding(n.EmbeddingKey)
		if !ok {
			continue
		}
		sim, err := cosine(focalVec, cached)
		if err != nil {
			return nil, fmt.Errorf("relevance for %s: %w", n.ID, err)
		}
		out[n.ID] = sim
	}
	return out, nil
}

// normalize min-max scales a score map into [0,1]. A flat map collapses to
// the 0.5 midpoint for every node instead of dividing by zero.
func normalize(m map[string]float64) map[string]float64 {
	if len(m) == 0 {
		return m
	}
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range m {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make(map[string]float64, len(m))
	if max == min {
		for id := range m {
			out[id] = 0.5
		}
		return out
	}
	span := max - min
	for id, v := range m {
		out[id] = (v - min) / span
	}
	return out
}

// cosine computes cosine similarity. A dimension mismatch is a caller bug,
// not a runtime condition.
func cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
