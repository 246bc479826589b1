package reflection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/embedding"
	"github.com/elea/athenaeum/internal/memory"
	"github.com/elea/athenaeum/internal/provider"
)

const (
	maxFocalQuestions  = 3
	maxInsightsPerItem = 5
)

// Engine synthesizes higher-order thoughts from an agent's accumulated
// memories. One engine per agent; the caller decides when to run it.
type Engine struct {
	agentID   string
	archetype string
	store     *memory.Store
	retriever *memory.Retriever
	router    *provider.Router
	embedder  embedding.Provider
	now       func() time.Time
	logger    *zap.Logger
}

// NewEngine creates a reflection engine for one agent.
func NewEngine(agentID, archetype string, store *memory.Store, retriever *memory.Retriever, router *provider.Router, embedder embedding.Provider, logger *zap.Logger) *Engine {
	return &Engine{
		agentID:   agentID,
		archetype: archetype,
		store:     store,
		retriever: retriever,
		router:    router,
		embedder:  embedder,
		now:       time.Now,
		logger:    logger,
	}
}

// SetClock overrides the engine's time source.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Run executes one reflection cycle over the recentN most recent memories:
// generate focal questions, retrieve evidence per question, synthesize
// insights, and persist each as a thought node with a 30-day expiration.
// Returns the newly created thought nodes.
func (e *Engine) Run(ctx context.Context, recentN int) ([]*memory.Node, error) {
	recent := e.store.RecentMemories(recentN)
	if len(recent) == 0 {
		return nil, nil
	}

	focals, err := e.focalQuestions(ctx, recent)
	if err != nil {
		return nil, fmt.Errorf("generate focal questions: %w", err)
	}
	if len(focals) == 0 {
		return nil, nil
	}

	retrieved, err := e.retriever.Retrieve(ctx, focals, false)
	if err != nil {
		return nil, fmt.Errorf("retrieve evidence: %w", err)
	}

	var created []*memory.Node
	for _, focal := range focals {
		evidence := retrieved[focal]
		if len(evidence) == 0 {
			continue
		}
		insights, err := e.generateInsights(ctx, focal, evidence)
		if err != nil {
			e.logger.Warn("insight generation failed, skipping focal point",
				zap.String("agent", e.agentID), zap.String("focal", focal), zap.Error(err))
			continue
		}
		for _, ins := range insights {
			node, err := e.persistInsight(ctx, ins)
			if err != nil {
				e.logger.Warn("failed to persist insight",
					zap.String("agent", e.agentID), zap.Error(err))
				continue
			}
			created = append(created, node)
		}
	}

	e.logger.Info("reflection cycle complete",
		zap.String("agent", e.agentID),
		zap.Int("focal_points", len(focals)),
		zap.Int("new_thoughts", len(created)))
	return created, nil
}

// focalQuestions asks the model for the most salient high-level questions
// raised by the recent memories. At most three are kept; none are
// fabricated when the model returns fewer.
func (e *Engine) focalQuestions(ctx context.Context, recent []*memory.Node) ([]string, error) {
	var b strings.Builder
	for _, n := range recent {
		b.WriteString(n.Description)
		b.WriteByte('\n')
	}
	system := fmt.Sprintf("Given only the statements below about %s, list the %d most salient high-level questions they raise, one per line, numbered.", e.agentID, maxFocalQuestions)
	out, err := e.router.Complete(ctx, e.agentID, system, b.String())
	if err != nil {
		return nil, err
	}
	focals := ParseNumberedList(out)
	if len(focals) > maxFocalQuestions {
		focals = focals[:maxFocalQuestions]
	}
	return focals, nil
}

type insight struct {
	text     string
	evidence []string // node ids
}

// generateInsights asks the model for insights grounded in a numbered
// evidence list. Evidence references are zero-based positions into that
// exact list; invalid positions are dropped silently and mapped back to
// node ids in the same step so the list cannot be reordered in between.
func (e *Engine) generateInsights(ctx context.Context, focal string, evidence []*memory.Node) ([]insight, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nEvidence:\n", focal)
	for i, n := range evidence {
		fmt.Fprintf(&b, "%d. %s\n", i, n.Description)
	}
	system := fmt.Sprintf("What %d high-level insights can %s, a %s, infer from the numbered evidence? Respond one per line in the form: insight (because of 0, 2). The parenthetical lists the zero-based evidence numbers the insight rests on.", maxInsightsPerItem, e.agentID, e.archetype)

	out, err := e.router.Complete(ctx, e.agentID, system, b.String())
	if err != nil {
		return nil, err
	}

	var insights []insight
	for _, line := range ParseNumberedList(out) {
		text, indices := parseInsightLine(line, len(evidence))
		if text == "" {
			continue
		}
		ids := make([]string, 0, len(indices))
		for _, idx := range indices {
			ids = append(ids, evidence[idx].ID)
		}
		insights = append(insights, insight{text: text, evidence: ids})
		if len(insights) == maxInsightsPerItem {
			break
		}
	}
	return insights, nil
}

// persistInsight derives a triple, scores poignancy, embeds the text, and
// writes the thought node. Triple and poignancy parse failures degrade to
// fallbacks and never abort the insight.
func (e *Engine) persistInsight(ctx context.Context, ins insight) (*memory.Node, error) {
	triple := DeriveTriple(ctx, e.router, e.agentID, ins.text, e.logger)
	poignancy := ScorePoignancy(ctx, e.router, e.agentID, e.archetype, ins.text, e.logger)

	var vector []float32
	vecs, err := e.embedder.Embed(ctx, []string{ins.text})
	if err != nil {
		e.logger.Warn("insight embedding failed, storing without vector",
			zap.String("agent", e.agentID), zap.Error(err))
	} else if len(vecs) == 1 {
		vector = vecs[0]
	}

	created := e.now()
	expiration := created.Add(memory.ThoughtHorizon)
	return e.store.AddThought(created, &expiration, triple, ins.text,
		TripleKeywords(triple), poignancy, ins.text, vector, ins.evidence)
}
