package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/embedding"
	"github.com/elea/athenaeum/internal/memory"
	"github.com/elea/athenaeum/internal/provider"
	"github.com/elea/athenaeum/internal/reflection"
)

const (
	reflectRecentN    = 40
	keptRecentInsight = 3
)

// Controller owns one agent: its persona, scratch state, memory stream,
// and the observe/cite/retrieve/reflect/converse operations the simulation
// loop drives. Slow-path operations call the model and embedding gateways
// and may be retried by the caller; the controller itself never retries.
type Controller struct {
	persona   *Persona
	scratch   *Scratch
	store     *memory.Store
	retriever *memory.Retriever
	reflector *reflection.Engine
	router    *provider.Router
	embedder  embedding.Provider
	ring      *memory.Ring

	recentInsights []*memory.Node
	now            func() time.Time
	mu             sync.Mutex
	logger         *zap.Logger
}

// NewController wires a controller around a fresh memory store.
func NewController(persona *Persona, router *provider.Router, embedder embedding.Provider, logger *zap.Logger) *Controller {
	return NewControllerWithStore(persona, memory.NewStore(logger), NewScratch(DefaultTriggerMax), router, embedder, logger)
}

// NewControllerWithStore wires a controller around existing memory and
// scratch state, used when restoring from a snapshot.
func NewControllerWithStore(persona *Persona, store *memory.Store, scratch *Scratch, router *provider.Router, embedder embedding.Provider, logger *zap.Logger) *Controller {
	retriever := memory.NewRetriever(store, embedder, scratch.Weights, logger)
	c := &Controller{
		persona:   persona,
		scratch:   scratch,
		store:     store,
		retriever: retriever,
		router:    router,
		embedder:  embedder,
		ring:      memory.NewRing(memory.DefaultRingCap),
		now:       time.Now,
		logger:    logger,
	}
	c.reflector = reflection.NewEngine(persona.Name, persona.Archetype, store, retriever, router, embedder, logger)
	return c
}

// SetClock overrides the controller's time source, propagated to the
// retriever and reflection engine.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
	c.retriever.SetClock(now)
	c.reflector.SetClock(now)
}

// Persona returns the agent's identity.
func (c *Controller) Persona() *Persona { return c.persona }

// Scratch returns the agent's mutable working state. Callers that overlap
// with live beats use the locked accessors or ScratchView instead.
func (c *Controller) Scratch() *Scratch { return c.scratch }

// ScratchView returns a copy of the scratch state, safe to read or marshal
// while beats mutate the original.
func (c *Controller) ScratchView() Scratch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scratchCopy()
}

// scratchCopy duplicates the scratch under c.mu, including the turn slice.
func (c *Controller) scratchCopy() Scratch {
	cp := *c.scratch
	cp.Turns = append([]Utterance(nil), c.scratch.Turns...)
	return cp
}

// SnapshotState captures a consistent point-in-time copy of the scratch
// and the memory stream for persistence. The scratch copy is taken under
// the controller lock; the store snapshot locks internally.
func (c *Controller) SnapshotState() (*Scratch, *memory.Snapshot) {
	c.mu.Lock()
	scratch := c.scratchCopy()
	c.mu.Unlock()
	return &scratch, c.store.Snapshot()
}

// InConversation reports whether the agent has a live conversation.
func (c *Controller) InConversation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scratch.InConversation()
}

// Position returns the agent's location on the floor.
func (c *Controller) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scratch.Position
}

// SetPosition moves the agent.
func (c *Controller) SetPosition(p Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scratch.Position = p
}

// Activity returns what the agent is currently doing.
func (c *Controller) Activity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scratch.Activity
}

// SetActivity records what the agent is currently doing.
func (c *Controller) SetActivity(a string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scratch.Activity = a
}

// Memory returns the agent's memory store.
func (c *Controller) Memory() *memory.Store { return c.store }

// Retriever returns the agent's retrieval engine.
func (c *Controller) Retriever() *memory.Retriever { return c.retriever }

// Stream returns the capped display ring of recent memories. The ring is
// only ever touched under the controller lock.
func (c *Controller) Stream() []memory.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring.Entries()
}

// Observe records what the agent perceives as an event node and spends
// the observation's poignancy from the reflection budget. Idle
// observations score 1 without a model call.
func (c *Controller) Observe(ctx context.Context, description string) (*memory.Node, error) {
	triple := reflection.DeriveTriple(ctx, c.router, c.persona.Name, description, c.logger)
	poignancy := reflection.ScorePoignancy(ctx, c.router, c.persona.Name, c.persona.Archetype, description, c.logger)

	vector, err := c.embedOne(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("embed observation: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	created := c.now()
	expiration := created.Add(memory.EventHorizon)
	node := c.store.AddEvent(created, &expiration, triple, description,
		reflection.TripleKeywords(triple), poignancy, description, vector)

	c.scratch.NoteImportance(poignancy)
	c.ring.Add(memory.Entry{Description: description, Importance: poignancy, At: created})

	c.logger.Debug("observed",
		zap.String("agent", c.persona.Name),
		zap.String("node", node.ID),
		zap.Int("poignancy", poignancy),
		zap.Int("trigger_curr", c.scratch.TriggerCurr))
	return node, nil
}

// CiteSource records the agent's interpretation of a corpus passage as a
// source node. Citations are grounding material, not experiential stimuli:
// they never expire and do not spend the reflection budget.
func (c *Controller) CiteSource(ctx context.Context, sourceID, passage, interpretation string) (*memory.Node, error) {
	triple := reflection.DeriveTriple(ctx, c.router, c.persona.Name, interpretation, c.logger)
	poignancy := reflection.ScorePoignancy(ctx, c.router, c.persona.Name, c.persona.Archetype, interpretation, c.logger)

	vector, err := c.embedOne(ctx, interpretation)
	if err != nil {
		return nil, fmt.Errorf("embed citation: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	node := c.store.AddSource(c.now(), triple, interpretation,
		reflection.TripleKeywords(triple), poignancy, interpretation, vector, sourceID, passage)

	c.logger.Debug("cited source",
		zap.String("agent", c.persona.Name),
		zap.String("node", node.ID),
		zap.String("source", sourceID))
	return node, nil
}

// RetrieveForTopic ranks memories (sources included) against the focal
// strings using the agent's own weights.
func (c *Controller) RetrieveForTopic(ctx context.Context, focals []string) (map[string][]*memory.Node, error) {
	return c.retriever.Retrieve(ctx, focals, true)
}

// RetrieveForDialogue returns topic, relationship, and source-citation
// partitions for a conversation with partner.
func (c *Controller) RetrieveForDialogue(ctx context.Context, topic, partner string) (*memory.DialogueRetrieval, error) {
	return c.retriever.RetrieveForDialogue(ctx, topic, partner)
}

// MaybeReflect runs a reflection cycle if the importance budget is
// exhausted, otherwise it is a no-op returning nil. On success the
// counters reset even when zero insights were produced, so an empty
// cycle does not re-trigger every tick.
func (c *Controller) MaybeReflect(ctx context.Context) ([]*memory.Node, error) {
	c.mu.Lock()
	triggered := c.scratch.ShouldReflect()
	recentN := c.scratch.EleN
	c.mu.Unlock()
	if !triggered {
		return nil, nil
	}
	// Focal questions come from what accumulated since the last reset,
	// capped so a long quiet stretch cannot flood the prompt.
	if recentN > reflectRecentN {
		recentN = reflectRecentN
	}

	thoughts, err := c.reflector.Run(ctx, recentN)
	if err != nil {
		return nil, fmt.Errorf("reflection cycle: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.scratch.ResetReflection()
	if len(thoughts) > 0 {
		keep := thoughts
		if len(keep) > keptRecentInsight {
			keep = keep[len(keep)-keptRecentInsight:]
		}
		c.recentInsights = keep
	}
	return thoughts, nil
}

// RecentInsights returns the thoughts kept from the last reflection cycle,
// surfaced to conversation generation.
func (c *Controller) RecentInsights() []*memory.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recentInsights
}

// StartConversation marks the agent as chatting with partner until endAt.
func (c *Controller) StartConversation(partner string, endAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scratch.ChattingWith = partner
	c.scratch.ChattingEnd = endAt
	c.scratch.Turns = nil
}

// AddUtterance appends one turn to the live conversation transcript.
func (c *Controller) AddUtterance(speaker, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scratch.Turns = append(c.scratch.Turns, Utterance{Speaker: speaker, Text: text})
}

// EndConversation writes a chat summary node with a 7-day expiration, then
// a planning thought and a one-sentence memo, both citing the chat node as
// evidence, then clears the conversation scratch. A crash between the
// additions leaves the store valid but incomplete, which is acceptable.
func (c *Controller) EndConversation(ctx context.Context) (*memory.Node, error) {
	c.mu.Lock()
	partner := c.scratch.ChattingWith
	turns := c.scratch.Turns
	c.mu.Unlock()

	if partner == "" {
		return nil, nil
	}

	transcript := formatTranscript(turns)
	summary := c.summarizeConversation(ctx, partner, transcript, len(turns))

	poignancy := reflection.ScorePoignancy(ctx, c.router, c.persona.Name, c.persona.Archetype, summary, c.logger)
	vector, err := c.embedOne(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("embed chat summary: %w", err)
	}

	c.mu.Lock()
	created := c.now()
	expiration := created.Add(memory.ChatHorizon)
	triple := memory.Triple{Subject: c.persona.Name, Predicate: "chat with", Object: partner}
	chatNode := c.store.AddChat(created, &expiration, triple, summary,
		[]string{strings.ToLower(c.persona.Name), strings.ToLower(partner)},
		poignancy, summary, vector)
	c.mu.Unlock()

	c.conversationThought(ctx, chatNode,
		fmt.Sprintf("Given the conversation below, what should %s plan regarding %s going forward? One sentence.", c.persona.Name, partner),
		transcript)
	c.conversationThought(ctx, chatNode,
		fmt.Sprintf("Summarize in one sentence what %s will remember from this conversation with %s.", c.persona.Name, partner),
		transcript)

	c.mu.Lock()
	c.scratch.ResetConversation()
	c.mu.Unlock()

	c.logger.Info("conversation ended",
		zap.String("agent", c.persona.Name),
		zap.String("partner", partner),
		zap.Int("turns", len(turns)))
	return chatNode, nil
}

// conversationThought writes one post-conversation thought citing the chat
// node. Failures are logged, not returned: a missing thought is the worst
// visible symptom.
func (c *Controller) conversationThought(ctx context.Context, chatNode *memory.Node, instruction, transcript string) {
	text, err := c.router.Complete(ctx, c.persona.Name, c.persona.Identity()+" "+instruction, transcript)
	if err != nil {
		c.logger.Warn("post-conversation thought failed",
			zap.String("agent", c.persona.Name), zap.Error(err))
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	triple := reflection.DeriveTriple(ctx, c.router, c.persona.Name, text, c.logger)
	poignancy := reflection.ScorePoignancy(ctx, c.router, c.persona.Name, c.persona.Archetype, text, c.logger)
	vector, err := c.embedOne(ctx, text)
	if err != nil {
		c.logger.Warn("post-conversation embedding failed",
			zap.String("agent", c.persona.Name), zap.Error(err))
		vector = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	created := c.now()
	expiration := created.Add(memory.ThoughtHorizon)
	if _, err := c.store.AddThought(created, &expiration, triple, text,
		reflection.TripleKeywords(triple), poignancy, text, vector, []string{chatNode.ID}); err != nil {
		c.logger.Warn("post-conversation thought rejected",
			zap.String("agent", c.persona.Name), zap.Error(err))
		return
	}
	c.scratch.NoteImportance(poignancy)
}

// ChatWithUser answers a direct user message in persona, grounded in the
// agent's retrieved memories, and records the exchange as an event.
func (c *Controller) ChatWithUser(ctx context.Context, userMsg string) (string, error) {
	retrieved, err := c.retriever.Retrieve(ctx, []string{userMsg}, true)
	if err != nil {
		c.logger.Warn("user-chat retrieval failed, answering unretrieved",
			zap.String("agent", c.persona.Name), zap.Error(err))
	}

	var b strings.Builder
	b.WriteString(c.persona.Identity())
	if nodes := retrieved[userMsg]; len(nodes) > 0 {
		b.WriteString("\nWhat you remember that bears on this:\n")
		for _, n := range nodes {
			b.WriteString("- " + n.Description + "\n")
		}
	}
	b.WriteString("\nAnswer the visitor in your own voice, briefly.")

	reply, err := c.router.Complete(ctx, c.persona.Name, b.String(), userMsg)
	if err != nil {
		return "", fmt.Errorf("user chat: %w", err)
	}
	reply = strings.TrimSpace(reply)

	if _, err := c.Observe(ctx, fmt.Sprintf("%s spoke with a visitor about: %s", c.persona.Name, userMsg)); err != nil {
		c.logger.Warn("failed to record user chat", zap.String("agent", c.persona.Name), zap.Error(err))
	}
	return reply, nil
}

func (c *Controller) summarizeConversation(ctx context.Context, partner, transcript string, turns int) string {
	if turns == 0 {
		return fmt.Sprintf("%s exchanged greetings with %s", c.persona.Name, partner)
	}
	out, err := c.router.Complete(ctx, c.persona.Name,
		fmt.Sprintf("Summarize in one sentence what %s and %s discussed.", c.persona.Name, partner),
		transcript)
	if err != nil || strings.TrimSpace(out) == "" {
		return fmt.Sprintf("%s conversed with %s over %d remarks", c.persona.Name, partner, turns)
	}
	return strings.TrimSpace(out)
}

func (c *Controller) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

func formatTranscript(turns []Utterance) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Speaker + ": " + t.Text + "\n")
	}
	return b.String()
}
