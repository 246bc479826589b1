package dialogue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/agent"
	"github.com/elea/athenaeum/internal/corpus"
	"github.com/elea/athenaeum/internal/memory"
	"github.com/elea/athenaeum/internal/provider"
)

const (
	turnMemories    = 10
	turnPassages    = 3
	passageBudget   = 1000 // formatted passage characters per turn prompt
	citationExcerpt = 200
	maxCitations    = 2
)

// Manager coordinates conversations between pairs of agents. "Already
// conversing" is an advisory guard checked before committing a transition,
// not a mutual-exclusion lock; callers must not start two dialogues
// touching the same agent in an overlapping window.
type Manager struct {
	registry *agent.Registry
	library  *corpus.Library
	router   *provider.Router

	active   map[string]*Dialogue
	inFlight map[string]bool // per-dialogue turn-generation guard
	archive  []*Dialogue
	mu       sync.Mutex

	now    func() time.Time
	logger *zap.Logger
}

// NewManager creates a dialogue manager. library may be nil when no corpus
// service is configured; turns are then generated ungrounded.
func NewManager(registry *agent.Registry, library *corpus.Library, router *provider.Router, logger *zap.Logger) *Manager {
	return &Manager{
		registry: registry,
		library:  library,
		router:   router,
		active:   make(map[string]*Dialogue),
		inFlight: make(map[string]bool),
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides the manager's time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Get returns an active dialogue by ID.
func (m *Manager) Get(id string) (*Dialogue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.active[id]
	return d, ok
}

// Active returns all in-progress dialogues.
func (m *Manager) Active() []*Dialogue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Dialogue, 0, len(m.active))
	for _, d := range m.active {
		out = append(out, d)
	}
	return out
}

// Archive returns finished dialogues, oldest first.
func (m *Manager) Archive() []*Dialogue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Dialogue(nil), m.archive...)
}

// ShouldInitiate decides whether a should strike up a conversation with b.
// Refuses outright when either party is already conversing; otherwise the
// shared history (if any) is summarized and the model answers yes or no.
// Only a leading "YES" counts as yes.
func (m *Manager) ShouldInitiate(ctx context.Context, aID, bID string) (bool, error) {
	a, b, err := m.pair(aID, bID)
	if err != nil {
		return false, err
	}
	if a.InConversation() || b.InConversation() {
		return false, nil
	}

	history := m.sharedHistory(ctx, a, b.Persona().Name)
	prompt := fmt.Sprintf("%s notices %s nearby in the library.", a.Persona().Name, b.Persona().Name)
	if history != "" {
		prompt += "\nWhat they share so far: " + history
	}
	prompt += fmt.Sprintf("\nWould %s initiate a conversation right now? Answer YES or NO, then a one-line reason.", a.Persona().Name)

	out, err := m.router.Complete(ctx, a.Persona().Name, a.Persona().Identity(), prompt)
	if err != nil {
		return false, fmt.Errorf("initiation check: %w", err)
	}
	return leadingYes(out), nil
}

// Start opens a dialogue. An empty topic is generated from both agents'
// recent insights. Both agents are marked conversing with a shared end
// time ten simulated minutes out.
func (m *Manager) Start(ctx context.Context, aID, bID, topic string) (*Dialogue, error) {
	a, b, err := m.pair(aID, bID)
	if err != nil {
		return nil, err
	}
	if a.InConversation() || b.InConversation() {
		return nil, ErrAlreadyConversing
	}

	if topic == "" {
		topic = m.generateTopic(ctx, a, b)
	}

	started := m.now()
	endAt := started.Add(simulatedDuration)
	d := &Dialogue{
		ID:           uuid.New().String(),
		Participants: [2]string{aID, bID},
		Style:        a.Persona().Style + " / " + b.Persona().Style,
		Topic:        topic,
		Started:      started,
	}

	a.StartConversation(b.Persona().Name, endAt)
	b.StartConversation(a.Persona().Name, endAt)

	m.mu.Lock()
	m.active[d.ID] = d
	m.mu.Unlock()

	m.logger.Info("dialogue started",
		zap.String("id", d.ID),
		zap.String("topic", topic),
		zap.String("a", a.Persona().Name),
		zap.String("b", b.Persona().Name))
	return d, nil
}

// GenerateTurn produces the next utterance for speakerID. At most one turn
// per dialogue is in flight at a time; a second call while one is running
// returns ErrTurnInFlight and the caller drops the tick. The dialogue
// record is only mutated after both the utterance and the move
// classification complete.
func (m *Manager) GenerateTurn(ctx context.Context, dialogueID, speakerID string) (*Turn, error) {
	m.mu.Lock()
	d, ok := m.active[dialogueID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDialogueNotFound, dialogueID)
	}
	if m.inFlight[dialogueID] {
		m.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	m.inFlight[dialogueID] = true
	transcript := formatTurns(d.Turns)
	topic := d.Topic
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inFlight, dialogueID)
		m.mu.Unlock()
	}()

	speaker, partner, err := m.speakerAndPartner(d, speakerID)
	if err != nil {
		return nil, err
	}
	name := speaker.Persona().Name

	retrieved, err := speaker.RetrieveForDialogue(ctx, topic, partner.Persona().Name)
	if err != nil {
		m.logger.Warn("dialogue retrieval failed, generating unretrieved",
			zap.String("agent", name), zap.Error(err))
	}

	passages := m.fetchPassages(ctx, name, topic)

	utterance, err := m.router.Complete(ctx, name,
		speaker.Persona().Identity(),
		turnPrompt(name, partner.Persona().Name, topic, transcript, retrievedDescriptions(retrieved), passages))
	if err != nil {
		return nil, fmt.Errorf("generate utterance: %w", err)
	}
	utterance = strings.TrimSpace(utterance)

	move := m.classify(ctx, name, utterance)

	turn := Turn{
		Speaker:   name,
		Text:      utterance,
		Move:      move,
		Citations: citations(passages),
		At:        m.now(),
	}

	m.mu.Lock()
	d.Turns = append(d.Turns, turn)
	m.mu.Unlock()

	speaker.AddUtterance(name, utterance)
	partner.AddUtterance(name, utterance)
	return &turn, nil
}

// ShouldEnd reports whether the dialogue has run its course: the turn cap
// is reached or the simulated end time has passed.
func (m *Manager) ShouldEnd(dialogueID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.active[dialogueID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrDialogueNotFound, dialogueID)
	}
	if len(d.Turns) >= MaxConversationTurns {
		return true, nil
	}
	return m.now().After(d.Started.Add(simulatedDuration)), nil
}

// End closes the dialogue: stamps the end time, summarizes into the three
// labeled lists when any turns exist (zero-turn dialogues skip the model
// call entirely), runs both participants' conversation-end bookkeeping,
// and evicts the dialogue from the active set.
func (m *Manager) End(ctx context.Context, dialogueID string) (*Dialogue, error) {
	m.mu.Lock()
	d, ok := m.active[dialogueID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDialogueNotFound, dialogueID)
	}
	d.Ended = m.now()
	transcript := formatTurns(d.Turns)
	hasTurns := len(d.Turns) > 0
	m.mu.Unlock()

	if hasTurns {
		out, err := m.router.Complete(ctx, d.Participants[0],
			"Summarize the conversation in three labeled sections: KEY INSIGHTS, UNRESOLVED QUESTIONS, SOURCES. Bullet each item.",
			transcript)
		if err != nil {
			m.logger.Warn("dialogue summary failed", zap.String("id", dialogueID), zap.Error(err))
		} else {
			insights, unresolved, sources := parseSummarySections(out)
			m.mu.Lock()
			d.KeyInsights = insights
			d.Unresolved = unresolved
			d.Sources = sources
			m.mu.Unlock()
		}
	}

	for _, pid := range d.Participants {
		c, ok := m.registry.Get(pid)
		if !ok {
			continue
		}
		if _, err := c.EndConversation(ctx); err != nil {
			m.logger.Warn("conversation-end bookkeeping failed",
				zap.String("agent", pid), zap.Error(err))
		}
	}

	m.mu.Lock()
	delete(m.active, dialogueID)
	m.archive = append(m.archive, d)
	m.mu.Unlock()

	m.logger.Info("dialogue ended",
		zap.String("id", dialogueID),
		zap.Int("turns", len(d.Turns)),
		zap.Int("insights", len(d.KeyInsights)))
	return d, nil
}

func (m *Manager) pair(aID, bID string) (*agent.Controller, *agent.Controller, error) {
	a, ok := m.registry.Get(aID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrParticipantUnknown, aID)
	}
	b, ok := m.registry.Get(bID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrParticipantUnknown, bID)
	}
	return a, b, nil
}

func (m *Manager) speakerAndPartner(d *Dialogue, speakerID string) (*agent.Controller, *agent.Controller, error) {
	var partnerID string
	switch speakerID {
	case d.Participants[0]:
		partnerID = d.Participants[1]
	case d.Participants[1]:
		partnerID = d.Participants[0]
	default:
		return nil, nil, fmt.Errorf("%w: %s not in dialogue %s", ErrParticipantUnknown, speakerID, d.ID)
	}
	return m.pair(speakerID, partnerID)
}

// sharedHistory summarizes what a remembers about the partner. An empty
// string means no shared history.
func (m *Manager) sharedHistory(ctx context.Context, a *agent.Controller, partnerName string) string {
	nodes := a.Memory().ByKeyword(strings.ToLower(partnerName))
	if len(nodes) == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(n.Description + "\n")
	}
	out, err := m.router.Complete(ctx, a.Persona().Name,
		fmt.Sprintf("Summarize in one sentence the history between %s and %s.", a.Persona().Name, partnerName),
		b.String())
	if err != nil {
		m.logger.Warn("shared-history summary failed",
			zap.String("agent", a.Persona().Name), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(out)
}

func (m *Manager) generateTopic(ctx context.Context, a, b *agent.Controller) string {
	var recent []string
	for _, c := range []*agent.Controller{a, b} {
		for _, n := range c.RecentInsights() {
			recent = append(recent, n.Description)
		}
	}
	prompt := fmt.Sprintf("Suggest a single debate topic, a short phrase, for %s (%s) and %s (%s).",
		a.Persona().Name, a.Persona().Archetype, b.Persona().Name, b.Persona().Archetype)
	if len(recent) > 0 {
		prompt += "\nRecently on their minds:\n" + strings.Join(recent, "\n")
	}
	out, err := m.router.Complete(ctx, a.Persona().Name, "You suggest debate topics. Respond with the topic only.", prompt)
	if err != nil || strings.TrimSpace(out) == "" {
		return "the nature of knowledge"
	}
	return strings.TrimSpace(out)
}

func (m *Manager) fetchPassages(ctx context.Context, philosopher, topic string) []corpus.Passage {
	if m.library == nil {
		return nil
	}
	passages, err := m.library.Passages(ctx, philosopher, topic, turnPassages)
	if err != nil {
		m.logger.Warn("passage fetch failed, continuing ungrounded",
			zap.String("philosopher", philosopher), zap.Error(err))
		return nil
	}
	return passages
}

func (m *Manager) classify(ctx context.Context, name, utterance string) Move {
	out, err := m.router.Complete(ctx, name,
		"Classify the utterance's rhetorical move. Respond with exactly one of: thesis, antithesis, synthesis, question, objection, clarification, evidence, concession.",
		utterance)
	if err != nil {
		m.logger.Warn("move classification failed, defaulting",
			zap.String("agent", name), zap.Error(err))
		return MoveClarification
	}
	return classifyMove(out)
}

func turnPrompt(speaker, partner, topic, transcript string, memories []string, passages []corpus.Passage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, debating %s about: %s\n", speaker, partner, topic)
	if transcript != "" {
		b.WriteString("\nConversation so far:\n" + transcript)
	}
	if len(memories) > 0 {
		b.WriteString("\nWhat you remember that bears on this:\n")
		for _, d := range memories {
			b.WriteString("- " + d + "\n")
		}
	}
	if block := formatPassages(passages); block != "" {
		b.WriteString("\nPassages you may quote:\n" + block)
	}
	b.WriteString("\nRespond with your next remark only.")
	return b.String()
}

// retrievedDescriptions flattens a dialogue retrieval into the top
// descriptions fed to the turn prompt: topical memories first, then what
// the speaker remembers about the partner.
func retrievedDescriptions(r *memory.DialogueRetrieval) []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, n := range r.Topical {
		if len(out) == turnMemories {
			break
		}
		out = append(out, n.Description)
	}
	for _, n := range r.Relationship {
		out = append(out, n.Description)
	}
	return out
}

// formatPassages renders passages within the per-turn character budget.
func formatPassages(passages []corpus.Passage) string {
	var b strings.Builder
	for _, p := range passages {
		entry := fmt.Sprintf("%q — %s\n", p.Text, p.Citation)
		if b.Len()+len(entry) > passageBudget {
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}

// citations tags the first two passages as the turn's grounding, excerpted
// to 200 characters. The relevance label is computed from the passage's
// cache-similarity score when one exists.
func citations(passages []corpus.Passage) []Citation {
	var out []Citation
	for i, p := range passages {
		if i == maxCitations {
			break
		}
		label := "supporting context"
		if p.Score > 0 {
			label = fmt.Sprintf("relevance %.0f%%", p.Score*100)
		}
		out = append(out, Citation{
			Text:      truncate(p.Text, citationExcerpt),
			Source:    p.Citation,
			Relevance: label,
		})
	}
	return out
}

func formatTurns(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Speaker + ": " + t.Text + "\n")
	}
	return b.String()
}
