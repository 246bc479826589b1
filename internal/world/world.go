package world

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/agent"
	"github.com/elea/athenaeum/internal/dialogue"
	"github.com/elea/athenaeum/internal/events"
	"github.com/elea/athenaeum/internal/memory"
)

const (
	floorWidth  = 100.0
	floorHeight = 100.0
	stepSize    = 2.0
	proximity   = 12.0
)

// activities an unoccupied philosopher may drift into. The idle entry
// feeds the poignancy fast path.
var activities = []string{
	"is reading in the stacks",
	"is annotating a manuscript",
	"is pacing the colonnade deep in thought",
	"is tracing an argument on a wax tablet",
	memory.IdleMarker,
}

// DialogueArchiver persists finished dialogues. Satisfied by the
// PostgreSQL store; nil when no persistence is configured.
type DialogueArchiver interface {
	SaveDialogue(ctx context.Context, d *dialogue.Dialogue) error
}

// World is the simulated library floor. The fast path (OnTick) moves
// agents and never calls external services; the slow path (Beat) observes,
// reflects, and converses, and is driven by the Heartbeat with at most one
// in-flight beat per agent.
type World struct {
	registry  *agent.Registry
	dialogues *dialogue.Manager
	bus       *events.Bus // nil when no event bus is configured
	archive   DialogueArchiver

	inDialogue map[string]string // agentID -> dialogueID
	mu         sync.Mutex
	rng        *rand.Rand
	logger     *zap.Logger
}

// NewWorld creates the library floor. bus may be nil.
func NewWorld(registry *agent.Registry, dialogues *dialogue.Manager, bus *events.Bus, logger *zap.Logger) *World {
	return &World{
		registry:   registry,
		dialogues:  dialogues,
		bus:        bus,
		inDialogue: make(map[string]string),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:     logger,
	}
}

// SetArchiver wires a persistence sink for finished dialogues.
func (w *World) SetArchiver(a DialogueArchiver) { w.archive = a }

// OnTick implements ClockListener: the fast movement path. Pure local
// math, never blocked by the slow path. Scratch access goes through the
// controller's locked accessors so movement never races a beat.
func (w *World) OnTick(worldTime time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.registry.List() {
		// Conversing agents stay put.
		if c.InConversation() {
			continue
		}
		pos := c.Position()
		c.SetPosition(agent.Position{
			X: clamp(pos.X+(w.rng.Float64()*2-1)*stepSize, 0, floorWidth),
			Y: clamp(pos.Y+(w.rng.Float64()*2-1)*stepSize, 0, floorHeight),
		})
	}
}

// Beat runs one slow-path cycle for the agent: advance its dialogue if it
// has one, otherwise observe, maybe reflect, and maybe strike up a
// conversation. Errors are logged, never propagated: the worst symptom of
// a failed beat is a missing thought or utterance.
func (w *World) Beat(ctx context.Context, agentID string) {
	c, ok := w.registry.Get(agentID)
	if !ok {
		return
	}

	if did := w.dialogueOf(agentID); did != "" {
		w.advanceDialogue(ctx, did, agentID)
		return
	}

	w.observeSurroundings(ctx, c)

	thoughts, err := c.MaybeReflect(ctx)
	if err != nil {
		w.logger.Warn("reflection failed", zap.String("agent", agentID), zap.Error(err))
	}
	for _, t := range thoughts {
		w.publish(ctx, "thought_created", agentID, t.Description)
	}

	w.maybeInitiate(ctx, c)
}

// EnterDialogue records both participants as members of the dialogue, used
// when a dialogue is started outside the heartbeat (e.g. via the API).
func (w *World) EnterDialogue(d *dialogue.Dialogue) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inDialogue[d.Participants[0]] = d.ID
	w.inDialogue[d.Participants[1]] = d.ID
}

func (w *World) dialogueOf(agentID string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inDialogue[agentID]
}

func (w *World) leaveDialogue(d *dialogue.Dialogue) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inDialogue, d.Participants[0])
	delete(w.inDialogue, d.Participants[1])
}

// advanceDialogue generates the agent's turn when it is up, or ends the
// dialogue once it has run its course. The first participant drives the
// ending so it happens once.
func (w *World) advanceDialogue(ctx context.Context, dialogueID, agentID string) {
	d, ok := w.dialogues.Get(dialogueID)
	if !ok {
		// Ended elsewhere; clear the stale membership.
		w.mu.Lock()
		delete(w.inDialogue, agentID)
		w.mu.Unlock()
		return
	}

	over, err := w.dialogues.ShouldEnd(dialogueID)
	if err != nil {
		w.logger.Warn("dialogue end check failed", zap.String("dialogue", dialogueID), zap.Error(err))
		return
	}
	if over {
		if agentID != d.Participants[0] {
			return
		}
		ended, err := w.dialogues.End(ctx, dialogueID)
		if err != nil {
			w.logger.Warn("dialogue end failed", zap.String("dialogue", dialogueID), zap.Error(err))
			return
		}
		w.leaveDialogue(ended)
		if w.archive != nil {
			if err := w.archive.SaveDialogue(ctx, ended); err != nil {
				w.logger.Warn("dialogue archive failed", zap.String("dialogue", dialogueID), zap.Error(err))
			}
		}
		w.publish(ctx, "dialogue_ended", agentID, ended.Topic)
		return
	}

	// Turns alternate: participant 0 speaks on even counts.
	if d.Participants[len(d.Turns)%2] != agentID {
		return
	}
	turn, err := w.dialogues.GenerateTurn(ctx, dialogueID, agentID)
	if err != nil {
		if err == dialogue.ErrTurnInFlight {
			return
		}
		w.logger.Warn("turn generation failed", zap.String("dialogue", dialogueID), zap.Error(err))
		return
	}
	w.publish(ctx, "dialogue_turn", agentID, turn.Text)
}

// observeSurroundings records what the agent perceives this beat: the
// nearest agent within range, or its own drifting activity.
func (w *World) observeSurroundings(ctx context.Context, c *agent.Controller) {
	name := c.Persona().Name
	if other := w.nearest(c); other != nil {
		activity := other.Activity()
		if activity == "" {
			activity = memory.IdleMarker
		}
		desc := fmt.Sprintf("%s sees %s %s", name, other.Persona().Name, activity)
		if _, err := c.Observe(ctx, desc); err != nil {
			w.logger.Warn("observation failed", zap.String("agent", name), zap.Error(err))
		}
		return
	}

	w.mu.Lock()
	activity := activities[w.rng.Intn(len(activities))]
	w.mu.Unlock()
	c.SetActivity(activity)
	if _, err := c.Observe(ctx, name+" "+activity); err != nil {
		w.logger.Warn("observation failed", zap.String("agent", name), zap.Error(err))
	}
}

// maybeInitiate asks the dialogue manager whether the agent should start a
// conversation with its nearest neighbor.
func (w *World) maybeInitiate(ctx context.Context, c *agent.Controller) {
	other := w.nearest(c)
	if other == nil || other.InConversation() {
		return
	}

	yes, err := w.dialogues.ShouldInitiate(ctx, c.Persona().ID, other.Persona().ID)
	if err != nil {
		w.logger.Warn("initiation check failed", zap.String("agent", c.Persona().Name), zap.Error(err))
		return
	}
	if !yes {
		return
	}

	d, err := w.dialogues.Start(ctx, c.Persona().ID, other.Persona().ID, "")
	if err != nil {
		w.logger.Warn("dialogue start failed", zap.String("agent", c.Persona().Name), zap.Error(err))
		return
	}
	w.EnterDialogue(d)
	w.publish(ctx, "dialogue_started", c.Persona().ID, d.Topic)
}

// nearest returns the closest other agent within conversation range.
func (w *World) nearest(c *agent.Controller) *agent.Controller {
	pos := c.Position()
	var best *agent.Controller
	bestDist := proximity
	for _, other := range w.registry.List() {
		if other.Persona().ID == c.Persona().ID {
			continue
		}
		d := distance(pos, other.Position())
		if d <= bestDist {
			best = other
			bestDist = d
		}
	}
	return best
}

func (w *World) publish(ctx context.Context, eventType, agentID, payload string) {
	if w.bus == nil {
		return
	}
	if err := w.bus.Publish(ctx, &events.Event{
		Type:    eventType,
		Agent:   agentID,
		Payload: payload,
	}); err != nil {
		w.logger.Warn("event publish failed", zap.String("type", eventType), zap.Error(err))
	}
}

func distance(a, b agent.Position) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
