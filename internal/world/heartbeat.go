package world

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/agent"
)

// beatTimeout bounds one slow-path cycle in wall-clock time.
const beatTimeout = 60 * time.Second

// Heartbeat is the slow-cadence ClockListener. Every interval of simulated
// time it fires one Beat per agent in its own goroutine, guarded by a
// per-agent re-entrancy flag: a beat that fires while the previous one is
// still in flight is dropped for that tick and re-evaluated on the next —
// no queuing.
type Heartbeat struct {
	interval time.Duration // simulated time between beats
	lastBeat time.Time
	world    *World
	registry *agent.Registry

	busy map[string]bool
	mu   sync.Mutex

	logger *zap.Logger
}

// NewHeartbeat creates a heartbeat listener over the world's slow path.
func NewHeartbeat(interval time.Duration, w *World, registry *agent.Registry, logger *zap.Logger) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		world:    w,
		registry: registry,
		busy:     make(map[string]bool),
		logger:   logger,
	}
}

// OnTick implements ClockListener.
func (h *Heartbeat) OnTick(worldTime time.Time) {
	h.mu.Lock()
	if h.lastBeat.IsZero() {
		h.lastBeat = worldTime
		h.mu.Unlock()
		return
	}
	if worldTime.Sub(h.lastBeat) < h.interval {
		h.mu.Unlock()
		return
	}
	h.lastBeat = worldTime
	h.mu.Unlock()

	for _, c := range h.registry.List() {
		h.fire(c.Persona().ID)
	}
}

// FireNow forces an immediate beat for all agents, bypassing the interval
// check. Returns how many beats were actually started.
func (h *Heartbeat) FireNow() int {
	fired := 0
	for _, c := range h.registry.List() {
		if h.fire(c.Persona().ID) {
			fired++
		}
	}
	return fired
}

// fire starts one beat goroutine for the agent unless one is already in
// flight.
func (h *Heartbeat) fire(agentID string) bool {
	h.mu.Lock()
	if h.busy[agentID] {
		h.mu.Unlock()
		h.logger.Debug("beat dropped, previous still in flight", zap.String("agent", agentID))
		return false
	}
	h.busy[agentID] = true
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.busy, agentID)
			h.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), beatTimeout)
		defer cancel()
		h.world.Beat(ctx, agentID)
	}()
	return true
}
