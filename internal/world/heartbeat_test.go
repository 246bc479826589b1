package world

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/agent"
	"github.com/elea/athenaeum/internal/dialogue"
	"github.com/elea/athenaeum/internal/provider"
)

// gateProvider blocks every completion until released, signalling entry.
type gateProvider struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gateProvider) ID() string   { return "gate" }
func (p *gateProvider) Name() string { return "Gate" }

func (p *gateProvider) Chat(ctx context.Context, _ *provider.ChatRequest) (*provider.ChatResponse, error) {
	select {
	case p.entered <- struct{}{}:
	default:
	}
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &provider.ChatResponse{Content: "NO"}, nil
}

func (p *gateProvider) HealthCheck(context.Context) error { return nil }

func (p *gateProvider) open() { p.once.Do(func() { close(p.release) }) }

func gatedFloor(t *testing.T, names ...string) (*World, *agent.Registry, *gateProvider) {
	t.Helper()
	gate := &gateProvider{entered: make(chan struct{}, 16), release: make(chan struct{})}
	router := provider.NewRouter(zap.NewNop())
	router.Register(gate)
	registry := agent.NewRegistry(zap.NewNop())
	for _, name := range names {
		c := agent.NewController(&agent.Persona{ID: strings.ToLower(name), Name: name, Archetype: "stoic"},
			router, &fixedEmbedder{dim: 2}, zap.NewNop())
		registry.Register(c)
	}
	dialogues := dialogue.NewManager(registry, nil, router, zap.NewNop())
	w := NewWorld(registry, dialogues, nil, zap.NewNop())
	return w, registry, gate
}

func TestFireNowStartsOneBeatPerAgent(t *testing.T) {
	w, registry, gate := gatedFloor(t, "Theophilus", "Kallias")
	h := NewHeartbeat(time.Minute, w, registry, zap.NewNop())
	defer gate.open()

	if fired := h.FireNow(); fired != 2 {
		t.Fatalf("fired = %d, want 2", fired)
	}
}

func TestFireNowDropsBusyAgents(t *testing.T) {
	// Agents far apart so each beat holds exactly one model call.
	w, registry, gate := gatedFloor(t, "Theophilus", "Kallias")
	a, _ := registry.Get("theophilus")
	b, _ := registry.Get("kallias")
	a.Scratch().Position = agent.Position{X: 0, Y: 0}
	b.Scratch().Position = agent.Position{X: 90, Y: 90}
	h := NewHeartbeat(time.Minute, w, registry, zap.NewNop())

	if fired := h.FireNow(); fired != 2 {
		t.Fatalf("first round fired %d, want 2", fired)
	}
	<-gate.entered
	<-gate.entered

	// Both beats are still blocked inside the model call.
	if fired := h.FireNow(); fired != 0 {
		t.Fatalf("second round fired %d while busy, want 0", fired)
	}
	gate.open()
}

func TestOnTickGatesOnSimulatedInterval(t *testing.T) {
	w, registry, gate := gatedFloor(t, "Theophilus")
	h := NewHeartbeat(time.Minute, w, registry, zap.NewNop())
	defer gate.open()

	// First tick only establishes the baseline.
	h.OnTick(t0)
	select {
	case <-gate.entered:
		t.Fatal("first tick must not fire a beat")
	case <-time.After(50 * time.Millisecond):
	}

	// Still inside the interval.
	h.OnTick(t0.Add(30 * time.Second))
	select {
	case <-gate.entered:
		t.Fatal("beat fired before the interval elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	// Interval elapsed in simulated time.
	h.OnTick(t0.Add(90 * time.Second))
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("beat did not fire after the interval elapsed")
	}
}
