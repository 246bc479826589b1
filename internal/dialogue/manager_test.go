package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/agent"
	"github.com/elea/athenaeum/internal/corpus"
	"github.com/elea/athenaeum/internal/provider"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// scriptProvider answers by matching substrings anywhere in the request
// messages, recording every request for later assertions.
type scriptProvider struct {
	responses map[string]string
	err       error
	calls     []string
}

func (p *scriptProvider) ID() string   { return "script" }
func (p *scriptProvider) Name() string { return "Script" }

func (p *scriptProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	var b strings.Builder
	for _, msg := range req.Messages {
		b.WriteString(msg.Content)
		b.WriteByte('\n')
	}
	full := b.String()
	p.calls = append(p.calls, full)
	if p.err != nil {
		return nil, p.err
	}
	for substr, reply := range p.responses {
		if strings.Contains(full, substr) {
			return &provider.ChatResponse{Content: reply}, nil
		}
	}
	return &provider.ChatResponse{Content: ""}, nil
}

func (p *scriptProvider) HealthCheck(context.Context) error { return nil }

func (p *scriptProvider) sawPrompt(substr string) bool {
	for _, c := range p.calls {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

type fixedEmbedder struct{ dim int }

func (e *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, e.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (e *fixedEmbedder) Dimension() int { return e.dim }

func testManager(t *testing.T, p provider.Provider) (*Manager, string, string) {
	t.Helper()
	router := provider.NewRouter(zap.NewNop())
	router.Register(p)
	registry := agent.NewRegistry(zap.NewNop())
	emb := &fixedEmbedder{dim: 2}

	a := agent.NewController(&agent.Persona{ID: "theophilus", Name: "Theophilus", Archetype: "stoic", Style: "aphoristic"},
		router, emb, zap.NewNop())
	b := agent.NewController(&agent.Persona{ID: "kallias", Name: "Kallias", Archetype: "empiricist", Style: "systematic"},
		router, emb, zap.NewNop())
	registry.Register(a)
	registry.Register(b)

	m := NewManager(registry, nil, router, zap.NewNop())
	m.SetClock(func() time.Time { return t0 })
	return m, "theophilus", "kallias"
}

func turnScript() map[string]string {
	return map[string]string{
		"next remark only":       "The river is never the same twice.",
		"Classify the utterance": "antithesis",
		"three labeled sections": "KEY INSIGHTS:\n- nothing persists unaided\nUNRESOLVED QUESTIONS:\n- what carries identity\nSOURCES:\n- Heraclitus, fr. 12",
		"discussed.":             "They argued over the river fragment.",
		"plan regarding":         "Return to the argument with fresh examples.",
		"will remember":          "The name is not the thing.",
		"Reduce the statement":   "Theophilus | debates | flux",
		"rate the significance":  "5",
	}
}

func TestStartWithExplicitTopicSkipsTopicGeneration(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, bID := testManager(t, stub)

	d, err := m.Start(context.Background(), aID, bID, "the persistence of identity")
	if err != nil {
		t.Fatal(err)
	}
	if d.Topic != "the persistence of identity" {
		t.Fatalf("topic = %q", d.Topic)
	}
	if stub.sawPrompt("You suggest debate topics") {
		t.Fatal("explicit topics must not trigger topic generation")
	}

	a, _ := m.registry.Get(aID)
	b, _ := m.registry.Get(bID)
	if !a.Scratch().InConversation() || !b.Scratch().InConversation() {
		t.Fatal("both participants must be marked conversing")
	}
	if a.Scratch().ChattingWith != "Kallias" || b.Scratch().ChattingWith != "Theophilus" {
		t.Fatal("participants must record each other as partners")
	}
}

func TestStartRefusesBusyParticipant(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, bID := testManager(t, stub)

	if _, err := m.Start(context.Background(), aID, bID, "topic one"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background(), aID, bID, "topic two"); !errors.Is(err, ErrAlreadyConversing) {
		t.Fatalf("err = %v, want ErrAlreadyConversing", err)
	}
}

func TestStartUnknownParticipant(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, _ := testManager(t, stub)

	if _, err := m.Start(context.Background(), aID, "nobody", "x"); !errors.Is(err, ErrParticipantUnknown) {
		t.Fatalf("err = %v, want ErrParticipantUnknown", err)
	}
}

func TestGenerateTurnAppendsAndShares(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, bID := testManager(t, stub)

	d, err := m.Start(context.Background(), aID, bID, "flux")
	if err != nil {
		t.Fatal(err)
	}
	turn, err := m.GenerateTurn(context.Background(), d.ID, aID)
	if err != nil {
		t.Fatal(err)
	}
	if turn.Speaker != "Theophilus" || turn.Text != "The river is never the same twice." {
		t.Fatalf("turn = %+v", turn)
	}
	if turn.Move != MoveAntithesis {
		t.Fatalf("move = %s, want antithesis", turn.Move)
	}

	got, _ := m.Get(d.ID)
	if len(got.Turns) != 1 {
		t.Fatalf("dialogue has %d turns, want 1", len(got.Turns))
	}

	// Both participants carry the utterance in their live transcripts.
	a, _ := m.registry.Get(aID)
	b, _ := m.registry.Get(bID)
	if len(a.Scratch().Turns) != 1 || len(b.Scratch().Turns) != 1 {
		t.Fatal("utterance must be shared with both participants")
	}
}

func TestGenerateTurnUnknownDialogue(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, _ := testManager(t, stub)

	if _, err := m.GenerateTurn(context.Background(), "missing", aID); !errors.Is(err, ErrDialogueNotFound) {
		t.Fatalf("err = %v, want ErrDialogueNotFound", err)
	}
}

func TestGenerateTurnOutsiderRejected(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, bID := testManager(t, stub)
	d, _ := m.Start(context.Background(), aID, bID, "flux")

	if _, err := m.GenerateTurn(context.Background(), d.ID, "nobody"); !errors.Is(err, ErrParticipantUnknown) {
		t.Fatalf("err = %v, want ErrParticipantUnknown", err)
	}
}

func TestShouldEndAtTurnCap(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, bID := testManager(t, stub)
	d, _ := m.Start(context.Background(), aID, bID, "flux")

	ids := [2]string{aID, bID}
	for i := 0; i < MaxConversationTurns; i++ {
		if done, err := m.ShouldEnd(d.ID); err != nil || done {
			t.Fatalf("turn %d: ShouldEnd = (%v, %v)", i, done, err)
		}
		if _, err := m.GenerateTurn(context.Background(), d.ID, ids[i%2]); err != nil {
			t.Fatal(err)
		}
	}
	done, err := m.ShouldEnd(d.ID)
	if err != nil || !done {
		t.Fatalf("ShouldEnd after %d turns = (%v, %v), want true", MaxConversationTurns, done, err)
	}
}

func TestShouldEndAtSimulatedDeadline(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, bID := testManager(t, stub)
	d, _ := m.Start(context.Background(), aID, bID, "flux")

	m.SetClock(func() time.Time { return t0.Add(simulatedDuration + time.Second) })
	done, err := m.ShouldEnd(d.ID)
	if err != nil || !done {
		t.Fatalf("ShouldEnd past the deadline = (%v, %v), want true", done, err)
	}
}

func TestEndSummarizesAndArchives(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, bID := testManager(t, stub)
	d, _ := m.Start(context.Background(), aID, bID, "flux")
	if _, err := m.GenerateTurn(context.Background(), d.ID, aID); err != nil {
		t.Fatal(err)
	}

	ended, err := m.End(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ended.KeyInsights) != 1 || len(ended.Unresolved) != 1 || len(ended.Sources) != 1 {
		t.Fatalf("summary sections = (%v, %v, %v)", ended.KeyInsights, ended.Unresolved, ended.Sources)
	}
	if ended.Ended.IsZero() {
		t.Fatal("end time not stamped")
	}

	if _, ok := m.Get(d.ID); ok {
		t.Fatal("ended dialogue must leave the active set")
	}
	if got := m.Archive(); len(got) != 1 || got[0].ID != d.ID {
		t.Fatal("ended dialogue must be archived")
	}

	a, _ := m.registry.Get(aID)
	b, _ := m.registry.Get(bID)
	if a.Scratch().InConversation() || b.Scratch().InConversation() {
		t.Fatal("both participants must be released")
	}
}

func TestEndZeroTurnsSkipsSummaryCall(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, bID := testManager(t, stub)
	d, _ := m.Start(context.Background(), aID, bID, "flux")

	ended, err := m.End(context.Background(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ended.KeyInsights) != 0 {
		t.Fatalf("zero-turn dialogue has insights: %v", ended.KeyInsights)
	}
	if stub.sawPrompt("three labeled sections") {
		t.Fatal("zero-turn dialogues must not call the model for a summary")
	}
}

// gateProvider blocks every completion until released, to hold a turn in
// flight.
type gateProvider struct {
	entered chan struct{}
	release chan struct{}
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
	return &provider.ChatResponse{Content: "held remark"}, nil
}

func (p *gateProvider) HealthCheck(context.Context) error { return nil }

func TestGenerateTurnInFlightGuard(t *testing.T) {
	gate := &gateProvider{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m, aID, bID := testManager(t, gate)
	// An explicit topic keeps Start off the model entirely.
	d, err := m.Start(context.Background(), aID, bID, "flux")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.GenerateTurn(context.Background(), d.ID, aID)
		done <- err
	}()
	<-gate.entered

	if _, err := m.GenerateTurn(context.Background(), d.ID, bID); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("err = %v, want ErrTurnInFlight", err)
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("held turn failed: %v", err)
	}
}

func TestShouldInitiateRefusesBusyAgents(t *testing.T) {
	stub := &scriptProvider{responses: turnScript()}
	m, aID, bID := testManager(t, stub)
	if _, err := m.Start(context.Background(), aID, bID, "flux"); err != nil {
		t.Fatal(err)
	}

	ok, err := m.ShouldInitiate(context.Background(), aID, bID)
	if err != nil || ok {
		t.Fatalf("got (%v, %v), want (false, nil) while conversing", ok, err)
	}
}

func TestShouldInitiateLeadingYesOnly(t *testing.T) {
	for reply, want := range map[string]bool{
		"YES, their schools clash productively.": true,
		"NO. Nothing to discuss.":                false,
		"Perhaps yes, perhaps no.":               false,
	} {
		stub := &scriptProvider{responses: map[string]string{"initiate a conversation": reply}}
		m, aID, bID := testManager(t, stub)
		ok, err := m.ShouldInitiate(context.Background(), aID, bID)
		if err != nil {
			t.Fatal(err)
		}
		if ok != want {
			t.Fatalf("reply %q → %v, want %v", reply, ok, want)
		}
	}
}

func TestCitationsLabels(t *testing.T) {
	passages := []corpus.Passage{
		{Text: strings.Repeat("x", 300), Citation: "Physics I.7", Score: 0.82},
		{Text: "short", Citation: "Physics I.8"},
		{Text: "never cited", Citation: "Physics I.9", Score: 0.9},
	}
	got := citations(passages)
	if len(got) != maxCitations {
		t.Fatalf("got %d citations, want %d", len(got), maxCitations)
	}
	if got[0].Relevance != "relevance 82%" {
		t.Fatalf("label = %q", got[0].Relevance)
	}
	if len(got[0].Text) != citationExcerpt {
		t.Fatalf("excerpt length = %d, want %d", len(got[0].Text), citationExcerpt)
	}
	if got[1].Relevance != "supporting context" {
		t.Fatalf("label = %q", got[1].Relevance)
	}
}
