package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/agent"
	"github.com/elea/athenaeum/internal/dialogue"
	"github.com/elea/athenaeum/internal/events"
	"github.com/elea/athenaeum/internal/memory"
	pgstore "github.com/elea/athenaeum/internal/store"
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()

	pgDSN, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres: %v\n", err)
		os.Exit(1)
	}
	defer pgCleanup()

	testPGStore, err = pgstore.New(pgDSN, testLogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg store: %v\n", err)
		os.Exit(1)
	}
	defer testPGStore.Close()

	if err := testPGStore.Migrate(ctx, "../../migrations"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer redisCleanup()
	testRedisURL = redisURL

	os.Exit(m.Run())
}

func TestPersonaRoundTrip(t *testing.T) {
	ctx := context.Background()
	persona := &agent.Persona{
		ID:          "theophilus",
		Name:        "Theophilus",
		Archetype:   "stoic",
		School:      "Stoa",
		Era:         "hellenistic",
		Style:       "aphoristic",
		CoreBeliefs: []string{"virtue is the only good", "assent is the hinge of freedom"},
		Backstory:   "A former merchant who gave up his fortune after a shipwreck.",
	}
	require.NoError(t, testPGStore.SavePersona(ctx, persona))

	got, err := testPGStore.GetPersona(ctx, "theophilus")
	require.NoError(t, err)
	require.Equal(t, persona.Name, got.Name)
	require.Equal(t, persona.Archetype, got.Archetype)
	require.Equal(t, persona.CoreBeliefs, got.CoreBeliefs)

	// Upsert: a changed style replaces, not duplicates.
	persona.Style = "terse"
	require.NoError(t, testPGStore.SavePersona(ctx, persona))
	got, err = testPGStore.GetPersona(ctx, "theophilus")
	require.NoError(t, err)
	require.Equal(t, "terse", got.Style)

	all, err := testPGStore.ListPersonas(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, all)
}

func TestAgentStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testPGStore.SavePersona(ctx, &agent.Persona{
		ID: "kallias", Name: "Kallias", Archetype: "empiricist",
	}))

	mem := seedMemoryStore()
	scratch := agent.NewScratch(150)
	scratch.Position = agent.Position{X: 42, Y: 17}
	scratch.Activity = "is annotating a manuscript"
	scratch.NoteImportance(6)
	scratch.NoteImportance(7)

	require.NoError(t, testPGStore.SaveState(ctx, "kallias", scratch, mem.Snapshot()))

	loadedScratch, snap, err := testPGStore.LoadState(ctx, "kallias")
	require.NoError(t, err)
	require.Equal(t, scratch.Position, loadedScratch.Position)
	require.Equal(t, scratch.TriggerCurr, loadedScratch.TriggerCurr)
	require.Equal(t, scratch.EleN, loadedScratch.EleN)
	require.Equal(t, scratch.Activity, loadedScratch.Activity)

	restored, err := memory.Restore(snap, testLogger)
	require.NoError(t, err)
	require.Equal(t, mem.Len(), restored.Len())

	// The restored stream keeps evidence links and embeddings intact.
	thoughts := restored.RecentThoughts(5)
	require.Len(t, thoughts, 1)
	require.Len(t, thoughts[0].Evidence, 1)
	_, ok := restored.Node(thoughts[0].Evidence[0])
	require.True(t, ok, "evidence must resolve after restore")
	_, ok = restored.Embedding("matter persists beneath change")
	require.True(t, ok, "embedding cache must survive the round trip")

	// A later save replaces the snapshot.
	mem.AddEvent(t0.Add(time.Hour), nil, memory.Triple{Subject: "Kallias", Predicate: "counts", Object: "gulls"},
		"counts gulls from the portico", nil, 3, "counts gulls from the portico", nil)
	require.NoError(t, testPGStore.SaveState(ctx, "kallias", scratch, mem.Snapshot()))
	_, snap, err = testPGStore.LoadState(ctx, "kallias")
	require.NoError(t, err)
	require.Len(t, snap.Nodes, mem.Len())
}

func TestLoadStateUnknownAgent(t *testing.T) {
	_, _, err := testPGStore.LoadState(context.Background(), "nobody")
	require.Error(t, err)
}

func TestDialogueArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := &dialogue.Dialogue{
		ID:           "11111111-2222-3333-4444-555555555555",
		Participants: [2]string{"theophilus", "kallias"},
		Style:        "aphoristic / systematic",
		Topic:        "the persistence of identity",
		Started:      t0,
		Ended:        t0.Add(10 * time.Minute),
		Turns: []dialogue.Turn{
			{Speaker: "Theophilus", Text: "Does the river remain?", Move: dialogue.MoveQuestion, At: t0},
			{Speaker: "Kallias", Text: "Only the name remains.", Move: dialogue.MoveAntithesis, At: t0.Add(time.Minute),
				Citations: []dialogue.Citation{{Text: "everything flows", Source: "fr. 12", Relevance: "relevance 82%"}}},
		},
		KeyInsights: []string{"names outlive their bearers"},
		Unresolved:  []string{"what carries identity"},
		Sources:     []string{"Heraclitus, fr. 12"},
	}
	require.NoError(t, testPGStore.SaveDialogue(ctx, d))

	listed, err := testPGStore.ListDialogues(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, listed)

	var got *dialogue.Dialogue
	for _, x := range listed {
		if x.ID == d.ID {
			got = x
		}
	}
	require.NotNil(t, got, "saved dialogue must be listed")
	require.Equal(t, d.Topic, got.Topic)
	require.Equal(t, d.Participants, got.Participants)
	require.Len(t, got.Turns, 2)
	require.Equal(t, dialogue.MoveAntithesis, got.Turns[1].Move)
	require.Len(t, got.Turns[1].Citations, 1)
	require.Equal(t, d.KeyInsights, got.KeyInsights)
	require.Equal(t, d.Unresolved, got.Unresolved)
	require.Equal(t, d.Sources, got.Sources)
}

func TestEventBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	bus, err := events.NewBus(testRedisURL, testLogger)
	require.NoError(t, err)
	defer bus.Close()

	ch := bus.Subscribe(ctx)
	// The subscriber reads from "$": give its first XRead a moment to park
	// before publishing, or the event lands before anyone listens.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, &events.Event{
		Type:    "thought_created",
		Agent:   "theophilus",
		Payload: "matter persists beneath change",
	}))

	select {
	case ev := <-ch:
		require.NotNil(t, ev)
		require.Equal(t, "thought_created", ev.Type)
		require.Equal(t, "theophilus", ev.Agent)
		require.NotEmpty(t, ev.ID, "publish must stamp an id")
		require.False(t, ev.Timestamp.IsZero(), "publish must stamp a timestamp")
	case <-time.After(10 * time.Second):
		t.Fatal("event never arrived on the subscription")
	}
}
