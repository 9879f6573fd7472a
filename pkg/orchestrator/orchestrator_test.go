package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/engine"
	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store/memory"
)

const skeletonDay = `{"location": "Lisbon", "nodes": [
	{"type": "meal", "title": "Breakfast", "start_time": "08:00", "duration_min": 45},
	{"type": "attraction", "title": "Morning sight", "start_time": "10:00", "duration_min": 120},
	{"type": "accommodation", "title": "Hotel", "start_time": "21:00"}
]}`

type fixture struct {
	store *memory.Store
	mock  *llm.MockClient
	bus   *events.Bus
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	mock := llm.NewMockClient("")
	gw := llm.NewGateway(mock, llm.GatewayConfig{RetryMaxAttempts: 1, RetryBase: time.Millisecond})
	bus := events.NewBus()
	pub := events.NewPublisher(bus)
	eng := engine.New(st, pub, engine.DefaultPacingConfig())

	deps := &agent.Deps{Store: st, Engine: eng, Gateway: gw, Events: pub, Deadline: 5 * time.Second}
	registry := agent.NewRegistry()
	for _, a := range []agent.Agent{
		agent.NewSkeletonPlannerAgent(deps),
		agent.NewActivityAgent(deps),
		agent.NewMealAgent(deps),
		agent.NewTransportAgent(deps),
		agent.NewEnrichmentAgent(deps),
		agent.NewCostEstimatorAgent(deps),
	} {
		require.NoError(t, registry.Register(a))
	}

	return &fixture{
		store: st,
		mock:  mock,
		bus:   bus,
		orch:  New(st, eng, registry, deps, pub),
	}
}

func (f *fixture) seedShell(t *testing.T, id string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, f.store.PutItinerary(context.Background(), &models.Itinerary{
		ID: id, Version: 1, Owner: "user_1", Currency: "EUR", Days: []*models.Day{},
		CreatedAt: now, UpdatedAt: now,
	}, 0))
}

func (f *fixture) scriptHappyPath() {
	f.mock.Script("skeleton_day1", skeletonDay)
	f.mock.Script("skeleton_day2", skeletonDay)
	f.mock.Script("populate_attractions", `{"nodes": [
		{"id": "day1_node2", "title": "Castle", "cost": {"amount": 15, "currency": "EUR", "per": "person"},
		 "timing": {"start_time": "2026-09-01T10:00:00", "duration_min": 120}},
		{"id": "day2_node2", "title": "Museum", "cost": {"amount": 12, "currency": "EUR", "per": "person"},
		 "timing": {"start_time": "2026-09-02T10:00:00", "duration_min": 120}}
	]}`)
	f.mock.Script("populate_meals", `{"nodes": [
		{"id": "day1_node1", "title": "Pastelaria", "cost": {"amount": 8, "currency": "EUR", "per": "person"}},
		{"id": "day2_node1", "title": "Mercado", "cost": {"amount": 10, "currency": "EUR", "per": "person"}}
	]}`)
	f.mock.Script("populate_transport", `{"nodes": [
		{"id": "day1_node3", "title": "Hotel Lisboa", "cost": {"amount": 120, "currency": "EUR", "per": "night"}},
		{"id": "day2_node3", "title": "Hotel Lisboa", "cost": {"amount": 120, "currency": "EUR", "per": "night"}}
	]}`)
}

func createReq() *models.CreateRequest {
	return &models.CreateRequest{
		Destination: "Lisbon", StartDate: "2026-09-01", EndDate: "2026-09-02",
		Party: models.Party{Adults: 2}, Owner: "user_1", Currency: "EUR",
	}
}

func TestGenerateHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedShell(t, "it_1")
	f.scriptHappyPath()
	sub := f.bus.Subscribe("it_1")

	require.NoError(t, f.orch.Generate(context.Background(), "it_1", createReq()))

	it, err := f.store.GetItinerary(context.Background(), "it_1")
	require.NoError(t, err)
	// Shell 1, skeleton 2, three population applies 3-5, enrichment 6,
	// cost 7, finalization 8.
	assert.Equal(t, 8, it.Version)
	require.Len(t, it.Days, 2)
	assert.Empty(t, it.Warnings)

	node, _ := it.FindNode("day1_node2")
	require.NotNil(t, node)
	assert.Equal(t, "Castle", node.Title)
	assert.NotContains(t, node.Details, "placeholder")

	// Per person: meals 8+10, attractions 15+12, hotel 2 nights 120/2 each.
	assert.InDelta(t, 165, it.TotalCost, 0.01)

	mds, err := f.store.ListByOwner(context.Background(), "user_1")
	require.NoError(t, err)
	require.Len(t, mds, 1)
	assert.Equal(t, models.GenerationStatusReady, mds[0].Status)

	assertOrderedEvents(t, sub, true)
}

func TestGeneratePhase1FailureAborts(t *testing.T) {
	f := newFixture(t)
	f.seedShell(t, "it_1")
	// No skeleton script: the LLM call fails and the pipeline must abort.

	err := f.orch.Generate(context.Background(), "it_1", createReq())
	require.Error(t, err)

	it, getErr := f.store.GetItinerary(context.Background(), "it_1")
	require.NoError(t, getErr)
	assert.Empty(t, it.Days)

	mds, err2 := f.store.ListByOwner(context.Background(), "user_1")
	require.NoError(t, err2)
	require.Len(t, mds, 1)
	assert.Equal(t, models.GenerationStatusFailed, mds[0].Status)
}

func TestGeneratePhase2FailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.seedShell(t, "it_1")
	f.mock.Script("skeleton_day1", skeletonDay)
	f.mock.Script("skeleton_day2", skeletonDay)
	f.mock.Script("populate_attractions", `{"nodes": [
		{"id": "day1_node2", "title": "Castle",
		 "timing": {"start_time": "2026-09-01T10:00:00", "duration_min": 120}}
	]}`)
	f.mock.Script("populate_transport", `{"nodes": [
		{"id": "day1_node3", "title": "Hotel Lisboa"}
	]}`)
	// The meals agent gets unusable output on every attempt and must fail
	// without blocking the other two.
	f.mock.Script("populate_meals", `not json at all`)

	require.NoError(t, f.orch.Generate(context.Background(), "it_1", createReq()))

	it, err := f.store.GetItinerary(context.Background(), "it_1")
	require.NoError(t, err)
	assert.NotEmpty(t, it.Warnings)

	// Attractions and transport still applied.
	castle, _ := it.FindNode("day1_node2")
	require.NotNil(t, castle)
	assert.Equal(t, "Castle", castle.Title)

	mds, err := f.store.ListByOwner(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusReady, mds[0].Status)
}

func TestGenerateCancelledBetweenPhases(t *testing.T) {
	f := newFixture(t)
	f.seedShell(t, "it_1")
	f.mock.Script("skeleton_day1", skeletonDay)
	f.mock.Script("skeleton_day2", skeletonDay)
	f.orch.Cancel("it_1")

	err := f.orch.Generate(context.Background(), "it_1", createReq())
	assert.ErrorIs(t, err, context.Canceled)

	mds, err2 := f.store.ListByOwner(context.Background(), "user_1")
	require.NoError(t, err2)
	assert.Equal(t, models.GenerationStatusFailed, mds[0].Status)
}

// assertOrderedEvents drains the subscription and checks that sequence
// numbers are strictly increasing, patch versions are strictly increasing,
// and a terminal orchestrator event arrived.
func assertOrderedEvents(t *testing.T, sub *events.Subscription, wantSuccess bool) {
	t.Helper()
	var lastSeq int64
	lastPatch := 0
	terminal := ""
	for {
		select {
		case env := <-sub.C:
			assert.Greater(t, env.Seq, lastSeq)
			lastSeq = env.Seq
			switch p := env.Payload.(type) {
			case events.PatchEvent:
				assert.Greater(t, p.ToVersion, lastPatch)
				lastPatch = p.ToVersion
			case events.AgentProgressEvent:
				if p.AgentID == "orchestrator" && (p.Status == events.ProgressSucceeded || p.Status == events.ProgressFailed) {
					terminal = p.Status
				}
			}
		default:
			if wantSuccess {
				assert.Equal(t, events.ProgressSucceeded, terminal)
			}
			assert.Greater(t, lastPatch, 1)
			return
		}
	}
}
