package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
	"github.com/wayfarer-hq/wayfarer/pkg/store/memory"
)

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	pub := events.NewPublisher(events.NewBus())
	return New(st, pub, DefaultPacingConfig()), st
}

func seedItinerary(t *testing.T, st *memory.Store) *models.Itinerary {
	t.Helper()
	it := &models.Itinerary{
		ID:       "it_test",
		Version:  1,
		Owner:    "user_1",
		Currency: "EUR",
		Days: []*models.Day{
			{
				DayNumber: 1,
				Date:      "2026-09-01",
				Location:  "Lisbon",
				Nodes: []*models.Node{
					{
						ID: "day1_node1", Type: models.NodeTypeAttraction, Title: "Castle of São Jorge",
						Timing: models.Timing{StartTime: "2026-09-01T09:00:00", EndTime: "2026-09-01T11:00:00", DurationMin: 120},
						Status: models.NodeStatusPlanned,
					},
					{
						ID: "day1_node2", Type: models.NodeTypeMeal, Title: "Lunch at Time Out Market",
						Timing: models.Timing{StartTime: "2026-09-01T12:30:00", EndTime: "2026-09-01T13:30:00", DurationMin: 60},
						Status: models.NodeStatusPlanned,
					},
					{
						ID: "day1_node3", Type: models.NodeTypeAttraction, Title: "Belém Tower",
						Timing: models.Timing{StartTime: "2026-09-01T15:00:00", EndTime: "2026-09-01T16:30:00", DurationMin: 90},
						Status: models.NodeStatusPlanned,
					},
				},
			},
			{
				DayNumber: 2,
				Date:      "2026-09-02",
				Location:  "Lisbon",
				Nodes: []*models.Node{
					{
						ID: "day2_node1", Type: models.NodeTypeAttraction, Title: "Sintra day trip",
						Timing: models.Timing{StartTime: "2026-09-02T09:00:00", EndTime: "2026-09-02T17:00:00", DurationMin: 480},
						Status: models.NodeStatusPlanned,
					},
				},
			},
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, st.PutItinerary(context.Background(), it, 0))
	require.NoError(t, st.SaveRevision(context.Background(), models.Revision{
		ItineraryID: it.ID, Version: 1, Snapshot: it, Author: models.AuthorAgent, CreatedAt: time.Now(),
	}))
	return it
}

func TestProposeDoesNotPersist(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)
	ctx := context.Background()

	res, err := eng.Propose(ctx, "it_test", &models.ChangeSet{
		Scope: models.ScopeDay,
		Ops:   []models.Op{{Kind: models.OpDelete, ID: "day1_node2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.PreviewVersion)
	assert.Len(t, res.Diff.Removed, 1)
	assert.Len(t, res.Proposed.Days[0].Nodes, 2)

	stored, err := st.GetItinerary(ctx, "it_test")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
	assert.Len(t, stored.Days[0].Nodes, 3)
}

func TestApplyMoveReordersAndBumpsVersion(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)
	ctx := context.Background()

	res, err := eng.Apply(ctx, "it_test", &models.ChangeSet{
		Scope: models.ScopeDay,
		Ops:   []models.Op{{Kind: models.OpMove, ID: "day1_node3", StartTime: "08:00", EndTime: "09:30"}},
	}, models.AuthorUser)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ToVersion)
	require.Len(t, res.Diff.Updated, 1)
	assert.Equal(t, "day1_node3", res.Diff.Updated[0].ID)
	assert.Contains(t, res.Diff.Updated[0].Fields, "timing")

	stored, err := st.GetItinerary(ctx, "it_test")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, "day1_node3", stored.Days[0].Nodes[0].ID)
	assert.Equal(t, "2026-09-01T08:00:00", stored.Days[0].Nodes[0].Timing.StartTime)
	assert.Equal(t, models.AuthorUser, stored.Days[0].Nodes[0].UpdatedBy)
}

func TestApplyMoveAcrossDays(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)
	ctx := context.Background()

	res, err := eng.Apply(ctx, "it_test", &models.ChangeSet{
		Scope: models.ScopeTrip,
		Ops:   []models.Op{{Kind: models.OpMove, ID: "day1_node3", Day: 2, StartTime: "18:00"}},
	}, models.AuthorUser)
	require.NoError(t, err)
	assert.Contains(t, res.Diff.Updated[0].Fields, "day")

	stored, err := st.GetItinerary(ctx, "it_test")
	require.NoError(t, err)
	assert.Len(t, stored.Days[0].Nodes, 2)
	assert.Len(t, stored.Days[1].Nodes, 2)
	assert.Equal(t, "2026-09-02T18:00:00", stored.Days[1].Nodes[1].Timing.StartTime)
}

func TestApplyLockedNodeRejectsWholeChangeSet(t *testing.T) {
	eng, st := newTestEngine(t)
	it := seedItinerary(t, st)
	ctx := context.Background()

	it.Days[0].Nodes[1].Locked = true
	require.NoError(t, st.PutItinerary(ctx, it, 1))

	_, err := eng.Apply(ctx, "it_test", &models.ChangeSet{
		Ops: []models.Op{
			{Kind: models.OpDelete, ID: "day1_node1"},
			{Kind: models.OpDelete, ID: "day1_node2"},
		},
	}, models.AuthorUser)

	var lockErr *LockedNodeError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, []string{"day1_node2"}, lockErr.Nodes)

	// The unlocked node must survive too: nothing partially applies.
	stored, err := st.GetItinerary(ctx, "it_test")
	require.NoError(t, err)
	assert.Len(t, stored.Days[0].Nodes, 3)
	assert.Equal(t, 2, stored.Version)
}

func TestApplyInsertGeneratesContractID(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)
	ctx := context.Background()

	res, err := eng.Apply(ctx, "it_test", &models.ChangeSet{
		Ops: []models.Op{{
			Kind: models.OpInsert, Day: 1, After: "day1_node2",
			Node: &models.Node{
				Type: models.NodeTypeAttraction, Title: "Fado show",
				Timing: models.Timing{StartTime: "20:00", DurationMin: 90},
			},
		}},
	}, models.AuthorUser)
	require.NoError(t, err)
	require.Len(t, res.Diff.Added, 1)
	assert.Equal(t, "day1_node4", res.Diff.Added[0].ID)

	stored, err := st.GetItinerary(ctx, "it_test")
	require.NoError(t, err)
	node, day := stored.FindNode("day1_node4")
	require.NotNil(t, node)
	assert.Equal(t, 1, day.DayNumber)
	assert.Equal(t, models.NodeStatusPlanned, node.Status)
	assert.Equal(t, "2026-09-01T20:00:00", node.Timing.StartTime)
}

func TestApplyInsertUnknownAfterFails(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)

	_, err := eng.Apply(context.Background(), "it_test", &models.ChangeSet{
		Ops: []models.Op{{
			Kind: models.OpInsert, Day: 1, After: "day1_node99",
			Node: &models.Node{Type: models.NodeTypeMeal, Title: "Dinner"},
		}},
	}, models.AuthorUser)

	var invalid *InvalidChangeSetError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 0, invalid.OpIndex)
}

func TestApplyDeleteRepairsEdges(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)
	ctx := context.Background()

	_, err := eng.Apply(ctx, "it_test", &models.ChangeSet{
		Ops: []models.Op{{Kind: models.OpDelete, ID: "day1_node2"}},
	}, models.AuthorUser)
	require.NoError(t, err)

	stored, err := st.GetItinerary(ctx, "it_test")
	require.NoError(t, err)
	day := stored.FindDay(1)
	require.Len(t, day.Edges, 1)
	assert.Equal(t, "day1_node1", day.Edges[0].From)
	assert.Equal(t, "day1_node3", day.Edges[0].To)
}

func TestApplyReplacePreservesID(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)
	ctx := context.Background()

	res, err := eng.Apply(ctx, "it_test", &models.ChangeSet{
		Ops: []models.Op{{
			Kind: models.OpReplace, ID: "day1_node2",
			Node: &models.Node{Type: models.NodeTypeMeal, Title: "Lunch at Cervejaria Ramiro"},
		}},
	}, models.AuthorAgent)
	require.NoError(t, err)
	require.Len(t, res.Diff.Updated, 1)
	assert.Equal(t, "day1_node2", res.Diff.Updated[0].ID)

	stored, err := st.GetItinerary(ctx, "it_test")
	require.NoError(t, err)
	node, _ := stored.FindNode("day1_node2")
	require.NotNil(t, node)
	assert.Equal(t, "Lunch at Cervejaria Ramiro", node.Title)
	// Timing inherited from the replaced node.
	assert.Equal(t, "2026-09-01T12:30:00", node.Timing.StartTime)
}

func TestApplyUpdateUnknownFieldFails(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)

	_, err := eng.Apply(context.Background(), "it_test", &models.ChangeSet{
		Ops: []models.Op{{Kind: models.OpUpdate, ID: "day1_node1", Fields: map[string]any{"color": "red"}}},
	}, models.AuthorUser)

	var invalid *InvalidChangeSetError
	require.ErrorAs(t, err, &invalid)
}

func TestUndoRestoresAsNewVersion(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)
	ctx := context.Background()

	_, err := eng.Apply(ctx, "it_test", &models.ChangeSet{
		Ops: []models.Op{{Kind: models.OpDelete, ID: "day1_node2"}},
	}, models.AuthorUser)
	require.NoError(t, err)

	res, err := eng.Undo(ctx, "it_test", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ToVersion)
	require.Len(t, res.Diff.Added, 1)
	assert.Equal(t, "day1_node2", res.Diff.Added[0].ID)

	stored, err := st.GetItinerary(ctx, "it_test")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Version)
	node, _ := stored.FindNode("day1_node2")
	assert.NotNil(t, node)
}

func TestUndoWithoutHistoryFails(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)

	_, err := eng.Undo(context.Background(), "it_test", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// conflictStore forces version conflicts on every write to exercise the
// contested path.
type conflictStore struct {
	store.Store
}

func (c *conflictStore) PutItinerary(context.Context, *models.Itinerary, int) error {
	return store.ErrVersionConflict
}

func TestApplyContestedAfterRetry(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st)
	pub := events.NewPublisher(events.NewBus())
	eng := New(&conflictStore{Store: st}, pub, DefaultPacingConfig())

	_, err := eng.Apply(context.Background(), "it_test", &models.ChangeSet{
		Ops: []models.Op{{Kind: models.OpDelete, ID: "day1_node1"}},
	}, models.AuthorUser)
	assert.ErrorIs(t, err, ErrContested)
}

func TestApplyMutationRecomputesPacing(t *testing.T) {
	eng, st := newTestEngine(t)
	seedItinerary(t, st)
	ctx := context.Background()

	res, err := eng.ApplyMutation(ctx, "it_test", models.AuthorAgent, "cost estimation", func(it *models.Itinerary) error {
		node, _ := it.FindNode("day1_node1")
		node.Cost = models.Cost{Amount: 15, Currency: "EUR", Per: "person"}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, res.Diff.Updated, 1)
	assert.Contains(t, res.Diff.Updated[0].Fields, "cost")

	stored, err := st.GetItinerary(ctx, "it_test")
	require.NoError(t, err)
	// Day 1 carries 4.5h of activities.
	assert.Equal(t, models.PacingBalanced, stored.Days[0].Pacing)
	// Day 2 carries 8h.
	assert.Equal(t, models.PacingBalanced, stored.Days[1].Pacing)
	assert.InDelta(t, 4.5, stored.Days[0].Totals.DurationHr, 0.01)
}

func TestRecomputeDayPacingThresholds(t *testing.T) {
	eng, _ := newTestEngine(t)

	day := &models.Day{DayNumber: 1, Date: "2026-09-01", Nodes: []*models.Node{
		{ID: "day1_node1", Timing: models.Timing{DurationMin: 560}},
	}}

	eng.recomputeDay(day)
	assert.Equal(t, models.PacingIntense, day.Pacing)
	assert.Contains(t, day.Warnings, WarningHighPacing)

	day.Nodes[0].Timing.DurationMin = 120
	eng.recomputeDay(day)
	assert.Equal(t, models.PacingRelaxed, day.Pacing)
	assert.Empty(t, day.Warnings)
}

func TestRecomputeDayTightConnection(t *testing.T) {
	eng, _ := newTestEngine(t)

	day := &models.Day{DayNumber: 1, Date: "2026-09-01", Nodes: []*models.Node{
		{
			ID:       "day1_node1",
			Timing:   models.Timing{StartTime: "2026-09-01T09:00:00", EndTime: "2026-09-01T10:00:00", DurationMin: 60},
			Location: models.Location{Coordinates: &models.Coordinates{Lat: 38.7139, Lng: -9.1334}},
		},
		{
			ID:       "day1_node2",
			Timing:   models.Timing{StartTime: "2026-09-01T10:05:00", EndTime: "2026-09-01T11:00:00", DurationMin: 55},
			Location: models.Location{Coordinates: &models.Coordinates{Lat: 38.6916, Lng: -9.2160}},
		},
	}}

	// ~7km apart with a 5 minute gap.
	eng.recomputeDay(day)
	require.Len(t, day.Edges, 1)
	assert.Equal(t, "drive", day.Edges[0].Transit.Mode)
	require.Len(t, day.Warnings, 1)
	assert.Contains(t, day.Warnings[0], WarningTightConnection)
}

func TestRevisionRetentionBound(t *testing.T) {
	st := memory.New(memory.WithRevisionRetain(5))
	pub := events.NewPublisher(events.NewBus())
	eng := New(st, pub, DefaultPacingConfig())
	seedItinerary(t, st)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := eng.ApplyMutation(ctx, "it_test", models.AuthorAgent, "touch", func(it *models.Itinerary) error {
			it.Summary = time.Now().String()
			return nil
		})
		require.NoError(t, err)
	}

	revs, err := st.ListRevisions(ctx, "it_test", 0)
	require.NoError(t, err)
	assert.Len(t, revs, 5)
	assert.Equal(t, 11, revs[0].Version)
}

func TestSortDayNodesUntimedLast(t *testing.T) {
	day := &models.Day{Nodes: []*models.Node{
		{ID: "a"},
		{ID: "b", Timing: models.Timing{StartTime: "14:00"}},
		{ID: "c", Timing: models.Timing{StartTime: "09:00"}},
	}}
	sortDayNodes(day)
	assert.Equal(t, "c", day.Nodes[0].ID)
	assert.Equal(t, "b", day.Nodes[1].ID)
	assert.Equal(t, "a", day.Nodes[2].ID)
}

func TestNormalizeTime(t *testing.T) {
	assert.Equal(t, "2026-09-01T08:30:00", normalizeTime("08:30", "2026-09-01"))
	assert.Equal(t, "2026-09-01T08:30:00", normalizeTime("2026-09-01T08:30:00", "2026-09-01"))
}
