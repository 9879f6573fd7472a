package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/engine"
	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/queue"
	"github.com/wayfarer-hq/wayfarer/pkg/store/memory"
)

type serviceFixture struct {
	store   *memory.Store
	service *ItineraryService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	st := memory.New()
	pub := events.NewPublisher(events.NewBus())
	eng := engine.New(st, pub, engine.DefaultPacingConfig())
	deps := &agent.Deps{Store: st, Engine: eng, Events: pub, Deadline: 5 * time.Second}

	registry := agent.NewRegistry()
	require.NoError(t, registry.Register(agent.NewBookingAgent(deps)))

	tasks := queue.NewTaskService(st, nil, queue.Config{})
	return &serviceFixture{
		store:   st,
		service: NewItineraryService(st, eng, tasks, registry, deps),
	}
}

func (f *serviceFixture) seed(t *testing.T) *models.Itinerary {
	t.Helper()
	it := &models.Itinerary{
		ID: "it_test", Version: 1, Owner: "user_1",
		Days: []*models.Day{{
			DayNumber: 1, Date: "2026-09-01",
			Nodes: []*models.Node{
				{ID: "day1_node1", Type: models.NodeTypeMeal, Title: "Breakfast"},
				{ID: "day1_node2", Type: models.NodeTypeAttraction, Title: "Museum"},
			},
		}},
	}
	require.NoError(t, f.store.PutItinerary(context.Background(), it, 0))
	require.NoError(t, f.store.SaveRevision(context.Background(), models.Revision{
		ItineraryID: it.ID, Version: 1, Snapshot: it,
		Author: models.AuthorAgent, CreatedAt: time.Now(),
	}))
	return it
}

func validCreateRequest() *models.CreateRequest {
	return &models.CreateRequest{
		Destination: "Lisbon, Portugal",
		StartDate:   "2026-09-01",
		EndDate:     "2026-09-03",
		Party:       models.Party{Adults: 2},
		Owner:       "user_1",
	}
}

func TestCreateItineraryPersistsShellAndEnqueues(t *testing.T) {
	f := newServiceFixture(t)

	res, err := f.service.CreateItinerary(context.Background(), validCreateRequest())
	require.NoError(t, err)
	assert.Regexp(t, `^it_`, res.ID)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, models.GenerationStatusGenerating, res.Status)
	assert.NotEmpty(t, res.TaskID)

	shell, err := f.store.GetItinerary(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, shell.Version)
	assert.Empty(t, shell.Days)

	mds, err := f.store.ListByOwner(context.Background(), "user_1")
	require.NoError(t, err)
	require.Len(t, mds, 1)
	assert.Equal(t, "Lisbon, Portugal", mds[0].Destination)
	assert.Equal(t, models.GenerationStatusGenerating, mds[0].Status)

	task, err := f.store.GetTask(context.Background(), res.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "create", task.Type)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, res.ID, task.ItineraryID)
}

func TestCreateItineraryValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*models.CreateRequest)
	}{
		{"missing destination", func(r *models.CreateRequest) { r.Destination = "" }},
		{"bad start date", func(r *models.CreateRequest) { r.StartDate = "September 1st" }},
		{"bad end date", func(r *models.CreateRequest) { r.EndDate = "2026-9-3" }},
		{"end before start", func(r *models.CreateRequest) { r.EndDate = "2026-08-30" }},
		{"too long", func(r *models.CreateRequest) { r.EndDate = "2026-10-15" }},
		{"negative party", func(r *models.CreateRequest) { r.Party.Adults = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.mutate(req)
			_, err := f.service.CreateItinerary(ctx, req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
		})
	}
}

func TestGetItineraryNotFound(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.service.GetItinerary(context.Background(), "it_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListItinerariesRequiresOwner(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.service.ListItineraries(context.Background(), "")
	assert.True(t, IsValidationError(err))
}

func TestProposeDoesNotPersist(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t)

	res, err := f.service.ProposeChange(context.Background(), "it_test", &models.ChangeSet{
		Scope: models.ScopeTrip,
		Ops:   []models.Op{{Kind: models.OpDelete, ID: "day1_node1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.PreviewVersion)
	assert.Len(t, res.Diff.Removed, 1)

	it, err := f.service.GetItinerary(context.Background(), "it_test")
	require.NoError(t, err)
	assert.Equal(t, 1, it.Version)
	assert.Len(t, it.Days[0].Nodes, 2)
}

func TestApplyThenUndo(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t)
	ctx := context.Background()

	applied, err := f.service.ApplyChange(ctx, "it_test", &models.ChangeSet{
		Scope: models.ScopeTrip,
		Ops:   []models.Op{{Kind: models.OpDelete, ID: "day1_node1"}},
	}, models.AuthorUser)
	require.NoError(t, err)
	assert.Equal(t, 2, applied.ToVersion)

	undone, err := f.service.Undo(ctx, "it_test", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, undone.ToVersion)

	it, err := f.service.GetItinerary(ctx, "it_test")
	require.NoError(t, err)
	node, _ := it.FindNode("day1_node1")
	assert.NotNil(t, node)
}

func TestApplyRejectsEmptyChangeSet(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t)

	_, err := f.service.ApplyChange(context.Background(), "it_test", &models.ChangeSet{}, models.AuthorUser)
	assert.True(t, IsValidationError(err))
}

func TestBookLocksNode(t *testing.T) {
	f := newServiceFixture(t)
	f.seed(t)

	res, err := f.service.Book(context.Background(), "it_test", "day1_node2")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.NotEmpty(t, res.Data["booking_ref"])

	it, err := f.service.GetItinerary(context.Background(), "it_test")
	require.NoError(t, err)
	node, _ := it.FindNode("day1_node2")
	assert.True(t, node.Locked)
	assert.Contains(t, node.Labels, models.LabelBooked)
}

func TestBookRequiresNodeID(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.service.Book(context.Background(), "it_test", "")
	assert.True(t, IsValidationError(err))
}
