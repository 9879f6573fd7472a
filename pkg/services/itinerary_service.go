// Package services holds the application services between the HTTP API and
// the engine, agents, and queue.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/engine"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/queue"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// maxTripDays caps the trip length accepted at creation.
const maxTripDays = 30

// ItineraryService manages itinerary lifecycle: creation with async pipeline
// kick-off, reads, change proposals and applies, undo, and booking.
type ItineraryService struct {
	store    store.Store
	engine   *engine.Engine
	tasks    *queue.TaskService
	registry *agent.Registry
	deps     *agent.Deps
}

// NewItineraryService creates an ItineraryService.
func NewItineraryService(st store.Store, eng *engine.Engine, tasks *queue.TaskService, registry *agent.Registry, deps *agent.Deps) *ItineraryService {
	return &ItineraryService{store: st, engine: eng, tasks: tasks, registry: registry, deps: deps}
}

// CreateResult is returned by CreateItinerary before the pipeline runs.
type CreateResult struct {
	ID      string                  `json:"id"`
	Version int                     `json:"version"`
	Status  models.GenerationStatus `json:"status"`
	TaskID  string                  `json:"task_id"`
}

// CreateItinerary persists the shell document and trip metadata
// synchronously, then enqueues the generation pipeline. The returned id is
// valid for reads and subscriptions immediately.
func (s *ItineraryService) CreateItinerary(ctx context.Context, req *models.CreateRequest) (*CreateResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	id := agent.NewItineraryID()
	now := time.Now()
	shell := &models.Itinerary{
		ID:        id,
		Version:   1,
		Owner:     req.Owner,
		Currency:  req.Currency,
		Days:      []*models.Day{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutItinerary(ctx, shell, 0); err != nil {
		return nil, fmt.Errorf("creating itinerary shell: %w", err)
	}
	if err := s.store.PutMetadata(ctx, models.TripMetadata{
		Owner:       req.Owner,
		ItineraryID: id,
		Destination: req.Destination,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Status:      models.GenerationStatusGenerating,
	}); err != nil {
		return nil, fmt.Errorf("writing trip metadata: %w", err)
	}

	task, err := s.tasks.Submit(ctx, queue.SubmitInput{
		Type:        "create",
		ItineraryID: id,
		Owner:       req.Owner,
		Request:     &agent.Request{ItineraryID: id, Create: req},
	})
	if err != nil {
		return nil, fmt.Errorf("enqueueing generation: %w", err)
	}

	slog.Info("Itinerary created",
		"itinerary_id", id, "destination", req.Destination, "task_id", task.ID)
	return &CreateResult{
		ID:      id,
		Version: shell.Version,
		Status:  models.GenerationStatusGenerating,
		TaskID:  task.ID,
	}, nil
}

// GetItinerary returns the current document.
func (s *ItineraryService) GetItinerary(ctx context.Context, id string) (*models.Itinerary, error) {
	it, err := s.store.GetItinerary(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return it, nil
}

// ListItineraries returns trip metadata for an owner.
func (s *ItineraryService) ListItineraries(ctx context.Context, owner string) ([]models.TripMetadata, error) {
	if owner == "" {
		return nil, NewValidationError("owner", "required")
	}
	return s.store.ListByOwner(ctx, owner)
}

// ListRevisions returns up to limit revisions, newest first.
func (s *ItineraryService) ListRevisions(ctx context.Context, id string, limit int) ([]models.Revision, error) {
	revs, err := s.store.ListRevisions(ctx, id, limit)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return revs, nil
}

// ProposeChange previews a change-set without persisting.
func (s *ItineraryService) ProposeChange(ctx context.Context, id string, cs *models.ChangeSet) (*engine.ProposeResult, error) {
	if err := validateChangeSet(cs); err != nil {
		return nil, err
	}
	res, err := s.engine.Propose(ctx, id, cs)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return res, nil
}

// ApplyChange applies a change-set transactionally.
func (s *ItineraryService) ApplyChange(ctx context.Context, id string, cs *models.ChangeSet, author models.Author) (*engine.ApplyResult, error) {
	if err := validateChangeSet(cs); err != nil {
		return nil, err
	}
	if author == "" {
		author = models.AuthorUser
	}
	res, err := s.engine.Apply(ctx, id, cs, author)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return res, nil
}

// Undo restores a prior revision as a new version. targetVersion 0 means the
// most recent restorable revision.
func (s *ItineraryService) Undo(ctx context.Context, id string, targetVersion int) (*engine.ApplyResult, error) {
	res, err := s.engine.Undo(ctx, id, targetVersion)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return res, nil
}

// Book books a node through the booking agent: the node is locked, labelled,
// and stamped with a booking reference.
func (s *ItineraryService) Book(ctx context.Context, itineraryID, nodeID string) (*agent.Result, error) {
	if nodeID == "" {
		return nil, NewValidationError("node_id", "required")
	}
	a, err := s.registry.Route("book")
	if err != nil {
		return nil, err
	}
	res, err := agent.Run(ctx, a, s.deps, &agent.Request{
		ItineraryID: itineraryID,
		NodeID:      nodeID,
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return res, nil
}

func validateCreateRequest(req *models.CreateRequest) error {
	if req == nil {
		return ErrInvalidInput
	}
	if req.Destination == "" {
		return NewValidationError("destination", "required")
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return NewValidationError("start_date", "must be an ISO date (YYYY-MM-DD)")
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return NewValidationError("end_date", "must be an ISO date (YYYY-MM-DD)")
	}
	if end.Before(start) {
		return NewValidationError("end_date", "must not be before start_date")
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > maxTripDays {
		return NewValidationError("end_date", fmt.Sprintf("trip length exceeds %d days", maxTripDays))
	}
	if req.Party.Adults < 0 || req.Party.Children < 0 {
		return NewValidationError("party", "head counts must not be negative")
	}
	return nil
}

func validateChangeSet(cs *models.ChangeSet) error {
	if cs == nil {
		return NewValidationError("change_set", "required")
	}
	if len(cs.Ops) == 0 {
		return NewValidationError("ops", "at least one operation is required")
	}
	return nil
}

// mapStoreError translates store and engine errors to the service error set.
func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, engine.ErrContested), errors.Is(err, store.ErrVersionConflict):
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	default:
		return err
	}
}
