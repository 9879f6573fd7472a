// Package orchestrator drives five-phase itinerary generation: skeleton,
// parallel population, enrichment, cost estimation, finalization.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/engine"
	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// agentName identifies the orchestrator in its own progress events.
const agentName = "orchestrator"

// Progress milestones per phase boundary.
const (
	progressSkeleton   = 25
	progressPopulation = 60
	progressEnrichment = 85
	progressCost       = 95
	progressDone       = 100
)

// populationOrder fixes the sequential apply order of phase-2 change-sets.
var populationOrder = []string{"populate_attractions", "populate_meals", "populate_transport"}

// Orchestrator runs the generation pipeline. It implements agent.Pipeline.
type Orchestrator struct {
	store    store.Store
	engine   *engine.Engine
	registry *agent.Registry
	deps     *agent.Deps
	events   *events.Publisher

	mu        sync.Mutex
	cancelled map[string]bool
}

// New creates an orchestrator over the registered agents.
func New(st store.Store, eng *engine.Engine, registry *agent.Registry, deps *agent.Deps, pub *events.Publisher) *Orchestrator {
	return &Orchestrator{
		store:     st,
		engine:    eng,
		registry:  registry,
		deps:      deps,
		events:    pub,
		cancelled: make(map[string]bool),
	}
}

var _ agent.Pipeline = (*Orchestrator)(nil)

// Cancel flags a generation run for best-effort cancellation. The pipeline
// checks the flag between phases.
func (o *Orchestrator) Cancel(itineraryID string) {
	o.mu.Lock()
	o.cancelled[itineraryID] = true
	o.mu.Unlock()
}

func (o *Orchestrator) isCancelled(itineraryID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[itineraryID]
}

func (o *Orchestrator) clearCancelled(itineraryID string) {
	o.mu.Lock()
	delete(o.cancelled, itineraryID)
	o.mu.Unlock()
}

// Generate implements agent.Pipeline. The itinerary shell and metadata must
// already exist; Generate runs the five phases against them.
func (o *Orchestrator) Generate(ctx context.Context, itineraryID string, req *models.CreateRequest) error {
	defer o.clearCancelled(itineraryID)
	log := slog.With("itinerary_id", itineraryID)
	o.progress(itineraryID, events.ProgressRunning, 0, "generation started")

	var warnings []string

	// Phase 1: skeleton. Failure is fatal.
	if err := o.runPhase1(ctx, itineraryID, req); err != nil {
		log.Error("Skeleton phase failed", "error", err)
		o.finish(ctx, itineraryID, req, models.GenerationStatusFailed, err.Error(), warnings)
		return err
	}
	o.progress(itineraryID, events.ProgressRunning, progressSkeleton, "skeleton ready")

	if o.checkCancelled(ctx, itineraryID, req, warnings) {
		return context.Canceled
	}

	// Phase 2: parallel population, sequential apply. Failures are isolated.
	warnings = append(warnings, o.runPhase2(ctx, itineraryID, log)...)
	o.progress(itineraryID, events.ProgressRunning, progressPopulation, "population complete")

	if o.checkCancelled(ctx, itineraryID, req, warnings) {
		return context.Canceled
	}

	// Phase 3: enrichment. Non-fatal.
	if w := o.runNonFatal(ctx, itineraryID, "enrich", &agent.Request{ItineraryID: itineraryID}, log); w != "" {
		warnings = append(warnings, w)
	}
	o.progress(itineraryID, events.ProgressRunning, progressEnrichment, "enrichment complete")

	if o.checkCancelled(ctx, itineraryID, req, warnings) {
		return context.Canceled
	}

	// Phase 4: cost estimation. Non-fatal.
	if w := o.runNonFatal(ctx, itineraryID, "estimate_costs", &agent.Request{ItineraryID: itineraryID, Create: req}, log); w != "" {
		warnings = append(warnings, w)
	}
	o.progress(itineraryID, events.ProgressRunning, progressCost, "costs estimated")

	// Phase 5: finalization. Always runs.
	o.finish(ctx, itineraryID, req, models.GenerationStatusReady, "itinerary ready", warnings)
	return nil
}

func (o *Orchestrator) runPhase1(ctx context.Context, itineraryID string, req *models.CreateRequest) error {
	skeleton, err := o.registry.Route("skeleton")
	if err != nil {
		return err
	}
	_, err = agent.Run(ctx, skeleton, o.deps, &agent.Request{ItineraryID: itineraryID, Create: req})
	return err
}

// runPhase2 fans the three population agents out concurrently, then applies
// their change-sets one at a time in populationOrder so version bumps never
// contest each other. A failing agent gets one phase-level retry; a final
// failure becomes a warning and the others still apply.
func (o *Orchestrator) runPhase2(ctx context.Context, itineraryID string, log *slog.Logger) []string {
	results := make(map[string]*agent.Result, len(populationOrder))
	var resultsMu sync.Mutex
	var warnings []string

	g, gctx := errgroup.WithContext(ctx)
	for _, taskType := range populationOrder {
		taskType := taskType
		g.Go(func() error {
			a, err := o.registry.Route(taskType)
			if err != nil {
				resultsMu.Lock()
				warnings = append(warnings, err.Error())
				resultsMu.Unlock()
				return nil
			}

			res, err := agent.Run(gctx, a, o.deps, &agent.Request{ItineraryID: itineraryID})
			if err != nil {
				log.Warn("Population agent failed, retrying", "task_type", taskType, "error", err)
				res, err = agent.Run(gctx, a, o.deps, &agent.Request{ItineraryID: itineraryID})
			}

			resultsMu.Lock()
			defer resultsMu.Unlock()
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s failed: %v", taskType, err))
				return nil
			}
			results[taskType] = res
			warnings = append(warnings, res.Warnings...)
			return nil
		})
	}
	_ = g.Wait()

	for _, taskType := range populationOrder {
		res, ok := results[taskType]
		if !ok || res.ChangeSet == nil || len(res.ChangeSet.Ops) == 0 {
			continue
		}
		if _, err := o.engine.Apply(ctx, itineraryID, res.ChangeSet, models.AuthorAgent); err != nil {
			log.Warn("Applying population change-set failed", "task_type", taskType, "error", err)
			warnings = append(warnings, fmt.Sprintf("%s apply failed: %v", taskType, err))
		}
	}
	return warnings
}

func (o *Orchestrator) runNonFatal(ctx context.Context, itineraryID, taskType string, req *agent.Request, log *slog.Logger) string {
	a, err := o.registry.Route(taskType)
	if err != nil {
		return err.Error()
	}
	if _, err := agent.Run(ctx, a, o.deps, req); err != nil {
		log.Warn("Pipeline phase failed", "task_type", taskType, "error", err)
		return fmt.Sprintf("%s failed: %v", taskType, err)
	}
	return ""
}

// checkCancelled handles the between-phase cancellation flag, finishing the
// run as failed when set.
func (o *Orchestrator) checkCancelled(ctx context.Context, itineraryID string, req *models.CreateRequest, warnings []string) bool {
	if !o.isCancelled(itineraryID) && ctx.Err() == nil {
		return false
	}
	o.finish(ctx, itineraryID, req, models.GenerationStatusFailed, "generation cancelled", warnings)
	return true
}

// finish is phase 5: stamp terminal agent status and warnings on the
// itinerary, update trip metadata, and emit the terminal event.
func (o *Orchestrator) finish(ctx context.Context, itineraryID string, req *models.CreateRequest, status models.GenerationStatus, message string, warnings []string) {
	// Finalization must complete even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)

	// The itinerary stamp is best-effort; the terminal event must go out
	// regardless.
	_, err := o.engine.ApplyMutation(ctx, itineraryID, models.AuthorAgent, "finalization", func(it *models.Itinerary) error {
		if it.Agents == nil {
			it.Agents = make(map[string]time.Time)
		}
		it.Agents[agentName] = time.Now()
		it.Warnings = warnings
		return nil
	})
	if err != nil {
		slog.Warn("Finalization stamp failed", "itinerary_id", itineraryID, "error", err)
	}

	if req != nil {
		md := models.TripMetadata{
			Owner:       req.Owner,
			ItineraryID: itineraryID,
			Destination: req.Destination,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
			Status:      status,
		}
		if err := o.store.PutMetadata(ctx, md); err != nil {
			slog.Warn("Metadata update failed", "itinerary_id", itineraryID, "error", err)
		}
	}

	terminal := events.ProgressSucceeded
	if status != models.GenerationStatusReady {
		terminal = events.ProgressFailed
	}
	o.progress(itineraryID, terminal, progressDone, message)
}

func (o *Orchestrator) progress(itineraryID, status string, p int, message string) {
	o.events.PublishProgress(itineraryID, agentName, "create", status, p, message)
}
