package agent

import (
	"context"
	"fmt"

	"github.com/wayfarer-hq/wayfarer/pkg/events"
)

// PlannerAgent runs the full generation pipeline to completion for callers
// that need a synchronous result, such as durable "create" tasks. Not
// chat-enabled.
type PlannerAgent struct {
	deps     *Deps
	pipeline Pipeline
}

// NewPlannerAgent creates the planner. The pipeline is injected later via
// SetPipeline because the orchestrator is constructed after its agents.
func NewPlannerAgent(deps *Deps) *PlannerAgent {
	return &PlannerAgent{deps: deps}
}

// SetPipeline injects the generation pipeline.
func (a *PlannerAgent) SetPipeline(p Pipeline) { a.pipeline = p }

// Capabilities implements Agent.
func (a *PlannerAgent) Capabilities() Capabilities {
	return Capabilities{Name: "planner", TaskType: "create", Priority: 2}
}

// Execute implements Agent.
func (a *PlannerAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	if a.pipeline == nil {
		return nil, fmt.Errorf("planner has no pipeline configured")
	}
	if req.Create == nil {
		return nil, fmt.Errorf("planner requires a creation request")
	}
	caps := a.Capabilities()
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressRunning, 0, "generating itinerary")

	if err := a.pipeline.Generate(ctx, req.ItineraryID, req.Create); err != nil {
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressSucceeded, 100, "itinerary ready")
	return &Result{Message: "itinerary generated", Applied: true}, nil
}
