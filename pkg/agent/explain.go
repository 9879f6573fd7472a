package agent

import (
	"context"

	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
)

// ExplainAgent answers questions about an existing itinerary. Read-only:
// it never produces a change-set.
type ExplainAgent struct {
	deps *Deps
}

// NewExplainAgent creates the explain agent.
func NewExplainAgent(deps *Deps) *ExplainAgent {
	return &ExplainAgent{deps: deps}
}

// Capabilities implements Agent.
func (a *ExplainAgent) Capabilities() Capabilities {
	return Capabilities{Name: "explain", TaskType: "explain", Priority: 15, ChatEnabled: true}
}

// Execute implements Agent.
func (a *ExplainAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	caps := a.Capabilities()
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressRunning, 0, "explaining")

	it, err := a.deps.Store.GetItinerary(ctx, req.ItineraryID)
	if err != nil {
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	answer, err := a.deps.Gateway.GenerateText(ctx, &llm.Request{
		ItineraryID: req.ItineraryID,
		System:      "You are a knowledgeable travel guide. Answer from the itinerary provided; say so when you don't know.",
		User:        explainPrompt(it, req),
		Model:       a.deps.Model,
		MockKey:     "explain",
	})
	if err != nil {
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressSucceeded, 100, "answered")
	return &Result{Message: answer}, nil
}
