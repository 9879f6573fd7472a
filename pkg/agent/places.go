package agent

import (
	"context"

	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// PlacesAgent suggests candidate places for node resolution or insertion.
// Helper only: it never mutates the itinerary.
type PlacesAgent struct {
	deps *Deps
}

// NewPlacesAgent creates the places helper.
func NewPlacesAgent(deps *Deps) *PlacesAgent {
	return &PlacesAgent{deps: deps}
}

// Capabilities implements Agent.
func (a *PlacesAgent) Capabilities() Capabilities {
	return Capabilities{Name: "places", TaskType: "search", Priority: 40}
}

// Execute implements Agent. The query comes from ChatText.
func (a *PlacesAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	caps := a.Capabilities()
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressRunning, 0, "searching places")

	it := &models.Itinerary{}
	if req.ItineraryID != "" {
		loaded, err := a.deps.Store.GetItinerary(ctx, req.ItineraryID)
		if err == nil {
			it = loaded
		}
	}

	resp, err := a.deps.Gateway.GenerateStructured(ctx, &llm.Request{
		ItineraryID: req.ItineraryID,
		System:      plannerSystemPrompt,
		User:        placesPrompt(it, req.ChatText, req.Day),
		Model:       a.deps.Model,
		MockKey:     "search",
	}, placesSchema)
	if err != nil {
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	candidates, _ := resp["candidates"].([]any)
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressSucceeded, 100, "candidates ready")
	return &Result{
		Message: "Here are some options.",
		Data:    map[string]any{"candidates": candidates},
	}, nil
}
