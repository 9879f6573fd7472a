package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// populateAgent is the shared implementation behind the Activity, Meal, and
// Transport agents. Each finds the skeleton placeholders of its node type
// across all days, issues a single structured LLM call covering all of them,
// and returns a replace-op change-set preserving placeholder ids.
type populateAgent struct {
	deps     *Deps
	caps     Capabilities
	nodeType models.NodeType
}

// NewActivityAgent populates attraction placeholders.
func NewActivityAgent(deps *Deps) Agent {
	return &populateAgent{
		deps:     deps,
		caps:     Capabilities{Name: "activity", TaskType: "populate_attractions", Priority: 10},
		nodeType: models.NodeTypeAttraction,
	}
}

// NewMealAgent populates meal placeholders.
func NewMealAgent(deps *Deps) Agent {
	return &populateAgent{
		deps:     deps,
		caps:     Capabilities{Name: "meal", TaskType: "populate_meals", Priority: 10},
		nodeType: models.NodeTypeMeal,
	}
}

// NewTransportAgent populates transport and accommodation placeholders.
func NewTransportAgent(deps *Deps) Agent {
	return &populateAgent{
		deps:     deps,
		caps:     Capabilities{Name: "transport", TaskType: "populate_transport", Priority: 10},
		nodeType: models.NodeTypeTransport,
	}
}

func (a *populateAgent) Capabilities() Capabilities { return a.caps }

// Execute implements Agent. The change-set is returned, not applied; the
// orchestrator applies phase-2 results sequentially in a fixed order.
func (a *populateAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	a.deps.progress(req.ItineraryID, a.caps.Name, a.caps.TaskType, events.ProgressRunning, 0, "collecting placeholders")

	it, err := a.deps.Store.GetItinerary(ctx, req.ItineraryID)
	if err != nil {
		a.deps.progress(req.ItineraryID, a.caps.Name, a.caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	placeholders := a.placeholders(it)
	if len(placeholders) == 0 {
		a.deps.progress(req.ItineraryID, a.caps.Name, a.caps.TaskType, events.ProgressSucceeded, 100, "no placeholders")
		return &Result{Message: fmt.Sprintf("no %s placeholders to populate", a.nodeType)}, nil
	}

	a.deps.progress(req.ItineraryID, a.caps.Name, a.caps.TaskType, events.ProgressRunning, 30,
		fmt.Sprintf("populating %d nodes", len(placeholders)))

	resp, err := a.deps.Gateway.GenerateStructured(ctx, &llm.Request{
		ItineraryID: req.ItineraryID,
		System:      plannerSystemPrompt,
		User:        populatePrompt(it, a.nodeType, placeholders),
		Model:       a.deps.Model,
		MockKey:     a.caps.TaskType,
	}, populateSchema)
	if err != nil {
		a.deps.progress(req.ItineraryID, a.caps.Name, a.caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, fmt.Errorf("populate %s: %w", a.nodeType, err)
	}

	cs, warnings := a.buildChangeSet(it, placeholders, resp)
	a.deps.progress(req.ItineraryID, a.caps.Name, a.caps.TaskType, events.ProgressSucceeded, 100,
		fmt.Sprintf("%d nodes populated", len(cs.Ops)))

	return &Result{
		Message:   fmt.Sprintf("populated %d %s nodes", len(cs.Ops), a.nodeType),
		ChangeSet: cs,
		Warnings:  warnings,
	}, nil
}

// placeholders returns this agent's placeholder nodes in day order. The
// transport agent also owns accommodation placeholders so every skeleton node
// has exactly one populating agent.
func (a *populateAgent) placeholders(it *models.Itinerary) []*models.Node {
	var out []*models.Node
	for _, day := range it.Days {
		for _, n := range day.Nodes {
			if !isPlaceholder(n) {
				continue
			}
			if n.Type == a.nodeType ||
				(a.nodeType == models.NodeTypeTransport && n.Type == models.NodeTypeAccommodation) {
				out = append(out, n)
			}
		}
	}
	return out
}

// buildChangeSet converts the structured response into replace ops. Response
// entries whose id matches no placeholder are dropped with a warning so a
// hallucinated id can never touch another node.
func (a *populateAgent) buildChangeSet(it *models.Itinerary, placeholders []*models.Node, resp map[string]any) (*models.ChangeSet, []string) {
	byID := make(map[string]*models.Node, len(placeholders))
	for _, n := range placeholders {
		byID[n.ID] = n
	}

	cs := &models.ChangeSet{Scope: models.ScopeTrip}
	var warnings []string

	rawNodes, _ := resp["nodes"].([]any)
	for _, raw := range rawNodes {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id := stringField(m, "id")
		placeholder, ok := byID[id]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("response node %q matches no placeholder, dropped", id))
			continue
		}
		delete(byID, id)

		node := decodeNode(m)
		node.Type = placeholder.Type
		if node.Timing.StartTime == "" {
			node.Timing = placeholder.Timing
		}
		cs.Ops = append(cs.Ops, models.Op{Kind: models.OpReplace, ID: id, Node: node})
	}

	for id := range byID {
		warnings = append(warnings, fmt.Sprintf("placeholder %q was not populated", id))
	}
	return cs, warnings
}

// decodeNode converts a generic structured-response map into a Node via JSON
// round-trip, keeping only recognized fields.
func decodeNode(m map[string]any) *models.Node {
	data, _ := json.Marshal(m)
	var node models.Node
	_ = json.Unmarshal(data, &node)
	if node.Details != nil {
		delete(node.Details, "placeholder")
	}
	node.UpdatedBy = models.AuthorAgent
	return &node
}

func isPlaceholder(n *models.Node) bool {
	if n.Details == nil {
		return false
	}
	v, _ := n.Details["placeholder"].(bool)
	return v
}
