package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// DayByDayPlannerAgent is the chat-facing planner. With no itinerary in
// context it extracts trip parameters from the chat turn, creates the shell,
// and runs the full pipeline. With an existing itinerary it re-plans a
// single day, preserving locked nodes.
type DayByDayPlannerAgent struct {
	deps     *Deps
	pipeline Pipeline
}

// NewDayByDayPlannerAgent creates the chat planner. The pipeline is injected
// later via SetPipeline.
func NewDayByDayPlannerAgent(deps *Deps) *DayByDayPlannerAgent {
	return &DayByDayPlannerAgent{deps: deps}
}

// SetPipeline injects the generation pipeline.
func (a *DayByDayPlannerAgent) SetPipeline(p Pipeline) { a.pipeline = p }

// Capabilities implements Agent.
func (a *DayByDayPlannerAgent) Capabilities() Capabilities {
	return Capabilities{Name: "day-by-day-planner", TaskType: "plan", Priority: 5, ChatEnabled: true}
}

// Execute implements Agent.
func (a *DayByDayPlannerAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	if req.ItineraryID == "" {
		return a.createFromChat(ctx, req)
	}
	return a.replanDay(ctx, req)
}

// createFromChat extracts a creation request from the chat turn, persists
// the shell and metadata, and runs the pipeline to completion.
func (a *DayByDayPlannerAgent) createFromChat(ctx context.Context, req *Request) (*Result, error) {
	if a.pipeline == nil {
		return nil, fmt.Errorf("planner has no pipeline configured")
	}

	create := req.Create
	if create == nil {
		resp, err := a.deps.Gateway.GenerateStructured(ctx, &llm.Request{
			System:  plannerSystemPrompt,
			User:    createExtractionPrompt(req.ChatText),
			Model:   a.deps.Model,
			MockKey: "plan_extract",
		}, createRequestSchema)
		if err != nil {
			return nil, fmt.Errorf("extracting trip parameters: %w", err)
		}
		data, _ := json.Marshal(resp)
		create = &models.CreateRequest{}
		if err := json.Unmarshal(data, create); err != nil {
			return nil, fmt.Errorf("decoding trip parameters: %w", err)
		}
	}

	id := NewItineraryID()
	now := time.Now()
	shell := &models.Itinerary{
		ID:        id,
		Version:   1,
		Owner:     create.Owner,
		Currency:  create.Currency,
		Days:      []*models.Day{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.deps.Store.PutItinerary(ctx, shell, 0); err != nil {
		return nil, fmt.Errorf("creating itinerary shell: %w", err)
	}
	if err := a.deps.Store.PutMetadata(ctx, models.TripMetadata{
		Owner:       create.Owner,
		ItineraryID: id,
		Destination: create.Destination,
		StartDate:   create.StartDate,
		EndDate:     create.EndDate,
		Status:      models.GenerationStatusGenerating,
	}); err != nil {
		return nil, fmt.Errorf("writing trip metadata: %w", err)
	}

	if err := a.pipeline.Generate(ctx, id, create); err != nil {
		return nil, err
	}
	return &Result{
		Message: fmt.Sprintf("Planned your trip to %s.", create.Destination),
		Applied: true,
		Data:    map[string]any{"itinerary_id": id},
	}, nil
}

// replanDay regenerates one day of an existing itinerary. Locked nodes stay
// in place; everything else is replaced.
func (a *DayByDayPlannerAgent) replanDay(ctx context.Context, req *Request) (*Result, error) {
	caps := a.Capabilities()
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressRunning, 0, "replanning day")

	it, err := a.deps.Store.GetItinerary(ctx, req.ItineraryID)
	if err != nil {
		return nil, err
	}
	dayNumber := req.Day
	if dayNumber == 0 {
		dayNumber = 1
	}
	day := it.FindDay(dayNumber)
	if day == nil {
		return nil, fmt.Errorf("day %d not found", dayNumber)
	}

	resp, err := a.deps.Gateway.GenerateStructured(ctx, &llm.Request{
		ItineraryID: req.ItineraryID,
		System:      plannerSystemPrompt,
		User:        dayPlanPrompt(it, day, req.ChatText),
		Model:       a.deps.Model,
		MockKey:     fmt.Sprintf("plan_day%d", dayNumber),
	}, skeletonDaySchema)
	if err != nil {
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	applied, err := a.deps.Engine.ApplyMutation(ctx, req.ItineraryID, models.AuthorAgent,
		fmt.Sprintf("replan day %d", dayNumber), func(doc *models.Itinerary) error {
			target := doc.FindDay(dayNumber)
			if target == nil {
				return fmt.Errorf("day %d not found", dayNumber)
			}
			replaceDayNodes(doc, target, resp)
			return nil
		})
	if err != nil {
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	msg := fmt.Sprintf("Re-planned day %d.", dayNumber)
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressSucceeded, 100, msg)
	return &Result{Message: msg, Applied: true, ToVersion: applied.ToVersion, Diff: applied.Diff}, nil
}

// replaceDayNodes swaps a day's unlocked nodes for freshly generated ones.
// New ids continue the day's sequence past every id ever used in the
// document so an undo can never collide.
func replaceDayNodes(doc *models.Itinerary, day *models.Day, resp map[string]any) {
	var kept []*models.Node
	for _, n := range day.Nodes {
		if n.Locked {
			kept = append(kept, n)
		}
	}

	used := doc.NodeIDs()
	seq := 0
	nextID := func() string {
		for {
			seq++
			id := fmt.Sprintf("day%d_node%d", day.DayNumber, seq)
			if !used[id] {
				used[id] = true
				return id
			}
		}
	}

	generated := buildSkeletonDay(day.DayNumber, day.Date, resp)
	nodes := kept
	for _, n := range generated.Nodes {
		n.ID = nextID()
		n.Details = nil
		nodes = append(nodes, n)
	}
	sortNodesByStart(nodes)

	day.Nodes = nodes
	day.Location = generated.Location
	if generated.Notes != "" {
		day.Notes = generated.Notes
	}
}

func sortNodesByStart(nodes []*models.Node) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && startKey(nodes[j]) < startKey(nodes[j-1]); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// startKey yields a sortable key; untimed nodes sort last.
func startKey(n *models.Node) string {
	if n.Timing.StartTime == "" {
		return "~"
	}
	if idx := strings.Index(n.Timing.StartTime, "T"); idx >= 0 {
		return n.Timing.StartTime[idx+1:]
	}
	return n.Timing.StartTime
}

// NewItineraryID allocates an opaque itinerary id.
func NewItineraryID() string {
	return "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
