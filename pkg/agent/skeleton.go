package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// SkeletonPlannerAgent builds the initial itinerary skeleton: one day per
// calendar date, each with placeholder nodes in canonical order. Node ids
// follow the day{N}_node{seq} contract regardless of what the model returns.
type SkeletonPlannerAgent struct {
	deps *Deps
}

// NewSkeletonPlannerAgent creates the skeleton planner.
func NewSkeletonPlannerAgent(deps *Deps) *SkeletonPlannerAgent {
	return &SkeletonPlannerAgent{deps: deps}
}

// Capabilities implements Agent.
func (a *SkeletonPlannerAgent) Capabilities() Capabilities {
	return Capabilities{Name: "skeleton-planner", TaskType: "skeleton", Priority: 1}
}

// Execute implements Agent. One structured LLM call per day.
func (a *SkeletonPlannerAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	if req.Create == nil {
		return nil, fmt.Errorf("skeleton planner requires a creation request")
	}
	caps := a.Capabilities()
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressRunning, 0, "planning skeleton")

	dates, err := tripDates(req.Create.StartDate, req.Create.EndDate)
	if err != nil {
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	days := make([]*models.Day, 0, len(dates))
	for i, date := range dates {
		dayNumber := i + 1
		lastDay := i == len(dates)-1

		resp, err := a.deps.Gateway.GenerateStructured(ctx, &llm.Request{
			ItineraryID: req.ItineraryID,
			System:      plannerSystemPrompt,
			User:        skeletonDayPrompt(req.Create, dayNumber, date, lastDay),
			Model:       a.deps.Model,
			MockKey:     fmt.Sprintf("skeleton_day%d", dayNumber),
		}, skeletonDaySchema)
		if err != nil {
			a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0,
				fmt.Sprintf("day %d: %v", dayNumber, err))
			return nil, fmt.Errorf("skeleton day %d: %w", dayNumber, err)
		}

		days = append(days, buildSkeletonDay(dayNumber, date, resp))
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressRunning,
			(dayNumber*100)/len(dates), fmt.Sprintf("day %d of %d", dayNumber, len(dates)))
	}

	summary := fmt.Sprintf("%d-day trip to %s", len(days), req.Create.Destination)
	applied, err := a.deps.Engine.ApplyMutation(ctx, req.ItineraryID, models.AuthorAgent, "skeleton", func(it *models.Itinerary) error {
		it.Days = days
		it.Summary = summary
		if it.Currency == "" {
			it.Currency = req.Create.Currency
		}
		it.Themes = req.Create.Interests
		if it.Agents == nil {
			it.Agents = make(map[string]time.Time)
		}
		it.Agents[caps.TaskType] = time.Now()
		return nil
	})
	if err != nil {
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressSucceeded, 100, summary)
	return &Result{Message: summary, Applied: true, ToVersion: applied.ToVersion, Diff: applied.Diff}, nil
}

// buildSkeletonDay converts a structured day response into a Day with
// contract-conforming placeholder node ids.
func buildSkeletonDay(dayNumber int, date string, resp map[string]any) *models.Day {
	day := &models.Day{
		DayNumber: dayNumber,
		Date:      date,
		Location:  stringField(resp, "location"),
		Notes:     stringField(resp, "notes"),
	}

	rawNodes, _ := resp["nodes"].([]any)
	seq := 0
	for _, raw := range rawNodes {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		nodeType := models.NodeType(stringField(m, "type"))
		switch nodeType {
		case models.NodeTypeAttraction, models.NodeTypeMeal, models.NodeTypeAccommodation, models.NodeTypeTransport:
		default:
			continue
		}
		seq++
		node := &models.Node{
			ID:        fmt.Sprintf("day%d_node%d", dayNumber, seq),
			Type:      nodeType,
			Title:     stringField(m, "title"),
			Status:    models.NodeStatusPlanned,
			Details:   map[string]any{"placeholder": true},
			UpdatedBy: models.AuthorAgent,
			UpdatedAt: time.Now(),
		}
		if start := stringField(m, "start_time"); start != "" {
			node.Timing.StartTime = date + "T" + start + ":00"
		}
		if d, ok := m["duration_min"].(float64); ok && d > 0 {
			node.Timing.DurationMin = int(d)
		}
		day.Nodes = append(day.Nodes, node)
	}
	return day
}

// tripDates expands an inclusive ISO date range into per-day dates.
func tripDates(start, end string) ([]string, error) {
	const layout = "2006-01-02"
	from, err := time.Parse(layout, start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	to, err := time.Parse(layout, end)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("end date %s precedes start date %s", end, start)
	}

	var dates []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(layout))
	}
	return dates, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
