package agent

import (
	"context"
	"strings"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// NodeWarningClosed is set on nodes scheduled outside their opening hours.
const NodeWarningClosed = "closed at requested time"

// EnrichmentAgent validates node timing against opening hours and refreshes
// day-level pacing, totals, and transit. Pure logic, no LLM calls. Runs in
// the pipeline's third phase and on demand from chat.
type EnrichmentAgent struct {
	deps *Deps
}

// NewEnrichmentAgent creates the enrichment agent.
func NewEnrichmentAgent(deps *Deps) *EnrichmentAgent {
	return &EnrichmentAgent{deps: deps}
}

// Capabilities implements Agent.
func (a *EnrichmentAgent) Capabilities() Capabilities {
	return Capabilities{Name: "enrichment", TaskType: "enrich", Priority: 20, ChatEnabled: true}
}

// Execute implements Agent.
func (a *EnrichmentAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	caps := a.Capabilities()
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressRunning, 0, "enriching")

	applied, err := a.deps.Engine.ApplyMutation(ctx, req.ItineraryID, models.AuthorAgent, "enrichment", func(it *models.Itinerary) error {
		for _, day := range it.Days {
			for _, n := range day.Nodes {
				checkOpeningHours(n)
			}
		}
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

	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressSucceeded, 100, "enrichment complete")
	return &Result{
		Message:   "itinerary enriched",
		Applied:   true,
		ToVersion: applied.ToVersion,
		Diff:      applied.Diff,
	}, nil
}

// checkOpeningHours compares the node's timing against details.openingHours
// ("HH:mm-HH:mm") and sets or clears the closed warning.
func checkOpeningHours(n *models.Node) {
	hours := openingHours(n)
	if hours == "" || n.Timing.StartTime == "" {
		return
	}
	open, close, ok := strings.Cut(hours, "-")
	if !ok {
		return
	}

	start := clockPart(n.Timing.StartTime)
	end := clockPart(n.Timing.EndTime)
	closed := (start != "" && start < strings.TrimSpace(open)) ||
		(end != "" && end > strings.TrimSpace(close))

	switch {
	case closed && n.Tips.Warnings == "":
		n.Tips.Warnings = NodeWarningClosed
	case !closed && n.Tips.Warnings == NodeWarningClosed:
		n.Tips.Warnings = ""
	}
}

func openingHours(n *models.Node) string {
	if n.Details == nil {
		return ""
	}
	s, _ := n.Details["openingHours"].(string)
	return s
}

// clockPart extracts "HH:mm" from a normalized timestamp or clock string.
// Lexicographic comparison is valid on this format.
func clockPart(t string) string {
	if idx := strings.Index(t, "T"); idx >= 0 && len(t) >= idx+6 {
		return t[idx+1 : idx+6]
	}
	if len(t) == 5 && t[2] == ':' {
		return t
	}
	return ""
}
