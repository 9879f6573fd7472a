package agent

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// CostEstimatorAgent sums node costs normalized to per-person amounts and
// writes per-day and trip totals. Pure logic, no LLM calls.
type CostEstimatorAgent struct {
	deps *Deps
}

// NewCostEstimatorAgent creates the cost estimator.
func NewCostEstimatorAgent(deps *Deps) *CostEstimatorAgent {
	return &CostEstimatorAgent{deps: deps}
}

// Capabilities implements Agent.
func (a *CostEstimatorAgent) Capabilities() Capabilities {
	return Capabilities{Name: "cost-estimator", TaskType: "estimate_costs", Priority: 50}
}

// Execute implements Agent.
func (a *CostEstimatorAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	caps := a.Capabilities()
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressRunning, 0, "estimating costs")

	partySize := 1
	if req.Create != nil {
		partySize = req.Create.Party.Size()
	}

	var total float64
	applied, err := a.deps.Engine.ApplyMutation(ctx, req.ItineraryID, models.AuthorAgent, "cost estimation", func(it *models.Itinerary) error {
		total = 0
		for _, day := range it.Days {
			var dayCost float64
			for _, n := range day.Nodes {
				dayCost += perPersonCost(n.Cost, partySize)
			}
			day.Totals.Cost = round2(dayCost)
			total += dayCost
		}
		it.TotalCost = round2(total)
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

	msg := fmt.Sprintf("estimated %.2f per person", total)
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressSucceeded, 100, msg)
	return &Result{Message: msg, Applied: true, ToVersion: applied.ToVersion, Diff: applied.Diff}, nil
}

// perPersonCost normalizes a node cost to a per-person amount using the
// party size. "person" amounts pass through; "group" and "night" amounts are
// split across the party.
func perPersonCost(c models.Cost, partySize int) float64 {
	if c.Amount == 0 {
		return 0
	}
	switch c.Per {
	case "group", "night":
		return c.Amount / float64(partySize)
	default:
		return c.Amount
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
