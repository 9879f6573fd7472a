package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wayfarer-hq/wayfarer/pkg/engine"
	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// BookingAgent books a node: a single update op setting locked, appending
// the Booked label, and stamping a generated booking reference. Applied
// immediately, never previewed.
type BookingAgent struct {
	deps *Deps
}

// NewBookingAgent creates the booking agent.
func NewBookingAgent(deps *Deps) *BookingAgent {
	return &BookingAgent{deps: deps}
}

// Capabilities implements Agent.
func (a *BookingAgent) Capabilities() Capabilities {
	return Capabilities{Name: "booking", TaskType: "book", Priority: 30, ChatEnabled: true}
}

// Execute implements Agent.
func (a *BookingAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	caps := a.Capabilities()
	nodeID := req.NodeID
	if nodeID == "" {
		nodeID = req.SelectedNodeID
	}
	if nodeID == "" {
		return nil, fmt.Errorf("booking requires a node id")
	}
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressRunning, 0, "booking "+nodeID)

	it, err := a.deps.Store.GetItinerary(ctx, req.ItineraryID)
	if err != nil {
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}
	node, _ := it.FindNode(nodeID)
	if node == nil {
		err := fmt.Errorf("node %q not found", nodeID)
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	ref := newBookingRef()
	labels := append([]string{}, node.Labels...)
	if !hasLabel(labels, models.LabelBooked) {
		labels = append(labels, models.LabelBooked)
	}

	cs := &models.ChangeSet{
		Scope: models.ScopeTrip,
		Ops: []models.Op{{
			Kind: models.OpUpdate,
			ID:   nodeID,
			Fields: map[string]any{
				"locked":      true,
				"labels":      labels,
				"booking_ref": ref,
			},
		}},
	}

	applied, err := a.deps.Engine.Apply(ctx, req.ItineraryID, cs, models.AuthorUser)
	if err != nil {
		var lockErr *engine.LockedNodeError
		if errors.As(err, &lockErr) {
			a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressSucceeded, 100, "already booked")
			return &Result{
				Message:  fmt.Sprintf("%s is already booked (ref %s).", node.Title, node.BookingRef),
				Warnings: []string{nodeID},
			}, nil
		}
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}

	msg := fmt.Sprintf("Booked %s, reference %s.", node.Title, ref)
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressSucceeded, 100, msg)
	return &Result{
		Message:   msg,
		ChangeSet: cs,
		Diff:      applied.Diff,
		Applied:   true,
		ToVersion: applied.ToVersion,
		Data:      map[string]any{"booking_ref": ref},
	}, nil
}

func newBookingRef() string {
	return "bk_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
