package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wayfarer-hq/wayfarer/pkg/engine"
	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// EditorAgent turns a chat edit request into a change-set via a structured
// LLM call, previews it through the change engine, and applies it when the
// request or itinerary settings say so. It also carries undo requests
// straight to the engine.
type EditorAgent struct {
	deps *Deps
}

// NewEditorAgent creates the editor.
func NewEditorAgent(deps *Deps) *EditorAgent {
	return &EditorAgent{deps: deps}
}

// Capabilities implements Agent.
func (a *EditorAgent) Capabilities() Capabilities {
	return Capabilities{Name: "editor", TaskType: "edit", Priority: 10, ChatEnabled: true}
}

// Execute implements Agent.
func (a *EditorAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	caps := a.Capabilities()
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressRunning, 0, "editing")

	res, err := a.execute(ctx, req)
	if err != nil {
		a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressFailed, 0, err.Error())
		return nil, err
	}
	a.deps.progress(req.ItineraryID, caps.Name, caps.TaskType, events.ProgressSucceeded, 100, res.Message)
	return res, nil
}

func (a *EditorAgent) execute(ctx context.Context, req *Request) (*Result, error) {
	if req.Undo {
		applied, err := a.deps.Engine.Undo(ctx, req.ItineraryID, req.TargetVersion)
		if err != nil {
			return nil, err
		}
		return &Result{
			Message:   fmt.Sprintf("restored version %d as version %d", applied.ToVersion-1, applied.ToVersion),
			Applied:   true,
			ToVersion: applied.ToVersion,
			Diff:      applied.Diff,
		}, nil
	}

	it, err := a.deps.Store.GetItinerary(ctx, req.ItineraryID)
	if err != nil {
		return nil, err
	}

	cs, err := a.generateChangeSet(ctx, it, req)
	if err != nil {
		return nil, err
	}

	proposed, err := a.deps.Engine.Propose(ctx, req.ItineraryID, cs)
	if err != nil {
		var lockErr *engine.LockedNodeError
		if errors.As(err, &lockErr) {
			return &Result{
				Message: fmt.Sprintf("I can't change %s: booked items are locked. Unlock or cancel the booking first.",
					strings.Join(lockErr.Nodes, ", ")),
				ChangeSet: cs,
				Warnings:  lockErr.Nodes,
			}, nil
		}
		return nil, err
	}

	autoApply := req.AutoApply || it.Settings.AutoApply || cs.Preferences.AutoApply
	if !autoApply {
		return &Result{
			Message:   "Here is the proposed change. Apply it to make it stick.",
			ChangeSet: cs,
			Diff:      proposed.Diff,
		}, nil
	}

	applied, err := a.deps.Engine.Apply(ctx, req.ItineraryID, cs, models.AuthorUser)
	if err != nil {
		return nil, err
	}
	return &Result{
		Message:   "Done, your itinerary is updated.",
		ChangeSet: cs,
		Diff:      applied.Diff,
		Applied:   true,
		ToVersion: applied.ToVersion,
	}, nil
}

// generateChangeSet asks the model for a change-set constrained to the
// change-set schema and decodes it, folding in the request's scope hints.
func (a *EditorAgent) generateChangeSet(ctx context.Context, it *models.Itinerary, req *Request) (*models.ChangeSet, error) {
	resp, err := a.deps.Gateway.GenerateStructured(ctx, &llm.Request{
		ItineraryID: req.ItineraryID,
		System:      plannerSystemPrompt,
		User:        editorPrompt(it, req),
		Model:       a.deps.Model,
		MockKey:     "edit",
	}, changeSetSchema)
	if err != nil {
		return nil, fmt.Errorf("generating change-set: %w", err)
	}

	data, _ := json.Marshal(resp)
	var cs models.ChangeSet
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("decoding change-set: %w", err)
	}
	if len(cs.Ops) == 0 {
		return nil, fmt.Errorf("%w: change-set has no ops", llm.ErrInvalidStructuredResponse)
	}

	if req.Scope != "" {
		cs.Scope = req.Scope
	}
	if cs.Scope == "" {
		cs.Scope = models.ScopeTrip
	}
	if req.Day > 0 {
		cs.Day = req.Day
	}
	return &cs, nil
}
