// Package chat routes conversational turns to the single responsible agent:
// intent classification (regex pre-router with LLM structured fallback),
// fuzzy node resolution with disambiguation, and agent invocation.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wayfarer-hq/wayfarer/pkg/agent"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// Recognized intents.
const (
	IntentEdit        = "edit"
	IntentPlan        = "plan"
	IntentExplain     = "explain"
	IntentBook        = "book"
	IntentEnrich      = "enrich"
	IntentUndo        = "undo"
	IntentReplanToday = "replan_today"
)

// intentTaskTypes is the fixed intent → task type map. Undo and replan_today
// ride on the editor.
var intentTaskTypes = map[string]string{
	IntentEdit:        "edit",
	IntentPlan:        "plan",
	IntentExplain:     "explain",
	IntentBook:        "book",
	IntentEnrich:      "enrich",
	IntentUndo:        "edit",
	IntentReplanToday: "edit",
}

// Request is one chat turn.
type Request struct {
	ItineraryID    string `json:"itinerary_id,omitempty"`
	ChatText       string `json:"chat_text"`
	SelectedNodeID string `json:"selected_node_id,omitempty"`
	Scope          string `json:"scope,omitempty"`
	Day            int    `json:"day,omitempty"`
	AutoApply      bool   `json:"auto_apply,omitempty"`
	Owner          string `json:"owner,omitempty"`
}

// Response is the chat result returned to the client.
type Response struct {
	Intent              string            `json:"intent"`
	Message             string            `json:"message,omitempty"`
	ChangeSet           *models.ChangeSet `json:"change_set,omitempty"`
	Diff                *models.Diff      `json:"diff,omitempty"`
	Applied             bool              `json:"applied"`
	ToVersion           int               `json:"to_version,omitempty"`
	Warnings            []string          `json:"warnings,omitempty"`
	NeedsDisambiguation bool              `json:"needs_disambiguation"`
	Candidates          []Candidate       `json:"candidates,omitempty"`
	Data                map[string]any    `json:"data,omitempty"`
}

// Candidate is one node option offered back for disambiguation.
type Candidate struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Day      int    `json:"day"`
	Type     string `json:"type"`
	Location string `json:"location,omitempty"`
}

// Router classifies and dispatches chat turns.
type Router struct {
	registry *agent.Registry
	deps     *agent.Deps
	store    store.Store
	gateway  *llm.Gateway
	model    string
}

// NewRouter creates a chat router over the agent registry.
func NewRouter(registry *agent.Registry, deps *agent.Deps) *Router {
	return &Router{
		registry: registry,
		deps:     deps,
		store:    deps.Store,
		gateway:  deps.Gateway,
		model:    deps.Model,
	}
}

// Handle processes one chat turn end to end.
func (r *Router) Handle(ctx context.Context, req *Request) (*Response, error) {
	cls := preRoute(req.ChatText)
	if cls.Intent == "" {
		var err error
		cls, err = r.classifyLLM(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("classifying intent: %w", err)
		}
	}
	slog.Debug("Chat turn classified",
		"intent", cls.Intent, "itinerary_id", req.ItineraryID, "hints", cls.NodeHints)

	// Planning with no itinerary in context skips node resolution entirely.
	if req.ItineraryID == "" {
		cls.Intent = IntentPlan
	}

	day := req.Day
	if day == 0 {
		day = cls.Day
	}

	selected := req.SelectedNodeID
	if selected == "" && req.ItineraryID != "" && resolvesNode(cls.Intent) {
		it, err := r.store.GetItinerary(ctx, req.ItineraryID)
		if err != nil {
			return nil, err
		}

		hint := firstHint(cls.NodeHints, req.ChatText)
		resolved, candidates := resolveNode(it, hint, day)
		switch {
		case resolved != "":
			selected = resolved
		case len(candidates) == 1 && cls.Intent != IntentBook:
			// A lone plausible target settles an edit; booking keeps asking
			// until the match is confident.
			selected = candidates[0].ID
		case len(candidates) > 0 || cls.Intent == IntentBook:
			return &Response{
				Intent:              cls.Intent,
				Message:             disambiguationMessage(candidates),
				NeedsDisambiguation: true,
				Candidates:          candidates,
			}, nil
		}
		// Edits that name no node proceed unscoped.
	}

	taskType, ok := intentTaskTypes[cls.Intent]
	if !ok {
		return nil, fmt.Errorf("unrecognized intent %q", cls.Intent)
	}
	a, err := r.registry.Route(taskType)
	if err != nil {
		return nil, err
	}

	scope := req.Scope
	if cls.Intent == IntentReplanToday {
		scope = models.ScopeDay
		if day == 0 {
			day = 1
		}
	}

	agentReq := &agent.Request{
		ItineraryID:    req.ItineraryID,
		ChatText:       req.ChatText,
		SelectedNodeID: selected,
		NodeID:         selected,
		Scope:          scope,
		Day:            day,
		AutoApply:      req.AutoApply,
		Undo:           cls.Intent == IntentUndo,
	}
	if cls.Intent == IntentPlan && req.ItineraryID == "" {
		agentReq.Create = nil // extracted from chat by the planner
	}

	res, err := agent.Run(ctx, a, r.deps, agentReq)
	if err != nil {
		return nil, err
	}

	return &Response{
		Intent:    cls.Intent,
		Message:   res.Message,
		ChangeSet: res.ChangeSet,
		Diff:      res.Diff,
		Applied:   res.Applied,
		ToVersion: res.ToVersion,
		Warnings:  res.Warnings,
		Data:      res.Data,
	}, nil
}

// classification is the outcome of intent classification.
type classification struct {
	Intent    string   `json:"intent"`
	Day       int      `json:"day,omitempty"`
	NodeHints []string `json:"node_hints,omitempty"`
}

var intentSchema = []byte(`{
  "type": "object",
  "required": ["intent"],
  "properties": {
    "intent": {"enum": ["edit", "plan", "explain", "book", "enrich", "undo", "replan_today"]},
    "day": {"type": "integer", "minimum": 1},
    "node_hints": {"type": "array", "items": {"type": "string"}},
    "constraints": {"type": "object"}
  }
}`)

// classifyLLM is the structured fallback when the pre-router is unsure.
func (r *Router) classifyLLM(ctx context.Context, req *Request) (classification, error) {
	resp, err := r.gateway.GenerateStructured(ctx, &llm.Request{
		ItineraryID: req.ItineraryID,
		System:      "You classify travel-planning chat messages. Respond only with JSON.",
		User: fmt.Sprintf(
			"Classify this message into one intent of edit, plan, explain, book, enrich, undo, replan_today. Extract the day number and short hints describing any itinerary items it references.\n\nMessage: %q",
			req.ChatText),
		Model:   r.model,
		MockKey: "intent",
	}, intentSchema)
	if err != nil {
		return classification{}, err
	}

	data, _ := json.Marshal(resp)
	var cls classification
	if err := json.Unmarshal(data, &cls); err != nil {
		return classification{}, err
	}
	return cls, nil
}

// resolvesNode reports whether the intent takes a node target resolved from
// the message text.
func resolvesNode(intent string) bool {
	return intent == IntentBook || intent == IntentEdit
}

func firstHint(hints []string, fallback string) string {
	if len(hints) > 0 {
		return hints[0]
	}
	return fallback
}

func disambiguationMessage(candidates []Candidate) string {
	if len(candidates) == 0 {
		return "I couldn't find that item in your itinerary. Which one did you mean?"
	}
	return "I found several matching items. Which one did you mean?"
}
