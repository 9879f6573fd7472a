// Package agent provides the agent framework: the Agent interface, the
// registry with zero-overlap chat routing, and the twelve concrete agents
// that generate and mutate itineraries.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/engine"
	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/llm"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// DefaultDeadline bounds a single agent execution.
const DefaultDeadline = 120 * time.Second

// ErrAgentTimeout is returned when an agent exceeds its execution deadline.
var ErrAgentTimeout = errors.New("agent timeout")

// Capabilities declares what an agent handles. TaskType is the routing key;
// chat-enabled task types must be unique across the registry.
type Capabilities struct {
	Name        string
	TaskType    string
	Priority    int // lower = higher precedence
	ChatEnabled bool
}

// Request is the input to an agent execution. Which fields are meaningful
// depends on the agent's task type.
type Request struct {
	ItineraryID    string
	Create         *models.CreateRequest
	ChatText       string
	SelectedNodeID string
	NodeID         string
	Scope          string
	Day            int
	AutoApply      bool
	Undo           bool
	TargetVersion  int
	Params         map[string]any
}

// Result is the output of an agent execution.
type Result struct {
	Message   string            `json:"message,omitempty"`
	ChangeSet *models.ChangeSet `json:"change_set,omitempty"`
	Diff      *models.Diff      `json:"diff,omitempty"`
	Applied   bool              `json:"applied"`
	ToVersion int               `json:"to_version,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
}

// Agent is implemented by all pipeline and chat agents.
type Agent interface {
	Capabilities() Capabilities
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Pipeline is the generation entry point agents use to kick off or re-run
// full itinerary generation. Implemented by the orchestrator; injected after
// construction to break the dependency cycle between agents and the
// orchestrator that runs them.
type Pipeline interface {
	Generate(ctx context.Context, itineraryID string, req *models.CreateRequest) error
}

// Deps carries the shared dependencies of all agents.
type Deps struct {
	Store    store.Store
	Engine   *engine.Engine
	Gateway  *llm.Gateway
	Events   *events.Publisher
	Model    string
	Deadline time.Duration
}

func (d *Deps) deadline() time.Duration {
	if d.Deadline > 0 {
		return d.Deadline
	}
	return DefaultDeadline
}

// progress emits an agent.progress event.
func (d *Deps) progress(itineraryID, agentName, kind, status string, p int, message string) {
	if d.Events == nil {
		return
	}
	d.Events.PublishProgress(itineraryID, agentName, kind, status, p, message)
}

// Run executes an agent under its deadline, mapping deadline expiry to
// ErrAgentTimeout. All orchestrator, queue, and chat invocations go through
// here.
func Run(ctx context.Context, a Agent, deps *Deps, req *Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, deps.deadline())
	defer cancel()

	res, err := a.Execute(ctx, req)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrAgentTimeout, a.Capabilities().Name)
	}
	return res, err
}
