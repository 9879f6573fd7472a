package events

import (
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// Publisher is the typed publishing surface used by agents, the change
// engine, and the orchestrator. Each method stamps the event type and
// timestamp and routes the payload onto the bus.
type Publisher struct {
	bus *Bus
}

// NewPublisher creates a Publisher over the given bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Bus exposes the underlying bus for subscription.
func (p *Publisher) Bus() *Bus { return p.bus }

// PublishProgress publishes an agent.progress event.
func (p *Publisher) PublishProgress(itineraryID, agentID, kind, status string, progress int, message string) {
	p.bus.Publish(itineraryID, AgentProgressEvent{
		Type:        EventTypeAgentProgress,
		ItineraryID: itineraryID,
		AgentID:     agentID,
		Kind:        kind,
		Status:      status,
		Progress:    progress,
		Message:     message,
		UpdatedAt:   time.Now().Format(time.RFC3339Nano),
	})
}

// PublishPatch publishes an itinerary.patch event for an applied change-set.
func (p *Publisher) PublishPatch(itineraryID string, fromVersion, toVersion int, diff *models.Diff, summary string, updatedBy models.Author) {
	p.bus.Publish(itineraryID, PatchEvent{
		Type:        EventTypePatch,
		ItineraryID: itineraryID,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Diff:        diff,
		Summary:     summary,
		UpdatedBy:   updatedBy,
		UpdatedAt:   time.Now().Format(time.RFC3339Nano),
	})
}
