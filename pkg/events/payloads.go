package events

import "github.com/wayfarer-hq/wayfarer/pkg/models"

// AgentProgressEvent is the payload for agent.progress events.
// Published when an agent is queued, reports intermediate progress, or
// reaches a terminal status.
type AgentProgressEvent struct {
	Type        string `json:"type"` // always EventTypeAgentProgress
	ItineraryID string `json:"itinerary_id"`
	AgentID     string `json:"agent_id"`
	Kind        string `json:"kind"`               // agent task type, e.g. "skeleton"
	Status      string `json:"status"`             // queued, running, succeeded, failed
	Progress    int    `json:"progress,omitempty"` // 0..100, meaningful while running
	Message     string `json:"message,omitempty"`
	Step        string `json:"step,omitempty"`
	UpdatedAt   string `json:"updated_at"` // RFC3339Nano
}

// PatchEvent is the payload for itinerary.patch events.
// Published after every successful change-set apply; to_version strictly
// increases per itinerary.
type PatchEvent struct {
	Type        string        `json:"type"` // always EventTypePatch
	ItineraryID string        `json:"itinerary_id"`
	FromVersion int           `json:"from_version"`
	ToVersion   int           `json:"to_version"`
	Diff        *models.Diff  `json:"diff"`
	Summary     string        `json:"summary,omitempty"`
	UpdatedBy   models.Author `json:"updated_by"`
	UpdatedAt   string        `json:"updated_at"` // RFC3339Nano
}
