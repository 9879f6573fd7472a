// Package events provides in-process pub/sub for itinerary progress and
// patch events, plus WebSocket delivery to connected clients.
//
// Every event published for an itinerary carries a per-itinerary sequence
// number that increases monotonically, so clients can detect gaps. Delivery
// to live subscribers is at-least-once; disconnected subscribers miss events.
package events

// Event type constants carried in the "type" field of every payload.
const (
	// EventTypeAgentProgress reports agent lifecycle and progress updates
	// during pipeline generation and chat-routed executions.
	EventTypeAgentProgress = "agent.progress"

	// EventTypePatch reports an applied change-set with its diff and the
	// version transition.
	EventTypePatch = "itinerary.patch"
)

// Agent progress status values (AgentProgressEvent.Status).
const (
	ProgressQueued    = "queued"
	ProgressRunning   = "running"
	ProgressSucceeded = "succeeded"
	ProgressFailed    = "failed"
)

// ItineraryChannel returns the channel name for an itinerary's events.
// Format: "itinerary:{id}"
func ItineraryChannel(itineraryID string) string {
	return "itinerary:" + itineraryID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // e.g. "itinerary:it_abc123"
}
