package models

import "time"

// GenerationStatus tracks the async pipeline state surfaced on trip metadata.
type GenerationStatus string

// Generation status constants.
const (
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusReady      GenerationStatus = "ready"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// TripMetadata is the per-owner index entry for an itinerary. It is written
// synchronously at creation so ownership is visible before async work begins.
type TripMetadata struct {
	Owner       string           `json:"owner"`
	ItineraryID string           `json:"itinerary_id"`
	Destination string           `json:"destination"`
	StartDate   string           `json:"start_date"`
	EndDate     string           `json:"end_date"`
	Status      GenerationStatus `json:"status"`
}

// Revision is an immutable full snapshot of an itinerary at a version.
// The last N revisions are retained per itinerary (default 50).
type Revision struct {
	ItineraryID string     `json:"itinerary_id"`
	Version     int        `json:"version"`
	Snapshot    *Itinerary `json:"snapshot"`
	Author      Author     `json:"author"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateRequest is the client input for itinerary generation.
type CreateRequest struct {
	Destination string   `json:"destination"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date"`
	Party       Party    `json:"party"`
	BudgetTier  string   `json:"budget_tier,omitempty"`
	Language    string   `json:"language,omitempty"`
	Interests   []string `json:"interests,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	Owner       string   `json:"owner,omitempty"`
	Currency    string   `json:"currency,omitempty"`
}

// Party describes who is travelling.
type Party struct {
	Adults   int `json:"adults"`
	Children int `json:"children,omitempty"`
}

// Size returns the total head count, never less than 1.
func (p Party) Size() int {
	n := p.Adults + p.Children
	if n < 1 {
		return 1
	}
	return n
}
