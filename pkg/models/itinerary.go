// Package models defines the normalized itinerary data model shared by the
// store, change engine, agents, and API layers.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType identifies the content kind of a node.
type NodeType string

// Node type constants. A node is exactly one of these.
const (
	NodeTypeAttraction    NodeType = "attraction"
	NodeTypeMeal          NodeType = "meal"
	NodeTypeAccommodation NodeType = "accommodation"
	NodeTypeTransport     NodeType = "transport"
)

// NodeStatus tracks a node's lifecycle from the traveller's perspective.
type NodeStatus string

// Node status constants.
const (
	NodeStatusPlanned    NodeStatus = "planned"
	NodeStatusInProgress NodeStatus = "in_progress"
	NodeStatusSkipped    NodeStatus = "skipped"
	NodeStatusCancelled  NodeStatus = "cancelled"
	NodeStatusCompleted  NodeStatus = "completed"
)

// Pacing classifies how packed a day is.
type Pacing string

// Pacing constants.
const (
	PacingRelaxed  Pacing = "relaxed"
	PacingBalanced Pacing = "balanced"
	PacingIntense  Pacing = "intense"
)

// Author identifies who performed a mutation.
type Author string

// Author constants.
const (
	AuthorAgent Author = "agent"
	AuthorUser  Author = "user"
)

// LabelBooked is the reserved label appended when a node is booked.
const LabelBooked = "Booked"

// Itinerary is the top-level planned trip document.
//
// Invariants:
//   - version is monotonic (never decreases except via undo, which still
//     bumps the stored version forward)
//   - each day.day_number is unique and forms 1..N
//   - when day dates are set, they are non-decreasing
type Itinerary struct {
	ID        string               `json:"id"`
	Version   int                  `json:"version"`
	Owner     string               `json:"owner"`
	Summary   string               `json:"summary,omitempty"`
	Currency  string               `json:"currency,omitempty"`
	Themes    []string             `json:"themes,omitempty"`
	Days      []*Day               `json:"days"`
	Settings  Settings             `json:"settings"`
	TotalCost float64              `json:"total_cost,omitempty"`
	Agents    map[string]time.Time `json:"agents,omitempty"` // agent kind → last run at
	Warnings  []string             `json:"warnings,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Settings holds recognized per-itinerary options.
type Settings struct {
	AutoApply    bool   `json:"auto_apply"`
	DefaultScope string `json:"default_scope,omitempty"` // "trip" or "day"
}

// Day is one calendar day of the trip.
//
// Invariants: edges reference only node ids present in nodes; edges follow
// node order in time (DAG by construction).
type Day struct {
	DayNumber  int        `json:"day_number"`
	Date       string     `json:"date,omitempty"` // ISO date, e.g. "2026-01-24"
	Location   string     `json:"location,omitempty"`
	Nodes      []*Node    `json:"nodes"`
	Edges      []*Edge    `json:"edges"`
	Pacing     Pacing     `json:"pacing,omitempty"`
	TimeWindow TimeWindow `json:"time_window,omitempty"`
	Totals     DayTotals  `json:"totals"`
	Warnings   []string   `json:"warnings,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// TimeWindow bounds the active hours of a day.
type TimeWindow struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// DayTotals aggregates per-day figures recomputed on every apply.
type DayTotals struct {
	DistanceKm float64 `json:"distance_km"`
	Cost       float64 `json:"cost"`
	DurationHr float64 `json:"duration_hr"`
}

// Edge connects two nodes of the same day with transit information.
type Edge struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Transit Transit `json:"transit"`
}

// Transit describes how to get from one node to the next.
type Transit struct {
	Mode        string  `json:"mode,omitempty"`
	DurationMin int     `json:"duration_min,omitempty"`
	DistanceKm  float64 `json:"distance_km,omitempty"`
}

// Node is the single polymorphic content unit.
//
// Invariant: locked nodes may not be moved, deleted, replaced, or retimed by
// any operation.
type Node struct {
	ID         string         `json:"id"`
	Type       NodeType       `json:"type"`
	Title      string         `json:"title"`
	Location   Location       `json:"location,omitempty"`
	Timing     Timing         `json:"timing,omitempty"`
	Cost       Cost           `json:"cost,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Labels     []string       `json:"labels,omitempty"`
	Tips       Tips           `json:"tips,omitempty"`
	Links      Links          `json:"links,omitempty"`
	Locked     bool           `json:"locked,omitempty"`
	BookingRef string         `json:"booking_ref,omitempty"`
	Status     NodeStatus     `json:"status,omitempty"`
	UpdatedBy  Author         `json:"updated_by,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}

// Location is a place reference with optional coordinates.
type Location struct {
	Name        string       `json:"name,omitempty"`
	Address     string       `json:"address,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// Coordinates is a WGS84 lat/lng pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Timing holds a node's schedule. Times are ISO-8601 or "HH:mm"; the change
// engine normalizes "HH:mm" to full timestamps using the day's date.
type Timing struct {
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	DurationMin int    `json:"duration_min,omitempty"`
}

// Cost is a monetary amount with a normalization unit.
type Cost struct {
	Amount   float64 `json:"amount,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Per      string  `json:"per,omitempty"` // "person", "group", or "night"
}

// Tips carries free-form advisory text for a node.
type Tips struct {
	Travel   string `json:"travel,omitempty"`
	Warnings string `json:"warnings,omitempty"`
	BestTime string `json:"best_time,omitempty"`
}

// Links holds outbound references for a node.
type Links struct {
	Book    string `json:"book,omitempty"`
	Details string `json:"details,omitempty"`
	Website string `json:"website,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Clone returns a deep copy of the itinerary via JSON round-trip.
// Used by the change engine to apply ops to an in-memory copy.
func (it *Itinerary) Clone() *Itinerary {
	data, err := json.Marshal(it)
	if err != nil {
		// The model is plain data; marshal can only fail on programmer error.
		panic(fmt.Sprintf("itinerary clone marshal: %v", err))
	}
	var out Itinerary
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("itinerary clone unmarshal: %v", err))
	}
	return &out
}

// FindNode returns the node with the given id and its containing day,
// or (nil, nil) when absent.
func (it *Itinerary) FindNode(id string) (*Node, *Day) {
	for _, day := range it.Days {
		for _, n := range day.Nodes {
			if n.ID == id {
				return n, day
			}
		}
	}
	return nil, nil
}

// FindDay returns the day with the given day number, or nil.
func (it *Itinerary) FindDay(dayNumber int) *Day {
	for _, day := range it.Days {
		if day.DayNumber == dayNumber {
			return day
		}
	}
	return nil
}

// NodeIDs returns the set of all node ids in the itinerary.
func (it *Itinerary) NodeIDs() map[string]bool {
	ids := make(map[string]bool)
	for _, day := range it.Days {
		for _, n := range day.Nodes {
			ids[n.ID] = true
		}
	}
	return ids
}

// NodeIndex returns the position of the node id in the day's node list,
// or -1 when absent.
func (d *Day) NodeIndex(id string) int {
	for i, n := range d.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// HasNode reports whether the day contains the node id.
func (d *Day) HasNode(id string) bool {
	return d.NodeIndex(id) >= 0
}
