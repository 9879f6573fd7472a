package engine

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// diffNodeFields reports which top-level node fields differ between two
// versions of the same node. Comparison is structural via JSON round-trip
// of each field group.
func diffNodeFields(before, after *models.Node) []string {
	var fields []string
	if before.Type != after.Type {
		fields = append(fields, "type")
	}
	if before.Title != after.Title {
		fields = append(fields, "title")
	}
	if !jsonEqual(before.Location, after.Location) {
		fields = append(fields, "location")
	}
	if before.Timing != after.Timing {
		fields = append(fields, "timing")
	}
	if before.Cost != after.Cost {
		fields = append(fields, "cost")
	}
	if !jsonEqual(before.Details, after.Details) {
		fields = append(fields, "details")
	}
	if !reflect.DeepEqual(before.Labels, after.Labels) {
		fields = append(fields, "labels")
	}
	if before.Tips != after.Tips {
		fields = append(fields, "tips")
	}
	if before.Links != after.Links {
		fields = append(fields, "links")
	}
	if before.Locked != after.Locked {
		fields = append(fields, "locked")
	}
	if before.BookingRef != after.BookingRef {
		fields = append(fields, "booking_ref")
	}
	if before.Status != after.Status {
		fields = append(fields, "status")
	}
	sort.Strings(fields)
	return fields
}

// diffItineraries computes the node-level diff between two document
// snapshots: ids present only in after are added, only in before are
// removed, and shared ids with differing content are updated.
func diffItineraries(before, after *models.Itinerary) *models.Diff {
	diff := &models.Diff{Added: []models.DiffRef{}, Removed: []models.DiffRef{}, Updated: []models.DiffUpdate{}}

	beforeNodes := indexNodes(before)
	afterNodes := indexNodes(after)

	for _, day := range after.Days {
		for _, n := range day.Nodes {
			old, ok := beforeNodes[n.ID]
			if !ok {
				diff.Added = append(diff.Added, models.DiffRef{ID: n.ID, Day: day.DayNumber})
				continue
			}
			if fields := diffNodeFields(old.node, n); len(fields) > 0 {
				diff.Updated = append(diff.Updated, models.DiffUpdate{ID: n.ID, Fields: fields})
			} else if old.day != day.DayNumber {
				diff.Updated = append(diff.Updated, models.DiffUpdate{ID: n.ID, Fields: []string{"day"}})
			}
		}
	}

	for _, day := range before.Days {
		for _, n := range day.Nodes {
			if _, ok := afterNodes[n.ID]; !ok {
				diff.Removed = append(diff.Removed, models.DiffRef{ID: n.ID, Day: day.DayNumber})
			}
		}
	}

	return diff
}

type nodeRef struct {
	node *models.Node
	day  int
}

func indexNodes(it *models.Itinerary) map[string]nodeRef {
	out := make(map[string]nodeRef)
	for _, day := range it.Days {
		for _, n := range day.Nodes {
			out[n.ID] = nodeRef{node: n, day: day.DayNumber}
		}
	}
	return out
}

func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ab) == string(bb)
}
