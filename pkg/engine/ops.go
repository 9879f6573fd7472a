package engine

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// applyChangeSet mutates the given itinerary (always a clone) according to
// the change-set, returning the diff. Rules run in order: lock check,
// existence, time normalization, id generation, edge repair, audit, pacing
// recompute. On any error the itinerary must be discarded by the caller.
func (e *Engine) applyChangeSet(it *models.Itinerary, cs *models.ChangeSet) (*models.Diff, error) {
	if err := checkLocks(it, cs); err != nil {
		return nil, err
	}

	diff := &models.Diff{Added: []models.DiffRef{}, Removed: []models.DiffRef{}, Updated: []models.DiffUpdate{}}
	touched := make(map[int]bool) // day numbers needing recompute
	now := time.Now()

	for i, op := range cs.Ops {
		var err error
		switch op.Kind {
		case models.OpMove:
			err = e.applyMove(it, i, op, diff, touched, now)
		case models.OpInsert:
			err = e.applyInsert(it, i, op, diff, touched, now)
		case models.OpDelete:
			err = e.applyDelete(it, i, op, diff, touched)
		case models.OpReplace:
			err = e.applyReplace(it, i, op, diff, touched, now)
		case models.OpUpdate:
			err = e.applyUpdate(it, i, op, diff, touched, now)
		default:
			err = &InvalidChangeSetError{OpIndex: i, Reason: fmt.Sprintf("unknown op kind %q", op.Kind)}
		}
		if err != nil {
			return nil, err
		}
	}

	for _, day := range it.Days {
		if touched[day.DayNumber] {
			e.recomputeDay(day)
		}
	}
	return diff, nil
}

// checkLocks rejects the whole change-set when any op targets a locked node.
// Runs before any op is applied so a violation never partially applies.
func checkLocks(it *models.Itinerary, cs *models.ChangeSet) error {
	var violated []string
	seen := make(map[string]bool)
	for _, op := range cs.Ops {
		switch op.Kind {
		case models.OpMove, models.OpDelete, models.OpReplace, models.OpUpdate:
			node, _ := it.FindNode(op.ID)
			if node != nil && node.Locked && !seen[node.ID] {
				violated = append(violated, node.ID)
				seen[node.ID] = true
			}
		}
	}
	if len(violated) > 0 {
		return &LockedNodeError{Nodes: violated}
	}
	return nil
}

func (e *Engine) applyMove(it *models.Itinerary, idx int, op models.Op, diff *models.Diff, touched map[int]bool, now time.Time) error {
	node, sourceDay := it.FindNode(op.ID)
	if node == nil {
		return &InvalidChangeSetError{OpIndex: idx, Reason: fmt.Sprintf("node %q not found", op.ID)}
	}
	if op.StartTime == "" {
		return &InvalidChangeSetError{OpIndex: idx, Reason: "move requires start_time"}
	}

	targetDay := sourceDay
	if op.Day != 0 && op.Day != sourceDay.DayNumber {
		targetDay = it.FindDay(op.Day)
		if targetDay == nil {
			return &InvalidChangeSetError{OpIndex: idx, Reason: fmt.Sprintf("day %d not found", op.Day)}
		}
	}

	start := normalizeTime(op.StartTime, targetDay.Date)
	end := op.EndTime
	if end != "" {
		end = normalizeTime(end, targetDay.Date)
	}

	if targetDay != sourceDay {
		i := sourceDay.NodeIndex(node.ID)
		sourceDay.Nodes = append(sourceDay.Nodes[:i], sourceDay.Nodes[i+1:]...)
		targetDay.Nodes = append(targetDay.Nodes, node)
		touched[sourceDay.DayNumber] = true
	}

	node.Timing.StartTime = start
	if end != "" {
		node.Timing.EndTime = end
		if d := minutesBetween(start, end); d > 0 {
			node.Timing.DurationMin = d
		}
	} else if node.Timing.DurationMin > 0 {
		node.Timing.EndTime = addMinutes(start, node.Timing.DurationMin)
	}

	node.UpdatedBy = models.AuthorUser
	node.UpdatedAt = now
	sortDayNodes(targetDay)
	touched[targetDay.DayNumber] = true

	fields := []string{"timing"}
	if targetDay != sourceDay {
		fields = append(fields, "day")
	}
	diff.Updated = append(diff.Updated, models.DiffUpdate{ID: node.ID, Fields: fields})
	return nil
}

func (e *Engine) applyInsert(it *models.Itinerary, idx int, op models.Op, diff *models.Diff, touched map[int]bool, now time.Time) error {
	if op.Node == nil {
		return &InvalidChangeSetError{OpIndex: idx, Reason: "insert requires a node"}
	}
	day := it.FindDay(op.Day)
	if day == nil {
		return &InvalidChangeSetError{OpIndex: idx, Reason: fmt.Sprintf("day %d not found", op.Day)}
	}

	node := op.Node
	if node.ID == "" {
		node.ID = nextNodeID(it, day)
	} else if existing, _ := it.FindNode(node.ID); existing != nil {
		return &InvalidChangeSetError{OpIndex: idx, Reason: fmt.Sprintf("node id %q already exists", node.ID)}
	}

	if node.Timing.StartTime != "" {
		node.Timing.StartTime = normalizeTime(node.Timing.StartTime, day.Date)
	}
	if node.Timing.EndTime != "" {
		node.Timing.EndTime = normalizeTime(node.Timing.EndTime, day.Date)
	}
	if node.Status == "" {
		node.Status = models.NodeStatusPlanned
	}
	node.UpdatedBy = models.AuthorUser
	node.UpdatedAt = now

	if op.After != "" {
		pos := day.NodeIndex(op.After)
		if pos < 0 {
			return &InvalidChangeSetError{OpIndex: idx, Reason: fmt.Sprintf("after node %q not found in day %d", op.After, op.Day)}
		}
		day.Nodes = append(day.Nodes[:pos+1], append([]*models.Node{node}, day.Nodes[pos+1:]...)...)
	} else {
		day.Nodes = append(day.Nodes, node)
	}

	touched[day.DayNumber] = true
	diff.Added = append(diff.Added, models.DiffRef{ID: node.ID, Day: day.DayNumber})
	return nil
}

func (e *Engine) applyDelete(it *models.Itinerary, idx int, op models.Op, diff *models.Diff, touched map[int]bool) error {
	node, day := it.FindNode(op.ID)
	if node == nil {
		return &InvalidChangeSetError{OpIndex: idx, Reason: fmt.Sprintf("node %q not found", op.ID)}
	}
	i := day.NodeIndex(node.ID)
	day.Nodes = append(day.Nodes[:i], day.Nodes[i+1:]...)
	touched[day.DayNumber] = true
	diff.Removed = append(diff.Removed, models.DiffRef{ID: node.ID, Day: day.DayNumber})
	return nil
}

func (e *Engine) applyReplace(it *models.Itinerary, idx int, op models.Op, diff *models.Diff, touched map[int]bool, now time.Time) error {
	if op.Node == nil {
		return &InvalidChangeSetError{OpIndex: idx, Reason: "replace requires a node"}
	}
	node, day := it.FindNode(op.ID)
	if node == nil {
		return &InvalidChangeSetError{OpIndex: idx, Reason: fmt.Sprintf("node %q not found", op.ID)}
	}

	replacement := *op.Node
	replacement.ID = node.ID // id preserved by contract
	if replacement.Timing.StartTime == "" {
		replacement.Timing = node.Timing
	} else {
		replacement.Timing.StartTime = normalizeTime(replacement.Timing.StartTime, day.Date)
		if replacement.Timing.EndTime != "" {
			replacement.Timing.EndTime = normalizeTime(replacement.Timing.EndTime, day.Date)
		}
	}
	if replacement.Status == "" {
		replacement.Status = node.Status
	}
	replacement.UpdatedAt = now
	if replacement.UpdatedBy == "" {
		replacement.UpdatedBy = models.AuthorAgent
	}

	fields := diffNodeFields(node, &replacement)
	*node = replacement
	sortDayNodes(day)
	touched[day.DayNumber] = true

	if len(fields) > 0 {
		diff.Updated = append(diff.Updated, models.DiffUpdate{ID: node.ID, Fields: fields})
	}
	return nil
}

func (e *Engine) applyUpdate(it *models.Itinerary, idx int, op models.Op, diff *models.Diff, touched map[int]bool, now time.Time) error {
	node, day := it.FindNode(op.ID)
	if node == nil {
		return &InvalidChangeSetError{OpIndex: idx, Reason: fmt.Sprintf("node %q not found", op.ID)}
	}
	if len(op.Fields) == 0 {
		return &InvalidChangeSetError{OpIndex: idx, Reason: "update requires fields"}
	}

	var fields []string
	for key, value := range op.Fields {
		switch key {
		case "title":
			if s, ok := value.(string); ok {
				node.Title = s
				fields = append(fields, "title")
			}
		case "locked":
			if b, ok := value.(bool); ok {
				node.Locked = b
				fields = append(fields, "locked")
			}
		case "labels":
			node.Labels = toStringSlice(value)
			fields = append(fields, "labels")
		case "booking_ref":
			if s, ok := value.(string); ok {
				node.BookingRef = s
				fields = append(fields, "booking_ref")
			}
		case "status":
			if s, ok := value.(string); ok {
				node.Status = models.NodeStatus(s)
				fields = append(fields, "status")
			}
		case "warnings":
			if s, ok := value.(string); ok {
				node.Tips.Warnings = s
				fields = append(fields, "tips")
			}
		case "details":
			if m, ok := value.(map[string]any); ok {
				if node.Details == nil {
					node.Details = make(map[string]any)
				}
				for k, v := range m {
					node.Details[k] = v
				}
				fields = append(fields, "details")
			}
		default:
			return &InvalidChangeSetError{OpIndex: idx, Reason: fmt.Sprintf("unknown update field %q", key)}
		}
	}

	node.UpdatedAt = now
	if node.UpdatedBy == "" {
		node.UpdatedBy = models.AuthorAgent
	}
	touched[day.DayNumber] = true
	sort.Strings(fields)
	diff.Updated = append(diff.Updated, models.DiffUpdate{ID: node.ID, Fields: fields})
	return nil
}

var nodeIDPattern = regexp.MustCompile(`^day(\d+)_node(\d+)$`)

// nextNodeID generates the next id following the day{N}_node{seq} contract,
// unique within the itinerary.
func nextNodeID(it *models.Itinerary, day *models.Day) string {
	maxSeq := 0
	for _, n := range day.Nodes {
		if m := nodeIDPattern.FindStringSubmatch(n.ID); m != nil {
			var seq int
			fmt.Sscan(m[2], &seq)
			if seq > maxSeq {
				maxSeq = seq
			}
		}
	}
	ids := it.NodeIDs()
	for seq := maxSeq + 1; ; seq++ {
		id := fmt.Sprintf("day%d_node%d", day.DayNumber, seq)
		if !ids[id] {
			return id
		}
	}
}

func toStringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
