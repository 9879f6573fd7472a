package engine

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// Day-level warning texts, re-derived on every recompute.
const (
	WarningHighPacing      = "high pacing"
	WarningTightConnection = "tight connection"
)

// defaultTransitMin is the conservative transit estimate used when no
// coordinates are available.
const defaultTransitMin = 20

// recomputeDay re-derives a day's edges, totals, pacing, and warnings after
// its nodes changed. Edges form a chain following node order in time (DAG by
// construction); transit info of surviving adjacent pairs is preserved,
// missing transit is estimated.
func (e *Engine) recomputeDay(day *models.Day) {
	prior := make(map[string]models.Transit, len(day.Edges))
	for _, edge := range day.Edges {
		prior[edge.From+"→"+edge.To] = edge.Transit
	}

	day.Edges = make([]*models.Edge, 0, len(day.Nodes))
	for i := 0; i+1 < len(day.Nodes); i++ {
		from, to := day.Nodes[i], day.Nodes[i+1]
		transit, ok := prior[from.ID+"→"+to.ID]
		if !ok || transit.DurationMin == 0 {
			transit = estimateTransit(from, to)
		}
		day.Edges = append(day.Edges, &models.Edge{From: from.ID, To: to.ID, Transit: transit})
	}

	var totalMin int
	var distanceKm float64
	for _, n := range day.Nodes {
		totalMin += nodeDurationMin(n)
	}
	for _, edge := range day.Edges {
		distanceKm += edge.Transit.DistanceKm
	}
	day.Totals.DurationHr = math.Round(float64(totalMin)/60*100) / 100
	day.Totals.DistanceKm = math.Round(distanceKm*100) / 100

	switch {
	case day.Totals.DurationHr < e.pacing.RelaxedMaxHr:
		day.Pacing = models.PacingRelaxed
	case day.Totals.DurationHr <= e.pacing.BalancedMaxHr:
		day.Pacing = models.PacingBalanced
	default:
		day.Pacing = models.PacingIntense
	}

	day.Warnings = deriveDayWarnings(day)
}

// deriveDayWarnings rebuilds the day-level warning list from current state.
func deriveDayWarnings(day *models.Day) []string {
	var warnings []string
	if day.Pacing == models.PacingIntense {
		warnings = append(warnings, WarningHighPacing)
	}

	for _, edge := range day.Edges {
		from := nodeByID(day, edge.From)
		to := nodeByID(day, edge.To)
		if from == nil || to == nil {
			continue
		}
		gap := minutesBetween(from.Timing.EndTime, to.Timing.StartTime)
		if gap > 0 && edge.Transit.DurationMin > gap {
			warnings = append(warnings, fmt.Sprintf("%s: %s → %s", WarningTightConnection, edge.From, edge.To))
		}
	}
	return warnings
}

// estimateTransit derives transit between two nodes: haversine distance
// from coordinates when present (walk under 2km, drive otherwise), else a
// conservative default.
func estimateTransit(from, to *models.Node) models.Transit {
	a, b := from.Location.Coordinates, to.Location.Coordinates
	if a == nil || b == nil {
		return models.Transit{Mode: "walk", DurationMin: defaultTransitMin}
	}

	km := haversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
	if km < 2 {
		// Walking at ~4.5 km/h.
		return models.Transit{
			Mode:        "walk",
			DurationMin: int(math.Ceil(km / 4.5 * 60)),
			DistanceKm:  math.Round(km*100) / 100,
		}
	}
	// Driving at ~30 km/h urban average.
	return models.Transit{
		Mode:        "drive",
		DurationMin: int(math.Ceil(km / 30 * 60)),
		DistanceKm:  math.Round(km*100) / 100,
	}
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// nodeDurationMin returns the node's duration, deriving it from start/end
// when not set explicitly.
func nodeDurationMin(n *models.Node) int {
	if n.Timing.DurationMin > 0 {
		return n.Timing.DurationMin
	}
	if d := minutesBetween(n.Timing.StartTime, n.Timing.EndTime); d > 0 {
		return d
	}
	return 0
}

func nodeByID(day *models.Day, id string) *models.Node {
	for _, n := range day.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// sortDayNodes orders nodes by start time; untimed nodes keep their
// relative order at the end.
func sortDayNodes(day *models.Day) {
	sort.SliceStable(day.Nodes, func(i, j int) bool {
		ti, okI := clockMinutes(day.Nodes[i].Timing.StartTime)
		tj, okJ := clockMinutes(day.Nodes[j].Timing.StartTime)
		if okI && okJ {
			return ti < tj
		}
		return okI && !okJ
	})
}

var clockPattern = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

// normalizeTime expands "HH:mm" to a full ISO-8601 timestamp using the
// day's date. Already-normalized values pass through unchanged.
func normalizeTime(t, date string) string {
	if clockPattern.MatchString(t) && date != "" {
		return date + "T" + t + ":00"
	}
	return t
}

// clockMinutes extracts minutes-since-midnight from either "HH:mm" or an
// ISO-8601 timestamp.
func clockMinutes(t string) (int, bool) {
	if t == "" {
		return 0, false
	}
	if m := clockPattern.FindStringSubmatch(t); m != nil {
		var h, min int
		fmt.Sscan(m[1], &h)
		fmt.Sscan(m[2], &min)
		return h*60 + min, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if parsed, err := time.Parse(layout, t); err == nil {
			return parsed.Hour()*60 + parsed.Minute(), true
		}
	}
	return 0, false
}

// minutesBetween returns end-start in minutes, or 0 when either side is
// missing or unparseable.
func minutesBetween(start, end string) int {
	s, okS := clockMinutes(start)
	e, okE := clockMinutes(end)
	if !okS || !okE {
		return 0
	}
	return e - s
}

// addMinutes shifts a normalized or clock time forward, preserving format.
func addMinutes(t string, minutes int) string {
	if m := clockPattern.FindStringSubmatch(t); m != nil {
		total, _ := clockMinutes(t)
		total += minutes
		return fmt.Sprintf("%02d:%02d", (total/60)%24, total%60)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, t); err == nil {
			return parsed.Add(time.Duration(minutes) * time.Minute).Format(layout)
		}
	}
	return t
}
