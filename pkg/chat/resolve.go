package chat

import (
	"sort"
	"strings"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// Resolution thresholds. A node scoring at or above matchThreshold is a
// candidate; a unique candidate at or above confidenceThreshold resolves
// without asking back.
const (
	matchThreshold      = 0.5
	confidenceThreshold = 0.75
)

type scoredNode struct {
	node  *models.Node
	day   int
	score float64
}

// resolveNode fuzzily matches a description against the itinerary's nodes,
// restricted to one day when day is non-zero. Returns the resolved id when
// exactly one candidate clears the confidence threshold, otherwise an empty
// id plus the candidates for disambiguation.
func resolveNode(it *models.Itinerary, hint string, dayNumber int) (string, []Candidate) {
	text := strings.ToLower(hint)
	var scored []scoredNode
	for _, day := range it.Days {
		if dayNumber != 0 && day.DayNumber != dayNumber {
			continue
		}
		for _, n := range day.Nodes {
			if s := scoreNode(text, n); s >= matchThreshold {
				scored = append(scored, scoredNode{node: n, day: day.DayNumber, score: s})
			}
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if len(scored) == 1 && scored[0].score >= confidenceThreshold {
		return scored[0].node.ID, nil
	}
	if len(scored) > 1 && scored[0].score >= confidenceThreshold && scored[0].score-scored[1].score > 0.2 {
		return scored[0].node.ID, nil
	}

	candidates := make([]Candidate, 0, len(scored))
	for _, s := range scored {
		candidates = append(candidates, Candidate{
			ID:       s.node.ID,
			Title:    s.node.Title,
			Day:      s.day,
			Type:     string(s.node.Type),
			Location: s.node.Location.Name,
		})
	}
	return "", candidates
}

// scoreNode ranks a node against the lowercased description: exact substring
// of the title wins outright, otherwise token overlap over title, location
// name, and type.
func scoreNode(text string, n *models.Node) float64 {
	title := strings.ToLower(n.Title)
	if title != "" && strings.Contains(text, title) {
		return 1.0
	}

	best := tokenOverlap(text, title)
	if loc := strings.ToLower(n.Location.Name); loc != "" {
		if strings.Contains(text, loc) {
			best = max(best, 0.9)
		} else {
			best = max(best, tokenOverlap(text, loc)*0.9)
		}
	}
	if strings.Contains(text, string(n.Type)) {
		best = max(best, 0.5)
	}
	return best
}

// tokenOverlap is the fraction of target tokens present in the text.
func tokenOverlap(text, target string) float64 {
	targetTokens := tokenize(target)
	if len(targetTokens) == 0 {
		return 0
	}
	textTokens := make(map[string]bool)
	for _, tok := range tokenize(text) {
		textTokens[tok] = true
	}

	hits := 0
	for _, tok := range targetTokens {
		if textTokens[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(targetTokens))
}

// "day" is itinerary boilerplate ("Lunch, day 2") and would otherwise make
// every node a weak match for any message mentioning a day.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "at": true, "of": true, "in": true,
	"on": true, "to": true, "my": true, "for": true, "and": true, "day": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if len(f) > 1 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}
