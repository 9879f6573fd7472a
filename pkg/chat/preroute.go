package chat

import (
	"regexp"
	"strconv"
)

// The pre-router labels unambiguous turns without an LLM call. Patterns are
// checked in order; the first match wins and anything unmatched falls back
// to the structured classifier.
var preRoutes = []struct {
	intent  string
	pattern *regexp.Regexp
}{
	{IntentUndo, regexp.MustCompile(`(?i)\b(undo|revert|roll\s*back)\b`)},
	{IntentReplanToday, regexp.MustCompile(`(?i)\b(replan|redo|re-?do|start over)\b.*\btoday\b|\btoday\b.*\b(from scratch|over again)\b`)},
	{IntentBook, regexp.MustCompile(`(?i)\b(book|reserve|reservation)\b`)},
	{IntentEnrich, regexp.MustCompile(`(?i)\b(enrich|re-?check|refresh|validate)\b.*\b(times|hours|warnings|itinerary|plan)\b`)},
	{IntentExplain, regexp.MustCompile(`(?i)^\s*(what|why|when|where|who|how|tell me|explain)\b`)},
	{IntentPlan, regexp.MustCompile(`(?i)\b(plan|create|build|put together)\b.*\b(trip|itinerary|days?\s+in)\b`)},
	{IntentEdit, regexp.MustCompile(`(?i)\b(move|delete|remove|cancel|swap|replace|add|insert|change|reschedule|shift|push|earlier|later)\b`)},
}

var dayPattern = regexp.MustCompile(`(?i)\bday\s+(\d+)\b`)

// preRoute attempts regex classification; an empty intent means ambiguous.
// An explicit "day N" reference is extracted alongside the intent.
func preRoute(text string) classification {
	var cls classification
	if m := dayPattern.FindStringSubmatch(text); m != nil {
		cls.Day, _ = strconv.Atoi(m[1])
	}
	for _, route := range preRoutes {
		if route.pattern.MatchString(text) {
			cls.Intent = route.intent
			return cls
		}
	}
	return cls
}
