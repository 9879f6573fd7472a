package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

const plannerSystemPrompt = `You are a travel planning assistant. You respond only with JSON matching the requested schema. Never include prose outside the JSON document.`

func skeletonDayPrompt(req *models.CreateRequest, dayNumber int, date string, lastDay bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plan day %d (%s) of a trip to %s for %d travellers.\n",
		dayNumber, date, req.Destination, req.Party.Size())
	if req.BudgetTier != "" {
		fmt.Fprintf(&b, "Budget tier: %s.\n", req.BudgetTier)
	}
	if len(req.Interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s.\n", strings.Join(req.Interests, ", "))
	}
	if len(req.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints: %s.\n", strings.Join(req.Constraints, ", "))
	}
	b.WriteString("Produce placeholder nodes in canonical order: breakfast (meal), morning attraction, lunch (meal), afternoon attraction, dinner (meal), overnight accommodation.")
	if lastDay {
		b.WriteString(" This is the final day: insert a transport node for departure before checkout and omit the overnight accommodation.")
	}
	b.WriteString(" Give each node a short descriptive title and a start_time (HH:mm) with duration_min.")
	return b.String()
}

func populatePrompt(it *models.Itinerary, nodeType models.NodeType, placeholders []*models.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The trip below has %d placeholder %s nodes. For each placeholder, produce a fully populated node with the SAME id: concrete title, location with address and coordinates, realistic timing, cost in %s, details (rating, category, tags, openingHours), tips, and links.\n\n",
		len(placeholders), nodeType, currencyOf(it))
	b.WriteString("Placeholders:\n")
	for _, n := range placeholders {
		data, _ := json.Marshal(n)
		b.Write(data)
		b.WriteByte('\n')
	}
	b.WriteString("\nTrip context:\n")
	b.WriteString(itinerarySummary(it))
	return b.String()
}

func editorPrompt(it *models.Itinerary, req *Request) string {
	var b strings.Builder
	b.WriteString("Translate the user's edit request into a change-set over the itinerary below. Use ops move/insert/delete/replace/update. Reference nodes by their exact ids. Never touch locked nodes.\n\n")
	fmt.Fprintf(&b, "User request: %s\n", req.ChatText)
	if req.SelectedNodeID != "" {
		fmt.Fprintf(&b, "The user has node %s selected.\n", req.SelectedNodeID)
	}
	if req.Scope == models.ScopeDay && req.Day > 0 {
		fmt.Fprintf(&b, "Restrict changes to day %d.\n", req.Day)
	}
	b.WriteString("\nItinerary:\n")
	data, _ := json.Marshal(it)
	b.Write(data)
	return b.String()
}

func explainPrompt(it *models.Itinerary, req *Request) string {
	var b strings.Builder
	b.WriteString("Answer the traveller's question about their itinerary. Be concise and concrete.\n\n")
	fmt.Fprintf(&b, "Question: %s\n", req.ChatText)
	if req.SelectedNodeID != "" {
		if node, day := it.FindNode(req.SelectedNodeID); node != nil {
			data, _ := json.Marshal(node)
			fmt.Fprintf(&b, "\nThe question concerns this node on day %d:\n%s\n", day.DayNumber, data)
		}
	}
	b.WriteString("\nItinerary summary:\n")
	b.WriteString(itinerarySummary(it))
	return b.String()
}

func placesPrompt(it *models.Itinerary, query string, day int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest up to 5 candidate places for: %s\n", query)
	if day > 0 {
		if d := it.FindDay(day); d != nil && d.Location != "" {
			fmt.Fprintf(&b, "Near %s.\n", d.Location)
		}
	}
	b.WriteString("Return name, category, rating, address, and a one-line description for each.")
	return b.String()
}

func dayPlanPrompt(it *models.Itinerary, day *models.Day, chatText string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Re-plan day %d (%s, %s) of the trip from scratch.\n", day.DayNumber, day.Date, day.Location)
	if chatText != "" {
		fmt.Fprintf(&b, "Traveller's direction: %s\n", chatText)
	}
	b.WriteString("Keep the canonical structure (meals interleaved with attractions) and give each node a title, start_time (HH:mm), and duration_min.\n\nTrip context:\n")
	b.WriteString(itinerarySummary(it))
	return b.String()
}

func createExtractionPrompt(chatText string) string {
	return fmt.Sprintf(
		"Extract the trip parameters from this message: %q\nReturn destination, start_date and end_date as ISO dates, party size, budget_tier, interests, and constraints. Infer sensible defaults for anything unstated.",
		chatText)
}

// itinerarySummary renders a compact textual view used as prompt context,
// cheaper than the full JSON document.
func itinerarySummary(it *models.Itinerary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Trip %s, %d days, currency %s.\n", it.ID, len(it.Days), currencyOf(it))
	for _, day := range it.Days {
		fmt.Fprintf(&b, "Day %d (%s, %s):\n", day.DayNumber, day.Date, day.Location)
		for _, n := range day.Nodes {
			fmt.Fprintf(&b, "  %s [%s] %s %s-%s", n.ID, n.Type, n.Title, n.Timing.StartTime, n.Timing.EndTime)
			if n.Locked {
				b.WriteString(" (locked)")
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func currencyOf(it *models.Itinerary) string {
	if it.Currency != "" {
		return it.Currency
	}
	return "EUR"
}
