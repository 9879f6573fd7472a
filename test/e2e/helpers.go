package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// waitInterval paces the polling helpers.
const waitInterval = 10 * time.Millisecond

// postJSON issues a POST and returns the status code and raw body.
func (app *TestApp) postJSON(path string, body any) (int, []byte) {
	app.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(app.t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(app.BaseURL+path, "application/json", &buf)
	require.NoError(app.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(app.t, err)
	return resp.StatusCode, data
}

// getJSON issues a GET and returns the status code and raw body.
func (app *TestApp) getJSON(path string) (int, []byte) {
	app.t.Helper()
	resp, err := http.Get(app.BaseURL + path)
	require.NoError(app.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(app.t, err)
	return resp.StatusCode, data
}

// unmarshal decodes a response body, failing the test with the body attached.
func unmarshal[T any](app *TestApp, data []byte) T {
	app.t.Helper()
	var out T
	require.NoError(app.t, json.Unmarshal(data, &out), "body: %s", data)
	return out
}

// waitTaskStatus polls until the task reaches the given status.
func (app *TestApp) waitTaskStatus(taskID string, status models.TaskStatus) *models.Task {
	app.t.Helper()
	var last *models.Task
	require.Eventually(app.t, func() bool {
		t, err := app.Store.GetTask(context.Background(), taskID)
		if err != nil {
			return false
		}
		last = t
		return t.Status == status
	}, 10*time.Second, waitInterval, "task %s never reached %s", taskID, status)
	return last
}

// waitGenerationStatus polls the owner's trip metadata until the itinerary
// reaches the given generation status.
func (app *TestApp) waitGenerationStatus(owner, itineraryID string, status models.GenerationStatus) {
	app.t.Helper()
	require.Eventually(app.t, func() bool {
		mds, err := app.Store.ListByOwner(context.Background(), owner)
		if err != nil {
			return false
		}
		for _, md := range mds {
			if md.ItineraryID == itineraryID && md.Status == status {
				return true
			}
		}
		return false
	}, 10*time.Second, waitInterval, "itinerary %s never reached %s", itineraryID, status)
}

// getItinerary reads the current document straight from the store.
func (app *TestApp) getItinerary(id string) *models.Itinerary {
	app.t.Helper()
	it, err := app.Store.GetItinerary(context.Background(), id)
	require.NoError(app.t, err)
	return it
}

// scriptGeneration registers mock responses for a complete generation run of
// the given length. Day N gets an attraction, a meal, and a transport node;
// attraction titles come from attractionTitles when provided so tests can
// control what the populated itinerary contains.
func (app *TestApp) scriptGeneration(days int, attractionTitles ...string) {
	app.t.Helper()

	for d := 1; d <= days; d++ {
		app.Mock.Script(fmt.Sprintf("skeleton_day%d", d), mustJSON(map[string]any{
			"location": "Lisbon",
			"nodes": []any{
				map[string]any{"type": "attraction", "title": fmt.Sprintf("Sight day %d", d), "start_time": "10:00", "duration_min": 120},
				map[string]any{"type": "meal", "title": fmt.Sprintf("Lunch day %d", d), "start_time": "13:00", "duration_min": 60},
				map[string]any{"type": "transport", "title": fmt.Sprintf("Transit day %d", d), "start_time": "09:00", "duration_min": 30},
			},
		}))
	}

	var attractions, meals, transport []any
	for d := 1; d <= days; d++ {
		title := fmt.Sprintf("Attraction day %d", d)
		if d <= len(attractionTitles) {
			title = attractionTitles[d-1]
		}
		attractions = append(attractions, map[string]any{
			"id":    fmt.Sprintf("day%d_node1", d),
			"title": title,
			"cost":  map[string]any{"amount": 15.0, "currency": "EUR", "per": "person"},
		})
		meals = append(meals, map[string]any{
			"id":    fmt.Sprintf("day%d_node2", d),
			"title": fmt.Sprintf("Lunch at Nicolau, day %d", d),
			"cost":  map[string]any{"amount": 20.0, "currency": "EUR", "per": "person"},
		})
		transport = append(transport, map[string]any{
			"id":    fmt.Sprintf("day%d_node3", d),
			"title": fmt.Sprintf("Metro ride, day %d", d),
			"cost":  map[string]any{"amount": 3.5, "currency": "EUR", "per": "person"},
		})
	}
	app.Mock.Script("populate_attractions", mustJSON(map[string]any{"nodes": attractions}))
	app.Mock.Script("populate_meals", mustJSON(map[string]any{"nodes": meals}))
	app.Mock.Script("populate_transport", mustJSON(map[string]any{"nodes": transport}))
}

// createItinerary posts a creation request and waits for generation to
// finish, returning the itinerary id.
func (app *TestApp) createItinerary(days int, attractionTitles ...string) string {
	app.t.Helper()
	app.scriptGeneration(days, attractionTitles...)

	status, body := app.postJSON("/api/v1/itineraries", models.CreateRequest{
		Destination: "Lisbon, Portugal",
		StartDate:   "2026-09-01",
		EndDate:     fmt.Sprintf("2026-09-%02d", days),
		Party:       models.Party{Adults: 2},
		Owner:       "user_1",
		Currency:    "EUR",
	})
	require.Equal(app.t, http.StatusAccepted, status, "body: %s", body)

	res := unmarshal[struct {
		ID     string `json:"id"`
		TaskID string `json:"task_id"`
	}](app, body)
	app.waitTaskStatus(res.TaskID, models.TaskStatusCompleted)
	app.waitGenerationStatus("user_1", res.ID, models.GenerationStatusReady)
	return res.ID
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
