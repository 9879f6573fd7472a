// Package engine implements the change engine: validated, lock-respecting,
// transactional mutations over a normalized itinerary with propose/apply/undo
// entry points.
//
// Apply is serialized per itinerary by compare-and-swap on the document
// version: on conflict the change-set is re-applied once against the fresh
// document; a second conflict surfaces ErrContested.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wayfarer-hq/wayfarer/pkg/events"
	"github.com/wayfarer-hq/wayfarer/pkg/models"
	"github.com/wayfarer-hq/wayfarer/pkg/store"
)

// ErrContested is returned when an apply loses the version race twice.
var ErrContested = errors.New("itinerary contested")

// LockedNodeError reports ops that target locked nodes. The change-set is
// not applied, not even partially.
type LockedNodeError struct {
	Nodes []string
}

func (e *LockedNodeError) Error() string {
	return fmt.Sprintf("locked node violation: %s", strings.Join(e.Nodes, ", "))
}

// InvalidChangeSetError reports a malformed op with its index.
type InvalidChangeSetError struct {
	OpIndex int
	Reason  string
}

func (e *InvalidChangeSetError) Error() string {
	return fmt.Sprintf("invalid change-set: op %d: %s", e.OpIndex, e.Reason)
}

// PacingConfig holds the day-pacing thresholds in hours.
type PacingConfig struct {
	RelaxedMaxHr  float64
	BalancedMaxHr float64
}

// DefaultPacingConfig returns the standard thresholds:
// <4h relaxed, 4-8h balanced, >8h intense.
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{RelaxedMaxHr: 4, BalancedMaxHr: 8}
}

// Engine applies change-sets to itineraries.
type Engine struct {
	store  store.Store
	pub    *events.Publisher
	pacing PacingConfig
}

// New creates a change engine.
func New(st store.Store, pub *events.Publisher, pacing PacingConfig) *Engine {
	return &Engine{store: st, pub: pub, pacing: pacing}
}

// ProposeResult is returned by Propose.
type ProposeResult struct {
	Proposed       *models.Itinerary `json:"proposed"`
	Diff           *models.Diff      `json:"diff"`
	PreviewVersion int               `json:"preview_version"`
}

// ApplyResult is returned by Apply and Undo.
type ApplyResult struct {
	ToVersion int          `json:"to_version"`
	Diff      *models.Diff `json:"diff"`
}

// Propose applies the change-set to an in-memory copy and returns the
// preview without persisting anything.
func (e *Engine) Propose(ctx context.Context, itineraryID string, cs *models.ChangeSet) (*ProposeResult, error) {
	current, err := e.store.GetItinerary(ctx, itineraryID)
	if err != nil {
		return nil, err
	}

	proposed := current.Clone()
	diff, err := e.applyChangeSet(proposed, cs)
	if err != nil {
		return nil, err
	}

	return &ProposeResult{
		Proposed:       proposed,
		Diff:           diff,
		PreviewVersion: current.Version + 1,
	}, nil
}

// Apply loads the current document, applies the change-set, bumps the
// version, persists snapshot and revision atomically with compare-and-swap,
// and publishes a PatchEvent. Retries once on version conflict.
func (e *Engine) Apply(ctx context.Context, itineraryID string, cs *models.ChangeSet, author models.Author) (*ApplyResult, error) {
	return e.applyWithRetry(ctx, itineraryID, author, e.changeSetSummary(cs), func(it *models.Itinerary) (*models.Diff, error) {
		return e.applyChangeSet(it, cs)
	})
}

// ApplyMutation runs an arbitrary mutation function through the same
// CAS/version/revision/patch path as Apply. Used by pure-logic agents
// (enrichment, cost estimation) whose updates are day-level rather than
// expressible as node ops. The diff is computed by comparing documents.
func (e *Engine) ApplyMutation(ctx context.Context, itineraryID string, author models.Author, summary string, mutate func(*models.Itinerary) error) (*ApplyResult, error) {
	return e.applyWithRetry(ctx, itineraryID, author, summary, func(it *models.Itinerary) (*models.Diff, error) {
		before := it.Clone()
		if err := mutate(it); err != nil {
			return nil, err
		}
		for _, day := range it.Days {
			e.recomputeDay(day)
		}
		return diffItineraries(before, it), nil
	})
}

// Undo restores the snapshot at targetVersion (current-1 when zero) as a
// new version on top of the current one.
func (e *Engine) Undo(ctx context.Context, itineraryID string, targetVersion int) (*ApplyResult, error) {
	current, err := e.store.GetItinerary(ctx, itineraryID)
	if err != nil {
		return nil, err
	}

	target := targetVersion
	if target == 0 {
		target = current.Version - 1
	}
	if target < 1 {
		return nil, fmt.Errorf("%w: no revision before version %d", store.ErrNotFound, current.Version)
	}

	rev, err := e.store.GetRevision(ctx, itineraryID, target)
	if err != nil {
		return nil, err
	}

	restored := rev.Snapshot.Clone()
	restored.ID = current.ID
	restored.Version = current.Version + 1
	restored.UpdatedAt = time.Now()

	if err := e.persist(ctx, restored, current.Version, models.AuthorUser); err != nil {
		return nil, err
	}

	diff := diffItineraries(current, restored)
	e.pub.PublishPatch(itineraryID, current.Version, restored.Version, diff,
		fmt.Sprintf("undo to version %d", target), models.AuthorUser)

	return &ApplyResult{ToVersion: restored.Version, Diff: diff}, nil
}

// applyWithRetry runs the mutation against the current document with one
// reload-and-retry on version conflict.
func (e *Engine) applyWithRetry(ctx context.Context, itineraryID string, author models.Author, summary string, apply func(*models.Itinerary) (*models.Diff, error)) (*ApplyResult, error) {
	for attempt := 0; attempt < 2; attempt++ {
		current, err := e.store.GetItinerary(ctx, itineraryID)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		diff, err := apply(next)
		if err != nil {
			return nil, err
		}

		next.Version = current.Version + 1
		next.UpdatedAt = time.Now()

		if err := e.persist(ctx, next, current.Version, author); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				slog.Warn("Version conflict on apply, retrying",
					"itinerary_id", itineraryID, "attempt", attempt+1)
				continue
			}
			return nil, err
		}

		e.pub.PublishPatch(itineraryID, current.Version, next.Version, diff, summary, author)
		return &ApplyResult{ToVersion: next.Version, Diff: diff}, nil
	}
	return nil, ErrContested
}

// persist writes the document with CAS and saves the matching revision.
func (e *Engine) persist(ctx context.Context, it *models.Itinerary, expectedVersion int, author models.Author) error {
	if err := e.store.PutItinerary(ctx, it, expectedVersion); err != nil {
		return err
	}
	if err := e.store.SaveRevision(ctx, models.Revision{
		ItineraryID: it.ID,
		Version:     it.Version,
		Snapshot:    it,
		Author:      author,
		CreatedAt:   time.Now(),
	}); err != nil {
		return fmt.Errorf("saving revision %d: %w", it.Version, err)
	}
	return nil
}

// changeSetSummary produces a short human-readable summary for patch events.
func (e *Engine) changeSetSummary(cs *models.ChangeSet) string {
	counts := make(map[string]int)
	for _, op := range cs.Ops {
		counts[op.Kind]++
	}
	parts := make([]string, 0, len(counts))
	for _, kind := range []string{models.OpInsert, models.OpMove, models.OpDelete, models.OpReplace, models.OpUpdate} {
		if n := counts[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, kind))
		}
	}
	if len(parts) == 0 {
		return "no-op change"
	}
	return strings.Join(parts, ", ")
}
