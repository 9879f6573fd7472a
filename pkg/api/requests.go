package api

import "github.com/wayfarer-hq/wayfarer/pkg/models"

// ProposeRequest is the body of POST /api/v1/itineraries/:id/propose.
type ProposeRequest struct {
	ChangeSet *models.ChangeSet `json:"change_set" binding:"required"`
}

// ApplyRequest is the body of POST /api/v1/itineraries/:id/apply.
type ApplyRequest struct {
	ChangeSet *models.ChangeSet `json:"change_set" binding:"required"`
	Author    models.Author     `json:"author,omitempty"`
}

// UndoRequest is the body of POST /api/v1/itineraries/:id/undo. A zero
// TargetVersion undoes the most recent change.
type UndoRequest struct {
	TargetVersion int `json:"target_version,omitempty"`
}
