package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wayfarer-hq/wayfarer/pkg/models"
)

// createItinerary handles POST /api/v1/itineraries. Returns 202 with the id
// once the shell and metadata are persisted; generation continues async.
func (s *Server) createItinerary(c *gin.Context) {
	var req models.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	res, err := s.itineraries.CreateItinerary(c.Request.Context(), &req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// getItinerary handles GET /api/v1/itineraries/:id.
func (s *Server) getItinerary(c *gin.Context) {
	it, err := s.itineraries.GetItinerary(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// listItineraries handles GET /api/v1/itineraries?owner=...
func (s *Server) listItineraries(c *gin.Context) {
	owner := c.Query("owner")
	mds, err := s.itineraries.ListItineraries(c.Request.Context(), owner)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if mds == nil {
		mds = []models.TripMetadata{}
	}
	c.JSON(http.StatusOK, mds)
}

// listRevisions handles GET /api/v1/itineraries/:id/revisions.
func (s *Server) listRevisions(c *gin.Context) {
	revs, err := s.itineraries.ListRevisions(c.Request.Context(), c.Param("id"), 0)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	summaries := make([]gin.H, 0, len(revs))
	for _, rev := range revs {
		summaries = append(summaries, gin.H{
			"version":    rev.Version,
			"author":     rev.Author,
			"created_at": rev.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, summaries)
}

// proposeChange handles POST /api/v1/itineraries/:id/propose.
func (s *Server) proposeChange(c *gin.Context) {
	var req ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	res, err := s.itineraries.ProposeChange(c.Request.Context(), c.Param("id"), req.ChangeSet)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// applyChange handles POST /api/v1/itineraries/:id/apply.
func (s *Server) applyChange(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	res, err := s.itineraries.ApplyChange(c.Request.Context(), c.Param("id"), req.ChangeSet, req.Author)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// undo handles POST /api/v1/itineraries/:id/undo.
func (s *Server) undo(c *gin.Context) {
	var req UndoRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	res, err := s.itineraries.Undo(c.Request.Context(), c.Param("id"), req.TargetVersion)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// bookNode handles POST /api/v1/itineraries/:id/nodes/:nodeId/book.
func (s *Server) bookNode(c *gin.Context) {
	res, err := s.itineraries.Book(c.Request.Context(), c.Param("id"), c.Param("nodeId"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	out := BookResponse{
		Locked:    res.Applied,
		Message:   res.Message,
		ToVersion: res.ToVersion,
		Diff:      res.Diff,
	}
	if ref, ok := res.Data["booking_ref"].(string); ok {
		out.BookingRef = ref
	}
	if !res.Applied && len(res.Warnings) > 0 {
		// Already booked: surface as a conflict with the existing state.
		c.JSON(http.StatusConflict, ErrorResponse{Error: res.Message, Nodes: res.Warnings})
		return
	}
	c.JSON(http.StatusOK, out)
}
