package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/geometry"
	"github.com/pkordes/trail-engine/internal/service"
)

const trailNotFound = "trail not found"

// CreateTrailRequest is the body of POST /trails.
type CreateTrailRequest struct {
	VehicleID   string             `json:"vehicle_id"`
	OperationID string             `json:"operation_id"`
	Color       string             `json:"color,omitempty"`
	Width       float64            `json:"width,omitempty"`
	MetricsMode domain.MetricsMode `json:"metrics_mode,omitempty"`
}

// PointBatch is the body of POST and GET /trails/{id}/points.
type PointBatch struct {
	Points []domain.Point `json:"points"`
}

// CloseTrailRequest is the optional body of POST /trails/{id}/close.
type CloseTrailRequest struct {
	EndTime     *time.Time         `json:"end_time,omitempty"`
	MetricsMode domain.MetricsMode `json:"metrics_mode,omitempty"`
}

// TrailResponse is a trail as rendered by the API. Geometry is only filled
// in for single-trail reads.
type TrailResponse struct {
	domain.Trail
	PathPolyline       string `json:"path_polyline,omitempty"`
	PathEWKT           string `json:"path_ewkt,omitempty"`
	DetailedPathPoints int    `json:"detailed_path_points,omitempty"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// TrailList is the body of GET /trails.
type TrailList struct {
	Data       []TrailResponse `json:"data"`
	Pagination Pagination      `json:"pagination"`
}

// CreateTrail handles POST /trails.
func (s *Server) CreateTrail(w http.ResponseWriter, r *http.Request) {
	var body CreateTrailRequest
	if !decodeBody(w, r, &body, true) {
		return
	}

	trail, err := s.trails.Open(r.Context(), service.OpenRequest{
		VehicleID:   body.VehicleID,
		OperationID: body.OperationID,
		Style:       domain.TrailStyle{Color: body.Color, Width: body.Width},
		MetricsMode: body.MetricsMode,
	})
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}
	writeJSON(w, http.StatusCreated, trailToResponse(trail))
}

// ListTrails handles GET /trails.
// Supports ?vehicle_id=, ?operation_id=, ?state=, ?page= and ?limit=
// (defaults: page=1, limit=20, max=100).
func (s *Server) ListTrails(w http.ResponseWriter, r *http.Request) {
	var (
		page, limit                   *int
		vehicleID, operationID, state *string
	)
	for name, dest := range map[string]any{
		"page": &page, "limit": &limit,
		"vehicle_id": &vehicleID, "operation_id": &operationID, "state": &state,
	} {
		if err := queryParam(r, name, dest); err != nil {
			requestError(w, err.Error())
			return
		}
	}

	params := domain.NewPaginationParams(page, limit)
	filter := domain.TrailFilter{
		VehicleID:   deref(vehicleID),
		OperationID: deref(operationID),
		State:       domain.TrailState(deref(state)),
	}

	trails, total, err := s.trails.List(r.Context(), filter, params)
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}

	data := make([]TrailResponse, len(trails))
	for i, t := range trails {
		data[i] = trailToResponse(t)
	}
	writeJSON(w, http.StatusOK, TrailList{
		Data:       data,
		Pagination: Pagination{Page: params.Page, Limit: params.Limit, Total: total},
	})
}

// GetTrail handles GET /trails/{id}.
func (s *Server) GetTrail(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, err.Error())
		return
	}

	trail, err := s.trails.Get(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}

	resp := trailToResponse(trail)
	if len(trail.Path) > 0 {
		resp.PathPolyline = geometry.EncodePolyline(trail.Path)
		if ewkt, err := geometry.EWKT(trail.Path, false); err == nil {
			resp.PathEWKT = ewkt
		}
	}
	resp.DetailedPathPoints = len(trail.DetailedPath)
	writeJSON(w, http.StatusOK, resp)
}

// DeleteTrail handles DELETE /trails/{id}.
func (s *Server) DeleteTrail(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, err.Error())
		return
	}

	if err := s.trails.Delete(r.Context(), id); err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPoints handles GET /trails/{id}/points.
func (s *Server) ListPoints(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, err.Error())
		return
	}

	points, err := s.trails.Points(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}
	writeJSON(w, http.StatusOK, PointBatch{Points: points})
}

// AppendPoints handles POST /trails/{id}/points.
func (s *Server) AppendPoints(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, err.Error())
		return
	}
	var body PointBatch
	if !decodeBody(w, r, &body, true) {
		return
	}

	n, err := s.trails.Append(r.Context(), id, body.Points)
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"appended": n})
}

// CloseTrail handles POST /trails/{id}/close. The body is optional.
func (s *Server) CloseTrail(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, err.Error())
		return
	}
	var body CloseTrailRequest
	if !decodeBody(w, r, &body, false) {
		return
	}

	result, err := s.trails.RequestClose(r.Context(), id, domain.CloseOptions{
		EndTime:     body.EndTime,
		MetricsMode: body.MetricsMode,
		Reason:      domain.ReasonRequested,
	})
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetFreshness handles GET /trails/{id}/freshness. Read only.
func (s *Server) GetFreshness(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, err.Error())
		return
	}
	timeout, err := timeoutParam(r)
	if err != nil {
		requestError(w, err.Error())
		return
	}

	f, err := s.freshness.IsFresh(r.Context(), id, s.timeout(timeout))
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// EvaluateFreshness handles POST /trails/{id}/freshness. An open trail that
// is no longer fresh is marked stale.
func (s *Server) EvaluateFreshness(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, err.Error())
		return
	}
	timeout, err := timeoutParam(r)
	if err != nil {
		requestError(w, err.Error())
		return
	}

	trail, err := s.trails.EvaluateFreshness(r.Context(), id, s.timeout(timeout))
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}
	writeJSON(w, http.StatusOK, trailToResponse(trail))
}

// ComputeMetrics handles POST /trails/{id}/metrics, the manual retry of the
// deferred metrics step.
func (s *Server) ComputeMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, err.Error())
		return
	}

	result, err := s.metrics.Compute(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetPreview handles GET /trails/{id}/preview.
func (s *Server) GetPreview(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, err.Error())
		return
	}

	preview, err := s.trails.Preview(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// --- helpers ----------------------------------------------------------------

// decodeBody decodes the JSON request body into dest. An empty body is an
// error only when required. It writes the error response itself and reports
// whether the handler should continue.
func decodeBody(w http.ResponseWriter, r *http.Request, dest any, required bool) bool {
	err := json.NewDecoder(r.Body).Decode(dest)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF) && !required:
		return true
	case errors.Is(err, io.EOF):
		requestError(w, "request body is required")
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request_too_large",
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	default:
		requestError(w, "invalid JSON body: "+err.Error())
	}
	return false
}

func (s *Server) timeout(t *time.Duration) time.Duration {
	if t == nil {
		return s.staleTimeout
	}
	return *t
}

func trailToResponse(t domain.Trail) TrailResponse {
	return TrailResponse{Trail: t}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
