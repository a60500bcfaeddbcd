package handler

import (
	"net/http"
)

// CheckOpenTrails handles GET /vehicles/{vehicleID}/open-trail.
// It reconciles the vehicle's open trails first, so the answer reflects any
// stale or duplicate trails it closed. Accepts ?timeout_minutes=.
func (s *Server) CheckOpenTrails(w http.ResponseWriter, r *http.Request) {
	vehicleID, err := pathString(r, "vehicleID")
	if err != nil {
		requestError(w, err.Error())
		return
	}
	timeout, err := timeoutParam(r)
	if err != nil {
		requestError(w, err.Error())
		return
	}

	check, err := s.reconciler.CheckOpenTrails(r.Context(), vehicleID, timeout)
	if err != nil {
		s.serviceError(w, r, err, "vehicle not found")
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// ReconcileOperation handles POST /operations/{operationID}/reconcile.
// Accepts ?exclude_vehicle_id= and ?timeout_minutes=.
func (s *Server) ReconcileOperation(w http.ResponseWriter, r *http.Request) {
	operationID, err := pathString(r, "operationID")
	if err != nil {
		requestError(w, err.Error())
		return
	}
	var exclude *string
	if err := queryParam(r, "exclude_vehicle_id", &exclude); err != nil {
		requestError(w, err.Error())
		return
	}
	timeout, err := timeoutParam(r)
	if err != nil {
		requestError(w, err.Error())
		return
	}

	out, err := s.reconciler.ReconcileOperation(r.Context(), operationID, deref(exclude), timeout)
	if err != nil {
		s.serviceError(w, r, err, "operation not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
