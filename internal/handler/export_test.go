package handler_test

import (
	"context"
	"encoding/csv"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkordes/trail-engine/internal/domain"
	"github.com/pkordes/trail-engine/internal/handler"
)

func exportServicer(trail domain.Trail, buffered []domain.Point) *mockTrailServicer {
	return &mockTrailServicer{
		get: func(context.Context, uuid.UUID) (domain.Trail, error) { return trail, nil },
		points: func(context.Context, uuid.UUID) ([]domain.Point, error) {
			return buffered, nil
		},
	}
}

func TestExportTrail_defaultsToKML(t *testing.T) {
	trail := closedFixture()
	trail.Metrics = &domain.Metrics{DistanceMeters: 17000, AreaHectares: 2.04}
	h := newHTTPHandler(handler.Deps{Trails: exportServicer(trail, nil)})

	rec := serve(h, http.MethodGet, "/trails/"+trail.ID.String()+"/export", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.google-earth.kml+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "trail-"+trail.ID.String()+".kml")

	body := rec.Body.String()
	assert.Contains(t, body, "<kml")
	assert.Contains(t, body, "<name>tractor-1 / op-north</name>")
	assert.Contains(t, body, "<styleUrl>#trail</styleUrl>")
	// KML colors are aabbggrr: #00AA00 becomes ff00aa00.
	assert.Contains(t, body, "<color>ff00aa00</color>")
	assert.Contains(t, body, "-93.5,42")
	assert.Contains(t, body, "distance: 17000 m")
}

func TestExportTrail_csv(t *testing.T) {
	trail := closedFixture()
	h := newHTTPHandler(handler.Deps{Trails: exportServicer(trail, nil)})

	rec := serve(h, http.MethodGet, "/trails/"+trail.ID.String()+"/export?format=csv", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"timestamp", "longitude", "latitude"}, rows[0])
	assert.Equal(t, []string{"2025-04-01T08:00:00Z", "-93.5", "42"}, rows[1])
}

func TestExportTrail_openTrailUsesBufferedPoints(t *testing.T) {
	trail := trailFixture()
	buffered := []domain.Point{
		{Longitude: 10, Latitude: 50, Timestamp: 1000},
		{Longitude: 10.1, Latitude: 50.1, Timestamp: 2000},
	}
	h := newHTTPHandler(handler.Deps{Trails: exportServicer(trail, buffered)})

	rec := serve(h, http.MethodGet, "/trails/"+trail.ID.String()+"/export?format=csv", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestExportTrail_unknownFormat_returns400(t *testing.T) {
	h := newHTTPHandler(handler.Deps{Trails: &mockTrailServicer{}})

	rec := serve(h, http.MethodGet, "/trails/"+uuid.NewString()+"/export?format=gpx", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "format must be kml or csv", decodeError(t, rec).Message)
}

func TestExportTrail_notFound_returns404(t *testing.T) {
	svc := &mockTrailServicer{
		get: func(context.Context, uuid.UUID) (domain.Trail, error) { return domain.Trail{}, domain.ErrNotFound },
	}
	h := newHTTPHandler(handler.Deps{Trails: svc})

	rec := serve(h, http.MethodGet, "/trails/"+uuid.NewString()+"/export", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
