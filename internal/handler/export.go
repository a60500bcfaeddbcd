package handler

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"image/color"
	"net/http"
	"strconv"
	"time"

	kml "github.com/twpayne/go-kml"

	"github.com/pkordes/trail-engine/internal/domain"
)

// csvHeaders defines the column names written as the first row of a CSV export.
var csvHeaders = []string{"timestamp", "longitude", "latitude"}

// ExportTrail handles GET /trails/{id}/export.
// ?format=kml (default) returns a KML document with one styled placemark;
// ?format=csv returns the detailed path, one row per point.
// Open trails export their current buffer.
func (s *Server) ExportTrail(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		requestError(w, err.Error())
		return
	}
	var format *string
	if err := queryParam(r, "format", &format); err != nil {
		requestError(w, err.Error())
		return
	}
	f := "kml"
	if format != nil {
		f = *format
	}
	if f != "kml" && f != "csv" {
		requestError(w, "format must be kml or csv")
		return
	}

	trail, err := s.trails.Get(r.Context(), id)
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}
	points := trail.DetailedPath
	if trail.IsOpen() {
		if points, err = s.trails.Points(r.Context(), id); err != nil {
			s.serviceError(w, r, err, trailNotFound)
			return
		}
	}

	var (
		buf         bytes.Buffer
		contentType string
	)
	switch f {
	case "csv":
		contentType = "text/csv"
		err = writeCSV(&buf, points)
	default:
		contentType = "application/vnd.google-earth.kml+xml"
		err = writeKML(&buf, trail, points)
	}
	if err != nil {
		s.serviceError(w, r, err, trailNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="trail-%s.%s"`, trail.ID, f))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// writeCSV encodes points as timestamp (RFC 3339, UTC), longitude, latitude.
func writeCSV(buf *bytes.Buffer, points []domain.Point) error {
	w := csv.NewWriter(buf)
	//nolint:errcheck // bytes.Buffer.Write never returns an error; Flush reports via w.Error.
	w.Write(csvHeaders)
	for _, p := range points {
		//nolint:errcheck
		w.Write([]string{
			p.Time().Format(time.RFC3339Nano),
			strconv.FormatFloat(p.Longitude, 'f', -1, 64),
			strconv.FormatFloat(p.Latitude, 'f', -1, 64),
		})
	}
	w.Flush()
	return w.Error()
}

// writeKML renders the trail as a single placemark styled with the trail's
// color and width.
func writeKML(buf *bytes.Buffer, trail domain.Trail, points []domain.Point) error {
	coords := make([]kml.Coordinate, 0, len(points))
	for _, p := range points {
		if p.Valid() {
			coords = append(coords, kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude})
		}
	}

	span := []kml.Element{kml.Begin(trail.StartTime)}
	if trail.EndTime != nil {
		span = append(span, kml.End(*trail.EndTime))
	}

	name := fmt.Sprintf("%s / %s", trail.VehicleID, trail.OperationID)
	doc := kml.KML(
		kml.Document(
			kml.Name(name),
			kml.SharedStyle("trail",
				kml.LineStyle(
					kml.Color(parseColor(trail.Style.Color)),
					kml.Width(trail.Style.Width),
				),
			),
			kml.Placemark(
				kml.Name(name),
				kml.Description(describe(trail)),
				kml.StyleURL("#trail"),
				kml.TimeSpan(span...),
				kml.LineString(
					kml.Tessellate(true),
					kml.Coordinates(coords...),
				),
			),
		),
	)
	return doc.WriteIndent(buf, "", "  ")
}

func describe(t domain.Trail) string {
	if t.Metrics == nil {
		return fmt.Sprintf("state: %s, metrics pending", t.State)
	}
	return fmt.Sprintf("distance: %.0f m, area: %.2f ha, overlap: %.2f ha (%.1f%%)",
		t.Metrics.DistanceMeters, t.Metrics.AreaHectares, t.Metrics.OverlapHectares, t.Metrics.OverlapPercentage)
}

// parseColor converts "#RRGGBB" to an opaque color. Anything unparsable
// falls back to the default trail color.
func parseColor(hex string) color.Color {
	var c color.RGBA
	if _, err := fmt.Sscanf(hex, "#%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		_, _ = fmt.Sscanf(domain.DefaultTrailColor, "#%02x%02x%02x", &c.R, &c.G, &c.B)
	}
	c.A = 0xff
	return c
}
