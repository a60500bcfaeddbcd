package geometry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/pkordes/trail-engine/internal/domain"
)

// SRID is the coordinate reference system of every stored line (WGS 84
// longitude/latitude). No reprojection happens anywhere in the engine.
const SRID = 4326

// ErrNotLineString is returned when stored geometry is not a line.
var ErrNotLineString = errors.New("geometry is not a linestring")

// EncodePath encodes the simplified path as an XY LineString in EWKB.
// Timestamps are dropped.
func EncodePath(points []domain.Point) ([]byte, error) {
	ls, err := lineString(points, false)
	if err != nil {
		return nil, fmt.Errorf("geometry.EncodePath: %w", err)
	}
	return ewkb.Marshal(ls, binary.LittleEndian)
}

// EncodeDetailedPath encodes the detailed path as an XYM LineString in EWKB,
// with the sample timestamp (ms epoch) as the M ordinate of each vertex.
func EncodeDetailedPath(points []domain.Point) ([]byte, error) {
	ls, err := lineString(points, true)
	if err != nil {
		return nil, fmt.Errorf("geometry.EncodeDetailedPath: %w", err)
	}
	return ewkb.Marshal(ls, binary.LittleEndian)
}

// DecodeLine decodes an EWKB LineString into points. The M ordinate, when
// present, becomes the point timestamp. A nil or empty input yields nil.
func DecodeLine(b []byte) ([]domain.Point, error) {
	if len(b) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("geometry.DecodeLine: %w", err)
	}
	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, fmt.Errorf("geometry.DecodeLine: %w: got %T", ErrNotLineString, g)
	}

	mIndex := ls.Layout().MIndex()
	coords := ls.Coords()
	out := make([]domain.Point, len(coords))
	for i, c := range coords {
		out[i] = domain.Point{Longitude: c[0], Latitude: c[1]}
		if mIndex >= 0 {
			out[i].Timestamp = int64(math.Round(c[mIndex]))
		}
	}
	return out, nil
}

// EWKT renders points as CRS-tagged well-known text, e.g.
// "SRID=4326;LINESTRING M (13.4 52.5 1700000000000, ...)". When timed is
// false the M ordinate is omitted.
func EWKT(points []domain.Point, timed bool) (string, error) {
	if len(points) == 0 {
		return "", nil
	}
	ls, err := lineString(points, timed)
	if err != nil {
		return "", fmt.Errorf("geometry.EWKT: %w", err)
	}
	s, err := wkt.Marshal(ls)
	if err != nil {
		return "", fmt.Errorf("geometry.EWKT: %w", err)
	}
	return fmt.Sprintf("SRID=%d;%s", SRID, s), nil
}

func lineString(points []domain.Point, timed bool) (*geom.LineString, error) {
	layout := geom.XY
	if timed {
		layout = geom.XYM
	}
	coords := make([]geom.Coord, len(points))
	for i, p := range points {
		if timed {
			coords[i] = geom.Coord{p.Longitude, p.Latitude, float64(p.Timestamp)}
		} else {
			coords[i] = geom.Coord{p.Longitude, p.Latitude}
		}
	}
	ls, err := geom.NewLineString(layout).SetCoords(coords)
	if err != nil {
		return nil, err
	}
	return ls.SetSRID(SRID), nil
}
