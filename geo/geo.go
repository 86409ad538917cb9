// Package geo implements the geometry predicates consumed by the query
// processor: great-circle distance, point-in-polygon, polygon intersection
// and line crossing over GeoJSON-like geometry values.
package geo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/mirrordb/document"
)

var (
	// ErrMalformedGeometry is returned when a geometry value is structurally
	// invalid (missing type, bad coordinates).
	ErrMalformedGeometry = errors.New("malformed geometry")

	// ErrUnsupportedGeometry is returned when a structurally valid geometry
	// is of a type the operation cannot evaluate.
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
)

// GeometryType identifies the GeoJSON geometry kind.
type GeometryType string

const (
	TypePoint           GeometryType = "Point"
	TypeLineString      GeometryType = "LineString"
	TypePolygon         GeometryType = "Polygon"
	TypeMultiLineString GeometryType = "MultiLineString"
	TypeMultiPolygon    GeometryType = "MultiPolygon"
)

// Geometry is a decoded GeoJSON-like geometry. Coordinates are [lng, lat]
// pairs. Exactly one of the coordinate fields is populated, matching Type.
type Geometry struct {
	Type         GeometryType
	Point        []float64
	Line         [][]float64
	Polygon      [][][]float64
	MultiLine    [][][]float64
	MultiPolygon [][][][]float64
}

// Decode parses a geometry value ({"type": ..., "coordinates": ...}).
func Decode(v any) (*Geometry, error) {
	m, ok := v.(map[string]any)
	if !ok {
		if d, dok := v.(document.Document); dok {
			m = d
		} else {
			return nil, fmt.Errorf("%w: not an object", ErrMalformedGeometry)
		}
	}
	typ, _ := m["type"].(string)
	coords, hasCoords := m["coordinates"]
	if typ == "" || !hasCoords {
		return nil, fmt.Errorf("%w: missing type or coordinates", ErrMalformedGeometry)
	}

	g := &Geometry{Type: GeometryType(typ)}
	var err error
	switch g.Type {
	case TypePoint:
		g.Point, err = decodePosition(coords)
	case TypeLineString:
		g.Line, err = decodeLine(coords)
	case TypePolygon:
		g.Polygon, err = decodePolygon(coords)
	case TypeMultiLineString:
		g.MultiLine, err = decodeMultiLine(coords)
	case TypeMultiPolygon:
		g.MultiPolygon, err = decodeMultiPolygon(coords)
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnsupportedGeometry, typ)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func decodePosition(v any) ([]float64, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 2 {
		return nil, fmt.Errorf("%w: bad position", ErrMalformedGeometry)
	}
	pos := make([]float64, 2)
	for i := 0; i < 2; i++ {
		n, ok := document.AsNumber(arr[i])
		if !ok {
			return nil, fmt.Errorf("%w: non-numeric coordinate", ErrMalformedGeometry)
		}
		pos[i] = n
	}
	return pos, nil
}

func decodeLine(v any) ([][]float64, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: bad line", ErrMalformedGeometry)
	}
	line := make([][]float64, len(arr))
	for i, p := range arr {
		pos, err := decodePosition(p)
		if err != nil {
			return nil, err
		}
		line[i] = pos
	}
	return line, nil
}

func decodePolygon(v any) ([][][]float64, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("%w: bad polygon", ErrMalformedGeometry)
	}
	rings := make([][][]float64, len(arr))
	for i, r := range arr {
		ring, err := decodeLine(r)
		if err != nil {
			return nil, err
		}
		if len(ring) < 3 {
			return nil, fmt.Errorf("%w: ring with fewer than 3 positions", ErrMalformedGeometry)
		}
		rings[i] = ring
	}
	return rings, nil
}

func decodeMultiLine(v any) ([][][]float64, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: bad multi line", ErrMalformedGeometry)
	}
	lines := make([][][]float64, len(arr))
	for i, l := range arr {
		line, err := decodeLine(l)
		if err != nil {
			return nil, err
		}
		lines[i] = line
	}
	return lines, nil
}

func decodeMultiPolygon(v any) ([][][][]float64, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: bad multi polygon", ErrMalformedGeometry)
	}
	polys := make([][][][]float64, len(arr))
	for i, p := range arr {
		poly, err := decodePolygon(p)
		if err != nil {
			return nil, err
		}
		polys[i] = poly
	}
	return polys, nil
}
