package geo

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371008.8

// DistanceMeters returns the distance in meters between a Point and a target
// Point or LineString. Any other target type returns ErrUnsupportedGeometry.
// For LineString targets the distance is the minimum over all segments.
func DistanceMeters(point, target *Geometry) (float64, error) {
	if point == nil || point.Type != TypePoint {
		return 0, fmt.Errorf("%w: distance origin must be a Point", ErrUnsupportedGeometry)
	}
	switch target.Type {
	case TypePoint:
		return haversine(point.Point, target.Point), nil
	case TypeLineString:
		return pointToLine(point.Point, target.Line), nil
	default:
		return 0, fmt.Errorf("%w: distance target %s", ErrUnsupportedGeometry, target.Type)
	}
}

func haversine(a, b []float64) float64 {
	lng1, lat1 := a[0]*math.Pi/180, a[1]*math.Pi/180
	lng2, lat2 := b[0]*math.Pi/180, b[1]*math.Pi/180
	dLat := lat2 - lat1
	dLng := lng2 - lng1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// pointToLine projects onto an equirectangular plane around the query point.
// The approximation is fine at the distances cached queries care about.
func pointToLine(p []float64, line [][]float64) float64 {
	if len(line) == 0 {
		return math.Inf(1)
	}
	if len(line) == 1 {
		return haversine(p, line[0])
	}
	px, py := project(p, p)
	best := math.Inf(1)
	for i := 0; i+1 < len(line); i++ {
		ax, ay := project(line[i], p)
		bx, by := project(line[i+1], p)
		d := pointSegment(px, py, ax, ay, bx, by)
		if d < best {
			best = d
		}
	}
	return best
}

// project maps a [lng, lat] position to meters on a plane centered at origin.
func project(pos, origin []float64) (x, y float64) {
	latRad := origin[1] * math.Pi / 180
	x = (pos[0] - origin[0]) * math.Pi / 180 * earthRadiusMeters * math.Cos(latRad)
	y = (pos[1] - origin[1]) * math.Pi / 180 * earthRadiusMeters
	return x, y
}

func pointSegment(px, py, ax, ay, bx, by float64) float64 {
	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 0 {
		t = ((px-ax)*dx + (py-ay)*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}
	cx, cy := ax+t*dx, ay+t*dy
	return math.Hypot(px-cx, py-cy)
}

// PointInPolygon reports whether a Point lies inside a Polygon or
// MultiPolygon. The first ring of a polygon is the outer boundary; further
// rings are holes.
func PointInPolygon(point, polygon *Geometry) bool {
	if point == nil || point.Type != TypePoint || polygon == nil {
		return false
	}
	for _, poly := range polygons(polygon) {
		if pointInRings(point.Point, poly) {
			return true
		}
	}
	return false
}

func polygons(g *Geometry) [][][][]float64 {
	switch g.Type {
	case TypePolygon:
		return [][][][]float64{g.Polygon}
	case TypeMultiPolygon:
		return g.MultiPolygon
	default:
		return nil
	}
}

func pointInRings(p []float64, rings [][][]float64) bool {
	if len(rings) == 0 || !pointInRing(p, rings[0]) {
		return false
	}
	for _, hole := range rings[1:] {
		if pointInRing(p, hole) {
			return false
		}
	}
	return true
}

// pointInRing is the even-odd ray casting test.
func pointInRing(p []float64, ring [][]float64) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > p[1]) != (yj > p[1]) &&
			p[0] < (xj-xi)*(p[1]-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// PolygonsIntersect reports whether two Polygon/MultiPolygon geometries
// intersect: shared edge crossings or full containment either way.
func PolygonsIntersect(a, b *Geometry) bool {
	for _, pa := range polygons(a) {
		for _, pb := range polygons(b) {
			if ringsIntersect(pa, pb) {
				return true
			}
		}
	}
	return false
}

func ringsIntersect(a, b [][][]float64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, ra := range a {
		for _, rb := range b {
			if edgesCross(ra, rb) {
				return true
			}
		}
	}
	// No edge crossings: one may fully contain the other.
	return pointInRings(a[0][0], b) || pointInRings(b[0][0], a)
}

func edgesCross(a, b [][]float64) bool {
	for i := 0; i < len(a); i++ {
		a1, a2 := a[i], a[(i+1)%len(a)]
		for j := 0; j < len(b); j++ {
			if segmentsIntersect(a1, a2, b[j], b[(j+1)%len(b)]) {
				return true
			}
		}
	}
	return false
}

// LineCrossesOrWithin reports whether a LineString or MultiLineString
// crosses the boundary of, or lies within, a Polygon/MultiPolygon. Empty
// line parts are skipped.
func LineCrossesOrWithin(line, polygon *Geometry) bool {
	var parts [][][]float64
	switch line.Type {
	case TypeLineString:
		parts = [][][]float64{line.Line}
	case TypeMultiLineString:
		parts = line.MultiLine
	default:
		return false
	}
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		if linePartHits(part, polygon) {
			return true
		}
	}
	return false
}

func linePartHits(part [][]float64, polygon *Geometry) bool {
	for _, v := range part {
		if PointInPolygon(&Geometry{Type: TypePoint, Point: v}, polygon) {
			return true
		}
	}
	for _, rings := range polygons(polygon) {
		for _, ring := range rings {
			for i := 0; i+1 < len(part); i++ {
				for j := 0; j < len(ring); j++ {
					if segmentsIntersect(part[i], part[i+1], ring[j], ring[(j+1)%len(ring)]) {
						return true
					}
				}
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 []float64) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment(q1, q2, p1)) ||
		(d2 == 0 && onSegment(q1, q2, p2)) ||
		(d3 == 0 && onSegment(p1, p2, q1)) ||
		(d4 == 0 && onSegment(p1, p2, q2))
}

func cross(a, b, c []float64) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p []float64) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}
