package query

import (
	"sort"

	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/geo"
)

// Fields is a projection description over dotted paths. If any listed path
// maps to true the projection is in inclusion mode: only listed paths (plus
// the id field) are copied. Otherwise every listed path is deleted from a
// deep copy of the document.
type Fields map[string]bool

// Options control the non-selector stages of the query pipeline.
type Options struct {
	Sort   Sort
	Skip   int
	Limit  int // <= 0 means no limit
	Fields Fields
}

// Process runs the fixed query pipeline over a document sequence:
// predicate, $near stage, $geoIntersects stage, sort, skip, limit,
// projection. The input slice is not modified.
func Process(docs []document.Document, c *Compiled, opts Options) ([]document.Document, error) {
	out := make([]document.Document, 0, len(docs))
	for _, d := range docs {
		if c.Match(d) {
			out = append(out, d)
		}
	}

	nearSorted := false
	if c.Near != nil {
		out = applyNear(out, c.Near)
		nearSorted = true
	}
	if c.Intersects != nil {
		out = applyIntersects(out, c.Intersects)
	}

	if len(opts.Sort) > 0 && !nearSorted {
		cmp := CompileSort(opts.Sort)
		sort.SliceStable(out, func(i, j int) bool { return cmp(out[i], out[j]) < 0 })
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(out) {
			out = out[:0]
		} else {
			out = out[opts.Skip:]
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	if len(opts.Fields) > 0 {
		projected := make([]document.Document, len(out))
		for i, d := range out {
			projected[i] = project(d, opts.Fields)
		}
		out = projected
	}
	return out, nil
}

// applyNear keeps documents whose target field is a Point or LineString at a
// valid positive distance from the query geometry, ordered nearest first.
// This ordering overrides any later sort option.
func applyNear(docs []document.Document, near *NearClause) []document.Document {
	type scored struct {
		doc  document.Document
		dist float64
	}
	kept := make([]scored, 0, len(docs))
	for _, d := range docs {
		v, ok := d.Get(near.Field)
		if !ok {
			continue
		}
		g, err := geo.Decode(v)
		if err != nil || (g.Type != geo.TypePoint && g.Type != geo.TypeLineString) {
			continue
		}
		dist, err := geo.DistanceMeters(near.Geometry, g)
		if err != nil || dist <= 0 {
			continue
		}
		if near.HasMax && dist > near.MaxDistance {
			continue
		}
		kept = append(kept, scored{doc: d, dist: dist})
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].dist < kept[j].dist })
	out := make([]document.Document, len(kept))
	for i, s := range kept {
		out[i] = s.doc
	}
	return out
}

// applyIntersects filters by the predicate appropriate to the target field's
// geometry type.
func applyIntersects(docs []document.Document, is *IntersectsClause) []document.Document {
	out := docs[:0:0]
	for _, d := range docs {
		v, ok := d.Get(is.Field)
		if !ok {
			continue
		}
		g, err := geo.Decode(v)
		if err != nil {
			continue
		}
		var hit bool
		switch g.Type {
		case geo.TypePoint:
			hit = geo.PointInPolygon(g, is.Geometry)
		case geo.TypePolygon, geo.TypeMultiPolygon:
			hit = geo.PolygonsIntersect(g, is.Geometry)
		case geo.TypeLineString, geo.TypeMultiLineString:
			hit = geo.LineCrossesOrWithin(g, is.Geometry)
		}
		if hit {
			out = append(out, d)
		}
	}
	return out
}

func project(d document.Document, fields Fields) document.Document {
	inclusion := false
	for _, include := range fields {
		if include {
			inclusion = true
			break
		}
	}

	if inclusion {
		out := document.Document{}
		if id, ok := d[document.IDField]; ok {
			out[document.IDField] = id
		}
		for path, include := range fields {
			if !include {
				continue
			}
			if v, ok := d.Get(path); ok {
				out.Set(path, document.CloneValue(v))
			}
		}
		return out
	}

	out := d.Clone()
	for path := range fields {
		out.Delete(path)
	}
	return out
}
