// Package query compiles declarative selectors and sort specifications into
// executable predicates and comparators, and runs the full query pipeline
// (match, geo stages, sort, skip/limit, projection) over document sequences.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/mirrordb/document"
	"github.com/hupe1980/mirrordb/geo"
)

// opKind is the closed enumeration of selector operator kinds. Unknown
// operator keys compile to opNone (fail closed); unknown plain keys are the
// distinct field-equality variant.
type opKind uint8

const (
	opFieldEq opKind = iota
	opEq
	opNe
	opGt
	opGte
	opLt
	opLte
	opIn
	opNin
	opAll
	opExists
	opType
	opRegex
	opElemMatch
	opNot
	opNone
)

// NearClause is a $near stage extracted from a selector. It is applied by
// Process, not by the boolean predicate, because it affects ordering.
type NearClause struct {
	Field       string
	Geometry    *geo.Geometry
	MaxDistance float64
	HasMax      bool
}

// IntersectsClause is a $geoIntersects stage extracted from a selector.
type IntersectsClause struct {
	Field    string
	Geometry *geo.Geometry
}

// Compiled is an executable form of a selector: a boolean predicate plus any
// extracted geospatial stages.
type Compiled struct {
	pred       predicate
	Near       *NearClause
	Intersects *IntersectsClause
}

// Match evaluates the boolean predicate against a document. Geo stages are
// not part of the predicate.
func (c *Compiled) Match(doc document.Document) bool {
	return c.pred(doc)
}

type predicate func(document.Document) bool

func matchAll(document.Document) bool  { return true }
func matchNone(document.Document) bool { return false }

// Compile turns a selector description into an executable predicate.
// A nil or empty selector matches everything.
func Compile(selector document.Document) (*Compiled, error) {
	c := &Compiled{}
	pred, err := c.compileSelector(selector)
	if err != nil {
		return nil, err
	}
	c.pred = pred
	return c, nil
}

func (c *Compiled) compileSelector(sel map[string]any) (predicate, error) {
	if len(sel) == 0 {
		return matchAll, nil
	}
	var preds []predicate
	for key, value := range sel {
		switch key {
		case "$and":
			sub, err := c.compileList(value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, allOf(sub))
		case "$or":
			sub, err := c.compileList(value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, anyOf(sub))
		case "$nor":
			sub, err := c.compileList(value)
			if err != nil {
				return nil, err
			}
			any := anyOf(sub)
			preds = append(preds, func(d document.Document) bool { return !any(d) })
		default:
			if strings.HasPrefix(key, "$") {
				// Unknown top-level operator: fail closed.
				preds = append(preds, matchNone)
				continue
			}
			p, err := c.compileField(key, value)
			if err != nil {
				return nil, err
			}
			if p != nil {
				preds = append(preds, p)
			}
		}
	}
	return allOf(preds), nil
}

func (c *Compiled) compileList(value any) ([]predicate, error) {
	arr, ok := value.([]any)
	if !ok {
		return []predicate{matchNone}, nil
	}
	preds := make([]predicate, 0, len(arr))
	for _, e := range arr {
		sub, ok := toMap(e)
		if !ok {
			preds = append(preds, matchNone)
			continue
		}
		p, err := c.compileSelector(sub)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// compileField compiles one field entry. Geo operators are extracted into the
// Compiled rather than folded into the predicate; the returned predicate may
// be nil when the entry contributed only geo stages.
func (c *Compiled) compileField(field string, value any) (predicate, error) {
	opDoc, ok := operatorDoc(value)
	if !ok {
		// Implicit equality against a scalar or structural value.
		cl := clause{kind: opFieldEq, value: value}
		return fieldPred(field, []clause{cl}), nil
	}

	clauses := make([]clause, 0, len(opDoc))
	for op, arg := range opDoc {
		switch op {
		case "$near":
			near, err := compileNear(field, arg)
			if err != nil {
				return nil, err
			}
			c.Near = near
		case "$geoIntersects":
			g, err := geoArg(arg)
			if err != nil {
				return nil, err
			}
			c.Intersects = &IntersectsClause{Field: field, Geometry: g}
		default:
			cl, err := compileOp(op, arg, opDoc)
			if err != nil {
				return nil, err
			}
			if cl != nil {
				clauses = append(clauses, *cl)
			}
		}
	}
	if len(clauses) == 0 {
		return nil, nil
	}
	return fieldPred(field, clauses), nil
}

type clause struct {
	kind   opKind
	value  any
	list   []any
	re     *regexp.Regexp
	exists bool
	typ    string
	sub    []clause
	subSel *Compiled
}

func compileOp(op string, arg any, opDoc map[string]any) (*clause, error) {
	switch op {
	case "$eq":
		return &clause{kind: opEq, value: arg}, nil
	case "$ne":
		return &clause{kind: opNe, value: arg}, nil
	case "$gt":
		return &clause{kind: opGt, value: arg}, nil
	case "$gte":
		return &clause{kind: opGte, value: arg}, nil
	case "$lt":
		return &clause{kind: opLt, value: arg}, nil
	case "$lte":
		return &clause{kind: opLte, value: arg}, nil
	case "$in":
		return &clause{kind: opIn, list: toList(arg)}, nil
	case "$nin":
		return &clause{kind: opNin, list: toList(arg)}, nil
	case "$all":
		return &clause{kind: opAll, list: toList(arg)}, nil
	case "$exists":
		want, _ := arg.(bool)
		return &clause{kind: opExists, exists: want}, nil
	case "$type":
		typ, _ := arg.(string)
		return &clause{kind: opType, typ: typ}, nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return &clause{kind: opNone}, nil
		}
		flags, _ := opDoc["$options"].(string)
		re, err := compileRegex(pattern, flags)
		if err != nil {
			return nil, fmt.Errorf("compile $regex: %w", err)
		}
		return &clause{kind: opRegex, re: re}, nil
	case "$options":
		// Consumed alongside $regex.
		return nil, nil
	case "$elemMatch":
		return compileElemMatch(arg)
	case "$not":
		sub, ok := operatorDoc(arg)
		if !ok {
			return &clause{kind: opNone}, nil
		}
		inner := make([]clause, 0, len(sub))
		for iop, iarg := range sub {
			cl, err := compileOp(iop, iarg, sub)
			if err != nil {
				return nil, err
			}
			if cl != nil {
				inner = append(inner, *cl)
			}
		}
		return &clause{kind: opNot, sub: inner}, nil
	default:
		// Unknown operator: fail closed rather than error.
		return &clause{kind: opNone}, nil
	}
}

func compileElemMatch(arg any) (*clause, error) {
	m, ok := toMap(arg)
	if !ok {
		return &clause{kind: opNone}, nil
	}
	if _, isOps := operatorDoc(m); isOps && !plainSelector(m) {
		inner := make([]clause, 0, len(m))
		for iop, iarg := range m {
			cl, err := compileOp(iop, iarg, m)
			if err != nil {
				return nil, err
			}
			if cl != nil {
				inner = append(inner, *cl)
			}
		}
		return &clause{kind: opElemMatch, sub: inner}, nil
	}
	sub, err := Compile(m)
	if err != nil {
		return nil, err
	}
	return &clause{kind: opElemMatch, subSel: sub}, nil
}

func compileNear(field string, arg any) (*NearClause, error) {
	m, ok := toMap(arg)
	if !ok {
		return nil, fmt.Errorf("%w: $near argument", geo.ErrMalformedGeometry)
	}
	g, err := geo.Decode(m["$geometry"])
	if err != nil {
		return nil, err
	}
	near := &NearClause{Field: field, Geometry: g}
	if max, hasMax := m["$maxDistance"]; hasMax {
		n, ok := document.AsNumber(max)
		if !ok {
			return nil, fmt.Errorf("%w: $maxDistance not numeric", geo.ErrMalformedGeometry)
		}
		near.MaxDistance = n
		near.HasMax = true
	}
	return near, nil
}

func geoArg(arg any) (*geo.Geometry, error) {
	m, ok := toMap(arg)
	if !ok {
		return nil, fmt.Errorf("%w: $geoIntersects argument", geo.ErrMalformedGeometry)
	}
	return geo.Decode(m["$geometry"])
}

func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	var prefix string
	for _, f := range flags {
		switch f {
		case 'i':
			prefix += "i"
		case 'm':
			prefix += "m"
		case 's':
			prefix += "s"
		}
	}
	if prefix != "" {
		pattern = "(?" + prefix + ")" + pattern
	}
	return regexp.Compile(pattern)
}

// operatorDoc reports whether value is a map whose keys are all operators.
func operatorDoc(value any) (map[string]any, bool) {
	m, ok := toMap(value)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func plainSelector(m map[string]any) bool {
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func toMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case document.Document:
		return t, true
	default:
		return nil, false
	}
}

func toList(v any) []any {
	arr, _ := v.([]any)
	return arr
}

func allOf(preds []predicate) predicate {
	if len(preds) == 0 {
		return matchAll
	}
	return func(d document.Document) bool {
		for _, p := range preds {
			if !p(d) {
				return false
			}
		}
		return true
	}
}

func anyOf(preds []predicate) predicate {
	if len(preds) == 0 {
		return matchNone
	}
	return func(d document.Document) bool {
		for _, p := range preds {
			if p(d) {
				return true
			}
		}
		return false
	}
}
