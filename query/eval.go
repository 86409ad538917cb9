package query

import (
	"strings"

	"github.com/hupe1980/mirrordb/document"
)

// fieldPred evaluates a set of clauses against all candidate values a dotted
// path resolves to. Arrays along the path fan out into per-element candidates.
func fieldPred(field string, clauses []clause) predicate {
	return func(d document.Document) bool {
		vals, found := lookupValues(d, field)
		for _, cl := range clauses {
			if !cl.match(vals, found) {
				return false
			}
		}
		return true
	}
}

// lookupValues resolves a dotted path, descending nested maps and fanning out
// through arrays of maps. found reports whether the path resolved at all.
func lookupValues(d document.Document, path string) ([]any, bool) {
	cur := []any{map[string]any(d)}
	for _, seg := range strings.Split(path, ".") {
		var next []any
		for _, v := range cur {
			switch t := v.(type) {
			case map[string]any:
				if child, ok := t[seg]; ok {
					next = append(next, child)
				}
			case document.Document:
				if child, ok := t[seg]; ok {
					next = append(next, child)
				}
			case []any:
				for _, e := range t {
					if m, ok := toMap(e); ok {
						if child, ok := m[seg]; ok {
							next = append(next, child)
						}
					}
				}
			}
		}
		if len(next) == 0 {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// candidates expands an array leaf value into the array itself plus its
// elements, giving equality and comparison the usual array-field semantics.
func candidates(vals []any) []any {
	out := make([]any, 0, len(vals))
	for _, v := range vals {
		out = append(out, v)
		if arr, ok := v.([]any); ok {
			out = append(out, arr...)
		}
	}
	return out
}

func (cl clause) match(vals []any, found bool) bool {
	switch cl.kind {
	case opFieldEq, opEq:
		return anyEqual(vals, cl.value)
	case opNe:
		return !anyEqual(vals, cl.value)
	case opGt:
		return anyOrdered(vals, cl.value, func(c int) bool { return c > 0 })
	case opGte:
		return anyOrdered(vals, cl.value, func(c int) bool { return c >= 0 })
	case opLt:
		return anyOrdered(vals, cl.value, func(c int) bool { return c < 0 })
	case opLte:
		return anyOrdered(vals, cl.value, func(c int) bool { return c <= 0 })
	case opIn:
		for _, want := range cl.list {
			if anyEqual(vals, want) {
				return true
			}
		}
		return false
	case opNin:
		for _, want := range cl.list {
			if anyEqual(vals, want) {
				return false
			}
		}
		return true
	case opAll:
		for _, v := range vals {
			arr, ok := v.([]any)
			if !ok {
				continue
			}
			if containsAll(arr, cl.list) {
				return true
			}
		}
		return false
	case opExists:
		return found == cl.exists
	case opType:
		for _, v := range vals {
			if typeName(v) == cl.typ {
				return true
			}
		}
		return false
	case opRegex:
		for _, v := range candidates(vals) {
			if s, ok := v.(string); ok && cl.re.MatchString(s) {
				return true
			}
		}
		return false
	case opElemMatch:
		for _, v := range vals {
			arr, ok := v.([]any)
			if !ok {
				continue
			}
			for _, e := range arr {
				if cl.elemMatches(e) {
					return true
				}
			}
		}
		return false
	case opNot:
		for _, sub := range cl.sub {
			if !sub.match(vals, found) {
				return true
			}
		}
		return len(cl.sub) == 0
	default:
		return false
	}
}

func (cl clause) elemMatches(e any) bool {
	if cl.subSel != nil {
		m, ok := toMap(e)
		if !ok {
			return false
		}
		return cl.subSel.Match(m)
	}
	elemVals := []any{e}
	for _, sub := range cl.sub {
		if !sub.match(elemVals, true) {
			return false
		}
	}
	return len(cl.sub) > 0
}

func anyEqual(vals []any, want any) bool {
	for _, v := range candidates(vals) {
		if document.Equal(v, want) {
			return true
		}
	}
	return false
}

func anyOrdered(vals []any, want any, ok func(int) bool) bool {
	for _, v := range candidates(vals) {
		if c, comparable := compareScalars(v, want); comparable && ok(c) {
			return true
		}
	}
	return false
}

// compareScalars orders two values of the same scalar class. Values of
// different classes are incomparable and never satisfy a range operator.
func compareScalars(a, b any) (int, bool) {
	if an, ok := document.AsNumber(a); ok {
		bn, bok := document.AsNumber(b)
		if !bok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func containsAll(arr, want []any) bool {
	for _, w := range want {
		ok := false
		for _, e := range arr {
			if document.Equal(e, w) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any, document.Document:
		return "object"
	default:
		if _, ok := document.AsNumber(v); ok {
			return "number"
		}
		return ""
	}
}
