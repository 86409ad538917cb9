package query

import (
	"strings"

	"github.com/hupe1980/mirrordb/document"
)

// SortKey is one (field, direction) entry of a sort specification.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Sort is an ordered sequence of sort keys. Keys compare lexicographically in
// input order; ties beyond the last key preserve insertion order.
type Sort []SortKey

// Asc and Desc build single-key sort specs; combine with append for
// multi-key ordering.
func Asc(field string) SortKey  { return SortKey{Field: field} }
func Desc(field string) SortKey { return SortKey{Field: field, Desc: true} }

// Comparator is a compiled total order over documents, returning -1, 0 or 1.
type Comparator func(a, b document.Document) int

// CompileSort compiles a sort specification into a comparator.
func CompileSort(s Sort) Comparator {
	return func(a, b document.Document) int {
		for _, key := range s {
			av, aok := a.Get(key.Field)
			bv, bok := b.Get(key.Field)
			if !aok {
				av = nil
			}
			if !bok {
				bv = nil
			}
			c := CompareValues(av, bv)
			if c != 0 {
				if key.Desc {
					return -c
				}
				return c
			}
		}
		return 0
	}
}

// Value class ranks: missing/null lowest, then numeric, then lexical, then
// boolean, then structural composites.
const (
	rankNull = iota
	rankNumber
	rankString
	rankBool
	rankComposite
)

// CompareValues imposes a total order over the document value domain.
// Composite values (arrays, maps) compare by their canonical encoding.
func CompareValues(a, b any) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNull:
		return 0
	case rankNumber:
		an, _ := document.AsNumber(a)
		bn, _ := document.AsNumber(b)
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	default:
		return strings.Compare(document.Canonical(a), document.Canonical(b))
	}
}

func valueRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case string:
		return rankString
	case bool:
		return rankBool
	case []any, map[string]any, document.Document:
		return rankComposite
	default:
		if _, ok := document.AsNumber(v); ok {
			return rankNumber
		}
		return rankComposite
	}
}
