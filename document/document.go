// Package document defines the document model shared by all mirrordb
// subsystems: a schemaless field mapping with a mandatory string id and an
// optional numeric revision marker.
package document

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

const (
	// IDField is the mandatory unique identifier field of every document.
	IDField = "_id"

	// RevField is the optional revision marker field. Revisions are numeric
	// and monotonically comparable; they guard cached writes against
	// out-of-order network replies.
	RevField = "_rev"
)

// Document is a mapping of field name to value. Values are JSON-ish:
// nil, bool, numbers, strings, []any and nested map[string]any, plus
// GeoJSON-like geometry maps.
type Document map[string]any

// ID returns the document id, or "" if the id field is absent or not a string.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// EnsureID returns the document id, assigning a fresh UUID first if the
// document has none.
func (d Document) EnsureID() string {
	if id := d.ID(); id != "" {
		return id
	}
	id := uuid.NewString()
	d[IDField] = id
	return id
}

// Rev returns the numeric revision marker, if present.
func (d Document) Rev() (float64, bool) {
	v, ok := d[RevField]
	if !ok {
		return 0, false
	}
	return AsNumber(v)
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneMap(d)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneValue deep-copies any document value.
func CloneValue(v any) any { return cloneValue(v) }

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Document:
		return Document(cloneMap(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Get resolves a dotted field path against the document, descending nested
// maps. It does not descend into arrays; see the query package for the
// array-aware lookup used by selectors.
func (d Document) Get(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, seg := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set assigns a value at a dotted field path, creating intermediate maps as
// needed. Existing non-map intermediates are overwritten.
func (d Document) Set(path string, value any) {
	segs := strings.Split(path, ".")
	m := map[string]any(d)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := asMap(m[seg])
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[segs[len(segs)-1]] = value
}

// Delete removes the value at a dotted field path. Missing intermediate
// segments are a no-op.
func (d Document) Delete(path string) {
	segs := strings.Split(path, ".")
	m := map[string]any(d)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := asMap(m[seg])
		if !ok {
			return
		}
		m = next
	}
	delete(m, segs[len(segs)-1])
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Document:
		return t, true
	default:
		return nil, false
	}
}

// AsNumber reports v as a float64 if it is any numeric kind.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Equal reports structural equality of two values. Numeric kinds compare by
// value (int 1 equals float64 1); maps and slices compare element-wise.
// This is the equality used for merge purposes throughout mirrordb.
func Equal(a, b any) bool {
	if an, ok := AsNumber(a); ok {
		bn, bok := AsNumber(b)
		return bok && an == bn
	}
	switch at := a.(type) {
	case nil:
		return b == nil
	case string:
		bs, ok := b.(string)
		return ok && at == bs
	case bool:
		bb, ok := b.(bool)
		return ok && at == bb
	case []any:
		bArr, ok := b.([]any)
		if !ok || len(at) != len(bArr) {
			return false
		}
		for i := range at {
			if !Equal(at[i], bArr[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		return equalMap(at, b)
	case Document:
		return equalMap(at, b)
	default:
		return false
	}
}

func equalMap(a map[string]any, b any) bool {
	bm, ok := asMap(b)
	if !ok || len(a) != len(bm) {
		return false
	}
	for k, av := range a {
		bv, ok := bm[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

// Canonical returns a deterministic encoding of a value: JSON with sorted map
// keys. It is used for shard hashing and composite-value ordering, and must
// remain stable across versions.
func Canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// NewerRev reports whether the revision of existing is strictly newer than
// the revision of incoming. An incoming document without a revision marker
// never loses; an existing document without one never wins.
func NewerRev(existing, incoming Document) bool {
	er, ok := existing.Rev()
	if !ok {
		return false
	}
	ir, ok := incoming.Rev()
	if !ok {
		return false
	}
	return er > ir
}
