package store

import (
	"encoding/json"
	"sort"
)

// Op is a predicate operator supported by FindDocs.
type Op string

const (
	OpEq       Op = "eq"
	OpIn       Op = "in"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains" // array element match
)

// Cond is one field predicate.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Query filters, orders and pages documents in a namespace. Conditions are
// AND-ed. OrderBy names a top-level field; numeric fields sort numerically,
// everything else lexically.
type Query struct {
	Where   []Cond
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// FindDocs scans a namespace and returns the raw documents matching q.
func FindDocs(ns string, q Query) ([][]byte, error) {
	raw, err := ListDocs(ns, "")
	if err != nil {
		return nil, err
	}
	type scored struct {
		raw []byte
		doc map[string]any
	}
	var hits []scored
	for _, b := range raw {
		var doc map[string]any
		if err := json.Unmarshal(b, &doc); err != nil {
			continue
		}
		if q.match(doc) {
			hits = append(hits, scored{raw: b, doc: doc})
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(hits, func(i, j int) bool {
			less := fieldLess(hits[i].doc[q.OrderBy], hits[j].doc[q.OrderBy])
			if q.Desc {
				return !less && !fieldEq(hits[i].doc[q.OrderBy], hits[j].doc[q.OrderBy])
			}
			return less
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(hits) {
			hits = nil
		} else {
			hits = hits[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(hits) {
		hits = hits[:q.Limit]
	}
	out := make([][]byte, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.raw)
	}
	return out, nil
}

func (q Query) match(doc map[string]any) bool {
	for _, c := range q.Where {
		v, ok := doc[c.Field]
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			if !fieldEq(v, c.Value) {
				return false
			}
		case OpIn:
			vals, ok := c.Value.([]any)
			if !ok {
				if ss, sok := c.Value.([]string); sok {
					vals = make([]any, 0, len(ss))
					for _, s := range ss {
						vals = append(vals, s)
					}
				} else {
					return false
				}
			}
			found := false
			for _, cand := range vals {
				if fieldEq(v, cand) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case OpGt:
			if !fieldLess(c.Value, v) {
				return false
			}
		case OpGte:
			if fieldLess(v, c.Value) {
				return false
			}
		case OpLt:
			if !fieldLess(v, c.Value) {
				return false
			}
		case OpLte:
			if fieldLess(c.Value, v) {
				return false
			}
		case OpContains:
			arr, ok := v.([]any)
			if !ok {
				return false
			}
			found := false
			for _, el := range arr {
				if fieldEq(el, c.Value) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// fieldEq compares a decoded JSON value with a caller-supplied one, folding
// all numerics to float64 the way encoding/json does.
func fieldEq(a, b any) bool {
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa == fb
		}
		return false
	}
	return a == b
}

func fieldLess(a, b any) bool {
	if fa, aok := toFloat(a); aok {
		if fb, bok := toFloat(b); bok {
			return fa < fb
		}
		return false
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	return aok && bok && sa < sb
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
