// Package docfilter evaluates query constraints over in-memory documents.
// Stores without server-side query support (the in-memory store, the
// DynamoDB scan path) fetch candidates and apply constraints here.
package docfilter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jacentio/arbor/odm"
)

// Apply filters, orders, positions and limits docs according to the
// constraint list. Predicates apply in order; orderings compose into one
// stable sort; a cursor drops everything at or before its position; when
// several limits appear the last one wins.
func Apply(docs []odm.Document, cs []odm.Constraint) []odm.Document {
	out := append([]odm.Document(nil), docs...)

	var orders []odm.Constraint
	limit := -1
	var cursor []any
	hasCursor := false

	for _, c := range cs {
		switch c.Kind {
		case odm.ConstraintWhere:
			out = filter(out, c)
		case odm.ConstraintOrderBy:
			orders = append(orders, c)
		case odm.ConstraintLimit:
			limit = c.Limit
		case odm.ConstraintStartAfter:
			cursor = c.Cursor
			hasCursor = true
		}
	}

	if len(orders) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range orders {
				cmp := compare(fieldOf(out[i], o.Field), fieldOf(out[j], o.Field))
				if cmp == 0 {
					continue
				}
				if o.Direction == odm.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	if hasCursor && len(orders) > 0 {
		out = afterCursor(out, orders, cursor)
	}

	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func filter(docs []odm.Document, c odm.Constraint) []odm.Document {
	out := docs[:0]
	for _, d := range docs {
		if matches(d, c) {
			out = append(out, d)
		}
	}
	return out
}

func matches(d odm.Document, c odm.Constraint) bool {
	v := fieldOf(d, c.Field)
	switch c.Op {
	case odm.OpEqual:
		return compare(v, c.Value) == 0
	case odm.OpNotEqual:
		return compare(v, c.Value) != 0
	case odm.OpGreater:
		return compare(v, c.Value) > 0
	case odm.OpGreaterOrEqual:
		return compare(v, c.Value) >= 0
	case odm.OpLess:
		return compare(v, c.Value) < 0
	case odm.OpLessOrEqual:
		return compare(v, c.Value) <= 0
	case odm.OpIn:
		for _, want := range valueList(c.Value) {
			if compare(v, want) == 0 {
				return true
			}
		}
		return false
	case odm.OpNotIn:
		for _, want := range valueList(c.Value) {
			if compare(v, want) == 0 {
				return false
			}
		}
		return true
	case odm.OpArrayContains:
		for _, have := range valueList(v) {
			if compare(have, c.Value) == 0 {
				return true
			}
		}
		return false
	case odm.OpArrayContainsAny:
		for _, have := range valueList(v) {
			for _, want := range valueList(c.Value) {
				if compare(have, want) == 0 {
					return true
				}
			}
		}
		return false
	}
	return false
}

// afterCursor keeps only documents strictly after the cursor position in
// the composed ordering.
func afterCursor(docs []odm.Document, orders []odm.Constraint, cursor []any) []odm.Document {
	out := docs[:0]
	for _, d := range docs {
		if cursorCompare(d, orders, cursor) > 0 {
			out = append(out, d)
		}
	}
	return out
}

// cursorCompare positions a document against the cursor tuple: negative
// before, zero at, positive after, honouring each ordering's direction.
func cursorCompare(d odm.Document, orders []odm.Constraint, cursor []any) int {
	for i, o := range orders {
		if i >= len(cursor) {
			break
		}
		cmp := compare(fieldOf(d, o.Field), cursor[i])
		if cmp == 0 {
			continue
		}
		if o.Direction == odm.Desc {
			return -cmp
		}
		return cmp
	}
	return 0
}

func fieldOf(d odm.Document, field string) any {
	if field == odm.DocumentIDField || field == "id" {
		return d.ID
	}
	return d.Fields[field]
}

func valueList(v any) []any {
	switch vs := v.(type) {
	case []any:
		return vs
	case []string:
		out := make([]any, len(vs))
		for i, s := range vs {
			out[i] = s
		}
		return out
	}
	return nil
}

// compare orders two field values: nil first, then booleans, numbers,
// times, strings, everything else by printed form. Mixed kinds order by
// that kind ranking.
func compare(a, b any) int {
	ka, kb := kindOf(a), kindOf(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}
	switch ka {
	case kindNil:
		return 0
	case kindBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case kindNumber:
		fa, fb := asFloat(a), asFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case kindTime:
		ta, tb := asTime(a), asTime(b)
		switch {
		case ta.Before(tb):
			return -1
		case ta.After(tb):
			return 1
		default:
			return 0
		}
	case kindString:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
	}
}

type valueKind int

const (
	kindNil valueKind = iota
	kindBool
	kindNumber
	kindTime
	kindString
	kindOther
)

func kindOf(v any) valueKind {
	switch v.(type) {
	case nil:
		return kindNil
	case bool:
		return kindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return kindNumber
	case time.Time, *time.Time:
		return kindTime
	case string:
		return kindString
	default:
		return kindOther
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		if t != nil {
			return *t
		}
	}
	return time.Time{}
}
