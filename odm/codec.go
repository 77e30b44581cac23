package odm

import (
	"reflect"
	"sort"
	"time"
)

// document serializes an entity's mapped fields into raw store fields.
// The identifier is never part of the payload; createdAt/updatedAt are
// included only when timestamps are managed and withCreated selects whether
// the immutable createdAt travels along.
func (c *core) document(e any, withCreated bool) map[string]any {
	v := reflect.ValueOf(e).Elem()
	out := make(map[string]any, len(c.fields)+2)
	for i := range c.fields {
		f := &c.fields[i]
		out[f.name] = exportValue(v.FieldByIndex(f.index))
	}
	if c.timestamps {
		m := modelOf(e)
		if withCreated && !m.CreatedAt.IsZero() {
			out[createdAtField] = m.CreatedAt
		}
		if !m.UpdatedAt.IsZero() {
			out[updatedAtField] = m.UpdatedAt
		}
	}
	return out
}

// Document returns the entity's serialized field view, as it would be
// persisted (identifier excluded).
func (col *Collection[T]) Document(e *T) map[string]any {
	return col.c.document(e, true)
}

// hydrate builds a fresh entity instance from one raw document.
func (c *core) hydrate(id string, raw map[string]any) (any, error) {
	e := reflect.New(c.typ).Interface()
	if err := c.apply(e, id, raw); err != nil {
		return nil, err
	}
	return e, nil
}

// apply overwrites an entity in place from raw fields: assigns every mapped
// field, converts store-native timestamps to time.Time, and resets the
// dirty-tracking snapshot to the assigned state.
func (c *core) apply(e any, id string, raw map[string]any) error {
	v := reflect.ValueOf(e).Elem()
	for i := range c.fields {
		f := &c.fields[i]
		rv, ok := raw[f.name]
		if !ok {
			continue
		}
		assignValue(v.FieldByIndex(f.index), rv)
	}

	m := modelOf(e)
	m.ID = id
	if c.timestamps {
		if t, ok := toTime(raw[createdAtField]); ok {
			m.CreatedAt = t
		}
		if t, ok := toTime(raw[updatedAtField]); ok {
			m.UpdatedAt = t
		}
	}
	if m.relations == nil {
		m.relations = make(map[string]any)
	}
	if m.loaded == nil {
		m.loaded = make(map[string]struct{})
	}

	m.original = snapshotDoc(c.document(e, true))
	return nil
}

// snapshot resets the entity's last-persisted view to its current state.
func (c *core) snapshot(e any) {
	modelOf(e).original = snapshotDoc(c.document(e, true))
}

// snapshotDoc deep-copies a serialized document so in-place mutations of
// the entity's slices and maps cannot leak into the dirty-tracking
// snapshot.
func snapshotDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if v == nil {
			out[k] = nil
			continue
		}
		out[k] = cloneValue(reflect.ValueOf(v)).Interface()
	}
	return out
}

func cloneValue(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneValue(rv.Index(i)))
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMap(rv.Type())
		for it := rv.MapRange(); it.Next(); {
			out.SetMapIndex(it.Key(), cloneValue(it.Value()))
		}
		return out
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		return cloneValue(rv.Elem())
	default:
		return rv
	}
}

// DirtyFields returns the names of fields whose current value differs from
// the last-persisted snapshot, sorted. An entity with no snapshot (never
// hydrated or persisted) reports every mapped field dirty.
func (col *Collection[T]) DirtyFields(e *T) []string {
	c := col.c
	m := modelOf(e)
	current := c.document(e, true)

	var dirty []string
	for name, cur := range current {
		prev, ok := m.original[name]
		if !ok || !valuesEqual(cur, prev) {
			dirty = append(dirty, name)
		}
	}
	for name := range m.original {
		if _, ok := current[name]; !ok {
			dirty = append(dirty, name)
		}
	}
	sort.Strings(dirty)
	return dirty
}

// IsDirty reports whether any mapped field has changed since the last
// persisted state.
func (col *Collection[T]) IsDirty(e *T) bool {
	return len(col.DirtyFields(e)) > 0
}

// IsFieldDirty reports whether one named document field has changed.
func (col *Collection[T]) IsFieldDirty(e *T, name string) bool {
	for _, f := range col.DirtyFields(e) {
		if f == name {
			return true
		}
	}
	return false
}

// exportValue unwraps a reflect value into its raw representation,
// flattening nil pointers to nil.
func exportValue(v reflect.Value) any {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

// assignValue sets a struct field from a raw document value, tolerating the
// pointer/value and convertible-type mismatches that show up between store
// representations and Go types.
func assignValue(f reflect.Value, raw any) {
	if !f.IsValid() || !f.CanSet() {
		return
	}
	if raw == nil {
		f.Set(reflect.Zero(f.Type()))
		return
	}

	if f.Type() == timeType || (f.Kind() == reflect.Pointer && f.Type().Elem() == timeType) {
		if t, ok := toTime(raw); ok {
			setTime(f, t)
			return
		}
	}

	rv := reflect.ValueOf(raw)
	switch {
	case rv.Type().AssignableTo(f.Type()):
		f.Set(rv)
	case f.Kind() == reflect.Pointer && rv.Type().AssignableTo(f.Type().Elem()):
		p := reflect.New(f.Type().Elem())
		p.Elem().Set(rv)
		f.Set(p)
	case rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Type().Elem().AssignableTo(f.Type()):
		f.Set(rv.Elem())
	case rv.Type().ConvertibleTo(f.Type()) && rv.Kind() != reflect.String && f.Kind() != reflect.String:
		f.Set(rv.Convert(f.Type()))
	case f.Kind() == reflect.Slice && rv.Kind() == reflect.Slice:
		assignSlice(f, rv)
	}
}

// assignSlice converts a []any document value into a typed slice element by
// element.
func assignSlice(f reflect.Value, rv reflect.Value) {
	out := reflect.MakeSlice(f.Type(), rv.Len(), rv.Len())
	for i := 0; i < rv.Len(); i++ {
		assignValue(out.Index(i), rv.Index(i).Interface())
	}
	f.Set(out)
}

var timeType = reflect.TypeOf(time.Time{})

// timeNow is swappable in tests that pin timestamps.
var timeNow = time.Now

func setTime(f reflect.Value, t time.Time) {
	if f.Kind() == reflect.Pointer {
		p := reflect.New(timeType)
		p.Elem().Set(reflect.ValueOf(t))
		f.Set(p)
		return
	}
	f.Set(reflect.ValueOf(t))
}

// toTime converts the timestamp representations stores hand back into a
// time.Time: native time values, epoch milliseconds, or RFC 3339 strings.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case int64:
		return time.UnixMilli(t), true
	case float64:
		return time.UnixMilli(int64(t)), true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// valuesEqual compares two serialized field values. Times compare by
// instant, everything else by deep equality.
func valuesEqual(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}
