package odm

import "time"

// Model is the embeddable base for every mapped entity type:
//
//	type Author struct {
//	    odm.Model
//	    Name string `doc:"name"`
//	}
//
// It carries the document identifier, the managed timestamps, the loaded
// relation values and the dirty-tracking snapshot. The unexported state is
// invisible to JSON encoding and to document serialization by construction.
type Model struct {
	ID        string    `json:"id" doc:"-"`
	CreatedAt time.Time `json:"createdAt,omitempty" doc:"-"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" doc:"-"`

	relations map[string]any
	loaded    map[string]struct{}
	original  map[string]any
	pivot     map[string]any
}

// model returns the embedded base; entities satisfy the entity interface
// through it.
func (m *Model) model() *Model { return m }

type entity interface {
	model() *Model
}

// RelationLoaded reports whether the named relation has been resolved on
// this instance, by lazy load or by preload.
func (m *Model) RelationLoaded(name string) bool {
	_, ok := m.loaded[name]
	return ok
}

// RelationValue returns the raw loaded value for a relation: a single entity
// pointer, a []any of entity pointers, or nil. Prefer the typed One and Many
// accessors.
func (m *Model) RelationValue(name string) any {
	return m.relations[name]
}

// Pivot returns the pivot-row sidecar fields attached to this instance when
// it was loaded through a pivot relation with configured pivot fields.
func (m *Model) Pivot() map[string]any { return m.pivot }

func (m *Model) setRelation(name string, value any) {
	if m.relations == nil {
		m.relations = make(map[string]any)
	}
	if m.loaded == nil {
		m.loaded = make(map[string]struct{})
	}
	m.relations[name] = value
	m.loaded[name] = struct{}{}
}

func (m *Model) setPivot(fields map[string]any) { m.pivot = fields }

// PivotOf returns the pivot sidecar of any loaded entity pointer, or nil
// for values that are not mapped entities.
func PivotOf(e any) map[string]any {
	if ent, ok := e.(entity); ok {
		return ent.model().pivot
	}
	return nil
}

// One reads a loaded to-one relation value. It returns nil when the relation
// is unloaded or resolved to nothing. Entity types use it to define their
// relation accessors once, at type definition:
//
//	func (p *Post) Author() *Author { return odm.One[Author](&p.Model, "author") }
func One[R any](m *Model, name string) *R {
	v, ok := m.relations[name]
	if !ok || v == nil {
		return nil
	}
	r, _ := v.(*R)
	return r
}

// Many reads a loaded to-many relation value, returning nil when unloaded
// and an empty slice when the relation resolved to nothing.
func Many[R any](m *Model, name string) []*R {
	v, ok := m.relations[name]
	if !ok {
		return nil
	}
	raw, _ := v.([]any)
	out := make([]*R, 0, len(raw))
	for _, e := range raw {
		if r, ok := e.(*R); ok {
			out = append(out, r)
		}
	}
	return out
}
