package odm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/arbor/internal/chunk"
)

// preloadRequest is one relation queued for eager loading, with optional
// scoping callbacks applied to the related query.
type preloadRequest struct {
	name   string
	scopes []ScopeFunc
}

func scopeConstraints(scopes []ScopeFunc) []Constraint {
	s := &Scope{}
	for _, fn := range scopes {
		if fn != nil {
			fn(s)
		}
	}
	return s.constraints
}

// queryEntities runs constraints against a path and hydrates every result
// into the core's entity type.
func (db *DB) queryEntities(ctx context.Context, c *core, path string, cs []Constraint) ([]any, error) {
	store, err := db.ready()
	if err != nil {
		return nil, err
	}
	docs, err := store.RunQuery(ctx, path, cs)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(docs))
	for _, d := range docs {
		e, err := c.hydrate(d.ID, d.Fields)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// findByID fetches and hydrates one document, or (nil, nil) when absent.
func (c *core) findByID(ctx context.Context, id string) (any, error) {
	store, err := c.db.ready()
	if err != nil {
		return nil, err
	}
	raw, err := store.GetDocument(ctx, c.name, id)
	if err != nil {
		if err == ErrDocNotFound {
			return nil, nil
		}
		return nil, err
	}
	return c.hydrate(id, raw)
}

// entitiesByID fetches a set of documents by identifier, chunking the in
// predicate to the store's cap, and indexes the hydrated entities by id.
// Identifiers with no matching document are simply absent from the index.
func (db *DB) entitiesByID(ctx context.Context, c *core, ids []string, scopes []ScopeFunc) (map[string]any, error) {
	index := make(map[string]any, len(ids))
	if len(ids) == 0 {
		return index, nil
	}
	store, err := db.ready()
	if err != nil {
		return nil, err
	}

	extra := scopeConstraints(scopes)
	chunks, err := chunk.Split(ids, store.MaxInValues())
	if err != nil {
		return nil, err
	}
	for _, part := range chunks {
		cs := append([]Constraint{Where(DocumentIDField, OpIn, anySlice(part))}, extra...)
		matches, err := db.queryEntities(ctx, c, c.name, cs)
		if err != nil {
			return nil, err
		}
		for _, e := range matches {
			index[modelOf(e).ID] = e
		}
	}
	return index, nil
}

// preloadBatch eagerly loads the requested relations for a whole result
// set. Each relation costs a bounded number of store queries regardless of
// how many owners the set holds, instead of one query per owner.
func (db *DB) preloadBatch(ctx context.Context, c *core, entities []any, reqs []preloadRequest) error {
	for _, req := range reqs {
		desc, ok := c.relations[req.name]
		if !ok {
			return &UnknownRelationError{Type: c.typ.Name(), Name: req.name}
		}
		rc, err := db.coreFor(desc.relatedType)
		if err != nil {
			return err
		}

		switch desc.Kind {
		case BelongsToRelation:
			err = db.preloadBelongsTo(ctx, c, rc, desc, entities, req.scopes)
		case HasManyRelation:
			err = db.preloadHasMany(ctx, c, rc, desc, entities, req.scopes)
		case SubcollectionRelation:
			err = db.preloadSubcollection(ctx, c, rc, desc, entities, req.scopes)
		case ManyToManyRelation:
			err = db.preloadManyToMany(ctx, c, rc, desc, entities, req.scopes)
		case BelongsToManyRelation:
			err = db.preloadBelongsToMany(ctx, c, rc, desc, entities, req.scopes)
		default:
			err = ErrUnsupportedRelationVariant
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) preloadBelongsTo(ctx context.Context, c, rc *core, desc *RelationDescriptor, entities []any, scopes []ScopeFunc) error {
	var keys []string
	for _, e := range entities {
		if fk := c.fieldValue(e, desc.ForeignKey); !isEmptyID(fk) {
			keys = append(keys, groupKey(fk))
		}
	}
	keys = distinct(keys)

	var index map[string]any
	var err error
	if desc.OwnerKey == "" {
		index, err = db.entitiesByID(ctx, rc, keys, scopes)
	} else {
		index, err = db.entitiesByKey(ctx, rc, desc.OwnerKey, keys, scopes)
	}
	if err != nil {
		return err
	}

	for _, e := range entities {
		m := modelOf(e)
		fk := c.fieldValue(e, desc.ForeignKey)
		if isEmptyID(fk) {
			m.setRelation(desc.Name, nil)
			continue
		}
		related, ok := index[groupKey(fk)]
		if !ok {
			m.setRelation(desc.Name, nil)
			continue
		}
		m.setRelation(desc.Name, related)
	}
	return nil
}

// entitiesByKey is entitiesByID generalized to an arbitrary related-side
// key field.
func (db *DB) entitiesByKey(ctx context.Context, c *core, field string, keys []string, scopes []ScopeFunc) (map[string]any, error) {
	index := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return index, nil
	}
	store, err := db.ready()
	if err != nil {
		return nil, err
	}

	extra := scopeConstraints(scopes)
	chunks, err := chunk.Split(keys, store.MaxInValues())
	if err != nil {
		return nil, err
	}
	for _, part := range chunks {
		cs := append([]Constraint{Where(field, OpIn, anySlice(part))}, extra...)
		matches, err := db.queryEntities(ctx, c, c.name, cs)
		if err != nil {
			return nil, err
		}
		for _, e := range matches {
			index[groupKey(c.fieldValue(e, field))] = e
		}
	}
	return index, nil
}

func (db *DB) preloadHasMany(ctx context.Context, c, rc *core, desc *RelationDescriptor, entities []any, scopes []ScopeFunc) error {
	localKey := desc.LocalKey
	if localKey == "" {
		localKey = "id"
	}

	var keys []string
	for _, e := range entities {
		if lv := c.fieldValue(e, localKey); !isEmptyID(lv) {
			keys = append(keys, groupKey(lv))
		}
	}
	keys = distinct(keys)

	store, err := db.ready()
	if err != nil {
		return err
	}
	extra := scopeConstraints(scopes)

	groups := make(map[string][]any, len(keys))
	if len(keys) > 0 {
		chunks, err := chunk.Split(keys, store.MaxInValues())
		if err != nil {
			return err
		}
		for _, part := range chunks {
			cs := append([]Constraint{Where(desc.ForeignKey, OpIn, anySlice(part))}, extra...)
			matches, err := db.queryEntities(ctx, rc, rc.name, cs)
			if err != nil {
				return err
			}
			for _, related := range matches {
				k := groupKey(rc.fieldValue(related, desc.ForeignKey))
				groups[k] = append(groups[k], related)
			}
		}
	}

	for _, e := range entities {
		m := modelOf(e)
		matches := groups[groupKey(c.fieldValue(e, localKey))]
		if matches == nil {
			matches = []any{}
		}
		m.setRelation(desc.Name, matches)
	}
	return nil
}

// preloadSubcollection runs one query per owner concurrently. Nested
// collections live under each owner's path, so the loads cannot be merged
// into a single in query.
func (db *DB) preloadSubcollection(ctx context.Context, c, rc *core, desc *RelationDescriptor, entities []any, scopes []ScopeFunc) error {
	extra := scopeConstraints(scopes)

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entities {
		e := e
		g.Go(func() error {
			m := modelOf(e)
			if m.ID == "" {
				return ErrMissingID
			}
			path := fmt.Sprintf("%s/%s/%s", c.name, m.ID, desc.Subcollection)
			matches, err := db.queryEntities(gctx, rc, path, extra)
			if err != nil {
				return err
			}
			if matches == nil {
				matches = []any{}
			}
			m.setRelation(desc.Name, matches)
			return nil
		})
	}
	return g.Wait()
}

func (db *DB) preloadManyToMany(ctx context.Context, c, rc *core, desc *RelationDescriptor, entities []any, scopes []ScopeFunc) error {
	localKey := desc.LocalKey
	if localKey == "" {
		localKey = "id"
	}

	var keys []string
	for _, e := range entities {
		if lv := c.fieldValue(e, localKey); !isEmptyID(lv) {
			keys = append(keys, groupKey(lv))
		}
	}
	keys = distinct(keys)

	store, err := db.ready()
	if err != nil {
		return err
	}

	// Pivot rows for every owner in the batch, chunked on the local key.
	var pivotRows []Document
	if len(keys) > 0 {
		chunks, err := chunk.Split(keys, store.MaxInValues())
		if err != nil {
			return err
		}
		for _, part := range chunks {
			rows, err := store.RunQuery(ctx, desc.PivotCollection, []Constraint{
				Where(desc.PivotLocalKey, OpIn, anySlice(part)),
			})
			if err != nil {
				return err
			}
			pivotRows = append(pivotRows, rows...)
		}
	}

	var relatedIDs []string
	for _, row := range pivotRows {
		if id := asID(row.Fields[desc.PivotForeignKey]); id != "" {
			relatedIDs = append(relatedIDs, id)
		}
	}
	index, err := db.entitiesByID(ctx, rc, distinct(relatedIDs), scopes)
	if err != nil {
		return err
	}

	byOwner := make(map[string][]Document, len(keys))
	for _, row := range pivotRows {
		k := groupKey(row.Fields[desc.PivotLocalKey])
		byOwner[k] = append(byOwner[k], row)
	}

	for _, e := range entities {
		m := modelOf(e)
		matches := []any{}
		for _, row := range byOwner[groupKey(c.fieldValue(e, localKey))] {
			related, ok := index[asID(row.Fields[desc.PivotForeignKey])]
			if !ok {
				continue
			}
			attachPivotFields(related, row, desc.PivotFields)
			matches = append(matches, related)
		}
		m.setRelation(desc.Name, matches)
	}
	return nil
}

func (db *DB) preloadBelongsToMany(ctx context.Context, c, rc *core, desc *RelationDescriptor, entities []any, scopes []ScopeFunc) error {
	var union []string
	perOwner := make([][]string, len(entities))
	for i, e := range entities {
		ids := idSlice(c.fieldValue(e, desc.ForeignKey))
		perOwner[i] = ids
		union = append(union, ids...)
	}

	var index map[string]any
	var err error
	if desc.OwnerKey == "" {
		index, err = db.entitiesByID(ctx, rc, distinct(union), scopes)
	} else {
		index, err = db.entitiesByKey(ctx, rc, desc.OwnerKey, distinct(union), scopes)
	}
	if err != nil {
		return err
	}

	for i, e := range entities {
		matches := []any{}
		for _, id := range perOwner[i] {
			if related, ok := index[id]; ok {
				matches = append(matches, related)
			}
		}
		modelOf(e).setRelation(desc.Name, matches)
	}
	return nil
}

// groupKey normalizes a key value for map grouping. Keys are almost always
// strings; other scalars fall back to their printed form.
func groupKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
