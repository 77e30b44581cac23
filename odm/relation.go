package odm

import (
	"context"
	"fmt"
	"reflect"

	"golang.org/x/sync/errgroup"
)

// RelationKind tags a relation descriptor with its resolution strategy. The
// tag is fixed at registration time; loaders dispatch on it instead of
// inspecting runtime types.
type RelationKind int

const (
	// BelongsToRelation resolves to one related entity through a foreign-key
	// field on the owner.
	BelongsToRelation RelationKind = iota + 1

	// HasManyRelation resolves to the related documents whose foreign-key
	// field holds the owner's key.
	HasManyRelation

	// SubcollectionRelation resolves to the documents nested under the
	// owner's own document path.
	SubcollectionRelation

	// ManyToManyRelation resolves through rows in a pivot collection.
	ManyToManyRelation

	// BelongsToManyRelation resolves through an array of related
	// identifiers stored on the owner.
	BelongsToManyRelation
)

// RelationDescriptor describes how one named relation on an entity type is
// resolved. Descriptors are immutable after registration and belong to
// exactly one owning type.
type RelationDescriptor struct {
	Kind RelationKind
	Name string

	// ForeignKey is the owner-side key field for BelongsTo and
	// BelongsToMany, and the related-side key field for HasMany.
	ForeignKey string

	// LocalKey is the owner-side field matched by related documents.
	// Empty means the document identifier.
	LocalKey string

	// OwnerKey is the related-side field foreign keys point at. Empty means
	// the document identifier.
	OwnerKey string

	// Subcollection names the nested collection for SubcollectionRelation.
	Subcollection string

	// Pivot configuration for ManyToManyRelation.
	PivotCollection string
	PivotLocalKey   string
	PivotForeignKey string
	PivotFields     []string

	relatedType reflect.Type
}

// RelationOption customizes a relation registration.
type RelationOption func(*RelationDescriptor)

// WithLocalKey overrides the owner-side key field (default: document id).
func WithLocalKey(field string) RelationOption {
	return func(d *RelationDescriptor) { d.LocalKey = field }
}

// WithOwnerKey overrides the related-side key field (default: document id).
func WithOwnerKey(field string) RelationOption {
	return func(d *RelationDescriptor) { d.OwnerKey = field }
}

// WithPivotFields selects extra pivot-row fields to surface as a sidecar on
// loaded related entities.
func WithPivotFields(fields ...string) RelationOption {
	return func(d *RelationDescriptor) { d.PivotFields = append(d.PivotFields, fields...) }
}

// BelongsTo registers a to-one relation resolved through a foreign-key
// field on the owning type.
func BelongsTo[T, R any](col *Collection[T], name, foreignKey string, opts ...RelationOption) error {
	if foreignKey == "" {
		return fmt.Errorf("%w: belongs-to %q needs a foreign key", ErrMissingRelationConfig, name)
	}
	return registerRelation[T, R](col, &RelationDescriptor{
		Kind:       BelongsToRelation,
		Name:       name,
		ForeignKey: foreignKey,
	}, opts)
}

// HasMany registers a to-many relation resolved by filtering the related
// collection on its foreign-key field.
func HasMany[T, R any](col *Collection[T], name, foreignKey string, opts ...RelationOption) error {
	if foreignKey == "" {
		return fmt.Errorf("%w: has-many %q needs a foreign key", ErrMissingRelationConfig, name)
	}
	return registerRelation[T, R](col, &RelationDescriptor{
		Kind:       HasManyRelation,
		Name:       name,
		ForeignKey: foreignKey,
	}, opts)
}

// HasManySubcollection registers a to-many relation stored as a collection
// nested under each owner document. Cross-owner queries over a
// subcollection are not possible; loads run per owner.
func HasManySubcollection[T, R any](col *Collection[T], name, subcollection string, opts ...RelationOption) error {
	if subcollection == "" {
		return fmt.Errorf("%w: subcollection relation %q needs a collection name", ErrMissingRelationConfig, name)
	}
	return registerRelation[T, R](col, &RelationDescriptor{
		Kind:          SubcollectionRelation,
		Name:          name,
		Subcollection: subcollection,
	}, opts)
}

// ManyToMany registers a to-many relation mediated by rows in a pivot
// collection holding the two foreign keys.
func ManyToMany[T, R any](col *Collection[T], name, pivotCollection, pivotLocalKey, pivotForeignKey string, opts ...RelationOption) error {
	if pivotCollection == "" || pivotLocalKey == "" || pivotForeignKey == "" {
		return fmt.Errorf("%w: many-to-many %q needs a pivot collection and both pivot keys", ErrMissingRelationConfig, name)
	}
	return registerRelation[T, R](col, &RelationDescriptor{
		Kind:            ManyToManyRelation,
		Name:            name,
		PivotCollection: pivotCollection,
		PivotLocalKey:   pivotLocalKey,
		PivotForeignKey: pivotForeignKey,
	}, opts)
}

// BelongsToMany registers a to-many relation stored as an array of related
// identifiers directly on the owning document.
func BelongsToMany[T, R any](col *Collection[T], name, idsField string, opts ...RelationOption) error {
	if idsField == "" {
		return fmt.Errorf("%w: belongs-to-many %q needs an ids field", ErrMissingRelationConfig, name)
	}
	return registerRelation[T, R](col, &RelationDescriptor{
		Kind:       BelongsToManyRelation,
		Name:       name,
		ForeignKey: idsField,
	}, opts)
}

func registerRelation[T, R any](col *Collection[T], d *RelationDescriptor, opts []RelationOption) error {
	for _, opt := range opts {
		opt(d)
	}
	d.relatedType = reflect.TypeOf((*R)(nil)).Elem()
	if _, exists := col.c.relations[d.Name]; exists {
		return fmt.Errorf("arbor: relation %q already registered on %s", d.Name, col.c.typ.Name())
	}
	col.c.relations[d.Name] = d
	return nil
}

// noMatchID is an identifier no real document can have. Relation queries
// over an empty foreign key filter on it to guarantee an empty result.
const noMatchID = "\x00arbor:none"

// Relation is a single named relation bound to one owning entity instance.
type Relation struct {
	owner     any
	ownerCore *core
	desc      *RelationDescriptor
}

// Relation resolves a named relation handle on an entity instance.
func (col *Collection[T]) Relation(e *T, name string) (*Relation, error) {
	desc, ok := col.c.relations[name]
	if !ok {
		return nil, &UnknownRelationError{Type: col.c.typ.Name(), Name: name}
	}
	return &Relation{owner: e, ownerCore: col.c, desc: desc}, nil
}

func (r *Relation) related() (*core, error) {
	return r.ownerCore.db.coreFor(r.desc.relatedType)
}

// localValue reads the owner-side key value for this relation.
func (r *Relation) localValue() any {
	key := r.desc.LocalKey
	if key == "" {
		key = "id"
	}
	return r.ownerCore.fieldValue(r.owner, key)
}

// Load resolves the relation value, stores it on the owning instance and
// marks the relation loaded.
func (r *Relation) Load(ctx context.Context) error {
	_, err := r.Get(ctx)
	return err
}

// Get resolves and returns the relation value: an entity pointer (or nil)
// for to-one relations, a []any of entity pointers for to-many relations.
// The value is also stored on the owning instance.
func (r *Relation) Get(ctx context.Context) (any, error) {
	switch r.desc.Kind {
	case BelongsToRelation:
		return r.getBelongsTo(ctx)
	case HasManyRelation:
		return r.getHasMany(ctx)
	case SubcollectionRelation:
		return r.getSubcollection(ctx)
	case ManyToManyRelation:
		return r.getManyToMany(ctx)
	case BelongsToManyRelation:
		return r.getBelongsToMany(ctx)
	default:
		return nil, ErrUnsupportedRelationVariant
	}
}

func (r *Relation) getBelongsTo(ctx context.Context) (any, error) {
	m := modelOf(r.owner)
	fk := r.ownerCore.fieldValue(r.owner, r.desc.ForeignKey)
	if isEmptyID(fk) {
		m.setRelation(r.desc.Name, nil)
		return nil, nil
	}

	rc, err := r.related()
	if err != nil {
		return nil, err
	}

	var found any
	if r.desc.OwnerKey == "" {
		found, err = rc.findByID(ctx, asID(fk))
	} else {
		var matches []any
		matches, err = rc.db.queryEntities(ctx, rc, rc.name, []Constraint{
			Where(r.desc.OwnerKey, OpEqual, fk),
			LimitTo(1),
		})
		if len(matches) > 0 {
			found = matches[0]
		}
	}
	if err != nil {
		return nil, err
	}
	m.setRelation(r.desc.Name, found)
	return found, nil
}

func (r *Relation) getHasMany(ctx context.Context) (any, error) {
	rc, err := r.related()
	if err != nil {
		return nil, err
	}
	matches, err := rc.db.queryEntities(ctx, rc, rc.name, []Constraint{
		Where(r.desc.ForeignKey, OpEqual, r.localValue()),
	})
	if err != nil {
		return nil, err
	}
	modelOf(r.owner).setRelation(r.desc.Name, matches)
	return matches, nil
}

func (r *Relation) getSubcollection(ctx context.Context) (any, error) {
	rc, err := r.related()
	if err != nil {
		return nil, err
	}
	path, err := r.subcollectionPath()
	if err != nil {
		return nil, err
	}
	matches, err := rc.db.queryEntities(ctx, rc, path, nil)
	if err != nil {
		return nil, err
	}
	modelOf(r.owner).setRelation(r.desc.Name, matches)
	return matches, nil
}

func (r *Relation) subcollectionPath() (string, error) {
	id := modelOf(r.owner).ID
	if id == "" {
		return "", ErrMissingID
	}
	return fmt.Sprintf("%s/%s/%s", r.ownerCore.name, id, r.desc.Subcollection), nil
}

func (r *Relation) getManyToMany(ctx context.Context) (any, error) {
	rc, err := r.related()
	if err != nil {
		return nil, err
	}
	store, err := r.ownerCore.db.ready()
	if err != nil {
		return nil, err
	}

	pivotRows, err := store.RunQuery(ctx, r.desc.PivotCollection, []Constraint{
		Where(r.desc.PivotLocalKey, OpEqual, r.localValue()),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(pivotRows))
	for _, row := range pivotRows {
		if id := asID(row.Fields[r.desc.PivotForeignKey]); id != "" {
			ids = append(ids, id)
		}
	}

	index, err := rc.db.entitiesByID(ctx, rc, distinct(ids), nil)
	if err != nil {
		return nil, err
	}

	matches := make([]any, 0, len(pivotRows))
	for _, row := range pivotRows {
		e, ok := index[asID(row.Fields[r.desc.PivotForeignKey])]
		if !ok {
			continue
		}
		attachPivotFields(e, row, r.desc.PivotFields)
		matches = append(matches, e)
	}
	modelOf(r.owner).setRelation(r.desc.Name, matches)
	return matches, nil
}

func (r *Relation) getBelongsToMany(ctx context.Context) (any, error) {
	rc, err := r.related()
	if err != nil {
		return nil, err
	}

	ids := idSlice(r.ownerCore.fieldValue(r.owner, r.desc.ForeignKey))
	if len(ids) == 0 {
		matches := []any{}
		modelOf(r.owner).setRelation(r.desc.Name, matches)
		return matches, nil
	}

	var matches []any
	if r.desc.OwnerKey == "" {
		index, err := rc.db.entitiesByID(ctx, rc, ids, nil)
		if err != nil {
			return nil, err
		}
		matches = make([]any, 0, len(ids))
		for _, id := range ids {
			if e, ok := index[id]; ok {
				matches = append(matches, e)
			}
		}
	} else {
		matches, err = rc.db.queryEntities(ctx, rc, rc.name, []Constraint{
			Where(r.desc.OwnerKey, OpIn, anySlice(ids)),
		})
		if err != nil {
			return nil, err
		}
	}
	modelOf(r.owner).setRelation(r.desc.Name, matches)
	return matches, nil
}

// RelatedQuery returns a typed query scoped to the relation, for further
// chaining. Pivot-mediated relations cannot be expressed as one scoped
// query and return ErrUnsupportedRelationQuery.
func RelatedQuery[R any](r *Relation) (*Query[R], error) {
	rc, err := r.related()
	if err != nil {
		return nil, err
	}
	want := reflect.TypeOf((*R)(nil)).Elem()
	if rc.typ != want {
		return nil, fmt.Errorf("arbor: relation %q resolves %s, not %s", r.desc.Name, rc.typ.Name(), want.Name())
	}

	b := newBuilder(rc, rc.name)
	switch r.desc.Kind {
	case BelongsToRelation:
		fk := r.ownerCore.fieldValue(r.owner, r.desc.ForeignKey)
		switch {
		case isEmptyID(fk):
			b.add(Where(DocumentIDField, OpEqual, noMatchID))
		case r.desc.OwnerKey == "":
			b.add(Where(DocumentIDField, OpEqual, asID(fk)))
		default:
			b.add(Where(r.desc.OwnerKey, OpEqual, fk))
		}
	case HasManyRelation:
		b.add(Where(r.desc.ForeignKey, OpEqual, r.localValue()))
	case SubcollectionRelation:
		path, err := r.subcollectionPath()
		if err != nil {
			return nil, err
		}
		b.path = path
	case BelongsToManyRelation:
		ids := idSlice(r.ownerCore.fieldValue(r.owner, r.desc.ForeignKey))
		if len(ids) == 0 {
			b.add(Where(DocumentIDField, OpEqual, noMatchID))
		} else if r.desc.OwnerKey == "" {
			b.add(Where(DocumentIDField, OpIn, anySlice(ids)))
		} else {
			b.add(Where(r.desc.OwnerKey, OpIn, anySlice(ids)))
		}
	case ManyToManyRelation:
		return nil, ErrUnsupportedRelationQuery
	default:
		return nil, ErrUnsupportedRelationVariant
	}
	return &Query[R]{col: &Collection[R]{c: rc}, b: b}, nil
}

// Attach inserts a pivot row linking the owner to relatedID, merged with
// any extra pivot fields and stamped with a creation timestamp.
func (r *Relation) Attach(ctx context.Context, relatedID string, extra map[string]any) error {
	if err := r.requirePivot(); err != nil {
		return err
	}
	store, err := r.ownerCore.db.ready()
	if err != nil {
		return err
	}

	fields := map[string]any{
		r.desc.PivotLocalKey:   r.localValue(),
		r.desc.PivotForeignKey: relatedID,
		createdAtField:         timeNow(),
	}
	for k, v := range extra {
		fields[k] = v
	}
	_, err = store.AddDocument(ctx, r.desc.PivotCollection, fields)
	return err
}

// Detach removes every pivot row linking the owner to relatedID,
// concurrently. Detaching an absent link removes zero rows and is not an
// error, so Detach is idempotent.
func (r *Relation) Detach(ctx context.Context, relatedID string) error {
	if err := r.requirePivot(); err != nil {
		return err
	}
	store, err := r.ownerCore.db.ready()
	if err != nil {
		return err
	}

	rows, err := store.RunQuery(ctx, r.desc.PivotCollection, []Constraint{
		Where(r.desc.PivotLocalKey, OpEqual, r.localValue()),
		Where(r.desc.PivotForeignKey, OpEqual, relatedID),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			return store.DeleteDocument(gctx, r.desc.PivotCollection, row.ID)
		})
	}
	return g.Wait()
}

// Sync reconciles the pivot rows to exactly the desired related ids:
// missing links are attached (with extra fields), surplus links detached,
// both concurrently.
func (r *Relation) Sync(ctx context.Context, relatedIDs []string, extra map[string]any) error {
	if err := r.requirePivot(); err != nil {
		return err
	}

	current, err := r.attachedIDs(ctx)
	if err != nil {
		return err
	}

	desired := make(map[string]struct{}, len(relatedIDs))
	for _, id := range relatedIDs {
		desired[id] = struct{}{}
	}
	attached := make(map[string]struct{}, len(current))
	for _, id := range current {
		attached[id] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for id := range desired {
		if _, ok := attached[id]; ok {
			continue
		}
		id := id
		g.Go(func() error { return r.Attach(gctx, id, extra) })
	}
	for id := range attached {
		if _, ok := desired[id]; ok {
			continue
		}
		id := id
		g.Go(func() error { return r.Detach(gctx, id) })
	}
	return g.Wait()
}

// Toggle attaches relatedID when absent and detaches it when present,
// returning the resulting attached state.
func (r *Relation) Toggle(ctx context.Context, relatedID string, extra map[string]any) (bool, error) {
	if err := r.requirePivot(); err != nil {
		return false, err
	}

	current, err := r.attachedIDs(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range current {
		if id == relatedID {
			return false, r.Detach(ctx, relatedID)
		}
	}
	return true, r.Attach(ctx, relatedID, extra)
}

func (r *Relation) attachedIDs(ctx context.Context) ([]string, error) {
	store, err := r.ownerCore.db.ready()
	if err != nil {
		return nil, err
	}
	rows, err := store.RunQuery(ctx, r.desc.PivotCollection, []Constraint{
		Where(r.desc.PivotLocalKey, OpEqual, r.localValue()),
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id := asID(row.Fields[r.desc.PivotForeignKey]); id != "" {
			ids = append(ids, id)
		}
	}
	return distinct(ids), nil
}

func (r *Relation) requirePivot() error {
	if r.desc.Kind != ManyToManyRelation {
		return fmt.Errorf("%w: %q is not a pivot relation", ErrUnsupportedRelationVariant, r.desc.Name)
	}
	return nil
}

// attachPivotFields copies configured pivot-row fields onto a loaded
// related entity as its sidecar.
func attachPivotFields(e any, row Document, fields []string) {
	if len(fields) == 0 {
		return
	}
	sidecar := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := row.Fields[f]; ok {
			sidecar[f] = v
		}
	}
	modelOf(e).setPivot(sidecar)
}

func isEmptyID(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func asID(v any) string {
	s, _ := v.(string)
	return s
}

// idSlice flattens an array-of-ids field value, dropping null and empty
// entries.
func idSlice(v any) []string {
	var out []string
	switch vs := v.(type) {
	case []string:
		for _, s := range vs {
			if s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, e := range vs {
			if s := asID(e); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func anySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
