// Package odm maps Go structs onto schemaless document collections.
//
// Arbor sits between application entities and a document store: entities
// are plain structs embedding [Model], collections are typed handles over a
// [Store] implementation, and queries, relations and lifecycle hooks run
// through the same handle.
//
// # Entities
//
// An entity embeds [Model] and exposes its persisted state through
// exported fields:
//
//	type Post struct {
//	    odm.Model
//	    Title    string
//	    AuthorID string
//	    Tags     []string
//	}
//
// Field names are derived (lowerCamel) and overridable with `doc:"..."`
// tags; `doc:"-"` excludes a field. Collections are registered once per
// type:
//
//	posts := odm.NewCollection[Post](db)
//
// # Dirty tracking
//
// Hydrated entities remember their persisted state. [Collection.Save]
// writes the full current document; [Collection.DirtyFields] reports which
// fields changed since load.
//
// # Relations
//
// Five relation variants are registered against a collection: [BelongsTo],
// [HasMany], [HasManySubcollection], [ManyToMany] and [BelongsToMany].
// Relations load lazily through [Collection.Relation], or eagerly for a
// whole result set with [Query.Preload], which batches the underlying
// store queries.
//
// # Hooks
//
// Entities opt into lifecycle hooks by implementing the hook interfaces
// ([BeforeSaver], [AfterCreator], ...). Before hooks abort the operation on
// error; after hooks run post-write and failures are logged, never
// propagated.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - an entity looked up by id does not exist
//   - [ErrNoResults] - a required-first query matched nothing
//   - [ErrMissingID] - a persistence call needs an id the entity lacks
//   - [ErrInvalidOffset] - offset used without a limit
//   - [ErrUnknownRelation] - relation name never registered
//   - [ErrStoreNotInitialized] - the handle has no backing store
package odm
