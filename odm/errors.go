package odm

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreNotInitialized is returned when an operation runs before a
	// document store has been attached to the DB.
	ErrStoreNotInitialized = errors.New("arbor: document store not initialized")

	// ErrNotFound is returned when an identifier does not resolve to a document.
	ErrNotFound = errors.New("arbor: entity not found")

	// ErrNoResults is returned by FirstOrFail when a query matches nothing.
	ErrNoResults = errors.New("arbor: query returned no results")

	// ErrMissingID is returned by Save, Delete and Refresh when the entity has
	// no identifier.
	ErrMissingID = errors.New("arbor: entity has no identifier")

	// ErrInvalidOffset is returned when Offset is used without a Limit.
	// Unbounded offset emulation is disallowed.
	ErrInvalidOffset = errors.New("arbor: offset requires a limit")

	// ErrUnknownRelation is returned when a relation name is not registered
	// on the entity type.
	ErrUnknownRelation = errors.New("arbor: unknown relation")

	// ErrUnsupportedRelationVariant is returned when a relation descriptor
	// carries an unrecognized kind tag.
	ErrUnsupportedRelationVariant = errors.New("arbor: unsupported relation variant")

	// ErrMissingRelationConfig is returned at registration time when a
	// relation descriptor lacks a required key or collection name.
	ErrMissingRelationConfig = errors.New("arbor: incomplete relation configuration")

	// ErrUnsupportedRelationQuery is returned by Relation.Query on pivot
	// relations, which cannot be expressed as a single scoped query.
	ErrUnsupportedRelationQuery = errors.New("arbor: relation cannot be queried directly")

	// ErrDocNotFound is the store-level miss sentinel. Store implementations
	// return it from GetDocument; the mapper translates it into ErrNotFound
	// or a nil result depending on the operation.
	ErrDocNotFound = errors.New("arbor: document not found")
)

// NotFoundError reports a failed lookup with the entity type, identifier and
// collection it was attempted against. It unwraps to ErrNotFound.
type NotFoundError struct {
	Type       string
	ID         string
	Collection string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("arbor: %s %q not found in collection %q", e.Type, e.ID, e.Collection)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NoResultsError reports an empty FirstOrFail result. It unwraps to
// ErrNoResults.
type NoResultsError struct {
	Collection string
}

func (e *NoResultsError) Error() string {
	return fmt.Sprintf("arbor: no results in collection %q", e.Collection)
}

func (e *NoResultsError) Unwrap() error { return ErrNoResults }

// UnknownRelationError reports a relation lookup against a name that was
// never registered on the owning type. It unwraps to ErrUnknownRelation.
type UnknownRelationError struct {
	Type string
	Name string
}

func (e *UnknownRelationError) Error() string {
	return fmt.Sprintf("arbor: relation %q not registered on %s", e.Name, e.Type)
}

func (e *UnknownRelationError) Unwrap() error { return ErrUnknownRelation }
