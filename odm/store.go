package odm

import "context"

// Operator is a predicate operator understood by the underlying store.
// Combinability rules (for example "at most one inequality field") are
// enforced by the store, not by this layer.
type Operator string

const (
	OpEqual            Operator = "=="
	OpNotEqual         Operator = "!="
	OpGreater          Operator = ">"
	OpGreaterOrEqual   Operator = ">="
	OpLess             Operator = "<"
	OpLessOrEqual      Operator = "<="
	OpIn               Operator = "in"
	OpNotIn            Operator = "not-in"
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
)

// Direction orders query results.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// DocumentIDField is the pseudo field name that addresses the document
// identifier in predicates and orderings. Stores translate it to their
// native representation.
const DocumentIDField = "__name__"

// ConstraintKind discriminates the directive carried by a Constraint.
type ConstraintKind int

const (
	ConstraintWhere ConstraintKind = iota + 1
	ConstraintOrderBy
	ConstraintLimit
	ConstraintStartAfter
)

// Constraint is a single immutable query directive. Constraints are applied
// in the order they were appended to a query.
type Constraint struct {
	Kind      ConstraintKind
	Field     string
	Op        Operator
	Value     any
	Direction Direction
	Limit     int
	Cursor    []any
}

// Where builds a predicate constraint.
func Where(field string, op Operator, value any) Constraint {
	return Constraint{Kind: ConstraintWhere, Field: field, Op: op, Value: value}
}

// OrderBy builds an ordering constraint.
func OrderBy(field string, dir Direction) Constraint {
	return Constraint{Kind: ConstraintOrderBy, Field: field, Direction: dir}
}

// LimitTo builds a result-count cap constraint.
func LimitTo(n int) Constraint {
	return Constraint{Kind: ConstraintLimit, Limit: n}
}

// StartAfter builds a cursor constraint for forward pagination. The values
// pair positionally with the orderings appended before it.
func StartAfter(values ...any) Constraint {
	return Constraint{Kind: ConstraintStartAfter, Cursor: values}
}

// Document is one raw record returned by a store query.
type Document struct {
	ID     string
	Fields map[string]any
}

// Batch accumulates write operations that commit atomically, subject to the
// store's MaxBatchOps limit.
type Batch interface {
	// Update merges fields into the document at path/id.
	Update(path, id string, fields map[string]any)

	// Delete removes the document at path/id.
	Delete(path, id string)

	// Commit applies every accumulated operation, all together or not at all.
	Commit(ctx context.Context) error
}

// Store is the document-store contract the engine runs against. Timestamp
// values surfaced in raw fields must be normalized to time.Time or to a
// representation handled by the hydration layer (epoch milliseconds or
// RFC 3339 strings).
type Store interface {
	// GetDocument fetches one document's fields, or ErrDocNotFound.
	GetDocument(ctx context.Context, path, id string) (map[string]any, error)

	// AddDocument creates a document with a store-assigned identifier.
	AddDocument(ctx context.Context, path string, fields map[string]any) (string, error)

	// SetDocument creates or replaces a document under an explicit identifier.
	SetDocument(ctx context.Context, path, id string, fields map[string]any) error

	// UpdateDocument merges fields into an existing document.
	UpdateDocument(ctx context.Context, path, id string, fields map[string]any) error

	// DeleteDocument removes a document. Deleting an absent document is not
	// an error.
	DeleteDocument(ctx context.Context, path, id string) error

	// RunQuery executes the constraints against a collection path and
	// returns matching documents in store order.
	RunQuery(ctx context.Context, path string, constraints []Constraint) ([]Document, error)

	// NewBatch opens an atomic write batch.
	NewBatch() Batch

	// MaxBatchOps is the maximum operation count per atomic batch.
	MaxBatchOps() int

	// MaxInValues is the maximum operand count for an "in" predicate.
	MaxInValues() int
}
