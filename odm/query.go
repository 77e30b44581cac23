package odm

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/arbor/internal/chunk"
)

// builder is the non-generic constraint accumulator shared by typed queries,
// relation queries and the preload machinery.
type builder struct {
	c           *core
	path        string
	constraints []Constraint
	offset      int
	preloads    []preloadRequest
}

func newBuilder(c *core, path string) *builder {
	return &builder{c: c, path: path}
}

func (b *builder) clone() *builder {
	cp := *b
	cp.constraints = append([]Constraint(nil), b.constraints...)
	cp.preloads = append([]preloadRequest(nil), b.preloads...)
	return &cp
}

func (b *builder) add(cs ...Constraint) *builder {
	b.constraints = append(b.constraints, cs...)
	return b
}

// run executes the accumulated constraints. Offset is emulated: the store
// fetches offset+limit documents and the surplus head is sliced off here.
func (b *builder) run(ctx context.Context) ([]Document, error) {
	store, err := b.c.db.ready()
	if err != nil {
		return nil, err
	}

	if b.offset <= 0 {
		return store.RunQuery(ctx, b.path, b.constraints)
	}

	limit, ok := lastLimit(b.constraints)
	if !ok {
		return nil, ErrInvalidOffset
	}

	effective := withoutLimits(b.constraints)
	effective = append(effective, LimitTo(b.offset+limit))
	docs, err := store.RunQuery(ctx, b.path, effective)
	if err != nil {
		return nil, err
	}
	if b.offset >= len(docs) {
		return nil, nil
	}
	return docs[b.offset:], nil
}

// getEntities runs the query, hydrates every returned document, and applies
// any registered preloads once over the whole batch.
func (b *builder) getEntities(ctx context.Context) ([]any, error) {
	for _, req := range b.preloads {
		if _, ok := b.c.relations[req.name]; !ok {
			return nil, &UnknownRelationError{Type: b.c.typ.Name(), Name: req.name}
		}
	}

	docs, err := b.run(ctx)
	if err != nil {
		return nil, err
	}

	entities := make([]any, 0, len(docs))
	for _, d := range docs {
		e, err := b.c.hydrate(d.ID, d.Fields)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	if len(b.preloads) > 0 && len(entities) > 0 {
		if err := b.c.db.preloadBatch(ctx, b.c, entities, b.preloads); err != nil {
			return nil, err
		}
	}
	return entities, nil
}

func lastLimit(cs []Constraint) (int, bool) {
	n, ok := 0, false
	for _, c := range cs {
		if c.Kind == ConstraintLimit {
			n, ok = c.Limit, true
		}
	}
	return n, ok
}

func withoutLimits(cs []Constraint) []Constraint {
	out := make([]Constraint, 0, len(cs))
	for _, c := range cs {
		if c.Kind != ConstraintLimit {
			out = append(out, c)
		}
	}
	return out
}

// Scope customizes one relation or preload query: a restricted constraint
// accumulator handed to callbacks.
type Scope struct {
	constraints []Constraint
}

// ScopeFunc customizes a relation query, for example to order or cap the
// related results.
type ScopeFunc func(*Scope)

// Where appends a predicate.
func (s *Scope) Where(field string, op Operator, value any) *Scope {
	s.constraints = append(s.constraints, Where(field, op, value))
	return s
}

// OrderBy appends an ordering.
func (s *Scope) OrderBy(field string, dir Direction) *Scope {
	s.constraints = append(s.constraints, OrderBy(field, dir))
	return s
}

// Limit appends a result cap.
func (s *Scope) Limit(n int) *Scope {
	s.constraints = append(s.constraints, LimitTo(n))
	return s
}

func applyScopes(b *builder, scopes []ScopeFunc) {
	for _, fn := range scopes {
		if fn == nil {
			continue
		}
		s := &Scope{}
		fn(s)
		b.add(s.constraints...)
	}
}

// Query accumulates constraints against one collection and executes reads
// and batched writes. All chain methods return the query itself.
type Query[T any] struct {
	col *Collection[T]
	b   *builder
}

// Query starts an empty query over the collection.
func (col *Collection[T]) Query() *Query[T] {
	return &Query[T]{col: col, b: newBuilder(col.c, col.c.name)}
}

// Where appends a predicate constraint.
func (q *Query[T]) Where(field string, op Operator, value any) *Query[T] {
	q.b.add(Where(field, op, value))
	return q
}

func (q *Query[T]) WhereEqual(field string, v any) *Query[T] { return q.Where(field, OpEqual, v) }

func (q *Query[T]) WhereNotEqual(field string, v any) *Query[T] {
	return q.Where(field, OpNotEqual, v)
}

func (q *Query[T]) WhereGreater(field string, v any) *Query[T] { return q.Where(field, OpGreater, v) }

func (q *Query[T]) WhereGreaterOrEqual(field string, v any) *Query[T] {
	return q.Where(field, OpGreaterOrEqual, v)
}

func (q *Query[T]) WhereLess(field string, v any) *Query[T] { return q.Where(field, OpLess, v) }

func (q *Query[T]) WhereLessOrEqual(field string, v any) *Query[T] {
	return q.Where(field, OpLessOrEqual, v)
}

func (q *Query[T]) WhereIn(field string, values []any) *Query[T] {
	return q.Where(field, OpIn, values)
}

func (q *Query[T]) WhereNotIn(field string, values []any) *Query[T] {
	return q.Where(field, OpNotIn, values)
}

func (q *Query[T]) WhereArrayContains(field string, v any) *Query[T] {
	return q.Where(field, OpArrayContains, v)
}

func (q *Query[T]) WhereArrayContainsAny(field string, values []any) *Query[T] {
	return q.Where(field, OpArrayContainsAny, values)
}

// OrderBy appends an ordering constraint.
func (q *Query[T]) OrderBy(field string, dir Direction) *Query[T] {
	q.b.add(OrderBy(field, dir))
	return q
}

// Limit appends a result-count cap.
func (q *Query[T]) Limit(n int) *Query[T] {
	q.b.add(LimitTo(n))
	return q
}

// StartAfter appends a forward-pagination cursor. The values pair with the
// orderings added before it; without an ordering the cursor is meaningless.
func (q *Query[T]) StartAfter(values ...any) *Query[T] {
	q.b.add(StartAfter(values...))
	return q
}

// StartAfterEntity derives cursor values for the query's current orderings
// from an already-fetched entity, the usual way to continue to the next page.
func (q *Query[T]) StartAfterEntity(e *T) *Query[T] {
	var values []any
	for _, c := range q.b.constraints {
		if c.Kind == ConstraintOrderBy {
			values = append(values, q.col.c.fieldValue(e, c.Field))
		}
	}
	return q.StartAfter(values...)
}

// Offset skips n results. Offset is emulated client-side and therefore
// requires a Limit; execution fails with ErrInvalidOffset otherwise. Prefer
// cursor pagination for anything deep.
func (q *Query[T]) Offset(n int) *Query[T] {
	q.b.offset = n
	return q
}

// Preload registers an eager load of a relation for every entity the query
// returns, resolved in a fixed number of batched queries after the primary
// read. Scopes customize the relation queries.
func (q *Query[T]) Preload(relation string, scopes ...ScopeFunc) *Query[T] {
	q.b.preloads = append(q.b.preloads, preloadRequest{name: relation, scopes: scopes})
	return q
}

// Get executes the query, hydrates every matched document and resolves
// registered preloads over the whole batch.
func (q *Query[T]) Get(ctx context.Context) ([]*T, error) {
	entities, err := q.b.getEntities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.(*T))
	}
	return out, nil
}

// First returns the first result under the current constraints plus a
// limit of one, or nil when nothing matches. The receiver's constraint
// list is left untouched.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	fq := &Query[T]{col: q.col, b: q.b.clone()}
	fq.b.add(LimitTo(1))
	results, err := fq.Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// FirstOrFail is First with an empty result reported as a NoResultsError.
func (q *Query[T]) FirstOrFail(ctx context.Context) (*T, error) {
	e, err := q.First(ctx)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &NoResultsError{Collection: q.b.path}
	}
	return e, nil
}

// Count executes the query and returns the matched document count. The
// store exposes no server-side count, so this reads the full result set.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	docs, err := q.b.run(ctx)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Exists reports whether the query matches at least one document.
func (q *Query[T]) Exists(ctx context.Context) (bool, error) {
	e, err := q.First(ctx)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

// WriteResult reports how many documents a batch mutation touched.
type WriteResult struct {
	Count int
}

type writeOptions struct {
	parallel bool
}

// WriteOption configures Update and Delete execution.
type WriteOption func(*writeOptions)

// Parallel applies the mutation through independent concurrent document
// writes instead of sequential atomic batches. No atomicity, no ordering.
func Parallel() WriteOption {
	return func(o *writeOptions) { o.parallel = true }
}

// Update applies a partial update to every document the query matches.
// Identifier and createdAt fields are stripped from the payload; updatedAt
// is stamped when the collection manages timestamps. Matching zero
// documents returns a zero count without touching the store.
//
// The default path partitions the matched documents into atomic batches of
// at most the store's batch limit and commits them sequentially. A commit
// failure on a later batch does not roll back earlier ones; callers must
// treat multi-batch mutations as partially applicable.
func (q *Query[T]) Update(ctx context.Context, fields map[string]any, opts ...WriteOption) (WriteResult, error) {
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if k == "id" || k == createdAtField {
			continue
		}
		payload[k] = v
	}
	if q.col.c.timestamps {
		payload[updatedAtField] = timeNow()
	}
	return q.b.mutate(ctx, payload, opts)
}

// Delete removes every document the query matches, with the same batching
// and partial-failure contract as Update.
func (q *Query[T]) Delete(ctx context.Context, opts ...WriteOption) (WriteResult, error) {
	return q.b.mutate(ctx, nil, opts)
}

// mutate reads the matched set, then applies an update (payload non-nil) or
// delete to every document.
func (b *builder) mutate(ctx context.Context, payload map[string]any, opts []WriteOption) (WriteResult, error) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	store, err := b.c.db.ready()
	if err != nil {
		return WriteResult{}, err
	}

	docs, err := b.run(ctx)
	if err != nil {
		return WriteResult{}, err
	}
	if len(docs) == 0 {
		return WriteResult{}, nil
	}

	if o.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, d := range docs {
			d := d
			g.Go(func() error {
				if payload != nil {
					return store.UpdateDocument(gctx, b.path, d.ID, payload)
				}
				return store.DeleteDocument(gctx, b.path, d.ID)
			})
		}
		if err := g.Wait(); err != nil {
			return WriteResult{}, err
		}
		return WriteResult{Count: len(docs)}, nil
	}

	chunks, err := chunk.Split(docs, store.MaxBatchOps())
	if err != nil {
		return WriteResult{}, err
	}

	committed := 0
	for _, part := range chunks {
		batch := store.NewBatch()
		for _, d := range part {
			if payload != nil {
				batch.Update(b.path, d.ID, payload)
			} else {
				batch.Delete(b.path, d.ID)
			}
		}
		if err := batch.Commit(ctx); err != nil {
			// Earlier batches stay committed; atomicity holds per batch only.
			return WriteResult{Count: committed}, err
		}
		committed += len(part)
	}
	return WriteResult{Count: committed}, nil
}
