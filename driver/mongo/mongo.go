// Package mongo adapts a MongoDB database to the odm.Store contract.
//
// Collection paths map to collection names with path separators replaced
// by dots, so the nested path "posts/{id}/comments" becomes a flat
// "posts.{id}.comments" collection. Document identifiers are stored as
// string _id values.
package mongo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jacentio/arbor/internal/docfilter"
	"github.com/jacentio/arbor/odm"
)

const (
	maxBatchOps = 500
	maxInValues = 250
)

// Store wraps a Mongo database handle. The caller owns the client's
// lifecycle.
type Store struct {
	db *mongo.Database
}

// New returns a Store over an existing database handle.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

func (s *Store) collection(path string) *mongo.Collection {
	return s.db.Collection(strings.ReplaceAll(path, "/", "."))
}

func (s *Store) GetDocument(ctx context.Context, path, id string) (map[string]any, error) {
	var raw bson.M
	err := s.collection(path).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, odm.ErrDocNotFound
	}
	if err != nil {
		return nil, err
	}
	delete(raw, "_id")
	return normalizeFields(raw), nil
}

func (s *Store) AddDocument(ctx context.Context, path string, fields map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.SetDocument(ctx, path, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) SetDocument(ctx context.Context, path, id string, fields map[string]any) error {
	doc := bson.M{"_id": id}
	for k, v := range fields {
		doc[k] = v
	}
	_, err := s.collection(path).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) UpdateDocument(ctx context.Context, path, id string, fields map[string]any) error {
	res, err := s.collection(path).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return odm.ErrDocNotFound
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, path, id string) error {
	_, err := s.collection(path).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// RunQuery pushes predicates, orderings and (cursor-free) limits to the
// server. Cursor positioning has no direct server-side form, so when a
// cursor is present the sorted candidates are trimmed and capped here.
func (s *Store) RunQuery(ctx context.Context, path string, constraints []odm.Constraint) ([]odm.Document, error) {
	filter := bson.M{}
	var sort bson.D
	var local []odm.Constraint
	limit := -1
	hasCursor := false

	for _, c := range constraints {
		switch c.Kind {
		case odm.ConstraintWhere:
			mergePredicate(filter, c)
		case odm.ConstraintOrderBy:
			sort = append(sort, bson.E{Key: fieldName(c.Field), Value: sortOrder(c.Direction)})
			local = append(local, c)
		case odm.ConstraintLimit:
			limit = c.Limit
		case odm.ConstraintStartAfter:
			hasCursor = true
			local = append(local, c)
		}
	}

	opts := options.Find()
	if len(sort) > 0 {
		opts.SetSort(sort)
	}
	if limit >= 0 && !hasCursor {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.collection(path).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []odm.Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		id, _ := raw["_id"].(string)
		delete(raw, "_id")
		docs = append(docs, odm.Document{ID: id, Fields: normalizeFields(raw)})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	if hasCursor {
		if limit >= 0 {
			local = append(local, odm.LimitTo(limit))
		}
		docs = docfilter.Apply(docs, local)
	}
	return docs, nil
}

func mergePredicate(filter bson.M, c odm.Constraint) {
	field := fieldName(c.Field)

	var cond any
	switch c.Op {
	case odm.OpEqual:
		cond = c.Value
	case odm.OpNotEqual:
		cond = bson.M{"$ne": c.Value}
	case odm.OpGreater:
		cond = bson.M{"$gt": c.Value}
	case odm.OpGreaterOrEqual:
		cond = bson.M{"$gte": c.Value}
	case odm.OpLess:
		cond = bson.M{"$lt": c.Value}
	case odm.OpLessOrEqual:
		cond = bson.M{"$lte": c.Value}
	case odm.OpIn:
		cond = bson.M{"$in": c.Value}
	case odm.OpNotIn:
		cond = bson.M{"$nin": c.Value}
	case odm.OpArrayContains:
		// equality against an array field matches elements
		cond = c.Value
	case odm.OpArrayContainsAny:
		cond = bson.M{"$in": c.Value}
	default:
		return
	}

	if existing, ok := filter[field]; ok {
		both, isAnd := filter["$and"].([]bson.M)
		if !isAnd {
			both = nil
		}
		both = append(both, bson.M{field: existing}, bson.M{field: cond})
		delete(filter, field)
		filter["$and"] = both
		return
	}
	filter[field] = cond
}

func fieldName(field string) string {
	if field == odm.DocumentIDField || field == "id" {
		return "_id"
	}
	return field
}

func sortOrder(d odm.Direction) int {
	if d == odm.Desc {
		return -1
	}
	return 1
}

// normalizeFields converts BSON decode artifacts into the value shapes the
// hydration layer expects.
func normalizeFields(raw bson.M) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch vt := v.(type) {
	case primitive.DateTime:
		return vt.Time().UTC()
	case primitive.A:
		out := make([]any, len(vt))
		for i, e := range vt {
			out[i] = normalizeValue(e)
		}
		return out
	case bson.M:
		return normalizeFields(vt)
	case time.Time:
		return vt.UTC()
	default:
		return v
	}
}

func (s *Store) MaxBatchOps() int { return maxBatchOps }
func (s *Store) MaxInValues() int { return maxInValues }

type batchOp struct {
	path  string
	model mongo.WriteModel
}

type batch struct {
	store *Store
	ops   []batchOp
}

// NewBatch opens a write batch backed by ordered BulkWrite calls, one per
// distinct collection. Operations within a collection apply atomically
// enough for single-node deployments; a batch spanning collections is not
// a single transaction.
func (s *Store) NewBatch() odm.Batch {
	return &batch{store: s}
}

func (b *batch) Update(path, id string, fields map[string]any) {
	b.ops = append(b.ops, batchOp{
		path: path,
		model: mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(bson.M{"$set": bson.M(fields)}),
	})
}

func (b *batch) Delete(path, id string) {
	b.ops = append(b.ops, batchOp{
		path:  path,
		model: mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}),
	})
}

func (b *batch) Commit(ctx context.Context) error {
	byPath := make(map[string][]mongo.WriteModel)
	var order []string
	for _, op := range b.ops {
		if _, seen := byPath[op.path]; !seen {
			order = append(order, op.path)
		}
		byPath[op.path] = append(byPath[op.path], op.model)
	}

	for _, path := range order {
		if _, err := b.store.collection(path).BulkWrite(ctx, byPath[path]); err != nil {
			return err
		}
	}
	return nil
}
