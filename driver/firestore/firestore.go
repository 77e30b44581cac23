// Package firestore adapts a Cloud Firestore client to the odm.Store
// contract. Collection paths map directly onto Firestore collection paths,
// so nested paths like "posts/{id}/comments" address subcollections
// natively.
package firestore

import (
	"context"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jacentio/arbor/odm"
)

const (
	maxBatchOps = 500
	maxInValues = 10
)

// Store wraps a Firestore client. The caller owns the client's lifecycle.
type Store struct {
	client *fs.Client
}

// New returns a Store over an existing client.
func New(client *fs.Client) *Store {
	return &Store{client: client}
}

func (s *Store) GetDocument(ctx context.Context, path, id string) (map[string]any, error) {
	snap, err := s.client.Collection(path).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, odm.ErrDocNotFound
		}
		return nil, err
	}
	return snap.Data(), nil
}

func (s *Store) AddDocument(ctx context.Context, path string, fields map[string]any) (string, error) {
	ref, _, err := s.client.Collection(path).Add(ctx, fields)
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (s *Store) SetDocument(ctx context.Context, path, id string, fields map[string]any) error {
	_, err := s.client.Collection(path).Doc(id).Set(ctx, fields)
	return err
}

func (s *Store) UpdateDocument(ctx context.Context, path, id string, fields map[string]any) error {
	updates := make([]fs.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, fs.Update{Path: k, Value: v})
	}
	_, err := s.client.Collection(path).Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return odm.ErrDocNotFound
	}
	return err
}

func (s *Store) DeleteDocument(ctx context.Context, path, id string) error {
	_, err := s.client.Collection(path).Doc(id).Delete(ctx)
	return err
}

func (s *Store) RunQuery(ctx context.Context, path string, constraints []odm.Constraint) ([]odm.Document, error) {
	col := s.client.Collection(path)
	q := col.Query
	for _, c := range constraints {
		switch c.Kind {
		case odm.ConstraintWhere:
			q = q.Where(s.fieldPath(c.Field), string(c.Op), s.fieldValue(col, c.Field, c.Value))
		case odm.ConstraintOrderBy:
			q = q.OrderBy(s.fieldPath(c.Field), direction(c.Direction))
		case odm.ConstraintLimit:
			q = q.Limit(c.Limit)
		case odm.ConstraintStartAfter:
			q = q.StartAfter(c.Cursor...)
		}
	}

	var docs []odm.Document
	it := q.Documents(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, odm.Document{ID: snap.Ref.ID, Fields: snap.Data()})
	}
	return docs, nil
}

// fieldPath maps the engine's document-id pseudo field onto Firestore's.
func (s *Store) fieldPath(field string) string {
	if field == odm.DocumentIDField {
		return fs.DocumentID
	}
	return field
}

// fieldValue converts document-id predicate operands into document
// references, which is what the server expects for __name__ comparisons.
func (s *Store) fieldValue(col *fs.CollectionRef, field string, v any) any {
	if field != odm.DocumentIDField {
		return v
	}
	switch vt := v.(type) {
	case string:
		return col.Doc(vt)
	case []any:
		refs := make([]any, len(vt))
		for i, e := range vt {
			if id, ok := e.(string); ok {
				refs[i] = col.Doc(id)
			} else {
				refs[i] = e
			}
		}
		return refs
	case []string:
		refs := make([]any, len(vt))
		for i, id := range vt {
			refs[i] = col.Doc(id)
		}
		return refs
	}
	return v
}

func direction(d odm.Direction) fs.Direction {
	if d == odm.Desc {
		return fs.Desc
	}
	return fs.Asc
}

func (s *Store) MaxBatchOps() int { return maxBatchOps }
func (s *Store) MaxInValues() int { return maxInValues }

type batch struct {
	store *Store
	wb    *fs.WriteBatch
}

func (s *Store) NewBatch() odm.Batch {
	return &batch{store: s, wb: s.client.Batch()}
}

func (b *batch) Update(path, id string, fields map[string]any) {
	ref := b.store.client.Collection(path).Doc(id)
	b.wb.Set(ref, fields, fs.MergeAll)
}

func (b *batch) Delete(path, id string) {
	ref := b.store.client.Collection(path).Doc(id)
	b.wb.Delete(ref)
}

func (b *batch) Commit(ctx context.Context) error {
	_, err := b.wb.Commit(ctx)
	return err
}
