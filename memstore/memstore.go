// Package memstore is an in-memory Store used in tests and examples. It
// keeps documents per collection path in insertion order and evaluates
// query constraints client-side.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/arbor/internal/docfilter"
	"github.com/jacentio/arbor/odm"
)

// Config tunes the store's capacity limits.
type Config struct {
	// MaxBatchOps caps operations per atomic batch. Default 500.
	MaxBatchOps int

	// MaxInValues caps operands per "in" predicate. Default 10.
	MaxInValues int
}

// DefaultConfig returns limits matching a typical document store.
func DefaultConfig() Config {
	return Config{MaxBatchOps: 500, MaxInValues: 10}
}

func (c *Config) validate() {
	if c.MaxBatchOps <= 0 {
		c.MaxBatchOps = 500
	}
	if c.MaxInValues <= 0 {
		c.MaxInValues = 10
	}
}

type collection struct {
	order []string
	docs  map[string]map[string]any
}

// Store holds collections of documents in memory. Safe for concurrent use.
type Store struct {
	cfg Config

	mu          sync.RWMutex
	collections map[string]*collection

	queries  int
	batches  int
	batchOps int
}

// New returns an empty store with the given limits.
func New(cfg Config) *Store {
	cfg.validate()
	return &Store{cfg: cfg, collections: make(map[string]*collection)}
}

func (s *Store) collectionFor(path string) *collection {
	col, ok := s.collections[path]
	if !ok {
		col = &collection{docs: make(map[string]map[string]any)}
		s.collections[path] = col
	}
	return col
}

func (s *Store) GetDocument(_ context.Context, path, id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[path]
	if !ok {
		return nil, odm.ErrDocNotFound
	}
	fields, ok := col.docs[id]
	if !ok {
		return nil, odm.ErrDocNotFound
	}
	return copyFields(fields), nil
}

func (s *Store) AddDocument(_ context.Context, path string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.put(path, id, fields)
	return id, nil
}

func (s *Store) SetDocument(_ context.Context, path, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(path, id, fields)
	return nil
}

func (s *Store) UpdateDocument(_ context.Context, path, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.merge(path, id, fields)
}

func (s *Store) DeleteDocument(_ context.Context, path, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(path, id)
	return nil
}

func (s *Store) RunQuery(_ context.Context, path string, constraints []odm.Constraint) ([]odm.Document, error) {
	s.mu.Lock()
	s.queries++
	var docs []odm.Document
	if col, ok := s.collections[path]; ok {
		docs = make([]odm.Document, 0, len(col.order))
		for _, id := range col.order {
			docs = append(docs, odm.Document{ID: id, Fields: copyFields(col.docs[id])})
		}
	}
	s.mu.Unlock()

	return docfilter.Apply(docs, constraints), nil
}

func (s *Store) MaxBatchOps() int { return s.cfg.MaxBatchOps }
func (s *Store) MaxInValues() int { return s.cfg.MaxInValues }

// put inserts or replaces under the lock.
func (s *Store) put(path, id string, fields map[string]any) {
	col := s.collectionFor(path)
	if _, exists := col.docs[id]; !exists {
		col.order = append(col.order, id)
	}
	col.docs[id] = copyFields(fields)
}

// merge updates an existing document under the lock.
func (s *Store) merge(path, id string, fields map[string]any) error {
	col, ok := s.collections[path]
	if !ok {
		return odm.ErrDocNotFound
	}
	doc, ok := col.docs[id]
	if !ok {
		return odm.ErrDocNotFound
	}
	for k, v := range copyFields(fields) {
		doc[k] = v
	}
	return nil
}

// remove deletes under the lock. Absent documents are ignored.
func (s *Store) remove(path, id string) {
	col, ok := s.collections[path]
	if !ok {
		return
	}
	if _, exists := col.docs[id]; !exists {
		return
	}
	delete(col.docs, id)
	for i, existing := range col.order {
		if existing == id {
			col.order = append(col.order[:i], col.order[i+1:]...)
			break
		}
	}
}

// QueriesRun reports how many RunQuery calls the store served. Tests use
// it to assert that preloading batches its reads.
func (s *Store) QueriesRun() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries
}

// BatchesOpened reports how many batches have been committed.
func (s *Store) BatchesOpened() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}

// BatchOpsCommitted reports the total operations applied through batches.
func (s *Store) BatchOpsCommitted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batchOps
}

// Len reports the document count under a collection path.
func (s *Store) Len(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if col, ok := s.collections[path]; ok {
		return len(col.order)
	}
	return 0
}

type batchOp struct {
	path   string
	id     string
	fields map[string]any
	delete bool
}

type batch struct {
	store *Store
	ops   []batchOp
}

func (s *Store) NewBatch() odm.Batch {
	return &batch{store: s}
}

func (b *batch) Update(path, id string, fields map[string]any) {
	b.ops = append(b.ops, batchOp{path: path, id: id, fields: fields})
}

func (b *batch) Delete(path, id string) {
	b.ops = append(b.ops, batchOp{path: path, id: id, delete: true})
}

// Commit applies every operation under one lock acquisition. Updates to
// absent documents fail the whole batch before anything is applied.
func (b *batch) Commit(_ context.Context) error {
	s := b.store

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(b.ops) > s.cfg.MaxBatchOps {
		return fmt.Errorf("memstore: batch of %d operations exceeds limit %d", len(b.ops), s.cfg.MaxBatchOps)
	}

	for _, op := range b.ops {
		if op.delete {
			continue
		}
		col, ok := s.collections[op.path]
		if !ok {
			return odm.ErrDocNotFound
		}
		if _, ok := col.docs[op.id]; !ok {
			return odm.ErrDocNotFound
		}
	}

	for _, op := range b.ops {
		if op.delete {
			s.remove(op.path, op.id)
			continue
		}
		if err := s.merge(op.path, op.id, op.fields); err != nil {
			return err
		}
	}

	s.batches++
	s.batchOps += len(b.ops)
	return nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch vt := v.(type) {
	case map[string]any:
		return copyFields(vt)
	case []any:
		out := make([]any, len(vt))
		for i, e := range vt {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), vt...)
	default:
		return v
	}
}
