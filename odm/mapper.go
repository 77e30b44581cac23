package odm

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"
)

// Find fetches one entity by identifier. A miss returns (nil, nil); use
// FindOrFail when absence is an error.
func (col *Collection[T]) Find(ctx context.Context, id string) (*T, error) {
	store, err := col.c.db.ready()
	if err != nil {
		return nil, err
	}

	raw, err := store.GetDocument(ctx, col.c.name, id)
	if errors.Is(err, ErrDocNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e, err := col.c.hydrate(id, raw)
	if err != nil {
		return nil, err
	}
	return e.(*T), nil
}

// FindOrFail fetches one entity by identifier, returning a NotFoundError
// when the identifier does not resolve.
func (col *Collection[T]) FindOrFail(ctx context.Context, id string) (*T, error) {
	e, err := col.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &NotFoundError{Type: col.c.typ.Name(), ID: id, Collection: col.c.name}
	}
	return e, nil
}

// Create persists a new entity through the store's document-creation
// primitive and assigns the returned identifier. Hook order is BeforeSave,
// BeforeCreate, persist, AfterCreate, AfterSave; after-hook failures are
// logged, never surfaced, because the write already committed.
func (col *Collection[T]) Create(ctx context.Context, e *T) error {
	return col.create(ctx, e, "")
}

// CreateWithID is Create under an explicit identifier, persisted through the
// store's set primitive.
func (col *Collection[T]) CreateWithID(ctx context.Context, id string, e *T) error {
	if id == "" {
		return ErrMissingID
	}
	return col.create(ctx, e, id)
}

func (col *Collection[T]) create(ctx context.Context, e *T, id string) error {
	c := col.c
	store, err := c.db.ready()
	if err != nil {
		return err
	}

	if err := beforeSave(ctx, e); err != nil {
		return err
	}
	if err := beforeCreate(ctx, e); err != nil {
		return err
	}

	m := modelOf(e)
	if c.timestamps {
		now := timeNow()
		m.CreatedAt = now
		m.UpdatedAt = now
	}

	fields := c.document(e, true)
	if id == "" {
		assigned, err := store.AddDocument(ctx, c.name, fields)
		if err != nil {
			return err
		}
		m.ID = assigned
	} else {
		if err := store.SetDocument(ctx, c.name, id, fields); err != nil {
			return err
		}
		m.ID = id
	}

	c.snapshot(e)
	c.db.afterCreate(ctx, c.name, e)
	return nil
}

// CreateMany persists entities concurrently. There is no atomicity across
// elements: some creates may succeed while others fail, and the combined
// error reports every failure.
func (col *Collection[T]) CreateMany(ctx context.Context, entities []*T) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, e := range entities {
		wg.Add(1)
		go func(e *T) {
			defer wg.Done()
			if err := col.Create(ctx, e); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()
	return errs
}

// Save persists the current state of an existing instance. A newly
// constructed instance (no persisted snapshot) runs the create hook pair;
// otherwise the update pair with the dirty field names. createdAt is
// immutable after creation and never travels in the update payload.
func (col *Collection[T]) Save(ctx context.Context, e *T) error {
	c := col.c
	store, err := c.db.ready()
	if err != nil {
		return err
	}

	m := modelOf(e)
	if m.ID == "" {
		return ErrMissingID
	}
	isNew := len(m.original) == 0

	if err := beforeSave(ctx, e); err != nil {
		return err
	}
	if isNew {
		if err := beforeCreate(ctx, e); err != nil {
			return err
		}
	} else {
		if err := beforeUpdate(ctx, e, col.DirtyFields(e)); err != nil {
			return err
		}
	}

	if c.timestamps {
		m.UpdatedAt = timeNow()
	}
	payload := c.document(e, false)
	if err := store.UpdateDocument(ctx, c.name, m.ID, payload); err != nil {
		return err
	}

	c.snapshot(e)
	if isNew {
		c.db.afterCreate(ctx, c.name, e)
	} else {
		c.db.afterUpdate(ctx, c.name, e)
	}
	return nil
}

// Delete removes the entity's document. A BeforeDelete error aborts the
// operation with the store untouched; AfterDelete failures are logged only.
func (col *Collection[T]) Delete(ctx context.Context, e *T) error {
	c := col.c
	store, err := c.db.ready()
	if err != nil {
		return err
	}

	m := modelOf(e)
	if m.ID == "" {
		return ErrMissingID
	}

	if err := beforeDelete(ctx, e); err != nil {
		return err
	}
	if err := store.DeleteDocument(ctx, c.name, m.ID); err != nil {
		return err
	}
	c.db.afterDelete(ctx, c.name, e)
	return nil
}

// Refresh re-fetches the entity by identifier and overwrites every mapped
// field in place, resetting dirty state. A vanished document is a
// NotFoundError.
func (col *Collection[T]) Refresh(ctx context.Context, e *T) error {
	c := col.c
	store, err := c.db.ready()
	if err != nil {
		return err
	}

	m := modelOf(e)
	if m.ID == "" {
		return ErrMissingID
	}

	raw, err := store.GetDocument(ctx, c.name, m.ID)
	if errors.Is(err, ErrDocNotFound) {
		return &NotFoundError{Type: c.typ.Name(), ID: m.ID, Collection: c.name}
	}
	if err != nil {
		return err
	}
	return c.apply(e, m.ID, raw)
}

// Hydrate builds an entity instance from a raw document, as returned by the
// store. Exposed for store implementations and tests; normal reads go
// through Find and queries.
func (col *Collection[T]) Hydrate(id string, raw map[string]any) (*T, error) {
	e, err := col.c.hydrate(id, raw)
	if err != nil {
		return nil, err
	}
	return e.(*T), nil
}
