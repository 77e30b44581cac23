package odm

import (
	"context"

	"go.uber.org/zap"
)

// Lifecycle hooks are optional interfaces on entity types, detected by type
// assertion. An entity implements only the hooks it needs.
//
// Ordering is fixed:
//
//	create: BeforeSave, BeforeCreate, persist, AfterCreate, AfterSave
//	update: BeforeSave, BeforeUpdate, persist, AfterUpdate, AfterSave
//	delete: BeforeDelete, persist, AfterDelete
//
// An error from a before hook aborts the operation before any store
// mutation. An error from an after hook is logged and never propagated:
// the primary mutation has already committed and cannot be undone, so the
// operation's success is independent of after-hook outcome.

// BeforeSaver runs before any create or update persists.
type BeforeSaver interface {
	BeforeSave(ctx context.Context) error
}

// BeforeCreator runs before a create persists.
type BeforeCreator interface {
	BeforeCreate(ctx context.Context) error
}

// BeforeUpdater runs before an update persists, with the dirty field names.
type BeforeUpdater interface {
	BeforeUpdate(ctx context.Context, dirty []string) error
}

// BeforeDeleter runs before a delete; an error leaves the store untouched.
type BeforeDeleter interface {
	BeforeDelete(ctx context.Context) error
}

// AfterCreator runs after a create committed.
type AfterCreator interface {
	AfterCreate(ctx context.Context) error
}

// AfterUpdater runs after an update committed.
type AfterUpdater interface {
	AfterUpdate(ctx context.Context) error
}

// AfterDeleter runs after a delete committed.
type AfterDeleter interface {
	AfterDelete(ctx context.Context) error
}

// AfterSaver runs last after any create or update committed.
type AfterSaver interface {
	AfterSave(ctx context.Context) error
}

func beforeSave(ctx context.Context, e any) error {
	if h, ok := e.(BeforeSaver); ok {
		return h.BeforeSave(ctx)
	}
	return nil
}

func beforeCreate(ctx context.Context, e any) error {
	if h, ok := e.(BeforeCreator); ok {
		return h.BeforeCreate(ctx)
	}
	return nil
}

func beforeUpdate(ctx context.Context, e any, dirty []string) error {
	if h, ok := e.(BeforeUpdater); ok {
		return h.BeforeUpdate(ctx, dirty)
	}
	return nil
}

func beforeDelete(ctx context.Context, e any) error {
	if h, ok := e.(BeforeDeleter); ok {
		return h.BeforeDelete(ctx)
	}
	return nil
}

// runAfter invokes one after hook best-effort, routing any failure to the
// DB logger.
func (db *DB) runAfter(ctx context.Context, collection, hook string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		db.logger.Warn("after hook failed",
			zap.String("collection", collection),
			zap.String("hook", hook),
			zap.Error(err),
		)
	}
}

func (db *DB) afterCreate(ctx context.Context, collection string, e any) {
	if h, ok := e.(AfterCreator); ok {
		db.runAfter(ctx, collection, "afterCreate", h.AfterCreate)
	}
	if h, ok := e.(AfterSaver); ok {
		db.runAfter(ctx, collection, "afterSave", h.AfterSave)
	}
}

func (db *DB) afterUpdate(ctx context.Context, collection string, e any) {
	if h, ok := e.(AfterUpdater); ok {
		db.runAfter(ctx, collection, "afterUpdate", h.AfterUpdate)
	}
	if h, ok := e.(AfterSaver); ok {
		db.runAfter(ctx, collection, "afterSave", h.AfterSave)
	}
}

func (db *DB) afterDelete(ctx context.Context, collection string, e any) {
	if h, ok := e.(AfterDeleter); ok {
		db.runAfter(ctx, collection, "afterDelete", h.AfterDelete)
	}
}
