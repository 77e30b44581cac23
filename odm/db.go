package odm

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Options configures a DB handle.
type Options struct {
	// Logger receives after-hook failures and other best-effort diagnostics.
	// Defaults to a nop logger.
	Logger *zap.Logger
}

func (o *Options) validate() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// DB binds a document store to a set of registered collections. It is the
// explicit handle passed (via collections) into every engine operation;
// there is no ambient global state.
type DB struct {
	store  Store
	logger *zap.Logger

	mu    sync.RWMutex
	cores map[reflect.Type]*core
}

// New creates a DB over a ready store handle. A nil store is accepted here
// and rejected with ErrStoreNotInitialized on first use, so bootstrap order
// failures surface as a defined error instead of a panic.
func New(store Store, opts Options) *DB {
	opts.validate()
	return &DB{
		store:  store,
		logger: opts.Logger,
		cores:  make(map[reflect.Type]*core),
	}
}

// ready returns the store or ErrStoreNotInitialized.
func (db *DB) ready() (Store, error) {
	if db == nil || db.store == nil {
		return nil, ErrStoreNotInitialized
	}
	return db.store, nil
}

func (db *DB) register(c *core) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.cores[c.typ] = c
}

// coreFor resolves the registered core for an entity type. Relation
// descriptors reference related types lazily through this lookup so that
// mutually-referencing types can register in any order.
func (db *DB) coreFor(typ reflect.Type) (*core, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, ok := db.cores[typ]
	if !ok {
		return nil, fmt.Errorf("arbor: no collection registered for type %s", typ.Name())
	}
	return c, nil
}
