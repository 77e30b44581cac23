package odm

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
)

const (
	tagKey         = "doc"
	createdAtField = "createdAt"
	updatedAtField = "updatedAt"
)

// field maps one exported struct field onto a document field.
type field struct {
	index []int
	name  string
}

// core is the non-generic collection handle the engine operates on. The
// generic Collection facade and relation descriptors share it.
type core struct {
	db         *DB
	name       string
	typ        reflect.Type
	timestamps bool
	fields     []field
	byName     map[string]*field
	relations  map[string]*RelationDescriptor
}

// Collection is the typed entry point for one entity type: entity mapping,
// query building and relation resolution all start here.
type Collection[T any] struct {
	c *core
}

// CollectionOption customizes collection registration.
type CollectionOption func(*core)

// WithName sets an explicit collection name instead of the derived one.
func WithName(name string) CollectionOption {
	return func(c *core) { c.name = name }
}

// WithoutTimestamps disables automatic createdAt/updatedAt management.
func WithoutTimestamps() CollectionOption {
	return func(c *core) { c.timestamps = false }
}

// NewCollection registers an entity type on db and returns its collection
// handle. The collection name defaults to the pluralized, lowercased type
// name. T must embed odm.Model; registration of a non-entity type is a
// programming error and panics.
func NewCollection[T any](db *DB, opts ...CollectionOption) *Collection[T] {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		panic(fmt.Sprintf("arbor: collection type %s is not a struct", typ))
	}
	if _, ok := any(new(T)).(entity); !ok {
		panic(fmt.Sprintf("arbor: type %s does not embed odm.Model", typ.Name()))
	}

	c := &core{
		db:         db,
		name:       deriveCollectionName(typ.Name()),
		typ:        typ,
		timestamps: true,
		byName:     make(map[string]*field),
		relations:  make(map[string]*RelationDescriptor),
	}
	for _, opt := range opts {
		opt(c)
	}

	buildFieldTable(c, typ, nil)
	for i := range c.fields {
		c.byName[c.fields[i].name] = &c.fields[i]
	}
	db.register(c)
	return &Collection[T]{c: c}
}

// Name returns the collection name the type maps onto.
func (col *Collection[T]) Name() string { return col.c.name }

// deriveCollectionName pluralizes and lowercases a type name:
// "Author" -> "authors", "OrderLine" -> "orderlines".
func deriveCollectionName(typeName string) string {
	return strings.ToLower(inflection.Plural(typeName))
}

// buildFieldTable walks the exported fields of typ, mapping each onto its
// document field name. Embedded structs are flattened; the Model embed and
// `doc:"-"` fields are skipped. The default document field name is the
// lowerCamel form of the Go field name.
func buildFieldTable(c *core, typ reflect.Type, prefix []int) {
	for i := 0; i < typ.NumField(); i++ {
		sf := typ.Field(i)
		if sf.PkgPath != "" {
			continue
		}
		index := append(append([]int(nil), prefix...), i)

		if sf.Anonymous {
			ft := sf.Type
			if ft == reflect.TypeOf(Model{}) {
				continue
			}
			if ft.Kind() == reflect.Struct {
				buildFieldTable(c, ft, index)
				continue
			}
		}

		tag := sf.Tag.Get(tagKey)
		if tag == "-" {
			continue
		}
		name := tag
		if name == "" {
			name = strcase.ToLowerCamel(sf.Name)
		}

		c.fields = append(c.fields, field{index: index, name: name})
	}
}

// modelOf extracts the embedded Model from an entity pointer.
func modelOf(e any) *Model {
	return e.(entity).model()
}

// fieldValue reads one serialized field off an entity by document field
// name. The pseudo name "id" resolves to the document identifier.
func (c *core) fieldValue(e any, name string) any {
	if name == "id" || name == DocumentIDField {
		return modelOf(e).ID
	}
	f, ok := c.byName[name]
	if !ok {
		return nil
	}
	v := reflect.ValueOf(e).Elem().FieldByIndex(f.index)
	return exportValue(v)
}
