package odm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/memstore"
	"github.com/jacentio/arbor/odm"
)

type Author struct {
	odm.Model
	Name  string
	Email string
}

type Post struct {
	odm.Model
	Title    string
	Views    int
	AuthorID string   `doc:"authorId"`
	TagIDs   []string `doc:"tagIds"`
}

func (p *Post) Author() *Author      { return odm.One[Author](&p.Model, "author") }
func (p *Post) Tags() []*Tag         { return odm.Many[Tag](&p.Model, "tags") }
func (p *Post) Comments() []*Comment { return odm.Many[Comment](&p.Model, "comments") }

type Comment struct {
	odm.Model
	Body string
}

type Tag struct {
	odm.Model
	Label string
}

type env struct {
	store    *memstore.Store
	db       *odm.DB
	authors  *odm.Collection[Author]
	posts    *odm.Collection[Post]
	comments *odm.Collection[Comment]
	tags     *odm.Collection[Tag]
}

func newEnv(t *testing.T, cfg memstore.Config) *env {
	t.Helper()

	store := memstore.New(cfg)
	db := odm.New(store, odm.Options{})

	e := &env{
		store:    store,
		db:       db,
		authors:  odm.NewCollection[Author](db),
		posts:    odm.NewCollection[Post](db),
		comments: odm.NewCollection[Comment](db),
		tags:     odm.NewCollection[Tag](db),
	}

	require.NoError(t, odm.BelongsTo[Post, Author](e.posts, "author", "authorId"))
	require.NoError(t, odm.HasMany[Author, Post](e.authors, "posts", "authorId"))
	require.NoError(t, odm.HasManySubcollection[Post, Comment](e.posts, "comments", "comments"))
	require.NoError(t, odm.ManyToMany[Post, Tag](e.posts, "tags", "post_tags", "postId", "tagId", odm.WithPivotFields("weight")))
	require.NoError(t, odm.BelongsToMany[Post, Tag](e.posts, "labels", "tagIds"))
	return e
}

func (e *env) seedAuthor(t *testing.T, name string) *Author {
	t.Helper()
	a := &Author{Name: name, Email: name + "@example.com"}
	require.NoError(t, e.authors.Create(context.Background(), a))
	return a
}

func (e *env) seedPost(t *testing.T, title string, views int, authorID string) *Post {
	t.Helper()
	p := &Post{Title: title, Views: views, AuthorID: authorID}
	require.NoError(t, e.posts.Create(context.Background(), p))
	return p
}

func (e *env) seedTag(t *testing.T, label string) *Tag {
	t.Helper()
	tag := &Tag{Label: label}
	require.NoError(t, e.tags.Create(context.Background(), tag))
	return tag
}

// Hooked records its lifecycle hook invocations and fails on demand.
type Hooked struct {
	odm.Model
	Name string

	calls            *[]string
	lastDirty        []string
	failBeforeCreate bool
	failBeforeUpdate bool
	failBeforeDelete bool
	failAfter        bool
}

func (h *Hooked) record(name string) {
	if h.calls != nil {
		*h.calls = append(*h.calls, name)
	}
}

func (h *Hooked) BeforeSave(ctx context.Context) error {
	h.record("beforeSave")
	return nil
}

func (h *Hooked) BeforeCreate(ctx context.Context) error {
	h.record("beforeCreate")
	if h.failBeforeCreate {
		return errors.New("beforeCreate refused")
	}
	return nil
}

func (h *Hooked) BeforeUpdate(ctx context.Context, dirty []string) error {
	h.record("beforeUpdate")
	h.lastDirty = dirty
	if h.failBeforeUpdate {
		return errors.New("beforeUpdate refused")
	}
	return nil
}

func (h *Hooked) BeforeDelete(ctx context.Context) error {
	h.record("beforeDelete")
	if h.failBeforeDelete {
		return errors.New("beforeDelete refused")
	}
	return nil
}

func (h *Hooked) AfterCreate(ctx context.Context) error {
	h.record("afterCreate")
	if h.failAfter {
		return errors.New("afterCreate failed")
	}
	return nil
}

func (h *Hooked) AfterUpdate(ctx context.Context) error {
	h.record("afterUpdate")
	if h.failAfter {
		return errors.New("afterUpdate failed")
	}
	return nil
}

func (h *Hooked) AfterDelete(ctx context.Context) error {
	h.record("afterDelete")
	if h.failAfter {
		return errors.New("afterDelete failed")
	}
	return nil
}

func (h *Hooked) AfterSave(ctx context.Context) error {
	h.record("afterSave")
	return nil
}
