package odm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/memstore"
	"github.com/jacentio/arbor/odm"
)

func TestPreloadBelongsTo(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	ada := e.seedAuthor(t, "ada")
	bob := e.seedAuthor(t, "bob")
	e.seedPost(t, "one", 1, ada.ID)
	e.seedPost(t, "two", 2, ada.ID)
	e.seedPost(t, "three", 3, bob.ID)
	e.seedPost(t, "orphan", 4, "")

	before := e.store.QueriesRun()
	posts, err := e.posts.Query().OrderBy("views", odm.Asc).Preload("author").Get(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 4)

	// one primary query plus one batched relation query
	assert.Equal(t, 2, e.store.QueriesRun()-before)

	for _, p := range posts {
		assert.True(t, p.RelationLoaded("author"))
	}
	assert.Equal(t, "ada", posts[0].Author().Name)
	assert.Equal(t, "ada", posts[1].Author().Name)
	assert.Equal(t, "bob", posts[2].Author().Name)
	assert.Nil(t, posts[3].Author())
}

func TestPreloadBelongsToChunksByInLimit(t *testing.T) {
	e := newEnv(t, memstore.Config{MaxInValues: 2})
	ctx := context.Background()

	var authors []*Author
	for _, name := range []string{"a", "b", "c"} {
		authors = append(authors, e.seedAuthor(t, name))
	}
	for i, a := range authors {
		e.seedPost(t, a.Name+"-post", i, a.ID)
	}

	before := e.store.QueriesRun()
	posts, err := e.posts.Query().Preload("author").Get(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 3)

	// three distinct keys at two per in predicate: primary + two chunks
	assert.Equal(t, 3, e.store.QueriesRun()-before)
}

func TestPreloadHasMany(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	ada := e.seedAuthor(t, "ada")
	bob := e.seedAuthor(t, "bob")
	carol := e.seedAuthor(t, "carol")
	e.seedPost(t, "a1", 1, ada.ID)
	e.seedPost(t, "a2", 2, ada.ID)
	e.seedPost(t, "b1", 3, bob.ID)

	before := e.store.QueriesRun()
	authors, err := e.authors.Query().Preload("posts").Get(ctx)
	require.NoError(t, err)
	require.Len(t, authors, 3)
	assert.Equal(t, 2, e.store.QueriesRun()-before)

	byName := map[string]*Author{}
	for _, a := range authors {
		require.True(t, a.RelationLoaded("posts"))
		byName[a.Name] = a
	}
	assert.Len(t, odm.Many[Post](&byName["ada"].Model, "posts"), 2)
	assert.Len(t, odm.Many[Post](&byName["bob"].Model, "posts"), 1)

	// an author with no posts still gets an empty loaded slice
	require.NotNil(t, carol)
	assert.NotNil(t, byName["carol"].RelationValue("posts"))
	assert.Empty(t, odm.Many[Post](&byName["carol"].Model, "posts"))
}

func TestPreloadScopesRelationQuery(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	ada := e.seedAuthor(t, "ada")
	e.seedPost(t, "low", 1, ada.ID)
	e.seedPost(t, "high", 9, ada.ID)

	authors, err := e.authors.Query().
		Preload("posts", func(s *odm.Scope) { s.Where("views", odm.OpGreater, 5) }).
		Get(ctx)
	require.NoError(t, err)
	require.Len(t, authors, 1)

	posts := odm.Many[Post](&authors[0].Model, "posts")
	require.Len(t, posts, 1)
	assert.Equal(t, "high", posts[0].Title)
}

func TestPreloadSubcollection(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	p1 := e.seedPost(t, "p1", 1, "a1")
	p2 := e.seedPost(t, "p2", 2, "a1")
	require.NoError(t, e.store.SetDocument(ctx, "posts/"+p1.ID+"/comments", "c1", map[string]any{"body": "hi"}))
	require.NoError(t, e.store.SetDocument(ctx, "posts/"+p1.ID+"/comments", "c2", map[string]any{"body": "again"}))

	posts, err := e.posts.Query().OrderBy("views", odm.Asc).Preload("comments").Get(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	assert.Len(t, posts[0].Comments(), 2)
	assert.Equal(t, p2.ID, posts[1].ID)
	assert.Empty(t, posts[1].Comments())
}

func TestPreloadManyToMany(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	p1 := e.seedPost(t, "p1", 1, "a1")
	p2 := e.seedPost(t, "p2", 2, "a1")
	goTag := e.seedTag(t, "go")
	dbTag := e.seedTag(t, "databases")

	attach := func(p *Post, tagID string, weight int) {
		rel, err := e.posts.Relation(p, "tags")
		require.NoError(t, err)
		require.NoError(t, rel.Attach(ctx, tagID, map[string]any{"weight": weight}))
	}
	attach(p1, goTag.ID, 1)
	attach(p1, dbTag.ID, 2)
	attach(p2, goTag.ID, 3)

	// a pivot row whose related document vanished must not surface
	rel, err := e.posts.Relation(p2, "tags")
	require.NoError(t, err)
	require.NoError(t, rel.Attach(ctx, "ghost-tag", nil))

	before := e.store.QueriesRun()
	posts, err := e.posts.Query().OrderBy("views", odm.Asc).Preload("tags").Get(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	// primary + one pivot chunk + one related chunk
	assert.Equal(t, 3, e.store.QueriesRun()-before)

	assert.Len(t, posts[0].Tags(), 2)
	require.Len(t, posts[1].Tags(), 1)
	assert.Equal(t, "go", posts[1].Tags()[0].Label)
}

func TestPreloadBelongsToMany(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	t1 := e.seedTag(t, "one")
	t2 := e.seedTag(t, "two")

	pa := &Post{Title: "pa", Views: 1, TagIDs: []string{t1.ID, t2.ID}}
	pb := &Post{Title: "pb", Views: 2, TagIDs: []string{t2.ID, "dangling"}}
	require.NoError(t, e.posts.Create(ctx, pa))
	require.NoError(t, e.posts.Create(ctx, pb))

	before := e.store.QueriesRun()
	posts, err := e.posts.Query().OrderBy("views", odm.Asc).Preload("labels").Get(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, 2, e.store.QueriesRun()-before)

	assert.Len(t, odm.Many[Tag](&posts[0].Model, "labels"), 2)
	got := odm.Many[Tag](&posts[1].Model, "labels")
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].Label)
}

func TestPreloadMatchesLazyLoad(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	ada := e.seedAuthor(t, "ada")
	e.seedPost(t, "one", 1, ada.ID)
	e.seedPost(t, "two", 2, ada.ID)

	eager, err := e.posts.Query().OrderBy("views", odm.Asc).Preload("author").Get(ctx)
	require.NoError(t, err)

	lazy, err := e.posts.Query().OrderBy("views", odm.Asc).Get(ctx)
	require.NoError(t, err)
	for _, p := range lazy {
		rel, err := e.posts.Relation(p, "author")
		require.NoError(t, err)
		require.NoError(t, rel.Load(ctx))
	}

	require.Len(t, eager, len(lazy))
	for i := range eager {
		assert.Equal(t, lazy[i].Author().Name, eager[i].Author().Name)
	}
}

func TestPreloadUnknownRelation(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	e.seedPost(t, "p", 0, "a1")

	_, err := e.posts.Query().Preload("nonsense").Get(context.Background())
	assert.ErrorIs(t, err, odm.ErrUnknownRelation)
}

func TestPreloadUnknownRelationEmptyResult(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())

	// The name check does not depend on the query matching anything.
	_, err := e.posts.Query().
		WhereEqual("title", "absent").
		Preload("nonsense").
		Get(context.Background())

	var unknown *odm.UnknownRelationError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nonsense", unknown.Name)
}

func TestPreloadMultipleRelations(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	ada := e.seedAuthor(t, "ada")
	tag := e.seedTag(t, "go")
	p := e.seedPost(t, "p", 1, ada.ID)
	rel, err := e.posts.Relation(p, "tags")
	require.NoError(t, err)
	require.NoError(t, rel.Attach(ctx, tag.ID, nil))

	posts, err := e.posts.Query().Preload("author").Preload("tags").Get(ctx)
	require.NoError(t, err)
	require.Len(t, posts, 1)

	assert.Equal(t, "ada", posts[0].Author().Name)
	require.Len(t, posts[0].Tags(), 1)
	assert.Equal(t, "go", posts[0].Tags()[0].Label)
}
