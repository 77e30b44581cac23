package odm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/memstore"
	"github.com/jacentio/arbor/odm"
)

func TestRelationRegistrationValidation(t *testing.T) {
	store := memstore.New(memstore.DefaultConfig())
	db := odm.New(store, odm.Options{})
	posts := odm.NewCollection[Post](db)
	odm.NewCollection[Author](db)

	assert.ErrorIs(t, odm.BelongsTo[Post, Author](posts, "author", ""), odm.ErrMissingRelationConfig)
	assert.ErrorIs(t, odm.ManyToMany[Post, Tag](posts, "tags", "", "postId", "tagId"), odm.ErrMissingRelationConfig)
	assert.ErrorIs(t, odm.BelongsToMany[Post, Tag](posts, "labels", ""), odm.ErrMissingRelationConfig)

	require.NoError(t, odm.BelongsTo[Post, Author](posts, "author", "authorId"))
	assert.Error(t, odm.BelongsTo[Post, Author](posts, "author", "authorId"))
}

func TestUnknownRelation(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	p := e.seedPost(t, "p", 0, "a1")

	_, err := e.posts.Relation(p, "nonsense")
	require.ErrorIs(t, err, odm.ErrUnknownRelation)
	var ur *odm.UnknownRelationError
	require.ErrorAs(t, err, &ur)
	assert.Equal(t, "Post", ur.Type)
	assert.Equal(t, "nonsense", ur.Name)
}

func TestBelongsToLazyLoad(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	a := e.seedAuthor(t, "ada")
	p := e.seedPost(t, "p", 0, a.ID)

	assert.False(t, p.RelationLoaded("author"))
	assert.Nil(t, p.Author())

	rel, err := e.posts.Relation(p, "author")
	require.NoError(t, err)
	require.NoError(t, rel.Load(ctx))

	assert.True(t, p.RelationLoaded("author"))
	require.NotNil(t, p.Author())
	assert.Equal(t, "ada", p.Author().Name)
}

func TestBelongsToEmptyForeignKey(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	p := e.seedPost(t, "orphan", 0, "")
	rel, err := e.posts.Relation(p, "author")
	require.NoError(t, err)

	v, err := rel.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.True(t, p.RelationLoaded("author"))
	assert.Nil(t, p.Author())
}

func TestBelongsToDanglingForeignKey(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	p := e.seedPost(t, "p", 0, "vanished")
	rel, err := e.posts.Relation(p, "author")
	require.NoError(t, err)

	v, err := rel.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestHasManyLazyLoad(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	a := e.seedAuthor(t, "ada")
	e.seedPost(t, "one", 1, a.ID)
	e.seedPost(t, "two", 2, a.ID)
	e.seedPost(t, "other", 3, "someone-else")

	rel, err := e.authors.Relation(a, "posts")
	require.NoError(t, err)
	require.NoError(t, rel.Load(ctx))

	posts := odm.Many[Post](&a.Model, "posts")
	assert.Len(t, posts, 2)
}

func TestSubcollectionLoad(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	p := e.seedPost(t, "p", 0, "a1")
	path := "posts/" + p.ID + "/comments"
	require.NoError(t, e.store.SetDocument(ctx, path, "c1", map[string]any{"body": "first"}))
	require.NoError(t, e.store.SetDocument(ctx, path, "c2", map[string]any{"body": "second"}))

	rel, err := e.posts.Relation(p, "comments")
	require.NoError(t, err)
	require.NoError(t, rel.Load(ctx))

	comments := p.Comments()
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Body)
}

func TestManyToManyAttachLoadDetach(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	p := e.seedPost(t, "p", 0, "a1")
	go1 := e.seedTag(t, "go")
	db1 := e.seedTag(t, "databases")

	rel, err := e.posts.Relation(p, "tags")
	require.NoError(t, err)

	require.NoError(t, rel.Attach(ctx, go1.ID, map[string]any{"weight": 5}))
	require.NoError(t, rel.Attach(ctx, db1.ID, nil))

	require.NoError(t, rel.Load(ctx))
	tags := p.Tags()
	require.Len(t, tags, 2)

	byLabel := map[string]*Tag{}
	for _, tag := range tags {
		byLabel[tag.Label] = tag
	}
	require.Contains(t, byLabel, "go")
	assert.Equal(t, 5, byLabel["go"].Pivot()["weight"])

	require.NoError(t, rel.Detach(ctx, go1.ID))
	require.NoError(t, rel.Load(ctx))
	assert.Len(t, p.Tags(), 1)

	// detaching an absent link is a no-op
	require.NoError(t, rel.Detach(ctx, go1.ID))
}

func TestManyToManySync(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	p := e.seedPost(t, "p", 0, "a1")
	t1 := e.seedTag(t, "one")
	t2 := e.seedTag(t, "two")
	t3 := e.seedTag(t, "three")

	rel, err := e.posts.Relation(p, "tags")
	require.NoError(t, err)
	require.NoError(t, rel.Attach(ctx, t1.ID, nil))
	require.NoError(t, rel.Attach(ctx, t2.ID, nil))

	require.NoError(t, rel.Sync(ctx, []string{t2.ID, t3.ID}, nil))

	require.NoError(t, rel.Load(ctx))
	got := map[string]bool{}
	for _, tag := range p.Tags() {
		got[tag.Label] = true
	}
	assert.Equal(t, map[string]bool{"two": true, "three": true}, got)
}

func TestManyToManyToggle(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	p := e.seedPost(t, "p", 0, "a1")
	tag := e.seedTag(t, "go")

	rel, err := e.posts.Relation(p, "tags")
	require.NoError(t, err)

	attached, err := rel.Toggle(ctx, tag.ID, nil)
	require.NoError(t, err)
	assert.True(t, attached)

	attached, err = rel.Toggle(ctx, tag.ID, nil)
	require.NoError(t, err)
	assert.False(t, attached)

	require.NoError(t, rel.Load(ctx))
	assert.Empty(t, p.Tags())
}

func TestPivotOpsRequirePivotRelation(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	p := e.seedPost(t, "p", 0, "a1")
	rel, err := e.posts.Relation(p, "author")
	require.NoError(t, err)

	assert.ErrorIs(t, rel.Attach(ctx, "x", nil), odm.ErrUnsupportedRelationVariant)
	assert.ErrorIs(t, rel.Detach(ctx, "x"), odm.ErrUnsupportedRelationVariant)
	assert.ErrorIs(t, rel.Sync(ctx, nil, nil), odm.ErrUnsupportedRelationVariant)
	_, err = rel.Toggle(ctx, "x", nil)
	assert.ErrorIs(t, err, odm.ErrUnsupportedRelationVariant)
}

func TestBelongsToManyLoad(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	t1 := e.seedTag(t, "one")
	t2 := e.seedTag(t, "two")

	p := &Post{Title: "p", TagIDs: []string{t2.ID, t1.ID, "dangling"}}
	require.NoError(t, e.posts.Create(ctx, p))

	rel, err := e.posts.Relation(p, "labels")
	require.NoError(t, err)
	require.NoError(t, rel.Load(ctx))

	labels := odm.Many[Tag](&p.Model, "labels")
	require.Len(t, labels, 2)
	// owner's id order is preserved; the dangling id is skipped
	assert.Equal(t, "two", labels[0].Label)
	assert.Equal(t, "one", labels[1].Label)
}

func TestRelatedQuery(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	a := e.seedAuthor(t, "ada")
	e.seedPost(t, "low", 1, a.ID)
	e.seedPost(t, "high", 9, a.ID)

	rel, err := e.authors.Relation(a, "posts")
	require.NoError(t, err)

	q, err := odm.RelatedQuery[Post](rel)
	require.NoError(t, err)

	got, err := q.WhereGreater("views", 5).Get(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "high", got[0].Title)
}

func TestRelatedQueryOnPivotRelation(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	p := e.seedPost(t, "p", 0, "a1")

	rel, err := e.posts.Relation(p, "tags")
	require.NoError(t, err)

	_, err = odm.RelatedQuery[Tag](rel)
	assert.ErrorIs(t, err, odm.ErrUnsupportedRelationQuery)
}

func TestRelatedQueryEmptyForeignKey(t *testing.T) {
	e := newEnv(t, memstore.DefaultConfig())
	ctx := context.Background()

	e.seedAuthor(t, "someone")
	p := e.seedPost(t, "orphan", 0, "")

	rel, err := e.posts.Relation(p, "author")
	require.NoError(t, err)

	q, err := odm.RelatedQuery[Author](rel)
	require.NoError(t, err)
	got, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}
