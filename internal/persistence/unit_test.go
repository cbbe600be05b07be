package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/qom"
	"github.com/kilupskalvis/persistence/internal/schema"
	"github.com/kilupskalvis/persistence/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blogSchemas() *schema.Registry {
	blog := models.NewClassSchema("Blog", models.ModelTypeEntity).
		AddProperty(models.PropertySchema{Name: "name", Type: models.TypeString}).
		AddProperty(models.PropertySchema{Name: "posts", Type: models.TypeReferenceSet, ElementType: "Post", Lazy: true})
	blog.AggregateRoot = true
	post := models.NewClassSchema("Post", models.ModelTypeEntity).
		AddProperty(models.PropertySchema{Name: "title", Type: models.TypeString}).
		AddProperty(models.PropertySchema{Name: "views", Type: models.TypeInteger}).
		AddProperty(models.PropertySchema{Name: "published", Type: models.TypeDateTime}).
		AddProperty(models.PropertySchema{Name: "blog", Type: "Blog"}).
		AddProperty(models.PropertySchema{Name: "author", Type: "Author", Lazy: true}).
		AddProperty(models.PropertySchema{Name: "address", Type: "Address"}).
		AddProperty(models.PropertySchema{Name: "tags", Type: models.TypeArray}).
		AddProperty(models.PropertySchema{Name: "comments", Type: models.TypeReferenceSet, ElementType: "Comment"})
	post.AggregateRoot = true
	comment := models.NewClassSchema("Comment", models.ModelTypeEntity).
		AddProperty(models.PropertySchema{Name: "body", Type: models.TypeString}).
		AddProperty(models.PropertySchema{Name: "reply", Type: "Comment"})
	author := models.NewClassSchema("Author", models.ModelTypeEntity).
		AddProperty(models.PropertySchema{Name: "name", Type: models.TypeString})
	author.AggregateRoot = true
	author.LazyLoadable = true
	address := models.NewClassSchema("Address", models.ModelTypeValueObject).
		AddProperty(models.PropertySchema{Name: "city", Type: models.TypeString})
	return schema.NewRegistry(blog, post, comment, author, address)
}

type testEnv struct {
	t       *testing.T
	store   store.RecordStore
	schemas *schema.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(store.BackendBolt, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &testEnv{t: t, store: st, schemas: blogSchemas()}
}

// unit starts a fresh unit of work, as a new request would.
func (e *testEnv) unit() *UnitOfWork {
	e.t.Helper()
	u, err := NewUnitOfWork(e.store, e.schemas, object.NewRegistry(), nil, nil)
	require.NoError(e.t, err)
	return u
}

func newObject(class string, props map[string]any) *object.Dynamic {
	d := object.NewDynamic(class)
	for k, v := range props {
		d.Set(k, v)
	}
	return d
}

func TestUnitOfWork_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	published := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	u := env.unit()
	blog := newObject("Blog", map[string]any{"name": "Go"})
	post := newObject("Post", map[string]any{
		"title":     "Hello",
		"views":     42,
		"published": published,
		"blog":      blog,
		"tags":      object.ArrayOf("go", "orm"),
		"comments":  object.NewStorage(newObject("Comment", map[string]any{"body": "nice"})),
	})
	blog.Set("posts", object.NewStorage(post))
	u.Add(post)
	require.NoError(t, u.PersistAll(ctx, false))

	postID := u.GetIdentifierByObject(post)
	require.NotEmpty(t, postID)
	assert.False(t, u.IsNewObject(post))
	assert.False(t, u.IsNewObject(blog))

	loaded, err := env.unit().GetObjectByIdentifier(ctx, postID, "Post")
	require.NoError(t, err)
	p := loaded.(*object.Dynamic)
	assert.Equal(t, "Hello", p.Get("title"))
	assert.Equal(t, 42, p.Get("views"))
	assert.Equal(t, published, p.Get("published"))
	assert.Equal(t, "Go", p.Get("blog").(*object.Dynamic).Get("name"))
	tags := p.Get("tags").(*object.Array)
	assert.Equal(t, []any{0, 1}, tags.Keys())
	assert.Equal(t, 1, p.Get("comments").(object.ReferenceSet).Count())

	// blog.posts points back at the post: the cycle resolves to the same object.
	posts := p.Get("blog").(*object.Dynamic).Get("posts").(*object.LazyStorage)
	assert.Same(t, loaded, posts.Objects()[0])
}

func TestUnitOfWork_IdentityWithinUnit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.unit()
	post := newObject("Post", map[string]any{"title": "a"})
	u.Add(post)
	require.NoError(t, u.PersistAll(ctx, false))
	id := u.GetIdentifierByObject(post)

	u2 := env.unit()
	a, err := u2.GetObjectByIdentifier(ctx, id, "")
	require.NoError(t, err)
	b, err := u2.GetObjectByIdentifier(ctx, id, "")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestUnitOfWork_UpdateWritesDirtyProperties(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.unit()
	post := newObject("Post", map[string]any{"title": "old", "views": 1})
	u.Add(post)
	require.NoError(t, u.PersistAll(ctx, false))
	id := u.GetIdentifierByObject(post)

	u2 := env.unit()
	obj, err := u2.GetObjectByIdentifier(ctx, id, "")
	require.NoError(t, err)
	assert.False(t, u2.HasUnpersistedChanges())
	obj.(*object.Dynamic).Set("title", "new")
	assert.True(t, u2.HasUnpersistedChanges())
	require.NoError(t, u2.Update(obj))
	require.NoError(t, u2.PersistAll(ctx, false))
	assert.False(t, u2.HasUnpersistedChanges())

	rec, err := env.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.Scalar{V: "new"}, rec.Properties["title"].Value)
	require.Contains(t, rec.Properties, "views")
}

func TestUnitOfWork_ReplaceKeepsCleanSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.unit()
	post := newObject("Post", map[string]any{"title": "old", "views": 7})
	u.Add(post)
	require.NoError(t, u.PersistAll(ctx, false))
	id := u.GetIdentifierByObject(post)

	u2 := env.unit()
	loaded, err := u2.GetObjectByIdentifier(ctx, id, "Post")
	require.NoError(t, err)
	replacement := newObject("Post", map[string]any{"title": "new", "views": 7})
	require.NoError(t, u2.Replace(loaded, replacement))

	sess := u2.Session()
	assert.True(t, sess.IsReconstitutedEntity(replacement))
	assert.False(t, sess.IsReconstitutedEntity(loaded))
	assert.False(t, sess.IsDirty(replacement, "views"))
	assert.True(t, sess.IsDirty(replacement, "title"))

	got, err := u2.GetObjectByIdentifier(ctx, id, "Post")
	require.NoError(t, err)
	assert.Same(t, replacement, got)

	require.NoError(t, u2.PersistAll(ctx, false))
	rec, err := env.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.Scalar{V: "new"}, rec.Properties["title"].Value)
}

func TestUnitOfWork_RemoveCascadesToNonRootEntities(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.unit()
	reply := newObject("Comment", map[string]any{"body": "reply"})
	comment := newObject("Comment", map[string]any{"body": "top", "reply": reply})
	post := newObject("Post", map[string]any{"title": "t", "comments": object.NewStorage(comment)})
	u.Add(post)
	require.NoError(t, u.PersistAll(ctx, false))
	postID, commentID, replyID := u.GetIdentifierByObject(post), u.GetIdentifierByObject(comment), u.GetIdentifierByObject(reply)

	u2 := env.unit()
	obj, err := u2.GetObjectByIdentifier(ctx, postID, "")
	require.NoError(t, err)
	u2.Remove(obj)
	require.NoError(t, u2.PersistAll(ctx, false))

	for _, id := range []string{postID, commentID, replyID} {
		_, err := env.store.Get(id)
		assert.True(t, errors.Is(err, models.ErrUnknownObject), id)
	}
	assert.True(t, u2.IsNewObject(obj))
}

func TestUnitOfWork_DetachedCommentIsDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.unit()
	keep := newObject("Comment", map[string]any{"body": "keep"})
	drop := newObject("Comment", map[string]any{"body": "drop"})
	post := newObject("Post", map[string]any{"title": "t", "comments": object.NewStorage(keep, drop)})
	u.Add(post)
	require.NoError(t, u.PersistAll(ctx, false))
	postID, keepID, dropID := u.GetIdentifierByObject(post), u.GetIdentifierByObject(keep), u.GetIdentifierByObject(drop)

	u2 := env.unit()
	obj, err := u2.GetObjectByIdentifier(ctx, postID, "")
	require.NoError(t, err)
	comments := obj.(*object.Dynamic).Get("comments").(object.ReferenceSet)
	dropped, err := u2.GetObjectByIdentifier(ctx, dropID, "")
	require.NoError(t, err)
	comments.Detach(dropped)
	require.NoError(t, u2.Update(obj))
	require.NoError(t, u2.PersistAll(ctx, false))

	_, err = env.store.Get(keepID)
	assert.NoError(t, err)
	_, err = env.store.Get(dropID)
	assert.True(t, errors.Is(err, models.ErrUnknownObject))
}

func TestUnitOfWork_LazyAuthorThaw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.unit()
	author := newObject("Author", map[string]any{"name": "Ada"})
	post := newObject("Post", map[string]any{"title": "t", "author": author})
	u.Add(post)
	require.NoError(t, u.PersistAll(ctx, false))
	postID := u.GetIdentifierByObject(post)

	u2 := env.unit()
	obj, err := u2.GetObjectByIdentifier(ctx, postID, "")
	require.NoError(t, err)
	a := obj.(*object.Dynamic).Get("author").(*object.Dynamic)
	assert.True(t, a.IsPendingThaw())
	assert.False(t, u2.HasUnpersistedChanges())

	assert.Equal(t, "Ada", a.Get("name"))
	assert.False(t, a.IsPendingThaw())
	assert.False(t, u2.HasUnpersistedChanges())
}

func TestUnitOfWork_ValueObjectsAreShared(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.unit()
	p1 := newObject("Post", map[string]any{"title": "a", "address": newObject("Address", map[string]any{"city": "Riga"})})
	p2 := newObject("Post", map[string]any{"title": "b", "address": newObject("Address", map[string]any{"city": "Riga"})})
	u.Add(p1)
	u.Add(p2)
	require.NoError(t, u.PersistAll(ctx, false))

	r1, err := env.store.Get(u.GetIdentifierByObject(p1))
	require.NoError(t, err)
	r2, err := env.store.Get(u.GetIdentifierByObject(p2))
	require.NoError(t, err)
	id1 := r1.Properties["address"].Value.(*models.RecordData).Identifier
	id2 := r2.Properties["address"].Value.(*models.RecordData).Identifier
	assert.Equal(t, id1, id2)

	addresses, err := env.store.Scan("Address")
	require.NoError(t, err)
	assert.Len(t, addresses, 1)
}

func TestUnitOfWork_Query(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.unit()
	for i, title := range []string{"Go tips", "Rust notes", "go routines", "Gophers"} {
		u.Add(newObject("Post", map[string]any{"title": title, "views": i * 10}))
	}
	require.NoError(t, u.PersistAll(ctx, false))

	u2 := env.unit()
	q := u2.CreateQueryForType("Post")
	like, err := q.Like("title", "go%", false)
	require.NoError(t, err)
	q.Matching(like).SetOrderings(qom.Ordering{Property: "views", Direction: qom.Descending})

	result := q.Execute()
	n, err := result.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	objs, err := result.ToArray(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 3)
	assert.Equal(t, "Gophers", objs[0].(*object.Dynamic).Get("title"))
	assert.Equal(t, "Go tips", objs[2].(*object.Dynamic).Get("title"))

	q2 := u2.CreateQueryForType("Post")
	gt, err := q2.GreaterThanOrEqual("views", 20)
	require.NoError(t, err)
	_, err = q2.Matching(gt).SetOrderings(qom.Ordering{Property: "views"}).SetLimit(1)
	require.NoError(t, err)
	first, err := q2.Execute().GetFirst(ctx)
	require.NoError(t, err)
	assert.Equal(t, "go routines", first.(*object.Dynamic).Get("title"))

	in, err := u2.CreateQueryForType("Post").In("views", []int{0, 30})
	require.NoError(t, err)
	n, err = u2.CreateQueryForType("Post").Matching(in).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUnitOfWork_QueryByReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.unit()
	goBlog := newObject("Blog", map[string]any{"name": "Go"})
	rustBlog := newObject("Blog", map[string]any{"name": "Rust"})
	u.Add(newObject("Post", map[string]any{"title": "a", "blog": goBlog}))
	u.Add(newObject("Post", map[string]any{"title": "b", "blog": rustBlog}))
	u.Add(newObject("Post", map[string]any{"title": "c"}))
	require.NoError(t, u.PersistAll(ctx, false))

	q := u.CreateQueryForType("Post")
	n, err := q.Matching(q.Equals("blog", goBlog)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	q = u.CreateQueryForType("Post")
	n, err = q.Matching(q.Equals("blog.name", "Rust")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	q = u.CreateQueryForType("Post")
	n, err = q.Matching(q.Equals("blog", nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
