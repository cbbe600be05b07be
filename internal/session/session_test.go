package session

import (
	"context"
	"testing"
	"time"

	"github.com/kilupskalvis/persistence/internal/models"
	"github.com/kilupskalvis/persistence/internal/object"
	"github.com/kilupskalvis/persistence/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchemas() *schema.Registry {
	post := models.NewClassSchema("Post", models.ModelTypeEntity).
		AddProperty(models.PropertySchema{Name: "x", Type: models.TypeInteger}).
		AddProperty(models.PropertySchema{Name: "title", Type: models.TypeString}).
		AddProperty(models.PropertySchema{Name: "published", Type: models.TypeDateTime}).
		AddProperty(models.PropertySchema{Name: "author", Type: "Author"}).
		AddProperty(models.PropertySchema{Name: "tags", Type: models.TypeReferenceSet}).
		AddProperty(models.PropertySchema{Name: "list", Type: models.TypeArray})
	author := models.NewClassSchema("Author", models.ModelTypeEntity).
		AddProperty(models.PropertySchema{Name: "email", Type: models.TypeString, Identity: true})
	return schema.NewRegistry(post, author)
}

// reconstituted registers a Post with the given clean properties and returns it.
func reconstituted(s *Session, props map[string]*models.PropertyDatum) *object.Dynamic {
	obj := object.NewDynamic("Post")
	s.RegisterObject(obj, "post-1")
	s.RegisterReconstitutedEntity(obj, &models.RecordData{Identifier: "post-1", Classname: "Post", Properties: props})
	return obj
}

func TestSession_RegisterAndLookup(t *testing.T) {
	s := New(testSchemas())
	a := object.NewDynamic("Post")
	b := object.NewDynamic("Post")

	s.RegisterObject(a, "a-id")

	assert.True(t, s.HasObject(a))
	assert.False(t, s.HasObject(b))
	assert.True(t, s.HasIdentifier("a-id"))
	assert.False(t, s.HasIdentifier("b-id"))

	got, err := s.GetObjectByIdentifier("a-id")
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = s.GetObjectByIdentifier("b-id")
	assert.ErrorIs(t, err, models.ErrUnknownObject)

	id, ok := s.GetIdentifierByObject(a)
	assert.True(t, ok)
	assert.Equal(t, "a-id", id)
}

func TestSession_UnregisterObject(t *testing.T) {
	s := New(testSchemas())
	a := reconstituted(s, nil)
	b := object.NewDynamic("Post")
	s.RegisterObject(b, "b-id")

	require.NoError(t, s.UnregisterObject(a))

	assert.False(t, s.HasObject(a))
	assert.False(t, s.HasIdentifier("post-1"))
	assert.False(t, s.IsReconstitutedEntity(a))
	assert.Nil(t, s.snapshots["post-1"])
	assert.True(t, s.HasObject(b))
	assert.True(t, s.HasIdentifier("b-id"))

	err := s.UnregisterObject(a)
	assert.ErrorIs(t, err, models.ErrUnknownObject)
	assert.True(t, s.HasObject(b), "failed unregister must not touch other entries")
}

func TestSession_ReconstitutedEntities(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, nil)

	assert.True(t, s.IsReconstitutedEntity(obj))
	assert.Contains(t, s.ReconstitutedEntities(), object.Object(obj))

	s.UnregisterReconstitutedEntity(obj)
	assert.False(t, s.IsReconstitutedEntity(obj))
	assert.True(t, s.HasObject(obj), "identity binding survives")
}

func TestSession_ReplaceReconstitutedEntity(t *testing.T) {
	s := New(testSchemas())
	old := reconstituted(s, map[string]*models.PropertyDatum{
		"title": {Type: models.TypeString, Value: models.Scalar{V: "clean"}},
	})
	replacement := object.NewDynamic("Post")
	s.RegisterObject(replacement, "post-1")

	s.ReplaceReconstitutedEntity(old, replacement)

	assert.False(t, s.IsReconstitutedEntity(old))
	assert.True(t, s.IsReconstitutedEntity(replacement))
	clean := s.GetCleanStateOfProperty(replacement, "title")
	require.NotNil(t, clean)
	assert.Equal(t, models.Scalar{V: "clean"}, clean.Value)
}

func TestSession_GetIdentifierByObject_Precedence(t *testing.T) {
	s := New(testSchemas())

	author := object.NewDynamic("Author")
	author.PersistenceState().SetIdentifier("marker-id")
	id, ok := s.GetIdentifierByObject(author)
	assert.True(t, ok)
	assert.Equal(t, "marker-id", id, "internal marker is the last fallback")

	author.Set("email", "jane@example.com")
	id, _ = s.GetIdentifierByObject(author)
	assert.Equal(t, "jane@example.com", id, "identity property wins over the marker")

	s.RegisterObject(author, "session-id")
	id, _ = s.GetIdentifierByObject(author)
	assert.Equal(t, "session-id", id, "session binding wins over everything")

	_, ok = s.GetIdentifierByObject(object.NewDynamic("Post"))
	assert.False(t, ok)
}

func TestSession_IsDirty_UnknownObjectsAreDirty(t *testing.T) {
	s := New(testSchemas())
	assert.True(t, s.IsDirty(object.NewDynamic("Post"), "x"))
}

func TestSession_IsDirty_Integer(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"x": {Type: models.TypeInteger, Value: models.Scalar{V: "5"}},
	})
	obj.Set("x", 5)
	assert.False(t, s.IsDirty(obj, "x"))

	obj.Set("x", 6)
	assert.True(t, s.IsDirty(obj, "x"))

	obj.Set("x", 5)
	assert.False(t, s.IsDirty(obj, "x"))
}

func TestSession_IsDirty_CurrentValueIsNotCoerced(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"x":     {Type: models.TypeInteger, Value: models.Scalar{V: "5"}},
		"title": {Type: models.TypeString, Value: models.Scalar{V: "12"}},
	})

	obj.Set("x", "5")
	assert.True(t, s.IsDirty(obj, "x"), "string for an integer property")

	obj.Set("x", 5.9)
	assert.True(t, s.IsDirty(obj, "x"), "float for an integer property")

	obj.Set("x", int64(5))
	assert.False(t, s.IsDirty(obj, "x"), "any integer kind compares by value")

	obj.Set("title", 12)
	assert.True(t, s.IsDirty(obj, "title"), "integer for a string property")

	obj.Set("title", "12")
	assert.False(t, s.IsDirty(obj, "title"))
}

func TestSession_IsDirty_NullOnBothSides(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"title": {Type: models.TypeString, Value: nil},
	})
	assert.False(t, s.IsDirty(obj, "title"))
	assert.False(t, s.IsDirty(obj, "x"), "unknown property with nil current value")

	obj.Set("x", 1)
	assert.True(t, s.IsDirty(obj, "x"))
}

func TestSession_IsDirty_PendingThaw(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"title": {Type: models.TypeString, Value: models.Scalar{V: "a"}},
	})
	obj.PersistenceState().SetPendingThaw(context.Background(), "post-1", func(context.Context) error { return nil })
	_ = obj.SetProperty("title", "b")

	assert.False(t, s.IsDirty(obj, "title"))
}

func TestSession_IsDirty_DateTime(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"published": {Type: models.TypeDateTime, Value: models.Timestamp(1700000000)},
	})
	obj.Set("published", time.Unix(1700000000, 0))
	assert.False(t, s.IsDirty(obj, "published"))

	obj.Set("published", time.Unix(1700000001, 0))
	assert.True(t, s.IsDirty(obj, "published"))
}

func TestSession_IsDirty_Reference(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"author": {Type: "Author", Value: &models.RecordData{Identifier: "author-1"}},
	})
	same := object.NewDynamic("Author")
	s.RegisterObject(same, "author-1")
	other := object.NewDynamic("Author")
	s.RegisterObject(other, "author-2")

	obj.Set("author", same)
	assert.False(t, s.IsDirty(obj, "author"))

	obj.Set("author", other)
	assert.True(t, s.IsDirty(obj, "author"))

	obj.Set("author", nil)
	assert.True(t, s.IsDirty(obj, "author"))
}

func TestSession_IsDirty_ReferenceSetIgnoresOrder(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"tags": {Type: models.TypeReferenceSet, Multivalue: true, Value: models.Elements{
			{Type: "Tag", Value: &models.RecordData{Identifier: "t1"}},
			{Type: "Tag", Value: &models.RecordData{Identifier: "t2"}},
		}},
	})
	t1, t2, t3 := object.NewDynamic("Tag"), object.NewDynamic("Tag"), object.NewDynamic("Tag")
	s.RegisterObject(t1, "t1")
	s.RegisterObject(t2, "t2")
	s.RegisterObject(t3, "t3")

	obj.Set("tags", object.NewStorage(t2, t1))
	assert.False(t, s.IsDirty(obj, "tags"))

	obj.Set("tags", object.NewStorage(t1, t3))
	assert.True(t, s.IsDirty(obj, "tags"))

	obj.Set("tags", object.NewStorage(t1))
	assert.True(t, s.IsDirty(obj, "tags"))
}

func TestSession_IsDirty_EmptyCollections(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"tags": {Type: models.TypeReferenceSet, Multivalue: true, Value: nil},
	})

	obj.Set("tags", object.NewStorage())
	assert.False(t, s.IsDirty(obj, "tags"), "both empty")

	tag := object.NewDynamic("Tag")
	s.RegisterObject(tag, "t1")
	obj.Set("tags", object.NewStorage(tag))
	assert.True(t, s.IsDirty(obj, "tags"))
}

func TestSession_IsDirty_UninitializedLazyStorage(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"tags": {Type: models.TypeReferenceSet, Multivalue: true, Value: models.Elements{
			{Type: "Tag", Value: &models.RecordData{Identifier: "t1"}},
		}},
	})
	obj.Set("tags", object.NewLazyStorage([]string{"t1", "t2"}, nil))

	assert.False(t, s.IsDirty(obj, "tags"))
}

func TestSession_IsDirty_Arrays(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"list": {Type: models.TypeArray, Multivalue: true, Value: models.Elements{
			{Index: 0, Type: models.TypeString, Value: models.Scalar{V: "foo"}},
			{Index: "nested", Type: models.TypeArray, Value: models.Elements{
				{Index: 0, Type: models.TypeString, Value: models.Scalar{V: "bar"}},
			}},
		}},
	})

	clean := object.NewArray()
	clean.Set(0, "foo")
	clean.Set("nested", object.ArrayOf("bar"))
	obj.Set("list", clean)
	assert.False(t, s.IsDirty(obj, "list"))

	changedNested := object.NewArray()
	changedNested.Set(0, "foo")
	changedNested.Set("nested", object.ArrayOf("bar", "baz"))
	obj.Set("list", changedNested)
	assert.True(t, s.IsDirty(obj, "list"), "nested count differs")

	rekeyed := object.NewArray()
	rekeyed.Set(1, "foo")
	rekeyed.Set("nested", object.ArrayOf("bar"))
	obj.Set("list", rekeyed)
	assert.True(t, s.IsDirty(obj, "list"), "missing key")

	obj.Set("list", object.ArrayOf("foo", "bar", "baz"))
	assert.True(t, s.IsDirty(obj, "list"), "count differs")
}

func TestSession_GetCleanStateOfProperty(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, map[string]*models.PropertyDatum{
		"title": {Type: models.TypeString, Value: models.Scalar{V: "clean"}},
	})

	assert.NotNil(t, s.GetCleanStateOfProperty(obj, "title"))
	assert.Nil(t, s.GetCleanStateOfProperty(obj, "missing"))
	assert.Nil(t, s.GetCleanStateOfProperty(object.NewDynamic("Post"), "title"))
}

func TestSession_Destroy(t *testing.T) {
	s := New(testSchemas())
	obj := reconstituted(s, nil)

	s.Destroy()

	assert.False(t, s.HasObject(obj))
	assert.False(t, s.HasIdentifier("post-1"))
	assert.False(t, s.IsReconstitutedEntity(obj))
	assert.Empty(t, s.ReconstitutedEntities())

	s.RegisterObject(obj, "again")
	assert.True(t, s.HasIdentifier("again"), "session stays usable")
}
