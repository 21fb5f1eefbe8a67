package types

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusPublished, true},
		{StatusDraft, StatusScheduled, true},
		{StatusDraft, StatusDeleted, true},
		{StatusDraft, StatusArchived, false},
		{StatusPublished, StatusArchived, true},
		{StatusPublished, StatusDeleted, true},
		{StatusPublished, StatusDraft, false},
		{StatusArchived, StatusDeleted, true},
		{StatusArchived, StatusPublished, false},
		{StatusScheduled, StatusPublished, true},
		{StatusScheduled, StatusArchived, false},
		{StatusDeleted, StatusDraft, true},
		{StatusDeleted, StatusPublished, false},
		{StatusDeleted, StatusDeleted, true},
		{StatusPublished, StatusPublished, true},
		{StatusDraft, "pending", false},
		{StatusDraft, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestArticleSetStatus(t *testing.T) {
	a := &Article{Status: StatusDraft, UpdatedAt: time.Now().Add(-time.Hour)}
	before := a.UpdatedAt

	require.NoError(t, a.SetStatus(StatusPublished))
	assert.Equal(t, StatusPublished, a.Status)
	require.NotNil(t, a.PublishedAt)
	assert.True(t, a.UpdatedAt.After(before))

	published := *a.PublishedAt
	require.NoError(t, a.SetStatus(StatusPublished))
	assert.Equal(t, published, *a.PublishedAt, "identity transition keeps published_at")

	err := a.SetStatus(StatusDraft)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPublished, a.Status)
}

func TestArticleSoftDeleteAndRestore(t *testing.T) {
	a := &Article{Status: StatusPublished}

	require.NoError(t, a.SoftDelete())
	assert.Equal(t, StatusDeleted, a.Status)
	require.NoError(t, a.SoftDelete(), "soft delete is idempotent")

	require.NoError(t, a.Restore())
	assert.Equal(t, StatusDraft, a.Status)

	assert.ErrorIs(t, a.Restore(), ErrInvalidTransition)
}

func TestEntityForTable(t *testing.T) {
	assert.Equal(t, EntityArticle, EntityForTable("articles"))
	assert.Equal(t, EntityArticle, EntityForTable("`ARTICLES`"))
	assert.Equal(t, EntityCategory, EntityForTable(`"categories"`))
	assert.Equal(t, EntityUser, EntityForTable("Users"))
	assert.Equal(t, EntityOther, EntityForTable("sessions"))
	assert.Equal(t, "", EntityOther.Table())
	assert.Nil(t, SchemaFor(EntityOther))
}

func TestSchemaFirstFieldIsID(t *testing.T) {
	for _, name := range StandardTableNames {
		s := SchemaFor(EntityForTable(name))
		require.NotNil(t, s, name)
		assert.Equal(t, "id", s.Fields[0].Name, name)
		assert.Equal(t, KindInt, s.Fields[0].Kind, name)
	}
	f, ok := SchemaFor(EntityArticle).Field("featured_image")
	require.True(t, ok)
	assert.True(t, f.PreserveOnEmpty)
	assert.True(t, f.Nullable)
}

func TestRowDecode(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cat := int64(2)
	row := Row{
		"id":             int64(7),
		"title":          "Hello",
		"slug":           "hello",
		"status":         "published",
		"category_id":    cat,
		"author_id":      nil,
		"featured_image": `{"url":"/img/a.png","alt":"A"}`,
		"tags":           `["go","db"]`,
		"is_featured":    true,
		"view_count":     int64(3),
		"created_at":     created,
		"updated_at":     created,
		"published_at":   nil,
	}

	var a Article
	require.NoError(t, row.Decode(&a))
	assert.Equal(t, int64(7), a.ID)
	assert.Equal(t, StatusPublished, a.Status)
	require.NotNil(t, a.CategoryID)
	assert.Equal(t, cat, *a.CategoryID)
	assert.Nil(t, a.AuthorID)
	require.NotNil(t, a.FeaturedImage)
	assert.Equal(t, "/img/a.png", a.FeaturedImage.URL)
	assert.Equal(t, Tags{"go", "db"}, a.Tags)
	assert.True(t, created.Equal(a.CreatedAt))
	assert.Nil(t, a.PublishedAt)

	id, ok := row.ID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
}

func TestMutationResultJSON(t *testing.T) {
	data, err := json.Marshal(MutationResult{InsertID: 4, RowsAffected: 1})
	require.NoError(t, err)

	var got map[string]int64
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]int64{
		"insertId":     4,
		"lastID":       4,
		"rowsAffected": 1,
		"affectedRows": 1,
		"changes":      1,
	}, got)
}

func TestTypedErrors(t *testing.T) {
	var err error = &ClassificationError{Statement: "PRAGMA x", Reason: "unsupported verb"}
	assert.ErrorIs(t, err, ErrClassificationMiss)

	err = &ParameterMismatchError{Op: "select articles", Expected: 2, Got: 1}
	assert.ErrorIs(t, err, ErrParameterMismatch)
	assert.Contains(t, err.Error(), "expects 2 parameters, got 1")

	cause := errors.New("UNIQUE constraint failed: articles.slug")
	err = &BackendError{Backend: EngineSQLite, Op: "insert articles", Err: cause}
	assert.ErrorIs(t, err, ErrBackendExecution)
	assert.ErrorIs(t, err, cause)
}

type memImageStore map[string][]byte

func (m memImageStore) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	m[name] = data
	return "/uploads/" + name, nil
}

func TestResolveImage(t *testing.T) {
	ctx := context.Background()

	img, err := ResolveImage(ctx, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, img)

	img, err = ResolveImage(ctx, URLImage{URL: "https://cdn.example.com/a/cover.jpg", Alt: "cover"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "cover.jpg", img.Filename)
	assert.Equal(t, "cover", img.Alt)

	_, err = ResolveImage(ctx, UploadedImage{Data: []byte("png"), Filename: "x.PNG"}, nil)
	assert.ErrorIs(t, err, ErrNoImageStore)

	store := memImageStore{}
	img, err = ResolveImage(ctx, UploadedImage{Data: []byte("png"), Filename: "x.PNG", ContentType: "image/png"}, store)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(img.Filename, ".png"))
	assert.Equal(t, "/uploads/"+img.Filename, img.URL)
	assert.Equal(t, int64(3), img.Size)
	assert.Len(t, store, 1)

	stored := FeaturedImage{URL: "/img/b.png"}
	img, err = ResolveImage(ctx, StoredImage{Image: stored}, nil)
	require.NoError(t, err)
	assert.Equal(t, stored, *img)
}
