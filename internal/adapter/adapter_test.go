package adapter

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quire/internal/docstore"
	"github.com/mesh-intelligence/quire/internal/docstore/docstoretest"
	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

type engine struct {
	name string
	open func(t *testing.T, cfg types.Config) *Adapter
}

func memoryDocuments(ctx context.Context) (Backend, error) {
	b, err := docstore.New(ctx, docstoretest.New())
	if err != nil {
		return nil, err
	}
	return b, nil
}

var engines = []engine{
	{
		name: types.EngineSQLite,
		open: func(t *testing.T, cfg types.Config) *Adapter {
			cfg.Backend = types.BackendRelational
			cfg.SQLite.Path = filepath.Join(t.TempDir(), "quire.db")
			return New(NewSelector(cfg), cfg)
		},
	},
	{
		name: types.EngineMongoDB,
		open: func(t *testing.T, cfg types.Config) *Adapter {
			cfg.Backend = types.BackendDocument
			return New(NewSelector(cfg, WithDocumentDialer(memoryDocuments)), cfg)
		},
	},
}

// forEachEngine runs fn once per engine with a fresh, empty store.
func forEachEngine(t *testing.T, cfg types.Config, fn func(t *testing.T, a *Adapter)) {
	for _, e := range engines {
		t.Run(e.name, func(t *testing.T) {
			a := e.open(t, cfg)
			t.Cleanup(func() { a.Close(context.Background()) })
			b, err := a.Backend(context.Background())
			require.NoError(t, err)
			require.Equal(t, e.name, b.Engine())
			fn(t, a)
		})
	}
}

func mustExec(t *testing.T, a *Adapter, stmt string, params ...any) types.MutationResult {
	t.Helper()
	res, err := a.Exec(context.Background(), stmt, params...)
	require.NoError(t, err, stmt)
	return res
}

func seed(t *testing.T, a *Adapter) {
	t.Helper()
	mustExec(t, a, "INSERT INTO categories (name, slug, color, icon, is_active, sort_order) VALUES (?, ?, ?, ?, ?, ?)",
		"Technology", "technology", "#10B981", "💻", true, 1)
	mustExec(t, a, "INSERT INTO categories (name, slug, description, is_active, sort_order) VALUES (?, ?, ?, ?, ?)",
		"Life", "life", "Everyday", false, 2)
	mustExec(t, a, "INSERT INTO users (username, email, role, display_name) VALUES (?, ?, ?, ?)",
		"ann", "ann@example.com", "admin", "Ann")
	mustExec(t, a, `INSERT INTO articles (title, slug, content, excerpt, status, category_id, author_id, featured_image, tags, is_featured, view_count, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"Go", "go", "body", "short", "published", 1, 1,
		&types.FeaturedImage{URL: "/img/go.png", Filename: "go.png", Size: 2048, Type: "image/png", Alt: "gopher", Position: "center"},
		[]string{"go", "lang"}, true, 7, time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	mustExec(t, a, "INSERT INTO articles (title, slug, status, category_id, tags) VALUES (?, ?, ?, ?, ?)",
		"Draft", "draft", "draft", 2, "a, b")
	mustExec(t, a, "INSERT INTO articles (title, slug, status) VALUES (?, ?, ?)", "Gone", "gone", "deleted")
}

func TestResultShapeParity(t *testing.T) {
	shapes := []struct {
		name   string
		stmt   string
		params []any
	}{
		{"scan", "SELECT * FROM articles", nil},
		{"not deleted", "SELECT * FROM articles WHERE status != 'deleted' ORDER BY created_at DESC", nil},
		{"by status", "SELECT * FROM articles WHERE status = ? ORDER BY published_at DESC LIMIT ?", []any{"published", 10}},
		{"by id", "SELECT id, title FROM articles WHERE id = ?", []any{2}},
		{"lookups", `SELECT a.*, c.name AS category_name, c.slug AS category_slug, u.username AS author_name
			FROM articles a
			LEFT JOIN categories c ON a.category_id = c.id
			LEFT JOIN users u ON a.author_id = u.id
			WHERE a.status != 'deleted'`, nil},
		{"article counts", `SELECT c.*, COUNT(a.id) AS article_count
			FROM categories c
			LEFT JOIN articles a ON c.id = a.category_id AND a.status = 'published'
			GROUP BY c.id
			ORDER BY c.sort_order`, nil},
		{"count", "SELECT COUNT(*) AS total FROM articles WHERE status = 'published'", nil},
		{"duplicate check", "SELECT id FROM categories WHERE name = ? OR slug = ?", []any{"Life", "x"}},
		{"like", "SELECT * FROM categories WHERE parent_id IS NULL AND name LIKE '%TECH%'", nil},
		{"users", "SELECT * FROM users", nil},
		{"bare star with join", "SELECT * FROM articles a LEFT JOIN categories c ON a.category_id = c.id", nil},
		{"nullable not equal", "SELECT id FROM articles WHERE category_id != ?", []any{1}},
		{"nullable not equal literal", "SELECT id, title FROM articles WHERE author_id <> 2", nil},
	}

	for _, mode := range []string{types.JSONDecoded, types.JSONEncoded} {
		t.Run(mode, func(t *testing.T) {
			cfg := types.Config{JSONFields: mode}
			results := make(map[string][][]types.Row)
			for _, e := range engines {
				a := e.open(t, cfg)
				seed(t, a)
				for _, s := range shapes {
					rows, err := a.Query(context.Background(), s.stmt, s.params...)
					require.NoError(t, err, "%s %s", e.name, s.name)
					slices.SortFunc(rows, func(x, y types.Row) int {
						xi, _ := x.ID()
						yi, _ := y.ID()
						return int(xi - yi)
					})
					results[e.name] = append(results[e.name], rows)
				}
				require.NoError(t, a.Close(context.Background()))
			}

			rel, doc := results[types.EngineSQLite], results[types.EngineMongoDB]
			for i, s := range shapes {
				t.Run(s.name, func(t *testing.T) {
					require.NotEmpty(t, rel[i])
					require.Len(t, doc[i], len(rel[i]))
					for j := range rel[i] {
						assertSameRow(t, rel[i][j], doc[i][j])
					}
				})
			}
		})
	}
}

// assertSameRow compares two normalized rows field by field. Timestamps
// written at insert time only need to agree on type.
func assertSameRow(t *testing.T, want, got types.Row) {
	t.Helper()
	require.ElementsMatch(t, keys(want), keys(got))
	for k, v := range want {
		if _, ok := v.(time.Time); ok && k != "published_at" {
			assert.IsType(t, v, got[k], k)
			continue
		}
		assert.Equal(t, v, got[k], k)
	}
	if id, ok := want["id"]; ok {
		assert.IsType(t, int64(0), id)
		assert.IsType(t, int64(0), got["id"])
	}
}

func keys(r types.Row) []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	return out
}

func TestInsertReadRoundTrip(t *testing.T) {
	forEachEngine(t, types.Config{}, func(t *testing.T, a *Adapter) {
		ctx := context.Background()
		img := &types.FeaturedImage{URL: "/u/x.jpg", Filename: "x.jpg", Size: 10, Type: "image/jpeg", Alt: "x", Caption: "cap", Position: "top"}

		res := mustExec(t, a,
			"INSERT INTO articles (title, slug, content, excerpt, status, featured_image, tags, is_featured, view_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			"Title", "title", "Body", "Ex", "draft", img, []string{"one", "two"}, true, 3)
		require.Equal(t, int64(1), res.InsertID)
		assert.Equal(t, res.InsertID, res.LastID())

		rows, err := a.Query(ctx, "SELECT * FROM articles WHERE id = ?", res.InsertID)
		require.NoError(t, err)
		require.Len(t, rows, 1)

		var got types.Article
		require.NoError(t, rows[0].Decode(&got))
		assert.Equal(t, int64(1), got.ID)
		assert.Equal(t, "Title", got.Title)
		assert.Equal(t, "Body", got.Content)
		assert.Equal(t, "Ex", got.Excerpt)
		assert.Equal(t, types.StatusDraft, got.Status)
		assert.Equal(t, img, got.FeaturedImage)
		assert.Equal(t, types.Tags{"one", "two"}, got.Tags)
		assert.True(t, got.IsFeatured)
		assert.Equal(t, int64(3), got.ViewCount)
		assert.Nil(t, got.CategoryID)
		assert.Nil(t, got.PublishedAt)
		assert.False(t, got.CreatedAt.IsZero())
	})
}

func TestPartialUpdatePreservesFields(t *testing.T) {
	forEachEngine(t, types.Config{}, func(t *testing.T, a *Adapter) {
		ctx := context.Background()
		mustExec(t, a, "INSERT INTO articles (title, slug, content, status, featured_image, tags) VALUES (?, ?, ?, ?, ?, ?)",
			"T", "t", "keep me", "draft", `{"url":"/a.png","alt":"A"}`, []string{"x"})

		before, err := a.Query(ctx, "SELECT * FROM articles WHERE id = ?", 1)
		require.NoError(t, err)
		require.Nil(t, before[0]["published_at"])

		res := mustExec(t, a, "UPDATE articles SET status = ? WHERE id = ?", "published", 1)
		assert.Equal(t, int64(1), res.RowsAffected)
		assert.Equal(t, int64(1), res.Changes())

		after, err := a.Query(ctx, "SELECT * FROM articles WHERE id = ?", 1)
		require.NoError(t, err)
		for _, f := range []string{"featured_image", "tags", "content", "title", "created_at"} {
			assert.Equal(t, before[0][f], after[0][f], f)
		}
		assert.Equal(t, "published", after[0]["status"])
		assert.NotNil(t, after[0]["published_at"], "publishing sets published_at")

		// Republishing keeps the original timestamp.
		published := after[0]["published_at"]
		mustExec(t, a, "UPDATE articles SET status = ?, title = ? WHERE id = ?", "published", "T2", 1)
		again, err := a.Query(ctx, "SELECT * FROM articles WHERE id = ?", 1)
		require.NoError(t, err)
		assert.Equal(t, published, again[0]["published_at"])

		// An empty image keeps the stored one.
		mustExec(t, a, "UPDATE articles SET featured_image = ?, updated_at = NOW() WHERE id = ?", "", 1)
		again, err = a.Query(ctx, "SELECT * FROM articles WHERE id = ?", 1)
		require.NoError(t, err)
		assert.Equal(t, before[0]["featured_image"], again[0]["featured_image"])
	})
}

func TestStatusLifecycle(t *testing.T) {
	forEachEngine(t, types.Config{}, func(t *testing.T, a *Adapter) {
		ctx := context.Background()
		mustExec(t, a, "INSERT INTO articles (title, slug, status) VALUES (?, ?, ?)", "T", "t", "published")

		_, err := a.Exec(ctx, "UPDATE articles SET status = ? WHERE id = ?", "draft", 1)
		assert.ErrorIs(t, err, types.ErrInvalidTransition)
		_, err = a.Exec(ctx, "UPDATE articles SET status = ? WHERE id = ?", "lost", 1)
		assert.ErrorIs(t, err, types.ErrInvalidStatus)

		keep := "UPDATE articles SET title = ?, status = COALESCE(?, status) WHERE id = ?"
		assert.Equal(t, int64(1), mustExec(t, a, keep, "Kept", nil, 1).RowsAffected)
		rows, err := a.Query(ctx, "SELECT title, status FROM articles WHERE id = ?", 1)
		require.NoError(t, err)
		assert.Equal(t, "Kept", rows[0]["title"])
		assert.Equal(t, "published", rows[0]["status"], "a NULL status operand keeps the current status")
		_, err = a.Exec(ctx, keep, "Kept", "draft", 1)
		assert.ErrorIs(t, err, types.ErrInvalidTransition, "a non-NULL operand is still checked")

		_, err = a.Restore(ctx, 1)
		assert.ErrorIs(t, err, types.ErrInvalidTransition, "restoring a live article is rejected")

		res, err := a.SoftDelete(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.RowsAffected)
		res, err = a.SoftDelete(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), res.RowsAffected, "second soft delete changes nothing")

		rows, err = a.Query(ctx, "SELECT * FROM articles WHERE id = ?", 1)
		require.NoError(t, err)
		assert.Equal(t, "deleted", rows[0]["status"])

		rows, err = a.Query(ctx, "SELECT * FROM articles WHERE status != 'deleted'")
		require.NoError(t, err)
		assert.Empty(t, rows)

		_, err = a.Restore(ctx, 1)
		require.NoError(t, err)
		rows, err = a.Query(ctx, "SELECT * FROM articles WHERE id = ?", 1)
		require.NoError(t, err)
		assert.Equal(t, "draft", rows[0]["status"])

		// The statement form of a soft delete is guarded the same way.
		soft := "UPDATE articles SET status = 'deleted', updated_at = NOW() WHERE id = ? AND status != 'deleted'"
		assert.Equal(t, int64(1), mustExec(t, a, soft, 1).RowsAffected)
		assert.Equal(t, int64(0), mustExec(t, a, soft, 1).RowsAffected)

		_, err = a.Restore(ctx, 99)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestHardDelete(t *testing.T) {
	forEachEngine(t, types.Config{}, func(t *testing.T, a *Adapter) {
		ctx := context.Background()
		seed(t, a)

		res, err := a.HardDelete(ctx, types.EntityArticle, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.RowsAffected)

		res = mustExec(t, a, "DELETE FROM articles WHERE id = ?", 3)
		assert.Equal(t, int64(0), res.RowsAffected)

		rows, err := a.Query(ctx, "SELECT COUNT(*) AS n FROM articles")
		require.NoError(t, err)
		assert.Equal(t, int64(2), rows[0]["n"])
	})
}

func TestCategoryDuplicateCheck(t *testing.T) {
	forEachEngine(t, types.Config{}, func(t *testing.T, a *Adapter) {
		ctx := context.Background()
		res := mustExec(t, a, "INSERT INTO categories (name, slug) VALUES (?, ?)", "Tech", "tech")

		rows, err := a.Query(ctx, "SELECT id FROM categories WHERE name = ? OR slug = ?", "Tech", "tech")
		require.NoError(t, err)
		assert.Len(t, rows, 1)

		rows, err = a.Query(ctx, "SELECT id FROM categories WHERE (name = ? OR slug = ?) AND id != ?", "Tech", "tech", res.InsertID)
		require.NoError(t, err)
		assert.Empty(t, rows, "a category does not conflict with itself")
	})
}

func TestGeneralCategoryScenario(t *testing.T) {
	forEachEngine(t, types.Config{}, func(t *testing.T, a *Adapter) {
		ctx := context.Background()
		stmt := "INSERT INTO categories (name, slug, color, icon, is_active, sort_order) VALUES (?, ?, ?, ?, ?, ?)"

		res := mustExec(t, a, stmt, "General", "general", "#3B82F6", "📁", true, 0)
		assert.Equal(t, int64(1), res.InsertID)

		_, err := a.Exec(ctx, stmt, "General", "general", "#3B82F6", "📁", true, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrBackendExecution)

		rows, err := a.Query(ctx, "SELECT id FROM categories WHERE name = ? OR slug = ?", "General", "general")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(1), rows[0]["id"])
	})
}

func TestUnclassifiedStatements(t *testing.T) {
	forEachEngine(t, types.Config{}, func(t *testing.T, a *Adapter) {
		ctx := context.Background()

		rows, err := a.Query(ctx, "SELECT * FROM sessions WHERE sid = ?", "abc")
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)

		_, err = a.Exec(ctx, "DELETE FROM articles WHERE status = 'deleted'")
		assert.ErrorIs(t, err, types.ErrClassificationMiss)

		_, err = a.Exec(ctx, "UPDATE articles SET status = ? WHERE id = ?", "published")
		var pm *types.ParameterMismatchError
		require.ErrorAs(t, err, &pm)
		assert.Equal(t, 2, pm.Expected)
		assert.Equal(t, 1, pm.Got)
	})

	forEachEngine(t, types.Config{StrictStatements: true}, func(t *testing.T, a *Adapter) {
		_, err := a.Query(context.Background(), "SELECT * FROM sessions")
		var ce *types.ClassificationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "SELECT * FROM sessions", ce.Statement)
	})
}

func TestBuiltIntents(t *testing.T) {
	forEachEngine(t, types.Config{}, func(t *testing.T, a *Adapter) {
		ctx := context.Background()
		seed(t, a)

		in, err := query.Select(types.EntityArticle).
			Where("status", query.CmpNe, "deleted").
			WithCategory(query.JoinField{Field: "name", As: "category_name"}).
			WithAuthor(query.JoinField{Field: "display_name", As: "author_name"}).
			OrderBy("title", false).
			Build()
		require.NoError(t, err)
		rows, err := a.Fetch(ctx, in)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Draft", rows[0]["title"])
		assert.Equal(t, "Life", rows[0]["category_name"])
		assert.Equal(t, "", rows[0]["author_name"])
		assert.Equal(t, []string{"a", "b"}, rows[0]["tags"])
		assert.Equal(t, "Ann", rows[1]["author_name"])

		up, err := query.Update(types.EntityArticle, 1).Increment("view_count", 1).Touch("updated_at").Build()
		require.NoError(t, err)
		_, err = a.Apply(ctx, up)
		require.NoError(t, err)

		in, err = query.Select(types.EntityCategory).
			CountArticles("article_count", query.Cond{Field: "status", Op: query.CmpEq, Value: query.Lit("published")}).
			OrderBy("article_count", true).
			Limit(1).
			Build()
		require.NoError(t, err)
		rows, err = a.Fetch(ctx, in)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Technology", rows[0]["name"])
		assert.Equal(t, int64(1), rows[0]["article_count"])

		rows, err = a.Query(ctx, "SELECT view_count FROM articles WHERE id = ?", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(8), rows[0]["view_count"])

		_, err = a.Fetch(ctx, up)
		assert.ErrorIs(t, err, types.ErrInvalidValue)
		_, err = a.Apply(ctx, in)
		assert.ErrorIs(t, err, types.ErrInvalidValue)
	})
}

type memImages struct {
	names []string
}

func (m *memImages) Put(_ context.Context, name, _ string, _ []byte) (string, error) {
	m.names = append(m.names, name)
	return "/uploads/" + name, nil
}

func TestSetImage(t *testing.T) {
	for _, e := range engines {
		t.Run(e.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := types.Config{}
			if e.name == types.EngineSQLite {
				cfg.Backend = types.BackendRelational
				cfg.SQLite.Path = filepath.Join(t.TempDir(), "quire.db")
			} else {
				cfg.Backend = types.BackendDocument
			}
			store := &memImages{}
			a := New(NewSelector(cfg, WithDocumentDialer(memoryDocuments)), cfg, WithImageStore(store))
			defer a.Close(ctx)
			mustExec(t, a, "INSERT INTO articles (title, slug) VALUES (?, ?)", "T", "t")

			_, err := a.SetImage(ctx, 1, types.UploadedImage{Data: []byte("png"), Filename: "Cat.PNG", ContentType: "image/png", Alt: "cat"})
			require.NoError(t, err)
			require.Len(t, store.names, 1)

			rows, err := a.Query(ctx, "SELECT featured_image FROM articles WHERE id = ?", 1)
			require.NoError(t, err)
			img := rows[0]["featured_image"].(*types.FeaturedImage)
			assert.Equal(t, "/uploads/"+store.names[0], img.URL)
			assert.Equal(t, int64(3), img.Size)
			assert.Equal(t, "cat", img.Alt)

			_, err = a.SetImage(ctx, 1, nil)
			require.NoError(t, err)
			rows, err = a.Query(ctx, "SELECT featured_image FROM articles WHERE id = ?", 1)
			require.NoError(t, err)
			assert.Equal(t, img, rows[0]["featured_image"], "a nil source keeps the image")

			_, err = a.SetImage(ctx, 1, types.URLImage{URL: "https://cdn.example.com/a/b.jpg"})
			require.NoError(t, err)
			rows, err = a.Query(ctx, "SELECT featured_image FROM articles WHERE id = ?", 1)
			require.NoError(t, err)
			assert.Equal(t, "b.jpg", rows[0]["featured_image"].(*types.FeaturedImage).Filename)
		})
	}
}

func TestBackendErrorsAreWrapped(t *testing.T) {
	db := docstoretest.New()
	cfg := types.Config{Backend: types.BackendDocument}
	a := New(NewSelector(cfg, WithDocumentDialer(func(ctx context.Context) (Backend, error) {
		b, err := docstore.New(ctx, db)
		if err != nil {
			return nil, err
		}
		return b, nil
	})), cfg)
	ctx := context.Background()
	_, err := a.Backend(ctx)
	require.NoError(t, err)

	boom := assert.AnError
	db.FailNext(boom)
	_, err = a.Query(ctx, "SELECT * FROM users")
	var be *types.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, types.EngineMongoDB, be.Backend)
	assert.Equal(t, "query", be.Op)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, types.ErrBackendExecution)
}

func TestTableNamesIgnoreCase(t *testing.T) {
	forEachEngine(t, types.Config{}, func(t *testing.T, a *Adapter) {
		ctx := context.Background()
		mustExec(t, a, "INSERT INTO Categories (name, slug) VALUES (?, ?)", "News", "news")
		mustExec(t, a, "UPDATE CATEGORIES SET description = ? WHERE id = ?", "Daily", 1)

		for _, stmt := range []string{"SELECT * FROM categories", "SELECT * FROM CATEGORIES", "SELECT * FROM `Categories`"} {
			rows, err := a.Query(ctx, stmt)
			require.NoError(t, err, stmt)
			require.Len(t, rows, 1, stmt)
			assert.Equal(t, "Daily", rows[0]["description"], stmt)
		}
	})
}

func TestBareStarJoinKeepsBaseRow(t *testing.T) {
	forEachEngine(t, types.Config{}, func(t *testing.T, a *Adapter) {
		seed(t, a)
		stmt := "SELECT * FROM articles a LEFT JOIN categories c ON a.category_id = c.id WHERE a.slug = ?"
		tests := []struct {
			slug string
			id   int64
		}{
			{"draft", 2},
			{"gone", 3},
		}
		for _, tt := range tests {
			rows, err := a.Query(context.Background(), stmt, tt.slug)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, tt.id, rows[0]["id"])
			assert.Equal(t, tt.slug, rows[0]["slug"])
		}
	})
}
