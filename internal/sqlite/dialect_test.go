package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/quire/pkg/query"
	"github.com/mesh-intelligence/quire/pkg/types"
)

func classify(t *testing.T, stmt string, params ...any) *query.Intent {
	t.Helper()
	in, err := query.Classify(stmt, params)
	require.NoError(t, err)
	require.False(t, in.Unclassified, in.Reason)
	return in
}

func TestRewrite(t *testing.T) {
	tests := []struct {
		name   string
		stmt   string
		params []any
		want   string
	}{
		{
			name: "now function",
			stmt: "UPDATE articles SET updated_at = NOW() WHERE id = ?",
			params: []any{1},
			want: "UPDATE articles SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		},
		{
			name:   "insert ignore",
			stmt:   "INSERT IGNORE INTO categories (name, slug) VALUES (?, ?)",
			params: []any{"a", "a"},
			want:   "INSERT OR IGNORE INTO categories (name, slug) VALUES (?, ?)",
		},
		{
			name: "boolean literals and backticks",
			stmt: "SELECT * FROM `categories` WHERE is_active = TRUE",
			want: `SELECT * FROM "categories" WHERE is_active = 1`,
		},
		{
			name:   "preserve featured image on empty",
			stmt:   "UPDATE articles SET title = ?, featured_image = ?, status = ? WHERE id = ?",
			params: []any{"t", "", "draft", 1},
			want:   `UPDATE articles SET title = ?, featured_image = COALESCE(NULLIF(?, ''), "featured_image"), status = ? WHERE id = ?`,
		},
		{
			name:   "image in where clause is untouched",
			stmt:   "SELECT id FROM articles WHERE featured_image = ?",
			params: []any{"x"},
			want:   "SELECT id FROM articles WHERE featured_image = ?",
		},
		{
			name: "string contents are preserved",
			stmt: "SELECT * FROM articles WHERE title = 'NOW() TRUE'",
			want: "SELECT * FROM articles WHERE title = 'NOW() TRUE'",
		},
		{
			name: "bare star next to a join",
			stmt: "SELECT * FROM articles a LEFT JOIN categories c ON a.category_id = c.id",
			want: `SELECT "a".* FROM articles a LEFT JOIN categories c ON a.category_id = c.id`,
		},
		{
			name: "bare star before a lookup column",
			stmt: "SELECT *, c.name AS category_name FROM articles a LEFT JOIN categories c ON a.category_id = c.id",
			want: `SELECT "a".*, c.name AS category_name FROM articles a LEFT JOIN categories c ON a.category_id = c.id`,
		},
		{
			name: "count star is untouched",
			stmt: "SELECT COUNT(*) AS n FROM articles",
			want: "SELECT COUNT(*) AS n FROM articles",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rewrite(classify(t, tt.stmt, tt.params...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArgs(t *testing.T) {
	published := time.Date(2024, 2, 3, 4, 5, 6, 7, time.FixedZone("X", 3600))
	in := classify(t,
		"INSERT INTO articles (title, slug, is_featured, tags, featured_image, published_at, view_count) VALUES (?, ?, ?, ?, ?, ?, ?)",
		"T", "t", true, []string{"a", "b"}, &types.FeaturedImage{URL: "/u.png"}, published, 3,
	)
	got, err := args(in)
	require.NoError(t, err)

	assert.Equal(t, int64(1), got[2])
	assert.Equal(t, `["a","b"]`, got[3])
	assert.Contains(t, got[4], `"url":"/u.png"`)
	assert.Equal(t, "2024-02-03 03:05:06", got[5])
	assert.Equal(t, 3, got[6])

	in = classify(t, "UPDATE articles SET tags = ? WHERE id = ?", "x, y", 1)
	got, err = args(in)
	require.NoError(t, err)
	assert.Equal(t, `["x","y"]`, got[0])

	in = classify(t, "SELECT * FROM articles WHERE is_featured = ?", "maybe")
	_, err = args(in)
	assert.ErrorIs(t, err, types.ErrInvalidValue)
}

func TestRender(t *testing.T) {
	in, err := query.Select(types.EntityArticle).
		Where("status", query.CmpEq, "published").
		WithCategory(query.JoinField{Field: "name", As: "category_name"}).
		OrderBy("published_at", true).
		Limit(5).
		Build()
	require.NoError(t, err)

	sql, a, err := render(in)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT articles.*, "categories".name AS "category_name" FROM articles LEFT JOIN categories AS "categories" ON "categories".id = articles.category_id WHERE articles.status = ? ORDER BY articles.published_at DESC LIMIT 5`,
		sql)
	assert.Equal(t, []any{"published"}, a)

	in, err = query.Select(types.EntityCategory).
		CountArticles("article_count", query.Cond{Field: "status", Op: query.CmpEq, Value: query.Lit("published")}).
		Where("is_active", query.CmpEq, true).
		Build()
	require.NoError(t, err)
	sql, a, err = render(in)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT categories.*, COUNT("articles".id) AS "article_count" FROM categories LEFT JOIN articles AS "articles" ON "articles".category_id = categories.id AND "articles".status = ? WHERE categories.is_active = ? GROUP BY categories.id`,
		sql)
	assert.Equal(t, []any{"published", int64(1)}, a)

	in, err = query.Update(types.EntityArticle, 7).
		Set("featured_image", nil).
		Increment("view_count", 1).
		Touch("updated_at").
		Guard("status", query.CmpNe, "deleted").
		Build()
	require.NoError(t, err)
	sql, a, err = render(in)
	require.NoError(t, err)
	assert.Equal(t,
		`UPDATE articles SET featured_image = COALESCE(NULLIF(?, ''), featured_image), view_count = view_count + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND articles.status <> ?`,
		sql)
	assert.Equal(t, []any{nil, int64(1), int64(7), "deleted"}, a)

	in, err = query.Insert(types.EntityCategory).Set("name", "N").Set("slug", "n").IgnoreConflict().Build()
	require.NoError(t, err)
	sql, _, err = render(in)
	require.NoError(t, err)
	assert.Equal(t, "INSERT OR IGNORE INTO categories (name,slug) VALUES (?,?)", sql)

	in, err = query.Delete(types.EntityUser, 2)
	require.NoError(t, err)
	sql, a, err = render(in)
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM users WHERE id = ?", sql)
	assert.Equal(t, []any{int64(2)}, a)
}

func TestCreateTable(t *testing.T) {
	ddl := createTable(types.SchemaFor(types.EntityCategory))
	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS categories")
	assert.Contains(t, ddl, "id INTEGER PRIMARY KEY AUTOINCREMENT")
	assert.Contains(t, ddl, "slug TEXT NOT NULL UNIQUE DEFAULT ''")
	assert.Contains(t, ddl, "color TEXT DEFAULT '#3B82F6'")
	assert.Contains(t, ddl, "is_active INTEGER DEFAULT 1")
	assert.Contains(t, ddl, "parent_id INTEGER REFERENCES categories(id)")
	assert.Contains(t, ddl, "created_at TEXT DEFAULT CURRENT_TIMESTAMP")

	ddl = createTable(types.SchemaFor(types.EntityArticle))
	assert.Contains(t, ddl, "tags TEXT DEFAULT '[]'")
}
