package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

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

func TestBuildPipelineMatch(t *testing.T) {
	in := classify(t, "SELECT * FROM articles WHERE status = ? ORDER BY published_at DESC LIMIT ?", "published", 5)
	p, err := BuildPipeline(in)
	require.NoError(t, err)

	assert.Equal(t, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "status", Value: "published"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "published_at", Value: -1}}}},
		{{Key: "$limit", Value: int64(5)}},
		{{Key: "$project", Value: bson.D{{Key: "_id", Value: 0}}}},
	}, p)
}

func TestBuildPipelinePredicates(t *testing.T) {
	in := classify(t, "SELECT id FROM categories WHERE (name = ? OR slug = ?) AND id != ?", "News", "news", 3)
	p, err := BuildPipeline(in)
	require.NoError(t, err)

	assert.Equal(t, bson.D{{Key: "$match", Value: bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "name", Value: "News"}},
			bson.D{{Key: "slug", Value: "news"}},
		}}},
		bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: "id", Value: bson.D{{Key: "$ne", Value: int64(3)}}}},
			bson.D{{Key: "id", Value: bson.D{{Key: "$ne", Value: nil}}}},
		}}},
	}}}}}, p[0])
	assert.Equal(t, bson.D{{Key: "$project", Value: bson.D{{Key: "_id", Value: 0}, {Key: "id", Value: 1}}}}, p[1])

	in = classify(t, "SELECT * FROM categories WHERE parent_id IS NULL AND name LIKE '%new_s%' AND is_active = 1")
	p, err = BuildPipeline(in)
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$match", Value: bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "parent_id", Value: nil}},
		bson.D{{Key: "name", Value: bson.D{{Key: "$regex", Value: "^.*new.s.*$"}, {Key: "$options", Value: "i"}}}},
		bson.D{{Key: "is_active", Value: true}},
	}}}}}, p[0], "literals are coerced to the field kind")
}

func TestBuildPipelineNullComparisons(t *testing.T) {
	tests := []struct {
		name   string
		stmt   string
		params []any
		want   bson.D
	}{
		{
			name:   "not equal skips null fields",
			stmt:   "SELECT id FROM articles WHERE category_id != ?",
			params: []any{1},
			want: bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "category_id", Value: bson.D{{Key: "$ne", Value: int64(1)}}}},
				bson.D{{Key: "category_id", Value: bson.D{{Key: "$ne", Value: nil}}}},
			}}},
		},
		{
			name:   "equal to null matches nothing",
			stmt:   "SELECT id FROM articles WHERE category_id = ?",
			params: []any{nil},
			want:   bson.D{{Key: "category_id", Value: bson.D{{Key: "$in", Value: bson.A{}}}}},
		},
		{
			name:   "not equal to null matches nothing",
			stmt:   "SELECT id FROM articles WHERE author_id <> ?",
			params: []any{nil},
			want:   bson.D{{Key: "author_id", Value: bson.D{{Key: "$in", Value: bson.A{}}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := BuildPipeline(classify(t, tt.stmt, tt.params...))
			require.NoError(t, err)
			assert.Equal(t, bson.D{{Key: "$match", Value: tt.want}}, p[0])
		})
	}
}

func TestBuildPipelineLookups(t *testing.T) {
	in := classify(t, `SELECT a.*, c.name AS category_name, u.username AS author_name
		FROM articles a
		LEFT JOIN categories c ON a.category_id = c.id
		LEFT JOIN users u ON u.id = a.author_id`)
	p, err := BuildPipeline(in)
	require.NoError(t, err)
	require.Len(t, p, 5)

	assert.Equal(t, bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: "categories"},
		{Key: "localField", Value: "category_id"},
		{Key: "foreignField", Value: "id"},
		{Key: "as", Value: "_lookup_c"},
	}}}, p[0])
	assert.Equal(t, bson.D{{Key: "$addFields", Value: bson.D{
		{Key: "category_name", Value: bson.D{{Key: "$ifNull", Value: bson.A{
			bson.D{{Key: "$arrayElemAt", Value: bson.A{"$_lookup_c.name", 0}}},
			"",
		}}}},
	}}}, p[1])
	assert.Equal(t, bson.D{{Key: "$project", Value: bson.D{
		{Key: "_id", Value: 0},
		{Key: "_lookup_c", Value: 0},
		{Key: "_lookup_u", Value: 0},
	}}}, p[4])
}

func TestBuildPipelineCount(t *testing.T) {
	in := classify(t, "SELECT COUNT(*) AS total FROM articles WHERE status = 'published' LIMIT 1")
	p, err := BuildPipeline(in)
	require.NoError(t, err)
	assert.Equal(t, mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "status", Value: "published"}}}},
		{{Key: "$count", Value: "total"}},
	}, p, "the window applies to the count row, not the counted documents")
}

func TestBuildPipelineRejects(t *testing.T) {
	_, err := BuildPipeline(classify(t, "DELETE FROM users WHERE id = ?", 1))
	assert.ErrorIs(t, err, types.ErrInvalidValue)

	in, err := query.Classify("SELECT * FROM sessions", nil)
	require.NoError(t, err)
	_, err = BuildPipeline(in)
	assert.ErrorIs(t, err, types.ErrInvalidValue)

	_, err = BuildPipeline(classify(t, "SELECT * FROM articles LIMIT ?", "many"))
	assert.ErrorIs(t, err, types.ErrInvalidValue)
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		like string
		want string
	}{
		{"%news%", "^.*news.*$"},
		{"a_c", "^a.c$"},
		{"1.5%", `^1\.5.*$`},
		{"(x)", `^\(x\)$`},
		{"", "^$"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, likePattern(tt.like), tt.like)
	}
}

func TestWindowInMemory(t *testing.T) {
	tests := []struct {
		name   string
		stmt   string
		params []any
		want   bool
	}{
		{"plain select", "SELECT * FROM articles ORDER BY title LIMIT 5", nil, false},
		{"count", "SELECT COUNT(*) AS n FROM articles", nil, true},
		{"zero limit", "SELECT * FROM articles LIMIT ?", []any{0}, true},
		{
			"sort on article count",
			`SELECT c.*, COUNT(a.id) AS article_count FROM categories c
			LEFT JOIN articles a ON c.id = a.category_id GROUP BY c.id ORDER BY article_count DESC`,
			nil, true,
		},
		{
			"sort on category field",
			`SELECT c.*, COUNT(a.id) AS article_count FROM categories c
			LEFT JOIN articles a ON c.id = a.category_id GROUP BY c.id ORDER BY c.name`,
			nil, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := windowInMemory(classify(t, tt.stmt, tt.params...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyWindow(t *testing.T) {
	in := classify(t, `SELECT c.*, COUNT(a.id) AS article_count FROM categories c
		LEFT JOIN articles a ON c.id = a.category_id GROUP BY c.id
		ORDER BY article_count DESC, c.name LIMIT 2 OFFSET 1`)
	rows := []map[string]any{
		{"name": "b", "article_count": int64(1)},
		{"name": "a", "article_count": int64(3)},
		{"name": "c", "article_count": int64(1)},
		{"name": "d", "article_count": int64(0)},
	}
	got, err := applyWindow(in, rows)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0]["name"])
	assert.Equal(t, "c", got[1]["name"])
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, compareValues(nil, int64(0)))
	assert.Equal(t, 0, compareValues(int32(2), int64(2)))
	assert.Equal(t, 1, compareValues("b", "a"))
	assert.Equal(t, -1, compareValues(int64(9), "a"))
	assert.Equal(t, -1, compareValues(false, true))
	assert.Equal(t, 1, compareValues(bson.DateTime(2), bson.DateTime(1)))
}

func TestPlain(t *testing.T) {
	v := Plain(bson.M{
		"featured_image": bson.D{{Key: "url", Value: "/a.png"}},
		"tags":           bson.A{"go", bson.D{{Key: "k", Value: "v"}}},
	}).(map[string]any)
	assert.Equal(t, map[string]any{"url": "/a.png"}, v["featured_image"])
	assert.Equal(t, []any{"go", map[string]any{"k": "v"}}, v["tags"])
}
