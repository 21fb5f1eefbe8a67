package sqlite

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// Index DDL for the queries callers issue most.
const (
	idxArticlesStatus    = `CREATE INDEX IF NOT EXISTS idx_articles_status ON articles(status);`
	idxArticlesCategory  = `CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category_id);`
	idxArticlesAuthor    = `CREATE INDEX IF NOT EXISTS idx_articles_author ON articles(author_id);`
	idxArticlesCreated   = `CREATE INDEX IF NOT EXISTS idx_articles_created ON articles(created_at);`
	idxArticlesPublished = `CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);`
	idxCategoriesParent  = `CREATE INDEX IF NOT EXISTS idx_categories_parent ON categories(parent_id);`
)

var indexDDL = []string{
	idxArticlesStatus,
	idxArticlesCategory,
	idxArticlesAuthor,
	idxArticlesCreated,
	idxArticlesPublished,
	idxCategoriesParent,
}

// schemaDDL returns the CREATE TABLE statements for every entity, in
// dependency order, followed by the index statements.
func schemaDDL() []string {
	var ddl []string
	for _, name := range types.StandardTableNames {
		ddl = append(ddl, createTable(types.SchemaFor(types.EntityForTable(name))))
	}
	return append(ddl, indexDDL...)
}

// createTable renders the DDL for one entity schema.
//
// Only the primary key and required columns are NOT NULL; every other
// column may hold NULL, as a document may omit the field. References are
// declared but not enforced: foreign_keys stays off so a hard delete never
// cascades or fails on dependents.
func createTable(s *types.Schema) string {
	var cols []string
	for _, f := range s.Fields {
		if f.Name == "id" {
			cols = append(cols, "    id INTEGER PRIMARY KEY AUTOINCREMENT")
			continue
		}
		col := "    " + f.Name + " " + columnType(f.Kind)
		if f.Required {
			col += " NOT NULL"
		}
		if f.Unique {
			col += " UNIQUE"
		}
		switch {
		case f.DefaultNow:
			col += " DEFAULT CURRENT_TIMESTAMP"
		case f.Default != nil:
			col += " DEFAULT " + literal(f.Default)
		}
		if f.References != "" {
			col += " REFERENCES " + f.References + "(id)"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", s.Entity.Table(), strings.Join(cols, ",\n"))
}

// columnType maps a field kind to its SQLite storage class. Timestamps are
// TEXT in the CURRENT_TIMESTAMP layout; images and tags are JSON text.
func columnType(k types.FieldKind) string {
	switch k {
	case types.KindInt, types.KindBool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// literal renders a default value as an SQL literal.
func literal(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int64:
		return fmt.Sprint(x)
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		data, _ := json.Marshal(x)
		return "'" + strings.ReplaceAll(string(data), "'", "''") + "'"
	}
}
