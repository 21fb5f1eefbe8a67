package types

import "strings"

// Entity identifies one of the collections the adapter understands.
type Entity int

// Recognized entities. EntityOther marks a statement that names a table the
// adapter has no schema for.
const (
	EntityOther Entity = iota
	EntityArticle
	EntityCategory
	EntityUser
)

// Table and collection names. Both engines use the same names.
const (
	TableArticles   = "articles"
	TableCategories = "categories"
	TableUsers      = "users"
)

// StandardTableNames lists the entity tables in dependency order: categories
// and users first, since articles reference both.
var StandardTableNames = []string{
	TableCategories,
	TableUsers,
	TableArticles,
}

// EntityForTable maps a table name to its entity. Matching is
// case-insensitive and tolerates quoting.
func EntityForTable(name string) Entity {
	switch strings.ToLower(strings.Trim(name, "`\"[]")) {
	case TableArticles:
		return EntityArticle
	case TableCategories:
		return EntityCategory
	case TableUsers:
		return EntityUser
	default:
		return EntityOther
	}
}

// Table returns the table name for the entity, or "" for EntityOther.
func (e Entity) Table() string {
	switch e {
	case EntityArticle:
		return TableArticles
	case EntityCategory:
		return TableCategories
	case EntityUser:
		return TableUsers
	default:
		return ""
	}
}

func (e Entity) String() string {
	switch e {
	case EntityArticle:
		return "article"
	case EntityCategory:
		return "category"
	case EntityUser:
		return "user"
	default:
		return "other"
	}
}
