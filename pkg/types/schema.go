package types

// FieldKind determines how a field is stored, coerced, and defaulted.
type FieldKind int

// Field kinds.
const (
	KindInt FieldKind = iota
	KindText
	KindBool
	KindTime
	KindImage
	KindTags
)

func (k FieldKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindImage:
		return "image"
	case KindTags:
		return "tags"
	default:
		return "unknown"
	}
}

// Field describes one column of an entity.
type Field struct {
	Name     string
	Kind     FieldKind
	Nullable bool // NULL is a legal stored value and survives normalization.
	Unique   bool
	Required bool // Must be supplied on insert.

	// Default is the value written when an insert omits the field. Time
	// fields with DefaultNow get the insert timestamp instead.
	Default    any
	DefaultNow bool

	// PreserveOnEmpty keeps the existing value when an update supplies
	// NULL or an empty string for this field.
	PreserveOnEmpty bool

	// References names the table an integer foreign key points to.
	References string
}

// Schema is the ordered field list of an entity. The first field is always
// the integer primary key "id".
type Schema struct {
	Entity Entity
	Fields []Field
	index  map[string]int
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Has reports whether the schema declares the named field.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Names returns the field names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

func newSchema(e Entity, fields ...Field) *Schema {
	s := &Schema{Entity: e, Fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		s.index[f.Name] = i
	}
	return s
}

var idField = Field{Name: "id", Kind: KindInt}

var timestamps = []Field{
	{Name: "created_at", Kind: KindTime, DefaultNow: true},
	{Name: "updated_at", Kind: KindTime, DefaultNow: true},
}

var articleSchema = newSchema(EntityArticle, append([]Field{
	idField,
	{Name: "title", Kind: KindText, Required: true, Default: ""},
	{Name: "slug", Kind: KindText, Required: true, Unique: true, Default: ""},
	{Name: "content", Kind: KindText, Default: ""},
	{Name: "excerpt", Kind: KindText, Default: ""},
	{Name: "status", Kind: KindText, Default: string(StatusDraft)},
	{Name: "category_id", Kind: KindInt, Nullable: true, References: TableCategories},
	{Name: "author_id", Kind: KindInt, Nullable: true, References: TableUsers},
	{Name: "featured_image", Kind: KindImage, Nullable: true, PreserveOnEmpty: true},
	{Name: "tags", Kind: KindTags, Default: []string{}},
	{Name: "is_featured", Kind: KindBool, Default: false},
	{Name: "view_count", Kind: KindInt, Default: int64(0)},
}, append(timestamps,
	Field{Name: "published_at", Kind: KindTime, Nullable: true},
)...)...)

var categorySchema = newSchema(EntityCategory, append([]Field{
	idField,
	{Name: "name", Kind: KindText, Required: true, Default: ""},
	{Name: "slug", Kind: KindText, Required: true, Unique: true, Default: ""},
	{Name: "description", Kind: KindText, Default: ""},
	{Name: "color", Kind: KindText, Default: "#3B82F6"},
	{Name: "icon", Kind: KindText, Default: ""},
	{Name: "parent_id", Kind: KindInt, Nullable: true, References: TableCategories},
	{Name: "is_active", Kind: KindBool, Default: true},
	{Name: "sort_order", Kind: KindInt, Default: int64(0)},
}, timestamps...)...)

var userSchema = newSchema(EntityUser, append([]Field{
	idField,
	{Name: "username", Kind: KindText, Required: true, Unique: true, Default: ""},
	{Name: "email", Kind: KindText, Required: true, Unique: true, Default: ""},
	{Name: "password_hash", Kind: KindText, Default: ""},
	{Name: "role", Kind: KindText, Default: "author"},
	{Name: "first_name", Kind: KindText, Default: ""},
	{Name: "last_name", Kind: KindText, Default: ""},
	{Name: "display_name", Kind: KindText, Default: ""},
	{Name: "is_active", Kind: KindBool, Default: true},
}, timestamps...)...)

// SchemaFor returns the schema of an entity, or nil for EntityOther.
func SchemaFor(e Entity) *Schema {
	switch e {
	case EntityArticle:
		return articleSchema
	case EntityCategory:
		return categorySchema
	case EntityUser:
		return userSchema
	default:
		return nil
	}
}
