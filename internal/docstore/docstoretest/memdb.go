// Package docstoretest provides an in-memory document database for tests.
//
// DB implements docstore.Database. Documents, filters, updates, and
// pipeline stages are round-tripped through BSON, so stored values have the
// types a real deployment returns (int32/int64, bson.DateTime, bson.D
// sub-documents, bson.A arrays). The aggregation stages the backend emits
// are evaluated: $match, $lookup, $addFields, $sort, $skip, $limit, $count,
// and $project.
package docstoretest

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/mesh-intelligence/quire/internal/docstore"
)

// DB is an in-memory docstore.Database. The zero value is not usable; call
// New.
type DB struct {
	mu    sync.Mutex
	colls map[string]*collection
	fail  error
}

// New returns an empty database.
func New() *DB {
	return &DB{colls: make(map[string]*collection)}
}

// Collection returns the named collection, creating it on first use.
func (d *DB) Collection(name string) docstore.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.coll(name)
}

// FailNext makes the next collection operation return err.
func (d *DB) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

// Docs returns copies of the documents stored in the named collection.
func (d *DB) Docs(name string) []bson.M {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.coll(name)
	out := make([]bson.M, len(c.docs))
	for i, doc := range c.docs {
		out[i] = clone(doc)
	}
	return out
}

func (d *DB) coll(name string) *collection {
	c, ok := d.colls[name]
	if !ok {
		c = &collection{db: d, name: name, unique: []string{"_id"}}
		d.colls[name] = c
	}
	return c
}

// begin locks the database and reports a pending failure or cancelled
// context. The caller must unlock.
func (d *DB) begin(ctx context.Context) error {
	d.mu.Lock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.fail; err != nil {
		d.fail = nil
		return err
	}
	return nil
}

type collection struct {
	db     *DB
	name   string
	docs   []bson.M
	unique []string
}

func (c *collection) Aggregate(ctx context.Context, pipeline mongo.Pipeline) ([]bson.M, error) {
	defer c.db.mu.Unlock()
	if err := c.db.begin(ctx); err != nil {
		return nil, err
	}

	docs := make([]bson.M, len(c.docs))
	for i, doc := range c.docs {
		docs[i] = clone(doc)
	}
	for _, raw := range pipeline {
		stage, err := canon(raw)
		if err != nil {
			return nil, err
		}
		if len(stage) != 1 {
			return nil, fmt.Errorf("stage must have exactly one operator, got %d", len(stage))
		}
		if docs, err = c.stage(docs, stage[0].Key, stage[0].Value); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func (c *collection) stage(docs []bson.M, op string, arg any) ([]bson.M, error) {
	switch op {
	case "$match":
		f, _ := arg.(bson.D)
		var out []bson.M
		for _, doc := range docs {
			ok, err := matches(doc, f)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, doc)
			}
		}
		return out, nil

	case "$lookup":
		def := toMap(arg)
		from := c.db.coll(def["from"].(string))
		local, foreign, as := def["localField"].(string), def["foreignField"].(string), def["as"].(string)
		for _, doc := range docs {
			found := bson.A{}
			lv := get(doc, local)
			for _, o := range from.docs {
				if lv != nil && equal(lv, get(o, foreign)) {
					found = append(found, toD(o))
				}
			}
			doc[as] = found
		}
		return docs, nil

	case "$addFields":
		def, _ := arg.(bson.D)
		for _, doc := range docs {
			for _, e := range def {
				doc[e.Key] = eval(doc, e.Value)
			}
		}
		return docs, nil

	case "$sort":
		def, _ := arg.(bson.D)
		slices.SortStableFunc(docs, func(a, b bson.M) int {
			for _, e := range def {
				r := compare(get(a, e.Key), get(b, e.Key))
				if number(e.Value) < 0 {
					r = -r
				}
				if r != 0 {
					return r
				}
			}
			return 0
		})
		return docs, nil

	case "$skip":
		n := int(number(arg))
		if n >= len(docs) {
			return nil, nil
		}
		return docs[n:], nil

	case "$limit":
		n := int(number(arg))
		if n <= 0 {
			return nil, fmt.Errorf("$limit must be positive")
		}
		if n < len(docs) {
			docs = docs[:n]
		}
		return docs, nil

	case "$count":
		if len(docs) == 0 {
			return nil, nil
		}
		return []bson.M{{arg.(string): int32(len(docs))}}, nil

	case "$project":
		def, _ := arg.(bson.D)
		out := make([]bson.M, len(docs))
		for i, doc := range docs {
			out[i] = project(doc, def)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported stage %s", op)
}

func (c *collection) FindOne(ctx context.Context, filter bson.D) (bson.M, error) {
	defer c.db.mu.Unlock()
	if err := c.db.begin(ctx); err != nil {
		return nil, err
	}
	i, err := c.find(filter)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		return nil, mongo.ErrNoDocuments
	}
	return clone(c.docs[i]), nil
}

func (c *collection) CountDocuments(ctx context.Context, filter bson.D) (int64, error) {
	defer c.db.mu.Unlock()
	if err := c.db.begin(ctx); err != nil {
		return 0, err
	}
	f, err := canon(filter)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, doc := range c.docs {
		ok, err := matches(doc, f)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (c *collection) InsertOne(ctx context.Context, doc bson.D) error {
	defer c.db.mu.Unlock()
	if err := c.db.begin(ctx); err != nil {
		return err
	}
	m, err := canonDoc(doc)
	if err != nil {
		return err
	}
	if _, ok := m["_id"]; !ok {
		m["_id"] = bson.NewObjectID()
	}
	if err := c.checkUnique(m, -1); err != nil {
		return err
	}
	c.docs = append(c.docs, m)
	return nil
}

func (c *collection) UpdateOne(ctx context.Context, filter, update bson.D) (int64, error) {
	defer c.db.mu.Unlock()
	if err := c.db.begin(ctx); err != nil {
		return 0, err
	}
	i, err := c.find(filter)
	if err != nil || i < 0 {
		return 0, err
	}
	if err := c.replace(i, update); err != nil {
		return 0, err
	}
	return 1, nil
}

func (c *collection) DeleteOne(ctx context.Context, filter bson.D) (int64, error) {
	defer c.db.mu.Unlock()
	if err := c.db.begin(ctx); err != nil {
		return 0, err
	}
	i, err := c.find(filter)
	if err != nil || i < 0 {
		return 0, err
	}
	c.docs = slices.Delete(c.docs, i, i+1)
	return 1, nil
}

func (c *collection) FindOneAndUpdate(ctx context.Context, filter, update bson.D, upsert bool) (bson.M, error) {
	defer c.db.mu.Unlock()
	if err := c.db.begin(ctx); err != nil {
		return nil, err
	}
	i, err := c.find(filter)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		if !upsert {
			return nil, mongo.ErrNoDocuments
		}
		f, err := canon(filter)
		if err != nil {
			return nil, err
		}
		seed := bson.M{}
		for _, e := range f {
			if !isOperator(e.Value) && !strings.HasPrefix(e.Key, "$") {
				seed[e.Key] = e.Value
			}
		}
		if _, ok := seed["_id"]; !ok {
			seed["_id"] = bson.NewObjectID()
		}
		c.docs = append(c.docs, seed)
		i = len(c.docs) - 1
	}
	if err := c.replace(i, update); err != nil {
		return nil, err
	}
	return clone(c.docs[i]), nil
}

func (c *collection) CreateUniqueIndex(ctx context.Context, field string) error {
	defer c.db.mu.Unlock()
	if err := c.db.begin(ctx); err != nil {
		return err
	}
	if !slices.Contains(c.unique, field) {
		c.unique = append(c.unique, field)
	}
	return nil
}

// find returns the index of the first document matching filter, or -1.
func (c *collection) find(filter bson.D) (int, error) {
	f, err := canon(filter)
	if err != nil {
		return -1, err
	}
	for i, doc := range c.docs {
		ok, err := matches(doc, f)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

// replace applies update to document i, keeping it only if every unique
// index still holds.
func (c *collection) replace(i int, update bson.D) error {
	u, err := canon(update)
	if err != nil {
		return err
	}
	doc := clone(c.docs[i])
	for _, e := range u {
		fields, _ := e.Value.(bson.D)
		for _, f := range fields {
			switch e.Key {
			case "$set":
				doc[f.Key] = f.Value
			case "$inc":
				doc[f.Key] = add(doc[f.Key], f.Value)
			case "$max":
				if doc[f.Key] == nil || compare(f.Value, doc[f.Key]) > 0 {
					doc[f.Key] = f.Value
				}
			default:
				return fmt.Errorf("unsupported update operator %s", e.Key)
			}
		}
	}
	if err := c.checkUnique(doc, i); err != nil {
		return err
	}
	c.docs[i] = doc
	return nil
}

func (c *collection) checkUnique(doc bson.M, skip int) error {
	for _, field := range c.unique {
		v := doc[field]
		if v == nil {
			continue
		}
		for j, other := range c.docs {
			if j != skip && equal(v, other[field]) {
				return mongo.WriteException{WriteErrors: []mongo.WriteError{{
					Code:    11000,
					Message: fmt.Sprintf("E11000 duplicate key error collection: %s index: %s_1", c.name, field),
				}}}
			}
		}
	}
	return nil
}

func canon(d bson.D) (bson.D, error) {
	raw, err := bson.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out bson.D
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func canonDoc(d bson.D) (bson.M, error) {
	raw, err := bson.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func clone(m bson.M) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toD(m bson.M) bson.D {
	d := make(bson.D, 0, len(m))
	for k, v := range m {
		d = append(d, bson.E{Key: k, Value: v})
	}
	return d
}

func toMap(v any) map[string]any {
	out := map[string]any{}
	switch x := v.(type) {
	case bson.D:
		for _, e := range x {
			out[e.Key] = e.Value
		}
	case bson.M:
		for k, e := range x {
			out[k] = e
		}
	}
	return out
}

// get resolves a dotted path. Paths through arrays collect the values of
// every element.
func get(v any, path string) any {
	head, rest, nested := strings.Cut(path, ".")
	var next any
	switch x := v.(type) {
	case bson.M:
		next = x[head]
	case bson.D:
		next = toMap(x)[head]
	case bson.A:
		out := bson.A{}
		for _, e := range x {
			if r := get(e, path); r != nil {
				out = append(out, r)
			}
		}
		return out
	default:
		return nil
	}
	if !nested {
		return next
	}
	return get(next, rest)
}

// eval evaluates an aggregation expression against doc.
func eval(doc bson.M, expr any) any {
	switch x := expr.(type) {
	case string:
		if strings.HasPrefix(x, "$") {
			return get(doc, x[1:])
		}
		return x
	case bson.D:
		if len(x) != 1 {
			return x
		}
		args, _ := x[0].Value.(bson.A)
		switch x[0].Key {
		case "$ifNull":
			for _, a := range args {
				if v := eval(doc, a); v != nil {
					return v
				}
			}
			return nil
		case "$arrayElemAt":
			if len(args) != 2 {
				return nil
			}
			arr, _ := eval(doc, args[0]).(bson.A)
			i := int(number(args[1]))
			if i < 0 || i >= len(arr) {
				return nil
			}
			return arr[i]
		}
	}
	return expr
}

func isOperator(v any) bool {
	d, ok := v.(bson.D)
	return ok && len(d) > 0 && strings.HasPrefix(d[0].Key, "$")
}

func matches(doc bson.M, filter bson.D) (bool, error) {
	for _, e := range filter {
		switch e.Key {
		case "$or", "$and":
			arr, _ := e.Value.(bson.A)
			hit := false
			for _, sub := range arr {
				ok, err := matches(doc, sub.(bson.D))
				if err != nil {
					return false, err
				}
				if e.Key == "$and" && !ok {
					return false, nil
				}
				hit = hit || ok
			}
			if e.Key == "$or" && !hit {
				return false, nil
			}
			continue
		}

		v := get(doc, e.Key)
		if !isOperator(e.Value) {
			if !contains(v, e.Value) {
				return false, nil
			}
			continue
		}
		ops := toMap(e.Value)
		for op, arg := range ops {
			switch op {
			case "$eq":
				if !contains(v, arg) {
					return false, nil
				}
			case "$ne":
				if contains(v, arg) {
					return false, nil
				}
			case "$in":
				hit := false
				for _, a := range arg.(bson.A) {
					hit = hit || contains(v, a)
				}
				if !hit {
					return false, nil
				}
			case "$regex":
				s, ok := v.(string)
				if !ok {
					return false, nil
				}
				flags := ""
				if o, _ := ops["$options"].(string); strings.Contains(o, "i") {
					flags = "(?i)"
				}
				re, err := regexp.Compile(flags + arg.(string))
				if err != nil {
					return false, err
				}
				if !re.MatchString(s) {
					return false, nil
				}
			case "$options":
			default:
				return false, fmt.Errorf("unsupported query operator %s", op)
			}
		}
	}
	return true, nil
}

// contains applies equality the way a query does: an array field matches
// when any element equals the operand.
func contains(field, operand any) bool {
	if arr, ok := field.(bson.A); ok {
		if _, isArr := operand.(bson.A); !isArr {
			for _, e := range arr {
				if equal(e, operand) {
					return true
				}
			}
			return false
		}
	}
	return equal(field, operand)
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		return number(a) == number(b)
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float64:
		return true
	}
	return false
}

func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func add(a, b any) any {
	if a == nil {
		a = int64(0)
	}
	_, af := a.(float64)
	_, bf := b.(float64)
	if af || bf {
		return number(a) + number(b)
	}
	return int64(number(a)) + int64(number(b))
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int, int32, int64, float64:
		return 1
	case string:
		return 2
	case bson.D, bson.M:
		return 3
	case bson.A:
		return 4
	case bool:
		return 5
	case bson.DateTime:
		return 6
	}
	return 7
}

// compare orders values by type rank, then by value within a type.
func compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1:
		x, y := number(a), number(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 5:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case 6:
		x, y := a.(bson.DateTime), b.(bson.DateTime)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// project applies an inclusion or exclusion projection.
func project(doc bson.M, def bson.D) bson.M {
	inclusion := false
	for _, e := range def {
		if e.Key != "_id" && truthy(e.Value) {
			inclusion = true
		}
	}

	if !inclusion {
		out := clone(doc)
		for _, e := range def {
			delete(out, e.Key)
		}
		return out
	}

	out := bson.M{}
	if id, ok := doc["_id"]; ok {
		out["_id"] = id
	}
	for _, e := range def {
		if e.Key == "_id" {
			if !truthy(e.Value) {
				delete(out, "_id")
			}
			continue
		}
		if s, ok := e.Value.(string); ok && strings.HasPrefix(s, "$") {
			if v := get(doc, s[1:]); v != nil {
				out[e.Key] = v
			}
			continue
		}
		if v, ok := doc[e.Key]; ok {
			out[e.Key] = v
		}
	}
	return out
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return true
	}
	if isNumber(v) {
		return number(v) != 0
	}
	return v != nil
}
