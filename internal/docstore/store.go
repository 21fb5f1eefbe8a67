// Package docstore implements the networked document backend.
//
// Read intents are compiled to aggregation pipelines (BuildPipeline) and
// write intents are translated into single-document operations. Every
// record carries an integer "id" next to the engine's own _id; ids come
// from an Allocator so both engines expose the same key space.
//
// The backend talks to the engine through the Database and Collection
// interfaces. Connect wraps a live MongoDB deployment; tests substitute the
// in-memory implementation in docstoretest.
package docstore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Database hands out collections by name.
type Database interface {
	Collection(name string) Collection
}

// Collection is the subset of collection operations the backend issues.
// FindOne and FindOneAndUpdate return mongo.ErrNoDocuments when nothing
// matches. Insert and update conflicts on unique indexes are reported as
// errors that mongo.IsDuplicateKeyError recognizes.
type Collection interface {
	Aggregate(ctx context.Context, pipeline mongo.Pipeline) ([]bson.M, error)
	FindOne(ctx context.Context, filter bson.D) (bson.M, error)
	CountDocuments(ctx context.Context, filter bson.D) (int64, error)
	InsertOne(ctx context.Context, doc bson.D) error
	UpdateOne(ctx context.Context, filter, update bson.D) (matched int64, err error)
	DeleteOne(ctx context.Context, filter bson.D) (deleted int64, err error)
	// FindOneAndUpdate applies update to the first match, inserting a new
	// document built from filter when upsert is set, and returns the
	// document as it is after the update.
	FindOneAndUpdate(ctx context.Context, filter, update bson.D, upsert bool) (bson.M, error)
	CreateUniqueIndex(ctx context.Context, field string) error
}

// CountersCollection holds one sequence document per entity table for the
// counter id strategy.
const CountersCollection = "counters"
