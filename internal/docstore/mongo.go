package docstore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/mesh-intelligence/quire/pkg/types"
)

// Dial connects to the deployment at cfg.URI and pings the primary. The
// caller owns the returned client and must disconnect it.
func Dial(ctx context.Context, cfg types.MongoConfig) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, types.ErrMongoURIEmpty
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.GetMaxPoolSize())

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return client, nil
}

// Wrap adapts a driver database to the Database interface.
func Wrap(db *mongo.Database) Database {
	return mongoDatabase{db: db}
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d mongoDatabase) Collection(name string) Collection {
	return mongoCollection{c: d.db.Collection(name)}
}

type mongoCollection struct {
	c *mongo.Collection
}

func (m mongoCollection) Aggregate(ctx context.Context, pipeline mongo.Pipeline) ([]bson.M, error) {
	cur, err := m.c.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m mongoCollection) FindOne(ctx context.Context, filter bson.D) (bson.M, error) {
	var doc bson.M
	if err := m.c.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (m mongoCollection) CountDocuments(ctx context.Context, filter bson.D) (int64, error) {
	return m.c.CountDocuments(ctx, filter)
}

func (m mongoCollection) InsertOne(ctx context.Context, doc bson.D) error {
	_, err := m.c.InsertOne(ctx, doc)
	return err
}

func (m mongoCollection) UpdateOne(ctx context.Context, filter, update bson.D) (int64, error) {
	res, err := m.c.UpdateOne(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.MatchedCount, nil
}

func (m mongoCollection) DeleteOne(ctx context.Context, filter bson.D) (int64, error) {
	res, err := m.c.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m mongoCollection) FindOneAndUpdate(ctx context.Context, filter, update bson.D, upsert bool) (bson.M, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(upsert).
		SetReturnDocument(options.After)
	var doc bson.M
	if err := m.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (m mongoCollection) CreateUniqueIndex(ctx context.Context, field string) error {
	_, err := m.c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
