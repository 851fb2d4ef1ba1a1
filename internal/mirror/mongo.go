package mirror

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PaperTiger/server/internal/store"
)

// MongoSink replicates resources into a single collection keyed by id.
type MongoSink struct {
	client    *mongo.Client
	resources *mongo.Collection
}

// NewMongoSink connects to MongoDB and binds the resources collection.
func NewMongoSink(connectionString, database string) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	if database == "" {
		database = "paper_tiger"
	}
	return &MongoSink{
		client:    client,
		resources: client.Database(database).Collection("resources"),
	}, nil
}

// Upsert replaces the resource document, inserting on first write.
func (s *MongoSink) Upsert(ctx context.Context, res store.Resource) error {
	doc := bson.M{"_id": res.ID()}
	for k, v := range res {
		if k == "id" {
			continue
		}
		doc[k] = v
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.resources.ReplaceOne(ctx, bson.M{"_id": res.ID()}, doc, opts); err != nil {
		return fmt.Errorf("upsert resource %s: %w", res.ID(), err)
	}
	return nil
}

// Delete removes the resource document.
func (s *MongoSink) Delete(ctx context.Context, id string) error {
	if _, err := s.resources.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("delete resource %s: %w", id, err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
