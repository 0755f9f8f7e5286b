package logsink

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "search_logs"

// MongoWriter appends entries to the search_logs collection.
type MongoWriter struct {
	collection *mongo.Collection
}

func NewMongoWriter(client *mongo.Client, dbName string) *MongoWriter {
	return &MongoWriter{collection: client.Database(dbName).Collection(collectionName)}
}

func (w *MongoWriter) Write(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, entry)
	}
	_, err := w.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

// EnsureIndexes adds the time index used to read recent entries.
func (w *MongoWriter) EnsureIndexes(ctx context.Context) error {
	_, err := w.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "time", Value: -1}},
	})
	return err
}
