package settings

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"mediatracker/searchservice/internal/domain"
)

const (
	settingsCollection = "settings"
	settingsDocID      = "search"
)

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(client *mongo.Client, dbName string) *MongoRepository {
	return &MongoRepository{collection: client.Database(dbName).Collection(settingsCollection)}
}

func (r *MongoRepository) Load(ctx context.Context) (domain.Settings, bool, error) {
	var doc struct {
		domain.Settings `bson:",inline"`
	}
	err := r.collection.FindOne(ctx, bson.M{"_id": settingsDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Settings{}, false, nil
	}
	if err != nil {
		return domain.Settings{}, false, err
	}
	return doc.Settings, true, nil
}

func (r *MongoRepository) Save(ctx context.Context, settings domain.Settings) error {
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": settingsDocID},
		bson.M{"$set": bson.M{
			"webSearch":       settings.WebSearch,
			"tmdbApiKey":      settings.TMDBAPIKey,
			"omdbApiKey":      settings.OMDbAPIKey,
			"bangumiToken":    settings.BangumiToken,
			"ai":              settings.AI,
			"proxy":           settings.Proxy,
			"language":        settings.Language,
			"disabledPlugins": settings.DisabledPlugin,
			"updatedAt":       time.Now().UnixMilli(),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}
