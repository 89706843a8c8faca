package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cyderes/event-archive-ingestion/internal/config"
	"github.com/cyderes/event-archive-ingestion/internal/models"
)

type mongoDocument struct {
	ID                string    `bson:"_id"`
	LastCompletedFile *string   `bson:"last_completed_file"`
	CurrentFile       *string   `bson:"current_file"`
	CurrentLine       int64     `bson:"current_line"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

// mongoCollection is the subset of *mongo.Collection the store uses
type mongoCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// MongoDBStore keeps one document per journal key. ReplaceOne swaps the
// whole document, which MongoDB applies atomically for a single document.
type MongoDBStore struct {
	client     *mongo.Client
	collection mongoCollection
}

// NewMongoDBStore connects to MongoDB
func NewMongoDBStore(ctx context.Context, cfg config.JournalConfig) (*MongoDBStore, error) {
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("mongodb journal requires JOURNAL_MONGODB_URI")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoDBStore{
		client:     client,
		collection: client.Database(cfg.MongoDBDatabase).Collection(cfg.MongoDBCollection),
	}, nil
}

// NewMongoDBStoreWithCollection wraps an existing collection
func NewMongoDBStoreWithCollection(collection mongoCollection) *MongoDBStore {
	return &MongoDBStore{collection: collection}
}

func (m *MongoDBStore) Load(ctx context.Context, key string) (models.JournalState, error) {
	var doc mongoDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.IdleState(), nil
		}
		return models.JournalState{}, fmt.Errorf("failed to find journal document: %w", err)
	}

	return models.JournalState{
		LastCompletedFile: doc.LastCompletedFile,
		CurrentFile:       doc.CurrentFile,
		CurrentLine:       doc.CurrentLine,
	}, nil
}

func (m *MongoDBStore) Save(ctx context.Context, key string, state models.JournalState) error {
	doc := mongoDocument{
		ID:                key,
		LastCompletedFile: state.LastCompletedFile,
		CurrentFile:       state.CurrentFile,
		CurrentLine:       state.CurrentLine,
		UpdatedAt:         time.Now().UTC(),
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return fmt.Errorf("failed to replace journal document: %w", err)
	}
	return nil
}

func (m *MongoDBStore) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
