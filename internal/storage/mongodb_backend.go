package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoCollection = "credential_documents"
	mongoDocumentID = "credentials"
)

// MongoDBBackend stores the credential document as one MongoDB document.
// The body is kept as a string so a corrupt table survives a round trip unchanged.
type MongoDBBackend struct {
	uri        string
	dbName     string
	client     *mongo.Client
	collection *mongo.Collection
}

type mongoDocument struct {
	ID        string    `bson:"_id"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoDBBackend creates a MongoDB storage backend
func NewMongoDBBackend(uri, dbName string) (*MongoDBBackend, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb uri is required")
	}
	if dbName == "" {
		dbName = "tokenpool"
	}
	return &MongoDBBackend{uri: uri, dbName: dbName}, nil
}

func (m *MongoDBBackend) Name() string { return "mongodb" }

// Initialize connects to MongoDB and seeds an empty document when missing
func (m *MongoDBBackend) Initialize(ctx context.Context) error {
	ctx, cancel := withStorageTimeout(ctx, defaultStorageTimeout)
	defer cancel()

	if m.client == nil {
		clientOptions := options.Client().ApplyURI(m.uri)
		clientOptions.SetMaxPoolSize(10)
		clientOptions.SetServerSelectionTimeout(5 * time.Second)

		client, err := mongo.Connect(ctx, clientOptions)
		if err != nil {
			return fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return fmt.Errorf("failed to ping MongoDB: %w", err)
		}
		m.client = client
		m.collection = client.Database(m.dbName).Collection(mongoCollection)
	}

	_, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": mongoDocumentID},
		bson.M{"$setOnInsert": bson.M{"data": EmptyDocument, "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to seed credential document: %w", err)
	}
	return nil
}

func (m *MongoDBBackend) Load(ctx context.Context) ([]byte, error) {
	if m.collection == nil {
		return nil, fmt.Errorf("mongodb backend not initialized")
	}
	ctx, cancel := withStorageTimeout(ctx, defaultStorageTimeout)
	defer cancel()

	var doc mongoDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": mongoDocumentID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &ErrNotFound{Key: mongoDocumentID}
		}
		return nil, err
	}
	return []byte(doc.Data), nil
}

func (m *MongoDBBackend) Save(ctx context.Context, data []byte) error {
	if m.collection == nil {
		return fmt.Errorf("mongodb backend not initialized")
	}
	ctx, cancel := withStorageTimeout(ctx, defaultStorageTimeout)
	defer cancel()

	doc := mongoDocument{ID: mongoDocumentID, Data: string(data), UpdatedAt: time.Now().UTC()}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": mongoDocumentID}, doc, options.Replace().SetUpsert(true))
	return err
}

// SaveIf replaces the document filtered on its current body, or inserts it
// when prev is nil.
func (m *MongoDBBackend) SaveIf(ctx context.Context, prev, data []byte) error {
	if m.collection == nil {
		return fmt.Errorf("mongodb backend not initialized")
	}
	ctx, cancel := withStorageTimeout(ctx, defaultStorageTimeout)
	defer cancel()

	doc := mongoDocument{ID: mongoDocumentID, Data: string(data), UpdatedAt: time.Now().UTC()}
	if prev == nil {
		_, err := m.collection.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return err
	}
	res, err := m.collection.ReplaceOne(ctx, bson.M{"_id": mongoDocumentID, "data": string(prev)}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

// Health pings the server
func (m *MongoDBBackend) Health(ctx context.Context) error {
	if m.client == nil {
		return fmt.Errorf("mongodb backend not initialized")
	}
	ctx, cancel := withStorageTimeout(ctx, defaultStorageTimeout)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *MongoDBBackend) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultStorageTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
