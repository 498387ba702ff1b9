// Package mongosheets provides the MongoDB-backed implementation of
// [memory.SheetStore].
//
// Each conversation namespace maps to its own MongoDB database holding a
// single "characters" collection. Sheets are opaque documents: the store
// round-trips raw JSON and only touches the "_id" field, which it assigns on
// insert and rewrites to a plain string on read.
package mongosheets

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MrWong99/gamemaster/pkg/memory"
)

// collectionName is the fixed collection each namespace database uses.
const collectionName = "characters"

// Ensure Store implements the interface at compile time.
var _ memory.SheetStore = (*Store)(nil)

// Store is the MongoDB-backed [memory.SheetStore].
// All methods are safe for concurrent use.
type Store struct {
	client *mongo.Client
}

// New connects to the MongoDB deployment at uri and verifies the connection
// with a ping.
func New(ctx context.Context, uri string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongosheets: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongosheets: ping: %w", err)
	}
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing connected client. [Store.Close] will still
// disconnect it.
func NewFromClient(client *mongo.Client) *Store {
	return &Store{client: client}
}

// Ping verifies the connection, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongosheets: ping: %w", err)
	}
	return nil
}

func (s *Store) collection(namespace string) *mongo.Collection {
	return s.client.Database(namespace).Collection(collectionName)
}

// List implements [memory.SheetStore]. It returns every sheet in the
// namespace as extended JSON with "_id" rewritten to a plain string. An
// absent namespace yields an empty non-nil slice because MongoDB creates
// databases lazily.
func (s *Store) List(ctx context.Context, namespace string) ([][]byte, error) {
	cursor, err := s.collection(namespace).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongosheets: list: %w", err)
	}
	defer cursor.Close(ctx)

	sheets := [][]byte{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongosheets: decode sheet: %w", err)
		}
		if oid, ok := doc["_id"].(primitive.ObjectID); ok {
			doc["_id"] = oid.Hex()
		}
		raw, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return nil, fmt.Errorf("mongosheets: marshal sheet: %w", err)
		}
		sheets = append(sheets, raw)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("mongosheets: cursor: %w", err)
	}
	return sheets, nil
}

// Upsert implements [memory.SheetStore]. With an empty id it inserts doc as a
// new sheet; otherwise it replaces the identified sheet wholesale. Returns
// the sheet's ID as a hex string.
func (s *Store) Upsert(ctx context.Context, namespace, id string, doc []byte) (string, error) {
	var parsed bson.M
	if err := bson.UnmarshalExtJSON(doc, false, &parsed); err != nil {
		return "", fmt.Errorf("mongosheets: parse sheet: %w", err)
	}
	// The store owns identity assignment; a client-supplied _id is dropped.
	delete(parsed, "_id")

	coll := s.collection(namespace)

	if id == "" {
		res, err := coll.InsertOne(ctx, parsed)
		if err != nil {
			return "", fmt.Errorf("mongosheets: insert: %w", err)
		}
		oid, ok := res.InsertedID.(primitive.ObjectID)
		if !ok {
			return fmt.Sprintf("%v", res.InsertedID), nil
		}
		return oid.Hex(), nil
	}

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return "", fmt.Errorf("mongosheets: invalid sheet id %q: %w", id, err)
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := coll.ReplaceOne(ctx, bson.M{"_id": oid}, parsed, opts); err != nil {
		return "", fmt.Errorf("mongosheets: replace: %w", err)
	}
	return id, nil
}

// Remove implements [memory.SheetStore]. Removing an absent sheet is not an
// error.
func (s *Store) Remove(ctx context.Context, namespace, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("mongosheets: invalid sheet id %q: %w", id, err)
	}
	if _, err := s.collection(namespace).DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
		return fmt.Errorf("mongosheets: remove: %w", err)
	}
	return nil
}

// Drop implements [memory.SheetStore]. It drops the namespace's entire
// database.
func (s *Store) Drop(ctx context.Context, namespace string) error {
	if err := s.client.Database(namespace).Drop(ctx); err != nil {
		return fmt.Errorf("mongosheets: drop: %w", err)
	}
	return nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
