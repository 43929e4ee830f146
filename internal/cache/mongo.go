package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore maps every collection to a MongoDB collection of the same name
type MongoStore struct {
	db   *mongo.Database
	opts options
}

var _ Store = (*MongoStore)(nil)

type mongoRecord struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	RequestURI string             `bson:"requestURI"`
	Timestamp  int64              `bson:"timestamp"`
	Data       string             `bson:"data"`
}

// NewMongo creates a store on db. The caller owns the client lifecycle.
func NewMongo(db *mongo.Database, opts ...Option) *MongoStore {
	return &MongoStore{
		db:   db,
		opts: applyOptions(opts),
	}
}

func (m *MongoStore) collection(name string) (*mongo.Collection, error) {
	if err := ValidateCollection(name); err != nil {
		return nil, err
	}
	return m.db.Collection(name), nil
}

func (m *MongoStore) Lookup(ctx context.Context, collection, requestURI string) (*Record, error) {
	coll, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	qctx, cancel := m.opts.queryCtx(ctx)
	defer cancel()

	// Oldest first, matching the "first record wins" rule when duplicates exist
	findOpts := mongooptions.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})
	var doc mongoRecord
	err = coll.FindOne(qctx, bson.M{"requestURI": requestURI}, findOpts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo lookup in %s: %w", collection, err)
	}

	return &Record{
		ID:         doc.ID.Hex(),
		RequestURI: doc.RequestURI,
		Timestamp:  doc.Timestamp,
		Data:       doc.Data,
	}, nil
}

func (m *MongoStore) Insert(ctx context.Context, collection string, rec Record) (string, error) {
	coll, err := m.collection(collection)
	if err != nil {
		return "", err
	}
	qctx, cancel := m.opts.queryCtx(ctx)
	defer cancel()

	doc := mongoRecord{
		ID:         primitive.NewObjectID(),
		RequestURI: rec.RequestURI,
		Timestamp:  m.opts.timestamp(),
		Data:       rec.Data,
	}
	if _, err := coll.InsertOne(qctx, doc); err != nil {
		return "", fmt.Errorf("mongo insert in %s: %w", collection, err)
	}
	return doc.ID.Hex(), nil
}

func (m *MongoStore) Update(ctx context.Context, collection, id string, rec Record) error {
	coll, err := m.collection(collection)
	if err != nil {
		return err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid mongo record id %q: %w", id, err)
	}
	qctx, cancel := m.opts.queryCtx(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"requestURI": rec.RequestURI,
		"timestamp":  m.opts.timestamp(),
		"data":       rec.Data,
	}}
	res, err := coll.UpdateByID(qctx, oid, update)
	if err != nil {
		return fmt.Errorf("mongo update in %s: %w", collection, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Init creates the requestURI index of every collection
func (m *MongoStore) Init(ctx context.Context, collections ...string) error {
	for _, name := range collections {
		coll, err := m.collection(name)
		if err != nil {
			return err
		}
		qctx, cancel := m.opts.queryCtx(ctx)
		_, err = coll.Indexes().CreateOne(qctx, mongo.IndexModel{
			Keys: bson.D{{Key: "requestURI", Value: 1}},
		})
		cancel()
		if err != nil {
			return fmt.Errorf("creating requestURI index on %s: %w", name, err)
		}
		logrus.Debugf("Ensured requestURI index on mongo collection %s", name)
	}
	return nil
}

// Close is a no-op, the caller owns the mongo.Client
func (m *MongoStore) Close(_ context.Context) error {
	return nil
}
