package storeimpl

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ceyewan/bank-kit/clog"
	"github.com/ceyewan/bank-kit/internal/failinject"
)

// 计数器集合与字段名，每个序列一条文档
const (
	CountersCollection = "counters"
	fieldName          = "collection_name"
	fieldValue         = "sequence_value"
)

type counterDoc struct {
	Name  string `bson:"collection_name"`
	Value int64  `bson:"sequence_value"`
}

// MongoStore 以 counters 集合保存计数器，Increment 使用 findOneAndUpdate + $inc + upsert
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	faults     *failinject.Injector
	logger     clog.Logger
	ownsClient bool
}

// ConnectMongo 连接 MongoDB 并确认主节点可达
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	c, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := c.Ping(ctx, readpref.Primary()); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return c, nil
}

// NewMongoStore 在 database 上创建计数器存储，并确保 collection_name 上的唯一索引存在
// ownsClient 为 true 时 Close 会断开 client
func NewMongoStore(ctx context.Context, c *mongo.Client, database string, ownsClient bool, faults *failinject.Injector, logger clog.Logger) (*MongoStore, error) {
	coll := c.Database(database).Collection(CountersCollection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: fieldName, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_collection_name"),
	})
	if err != nil {
		return nil, fmt.Errorf("ensure counters index: %w", err)
	}
	logger.Info("mongo counter store ready",
		clog.String("database", database),
		clog.String("collection", CountersCollection))
	return &MongoStore{
		client:     c,
		collection: coll,
		faults:     faults,
		logger:     logger,
		ownsClient: ownsClient,
	}, nil
}

func (s *MongoStore) Increment(ctx context.Context, name string) (int64, error) {
	if err := check(ctx, s.faults, BackendMongo, OpIncrement); err != nil {
		return 0, err
	}

	filter := bson.M{fieldName: name}
	update := bson.M{"$inc": bson.M{fieldValue: int64(1)}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc counterDoc
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// 两个并发 upsert 同时插入新文档，落败的一方再执行一次即可命中已有文档
		s.logger.Debug("concurrent counter upsert, retrying", clog.String("sequence", name))
		err = s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	}
	if err != nil {
		return 0, fmt.Errorf("mongo increment %q: %w", name, err)
	}
	return doc.Value, nil
}

func (s *MongoStore) Load(ctx context.Context, name string) (int64, bool, error) {
	if err := check(ctx, s.faults, BackendMongo, OpLoad); err != nil {
		return 0, false, err
	}
	var doc counterDoc
	err := s.collection.FindOne(ctx, bson.M{fieldName: name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("mongo load %q: %w", name, err)
	}
	return doc.Value, true, nil
}

func (s *MongoStore) Save(ctx context.Context, name string, value int64) error {
	if err := check(ctx, s.faults, BackendMongo, OpSave); err != nil {
		return err
	}
	_, err := s.collection.UpdateOne(ctx,
		bson.M{fieldName: name},
		bson.M{"$set": bson.M{fieldValue: value}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo save %q: %w", name, err)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, name string) error {
	if err := check(ctx, s.faults, BackendMongo, OpDelete); err != nil {
		return err
	}
	if _, err := s.collection.DeleteOne(ctx, bson.M{fieldName: name}); err != nil {
		return fmt.Errorf("mongo delete %q: %w", name, err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := check(ctx, s.faults, BackendMongo, OpPing); err != nil {
		return err
	}
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Disconnect(context.Background())
}
