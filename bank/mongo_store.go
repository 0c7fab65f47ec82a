package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 唯一索引名，冲突时据此判断是哪个字段重复
var uniqueIndexes = map[string][]string{
	CollectionUsers:    {FieldUserID, FieldUsername, FieldEmail, FieldMobNo},
	CollectionAccounts: {FieldAccNo},
}

func indexName(field string) string {
	return "uniq_" + field
}

// MongoRecordStore 把用户和账户写入 users、accounts 集合
type MongoRecordStore struct {
	users    *mongo.Collection
	accounts *mongo.Collection
}

var _ RecordStore = (*MongoRecordStore)(nil)

// NewMongoRecordStore 使用已连接的 client，并确保唯一索引存在
// client 的生命周期由调用方管理
func NewMongoRecordStore(ctx context.Context, client *mongo.Client, database string) (*MongoRecordStore, error) {
	db := client.Database(database)
	s := &MongoRecordStore{
		users:    db.Collection(CollectionUsers),
		accounts: db.Collection(CollectionAccounts),
	}

	for coll, fields := range uniqueIndexes {
		models := make([]mongo.IndexModel, 0, len(fields)+1)
		for _, field := range fields {
			models = append(models, mongo.IndexModel{
				Keys:    bson.D{{Key: field, Value: 1}},
				Options: options.Index().SetUnique(true).SetName(indexName(field)),
			})
		}
		if coll == CollectionAccounts {
			models = append(models, mongo.IndexModel{Keys: bson.D{{Key: FieldUserID, Value: 1}}})
		}
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return nil, fmt.Errorf("ensure %s indexes: %w", coll, err)
		}
	}
	return s, nil
}

func (s *MongoRecordStore) InsertUser(ctx context.Context, user *User) error {
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return translateInsertError(CollectionUsers, err, map[string]any{
			FieldUserID:   user.UserID,
			FieldUsername: user.Username,
			FieldEmail:    user.Email,
			FieldMobNo:    user.MobNo,
		})
	}
	return nil
}

func (s *MongoRecordStore) InsertAccount(ctx context.Context, account *Account) error {
	if _, err := s.accounts.InsertOne(ctx, account); err != nil {
		return translateInsertError(CollectionAccounts, err, map[string]any{
			FieldAccNo: account.AccNo,
		})
	}
	return nil
}

func (s *MongoRecordStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	var user User
	err := s.users.FindOne(ctx, bson.M{FieldUserID: userID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %d: %w", userID, err)
	}
	return &user, nil
}

func (s *MongoRecordStore) GetAccount(ctx context.Context, accNo int64) (*Account, error) {
	var account Account
	err := s.accounts.FindOne(ctx, bson.M{FieldAccNo: accNo}).Decode(&account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account %d: %w", accNo, err)
	}
	return &account, nil
}

func (s *MongoRecordStore) ListAccounts(ctx context.Context, userID int64) ([]*Account, error) {
	cursor, err := s.accounts.Find(ctx, bson.M{FieldUserID: userID},
		options.Find().SetSort(bson.D{{Key: FieldAccNo, Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list accounts of user %d: %w", userID, err)
	}
	var accounts []*Account
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts of user %d: %w", userID, err)
	}
	return accounts, nil
}

func (s *MongoRecordStore) Close() error {
	return nil
}

// translateInsertError 把 E11000 转成 *DuplicateKeyError，字段由错误信息中的索引名确定
func translateInsertError(collection string, err error, values map[string]any) error {
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	msg := err.Error()
	for _, field := range uniqueIndexes[collection] {
		if strings.Contains(msg, indexName(field)) {
			return &DuplicateKeyError{Collection: collection, Field: field, Value: values[field]}
		}
	}
	return &DuplicateKeyError{Collection: collection, Field: "unknown", Value: msg}
}
