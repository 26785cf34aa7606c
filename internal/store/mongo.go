package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStore persists documents in MongoDB and fans change notifications out
// through Redis pub/sub: every write publishes the document key, every
// subscriber re-reads the document and emits a fresh snapshot. Concurrent
// whole-document writes resolve last-writer-wins at the database.
type MongoStore struct {
	db     *mongo.Database
	rdb    *redis.Client
	prefix string
	log    *zap.SugaredLogger
}

func NewMongoStore(db *mongo.Database, rdb *redis.Client, prefix string, log *zap.SugaredLogger) *MongoStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MongoStore{db: db, rdb: rdb, prefix: prefix, log: log}
}

// NewMongoClient dials MongoDB with a bounded handshake.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

func (s *MongoStore) channel(col, id string) string {
	return fmt.Sprintf("%s:doc:%s:%s", s.prefix, col, id)
}

func (s *MongoStore) Get(ctx context.Context, col, id string, out any) error {
	res := s.db.Collection(col).FindOne(ctx, bson.M{"_id": id})
	raw, err := res.Raw()
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

func (s *MongoStore) Set(ctx context.Context, col, id string, doc any) error {
	body, err := toDocument(doc)
	if err != nil {
		return err
	}
	body["_id"] = id
	opts := options.Replace().SetUpsert(true)
	if _, err := s.db.Collection(col).ReplaceOne(ctx, bson.M{"_id": id}, body, opts); err != nil {
		return err
	}
	s.publish(ctx, col, id)
	return nil
}

func (s *MongoStore) Merge(ctx context.Context, col, id string, fields map[string]any) error {
	res, err := s.db.Collection(col).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	s.publish(ctx, col, id)
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, col, id string) error {
	if _, err := s.db.Collection(col).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return err
	}
	s.publish(ctx, col, id)
	return nil
}

func (s *MongoStore) FindByField(ctx context.Context, col, field string, value any, out any) error {
	res := s.db.Collection(col).FindOne(ctx, bson.M{field: value})
	raw, err := res.Raw()
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

func (s *MongoStore) List(ctx context.Context, col string) ([]string, error) {
	cur, err := s.db.Collection(col).Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

func (s *MongoStore) Subscribe(ctx context.Context, col, id string) (*Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, s.channel(col, id))
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	ch := make(chan Snapshot, 16)
	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = pubsub.Close() })
	}

	go func() {
		defer close(ch)
		defer cancel()
		s.emit(ctx, col, id, ch)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				s.emit(ctx, col, id, ch)
			}
		}
	}()
	return NewSubscription(ch, cancel), nil
}

func (s *MongoStore) emit(ctx context.Context, col, id string, ch chan Snapshot) {
	res := s.db.Collection(col).FindOne(ctx, bson.M{"_id": id})
	raw, err := res.Raw()
	switch {
	case err == mongo.ErrNoDocuments:
		send(ch, NewSnapshot(nil))
	case err != nil:
		s.log.Warnw("snapshot read failed", "collection", col, "id", id, "err", err)
	default:
		send(ch, NewSnapshot(raw))
	}
}

func (s *MongoStore) publish(ctx context.Context, col, id string) {
	if err := s.rdb.Publish(ctx, s.channel(col, id), id).Err(); err != nil {
		s.log.Warnw("change publish failed", "collection", col, "id", id, "err", err)
	}
}

func toDocument(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
