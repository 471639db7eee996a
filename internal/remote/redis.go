package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"classdesk/api/internal/schema"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// changeMessage is published on the document's channel after every write.
type changeMessage struct {
	Origin string          `json:"origin"`
	Doc    json.RawMessage `json:"doc"`
}

// RedisStore keeps each document as one JSON string and announces writes over
// pub/sub.
type RedisStore struct {
	client *redis.Client
	prefix string
	origin string
	logger *slog.Logger
}

// NewRedisStore creates a new Redis-backed document store
func NewRedisStore(redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, logger), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		prefix: "classdesk:doc:",
		origin: uuid.NewString(),
		logger: logger,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) channel(id string) string {
	return s.key(id) + ":changed"
}

func (s *RedisStore) ReadOnce(ctx context.Context, id string) (schema.Partial, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read", err)
	}
	snap, err := decode(data)
	if err != nil {
		return nil, err
	}
	return snap.Doc, nil
}

func (s *RedisStore) WriteWhole(ctx context.Context, id string, doc schema.Document) error {
	if err := validID(id); err != nil {
		return err
	}
	data, message, err := s.payload(doc)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(id), data, 0)
		pipe.Publish(ctx, s.channel(id), message)
		return nil
	})
	if err != nil {
		return unavailable("write", err)
	}
	return nil
}

func (s *RedisStore) CreateIfAbsent(ctx context.Context, id string, doc schema.Document) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}
	data, message, err := s.payload(doc)
	if err != nil {
		return false, err
	}
	created, err := s.client.SetNX(ctx, s.key(id), data, 0).Result()
	if err != nil {
		return false, unavailable("create", err)
	}
	if !created {
		return false, nil
	}
	if err := s.client.Publish(ctx, s.channel(id), message).Err(); err != nil {
		s.logger.Warn("redis publish after create failed", "id", id, "error", err)
	}
	return true, nil
}

func (s *RedisStore) payload(doc schema.Document) ([]byte, []byte, error) {
	data, err := encode(doc)
	if err != nil {
		return nil, nil, err
	}
	message, err := json.Marshal(changeMessage{Origin: s.origin, Doc: data})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal change message: %w", err)
	}
	return data, message, nil
}

// Subscribe listens on the document's channel before reading the current
// value, so a write landing between the two is never missed.
func (s *RedisStore) Subscribe(ctx context.Context, id string, onChange func(Snapshot)) (Unsubscribe, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	pubsub := s.client.Subscribe(ctx, s.channel(id))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, unavailable("subscribe", err)
	}

	initial := Snapshot{}
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		_ = pubsub.Close()
		return nil, unavailable("subscribe", err)
	default:
		initial, err = decode(data)
		if err != nil {
			s.logger.Warn("redis document unparseable", "id", id, "error", err)
		}
	}

	sub, subCtx := newSubscription(ctx)
	messages := pubsub.Channel()
	go func() {
		defer close(sub.done)
		defer pubsub.Close()
		onChange(initial)
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				snap, err := s.decodeMessage(msg.Payload)
				if err != nil {
					s.logger.Warn("redis change message unparseable", "id", id, "error", err)
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				onChange(snap)
			}
		}
	}()
	return sub.stop, nil
}

func (s *RedisStore) decodeMessage(payload string) (Snapshot, error) {
	var message changeMessage
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		return Snapshot{}, fmt.Errorf("decode change message: %w", err)
	}
	snap, err := decode(message.Doc)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Origin = message.Origin
	return snap, nil
}

// Origin returns the id stamped on change messages written by this store.
func (s *RedisStore) Origin() string {
	return s.origin
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
