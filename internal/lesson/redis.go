package lesson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// insertScript adds the lesson body and appends its id to the order list
// only when the id is new.
var insertScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// updateScript replaces the lesson body only when the id exists.
var updateScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// RedisRepository stores lessons in Redis: a hash of id to JSON body and a
// list of ids in insertion order.
type RedisRepository struct {
	client   redis.UniversalClient
	hashKey  string
	orderKey string
}

// NewRedisRepository uses client under the given key prefix.
func NewRedisRepository(client redis.UniversalClient, prefix string) (*RedisRepository, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = "lessond"
	}
	return &RedisRepository{
		client:   client,
		hashKey:  prefix + ":lessons",
		orderKey: prefix + ":order",
	}, nil
}

func (r *RedisRepository) Insert(ctx context.Context, l *Lesson) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshaling lesson: %w", err)
	}
	added, err := insertScript.Run(ctx, r.client, []string{r.hashKey, r.orderKey}, l.ID, string(body)).Int()
	if err != nil {
		return fmt.Errorf("inserting lesson: %w", err)
	}
	if added == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (r *RedisRepository) Update(ctx context.Context, l *Lesson) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshaling lesson: %w", err)
	}
	updated, err := updateScript.Run(ctx, r.client, []string{r.hashKey}, l.ID, string(body)).Int()
	if err != nil {
		return fmt.Errorf("updating lesson: %w", err)
	}
	if updated == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*Lesson, error) {
	body, err := r.client.HGet(ctx, r.hashKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting lesson: %w", err)
	}
	return decodeLesson(body)
}

func (r *RedisRepository) List(ctx context.Context) ([]*Lesson, error) {
	ids, err := r.client.LRange(ctx, r.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing lesson order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	bodies, err := r.client.HMGet(ctx, r.hashKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("listing lessons: %w", err)
	}

	out := make([]*Lesson, 0, len(bodies))
	for i, raw := range bodies {
		body, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: missing body for %s", ErrCorruptDocument, ids[i])
		}
		l, err := decodeLesson(body)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// Close closes the underlying client.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

var _ Repository = (*RedisRepository)(nil)
