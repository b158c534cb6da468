package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository keeps rooms in Redis so multiple relay processes can share
// membership state. Values are JSON `{host, users}` under `room:<id>` with the
// TTL applied via SET EX on every write.
type RedisRepository struct {
	client redis.UniversalClient
}

func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client}
}

// DialRedis parses a redis:// or rediss:// URL and returns a connected client.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisRepository) Get(ctx context.Context, id string) (Room, error) {
	raw, err := r.client.Get(ctx, Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("room: redis get: %w", err)
	}

	var room Room
	if err := json.Unmarshal(raw, &room); err != nil {
		// An undecodable value is treated as an absent room rather than a hard
		// failure; the entry will be overwritten or expire.
		return Room{}, ErrNotFound
	}
	if room.Users == nil {
		room.Users = make(map[string]User)
	}
	return room, nil
}

func (r *RedisRepository) Put(ctx context.Context, id string, room Room, ttl time.Duration) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("room: encode: %w", err)
	}
	if err := r.client.Set(ctx, Key(id), raw, ttl).Err(); err != nil {
		return fmt.Errorf("room: redis set: %w", err)
	}
	return nil
}
