package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"supportchat/server/model"
)

const (
	redisKeyPrefix = "chat:identity:"
	redisTimeout   = 3 * time.Second
)

// RedisResolver reads identities from hashes at chat:identity:<id> with
// fields "role" and "name". The surrounding application owns those keys.
type RedisResolver struct {
	client *redis.Client
}

func NewRedisResolver(addr, password string) *RedisResolver {
	return &RedisResolver{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

func (r *RedisResolver) Resolve(ctx context.Context, id string) (Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identity{}, ErrUnresolved
	}
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	fields, err := r.client.HGetAll(ctx, redisKey(id)).Result()
	if err != nil {
		return Identity{}, fmt.Errorf("resolve %q: %w", id, err)
	}
	if len(fields) == 0 {
		return Identity{}, fmt.Errorf("%w: %q not found", ErrUnresolved, id)
	}
	role := model.Role(fields["role"])
	if !role.Valid() {
		return Identity{}, fmt.Errorf("%w: %q has role %q", ErrUnresolved, id, fields["role"])
	}
	return Identity{ID: id, Role: role, DisplayName: fields["name"]}, nil
}

// Put writes an identity record, expiring after ttl when ttl is positive.
func (r *RedisResolver) Put(ctx context.Context, ident Identity, ttl time.Duration) error {
	if strings.TrimSpace(ident.ID) == "" || !ident.Role.Valid() {
		return fmt.Errorf("put identity: id and valid role are required")
	}
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	key := redisKey(ident.ID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "role", string(ident.Role), "name", ident.DisplayName)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put identity %q: %w", ident.ID, err)
	}
	return nil
}

// Ping checks connectivity.
func (r *RedisResolver) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisResolver) Close() error {
	return r.client.Close()
}
