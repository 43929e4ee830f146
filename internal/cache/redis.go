package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each record in a hash and indexes it by request URI:
//
//	<prefix>:<collection>:uri:<requestURI> -> id
//	<prefix>:<collection>:rec:<id>         -> {requestURI, timestamp, data}
//
// The first inserted record of a URI owns the index entry, until that record disappears.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   options
}

var _ Store = (*RedisStore)(nil)

// claimIndex points KEYS[1] at ARGV[1] unless it already names a live record under the ARGV[2] prefix
var claimIndex = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and redis.call('EXISTS', ARGV[2] .. current) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// NewRedis creates a store on client. The caller owns the redis.Client lifecycle.
func NewRedis(client *redis.Client, prefix string, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		opts:   applyOptions(opts),
	}
}

func (r *RedisStore) key(collection, kind, id string) string {
	k := collection + ":" + kind + ":" + id
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisStore) Lookup(ctx context.Context, collection, requestURI string) (*Record, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	qctx, cancel := r.opts.queryCtx(ctx)
	defer cancel()

	id, err := r.client.Get(qctx, r.key(collection, "uri", requestURI)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis lookup in %s: %w", collection, err)
	}

	fields, err := r.client.HGetAll(qctx, r.key(collection, "rec", id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read of %s record %s: %w", collection, id, err)
	}
	if len(fields) == 0 {
		// dangling index entry
		return nil, nil
	}

	ts, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis %s record %s has invalid timestamp: %w", collection, id, err)
	}
	return &Record{
		ID:         id,
		RequestURI: fields["requestURI"],
		Timestamp:  ts,
		Data:       fields["data"],
	}, nil
}

func (r *RedisStore) Insert(ctx context.Context, collection string, rec Record) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	qctx, cancel := r.opts.queryCtx(ctx)
	defer cancel()

	id := uuid.NewString()
	err := r.client.HSet(qctx, r.key(collection, "rec", id),
		"requestURI", rec.RequestURI,
		"timestamp", r.opts.timestamp(),
		"data", rec.Data,
	).Err()
	if err != nil {
		return "", fmt.Errorf("redis insert in %s: %w", collection, err)
	}

	uriKey := r.key(collection, "uri", rec.RequestURI)
	if err := claimIndex.Run(qctx, r.client, []string{uriKey}, id, r.key(collection, "rec", "")).Err(); err != nil {
		return "", fmt.Errorf("redis index of %s in %s: %w", rec.RequestURI, collection, err)
	}
	return id, nil
}

func (r *RedisStore) Update(ctx context.Context, collection, id string, rec Record) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	qctx, cancel := r.opts.queryCtx(ctx)
	defer cancel()

	recKey := r.key(collection, "rec", id)
	exists, err := r.client.Exists(qctx, recKey).Result()
	if err != nil {
		return fmt.Errorf("redis update in %s: %w", collection, err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	err = r.client.HSet(qctx, recKey,
		"requestURI", rec.RequestURI,
		"timestamp", r.opts.timestamp(),
		"data", rec.Data,
	).Err()
	if err != nil {
		return fmt.Errorf("redis update in %s: %w", collection, err)
	}
	return nil
}

// Init checks connectivity, redis needs no schema
func (r *RedisStore) Init(ctx context.Context, collections ...string) error {
	for _, c := range collections {
		if err := ValidateCollection(c); err != nil {
			return err
		}
	}
	qctx, cancel := r.opts.queryCtx(ctx)
	defer cancel()
	return r.client.Ping(qctx).Err()
}

// Close is a no-op, the caller owns the redis.Client
func (r *RedisStore) Close(_ context.Context) error {
	return nil
}
