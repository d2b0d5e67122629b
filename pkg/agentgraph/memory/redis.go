package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists memory records in Redis.
//
// Each namespace is one hash, field = key, value = JSON record:
//
//	<prefix>mem:<encoded namespace>  HASH key -> record
//	<prefix>mem-namespaces           SET of encoded namespaces
//
// Writes to a namespace use WATCH/MULTI so CreatedAt survives concurrent puts.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. Default "agentgraph:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore connects to addr.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient wraps an existing client. Close closes the client.
func NewRedisStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "agentgraph:", maxRetries: 16}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type redisRecord struct {
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (s *RedisStore) hashKey(enc string) string {
	return s.prefix + "mem:" + enc
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "mem-namespaces"
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, ns Namespace, key string, value map[string]any) error {
	if err := validateWrite(ns, key); err != nil {
		return err
	}

	enc := ns.encode()
	hkey := s.hashKey(enc)

	put := func(tx *redis.Tx) error {
		now := time.Now().UTC()
		rec := redisRecord{Value: value, CreatedAt: now, UpdatedAt: now}

		raw, err := tx.HGet(ctx, hkey, key).Bytes()
		switch {
		case err == nil:
			var old redisRecord
			if json.Unmarshal(raw, &old) == nil && !old.CreatedAt.IsZero() {
				rec.CreatedAt = old.CreatedAt
			}
		case !errors.Is(err, redis.Nil):
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal memory value: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hkey, key, data)
			pipe.SAdd(ctx, s.indexKey(), enc)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, put, hkey); err != nil {
		return fmt.Errorf("put memory record: %w", s.wrap(err))
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, ns Namespace, key string) (*Item, error) {
	if err := validateWrite(ns, key); err != nil {
		return nil, err
	}

	raw, err := s.client.HGet(ctx, s.hashKey(ns.encode()), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory record: %w", s.wrap(err))
	}
	return decodeRecord(ns, key, raw)
}

// Search implements Store.
func (s *RedisStore) Search(ctx context.Context, prefix Namespace, opts ...SearchOption) ([]Item, error) {
	if err := prefix.validatePrefix(); err != nil {
		return nil, err
	}
	cfg := newSearchConfig(opts)

	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", s.wrap(err))
	}

	var namespaces []Namespace
	for _, enc := range members {
		if ns := decodeNamespace(enc); ns.HasPrefix(prefix) {
			namespaces = append(namespaces, ns)
		}
	}
	if len(namespaces) == 0 {
		return []Item{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(namespaces))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, ns := range namespaces {
			cmds[i] = pipe.HGetAll(ctx, s.hashKey(ns.encode()))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", s.wrap(err))
	}

	var items []Item
	for i, cmd := range cmds {
		for key, raw := range cmd.Val() {
			it, err := decodeRecord(namespaces[i], key, []byte(raw))
			if err != nil {
				return nil, err
			}
			items = append(items, *it)
		}
	}
	return cfg.apply(items), nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := validateWrite(ns, key); err != nil {
		return err
	}

	enc := ns.encode()
	hkey := s.hashKey(enc)

	del := func(tx *redis.Tx) error {
		n, err := tx.HLen(ctx, hkey).Result()
		if err != nil {
			return err
		}
		exists, err := tx.HExists(ctx, hkey, key).Result()
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, hkey, key)
			if n == 1 {
				pipe.SRem(ctx, s.indexKey(), enc)
			}
			return nil
		})
		return err
	}

	if err := s.watch(ctx, del, hkey); err != nil {
		return fmt.Errorf("delete memory record: %w", s.wrap(err))
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// watch runs fn in an optimistic transaction, retrying when another client
// touched the watched keys.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range s.maxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

func (s *RedisStore) wrap(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrStoreClosed
	}
	return err
}

func decodeRecord(ns Namespace, key string, raw []byte) (*Item, error) {
	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal memory record %s/%s: %w", ns, key, err)
	}
	return &Item{
		Namespace: append(Namespace(nil), ns...),
		Key:       key,
		Value:     rec.Value,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}
