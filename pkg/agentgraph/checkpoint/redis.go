package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints in Redis.
//
// Layout, under a configurable prefix:
//
//	<prefix>cp:<thread>:<step>  checkpoint bytes
//	<prefix>steps:<thread>      ZSET of steps, score = step
//	<prefix>meta:<thread>:<step> HASH {ts, size}
//	<prefix>threads             ZSET of thread ids, score = last save time
//
// A save writes all keys in one MULTI/EXEC transaction.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. Default "agentgraph:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRedisTTL expires checkpoint keys after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
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
	s := &RedisStore{client: client, prefix: "agentgraph:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) dataKey(threadID string, step int) string {
	return s.prefix + "cp:" + threadID + ":" + strconv.Itoa(step)
}

func (s *RedisStore) metaKey(threadID string, step int) string {
	return s.prefix + "meta:" + threadID + ":" + strconv.Itoa(step)
}

func (s *RedisStore) stepsKey(threadID string) string {
	return s.prefix + "steps:" + threadID
}

func (s *RedisStore) threadsKey() string {
	return s.prefix + "threads"
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, threadID string, step int, data []byte) error {
	now := time.Now().UTC()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(threadID, step), data, s.ttl)
		pipe.HSet(ctx, s.metaKey(threadID, step), "ts", now.Format(time.RFC3339Nano), "size", len(data))
		if s.ttl > 0 {
			pipe.Expire(ctx, s.metaKey(threadID, step), s.ttl)
		}
		pipe.ZAdd(ctx, s.stepsKey(threadID), redis.Z{Score: float64(step), Member: strconv.Itoa(step)})
		pipe.ZAdd(ctx, s.threadsKey(), redis.Z{Score: float64(now.Unix()), Member: threadID})
		return nil
	})
	if err != nil {
		return s.wrap("save checkpoint", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, threadID string) ([]byte, error) {
	steps, err := s.client.ZRevRange(ctx, s.stepsKey(threadID), 0, 0).Result()
	if err != nil {
		return nil, s.wrap("load checkpoint", err)
	}
	if len(steps) == 0 {
		return nil, ErrNotFound
	}
	step, err := strconv.Atoi(steps[0])
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: bad step %q: %w", steps[0], err)
	}
	return s.LoadStep(ctx, threadID, step)
}

// LoadStep implements Store.
func (s *RedisStore) LoadStep(ctx context.Context, threadID string, step int) ([]byte, error) {
	data, err := s.client.Get(ctx, s.dataKey(threadID, step)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("load checkpoint", err)
	}
	return data, nil
}

// History implements Store.
func (s *RedisStore) History(ctx context.Context, threadID string) ([]Info, error) {
	steps, err := s.client.ZRange(ctx, s.stepsKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, s.wrap("list checkpoints", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(steps))
	for i, raw := range steps {
		step, _ := strconv.Atoi(raw)
		cmds[i] = pipe.HGetAll(ctx, s.metaKey(threadID, step))
	}
	if len(steps) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, s.wrap("list checkpoints", err)
		}
	}

	infos := make([]Info, 0, len(steps))
	for i, raw := range steps {
		meta := cmds[i].Val()
		if len(meta) == 0 {
			// Expired under TTL.
			continue
		}
		step, _ := strconv.Atoi(raw)
		size, _ := strconv.ParseInt(meta["size"], 10, 64)
		ts, _ := time.Parse(time.RFC3339Nano, meta["ts"])
		infos = append(infos, Info{ThreadID: threadID, Step: step, Timestamp: ts, Size: size})
	}
	return infos, nil
}

// Threads implements Store.
func (s *RedisStore) Threads(ctx context.Context) ([]string, error) {
	threads, err := s.client.ZRange(ctx, s.threadsKey(), 0, -1).Result()
	if err != nil {
		return nil, s.wrap("list threads", err)
	}
	sort.Strings(threads)
	return threads, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	steps, err := s.client.ZRange(ctx, s.stepsKey(threadID), 0, -1).Result()
	if err != nil {
		return s.wrap("delete thread checkpoints", err)
	}

	keys := []string{s.stepsKey(threadID)}
	for _, raw := range steps {
		step, _ := strconv.Atoi(raw)
		keys = append(keys, s.dataKey(threadID, step), s.metaKey(threadID, step))
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.threadsKey(), threadID)
		return nil
	})
	if err != nil {
		return s.wrap("delete thread checkpoints", err)
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

func (s *RedisStore) wrap(op string, err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return ErrStoreClosed
	}
	return fmt.Errorf("%s: %w", op, err)
}
