package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "offline-hub"

// RedisOptions 描述 redis 驱动的连接参数。
type RedisOptions struct {
	// Client cannot be nil.
	Client redis.Cmdable
	// Prefix namespaces every redis key written by this store.
	Prefix string
	// Closer is invoked by Close when set.
	Closer interface{ Close() error }
}

// redisStore 使用一个 set 记录命名空间，每个命名空间对应一个 hash
// （field = key，value = 编码后的条目）。HSET 对单个 field 原子生效。
type redisStore struct {
	client redis.Cmdable
	prefix string
	closer interface{ Close() error }
}

// NewRedisStore 基于已有的 redis 客户端构建 Store。
func NewRedisStore(opts RedisOptions) (Store, error) {
	if opts.Client == nil {
		return nil, errors.New("nil redis client")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{client: opts.Client, prefix: prefix, closer: opts.Closer}, nil
}

// DialRedis 连接 addr 并确认可用。
func DialRedis(ctx context.Context, addr string) (Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedisStore(RedisOptions{Client: client, Closer: client})
}

func (s *redisStore) namespacesKey() string {
	return s.prefix + ":namespaces"
}

func (s *redisStore) namespaceKey(namespace string) string {
	return s.prefix + ":ns:" + namespace
}

func (s *redisStore) Open(ctx context.Context, namespace string) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	return s.client.ZAddNX(ctx, s.namespacesKey(), &redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: namespace,
	}).Err()
}

func (s *redisStore) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	payload, err := s.client.HGet(ctx, s.namespaceKey(namespace), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entry, err := decodeEntry(payload)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put 在同一个 MULTI/EXEC 中登记命名空间并写入 hash，避免与 DeleteNamespace 交错后留下未登记的 hash。
func (s *redisStore) Put(ctx context.Context, namespace, key string, entry Entry) error {
	if err := checkNamespace(namespace); err != nil {
		return err
	}
	entry.Key = key
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	payload, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAddNX(ctx, s.namespacesKey(), &redis.Z{
			Score:  float64(time.Now().UnixNano()),
			Member: namespace,
		})
		pipe.HSet(ctx, s.namespaceKey(namespace), key, payload)
		return nil
	})
	return err
}

func (s *redisStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.namespaceKey(namespace)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *redisStore) Delete(ctx context.Context, namespace, key string) (bool, error) {
	n, err := s.client.HDel(ctx, s.namespaceKey(namespace), key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisStore) DeleteNamespace(ctx context.Context, namespace string) (bool, error) {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.namespaceKey(namespace))
	rem := pipe.ZRem(ctx, s.namespacesKey(), namespace)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return del.Val() > 0 || rem.Val() > 0, nil
}

func (s *redisStore) Namespaces(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, s.namespacesKey(), 0, -1).Result()
}

func (s *redisStore) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
