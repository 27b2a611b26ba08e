package db

import (
	"context"
	"fmt"
	"time"

	"github.com/mezonai/mmn-ledger/logx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	redisNamespace    = "ledger"
	redisScanPageSize = 512
	redisOpTimeout    = 5 * time.Second
)

// RedisProvider implements DatabaseProvider for Redis.
// Values live under "<ns>:<family>:<key>". Each family also keeps a sorted set with every
// key at score 0, so ZRANGEBYLEX yields keys in byte order and range scans stay ordered.
// Writes go through MULTI/EXEC so a batch is applied all or nothing.
type RedisProvider struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisProvider creates a new Redis provider
func NewRedisProvider(address string, db int) (DatabaseProvider, error) {
	client := redis.NewClient(&redis.Options{
		Addr: address,
		DB:   db,
	})

	ctx := context.Background()

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logx.Info("DB", "Connected to redis at ", address, " db=", db)
	return &RedisProvider{
		client: client,
		ctx:    ctx,
	}, nil
}

func redisValueKey(cf Family, key []byte) string {
	return redisNamespace + ":" + cf.String() + ":" + string(key)
}

func redisIndexKey(cf Family) string {
	return redisNamespace + ":idx:" + cf.String()
}

func (p *RedisProvider) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(p.ctx, redisOpTimeout)
}

// Get retrieves a value by key
func (p *RedisProvider) Get(cf Family, key []byte) ([]byte, error) {
	ctx, cancel := p.opCtx()
	defer cancel()
	value, err := p.client.Get(ctx, redisValueKey(cf, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Return nil for not found, consistent with interface
		}
		return nil, errors.Wrapf(err, "redis get %s", cf)
	}
	return value, nil
}

// GetBatch retrieves multiple values with one MGET
func (p *RedisProvider) GetBatch(cf Family, keys [][]byte) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = redisValueKey(cf, k)
	}
	ctx, cancel := p.opCtx()
	defer cancel()
	values, err := p.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "redis mget %s", cf)
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			result[string(keys[i])] = []byte(s)
		}
	}
	return result, nil
}

// Put stores a key-value pair
func (p *RedisProvider) Put(cf Family, key, value []byte) error {
	b := p.Batch()
	defer b.Close()
	b.Put(cf, key, value)
	return b.Write()
}

// Delete removes a key-value pair
func (p *RedisProvider) Delete(cf Family, key []byte) error {
	b := p.Batch()
	defer b.Close()
	b.Delete(cf, key)
	return b.Write()
}

// Has checks if a key exists
func (p *RedisProvider) Has(cf Family, key []byte) (bool, error) {
	ctx, cancel := p.opCtx()
	defer cancel()
	count, err := p.client.Exists(ctx, redisValueKey(cf, key)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis exists %s", cf)
	}
	return count > 0, nil
}

// IterateRange pages through the family index with ZRANGEBYLEX and fetches values with MGET
func (p *RedisProvider) IterateRange(cf Family, start, end []byte, callback func(key, value []byte) bool) error {
	min := "-"
	if start != nil {
		min = "[" + string(start)
	}
	max := "+"
	if end != nil {
		max = "(" + string(end)
	}

	var offset int64
	for {
		ctx, cancel := p.opCtx()
		members, err := p.client.ZRangeByLex(ctx, redisIndexKey(cf), &redis.ZRangeBy{
			Min:    min,
			Max:    max,
			Offset: offset,
			Count:  redisScanPageSize,
		}).Result()
		cancel()
		if err != nil {
			return errors.Wrapf(err, "redis zrangebylex %s", cf)
		}
		if len(members) == 0 {
			return nil
		}

		keys := make([][]byte, len(members))
		for i, m := range members {
			keys[i] = []byte(m)
		}
		values, err := p.GetBatch(cf, keys)
		if err != nil {
			return err
		}
		for _, k := range keys {
			v, ok := values[string(k)]
			if !ok {
				// deleted between the index read and the value read
				continue
			}
			if !callback(k, v) {
				return nil
			}
		}

		if len(members) < redisScanPageSize {
			return nil
		}
		offset += int64(len(members))
	}
}

// Close closes the database connection
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Batch returns a new batch for atomic operations
func (p *RedisProvider) Batch() DatabaseBatch {
	return &RedisBatch{
		client: p.client,
		ctx:    p.ctx,
	}
}

// RedisBatch implements DatabaseBatch for Redis
type RedisBatch struct {
	client *redis.Client
	ctx    context.Context
	ops    []batchOp
}

// Put adds a key-value pair to the batch
func (b *RedisBatch) Put(cf Family, key, value []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: copyBytes(key), value: copyBytes(value)})
}

// Delete adds a deletion to the batch
func (b *RedisBatch) Delete(cf Family, key []byte) {
	b.ops = append(b.ops, batchOp{cf: cf, key: copyBytes(key), delete: true})
}

func (b *RedisBatch) Len() int {
	return len(b.ops)
}

// Write commits all operations in the batch inside MULTI/EXEC
func (b *RedisBatch) Write() error {
	if len(b.ops) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(b.ctx, redisOpTimeout)
	defer cancel()
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range b.ops {
			vk := redisValueKey(op.cf, op.key)
			if op.delete {
				pipe.Del(ctx, vk)
				pipe.ZRem(ctx, redisIndexKey(op.cf), string(op.key))
				continue
			}
			pipe.Set(ctx, vk, op.value, 0)
			pipe.ZAdd(ctx, redisIndexKey(op.cf), redis.Z{Score: 0, Member: string(op.key)})
		}
		return nil
	})
	return errors.Wrap(err, "redis batch write")
}

// Reset clears the batch
func (b *RedisBatch) Reset() {
	b.ops = b.ops[:0]
}

// Close releases batch resources
func (b *RedisBatch) Close() {
	b.ops = nil
}
