package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "job:"

	defaultTxAttempts = 10
)

// RedisStore はジョブ状態を Redis に保存します。複数プロセスから同じレコードを参照できます。
type RedisStore struct {
	rdb        *redis.Client
	ttl        time.Duration
	txAttempts uint
}

// NewRedisStore は RedisStore を作成します。ttl は終端状態になったレコードのキー有効期限です。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:        rdb,
		ttl:        ttl,
		txAttempts: defaultTxAttempts,
	}
}

// Ping は接続を確認します。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil || rec.JobID == "" {
		return fmt.Errorf("record with job id is required")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(rec.JobID), payload, s.expiration(rec)).Result()
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", rec.JobID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.JobID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return decodeRecord(data)
}

// Update は WATCH/MULTI による楽観的トランザクションでレコードを置き換えます。
// 競合（redis.TxFailedErr）時は retry-go で再試行します。
func (s *RedisStore) Update(ctx context.Context, id string, mutate func(*Record) error) (*Record, error) {
	key := jobKey(id)
	var updated *Record

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if err := mutate(rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.expiration(rec))
			return nil
		})
		if err == nil {
			updated = rec
		}
		return err
	}

	err := retry.Do(
		func() error { return s.rdb.Watch(ctx, txf, key) },
		retry.Context(ctx),
		retry.Attempts(s.txAttempts),
		retry.Delay(5*time.Millisecond),
		retry.RetryIf(func(err error) bool { return errors.Is(err, redis.TxFailedErr) }),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, jobKey(id)).Err()
}

// expiration は実行中のレコードを失効させず、終端レコードだけに TTL を付けます。
func (s *RedisStore) expiration(rec *Record) time.Duration {
	if rec.Status.Terminal() {
		return s.ttl
	}
	return 0
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}
	return &rec, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
