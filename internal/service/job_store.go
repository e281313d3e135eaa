package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deckforge/api/internal/model"
)

const (
	jobKeyPrefix   = "job:"
	activeJobsKey  = "jobs:active"
	defaultJobTTL  = 24 * time.Hour
	maxTxnAttempts = 10
)

var errTxnContention = errors.New("job update lost too many optimistic races")

// RedisJobStore keeps job records as JSON under job:<id>. Non-terminal jobs
// are also indexed in a sorted set scored by their last write time.
type RedisJobStore struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

func NewRedisJobStore(redisClient *redis.Client) *RedisJobStore {
	return &RedisJobStore{
		redis: redisClient,
		ttl:   defaultJobTTL,
		now:   time.Now,
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// Create writes a new job record.
func (s *RedisJobStore) Create(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), data, s.ttl)
		pipe.ZAdd(ctx, activeJobsKey, redis.Z{Score: float64(s.now().Unix()), Member: job.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.get(ctx, s.redis, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisJobStore) get(ctx context.Context, r getter, id string) (*model.Job, error) {
	data, err := r.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// Update applies patch under WATCH so concurrent writers never lose each
// other's changes. Terminal jobs are immutable and yield model.ErrJobTerminal.
// An error returned by patch aborts the write and is passed through.
func (s *RedisJobStore) Update(ctx context.Context, id string, patch func(*model.Job) error) (*model.Job, error) {
	key := jobKey(id)
	var updated *model.Job

	txf := func(tx *redis.Tx) error {
		job, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return model.ErrJobTerminal
		}
		if err := patch(job); err != nil {
			return err
		}

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if job.Status.IsTerminal() {
				pipe.ZRem(ctx, activeJobsKey, id)
			} else {
				pipe.ZAdd(ctx, activeJobsKey, redis.Z{Score: float64(s.now().Unix()), Member: id})
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = job
		return nil
	}

	for i := 0; i < maxTxnAttempts; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, errTxnContention
}

// StaleJobIDs lists non-terminal jobs whose last write is older than cutoff.
func (s *RedisJobStore) StaleJobIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.redis.ZRangeByScore(ctx, activeJobsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff.Unix()),
	}).Result()
}

// Forget drops an id from the active index, e.g. after its record expired.
func (s *RedisJobStore) Forget(ctx context.Context, id string) error {
	return s.redis.ZRem(ctx, activeJobsKey, id).Err()
}
