package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	currentKeyPrefix = "metrics:current:"
	historyKeyPrefix = "metrics:history:"
)

// Repository persists snapshots to a per-worker current slot and a bounded
// most-recent history.
type Repository interface {
	Save(ctx context.Context, s *Snapshot) error
	Current(ctx context.Context, workerID string) (*Snapshot, error)
	History(ctx context.Context, workerID string, limit int64) ([]*Snapshot, error)
}

type RedisRepository struct {
	client       *redis.Client
	historyLimit int64
}

func NewRedisRepository(client *redis.Client, historyLimit int) *RedisRepository {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &RedisRepository{
		client:       client,
		historyLimit: int64(historyLimit),
	}
}

func (r *RedisRepository) Save(ctx context.Context, s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("telemetry: nil snapshot")
	}
	if s.WorkerID == "" {
		return fmt.Errorf("telemetry: empty worker id")
	}

	b, err := json.Marshal(s)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, currentKeyPrefix+s.WorkerID, b, 0)
	pipe.LPush(ctx, historyKeyPrefix+s.WorkerID, b)
	pipe.LTrim(ctx, historyKeyPrefix+s.WorkerID, 0, r.historyLimit-1)

	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) Current(ctx context.Context, workerID string) (*Snapshot, error) {
	if workerID == "" {
		return nil, fmt.Errorf("telemetry: empty worker id")
	}

	s, err := r.client.Get(ctx, currentKeyPrefix+workerID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(s), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *RedisRepository) History(ctx context.Context, workerID string, limit int64) ([]*Snapshot, error) {
	if workerID == "" {
		return nil, fmt.Errorf("telemetry: empty worker id")
	}
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}

	values, err := r.client.LRange(ctx, historyKeyPrefix+workerID, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	res := make([]*Snapshot, 0, len(values))
	for _, v := range values {
		var snap Snapshot
		if err := json.Unmarshal([]byte(v), &snap); err != nil {
			return nil, err
		}
		res = append(res, &snap)
	}
	return res, nil
}
