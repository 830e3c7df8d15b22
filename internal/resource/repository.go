package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	currentHashKey   = "resources:current"
	historyKeyPrefix = "resources:history:"
)

// Repository persists the current per-type resource map (a hash keyed by
// resource type) and a bounded history list per type.
type Repository interface {
	Save(ctx context.Context, resourceType string, resources map[string]Payload, at time.Time) error
	LoadCurrent(ctx context.Context) (map[string]map[string]Payload, error)
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

func (r *RedisRepository) Save(ctx context.Context, resourceType string, resources map[string]Payload, at time.Time) error {
	if resourceType == "" {
		return fmt.Errorf("resource: empty resource type")
	}

	b, err := json.Marshal(resources)
	if err != nil {
		return err
	}

	entry, err := json.Marshal(historyEntry{Resources: resources, Timestamp: at})
	if err != nil {
		return err
	}

	historyKey := historyKeyPrefix + resourceType

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, currentHashKey, resourceType, b)
	pipe.LPush(ctx, historyKey, entry)
	pipe.LTrim(ctx, historyKey, 0, r.historyLimit-1)

	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) LoadCurrent(ctx context.Context) (map[string]map[string]Payload, error) {
	values, err := r.client.HGetAll(ctx, currentHashKey).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]Payload, len(values))
	for resourceType, raw := range values {
		var byName map[string]Payload
		if err := json.Unmarshal([]byte(raw), &byName); err != nil {
			return nil, err
		}
		out[resourceType] = byName
	}
	return out, nil
}
