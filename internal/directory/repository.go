package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	workerIDsKey      = "workers:ids"
	workerIDKeyPrefix = "workers:id:"
)

// Repository is the durable source of truth for worker identity and
// liveness. The in-process hub state is a cache over it.
type Repository interface {
	Register(ctx context.Context, w *WorkerState) error
	Deregister(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*WorkerState, error)
	ListAll(ctx context.Context) ([]*WorkerState, error)
	UpdateStatus(ctx context.Context, id string, status Status, heartbeat time.Time) error
	SetConnection(ctx context.Context, id, sessionID string, connected bool) error
}

type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

func (r *RedisRepository) idKey(id string) string {
	return workerIDKeyPrefix + id
}

func (r *RedisRepository) Register(ctx context.Context, w *WorkerState) error {
	if w == nil {
		return fmt.Errorf("directory: nil worker state")
	}
	if w.WorkerID == "" {
		return fmt.Errorf("directory: empty worker id")
	}
	if w.Status == "" {
		w.Status = StatusUnknown
	}

	b, err := json.Marshal(w)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.idKey(w.WorkerID), b, 0)
	pipe.SAdd(ctx, workerIDsKey, w.WorkerID)

	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) Deregister(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("directory: empty worker id")
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.idKey(id))
	pipe.SRem(ctx, workerIDsKey, id)

	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*WorkerState, error) {
	if id == "" {
		return nil, fmt.Errorf("directory: empty worker id")
	}

	s, err := r.client.Get(ctx, r.idKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var w WorkerState
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// ListAll reads the known id set then fetches each record. Ids whose record
// is missing are skipped, not errors.
func (r *RedisRepository) ListAll(ctx context.Context) ([]*WorkerState, error) {
	ids, err := r.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*WorkerState{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.idKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]*WorkerState, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("directory: invalid value type")
		}
		var w WorkerState
		if err := json.Unmarshal([]byte(s), &w); err != nil {
			return nil, err
		}
		res = append(res, &w)
	}
	return res, nil
}

// UpdateStatus is a read-modify-write; a missing record is skipped so that a
// check racing a deregistration does not resurrect the worker.
func (r *RedisRepository) UpdateStatus(ctx context.Context, id string, status Status, heartbeat time.Time) error {
	w, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if w == nil {
		return nil
	}

	w.Status = status
	if !heartbeat.IsZero() {
		w.LastHeartbeat = heartbeat
	}

	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.idKey(id), b, 0).Err()
}

// SetConnection keeps WorkerState.Connected in lockstep with the live
// session. Disconnecting also resets the status to unknown since the hub can
// no longer observe the worker.
func (r *RedisRepository) SetConnection(ctx context.Context, id, sessionID string, connected bool) error {
	w, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if w == nil {
		return nil
	}

	w.Connected = connected
	w.SessionID = sessionID
	if connected {
		w.ConnectedAt = time.Now()
	} else {
		w.Status = StatusUnknown
	}

	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.idKey(id), b, 0).Err()
}
