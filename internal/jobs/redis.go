package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"
)

const (
	DefaultRedisPrefix = "classched:"
	maxWatchRetries    = 16
)

// RedisStore keeps each job as a JSON value at {prefix}job:{id}, with
// {prefix}user:{userId} and {prefix}jobs sets as indexes.
type RedisStore struct {
	rdb    goredis.UniversalClient
	prefix string
}

func NewRedisStore(rdb goredis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// OpenRedis connects using a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := goredis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return NewRedisStore(rdb, prefix), nil
}

func (s *RedisStore) jobKey(id string) string      { return s.prefix + "job:" + id }
func (s *RedisStore) userKey(userID string) string { return s.prefix + "user:" + userID }
func (s *RedisStore) indexKey() string             { return s.prefix + "jobs" }

// redisJob is the stored JSON layout. A degraded job has a null task ref.
type redisJob struct {
	JobID              string          `json:"jobId"`
	UserID             string          `json:"userId"`
	SessionID          string          `json:"sessionId"`
	TargetEventTime    time.Time       `json:"targetEventTime"`
	DispatchTime       time.Time       `json:"dispatchTime"`
	SessionOpeningTime time.Time       `json:"sessionOpeningTime"`
	Payload            json.RawMessage `json:"payload"`
	ExternalTaskRef    *string         `json:"externalTaskRef"`
	LastError          string          `json:"lastError,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

func toRedis(j Job) redisJob {
	return redisJob{
		JobID: j.ID, UserID: j.UserID, SessionID: j.SessionID,
		TargetEventTime: j.TargetEventTime, DispatchTime: j.DispatchTime, SessionOpeningTime: j.SessionOpeningTime,
		Payload: j.Payload, ExternalTaskRef: nullable(j.ExternalTaskRef), LastError: j.LastError, CreatedAt: j.CreatedAt,
	}
}

func fromRedis(r redisJob) Job {
	j := Job{
		ID: r.JobID, UserID: r.UserID, SessionID: r.SessionID,
		TargetEventTime: r.TargetEventTime, DispatchTime: r.DispatchTime, SessionOpeningTime: r.SessionOpeningTime,
		Payload: r.Payload, LastError: r.LastError, CreatedAt: r.CreatedAt,
	}
	if r.ExternalTaskRef != nil {
		j.ExternalTaskRef = *r.ExternalTaskRef
	}
	return j.normalized()
}

func decodeRedis(b []byte) (Job, error) {
	var r redisJob
	if err := json.Unmarshal(b, &r); err != nil {
		return Job{}, errors.Wrap(err, "decode job")
	}
	return fromRedis(r), nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	b, err := s.rdb.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Job{}, notFound(id)
	}
	if err != nil {
		return Job{}, err
	}
	return decodeRedis(b)
}

func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]Job, error) {
	return s.listSet(ctx, s.userKey(userID))
}

func (s *RedisStore) List(ctx context.Context) ([]Job, error) {
	return s.listSet(ctx, s.indexKey())
}

func (s *RedisStore) listSet(ctx context.Context, setKey string) ([]Job, error) {
	ids, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// index entry outlived its job
			continue
		}
		j, err := decodeRedis([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	sortNewestFirst(out)
	return out, nil
}

// Update uses WATCH on the job key and retries on concurrent modification.
func (s *RedisStore) Update(ctx context.Context, id string, fn Mutator) error {
	key := s.jobKey(id)
	txf := func(tx *goredis.Tx) error {
		var current *Job
		b, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			j, derr := decodeRedis(b)
			if derr != nil {
				return derr
			}
			current = &j
		case !errors.Is(err, goredis.Nil):
			return err
		}

		next, write, err := apply(id, current, fn)
		if err != nil || !write {
			return err
		}
		var payload []byte
		if next != nil {
			if payload, err = json.Marshal(toRedis(*next)); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.userKey(current.UserID), id)
				pipe.SRem(ctx, s.indexKey(), id)
				return nil
			}
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, s.userKey(next.UserID), id)
			pipe.SAdd(ctx, s.indexKey(), id)
			if current != nil && current.UserID != next.UserID {
				pipe.SRem(ctx, s.userKey(current.UserID), id)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.Newf("jobs: update %s: too much contention", id)
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
