package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MimeLyc/tune-ripper/internal/jobs"
	"github.com/MimeLyc/tune-ripper/internal/source"
)

var _ jobs.Store = (*RedisStore)(nil)

// RedisStore keeps jobs in Redis so several instances can share one backend
// for recovery. The caller owns the client lifecycle.
type RedisStore struct {
	client redis.Cmdable
}

type jobRecord struct {
	ID        string    `msgpack:"id"`
	Source    string    `msgpack:"source"`
	Browser   string    `msgpack:"browser,omitempty"`
	CreatedAt time.Time `msgpack:"created_at"`
}

type itemRecord struct {
	Index      int       `msgpack:"index"`
	URL        string    `msgpack:"url"`
	Status     string    `msgpack:"status"`
	ResultFile string    `msgpack:"result_file,omitempty"`
	Error      string    `msgpack:"error,omitempty"`
	StartedAt  time.Time `msgpack:"started_at,omitempty"`
	FinishedAt time.Time `msgpack:"finished_at,omitempty"`
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list job ids: %w", err)
	}

	ret := make([]*jobs.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.loadJob(ctx, id)
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ret = append(ret, job)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret, nil
}

func (s *RedisStore) loadJob(ctx context.Context, id string) (*jobs.Job, error) {
	raw, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var rec jobRecord
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis: decode job %s: %w", id, err)
	}

	fields, err := s.client.HGetAll(ctx, itemsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load items of %s: %w", id, err)
	}
	items := make([]jobs.Item, 0, len(fields))
	for _, v := range fields {
		var ir itemRecord
		if err := msgpack.Unmarshal([]byte(v), &ir); err != nil {
			return nil, fmt.Errorf("redis: decode item of %s: %w", id, err)
		}
		items = append(items, ir.toItem())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Index < items[j].Index })

	return &jobs.Job{
		ID:        rec.ID,
		Source:    source.Kind(rec.Source),
		Browser:   rec.Browser,
		CreatedAt: rec.CreatedAt,
		Items:     items,
	}, nil
}

func (s *RedisStore) SaveJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	header, err := msgpack.Marshal(jobRecord{
		ID:        job.ID,
		Source:    string(job.Source),
		Browser:   job.Browser,
		CreatedAt: job.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("redis: encode job %s: %w", job.ID, err)
	}

	fields := make(map[string]any, len(job.Items))
	for _, item := range job.Items {
		b, err := msgpack.Marshal(newItemRecord(item))
		if err != nil {
			return fmt.Errorf("redis: encode item %d of %s: %w", item.Index, job.ID, err)
		}
		fields[strconv.Itoa(item.Index)] = b
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), header, 0)
	if len(fields) > 0 {
		pipe.HSet(ctx, itemsKey(job.ID), fields)
	}
	pipe.SAdd(ctx, jobIDsKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) UpdateItem(ctx context.Context, jobID string, item jobs.Item) error {
	b, err := msgpack.Marshal(newItemRecord(item))
	if err != nil {
		return fmt.Errorf("redis: encode item %d of %s: %w", item.Index, jobID, err)
	}
	if err := s.client.HSet(ctx, itemsKey(jobID), strconv.Itoa(item.Index), b).Err(); err != nil {
		return fmt.Errorf("redis: update item %d of %s: %w", item.Index, jobID, err)
	}
	return nil
}

func (s *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(jobID), itemsKey(jobID))
	pipe.SRem(ctx, jobIDsKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete job %s: %w", jobID, err)
	}
	return nil
}

func newItemRecord(item jobs.Item) itemRecord {
	return itemRecord{
		Index:      item.Index,
		URL:        item.URL,
		Status:     string(item.Status),
		ResultFile: item.ResultFile,
		Error:      item.Error,
		StartedAt:  item.StartedAt.UTC(),
		FinishedAt: item.FinishedAt.UTC(),
	}
}

func (r itemRecord) toItem() jobs.Item {
	return jobs.Item{
		Index:      r.Index,
		URL:        r.URL,
		Status:     jobs.ItemStatus(r.Status),
		ResultFile: r.ResultFile,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
