package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

// BatchRecord is the stored outcome of one batch of a job.
type BatchRecord struct {
	Index int    `json:"index"`
	Start int    `json:"start_page"`
	End   int    `json:"end_page"`
	Path  string `json:"path"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// ResultStore keeps per-batch results in one hash per job, keyed by index.
type ResultStore struct {
	client *redis.Client
}

func NewResultStore(c *redis.Client) *ResultStore { return &ResultStore{client: c} }

func (s *ResultStore) key(jobID string) string { return fmt.Sprintf("job:%s:batches", jobID) }

func (s *ResultStore) SaveResult(ctx context.Context, jobID string, rec BatchRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(jobID), strconv.Itoa(rec.Index), string(b))
	pipe.Expire(ctx, s.key(jobID), DefaultTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Results returns the stored batches ordered by index.
func (s *ResultStore) Results(ctx context.Context, jobID string) ([]BatchRecord, error) {
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]BatchRecord, 0, len(res))
	for field, v := range res {
		var rec BatchRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decode batch %s: %w", field, err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
