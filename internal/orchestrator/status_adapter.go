package orchestrator

import (
	"context"

	"github.com/local/pdfbatcher/internal/batch"
	"github.com/local/pdfbatcher/internal/store"
)

type redisStatusAdapter struct{ s *store.RedisStatus }

func NewStatusAdapter(s *store.RedisStatus) StatusStore { return &redisStatusAdapter{s: s} }

func (a *redisStatusAdapter) Set(ctx context.Context, jobID string, st Status) error {
	m := make(map[string]interface{})
	if st.Metadata != nil {
		m = st.Metadata
	}
	return a.s.Set(ctx, jobID, store.Status{
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Start:    st.Start,
		End:      st.End,
		Metadata: m,
	})
}

func (a *redisStatusAdapter) Get(ctx context.Context, jobID string) (Status, bool, error) {
	st, ok, err := a.s.Get(ctx, jobID)
	if !ok || err != nil {
		return Status{}, ok, err
	}
	return Status{
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Start:    st.Start,
		End:      st.End,
		Metadata: st.Metadata,
	}, true, nil
}

type redisResultAdapter struct{ s *store.ResultStore }

func NewResultAdapter(s *store.ResultStore) ResultStore { return &redisResultAdapter{s: s} }

func (a *redisResultAdapter) SaveResult(ctx context.Context, jobID string, r Result) error {
	return a.s.SaveResult(ctx, jobID, store.BatchRecord{
		Index: r.Index,
		Start: r.Batch.Start,
		End:   r.Batch.End,
		Path:  r.Path,
		URL:   r.URL,
		Error: r.Error,
	})
}

func (a *redisResultAdapter) Results(ctx context.Context, jobID string) ([]Result, error) {
	recs, err := a.s.Results(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Result{
			Index: rec.Index,
			Batch: batch.Batch{Start: rec.Start, End: rec.End},
			Path:  rec.Path,
			URL:   rec.URL,
			Error: rec.Error,
		})
	}
	return out, nil
}
