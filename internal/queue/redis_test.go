package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	// a long poll keeps the background mover out of the way
	q, err := NewRedisQueueFromClient(c, "jobs:test", "workers:test", time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueDequeueAck(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, []byte(`{"job_id":"a"}`)))

	id, data, err := q.Dequeue(ctx, "w1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.JSONEq(t, `{"job_id":"a"}`, string(data))
	require.NoError(t, q.Ack(ctx, id))

	id, data, err = q.Dequeue(ctx, "w1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Nil(t, data)
}

func TestGroupCreateIsIdempotent(t *testing.T) {
	q := newQueue(t)
	_, err := NewRedisQueueFromClient(q.Client(), q.Stream, q.Group, time.Hour)
	assert.NoError(t, err)
}

func TestCancelAndDLQ(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	cancelled, err := q.IsCancelled(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, q.CancelJob(ctx, "j1"))
	cancelled, err = q.IsCancelled(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.NoError(t, q.AddDLQ(ctx, []byte(`{}`), "bad input"))
	_, _, dlq, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlq)
}

func TestDelayedMove(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, q.EnqueueDelayed(ctx, []byte(`{"job_id":"due"}`), now.Add(-time.Second)))
	require.NoError(t, q.EnqueueDelayed(ctx, []byte(`{"job_id":"later"}`), now.Add(time.Hour)))

	assert.Equal(t, 1, q.moveOnce(now))
	stream, delayed, _, err := q.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stream)
	assert.Equal(t, int64(1), delayed)
}

func TestIdempotencyKeys(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	done, err := q.IsIdemDone(ctx, "job:x")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, q.MarkIdemDone(ctx, "job:x", time.Hour))
	done, err = q.IsIdemDone(ctx, "job:x")
	require.NoError(t, err)
	assert.True(t, done)
}
