//go:build integration

package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pdv/internal/model"
	"pdv/internal/service"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())
	return rdb
}

type failingHandler struct{ calls chan struct{} }

func (h *failingHandler) Process(context.Context, json.RawMessage) error {
	h.calls <- struct{}{}
	return assert.AnError
}

func TestRedis_DispatcherFeedsPool(t *testing.T) {
	rdb := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &stubEmitter{}
	pool := NewPool(rdb, map[string]Handler{JobEmission: NewEmissionWorker(f)})
	pool.Start(ctx, 2)

	saleID := uuid.New()
	fallback := &recordingTrigger{}
	NewDispatcher(rdb, []string{"nfce", "sat"}, fallback).SaleFinalized(ctx, saleID)

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.emitted) == 2
	}, 10*time.Second, 50*time.Millisecond)
	assert.Empty(t, fallback.sales)

	cancel()
	pool.Wait()
}

func TestRedis_FailingJobsAreDeadLettered(t *testing.T) {
	rdb := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &failingHandler{calls: make(chan struct{}, maxJobAttempts)}
	pool := NewPool(rdb, map[string]Handler{JobEmission: h})
	pool.Start(ctx, 1)

	d := NewDispatcher(rdb, []string{"nfce"}, nil)
	require.NoError(t, d.EnqueueEmission(ctx, EmissionJobPayload{SaleID: uuid.NewString(), Kind: "nfce"}))

	require.Eventually(t, func() bool {
		n, err := DLQLength(ctx, rdb, QueueEmission)
		return err == nil && n == 1
	}, 20*time.Second, 100*time.Millisecond)
	assert.Len(t, h.calls, maxJobAttempts)

	entries, err := DLQEntries(ctx, rdb, QueueEmission, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, JobEmission, entries[0].JobType)
	assert.Equal(t, maxJobAttempts, entries[0].Attempts)

	cancel()
	pool.Wait()
}

func TestRedis_SweepLockAndDLQ(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	locker := redislock.New(rdb)

	doc := model.FiscalDocument{ID: uuid.New(), SaleID: uuid.New(), Kind: "nfce", Status: model.FiscalError}
	f := &stubEmitter{
		due:      []model.FiscalDocument{doc},
		outcomes: map[uuid.UUID]service.RetryOutcome{doc.ID: service.RetryExhausted},
	}
	c := NewRetryCron(RetryCronConfig{Fiscal: f, RDB: rdb, Locker: locker, Tick: time.Minute})

	held, err := locker.Obtain(ctx, retryLockKey, time.Minute, nil)
	require.NoError(t, err)
	assert.Equal(t, SweepLocked, c.Sweep(ctx))
	assert.Empty(t, f.retried)
	require.NoError(t, held.Release(ctx))

	assert.Equal(t, SweepRan, c.Sweep(ctx))
	assert.Equal(t, []uuid.UUID{doc.ID}, f.retried)

	entries, err := DLQEntries(ctx, rdb, QueueFiscalRetry, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	var payload EmissionJobPayload
	require.NoError(t, json.Unmarshal(entries[0].Payload, &payload))
	assert.Equal(t, doc.SaleID.String(), payload.SaleID)
}
