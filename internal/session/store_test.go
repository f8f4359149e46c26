package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estate-predictor/backend/internal/cache/redis"
	"github.com/estate-predictor/backend/internal/evaluation"
	"github.com/estate-predictor/backend/internal/model"
	"github.com/estate-predictor/backend/internal/prediction"
	"github.com/estate-predictor/backend/pkg/circuitbreaker"
)

func sampleResult() *prediction.Result {
	return &prediction.Result{
		RunID:   "run-1",
		Source:  "tokyo.csv",
		RMSE:    1234.5,
		R2:      0.81,
		Metrics: evaluation.Metrics{RMSE: 1234.5, R2: 0.81, Samples: 20},
		WardPredictions: map[string]int64{
			"港区":  90_000_000,
			"中央区": 70_000_000,
		},
		WardActuals: map[string]int64{"港区": 91_000_000, "中央区": 69_000_000},
		WardEraPredictions: map[string]map[string]int64{
			"港区": {"under 10 years": 100, "10–20 years": 0, "20+ years": 50},
		},
		Importance: []model.FeatureImportance{{Feature: "面積（㎡）", Importance: 0.7}},
		Rows:       prediction.RowCounts{Loaded: 100, Used: 100, Train: 80, Test: 20},
		CreatedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	_, err := s.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	want := sampleResult()
	require.NoError(t, s.Save(ctx, "a", want))
	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, want, got)

	_, err = s.Load(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound, "sessions must not see each other")

	require.NoError(t, s.Clear(ctx, "a"))
	_, err = s.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	s := NewMemoryStore(time.Minute)
	t.Cleanup(s.Stop)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, "a", sampleResult()))
	now = now.Add(2 * time.Minute)

	_, err := s.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, s.Len())
}

func TestMemoryStoreSweepRemovesUnreadSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	s := NewMemoryStore(time.Minute)
	t.Cleanup(s.Stop)
	s.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, NewID(), sampleResult()))
	}
	now = now.Add(30 * time.Second)
	require.NoError(t, s.Save(ctx, "fresh", sampleResult()))

	assert.Zero(t, s.Sweep())
	assert.Equal(t, 6, s.Len())

	now = now.Add(45 * time.Second)
	assert.Equal(t, 5, s.Sweep())
	assert.Equal(t, 1, s.Len())
	_, err := s.Load(ctx, "fresh")
	assert.NoError(t, err)
}

func TestMemoryStoreWithoutTTLNeverSweeps(t *testing.T) {
	s := NewMemoryStore(0)
	assert.Nil(t, s.sweeper)
	require.NoError(t, s.Save(context.Background(), "a", sampleResult()))
	s.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	assert.Zero(t, s.Sweep())
	s.Stop()
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := NewID()
			_ = s.Save(ctx, id, sampleResult())
			_, _ = s.Load(ctx, id)
			if i%2 == 0 {
				_ = s.Clear(ctx, id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, s.Len())
}

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.NewClientAddr(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return mr, NewRedisStore(c, time.Hour)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, s := newRedisStore(t)

	want := sampleResult()
	require.NoError(t, s.Save(ctx, "a", want))

	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, want.WardPredictions, got.WardPredictions)
	assert.Equal(t, want.WardEraPredictions, got.WardEraPredictions)
	assert.Equal(t, want.Rows, got.Rows)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))

	require.NoError(t, s.Clear(ctx, "a"))
	_, err = s.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingStore struct{ calls int }

var errUnavailable = errors.New("unavailable")

func (f *failingStore) Save(context.Context, string, *prediction.Result) error {
	f.calls++
	return errUnavailable
}

func (f *failingStore) Load(context.Context, string) (*prediction.Result, error) {
	f.calls++
	return nil, errUnavailable
}

func (f *failingStore) Clear(context.Context, string) error {
	f.calls++
	return errUnavailable
}

func TestFallbackStoreServesFromMemoryWhenPrimaryFails(t *testing.T) {
	ctx := context.Background()
	primary := &failingStore{}
	s := NewFallbackStore(primary, NewMemoryStore(0), circuitbreaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour})

	want := sampleResult()
	require.NoError(t, s.Save(ctx, "a", want))
	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, 2, primary.calls)

	// Breaker is open now; primary is no longer called.
	_, err = s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)

	require.NoError(t, s.Clear(ctx, "a"))
	_, err = s.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFallbackStorePrefersHealthyPrimary(t *testing.T) {
	ctx := context.Background()
	_, primary := newRedisStore(t)
	memory := NewMemoryStore(0)
	s := NewFallbackStore(primary, memory, circuitbreaker.Config{})

	require.NoError(t, s.Save(ctx, "a", sampleResult()))
	assert.Zero(t, memory.Len())

	got, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)

	_, err = s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(0)
	m := &model.Trained{Stage: model.StageFull}

	_, ok := r.Get("a")
	assert.False(t, ok)

	r.Put("a", m)
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, m, got)

	r.Delete("a")
	_, ok = r.Get("a")
	assert.False(t, ok)
}

func TestRegistryExpiresModels(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRegistry(time.Hour)
	t.Cleanup(r.Stop)
	r.now = func() time.Time { return now }

	r.Put("old", &model.Trained{Stage: model.StageFull})
	now = now.Add(40 * time.Minute)
	r.Put("new", &model.Trained{Stage: model.StageFull})

	now = now.Add(30 * time.Minute)
	_, ok := r.Get("old")
	assert.False(t, ok)
	_, ok = r.Get("new")
	assert.True(t, ok)
	assert.Equal(t, 2, r.Len())

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())

	now = now.Add(time.Hour)
	assert.Equal(t, 1, r.Sweep())
	assert.Zero(t, r.Len())
}

func TestSweeperRunsUntilStopped(t *testing.T) {
	calls := make(chan struct{}, 8)
	s := startSweeper(time.Millisecond, func() {
		select {
		case calls <- struct{}{}:
		default:
		}
	})
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("sweep never ran")
	}
	s.Stop()
	s.Stop()

	assert.Equal(t, time.Duration(0), sweepInterval(0))
	assert.Equal(t, 30*time.Second, sweepInterval(30*time.Second))
	assert.Equal(t, maxSweepInterval, sweepInterval(2*time.Hour))
}
