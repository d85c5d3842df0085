// ABOUTME: Tests for the local replica store over badger and the in-process KV
// ABOUTME: Covers upsert convergence, removal, corrupt snapshots and concurrent writers
package replica

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/embudo/metrics"
	"github.com/harperreed/embudo/models"
)

func newBadgerStore(t *testing.T) *Store {
	t.Helper()
	kv, err := OpenBadger(filepath.Join(t.TempDir(), "replica"))
	require.NoError(t, err)
	s := NewStore(kv)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]*Store {
	return map[string]*Store{
		"badger": newBadgerStore(t),
		"memory": NewStore(NewMemoryKV()),
	}
}

func TestLoadEmpty(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, s.Load(context.Background()))
		})
	}
}

func TestUpsertConvergence(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := models.Deal{ID: 9, Title: "Acme Renewal", Value: decimal.NewFromInt(4000), Stage: models.StageNew}

			require.NoError(t, s.Upsert(ctx, d))
			require.NoError(t, s.Upsert(ctx, d))

			loaded := s.Load(ctx)
			require.Len(t, loaded, 1)
			assert.Equal(t, int64(9), loaded[0].ID)
			assert.True(t, loaded[0].Value.Equal(decimal.NewFromInt(4000)))

			d.Stage = models.StageWon
			d.Probability = 100
			require.NoError(t, s.Upsert(ctx, d))
			require.NoError(t, s.Upsert(ctx, models.Deal{ID: 10, Title: "Otra", Stage: models.StageNew}))

			loaded = s.Load(ctx)
			require.Len(t, loaded, 2)
			assert.Equal(t, models.StageWon, loaded[0].Stage)
			assert.Equal(t, int64(10), loaded[1].ID)
		})
	}
}

func TestRemove(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Upsert(ctx, models.Deal{ID: 1, Title: "a"}))
			require.NoError(t, s.Upsert(ctx, models.Deal{ID: 2, Title: "b"}))

			require.NoError(t, s.Remove(ctx, 1))
			require.NoError(t, s.Remove(ctx, 404))

			loaded := s.Load(ctx)
			require.Len(t, loaded, 1)
			assert.Equal(t, int64(2), loaded[0].ID)
		})
	}
}

func TestCorruptSnapshotLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set([]byte(DefaultKey), []byte(`{"not": "a list"`)))

	m := metrics.New(prometheus.NewRegistry())
	s := NewStore(kv, WithMetrics(m))

	var loaded []models.Deal
	assert.NotPanics(t, func() { loaded = s.Load(ctx) })
	assert.Empty(t, loaded)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplicaCorruptLoads))

	// The next write replaces the corrupt payload
	require.NoError(t, s.Upsert(ctx, models.Deal{ID: 3, Title: "c"}))
	assert.Len(t, s.Load(ctx), 1)
}

func TestStoresAreScopedByKey(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	a := NewStore(kv, WithKey("origin-a"))
	b := NewStore(kv, WithKey("origin-b"))

	require.NoError(t, a.Upsert(ctx, models.Deal{ID: 1, Title: "a"}))
	assert.Len(t, a.Load(ctx), 1)
	assert.Empty(t, b.Load(ctx))
}

func TestConcurrentUpsertsOfDifferentIDs(t *testing.T) {
	ctx := context.Background()
	kv, err := OpenBadger(filepath.Join(t.TempDir(), "replica"))
	require.NoError(t, err)
	defer kv.Close()

	// Two stores over one KV stand in for two surfaces that do not share
	// an in-memory copy.
	first := NewStore(kv)
	second := NewStore(kv)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		s := first
		if i%2 == 1 {
			s = second
		}
		wg.Add(1)
		go func(s *Store, id int64) {
			defer wg.Done()
			assert.NoError(t, s.Upsert(ctx, models.Deal{ID: id, Title: fmt.Sprintf("deal-%d", id)}))
		}(s, int64(i+1))
	}
	wg.Wait()

	assert.Len(t, first.Load(ctx), 20)
}

func TestCanceledContext(t *testing.T) {
	s := NewStore(NewMemoryKV())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Upsert(ctx, models.Deal{ID: 1}))
	assert.Empty(t, s.Load(ctx))
}
