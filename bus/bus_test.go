// ABOUTME: Tests for the replication bus over miniredis and the in-process hub
// ABOUTME: Covers self-echo suppression, fan-out, unsubscribe, fallback and malformed payloads
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/embudo/metrics"
	"github.com/harperreed/embudo/models"
)

// recorder collects delivered messages.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) all() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func setupRedisBus(t *testing.T, m *metrics.Metrics) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+s.Addr())
	require.NoError(t, err)
	b := New(Options{Redis: client, Metrics: m})
	t.Cleanup(func() { _ = b.Close() })
	return b, s
}

func acme() models.Deal {
	return models.Deal{ID: 4, Title: "Acme Renewal", Stage: models.StageNew}
}

func TestLocalDeliveryWithoutSelfEcho(t *testing.T) {
	ctx := context.Background()
	b := New(Options{})
	assert.False(t, b.CrossProcess())
	assert.Equal(t, DefaultChannel, b.Channel())

	a, other := b.Endpoint("surface-a"), b.Endpoint("surface-b")
	var gotA, gotB recorder

	unsubA, err := a.Subscribe(ctx, gotA.handle)
	require.NoError(t, err)
	defer unsubA()
	unsubB, err := other.Subscribe(ctx, gotB.handle)
	require.NoError(t, err)
	defer unsubB()

	require.NoError(t, a.Publish(ctx, Created(acme())))

	assert.Empty(t, gotA.all())
	msgs := gotB.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, KindCreated, msgs[0].Kind)
	assert.Equal(t, "surface-a", msgs[0].Source)
	assert.Equal(t, int64(4), msgs[0].Deal.ID)
	assert.NotEmpty(t, msgs[0].ID)
}

func TestUnsubscribeDetaches(t *testing.T) {
	ctx := context.Background()
	b := New(Options{})
	a, other := b.Endpoint("a"), b.Endpoint("b")

	var got recorder
	unsub, err := other.Subscribe(ctx, got.handle)
	require.NoError(t, err)
	unsub()
	unsub() // second call is a no-op

	require.NoError(t, a.Publish(ctx, Deleted(4)))
	assert.Empty(t, got.all())
}

func TestPublishRejectsMalformedMessages(t *testing.T) {
	ctx := context.Background()
	e := New(Options{}).Endpoint("a")

	assert.Error(t, e.Publish(ctx, Message{Kind: "renamed", DealID: 1}))
	assert.Error(t, e.Publish(ctx, Message{Kind: KindUpdated, DealID: 1}))

	d := acme()
	assert.Error(t, e.Publish(ctx, Message{Kind: KindUpdated, DealID: 99, Deal: &d}))
}

func TestRedisDeliveryWithoutSelfEcho(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	b, _ := setupRedisBus(t, m)
	assert.True(t, b.CrossProcess())

	a, other := b.Endpoint("surface-a"), b.Endpoint("surface-b")
	var gotA, gotB recorder

	unsubA, err := a.Subscribe(ctx, gotA.handle)
	require.NoError(t, err)
	defer unsubA()
	unsubB, err := other.Subscribe(ctx, gotB.handle)
	require.NoError(t, err)
	defer unsubB()

	d := acme()
	d.Stage = models.StageWon
	d.Probability = 100
	require.NoError(t, a.Publish(ctx, Updated(d)))

	require.Eventually(t, func() bool { return len(gotB.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := gotB.all()[0]
	assert.Equal(t, KindUpdated, msg.Kind)
	assert.Equal(t, 100, msg.Deal.Probability)

	// The publisher's own subscription saw it and dropped it
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.BusDropped.WithLabelValues("self")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, gotA.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusPublished.WithLabelValues("updated", "redis")))
}

func TestRedisUnsubscribeClosesSubscription(t *testing.T) {
	ctx := context.Background()
	b, s := setupRedisBus(t, nil)

	unsub, err := b.Endpoint("a").Subscribe(ctx, func(Message) {})
	require.NoError(t, err)
	assert.Equal(t, 1, s.PubSubNumSub(DefaultChannel)[DefaultChannel])

	unsub()
	assert.Eventually(t, func() bool {
		return s.PubSubNumSub(DefaultChannel)[DefaultChannel] == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisDownFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	b, s := setupRedisBus(t, nil)

	a, other := b.Endpoint("a"), b.Endpoint("b")
	var got recorder
	unsub, err := other.Subscribe(ctx, got.handle)
	require.NoError(t, err)
	defer unsub()

	s.Close()

	require.NoError(t, a.Publish(ctx, Created(acme())))
	msgs := got.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, KindCreated, msgs[0].Kind)
}

func TestMalformedAndDuplicatePayloads(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	b, s := setupRedisBus(t, m)

	var got recorder
	unsub, err := b.Endpoint("b").Subscribe(ctx, got.handle)
	require.NoError(t, err)
	defer unsub()

	s.Publish(DefaultChannel, "not json")

	d := acme()
	payload, err := json.Marshal(Message{ID: "01J0000000000000000000TEST", Kind: KindCreated, Deal: &d, DealID: d.ID, Source: "elsewhere"})
	require.NoError(t, err)
	s.Publish(DefaultChannel, string(payload))
	s.Publish(DefaultChannel, string(payload))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.BusDropped.WithLabelValues("duplicate")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, got.all(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusDropped.WithLabelValues("malformed")))
}
