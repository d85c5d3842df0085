// ABOUTME: Cross-surface publish/subscribe over Redis with a same-process fallback
// ABOUTME: One Bus per process; each surface gets an Endpoint that never hears its own messages
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/harperreed/embudo/metrics"
)

// DefaultChannel is the well-known channel every surface listens on.
const DefaultChannel = "deals-sync"

const (
	transportRedis = "redis"
	transportLocal = "local"

	defaultDedupeWindow = 256
)

// Handler receives messages from other surfaces.
type Handler func(Message)

// Options configures a Bus.
type Options struct {
	// Redis is the cross-process primitive. Nil keeps delivery inside this
	// process.
	Redis   *redis.Client
	Channel string
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Bus is shared by every surface in a process.
type Bus struct {
	redis   *redis.Client
	channel string
	logger  *zap.Logger
	metrics *metrics.Metrics
	local   *hub
}

func New(opts Options) *Bus {
	b := &Bus{
		redis:   opts.Redis,
		channel: opts.Channel,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		local:   newHub(),
	}
	if b.channel == "" {
		b.channel = DefaultChannel
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// Connect parses a redis:// URL and checks the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Channel returns the channel name in use.
func (b *Bus) Channel() string {
	return b.channel
}

// CrossProcess reports whether a cross-process primitive is configured.
func (b *Bus) CrossProcess() bool {
	return b.redis != nil
}

// Endpoint returns the bus handle of one surface. source must be unique per
// surface.
func (b *Bus) Endpoint(source string) *Endpoint {
	return &Endpoint{
		bus:    b,
		source: source,
		seen:   newDedupe(defaultDedupeWindow),
	}
}

// Close releases the Redis client.
func (b *Bus) Close() error {
	if b.redis == nil {
		return nil
	}
	return b.redis.Close()
}

// Endpoint publishes on behalf of one surface and filters out that surface's
// own messages on the way in.
type Endpoint struct {
	bus    *Bus
	source string
	seen   *dedupe
}

func (e *Endpoint) Source() string {
	return e.source
}

// Publish stamps msg with this endpoint's source and delivers it. Delivery
// is fire-and-forget: transport failures fall back to the local hub and are
// logged, never returned. Only malformed messages are an error.
func (e *Endpoint) Publish(ctx context.Context, msg Message) error {
	now := time.Now().UTC()
	msg.Source = e.source
	msg.SentAt = now
	if msg.ID == "" {
		msg.ID = newMessageID(now)
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	b := e.bus
	if b.redis != nil {
		payload, err := encode(msg)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		err = b.redis.Publish(ctx, b.channel, payload).Err()
		if err == nil {
			b.metrics.RecordPublished(string(msg.Kind), transportRedis)
			return nil
		}
		b.logger.Warn("redis publish failed, delivering in-process only",
			zap.String("channel", b.channel),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err))
	}

	b.metrics.RecordPublished(string(msg.Kind), transportLocal)
	b.local.dispatch(msg)
	return nil
}

// Subscribe registers handler on the local hub and, when configured, on the
// Redis channel. The Redis subscription is confirmed before Subscribe
// returns; if it cannot be, the endpoint stays local-only. The returned
// function detaches both, closes the Redis subscription and waits for the
// receive goroutine, so it must not be called from inside handler. Calling
// it more than once is safe.
func (e *Endpoint) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("nil handler")
	}
	b := e.bus

	localID := b.local.add(func(msg Message) {
		e.deliver(msg, transportLocal, handler)
	})

	var (
		pubsub *redis.PubSub
		done   = make(chan struct{})
	)
	if b.redis != nil {
		pubsub = b.redis.Subscribe(ctx, b.channel)
		if _, err := pubsub.Receive(ctx); err != nil {
			b.logger.Warn("redis subscribe failed, listening in-process only",
				zap.String("channel", b.channel),
				zap.Error(err))
			_ = pubsub.Close()
			pubsub = nil
		}
	}

	if pubsub != nil {
		ch := pubsub.Channel()
		go func() {
			defer close(done)
			for m := range ch {
				msg, err := decode([]byte(m.Payload))
				if err != nil {
					b.logger.Warn("dropping malformed replication message", zap.Error(err))
					b.metrics.RecordDropped("malformed")
					continue
				}
				e.deliver(msg, transportRedis, handler)
			}
		}()
	} else {
		close(done)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.local.remove(localID)
			if pubsub != nil {
				if err := pubsub.Close(); err != nil {
					b.logger.Debug("closing redis subscription", zap.Error(err))
				}
			}
			<-done
		})
	}
	return unsubscribe, nil
}

func (e *Endpoint) deliver(msg Message, transport string, handler Handler) {
	m := e.bus.metrics
	if msg.Source == e.source {
		m.RecordDropped("self")
		return
	}
	if msg.ID != "" && e.seen.check(msg.ID) {
		m.RecordDropped("duplicate")
		return
	}
	m.RecordReceived(string(msg.Kind), transport)
	handler(msg)
}

// hub is the same-process fallback: synchronous delivery to every
// registered listener.
type hub struct {
	mu        sync.RWMutex
	listeners map[uint64]func(Message)
	next      uint64
}

func newHub() *hub {
	return &hub{listeners: map[uint64]func(Message){}}
}

func (h *hub) add(fn func(Message)) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.listeners[h.next] = fn
	return h.next
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, id)
}

func (h *hub) dispatch(msg Message) {
	h.mu.RLock()
	snapshot := make([]func(Message), 0, len(h.listeners))
	for _, fn := range h.listeners {
		snapshot = append(snapshot, fn)
	}
	h.mu.RUnlock()

	for _, fn := range snapshot {
		fn(msg)
	}
}

// dedupe remembers the last n message ids.
type dedupe struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
	limit int
}

func newDedupe(limit int) *dedupe {
	return &dedupe{ids: map[string]struct{}{}, limit: limit}
}

// check records id and reports whether it was already seen.
func (d *dedupe) check(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ids[id]; ok {
		return true
	}
	d.ids[id] = struct{}{}
	d.order = append(d.order, id)
	if len(d.order) > d.limit {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.ids, oldest)
	}
	return false
}
