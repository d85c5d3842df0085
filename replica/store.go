// ABOUTME: Local replica store: the last known full deal set for one origin, kept in a KV
// ABOUTME: Loads never fail; writes re-read the persisted snapshot so concurrent upserts of different ids both land
package replica

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/harperreed/embudo/metrics"
	"github.com/harperreed/embudo/models"
)

// DefaultKey is where the snapshot lives inside the KV.
const DefaultKey = "embudo:deals:v1"

// Store is shared by every surface of one origin.
type Store struct {
	kv      KV
	key     []byte
	mu      sync.Mutex
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) { s.key = []byte(key) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func NewStore(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		key:    []byte(DefaultKey),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the persisted snapshot. A missing, unreadable or malformed
// snapshot is reported as an empty one.
func (s *Store) Load(ctx context.Context) []models.Deal {
	if ctx.Err() != nil {
		return nil
	}

	raw, err := s.kv.Get(s.key)
	if err != nil {
		s.logger.Warn("failed to read replica snapshot", zap.Error(err))
		return nil
	}
	deals, err := decodeSnapshot(raw)
	if err != nil {
		s.logger.Warn("discarding malformed replica snapshot", zap.Int("bytes", len(raw)), zap.Error(err))
		s.metrics.RecordCorruptLoad()
		return nil
	}
	return deals
}

// Upsert replaces the entry with deal's id or appends it, then writes the
// whole snapshot back.
func (s *Store) Upsert(ctx context.Context, deal models.Deal) error {
	return s.modify(ctx, "upsert", func(deals []models.Deal) []models.Deal {
		return upsertDeal(deals, deal)
	})
}

// Remove drops the entry for id. Removing an absent id is not an error.
func (s *Store) Remove(ctx context.Context, id int64) error {
	return s.modify(ctx, "remove", func(deals []models.Deal) []models.Deal {
		out, _ := removeDeal(deals, id)
		return out
	})
}

// Replace overwrites the snapshot with deals.
func (s *Store) Replace(ctx context.Context, deals []models.Deal) error {
	return s.modify(ctx, "replace", func([]models.Deal) []models.Deal {
		return MergeUniqueByID(nil, deals)
	})
}

func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) modify(ctx context.Context, op string, fn func([]models.Deal) []models.Deal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.kv.Update(s.key, func(current []byte) ([]byte, error) {
		deals, err := decodeSnapshot(current)
		if err != nil {
			// A corrupt snapshot is treated as empty and overwritten.
			s.logger.Warn("overwriting malformed replica snapshot", zap.Error(err))
			s.metrics.RecordCorruptLoad()
			deals = nil
		}
		return json.Marshal(fn(deals))
	})
	if err != nil {
		s.metrics.RecordReplicaWrite(op, "error")
		return fmt.Errorf("replica %s: %w", op, err)
	}
	s.metrics.RecordReplicaWrite(op, "ok")
	return nil
}

func decodeSnapshot(raw []byte) ([]models.Deal, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var deals []models.Deal
	if err := json.Unmarshal(raw, &deals); err != nil {
		return nil, err
	}
	return deals, nil
}
