// ABOUTME: In-memory mock tables implementing the same Backend as the SQL store
// ABOUTME: Seeded once at construction; writes apply to a copy and swap in on success
package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harperreed/embudo/models"
)

// MemoryBackend is the fallback store used when no relational backend is
// configured or when the relational backend fails. It gives all-or-nothing
// writes within one process but no durability.
type MemoryBackend struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	contacts   []models.Contact
	deals      []models.Deal
	activities []models.Activity

	nextContactID  int64
	nextDealID     int64
	nextActivityID int64
}

// NewMemoryBackend builds the mock tables from seed. Ids continue after the
// highest seeded id.
func NewMemoryBackend(seed Seed) *MemoryBackend {
	s := &memState{nextContactID: 1, nextDealID: 1, nextActivityID: 1}
	for _, c := range seed.Contacts {
		s.contacts = append(s.contacts, c)
		if c.ID >= s.nextContactID {
			s.nextContactID = c.ID + 1
		}
	}
	for _, d := range seed.Deals {
		s.deals = append(s.deals, d.Clone())
		if d.ID >= s.nextDealID {
			s.nextDealID = d.ID + 1
		}
	}
	return &MemoryBackend{state: s}
}

// FallbackIDBase starts the id range the mock tables use when they stand in
// for a relational backend. Relational sequences never get this far, so a
// row created during an outage cannot share an id with a relational row.
const FallbackIDBase int64 = 1 << 40

// IsFallbackID reports whether id was assigned by mock tables standing in
// for a relational backend.
func IsFallbackID(id int64) bool {
	return id >= FallbackIDBase
}

// ReserveIDsFrom moves every id counter to at least base.
func (b *MemoryBackend) ReserveIDsFrom(base int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, next := range []*int64{&b.state.nextContactID, &b.state.nextDealID, &b.state.nextActivityID} {
		if *next < base {
			*next = base
		}
	}
}

func (b *MemoryBackend) Name() string {
	return "memory"
}

func (b *MemoryBackend) InTx(_ context.Context, fn func(Tables) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	work := b.state.clone()
	if err := fn(memTables{s: work}); err != nil {
		return err
	}
	b.state = work
	return nil
}

func (b *MemoryBackend) View(_ context.Context, fn func(Tables) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(memTables{s: b.state})
}

func (b *MemoryBackend) Close() error {
	return nil
}

func (s *memState) clone() *memState {
	c := *s
	c.contacts = append([]models.Contact(nil), s.contacts...)
	c.deals = make([]models.Deal, len(s.deals))
	for i, d := range s.deals {
		c.deals[i] = d.Clone()
	}
	c.activities = append([]models.Activity(nil), s.activities...)
	return &c
}

type memTables struct {
	s *memState
}

func (t memTables) FindContactByEmail(_ context.Context, email string) (*models.Contact, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}
	for _, c := range t.s.contacts {
		if strings.EqualFold(c.Email, email) {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (t memTables) CreateContact(ctx context.Context, contact *models.Contact) error {
	if existing, _ := t.FindContactByEmail(ctx, contact.Email); existing != nil {
		return fmt.Errorf("%w: contact email %s already exists", ErrValidation, contact.Email)
	}
	now := time.Now().UTC()
	contact.ID = t.s.nextContactID
	contact.CreatedAt = now
	contact.UpdatedAt = now
	t.s.nextContactID++
	t.s.contacts = append(t.s.contacts, *contact)
	return nil
}

func (t memTables) UpdateContact(_ context.Context, contact *models.Contact) error {
	for i := range t.s.contacts {
		if t.s.contacts[i].ID == contact.ID {
			contact.UpdatedAt = time.Now().UTC()
			contact.CreatedAt = t.s.contacts[i].CreatedAt
			t.s.contacts[i] = *contact
			return nil
		}
	}
	return fmt.Errorf("contact %d: %w", contact.ID, ErrNotFound)
}

func (t memTables) CreateDeal(_ context.Context, deal *models.Deal) error {
	now := time.Now().UTC()
	deal.ID = t.s.nextDealID
	deal.CreatedAt = now
	deal.UpdatedAt = now
	t.s.nextDealID++
	t.s.deals = append(t.s.deals, deal.Clone())
	return nil
}

func (t memTables) GetDeal(_ context.Context, id int64) (*models.Deal, error) {
	i := t.dealIndex(id)
	if i < 0 {
		return nil, fmt.Errorf("deal %d: %w", id, ErrNotFound)
	}
	d := t.s.deals[i].Clone()
	return &d, nil
}

func (t memTables) UpdateDeal(_ context.Context, deal *models.Deal) error {
	i := t.dealIndex(deal.ID)
	if i < 0 {
		return fmt.Errorf("deal %d: %w", deal.ID, ErrNotFound)
	}
	deal.UpdatedAt = time.Now().UTC()
	deal.CreatedAt = t.s.deals[i].CreatedAt
	t.s.deals[i] = deal.Clone()
	return nil
}

func (t memTables) DeleteDeal(_ context.Context, id int64) error {
	i := t.dealIndex(id)
	if i < 0 {
		return fmt.Errorf("deal %d: %w", id, ErrNotFound)
	}
	t.s.deals = append(t.s.deals[:i], t.s.deals[i+1:]...)
	return nil
}

func (t memTables) FindDeals(_ context.Context, filter models.DealFilter) ([]models.Deal, error) {
	var out []models.Deal
	company := strings.ToLower(filter.Company)
	for _, d := range t.s.deals {
		if filter.Stage != "" && d.Stage != filter.Stage {
			continue
		}
		if company != "" && !strings.Contains(strings.ToLower(d.Company), company) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t memTables) CreateActivity(_ context.Context, activity *models.Activity) error {
	activity.ID = t.s.nextActivityID
	activity.ActivityDate = activity.ActivityDate.UTC()
	t.s.nextActivityID++
	t.s.activities = append(t.s.activities, *activity)
	return nil
}

func (t memTables) FindActivities(_ context.Context, dealID *int64, limit int) ([]models.Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Activity
	for i := len(t.s.activities) - 1; i >= 0 && len(out) < limit; i-- {
		a := t.s.activities[i]
		if dealID != nil && (a.DealID == nil || *a.DealID != *dealID) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (t memTables) dealIndex(id int64) int {
	for i := range t.s.deals {
		if t.s.deals[i].ID == id {
			return i
		}
	}
	return -1
}
