// ABOUTME: Storage contracts shared by the relational and in-memory backends
// ABOUTME: Defines Tables, Backend and the sentinel errors the gateway classifies
package db

import (
	"context"
	"errors"

	"github.com/harperreed/embudo/models"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// Tables is the set of row operations a gateway call runs against. Both the
// SQL backend and the mock tables implement it, so gateway logic is written
// once.
type Tables interface {
	// FindContactByEmail returns nil, nil when no contact has the email.
	FindContactByEmail(ctx context.Context, email string) (*models.Contact, error)
	CreateContact(ctx context.Context, contact *models.Contact) error
	UpdateContact(ctx context.Context, contact *models.Contact) error

	CreateDeal(ctx context.Context, deal *models.Deal) error
	GetDeal(ctx context.Context, id int64) (*models.Deal, error)
	UpdateDeal(ctx context.Context, deal *models.Deal) error
	DeleteDeal(ctx context.Context, id int64) error
	FindDeals(ctx context.Context, filter models.DealFilter) ([]models.Deal, error)

	CreateActivity(ctx context.Context, activity *models.Activity) error
	FindActivities(ctx context.Context, dealID *int64, limit int) ([]models.Activity, error)
}

// Backend hands out Tables either inside a transaction (all writes commit or
// none do) or as a read view.
type Backend interface {
	Name() string
	InTx(ctx context.Context, fn func(Tables) error) error
	View(ctx context.Context, fn func(Tables) error) error
	Close() error
}
