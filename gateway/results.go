// ABOUTME: Result envelopes returned by every gateway operation
// ABOUTME: Same shape whichever backend served the call; the Go error rides along unexported
package gateway

import (
	"errors"

	"github.com/harperreed/embudo/db"
	"github.com/harperreed/embudo/models"
)

// ErrUnexpected marks a fault that was neither not-found nor validation and
// could not be served by the fallback either.
var ErrUnexpected = errors.New("unexpected failure")

// CreateResult is the envelope of CreateOpportunityWithContact.
type CreateResult struct {
	Success        bool            `json:"success"`
	Deal           *models.Deal    `json:"deal,omitempty"`
	Contact        *models.Contact `json:"contact,omitempty"`
	ContactCreated bool            `json:"contact_created"`
	Error          string          `json:"error,omitempty"`

	err error
}

// Err returns the underlying error of a failed call, nil on success.
func (r CreateResult) Err() error { return r.err }

// DealResult is the envelope of update and stage-change calls.
type DealResult struct {
	Success bool         `json:"success"`
	Deal    *models.Deal `json:"deal,omitempty"`
	Error   string       `json:"error,omitempty"`

	err error
}

func (r DealResult) Err() error { return r.err }

// DeleteResult is the envelope of DeleteOpportunity.
type DeleteResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	err error
}

func (r DeleteResult) Err() error { return r.err }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, db.ErrValidation)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsNotFound(err):
		return "not_found"
	case IsValidation(err):
		return "validation"
	default:
		return "error"
	}
}
