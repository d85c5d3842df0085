// ABOUTME: Replication messages carried between surfaces
// ABOUTME: A tagged union of created, updated and deleted deal notifications
package bus

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harperreed/embudo/models"
)

// Kind tags a Message.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

func (k Kind) Valid() bool {
	return k == KindCreated || k == KindUpdated || k == KindDeleted
}

// Message is transient: it is never persisted and a surface that mounts after
// it was sent picks the change up from its replica store instead.
type Message struct {
	ID     string       `json:"id"`
	Kind   Kind         `json:"kind"`
	Deal   *models.Deal `json:"deal,omitempty"`
	DealID int64        `json:"deal_id"`
	// Source identifies the publishing surface; subscribers drop their own.
	Source string    `json:"source"`
	SentAt time.Time `json:"sent_at"`
}

func Created(deal models.Deal) Message {
	d := deal.Clone()
	return Message{Kind: KindCreated, Deal: &d, DealID: deal.ID}
}

func Updated(deal models.Deal) Message {
	d := deal.Clone()
	return Message{Kind: KindUpdated, Deal: &d, DealID: deal.ID}
}

func Deleted(id int64) Message {
	return Message{Kind: KindDeleted, DealID: id}
}

// Validate checks the message carries what its kind needs.
func (m Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("invalid message kind %q", m.Kind)
	}
	if m.Kind != KindDeleted && m.Deal == nil {
		return fmt.Errorf("%s message without deal", m.Kind)
	}
	if m.Deal != nil && m.Deal.ID != m.DealID {
		return fmt.Errorf("message deal id %d does not match deal %d", m.DealID, m.Deal.ID)
	}
	return nil
}

func newMessageID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

func encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, err
	}
	return m, m.Validate()
}
