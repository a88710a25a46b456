package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names what happened to a loan.
type EventType string

const (
	LoanCreated     EventType = "loan.created"
	LoanUpdated     EventType = "loan.updated"
	LoanDeleted     EventType = "loan.deleted"
	PaymentRecorded EventType = "payment.recorded"
	PaymentDeleted  EventType = "payment.deleted"
)

func (t EventType) Valid() bool {
	switch t {
	case LoanCreated, LoanUpdated, LoanDeleted, PaymentRecorded, PaymentDeleted:
		return true
	}
	return false
}

// LoanEvent is a lightweight notification published after a committed
// mutation. It carries ids only; the consumer reads the current state from
// the database.
type LoanEvent struct {
	EventID   string    `json:"event_id"`
	Type      EventType `json:"type"`
	LoanID    int64     `json:"loan_id"`
	OwnerID   int64     `json:"owner_id"`
	PaymentID int64     `json:"payment_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLoanEvent creates an event with a fresh id.
func NewLoanEvent(t EventType, loanID, ownerID int64) *LoanEvent {
	return &LoanEvent{
		EventID:   uuid.NewString(),
		Type:      t,
		LoanID:    loanID,
		OwnerID:   ownerID,
		Timestamp: time.Now().UTC(),
	}
}

// WithPayment attaches the payment the event refers to.
func (e *LoanEvent) WithPayment(id int64) *LoanEvent {
	e.PaymentID = id
	return e
}

// ToJSON converts the message to JSON bytes
func (e *LoanEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func (e *LoanEvent) Validate() error {
	if _, err := uuid.Parse(e.EventID); err != nil {
		return fmt.Errorf("invalid event id %q: %w", e.EventID, err)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.LoanID <= 0 {
		return errors.New("missing loan id")
	}
	return nil
}

// LoanEventFromJSON decodes and validates a message body.
func LoanEventFromJSON(data []byte) (*LoanEvent, error) {
	var evt LoanEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	return &evt, nil
}
