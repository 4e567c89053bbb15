package idempotency

import "time"

// Status values for processed-event records
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// EventRecord is the shape persisted in the webhook events DynamoDB table.
type EventRecord struct {
	EventID        string    `dynamodbav:"event_id"` // PK, payment processor event id
	EventType      string    `dynamodbav:"event_type"`
	Status         string    `dynamodbav:"status"`
	OrderReference string    `dynamodbav:"order_reference,omitempty"`
	Attempts       int       `dynamodbav:"attempts"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// Outcome is the result of Begin.
type Outcome int

const (
	// Acquired: the caller owns the event and must MarkDone or MarkFailed it.
	Acquired Outcome = iota
	// AlreadyDone: the event was processed before; acknowledge without work.
	AlreadyDone
	// Busy: another delivery is processing the event right now.
	Busy
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AlreadyDone:
		return "already_done"
	case Busy:
		return "busy"
	}
	return "unknown"
}
