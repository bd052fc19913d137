package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"finanse/internal/core"
	"finanse/internal/ledger"
)

// BucketEventMessage announces the committed totals of one month bucket.
// Consumers treat it as a hint and re-read the store before acting on it.
type BucketEventMessage struct {
	Owner        string     `json:"owner"`
	MonthKey     core.Date  `json:"month_key"`
	TotalIncome  core.Money `json:"total_income"`
	TotalExpense core.Money `json:"total_expense"`
	Operation    string     `json:"operation"`
	Kind         core.Kind  `json:"kind,omitempty"`
	EntryID      int64      `json:"entry_id,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// NewBucketEventMessage creates an event for bucket b.
func NewBucketEventMessage(op string, b core.MonthBucket) *BucketEventMessage {
	return &BucketEventMessage{
		Owner:        b.Owner,
		MonthKey:     b.MonthKey,
		TotalIncome:  b.TotalIncome,
		TotalExpense: b.TotalExpense,
		Operation:    op,
		Timestamp:    time.Now().UTC(),
	}
}

// MessagesFromChange creates one event per touched bucket.
func MessagesFromChange(change ledger.Change) []*BucketEventMessage {
	out := make([]*BucketEventMessage, 0, len(change.Buckets))
	for _, b := range change.Buckets {
		msg := NewBucketEventMessage(change.Operation, b)
		msg.Kind = change.Kind
		msg.EntryID = change.EntryID
		out = append(out, msg)
	}
	return out
}

// ToJSON converts the message to JSON bytes
func (m *BucketEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BucketEventMessageFromJSON decodes and validates a message.
func BucketEventMessageFromJSON(data []byte) (*BucketEventMessage, error) {
	var msg BucketEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := core.ValidateOwner(msg.Owner); err != nil {
		return nil, fmt.Errorf("bucket event: %w", err)
	}
	if msg.MonthKey.IsZero() {
		return nil, fmt.Errorf("bucket event: missing month_key")
	}
	msg.MonthKey = core.MonthStart(msg.MonthKey)
	return &msg, nil
}
