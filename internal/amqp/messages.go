package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType names a ledger change.
type EventType string

const (
	EventOperationCreated EventType = "operation.created"
	EventOperationUpdated EventType = "operation.updated"
	EventOperationRemoved EventType = "operation.removed"
	EventAccountUpdated   EventType = "account.updated"
)

// LedgerEvent tells the worker which accounts need their balance
// recomputed. It carries ids only; the worker reads current state from the
// database.
type LedgerEvent struct {
	Type        EventType `json:"type"`
	UserID      string    `json:"userId"`
	OperationID string    `json:"operationId,omitempty"`
	AccountIDs  []string  `json:"accountIds"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewLedgerEvent builds an event for the given accounts, dropping empty and
// repeated ids.
func NewLedgerEvent(typ EventType, userID, operationID string, accountIDs ...string) *LedgerEvent {
	seen := make(map[string]bool, len(accountIDs))
	ids := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return &LedgerEvent{
		Type:        typ,
		UserID:      userID,
		OperationID: operationID,
		AccountIDs:  ids,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes and checks a message body.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Type == "" {
		return nil, errors.New("ledger event without type")
	}
	if len(msg.AccountIDs) == 0 {
		return nil, errors.New("ledger event without accounts")
	}
	return &msg, nil
}
