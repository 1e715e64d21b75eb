package amqp

import (
	"encoding/json"
	"time"

	"saldo/internal/remote"
)

// RecordPendingMessage announces that local records changed and await
// reconciliation. It carries only the kind and id (empty when announcing
// a batch); the worker triggers a full reconciliation pass rather than
// pushing single records.
type RecordPendingMessage struct {
	Kind      remote.Kind `json:"kind"`
	ID        string      `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewRecordPendingMessage(kind remote.Kind, id string) *RecordPendingMessage {
	return &RecordPendingMessage{
		Kind:      kind,
		ID:        id,
		Timestamp: time.Now(),
	}
}

func (m *RecordPendingMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func RecordPendingMessageFromJSON(data []byte) (*RecordPendingMessage, error) {
	var msg RecordPendingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
