package amqp

import (
	"encoding/json"
	"errors"
	"fmt"

	"smartpay/internal/events"
)

// typeTransactionApplied is set as the AMQP type header on every publish.
const typeTransactionApplied = "transaction.applied"

var errMissingTransactionID = errors.New("missing transaction_id")

// encodeTransactionApplied converts the message to JSON bytes.
func encodeTransactionApplied(msg events.TransactionApplied) ([]byte, error) {
	return json.Marshal(msg)
}

// decodeTransactionApplied parses a delivery body. A message without a
// transaction id is not processable and is rejected by the consumer.
func decodeTransactionApplied(data []byte) (events.TransactionApplied, error) {
	var msg events.TransactionApplied
	if err := json.Unmarshal(data, &msg); err != nil {
		return events.TransactionApplied{}, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.TransactionID == "" {
		return events.TransactionApplied{}, errMissingTransactionID
	}
	return msg, nil
}
