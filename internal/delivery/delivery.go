// Package delivery pulls raw activity records from a message broker with
// at-least-once semantics and drops re-deliveries of records already
// handled.
package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrClosed is returned by Receive after Close.
var ErrClosed = errors.New("delivery source closed")

// Message is one raw record.
type Message struct {
	// ID identifies the record across re-deliveries.
	ID   string
	Data []byte

	// raw is the broker-native message, used to ack it.
	raw any
}

// Source supplies raw records. Receive blocks until a record is available
// or ctx is done. Every received message must be either acked or rejected.
type Source interface {
	Receive(ctx context.Context) (*Message, error)
	// Ack marks the message handled.
	Ack(ctx context.Context, msg *Message) error
	// Reject marks the message unprocessable and dead-letters it where the
	// broker supports that. It also acks.
	Reject(ctx context.Context, msg *Message, reason string) error
	Close() error
}

// Publisher writes raw records to a broker. The operator CLI uses it to
// seed test traffic.
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
	Close() error
}

// ContentID derives a message ID from its payload.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
