// Package queue abstracts the at-least-once delivery channel between the
// decision gateway and the action executor: send, batched receive with a
// long-poll wait and visibility timeout, and explicit acknowledgment.
package queue

import (
	"context"
	"time"
)

// Message is one delivered payload. ID is the implementation's receipt handle
// and must be passed back to Ack. DeliveryCount starts at 1 and grows on each
// redelivery.
type Message struct {
	ID            string
	Body          []byte
	DeliveryCount int
}

// Queue is the capability consumed by the gateway (Send) and the executor
// (Receive/Ack). An unacknowledged message becomes visible again after the
// implementation's visibility timeout.
type Queue interface {
	Send(ctx context.Context, body []byte) error

	// Receive returns up to max messages, blocking up to wait when none are
	// immediately available. An empty slice is a normal outcome.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Ack removes a delivered message so it is never redelivered.
	Ack(ctx context.Context, msg Message) error
}
