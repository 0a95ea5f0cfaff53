package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	id         string
	body       []byte
	deliveries int
	invisible  time.Time
	acked      bool
}

// Memory is an in-process Queue with visibility-timeout redelivery. It exists
// for unit tests and local development, mirroring the semantics of the Redis
// Streams implementation.
type Memory struct {
	mu         sync.Mutex
	entries    []*memoryEntry
	seq        int
	visibility time.Duration
	now        func() time.Time
}

// NewMemory creates an in-memory queue whose unacked messages become visible
// again after the given visibility timeout.
func NewMemory(visibility time.Duration) *Memory {
	return &Memory{visibility: visibility, now: time.Now}
}

// SetClock overrides the queue's clock. Test hook.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Send(_ context.Context, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.entries = append(m.entries, &memoryEntry{
		id:   strconv.Itoa(m.seq),
		body: append([]byte(nil), body...),
	})
	return nil
}

func (m *Memory) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	deadline := time.Now().Add(wait)
	for {
		if msgs := m.take(max); len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (m *Memory) take(max int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var msgs []Message
	for _, e := range m.entries {
		if len(msgs) >= max {
			break
		}
		if e.acked || now.Before(e.invisible) {
			continue
		}
		e.deliveries++
		e.invisible = now.Add(m.visibility)
		msgs = append(msgs, Message{ID: e.id, Body: append([]byte(nil), e.body...), DeliveryCount: e.deliveries})
	}
	return msgs
}

func (m *Memory) Ack(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.id == msg.ID {
			e.acked = true
			return nil
		}
	}
	return nil
}

// Depth reports how many messages are still unacked. Test helper.
func (m *Memory) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if !e.acked {
			n++
		}
	}
	return n
}
