package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySendReceiveAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(time.Minute)

	require.NoError(t, q.Send(ctx, []byte("one")))
	require.NoError(t, q.Send(ctx, []byte("two")))

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("one"), msgs[0].Body)
	assert.Equal(t, 1, msgs[0].DeliveryCount)

	// In-flight messages are invisible to a second receive.
	again, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, q.Ack(ctx, msgs[0]))
	require.NoError(t, q.Ack(ctx, msgs[1]))
	assert.Equal(t, 0, q.Depth())
}

func TestMemoryRedeliveryAfterVisibilityTimeout(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(30 * time.Second)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return now })

	require.NoError(t, q.Send(ctx, []byte("payload")))

	msgs, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Unacked and still within the visibility window: nothing to receive.
	empty, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	// Past the window the message becomes visible again with a bumped
	// delivery count.
	now = now.Add(31 * time.Second)
	redelivered, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, msgs[0].ID, redelivered[0].ID)
	assert.Equal(t, 2, redelivered[0].DeliveryCount)
}

func TestMemoryReceiveHonorsMax(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(time.Minute)
	for range 5 {
		require.NoError(t, q.Send(ctx, []byte("x")))
	}

	msgs, err := q.Receive(ctx, 3, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestMemoryReceiveRespectsContext(t *testing.T) {
	q := NewMemory(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Receive(ctx, 1, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
