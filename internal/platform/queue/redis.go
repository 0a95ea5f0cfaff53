package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const bodyField = "body"

// Redis implements Queue on a Redis Stream with a consumer group. Fresh
// messages arrive via XREADGROUP; messages that stay pending longer than the
// visibility timeout are reclaimed via XPENDING/XCLAIM, which is what gives
// at-least-once redelivery when a consumer dies mid-flight.
type Redis struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	visibility time.Duration
}

// NewRedis creates the stream and consumer group if they do not exist yet.
func NewRedis(ctx context.Context, client *redis.Client, stream, group, consumer string, visibility time.Duration) (*Redis, error) {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Redis{
		client:     client,
		stream:     stream,
		group:      group,
		consumer:   consumer,
		visibility: visibility,
	}, nil
}

func (q *Redis) Send(ctx context.Context, body []byte) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{bodyField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

func (q *Redis) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	msgs, err := q.reclaim(ctx, max)
	if err != nil {
		return nil, err
	}
	if len(msgs) >= max {
		return msgs, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max - len(msgs)),
		Block:    wait,
	}).Result()
	if err != nil {
		// No fresh messages within the block window is a normal outcome.
		if errors.Is(err, redis.Nil) {
			return msgs, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	for _, stream := range streams {
		for _, entry := range stream.Messages {
			msgs = append(msgs, toMessage(entry, 1))
		}
	}
	return msgs, nil
}

// reclaim takes over messages another (or a previous incarnation of this)
// consumer received but never acked, once they have been idle past the
// visibility timeout.
func (q *Redis) reclaim(ctx context.Context, max int) ([]Message, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Idle:   q.visibility,
		Start:  "-",
		End:    "+",
		Count:  int64(max),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	retries := make(map[string]int64, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		retries[p.ID] = p.RetryCount
	}

	claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.visibility,
		Messages: ids,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xclaim: %w", err)
	}

	msgs := make([]Message, 0, len(claimed))
	for _, entry := range claimed {
		// RetryCount counts prior deliveries; the claim itself is one more.
		msgs = append(msgs, toMessage(entry, int(retries[entry.ID])+1))
	}
	return msgs, nil
}

func (q *Redis) Ack(ctx context.Context, msg Message) error {
	if err := q.client.XAck(ctx, q.stream, q.group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func toMessage(entry redis.XMessage, deliveries int) Message {
	var body []byte
	if raw, ok := entry.Values[bodyField]; ok {
		if s, ok := raw.(string); ok {
			body = []byte(s)
		}
	}
	return Message{ID: entry.ID, Body: body, DeliveryCount: deliveries}
}
