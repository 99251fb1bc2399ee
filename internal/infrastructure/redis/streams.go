package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DLQSuffix is appended to a stream name to form its dead-letter stream.
const DLQSuffix = ":dlq"

// Message field names.
const (
	FieldKey       = "key"
	FieldPayload   = "payload"
	FieldReason    = "reason"
	FieldTimestamp = "timestamp"
)

type StreamProducer struct {
	client *redis.Client
	stream string
}

func NewStreamProducer(client *redis.Client, stream string) *StreamProducer {
	return &StreamProducer{client: client, stream: stream}
}

// Publish appends v as a JSON payload and returns the stream message id.
func (p *StreamProducer) Publish(ctx context.Context, key string, v any) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			FieldKey:       key,
			FieldPayload:   string(payload),
			FieldTimestamp: time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", p.stream, err)
	}
	return id, nil
}

// PublishToDLQ copies msg to the dead-letter stream with the reason it was
// given up on.
func (p *StreamProducer) PublishToDLQ(ctx context.Context, msg redis.XMessage, reason string) error {
	key, _ := msg.Values[FieldKey].(string)
	payload, _ := msg.Values[FieldPayload].(string)

	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream + DLQSuffix,
		Values: map[string]any{
			FieldKey:       key,
			FieldPayload:   payload,
			FieldReason:    reason,
			"original_id":  msg.ID,
			FieldTimestamp: time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

// DecodePayload unmarshals the JSON payload field of msg into v.
func DecodePayload(msg redis.XMessage, v any) error {
	payload, ok := msg.Values[FieldPayload].(string)
	if !ok {
		return errors.New("message has no payload")
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// PendingMessage is a message reclaimed from another consumer together with
// the number of times it has been delivered.
type PendingMessage struct {
	Message    redis.XMessage
	Deliveries int64
}

type StreamConsumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client *redis.Client,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) Stream() string {
	return c.stream
}

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read returns new messages for this consumer, blocking up to the configured
// duration.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, c.stream, c.group, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Reclaim takes over messages that stayed unacknowledged for at least
// minIdle, whichever consumer they were delivered to.
func (c *StreamConsumer) Reclaim(ctx context.Context, minIdle time.Duration) ([]PendingMessage, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	deliveries := make(map[string]int64, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
		deliveries[p.ID] = p.RetryCount
	}

	messages, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}

	out := make([]PendingMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, PendingMessage{Message: m, Deliveries: deliveries[m.ID]})
	}
	return out, nil
}
