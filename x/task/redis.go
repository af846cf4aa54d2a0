package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldTaskName = "taskName"
	fieldPayload  = "payload"
)

// RedisEventLog stores tasks in a Redis stream.
type RedisEventLog struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewRedisEventLog(client redis.UniversalClient, cfg RedisConfig) (*RedisEventLog, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("redis stream name is empty")
	}
	return &RedisEventLog{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

// NewRedisClient opens a client for cfg and checks the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (l *RedisEventLog) Append(ctx context.Context, taskName string, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]any{fieldTaskName: taskName, fieldPayload: string(payload)},
	}
	if l.maxLen > 0 {
		args.MaxLen = l.maxLen
		args.Approx = true
	}
	return l.client.XAdd(ctx, args).Result()
}

// Exists does a point range read at exactly id. Malformed IDs never existed.
func (l *RedisEventLog) Exists(ctx context.Context, id string) (bool, error) {
	if !ValidMessageID(id) {
		return false, nil
	}
	msgs, err := l.client.XRangeN(ctx, l.stream, id, id, 1).Result()
	if err != nil {
		return false, err
	}
	return len(msgs) > 0, nil
}

func (l *RedisEventLog) EnsureGroup(ctx context.Context, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", group, err)
	}
	return nil
}

func (l *RedisEventLog) ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Entry, error) {
	if block <= 0 {
		block = -1
	}
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{l.stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, s := range streams {
		out = append(out, toEntries(s.Messages)...)
	}
	return out, nil
}

func (l *RedisEventLog) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]Entry, error) {
	msgs, _, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   l.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    int64(count),
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toEntries(msgs), nil
}

// Touch re-claims ids for consumer with XCLAIM JUSTID, which resets their
// idle time without redelivering them.
func (l *RedisEventLog) Touch(ctx context.Context, group, consumer string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return l.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   l.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  0,
		Messages: ids,
	}).Err()
}

func (l *RedisEventLog) Ack(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return l.client.XAck(ctx, l.stream, group, ids...).Err()
}

func toEntries(msgs []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		name, _ := m.Values[fieldTaskName].(string)
		payload, _ := m.Values[fieldPayload].(string)
		out = append(out, Entry{ID: m.ID, TaskName: name, Payload: []byte(payload)})
	}
	return out
}
