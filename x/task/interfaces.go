package task

import (
	"context"
	"time"
)

// EventLog is the durable, append-only task log.
type EventLog interface {
	// Append stores the task and returns its log-assigned message ID.
	Append(ctx context.Context, taskName string, payload []byte) (string, error)
	// Exists reports whether the entry with exactly this ID is still in the log.
	Exists(ctx context.Context, id string) (bool, error)
}

// ConsumerLog is the consumer-group view of the event log.
type ConsumerLog interface {
	EventLog

	EnsureGroup(ctx context.Context, group string) error
	// ReadGroup delivers up to count entries never delivered to group, waiting
	// up to block for new ones. block <= 0 returns immediately.
	ReadGroup(ctx context.Context, group, consumer string, count int, block time.Duration) ([]Entry, error)
	// Claim transfers entries delivered more than minIdle ago and never
	// acknowledged to consumer.
	Claim(ctx context.Context, group, consumer string, minIdle time.Duration, count int) ([]Entry, error)
	// Touch resets the idle time of pending entries and assigns them to
	// consumer, keeping entries that are still being processed from being
	// claimed.
	Touch(ctx context.Context, group, consumer string, ids ...string) error
	Ack(ctx context.Context, group string, ids ...string) error
}

// RecordStore holds terminal task outcomes keyed by message ID.
type RecordStore interface {
	// Get returns ErrRecordNotFound when no record exists.
	Get(ctx context.Context, id string) (*Record, error)
	// Put stores rec once. A second Put for the same ID returns ErrAlreadyCompleted.
	Put(ctx context.Context, rec *Record) error
}

// StatusResolver resolves a message ID to its current outcome.
type StatusResolver interface {
	Resolve(ctx context.Context, id string) (*Outcome, error)
}
