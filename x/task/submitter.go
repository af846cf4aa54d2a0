package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Submitter enqueues tasks and optionally waits for their outcome.
type Submitter struct {
	events   EventLog
	resolver StatusResolver
	wait     WaitOptions
	log      zerolog.Logger
	metrics  *Metrics
}

func NewSubmitter(events EventLog, resolver StatusResolver, wait WaitOptions, log zerolog.Logger, m *Metrics) *Submitter {
	return &Submitter{
		events:   events,
		resolver: resolver,
		wait:     wait.withDefaults(),
		log:      log.With().Str("component", "task-submitter").Logger(),
		metrics:  m,
	}
}

// Enqueue appends the task to the log and returns its message ID. payload is
// JSON-encoded unless it already is a json.RawMessage.
func (s *Submitter) Enqueue(ctx context.Context, taskName string, payload any) (string, error) {
	if strings.TrimSpace(taskName) == "" {
		return "", fmt.Errorf("%w: empty task name", ErrInvalidTask)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %s payload: %v", ErrInvalidTask, taskName, err)
	}

	id, err := s.events.Append(ctx, taskName, data)
	s.metrics.RecordEnqueue(taskName, err)
	if err != nil {
		s.log.Error().Err(err).Str("task", taskName).Msg("Failed to enqueue task")
		return "", fmt.Errorf("enqueue %s: %w", taskName, err)
	}

	s.log.Debug().Str("task", taskName).Str("task_id", id).Msg("Task enqueued")
	return id, nil
}

// EnqueueAndWait enqueues the task and waits for its outcome. Zero fields of
// opts take the submitter's defaults.
func (s *Submitter) EnqueueAndWait(ctx context.Context, taskName string, payload any, opts WaitOptions) (*Outcome, error) {
	id, err := s.Enqueue(ctx, taskName, payload)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, id, opts)
}

// Wait polls the resolver up to opts.MaxAttempts times, sleeping opts.Interval
// between attempts, while the task is PENDING or NOT_FOUND. When the budget
// runs out it returns a TIMEOUT outcome; the task itself may still complete.
// Resolver errors end the wait.
func (s *Submitter) Wait(ctx context.Context, id string, opts WaitOptions) (*Outcome, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = s.wait.MaxAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = s.wait.Interval
	}

	start := time.Now()
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		out, err := s.resolver.Resolve(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve task %s: %w", id, err)
		}
		if !out.Status.Unresolved() {
			s.metrics.RecordWait(out.Status, time.Since(start))
			return out, nil
		}
		if attempt == opts.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, opts.Interval); err != nil {
			return nil, err
		}
	}

	s.metrics.RecordWait(StatusTimeout, time.Since(start))
	s.log.Warn().
		Str("task_id", id).
		Int("attempts", opts.MaxAttempts).
		Dur("interval", opts.Interval).
		Msg("Gave up waiting for task")

	return &Outcome{MessageID: id, Status: StatusTimeout, ErrorMessage: TimeoutMessage}, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
