package task

import (
	"context"
	"errors"
	"fmt"
)

// Resolver determines a task's status from the record store and the log.
type Resolver struct {
	records RecordStore
	events  EventLog
	metrics *Metrics
}

func NewResolver(records RecordStore, events EventLog, m *Metrics) *Resolver {
	return &Resolver{records: records, events: events, metrics: m}
}

// Resolve returns the persisted outcome when a record exists. Otherwise the
// task is PENDING while its log entry exists and NOT_FOUND once it is gone.
//
// The record store is consulted first: a finished task may still be in the
// log, and must not be reported as PENDING.
func (r *Resolver) Resolve(ctx context.Context, id string) (*Outcome, error) {
	rec, err := r.records.Get(ctx, id)
	switch {
	case err == nil:
		out := rec.Outcome()
		r.metrics.RecordResolve(out.Status)
		return out, nil
	case !errors.Is(err, ErrRecordNotFound):
		return nil, fmt.Errorf("get task record %s: %w", id, err)
	}

	exists, err := r.events.Exists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("look up task %s in log: %w", id, err)
	}

	status := StatusNotFound
	if exists {
		status = StatusPending
	}
	r.metrics.RecordResolve(status)

	return &Outcome{MessageID: id, Status: status}, nil
}
