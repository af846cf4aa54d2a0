// Package task is the gateway's execution queue. Producers append tasks to a
// durable event log and read their outcome back by message ID; consumers
// write each terminal outcome once to a record store.
package task

import (
	"fmt"
	"regexp"
	"time"
)

// Status is the observed state of a task.
type Status string

const (
	// StatusPending means the task is still in the log with no record yet.
	StatusPending Status = "PENDING"
	// StatusSuccess and StatusFailed are terminal and persisted once.
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	// StatusTimeout is local to a waiting caller. The task may still complete.
	StatusTimeout Status = "TIMEOUT"
	// StatusNotFound means neither a record nor a log entry exists.
	StatusNotFound Status = "NOT_FOUND"
)

// TimeoutMessage is the error message of a StatusTimeout outcome.
const TimeoutMessage = "task may still complete later"

// Terminal reports whether s is a persisted final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Unresolved reports whether a waiter should keep polling.
func (s Status) Unresolved() bool {
	return s == StatusPending || s == StatusNotFound
}

// Outcome is what callers see for a task.
type Outcome struct {
	MessageID    string            `json:"taskId"`
	Status       Status            `json:"status"`
	Result       map[string]string `json:"result,omitempty"`
	Hash         string            `json:"hash,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	CompletedAt  *time.Time        `json:"completedAt,omitempty"`
}

// Entry is one task as stored in the event log.
type Entry struct {
	ID       string
	TaskName string
	Payload  []byte
}

// Record is the terminal outcome written by a consumer.
type Record struct {
	MessageID    string            `bson:"messageId"              json:"messageId"`
	TaskName     string            `bson:"taskName"               json:"taskName"`
	TaskData     string            `bson:"taskData,omitempty"     json:"taskData,omitempty"`
	Status       Status            `bson:"status"                 json:"status"`
	Result       map[string]string `bson:"result,omitempty"       json:"result,omitempty"`
	Hash         string            `bson:"hash,omitempty"         json:"hash,omitempty"`
	ErrorMessage string            `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CompletedAt  time.Time         `bson:"completedAt"            json:"completedAt"`
}

func (r *Record) validate() error {
	if r == nil || r.MessageID == "" {
		return fmt.Errorf("%w: record without message id", ErrInvalidTask)
	}
	if !r.Status.Terminal() {
		return fmt.Errorf("%w: record %s has non-terminal status %q", ErrInvalidTask, r.MessageID, r.Status)
	}
	return nil
}

// Outcome converts a stored record to the caller view.
func (r *Record) Outcome() *Outcome {
	out := &Outcome{
		MessageID:    r.MessageID,
		Status:       r.Status,
		Result:       r.Result,
		Hash:         r.Hash,
		ErrorMessage: r.ErrorMessage,
	}
	if !r.CompletedAt.IsZero() {
		completedAt := r.CompletedAt
		out.CompletedAt = &completedAt
	}
	return out
}

var messageIDPattern = regexp.MustCompile(`^[0-9]+-[0-9]+$`)

// ValidMessageID reports whether id has the <millis>-<seq> shape the event
// log assigns.
func ValidMessageID(id string) bool {
	return messageIDPattern.MatchString(id)
}
