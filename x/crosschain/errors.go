package crosschain

import "errors"

var (
	// ErrMessageIDNotFound means the source receipt has no message-sent event.
	// It is not retryable.
	ErrMessageIDNotFound = errors.New("cross-chain message id not found in source receipt")

	// ErrMessageTimedOut means the indexer never reported the message as
	// executed within the polling budget. The source transaction stays valid
	// and the message may still be delivered.
	ErrMessageTimedOut = errors.New("cross-chain message not executed in time")

	// ErrMessageNotIndexed is returned by the indexer client for unknown messages.
	ErrMessageNotIndexed = errors.New("message not indexed yet")
)
