package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNonceUnavailable is returned when no endpoint answered the nonce query.
	ErrNonceUnavailable = errors.New("nonce unavailable: no endpoint responded")

	// ErrBroadcastFailed is returned when every endpoint rejected the transaction
	// for a reason other than having already seen it.
	ErrBroadcastFailed = errors.New("broadcast failed on all endpoints")

	// ErrReceiptUnavailable is returned when the transaction was broadcast but no
	// endpoint produced a receipt in time.
	ErrReceiptUnavailable = errors.New("receipt unavailable")

	// ErrOperationTimedOut is returned when the wall-clock budget of a broadcast
	// ran out. The transaction may still land.
	ErrOperationTimedOut = errors.New("operation timed out, outcome unknown")

	// ErrUnsupportedChain is returned for a chain tag that is not configured.
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrTransactionReverted is returned by CheckReceipt for a failed receipt.
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrNoEndpoints is returned when a chain has an empty endpoint set.
	ErrNoEndpoints = errors.New("no endpoints configured")
)

// ErrorKind classifies a raw endpoint error.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindAlreadyKnown
	KindNonceTooLow
	KindNotFound
	KindTimeout
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAlreadyKnown:
		return "already_known"
	case KindNonceTooLow:
		return "nonce_too_low"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	default:
		return "rejected"
	}
}

// Pool error texts per kind. Covers geth (txpool.ErrAlreadyKnown,
// core.ErrNonceTooLow) and the wording used by erigon, nethermind and besu.
var errorMarkers = []struct {
	kind    ErrorKind
	markers []string
}{
	{KindAlreadyKnown, []string{"already known", "known transaction", "alreadyknown", "already imported", "transaction already exists"}},
	{KindNonceTooLow, []string{"nonce too low", "nonce_too_low", "oldnonce", "nonce has already been used"}},
	{KindNotFound, []string{"not found"}},
}

// Classify maps an endpoint error onto an ErrorKind. JSON-RPC endpoints only
// report these conditions as text, so this is the one place that matches it.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var ee *EndpointError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, ethereum.NotFound) {
		return KindNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, m := range errorMarkers {
		for _, marker := range m.markers {
			if strings.Contains(msg, marker) {
				return m.kind
			}
		}
	}
	return KindRejected
}

// IsDuplicate reports whether err means another endpoint already accepted the
// same signed transaction.
func IsDuplicate(err error) bool {
	switch Classify(err) {
	case KindAlreadyKnown, KindNonceTooLow:
		return true
	default:
		return false
	}
}

// EndpointError is a classified error from one RPC endpoint.
type EndpointError struct {
	Endpoint string
	Kind     ErrorKind
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("endpoint %s (%s): %v", e.Endpoint, e.Kind, e.Err)
}

func (e *EndpointError) Unwrap() error { return e.Err }

func endpointError(name string, err error) error {
	if err == nil {
		return nil
	}
	return &EndpointError{Endpoint: name, Kind: Classify(err), Err: err}
}

// BroadcastError reports a failure after the transaction was signed, so the
// caller can still track the hash that may land on chain.
type BroadcastError struct {
	Chain  string
	TxHash common.Hash
	Nonce  uint64
	Err    error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("chain %s: tx %s (nonce %d): %v", e.Chain, e.TxHash.Hex(), e.Nonce, e.Err)
}

func (e *BroadcastError) Unwrap() error { return e.Err }

// TxHashOf returns the transaction hash carried by err, if any.
func TxHashOf(err error) (common.Hash, bool) {
	var be *BroadcastError
	if errors.As(err, &be) {
		return be.TxHash, true
	}
	return common.Hash{}, false
}
