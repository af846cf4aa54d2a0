package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/ssvlabs/chain-task-gateway/x/race"
)

// fallbackGasLimit is used when no endpoint could estimate the call.
const fallbackGasLimit = 1_500_000

// Call is an encoded contract call to be sent as one transaction.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// GasLimit overrides the chain gas limit and estimation when non-zero.
	GasLimit uint64
}

// Broadcaster signs and submits transactions on one chain, racing every
// endpoint of its EndpointSet.
type Broadcaster struct {
	set     *EndpointSet
	signer  Signer
	nonces  *NonceCoordinator
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics
}

func NewBroadcaster(set *EndpointSet, signer Signer, cfg Config, log zerolog.Logger, m *Metrics) *Broadcaster {
	cfg = cfg.withDefaults()
	return &Broadcaster{
		set:     set,
		signer:  signer,
		nonces:  NewNonceCoordinator(cfg.NonceTimeout, log, m),
		cfg:     cfg,
		log:     log.With().Str("component", "broadcaster").Str("chain", set.Tag).Logger(),
		metrics: m,
	}
}

func (b *Broadcaster) Tag() string { return b.set.Tag }

func (b *Broadcaster) ChainID() *big.Int { return new(big.Int).Set(b.set.ChainID) }

func (b *Broadcaster) From() common.Address { return b.signer.From() }

// Broadcast signs call once and submits it to every endpoint, returning the
// first receipt any endpoint reports. The receipt is returned even when the
// transaction reverted; use CheckReceipt to turn that into an error.
//
// The whole operation runs under the configured operation timeout. Running out
// of it yields ErrOperationTimedOut, and the transaction may still land.
func (b *Broadcaster) Broadcast(ctx context.Context, call Call) (*types.Receipt, error) {
	start := time.Now()

	opCtx, cancel := context.WithTimeout(ctx, b.cfg.OperationTimeout)
	defer cancel()

	receipt, err := b.broadcast(opCtx, call)
	if err != nil && opCtx.Err() != nil && ctx.Err() == nil {
		err = operationTimedOut(err, b.cfg.OperationTimeout)
	}

	b.metrics.recordOperation(b.set.Tag, err, time.Since(start))
	if err != nil {
		b.log.Error().Err(err).Str("to", call.To.Hex()).Dur("elapsed", time.Since(start)).Msg("Broadcast failed")
		return nil, err
	}

	b.log.Info().
		Str("tx_hash", receipt.TxHash.Hex()).
		Uint64("status", receipt.Status).
		Uint64("gas_used", receipt.GasUsed).
		Dur("elapsed", time.Since(start)).
		Msg("Transaction included")

	return receipt, nil
}

func (b *Broadcaster) broadcast(ctx context.Context, call Call) (*types.Receipt, error) {
	gas := b.gasLimit(ctx, call)

	// All endpoints are queried before signing; a partial view risks a nonce collision.
	nonce, err := b.nonces.Coordinate(ctx, b.set.Tag, b.signer.From(), b.set.Endpoints)
	if err != nil {
		return nil, err
	}

	signed, err := b.signer.SignTx(ctx, b.set.ChainID, b.set.newTx(nonce, call, gas))
	if err != nil {
		return nil, fmt.Errorf("chain %s: failed to sign tx: %w", b.set.Tag, err)
	}
	hash := signed.Hash()

	b.log.Debug().
		Str("tx_hash", hash.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Int("endpoints", len(b.set.Endpoints)).
		Msg("Sending transaction")

	sentAt := time.Now()
	if err := b.send(ctx, signed); err != nil {
		return nil, &BroadcastError{Chain: b.set.Tag, TxHash: hash, Nonce: nonce, Err: err}
	}

	receipt, err := b.WaitReceipt(ctx, hash)
	if err != nil {
		return nil, &BroadcastError{Chain: b.set.Tag, TxHash: hash, Nonce: nonce, Err: err}
	}
	b.metrics.recordReceipt(b.set.Tag, time.Since(sentAt))

	return receipt, nil
}

// send submits tx to every endpoint. The first endpoint to accept it, or to
// report it as already known, ends the race; the others keep delivering in
// the background under their own timeout.
func (b *Broadcaster) send(ctx context.Context, tx *types.Transaction) error {
	calls := make([]race.Call[struct{}], len(b.set.Endpoints))
	for i, ep := range b.set.Endpoints {
		calls[i] = func(ctx context.Context) (struct{}, error) {
			err := ep.Client.SendTransaction(ctx, tx)
			b.metrics.recordSend(b.set.Tag, ep.Name, err)
			return struct{}{}, endpointError(ep.Name, err)
		}
	}

	win, err := race.First(ctx, race.Options{
		Timeout: b.cfg.SendTimeout,
		Accept:  IsDuplicate,
		Detach:  true,
	}, calls...)
	if err != nil {
		if errors.Is(err, race.ErrAllFailed) {
			return fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
		}
		return err
	}

	ev := b.log.Debug().Str("tx_hash", tx.Hash().Hex()).Str("endpoint", b.set.Endpoints[win.Index].Name)
	if win.Accepted() {
		ev = ev.Str("kind", Classify(win.Err).String())
	}
	ev.Msg("Transaction accepted")

	return nil
}

// WaitReceipt polls every endpoint for the receipt of hash and returns the
// first one found. Zero confirmations are enough.
func (b *Broadcaster) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.ReceiptTimeout)
	defer cancel()

	calls := make([]race.Call[*types.Receipt], len(b.set.Endpoints))
	for i, ep := range b.set.Endpoints {
		calls[i] = func(ctx context.Context) (*types.Receipt, error) {
			return b.pollReceipt(ctx, ep, hash)
		}
	}

	win, err := race.First(waitCtx, race.Options{}, calls...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: tx %s after %s: %w", ErrReceiptUnavailable, hash.Hex(), b.cfg.ReceiptTimeout, err)
	}
	return win.Value, nil
}

func (b *Broadcaster) pollReceipt(ctx context.Context, ep Endpoint, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(b.cfg.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := ep.Client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && Classify(err) != KindNotFound && ctx.Err() == nil {
			b.log.Debug().Err(err).Str("endpoint", ep.Name).Str("tx_hash", hash.Hex()).Msg("Receipt query failed")
		}

		select {
		case <-ctx.Done():
			return nil, endpointError(ep.Name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// gasLimit picks the gas for call: the call override, then the chain setting,
// then the best endpoint estimate plus the configured buffer.
func (b *Broadcaster) gasLimit(ctx context.Context, call Call) uint64 {
	if call.GasLimit > 0 {
		return call.GasLimit
	}
	if b.set.GasLimit > 0 {
		return b.set.GasLimit
	}

	to := call.To
	msg := ethereum.CallMsg{
		From:  b.signer.From(),
		To:    &to,
		Value: call.Value,
		Data:  call.Data,
	}

	calls := make([]race.Call[uint64], len(b.set.Endpoints))
	for i, ep := range b.set.Endpoints {
		calls[i] = func(ctx context.Context) (uint64, error) {
			return ep.Client.EstimateGas(ctx, msg)
		}
	}

	win, err := race.First(ctx, race.Options{Timeout: b.cfg.SendTimeout}, calls...)
	if err != nil || win.Value == 0 {
		b.log.Warn().Err(err).Uint64("fallback", fallbackGasLimit).Msg("Gas estimation failed, using fallback")
		return fallbackGasLimit
	}

	est := win.Value
	return est + est*b.set.GasLimitBufferPct/100
}

// CheckReceipt returns ErrTransactionReverted for a failed receipt.
func CheckReceipt(r *types.Receipt) error {
	if r == nil {
		return fmt.Errorf("%w: nil receipt", ErrReceiptUnavailable)
	}
	if r.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("tx %s: %w in block %v", r.TxHash.Hex(), ErrTransactionReverted, r.BlockNumber)
	}
	return nil
}

// operationTimedOut replaces the cause of err with ErrOperationTimedOut while
// keeping the transaction hash when one was signed.
func operationTimedOut(err error, budget time.Duration) error {
	timedOut := fmt.Errorf("%w after %s (%v)", ErrOperationTimedOut, budget, err)

	var be *BroadcastError
	if errors.As(err, &be) {
		return &BroadcastError{Chain: be.Chain, TxHash: be.TxHash, Nonce: be.Nonce, Err: timedOut}
	}
	return timedOut
}
