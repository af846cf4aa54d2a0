// Package crosschain confirms delivery of cross-chain messages. It reads the
// message ID from a source receipt, waits for a message indexer to report the
// message executed, and fetches the destination receipt from the destination
// chain's own endpoints.
package crosschain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/ssvlabs/chain-task-gateway/x/chain"
)

// messageIDArg names the event argument that carries the message ID.
const messageIDArg = "messageId"

// Indexer reports the execution state of a cross-chain message.
type Indexer interface {
	Message(ctx context.Context, id common.Hash) (*Message, error)
}

// Chains resolves destination chain tags to receipt races.
type Chains interface {
	Supports(tag string) bool
	WaitReceipt(ctx context.Context, tag string, hash common.Hash) (*types.Receipt, error)
}

// Resolver turns a source receipt into the receipt of the transaction that
// executed its message on the destination chain.
type Resolver struct {
	cfg     Config
	indexer Indexer
	chains  Chains
	event   abi.Event
	emitter common.Address
	log     zerolog.Logger
	metrics *Metrics
}

func NewResolver(cfg Config, indexer Indexer, chains Chains, event abi.Event, log zerolog.Logger, m *Metrics) (*Resolver, error) {
	cfg = cfg.withDefaults()

	var emitter common.Address
	if cfg.Emitter != "" {
		if !common.IsHexAddress(cfg.Emitter) {
			return nil, fmt.Errorf("invalid emitter address %q", cfg.Emitter)
		}
		emitter = common.HexToAddress(cfg.Emitter)
	}
	if _, ok := messageIDInput(event); !ok {
		return nil, fmt.Errorf("event %s has no %s argument", event.Name, messageIDArg)
	}

	return &Resolver{
		cfg:     cfg,
		indexer: indexer,
		chains:  chains,
		event:   event,
		emitter: emitter,
		log:     log.With().Str("component", "crosschain-resolver").Logger(),
		metrics: m,
	}, nil
}

// ResolveRemote waits for the message emitted by source to be executed on the
// chain named by destTag and returns the destination receipt.
//
// A source receipt without the message event fails immediately with
// ErrMessageIDNotFound. Running out of polling attempts yields
// ErrMessageTimedOut; the source transaction is not affected.
func (r *Resolver) ResolveRemote(ctx context.Context, source *types.Receipt, destTag string) (*types.Receipt, error) {
	start := time.Now()

	receipt, err := r.resolve(ctx, source, destTag)
	r.metrics.RecordResolve(outcome(err), time.Since(start))

	return receipt, err
}

func (r *Resolver) resolve(ctx context.Context, source *types.Receipt, destTag string) (*types.Receipt, error) {
	id, err := r.MessageID(source)
	if err != nil {
		return nil, err
	}
	if !r.chains.Supports(destTag) {
		return nil, fmt.Errorf("%w: %q", chain.ErrUnsupportedChain, destTag)
	}

	log := r.log.With().Str("message_id", id.Hex()).Str("dest_chain", destTag).Logger()
	log.Info().Str("source_tx", source.TxHash.Hex()).Msg("Waiting for cross-chain delivery")

	destHash, err := r.awaitExecution(ctx, id, log)
	if err != nil {
		return nil, err
	}

	log.Info().Str("dest_tx", destHash.Hex()).Msg("Message executed, fetching destination receipt")

	receipt, err := r.chains.WaitReceipt(ctx, destTag, destHash)
	if err != nil {
		return nil, fmt.Errorf("destination receipt %s: %w", destHash.Hex(), err)
	}
	return receipt, nil
}

// MessageID extracts the message ID from the first matching event in r.
func (r *Resolver) MessageID(receipt *types.Receipt) (common.Hash, error) {
	if receipt == nil {
		return common.Hash{}, ErrMessageIDNotFound
	}
	pos, _ := messageIDInput(r.event)
	arg := r.event.Inputs[pos]

	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != r.event.ID {
			continue
		}
		if r.emitter != (common.Address{}) && lg.Address != r.emitter {
			continue
		}

		if arg.Indexed {
			topic := 1
			for _, in := range r.event.Inputs[:pos] {
				if in.Indexed {
					topic++
				}
			}
			if topic < len(lg.Topics) {
				return lg.Topics[topic], nil
			}
			continue
		}

		values := make(map[string]any)
		if err := r.event.Inputs.NonIndexed().UnpackIntoMap(values, lg.Data); err != nil {
			r.log.Warn().Err(err).Str("tx_hash", lg.TxHash.Hex()).Msg("Undecodable message event")
			continue
		}
		if id, ok := values[messageIDArg].([32]byte); ok {
			return common.Hash(id), nil
		}
	}
	return common.Hash{}, ErrMessageIDNotFound
}

// awaitExecution polls until the message executes. The whole wait is bounded
// by MaxAttempts*PollInterval, however long single requests take.
func (r *Resolver) awaitExecution(ctx context.Context, id common.Hash, log zerolog.Logger) (common.Hash, error) {
	budget := time.Duration(r.cfg.MaxAttempts) * r.cfg.PollInterval
	waitCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	attempt := 0
	for attempt < r.cfg.MaxAttempts {
		attempt++
		hash, done := r.poll(waitCtx, id, attempt, log)
		if done {
			r.metrics.RecordAttempts(attempt)
			return hash, nil
		}
		if err := ctx.Err(); err != nil {
			return common.Hash{}, err
		}
		if waitCtx.Err() != nil || attempt == r.cfg.MaxAttempts {
			break
		}
		if err := sleepCtx(waitCtx, r.cfg.PollInterval); err != nil {
			if ctx.Err() != nil {
				return common.Hash{}, ctx.Err()
			}
			break
		}
	}

	log.Warn().Int("attempts", attempt).Dur("budget", budget).Msg("Cross-chain message not executed in time")
	return common.Hash{}, fmt.Errorf("%w: message %s after %d attempts", ErrMessageTimedOut, id.Hex(), attempt)
}

// poll asks the indexer once. Every failure is treated as transient.
func (r *Resolver) poll(ctx context.Context, id common.Hash, attempt int, log zerolog.Logger) (common.Hash, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	msg, err := r.indexer.Message(reqCtx, id)
	elapsed := time.Since(start)
	switch {
	case errors.Is(err, ErrMessageNotIndexed):
		r.metrics.RecordPoll("not_indexed", elapsed)
		return common.Hash{}, false
	case err != nil:
		r.metrics.RecordPoll("error", elapsed)
		log.Debug().Err(err).Int("attempt", attempt).Msg("Indexer poll failed")
		return common.Hash{}, false
	case !msg.Executed():
		r.metrics.RecordPoll("pending", elapsed)
		return common.Hash{}, false
	}

	raw, err := hexutil.Decode(msg.DestinationTransaction.TxHash)
	if err != nil || len(raw) != common.HashLength {
		r.metrics.RecordPoll("error", elapsed)
		log.Warn().Str("tx_hash", msg.DestinationTransaction.TxHash).Msg("Indexer returned malformed destination hash")
		return common.Hash{}, false
	}

	r.metrics.RecordPoll("executed", elapsed)
	return common.BytesToHash(raw), true
}

func messageIDInput(ev abi.Event) (int, bool) {
	for i, in := range ev.Inputs {
		if in.Name == messageIDArg && in.Type.T == abi.FixedBytesTy && in.Type.Size == 32 {
			return i, true
		}
	}
	return 0, false
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMessageIDNotFound):
		return "message_id_not_found"
	case errors.Is(err, ErrMessageTimedOut):
		return "timeout"
	case errors.Is(err, chain.ErrUnsupportedChain):
		return "unsupported_chain"
	default:
		return "error"
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
