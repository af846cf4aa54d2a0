package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ssvlabs/chain-task-gateway/x/race"
)

// NonceCoordinator picks the next nonce for a signer from several endpoints
// that may disagree about its pending transaction count.
type NonceCoordinator struct {
	timeout time.Duration
	log     zerolog.Logger
	metrics *Metrics
}

func NewNonceCoordinator(timeout time.Duration, log zerolog.Logger, m *Metrics) *NonceCoordinator {
	if timeout <= 0 {
		timeout = DefaultConfig().NonceTimeout
	}
	return &NonceCoordinator{
		timeout: timeout,
		log:     log.With().Str("component", "nonce-coordinator").Logger(),
		metrics: m,
	}
}

// Coordinate queries every endpoint, each under its own timeout, and returns
// the highest nonce reported. Endpoints that fail or time out are absent, never
// zero. It waits for every endpoint before returning.
func (c *NonceCoordinator) Coordinate(ctx context.Context, tag string, from common.Address, endpoints []Endpoint) (uint64, error) {
	if len(endpoints) == 0 {
		return 0, fmt.Errorf("%w: %w", ErrNonceUnavailable, ErrNoEndpoints)
	}

	calls := make([]race.Call[uint64], len(endpoints))
	for i, ep := range endpoints {
		calls[i] = func(ctx context.Context) (uint64, error) {
			return ep.Client.PendingNonceAt(ctx, from)
		}
	}
	outcomes := race.Collect(ctx, c.timeout, calls...)

	var (
		highest, lowest uint64
		present         int
		errs            []error
	)
	for _, o := range outcomes {
		ep := endpoints[o.Index]
		c.metrics.recordNonceQuery(tag, ep.Name, o.Err)
		if o.Err != nil {
			c.log.Debug().Err(o.Err).Str("chain", tag).Str("endpoint", ep.Name).Msg("Nonce query failed")
			errs = append(errs, endpointError(ep.Name, o.Err))
			continue
		}
		if present == 0 || o.Value > highest {
			highest = o.Value
		}
		if present == 0 || o.Value < lowest {
			lowest = o.Value
		}
		present++
	}

	if present == 0 {
		c.log.Error().Str("chain", tag).Str("from", from.Hex()).Int("endpoints", len(endpoints)).
			Msg("No endpoint answered the nonce query")
		return 0, fmt.Errorf("%w: %w", ErrNonceUnavailable, errors.Join(errs...))
	}

	c.metrics.recordNonceSpread(tag, highest-lowest)
	if highest != lowest {
		c.log.Warn().
			Str("chain", tag).
			Str("from", from.Hex()).
			Uint64("highest", highest).
			Uint64("lowest", lowest).
			Msg("Endpoints disagree on nonce; using highest")
	}
	c.log.Debug().
		Str("chain", tag).
		Uint64("nonce", highest).
		Int("responded", present).
		Int("endpoints", len(endpoints)).
		Msg("Nonce coordinated")

	return highest, nil
}
