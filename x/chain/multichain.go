package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/ssvlabs/chain-task-gateway/x/race"
)

// MultiChain holds one Broadcaster per configured chain tag.
type MultiChain struct {
	defaultTag string
	chains     map[string]*Broadcaster
	log        zerolog.Logger
}

// NewMultiChain dials every configured endpoint and builds a Broadcaster per
// chain, all signing with the same private key. Chain IDs left at zero are
// read from the endpoints.
func NewMultiChain(ctx context.Context, cfg Config, dial Dialer, log zerolog.Logger, m *Metrics) (*MultiChain, error) {
	cfg = cfg.withDefaults()
	if dial == nil {
		dial = DialEthClient
	}
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("no chains configured")
	}

	key, err := ParsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	signer := NewKeySigner(key)

	mc := &MultiChain{
		defaultTag: strings.ToLower(cfg.DefaultChain),
		chains:     make(map[string]*Broadcaster, len(cfg.Chains)),
		log:        log.With().Str("component", "multichain").Logger(),
	}

	tags := make([]string, 0, len(cfg.Chains))
	for tag := range cfg.Chains {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, rawTag := range tags {
		cc := cfg.Chains[rawTag]
		tag := strings.ToLower(rawTag)

		endpoints, err := dialEndpoints(ctx, tag, cc.Endpoints, dial, mc.log)
		if err != nil {
			mc.Close()
			return nil, err
		}

		var chainID *big.Int
		if cc.ChainID != 0 {
			chainID = new(big.Int).SetUint64(cc.ChainID)
		} else if chainID, err = detectChainID(ctx, endpoints, cfg.NonceTimeout); err != nil {
			closeEndpoints(endpoints)
			mc.Close()
			return nil, fmt.Errorf("chain %s: %w", tag, err)
		}

		set, err := NewEndpointSet(tag, chainID, cc, endpoints)
		if err != nil {
			closeEndpoints(endpoints)
			mc.Close()
			return nil, err
		}

		b := NewBroadcaster(set, signer, cfg, log, m)
		mc.chains[tag] = b

		mc.log.Info().
			Str("chain", tag).
			Str("chain_id", chainID.String()).
			Int("endpoints", len(endpoints)).
			Str("from", b.From().Hex()).
			Bool("eip1559", set.Fees.EIP1559).
			Msg("Chain configured")
	}

	if _, ok := mc.chains[mc.defaultTag]; !ok {
		mc.Close()
		return nil, fmt.Errorf("default chain %q: %w", cfg.DefaultChain, ErrUnsupportedChain)
	}

	return mc, nil
}

// Chain returns the broadcaster for tag, or ErrUnsupportedChain.
func (mc *MultiChain) Chain(tag string) (*Broadcaster, error) {
	b, ok := mc.chains[strings.ToLower(tag)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChain, tag)
	}
	return b, nil
}

// Supports reports whether tag is a configured chain.
func (mc *MultiChain) Supports(tag string) bool {
	_, ok := mc.chains[strings.ToLower(tag)]
	return ok
}

// Default returns the home chain broadcaster.
func (mc *MultiChain) Default() *Broadcaster {
	return mc.chains[mc.defaultTag]
}

func (mc *MultiChain) DefaultTag() string { return mc.defaultTag }

// Tags returns the configured chain tags in sorted order.
func (mc *MultiChain) Tags() []string {
	tags := make([]string, 0, len(mc.chains))
	for tag := range mc.chains {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Broadcast sends call on the chain named by tag. An unknown tag fails before
// any endpoint is contacted.
func (mc *MultiChain) Broadcast(ctx context.Context, tag string, call Call) (*types.Receipt, error) {
	b, err := mc.Chain(tag)
	if err != nil {
		return nil, err
	}
	return b.Broadcast(ctx, call)
}

// WaitReceipt races the receipt of hash across the endpoints of tag.
func (mc *MultiChain) WaitReceipt(ctx context.Context, tag string, hash common.Hash) (*types.Receipt, error) {
	b, err := mc.Chain(tag)
	if err != nil {
		return nil, err
	}
	return b.WaitReceipt(ctx, hash)
}

func (mc *MultiChain) Close() {
	for _, b := range mc.chains {
		b.set.Close()
	}
}

func dialEndpoints(ctx context.Context, tag string, cfgs []EndpointConfig, dial Dialer, log zerolog.Logger) ([]Endpoint, error) {
	endpoints := make([]Endpoint, 0, len(cfgs))
	var errs []error
	for i, ec := range cfgs {
		name := ec.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", tag, i)
		}
		client, err := dial(ctx, ec.URL)
		if err != nil {
			// One unreachable endpoint must not keep the chain down.
			log.Warn().Err(err).Str("chain", tag).Str("endpoint", name).Msg("Skipping endpoint")
			errs = append(errs, err)
			continue
		}
		endpoints = append(endpoints, Endpoint{Name: name, Client: client})
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chain %s: %w", tag, errors.Join(append([]error{ErrNoEndpoints}, errs...)...))
	}
	return endpoints, nil
}

func detectChainID(ctx context.Context, endpoints []Endpoint, timeout time.Duration) (*big.Int, error) {
	calls := make([]race.Call[*big.Int], len(endpoints))
	for i, ep := range endpoints {
		calls[i] = func(ctx context.Context) (*big.Int, error) {
			return ep.Client.ChainID(ctx)
		}
	}
	win, err := race.First(ctx, race.Options{Timeout: timeout}, calls...)
	if err != nil {
		return nil, fmt.Errorf("failed to detect chain id: %w", err)
	}
	return win.Value, nil
}

func closeEndpoints(endpoints []Endpoint) {
	(&EndpointSet{Endpoints: endpoints}).Close()
}
