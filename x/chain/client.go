package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Client defines the subset of go-ethereum's client methods we rely on.
// It allows mocking in tests and decouples from the concrete ethclient.Client.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dialer opens a Client for an endpoint URL.
type Dialer func(ctx context.Context, url string) (Client, error)

// DialEthClient dials with auto-protocol selection (http/ws).
func DialEthClient(ctx context.Context, url string) (Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC %s: %w", url, err)
	}
	return ethclient.NewClient(rpcClient), nil
}

// Endpoint is one independently reachable RPC endpoint.
type Endpoint struct {
	Name   string
	Client Client
}

// Fees are the parsed fee parameters of a chain.
type Fees struct {
	EIP1559  bool
	GasPrice *big.Int
	TipCap   *big.Int
	FeeCap   *big.Int
}

// EndpointSet is the immutable per-chain configuration used by a Broadcaster.
type EndpointSet struct {
	Tag               string
	ChainID           *big.Int
	Endpoints         []Endpoint
	Fees              Fees
	GasLimit          uint64
	GasLimitBufferPct uint64
}

// NewEndpointSet validates cfg and parses its fee parameters.
func NewEndpointSet(tag string, chainID *big.Int, cfg ChainConfig, endpoints []Endpoint) (*EndpointSet, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chain %s: %w", tag, ErrNoEndpoints)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain %s: invalid chain id", tag)
	}

	def := DefaultChainConfig()
	gasPrice, err := parseWei(cfg.GasPriceWei, def.GasPriceWei)
	if err != nil {
		return nil, fmt.Errorf("chain %s: gas_price_wei: %w", tag, err)
	}
	tipCap, err := parseWei(cfg.MaxPriorityFeeWei, def.MaxPriorityFeeWei)
	if err != nil {
		return nil, fmt.Errorf("chain %s: max_priority_fee_wei: %w", tag, err)
	}
	feeCap, err := parseWei(cfg.MaxFeePerGasWei, def.MaxFeePerGasWei)
	if err != nil {
		return nil, fmt.Errorf("chain %s: max_fee_per_gas_wei: %w", tag, err)
	}
	if cfg.UseEIP1559 && feeCap.Cmp(tipCap) < 0 {
		return nil, fmt.Errorf("chain %s: max fee %s below priority fee %s", tag, feeCap, tipCap)
	}

	return &EndpointSet{
		Tag:       tag,
		ChainID:   new(big.Int).Set(chainID),
		Endpoints: append([]Endpoint(nil), endpoints...),
		Fees: Fees{
			EIP1559:  cfg.UseEIP1559,
			GasPrice: gasPrice,
			TipCap:   tipCap,
			FeeCap:   feeCap,
		},
		GasLimit:          cfg.GasLimit,
		GasLimitBufferPct: cfg.GasLimitBufferPct,
	}, nil
}

// newTx builds the unsigned transaction for call.
func (s *EndpointSet) newTx(nonce uint64, call Call, gas uint64) *types.Transaction {
	to := call.To
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	if s.Fees.EIP1559 {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   s.ChainID,
			Nonce:     nonce,
			GasTipCap: s.Fees.TipCap,
			GasFeeCap: s.Fees.FeeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      call.Data,
		})
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: s.Fees.GasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     call.Data,
	})
}

// Close closes every endpoint client that supports it.
func (s *EndpointSet) Close() {
	for _, ep := range s.Endpoints {
		if c, ok := ep.Client.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

func parseWei(v, fallback string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		v = fallback
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid wei amount %q", v)
	}
	return n, nil
}
