package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapDialer(clients map[string]*mockClient) Dialer {
	return func(_ context.Context, url string) (Client, error) {
		c, ok := clients[url]
		if !ok {
			return nil, errors.New("dial refused")
		}
		return c, nil
	}
}

func multiChainConfig() Config {
	cfg := testConfig()
	cfg.PrivateKeyHex = "0x" + testKeyHex
	cfg.Chains = map[string]ChainConfig{
		"Home": {
			Endpoints: []EndpointConfig{{Name: "h1", URL: "http://h1"}, {URL: "http://h2"}},
		},
		"remote": {
			ChainID:   42,
			Endpoints: []EndpointConfig{{Name: "r1", URL: "http://r1"}},
		},
	}
	for tag, cc := range cfg.Chains {
		def := DefaultChainConfig()
		def.ChainID, def.Endpoints = cc.ChainID, cc.Endpoints
		cfg.Chains[tag] = def
	}
	return cfg
}

func TestNewMultiChain(t *testing.T) {
	l := newLedger()
	h1, h2, r1 := newMockClient(l), newMockClient(l), newMockClient(l)
	h2.chainID = big.NewInt(1337)

	mc, err := NewMultiChain(context.Background(), multiChainConfig(),
		mapDialer(map[string]*mockClient{"http://h1": h1, "http://h2": h2, "http://r1": r1}),
		zerolog.Nop(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"home", "remote"}, mc.Tags())
	assert.Equal(t, "home", mc.Default().Tag())
	assert.Equal(t, big.NewInt(1337), mc.Default().ChainID())

	remote, err := mc.Chain("REMOTE")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), remote.ChainID())

	key, _ := ParsePrivateKey(testKeyHex)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), remote.From())
	assert.Equal(t, []string{"h1", "home-1"}, []string{mc.Default().set.Endpoints[0].Name, mc.Default().set.Endpoints[1].Name})

	receipt, err := mc.Broadcast(context.Background(), "remote", testCall)
	require.NoError(t, err)
	tx := r1.sentTxs()[0]
	assert.Equal(t, receipt.TxHash, tx.Hash())
	assert.Equal(t, big.NewInt(42), tx.ChainId())
	assert.Empty(t, h1.sentTxs())

	mc.Close()
	assert.True(t, h1.closed.Load())
	assert.True(t, r1.closed.Load())
}

func TestMultiChain_UnsupportedChain(t *testing.T) {
	l := newLedger()
	a := newMockClient(l)
	mc := newMultiChainFrom("home", newTestBroadcaster(t, "home", testConfig(), DefaultChainConfig(), nil, a))

	_, err := mc.Broadcast(context.Background(), "mars", testCall)
	require.ErrorIs(t, err, ErrUnsupportedChain)
	_, err = mc.WaitReceipt(context.Background(), "mars", common.BytesToHash(testCall.To.Bytes()))
	require.ErrorIs(t, err, ErrUnsupportedChain)

	assert.Zero(t, a.nonceCalls.Load())
	assert.Empty(t, a.sentTxs())
}

func TestNewMultiChain_Errors(t *testing.T) {
	l := newLedger()
	clients := map[string]*mockClient{"http://h1": newMockClient(l), "http://r1": newMockClient(l)}

	t.Run("skips unreachable endpoint", func(t *testing.T) {
		mc, err := NewMultiChain(context.Background(), multiChainConfig(), mapDialer(clients), zerolog.Nop(), nil)
		require.NoError(t, err)
		assert.Len(t, mc.Default().set.Endpoints, 1)
	})

	t.Run("no reachable endpoint", func(t *testing.T) {
		_, err := NewMultiChain(context.Background(), multiChainConfig(), mapDialer(nil), zerolog.Nop(), nil)
		require.ErrorIs(t, err, ErrNoEndpoints)
	})

	t.Run("unknown default chain", func(t *testing.T) {
		cfg := multiChainConfig()
		cfg.DefaultChain = "mars"
		_, err := NewMultiChain(context.Background(), cfg, mapDialer(clients), zerolog.Nop(), nil)
		require.ErrorIs(t, err, ErrUnsupportedChain)
	})

	t.Run("missing key", func(t *testing.T) {
		cfg := multiChainConfig()
		cfg.PrivateKeyHex = ""
		_, err := NewMultiChain(context.Background(), cfg, mapDialer(clients), zerolog.Nop(), nil)
		require.Error(t, err)
	})
}

func newMultiChainFrom(defaultTag string, broadcasters ...*Broadcaster) *MultiChain {
	mc := &MultiChain{
		defaultTag: strings.ToLower(defaultTag),
		chains:     make(map[string]*Broadcaster, len(broadcasters)),
		log:        zerolog.Nop(),
	}
	for _, b := range broadcasters {
		mc.chains[strings.ToLower(b.Tag())] = b
	}
	return mc
}
