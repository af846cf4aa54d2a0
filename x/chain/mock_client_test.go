package chain

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ledger is the chain state shared by the mock endpoints of one test.
type ledger struct {
	mu  sync.Mutex
	txs map[common.Hash]*types.Transaction
}

func newLedger() *ledger {
	return &ledger{txs: make(map[common.Hash]*types.Transaction)}
}

func (l *ledger) add(tx *types.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs[tx.Hash()] = tx
}

func (l *ledger) get(hash common.Hash) (*types.Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[hash]
	return tx, ok
}

type mockClient struct {
	ledger  *ledger
	chainID *big.Int

	nonce      uint64
	nonceErr   error
	nonceDelay time.Duration

	gas    uint64
	gasErr error

	sendErr   error
	sendDelay time.Duration

	withholdReceipts bool
	revert           bool

	mu         sync.Mutex
	sent       []*types.Transaction
	nonceCalls atomic.Int32
	closed     atomic.Bool
}

func newMockClient(l *ledger) *mockClient {
	return &mockClient{ledger: l, chainID: big.NewInt(1337), gas: 21000}
}

func (m *mockClient) ChainID(ctx context.Context) (*big.Int, error) {
	return m.chainID, nil
}

func (m *mockClient) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	m.nonceCalls.Add(1)
	if err := sleepCtx(ctx, m.nonceDelay); err != nil {
		return 0, err
	}
	return m.nonce, m.nonceErr
}

func (m *mockClient) EstimateGas(ctx context.Context, _ ethereum.CallMsg) (uint64, error) {
	return m.gas, m.gasErr
}

func (m *mockClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := sleepCtx(ctx, m.sendDelay); err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, tx)
	m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.ledger.add(tx)
	return nil
}

func (m *mockClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if m.withholdReceipts {
		return nil, ethereum.NotFound
	}
	if _, ok := m.ledger.get(hash); !ok {
		return nil, ethereum.NotFound
	}
	status := types.ReceiptStatusSuccessful
	if m.revert {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{Status: status, TxHash: hash, BlockNumber: big.NewInt(1), GasUsed: 21000}, nil
}

func (m *mockClient) Close() { m.closed.Store(true) }

func (m *mockClient) sentTxs() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.Transaction(nil), m.sent...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
