package contracts

import (
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ssvlabs/chain-task-gateway/x/chain"
)

//go:embed abi/chips.json
var chipsABIJSON string

// ChipsBinding encodes pay and earn calls on the chips ledger.
type ChipsBinding struct {
	binding
}

func NewChipsBinding(contractAddr string) (*ChipsBinding, error) {
	b, err := newBinding("Chips", contractAddr, chipsABIJSON)
	if err != nil {
		return nil, err
	}
	return &ChipsBinding{binding: b}, nil
}

func (b *ChipsBinding) BuildPay(from common.Address, amount *big.Int) (chain.Call, error) {
	if err := checkAmount(amount); err != nil {
		return chain.Call{}, err
	}
	return b.call("pay", from, amount)
}

func (b *ChipsBinding) BuildEarn(to common.Address, amount *big.Int) (chain.Call, error) {
	if err := checkAmount(amount); err != nil {
		return chain.Call{}, err
	}
	return b.call("earn", to, amount)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}
