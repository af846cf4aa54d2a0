package contracts

import (
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ssvlabs/chain-task-gateway/x/chain"
)

//go:embed abi/game_token.json
var gameTokenABIJSON string

// GameTokenBinding encodes mint calls on the ERC-721 game token.
type GameTokenBinding struct {
	binding
}

func NewGameTokenBinding(contractAddr string) (*GameTokenBinding, error) {
	b, err := newBinding("GameToken", contractAddr, gameTokenABIJSON)
	if err != nil {
		return nil, err
	}
	return &GameTokenBinding{binding: b}, nil
}

func (b *GameTokenBinding) BuildMint(to common.Address, tokenURI string) (chain.Call, error) {
	if to == (common.Address{}) {
		return chain.Call{}, fmt.Errorf("mint recipient is the zero address")
	}
	return b.call("mint", to, tokenURI)
}

// TokenID returns the token minted by the transaction of r, read from the
// Transfer event with a zero sender.
func (b *GameTokenBinding) TokenID(r *types.Receipt) (*big.Int, error) {
	lg, err := b.findLog(r, "Transfer")
	if err != nil {
		return nil, err
	}
	if len(lg.Topics) < 4 {
		return nil, fmt.Errorf("Transfer: expected 4 topics, got %d", len(lg.Topics))
	}
	if common.BytesToAddress(lg.Topics[1].Bytes()) != (common.Address{}) {
		return nil, fmt.Errorf("Transfer: not a mint")
	}
	return new(big.Int).SetBytes(lg.Topics[3].Bytes()), nil
}
