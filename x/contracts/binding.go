// Package contracts encodes calls to the game, token, chips and NFT bridge
// contracts and decodes the events the gateway reads back from receipts.
package contracts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ssvlabs/chain-task-gateway/x/chain"
)

// ErrEventNotFound is returned when a receipt carries no log for the event.
var ErrEventNotFound = errors.New("event not found in receipt")

// Addresses holds the deployed contract addresses on the home chain and the
// NFT bridge address per chain tag.
type Addresses struct {
	GameRoom   string            `mapstructure:"game_room"   yaml:"game_room"`
	GameToken  string            `mapstructure:"game_token"  yaml:"game_token"`
	Chips      string            `mapstructure:"chips"       yaml:"chips"`
	NFTBridges map[string]string `mapstructure:"nft_bridges" yaml:"nft_bridges"`
}

type binding struct {
	address common.Address
	abi     abi.ABI
}

func newBinding(name, contractAddr, abiJSON string) (binding, error) {
	if strings.TrimSpace(contractAddr) == "" {
		return binding{}, fmt.Errorf("%s: contract address is empty", name)
	}
	if !common.IsHexAddress(contractAddr) {
		return binding{}, fmt.Errorf("%s: invalid contract address %q", name, contractAddr)
	}
	a, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return binding{}, fmt.Errorf("%s: parse ABI: %w", name, err)
	}
	return binding{address: common.HexToAddress(contractAddr), abi: a}, nil
}

func (b binding) Address() common.Address { return b.address }

func (b binding) ABI() abi.ABI { return b.abi }

func (b binding) call(method string, args ...any) (chain.Call, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return chain.Call{}, fmt.Errorf("abi pack %s: %w", method, err)
	}
	return chain.Call{To: b.address, Data: data}, nil
}

// findLog returns the first log of event emitted by this contract.
func (b binding) findLog(r *types.Receipt, event string) (*types.Log, error) {
	ev, ok := b.abi.Events[event]
	if !ok {
		return nil, fmt.Errorf("unknown event %s", event)
	}
	if r == nil {
		return nil, fmt.Errorf("%s: %w", event, ErrEventNotFound)
	}
	for _, lg := range r.Logs {
		if lg == nil || lg.Address != b.address || len(lg.Topics) == 0 {
			continue
		}
		if lg.Topics[0] == ev.ID {
			return lg, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", event, ErrEventNotFound)
}
