package contracts

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ssvlabs/chain-task-gateway/x/chain"
)

//go:embed abi/nft_bridge.json
var nftBridgeABIJSON string

// MessageSentEvent is the event the bridge emits when a cross-chain message
// leaves the source chain.
const MessageSentEvent = "MessageSent"

// NFTBridgeBinding encodes sendNFT calls on the cross-chain NFT bridge.
type NFTBridgeBinding struct {
	binding
}

func NewNFTBridgeBinding(contractAddr string) (*NFTBridgeBinding, error) {
	b, err := newBinding("NFTBridge", contractAddr, nftBridgeABIJSON)
	if err != nil {
		return nil, err
	}
	return &NFTBridgeBinding{binding: b}, nil
}

func (b *NFTBridgeBinding) BuildSendNFT(destSelector uint64, receiver common.Address, tokenURI string) (chain.Call, error) {
	if receiver == (common.Address{}) {
		return chain.Call{}, fmt.Errorf("receiver is the zero address")
	}
	return b.call("sendNFT", destSelector, receiver, tokenURI)
}

// ParseMessageSentEvent returns the MessageSent definition from the embedded
// bridge ABI.
func ParseMessageSentEvent() (abi.Event, error) {
	a, err := abi.JSON(strings.NewReader(nftBridgeABIJSON))
	if err != nil {
		return abi.Event{}, fmt.Errorf("parse ABI: %w", err)
	}
	ev, ok := a.Events[MessageSentEvent]
	if !ok {
		return abi.Event{}, fmt.Errorf("ABI has no %s event", MessageSentEvent)
	}
	return ev, nil
}
