package ops

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Task names as enqueued by the API and dispatched by the consumer.
const (
	TaskCreateRoom          = "createRoom"
	TaskMintToken           = "mintToken"
	TaskPayChips            = "payChips"
	TaskEarnChips           = "earnChips"
	TaskCreateCrossChainNFT = "createCrossChainNFT"
)

type CreateRoomPayload struct {
	GameID string `json:"gameId"`
}

func (p CreateRoomPayload) Validate() error {
	if strings.TrimSpace(p.GameID) == "" {
		return fmt.Errorf("%w: gameId is required", ErrInvalidPayload)
	}
	return nil
}

type MintTokenPayload struct {
	To       string `json:"to"`
	TokenURI string `json:"tokenURI"`
}

func (p MintTokenPayload) Validate() error {
	if _, err := parseAddress("to", p.To); err != nil {
		return err
	}
	if strings.TrimSpace(p.TokenURI) == "" {
		return fmt.Errorf("%w: tokenURI is required", ErrInvalidPayload)
	}
	return nil
}

// ChipsPayload is shared by pay and earn. Amount is a base-10 integer.
type ChipsPayload struct {
	Player string `json:"player"`
	Amount string `json:"amount"`
}

func (p ChipsPayload) Validate() error {
	if _, err := parseAddress("player", p.Player); err != nil {
		return err
	}
	_, err := parseAmount(p.Amount)
	return err
}

type CrossChainNFTPayload struct {
	// SourceChain defaults to the home chain.
	SourceChain      string `json:"sourceChain,omitempty"`
	DestinationChain string `json:"destinationChain"`
	Receiver         string `json:"receiver"`
	TokenURI         string `json:"tokenURI"`
}

// WithDefaultSource returns p with an omitted source chain set to home.
func (p CrossChainNFTPayload) WithDefaultSource(home string) CrossChainNFTPayload {
	if strings.TrimSpace(p.SourceChain) == "" {
		p.SourceChain = strings.ToLower(home)
	}
	return p
}

func (p CrossChainNFTPayload) Validate() error {
	if strings.TrimSpace(p.DestinationChain) == "" {
		return fmt.Errorf("%w: destinationChain is required", ErrInvalidPayload)
	}
	if strings.EqualFold(p.SourceChain, p.DestinationChain) {
		return fmt.Errorf("%w: source and destination chain are both %q", ErrInvalidPayload, p.DestinationChain)
	}
	if _, err := parseAddress("receiver", p.Receiver); err != nil {
		return err
	}
	if strings.TrimSpace(p.TokenURI) == "" {
		return fmt.Errorf("%w: tokenURI is required", ErrInvalidPayload)
	}
	return nil
}

func parseAddress(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", ErrInvalidPayload, field, v)
	}
	return common.HexToAddress(v), nil
}

func parseAmount(v string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount %q", ErrInvalidPayload, v)
	}
	return amount, nil
}
