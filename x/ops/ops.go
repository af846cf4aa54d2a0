// Package ops implements the task handlers: each decodes its payload, builds
// the contract call and drives it through the broadcast engine.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/ssvlabs/chain-task-gateway/x/chain"
	"github.com/ssvlabs/chain-task-gateway/x/contracts"
	"github.com/ssvlabs/chain-task-gateway/x/worker"
)

// ErrInvalidPayload is returned for payloads that cannot be executed.
var ErrInvalidPayload = errors.New("invalid payload")

// Config holds contract addresses and the cross-chain selector of each chain.
type Config struct {
	Contracts contracts.Addresses `mapstructure:"contracts"       yaml:"contracts"`
	// ChainSelectors maps a chain tag to the bridge's destination selector.
	ChainSelectors map[string]uint64 `mapstructure:"chain_selectors" yaml:"chain_selectors"`
}

// Broadcaster sends calls on a chain by tag.
type Broadcaster interface {
	Broadcast(ctx context.Context, tag string, call chain.Call) (*types.Receipt, error)
	DefaultTag() string
}

// CrossChain resolves the destination receipt of a bridge message.
type CrossChain interface {
	MessageID(receipt *types.Receipt) (common.Hash, error)
	ResolveRemote(ctx context.Context, source *types.Receipt, destTag string) (*types.Receipt, error)
}

// Registrar accepts task handlers.
type Registrar interface {
	Handle(taskName string, h worker.Handler)
}

type Operations struct {
	chains    Broadcaster
	cross     CrossChain
	room      *contracts.GameRoomBinding
	token     *contracts.GameTokenBinding
	chips     *contracts.ChipsBinding
	bridges   map[string]*contracts.NFTBridgeBinding
	selectors map[string]uint64
	log       zerolog.Logger
}

func New(cfg Config, chains Broadcaster, cross CrossChain, log zerolog.Logger) (*Operations, error) {
	room, err := contracts.NewGameRoomBinding(cfg.Contracts.GameRoom)
	if err != nil {
		return nil, err
	}
	token, err := contracts.NewGameTokenBinding(cfg.Contracts.GameToken)
	if err != nil {
		return nil, err
	}
	chips, err := contracts.NewChipsBinding(cfg.Contracts.Chips)
	if err != nil {
		return nil, err
	}

	bridges := make(map[string]*contracts.NFTBridgeBinding, len(cfg.Contracts.NFTBridges))
	for tag, addr := range cfg.Contracts.NFTBridges {
		b, err := contracts.NewNFTBridgeBinding(addr)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", tag, err)
		}
		bridges[strings.ToLower(tag)] = b
	}

	selectors := make(map[string]uint64, len(cfg.ChainSelectors))
	for tag, sel := range cfg.ChainSelectors {
		selectors[strings.ToLower(tag)] = sel
	}

	return &Operations{
		chains:    chains,
		cross:     cross,
		room:      room,
		token:     token,
		chips:     chips,
		bridges:   bridges,
		selectors: selectors,
		log:       log.With().Str("component", "ops").Logger(),
	}, nil
}

// Register installs every handler on r.
func (o *Operations) Register(r Registrar) {
	r.Handle(TaskCreateRoom, o.CreateRoom)
	r.Handle(TaskMintToken, o.MintToken)
	r.Handle(TaskPayChips, o.PayChips)
	r.Handle(TaskEarnChips, o.EarnChips)
	r.Handle(TaskCreateCrossChainNFT, o.CreateCrossChainNFT)
}

func (o *Operations) CreateRoom(ctx context.Context, payload []byte) (*worker.Result, error) {
	var p CreateRoomPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	call, err := o.room.BuildCreateRoom(p.GameID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	receipt, err := o.send(ctx, o.chains.DefaultTag(), call)
	if err != nil {
		return nil, fmt.Errorf("createRoom %s: %w", p.GameID, err)
	}
	roomID, err := o.room.RoomID(receipt)
	if err != nil {
		return nil, fmt.Errorf("createRoom %s: %w", p.GameID, err)
	}

	return &worker.Result{
		Values: map[string]string{"roomId": roomID.String(), "gameId": p.GameID},
		TxHash: receipt.TxHash.Hex(),
	}, nil
}

func (o *Operations) MintToken(ctx context.Context, payload []byte) (*worker.Result, error) {
	var p MintTokenPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	to, err := parseAddress("to", p.To)
	if err != nil {
		return nil, err
	}
	call, err := o.token.BuildMint(to, p.TokenURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	receipt, err := o.send(ctx, o.chains.DefaultTag(), call)
	if err != nil {
		return nil, fmt.Errorf("mintToken: %w", err)
	}

	res := &worker.Result{Values: map[string]string{"to": to.Hex()}, TxHash: receipt.TxHash.Hex()}
	if id, err := o.token.TokenID(receipt); err == nil {
		res.Values["tokenId"] = id.String()
	} else {
		o.log.Warn().Err(err).Str("tx_hash", receipt.TxHash.Hex()).Msg("Minted token id not found in receipt")
	}
	return res, nil
}

func (o *Operations) PayChips(ctx context.Context, payload []byte) (*worker.Result, error) {
	return o.chipsOp(ctx, payload, "pay", o.chips.BuildPay)
}

func (o *Operations) EarnChips(ctx context.Context, payload []byte) (*worker.Result, error) {
	return o.chipsOp(ctx, payload, "earn", o.chips.BuildEarn)
}

func (o *Operations) chipsOp(
	ctx context.Context,
	payload []byte,
	name string,
	build func(common.Address, *big.Int) (chain.Call, error),
) (*worker.Result, error) {
	var p ChipsPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	player, err := parseAddress("player", p.Player)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, err
	}
	call, err := build(player, amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	receipt, err := o.send(ctx, o.chains.DefaultTag(), call)
	if err != nil {
		return nil, fmt.Errorf("%s chips: %w", name, err)
	}
	return &worker.Result{
		Values: map[string]string{"player": player.Hex(), "amount": amount.String()},
		TxHash: receipt.TxHash.Hex(),
	}, nil
}

// CreateCrossChainNFT sends the NFT through the source chain's bridge and
// waits for the message to execute on the destination chain. The task hash is
// the destination transaction.
func (o *Operations) CreateCrossChainNFT(ctx context.Context, payload []byte) (*worker.Result, error) {
	var p CrossChainNFTPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if o.cross == nil {
		return nil, fmt.Errorf("cross-chain delivery is not configured: %w", chain.ErrUnsupportedChain)
	}

	source := strings.ToLower(p.WithDefaultSource(o.chains.DefaultTag()).SourceChain)
	dest := strings.ToLower(p.DestinationChain)
	if dest == "" || dest == source {
		return nil, fmt.Errorf("%w: destination chain %q", ErrInvalidPayload, p.DestinationChain)
	}

	bridge, ok := o.bridges[source]
	if !ok {
		return nil, fmt.Errorf("no NFT bridge on %q: %w", source, chain.ErrUnsupportedChain)
	}
	selector, ok := o.selectors[dest]
	if !ok {
		return nil, fmt.Errorf("no chain selector for %q: %w", dest, chain.ErrUnsupportedChain)
	}
	receiver, err := parseAddress("receiver", p.Receiver)
	if err != nil {
		return nil, err
	}
	call, err := bridge.BuildSendNFT(selector, receiver, p.TokenURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	sourceReceipt, err := o.send(ctx, source, call)
	if err != nil {
		return nil, fmt.Errorf("sendNFT on %s: %w", source, err)
	}

	messageID, err := o.cross.MessageID(sourceReceipt)
	if err != nil {
		return nil, fmt.Errorf("sendNFT tx %s: %w", sourceReceipt.TxHash.Hex(), err)
	}
	o.log.Info().
		Str("source_tx", sourceReceipt.TxHash.Hex()).
		Str("message_id", messageID.Hex()).
		Str("dest_chain", dest).
		Msg("NFT sent, awaiting delivery")

	destReceipt, err := o.cross.ResolveRemote(ctx, sourceReceipt, dest)
	if err != nil {
		return nil, fmt.Errorf("deliver message %s to %s (source tx %s): %w",
			messageID.Hex(), dest, sourceReceipt.TxHash.Hex(), err)
	}
	if err := chain.CheckReceipt(destReceipt); err != nil {
		return nil, fmt.Errorf("destination %s: %w", dest, err)
	}

	return &worker.Result{
		Values: map[string]string{
			"messageId":    messageID.Hex(),
			"sourceTxHash": sourceReceipt.TxHash.Hex(),
			"destChain":    dest,
		},
		TxHash: destReceipt.TxHash.Hex(),
	}, nil
}

// send broadcasts call and treats a reverted receipt as a failure.
func (o *Operations) send(ctx context.Context, tag string, call chain.Call) (*types.Receipt, error) {
	receipt, err := o.chains.Broadcast(ctx, tag, call)
	if err != nil {
		return nil, err
	}
	if err := chain.CheckReceipt(receipt); err != nil {
		return nil, err
	}
	return receipt, nil
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
