package contracts

import (
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ssvlabs/chain-task-gateway/x/chain"
)

//go:embed abi/game_room.json
var gameRoomABIJSON string

// GameRoomBinding encodes createRoom calls and reads RoomCreated events.
type GameRoomBinding struct {
	binding
}

func NewGameRoomBinding(contractAddr string) (*GameRoomBinding, error) {
	b, err := newBinding("GameRoom", contractAddr, gameRoomABIJSON)
	if err != nil {
		return nil, err
	}
	return &GameRoomBinding{binding: b}, nil
}

func (b *GameRoomBinding) BuildCreateRoom(gameID string) (chain.Call, error) {
	if gameID == "" {
		return chain.Call{}, fmt.Errorf("game id is empty")
	}
	return b.call("createRoom", gameID)
}

// RoomID returns the room created by the transaction of r.
func (b *GameRoomBinding) RoomID(r *types.Receipt) (*big.Int, error) {
	lg, err := b.findLog(r, "RoomCreated")
	if err != nil {
		return nil, err
	}
	if len(lg.Topics) < 2 {
		return nil, fmt.Errorf("RoomCreated: missing roomId topic")
	}
	return new(big.Int).SetBytes(lg.Topics[1].Bytes()), nil
}
