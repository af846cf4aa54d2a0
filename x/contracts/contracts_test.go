package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	roomAddr   = "0x1000000000000000000000000000000000000001"
	tokenAddr  = "0x2000000000000000000000000000000000000002"
	chipsAddr  = "0x3000000000000000000000000000000000000003"
	bridgeAddr = "0x4000000000000000000000000000000000000004"
)

func TestNewBinding_Validation(t *testing.T) {
	_, err := NewGameRoomBinding("")
	require.Error(t, err)
	_, err = NewGameRoomBinding("not-an-address")
	require.Error(t, err)
}

func TestGameRoomBinding(t *testing.T) {
	b, err := NewGameRoomBinding(roomAddr)
	require.NoError(t, err)

	call, err := b.BuildCreateRoom("g1")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(roomAddr), call.To)
	assert.Equal(t, crypto.Keccak256([]byte("createRoom(string)"))[:4], call.Data[:4])

	args, err := b.ABI().Methods["createRoom"].Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, "g1", args[0])

	_, err = b.BuildCreateRoom("")
	require.Error(t, err)

	receipt := &types.Receipt{Logs: []*types.Log{
		{Address: common.HexToAddress(tokenAddr), Topics: []common.Hash{b.ABI().Events["RoomCreated"].ID, common.BigToHash(big.NewInt(1))}},
		{Address: b.Address(), Topics: []common.Hash{b.ABI().Events["RoomCreated"].ID, common.BigToHash(big.NewInt(42)), {}}},
	}}
	id, err := b.RoomID(receipt)
	require.NoError(t, err)
	assert.Equal(t, "42", id.String())

	_, err = b.RoomID(&types.Receipt{})
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestGameTokenBinding(t *testing.T) {
	b, err := NewGameTokenBinding(tokenAddr)
	require.NoError(t, err)

	to := common.HexToAddress("0xabc0000000000000000000000000000000000abc")
	call, err := b.BuildMint(to, "ipfs://token")
	require.NoError(t, err)
	args, err := b.ABI().Methods["mint"].Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, to, args[0])
	assert.Equal(t, "ipfs://token", args[1])

	_, err = b.BuildMint(common.Address{}, "x")
	require.Error(t, err)

	transfer := crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	receipt := &types.Receipt{Logs: []*types.Log{{
		Address: b.Address(),
		Topics:  []common.Hash{transfer, {}, common.BytesToHash(to.Bytes()), common.BigToHash(big.NewInt(7))},
	}}}
	id, err := b.TokenID(receipt)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id.Int64())
}

func TestChipsBinding(t *testing.T) {
	b, err := NewChipsBinding(chipsAddr)
	require.NoError(t, err)

	player := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	pay, err := b.BuildPay(player, big.NewInt(100))
	require.NoError(t, err)
	earn, err := b.BuildEarn(player, big.NewInt(100))
	require.NoError(t, err)
	assert.NotEqual(t, pay.Data[:4], earn.Data[:4])

	_, err = b.BuildPay(player, big.NewInt(0))
	require.Error(t, err)
	_, err = b.BuildEarn(player, nil)
	require.Error(t, err)
}

func TestNFTBridgeBinding(t *testing.T) {
	b, err := NewNFTBridgeBinding(bridgeAddr)
	require.NoError(t, err)

	receiver := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	call, err := b.BuildSendNFT(16015286601757825753, receiver, "ipfs://nft")
	require.NoError(t, err)
	args, err := b.ABI().Methods["sendNFT"].Inputs.Unpack(call.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, uint64(16015286601757825753), args[0])

	ev, err := ParseMessageSentEvent()
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash([]byte("MessageSent(bytes32,uint64,address,string)")), ev.ID)
}
