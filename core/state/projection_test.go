package state

import (
	"testing"

	"github.com/bnb-chain/hostevm/core/host"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgram = host.BytesToPubkey([]byte("hostevm-test-program"))

func newTestProjection() (*Projection, *host.MemoryStorage) {
	store := host.NewMemoryStorage()
	return NewProjection(testProgram, store), store
}

func TestDeriveBindingPure(t *testing.T) {
	addr := common.HexToAddress("0xabc")
	a := DeriveBinding(testProgram, addr)
	b := DeriveBinding(testProgram, addr)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, DeriveBinding(testProgram, common.HexToAddress("0xabd")))
	assert.NotEqual(t, a, DeriveBinding(host.BytesToPubkey([]byte{1}), addr))

	proj, _ := newTestProjection()
	assert.Equal(t, a, proj.DeriveBinding(addr))
}

func TestProjectionLoadMissing(t *testing.T) {
	proj, _ := newTestProjection()
	acc, err := proj.Load(common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.False(t, acc.Exists)
	assert.True(t, acc.Empty())
}

func TestProjectionCreateCommit(t *testing.T) {
	proj, store := newTestProjection()
	addr := common.HexToAddress("0x01")

	require.NoError(t, proj.Create(addr, &Account{Balance: uint256.NewInt(50), Nonce: 1}))
	assert.ErrorIs(t, proj.Create(addr, nil), ErrAccountExists)

	acc, err := proj.Load(addr)
	require.NoError(t, err)
	assert.True(t, acc.Exists)
	assert.Equal(t, uint64(50), acc.Balance.Uint64())

	acc.Code = []byte{0x60, 0x00}
	slots := map[common.Hash]common.Hash{
		common.HexToHash("0x01"):  common.HexToHash("0xaa"),
		common.HexToHash("0x02"):  common.HexToHash("0xbb"),
		common.HexToHash("0x101"): common.HexToHash("0xcc"),
	}
	require.NoError(t, proj.Commit(acc, slots))
	// One record cell and two storage cells (groups 0x00 and 0x100).
	assert.Equal(t, 3, store.Len())

	for key, want := range slots {
		have, err := proj.LoadStorage(addr, 0, key)
		require.NoError(t, err)
		assert.Equal(t, want, have)
	}
	// Another generation sees nothing.
	have, err := proj.LoadStorage(addr, 1, common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, have)

	// Clearing every slot of a group removes its cell.
	require.NoError(t, proj.Commit(acc, map[common.Hash]common.Hash{common.HexToHash("0x101"): {}}))
	assert.Equal(t, 2, store.Len())
}

func TestProjectionForeignCell(t *testing.T) {
	proj, store := newTestProjection()
	addr := common.HexToAddress("0x02")
	key := proj.DeriveBinding(addr)
	require.NoError(t, store.PutAccount(key, host.NewAccount(1, host.BytesToPubkey([]byte{9}), []byte{1})))

	_, err := proj.Load(addr)
	assert.ErrorIs(t, err, ErrForeignCell)
}

func TestProjectionKeepsLamports(t *testing.T) {
	proj, store := newTestProjection()
	addr := common.HexToAddress("0x03")
	key := proj.DeriveBinding(addr)
	require.NoError(t, store.PutAccount(key, host.NewAccount(77, host.SystemProgramID, nil)))

	acc, err := proj.Load(addr)
	require.NoError(t, err)
	assert.False(t, acc.Exists, "lamports alone do not make an EVM account")

	acc.Nonce = 1
	require.NoError(t, proj.Commit(acc, nil))
	cell, _ := store.GetAccount(key)
	assert.Equal(t, uint64(77), cell.Lamports)
	assert.Equal(t, testProgram, cell.Owner)
}

func TestProjectionVerify(t *testing.T) {
	proj, _ := newTestProjection()
	addr := common.HexToAddress("0x04")
	require.NoError(t, proj.Create(addr, &Account{Balance: uint256.NewInt(1)}))

	reader := NewProjection(testProgram, proj.Store())
	_, err := reader.Load(addr)
	require.NoError(t, err)
	reads := reader.Reads()
	require.Len(t, reads, 1)

	again := NewProjection(testProgram, proj.Store())
	require.NoError(t, again.Verify(reads))

	acc, _ := proj.Load(addr)
	acc.Nonce++
	require.NoError(t, proj.Commit(acc, nil))
	assert.ErrorIs(t, again.Verify(reads), ErrStateChanged)
}
