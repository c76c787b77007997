package state

import (
	"testing"

	"github.com/bnb-chain/hostevm/core/host"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
	slot1 = common.HexToHash("0x01")
	val1  = common.HexToHash("0x1111")
	val2  = common.HexToHash("0x2222")
)

func newTestStateDB(t *testing.T) *StateDB {
	proj, _ := newTestProjection()
	require.NoError(t, proj.Create(alice, &Account{Balance: uint256.NewInt(1000), Nonce: 1}))
	return New(NewProjection(testProgram, proj.Store()))
}

func TestSubstateRevert(t *testing.T) {
	s := newTestStateDB(t)
	s.SetState(alice, slot1, val1)

	id := s.Snapshot()
	s.SetState(alice, slot1, val2)
	s.AddBalance(bob, uint256.NewInt(5))
	s.AddRefund(100)
	s.AddLog(&gethtypes.Log{Address: alice})
	assert.Equal(t, val2, s.GetState(alice, slot1))
	assert.True(t, s.Exist(bob))

	s.RevertToSnapshot(id)
	assert.Equal(t, val1, s.GetState(alice, slot1))
	assert.False(t, s.Exist(bob))
	assert.Zero(t, s.GetRefund())
	assert.Empty(t, s.Logs())
	assert.Equal(t, 1, s.Depth())
}

func TestSubstateMerge(t *testing.T) {
	s := newTestStateDB(t)
	outer := s.Snapshot()
	s.SubBalance(alice, uint256.NewInt(10))
	inner := s.Snapshot()
	s.AddBalance(bob, uint256.NewInt(10))
	s.SetState(bob, slot1, val1)

	s.DiscardSnapshot(inner)
	assert.Equal(t, 2, s.Depth())
	assert.Equal(t, uint64(10), s.GetBalance(bob).Uint64())

	// Reverting the outer frame undoes the merged inner writes too.
	s.RevertToSnapshot(outer)
	assert.Equal(t, uint64(1000), s.GetBalance(alice).Uint64())
	assert.Equal(t, common.Hash{}, s.GetState(bob, slot1))
}

func TestCommitAndReload(t *testing.T) {
	s := newTestStateDB(t)
	s.SetNonce(alice, 2)
	s.SubBalance(alice, uint256.NewInt(100))
	s.AddBalance(bob, uint256.NewInt(100))
	s.SetState(bob, slot1, val1)
	s.SetCode(bob, []byte{0x00})
	require.NoError(t, s.Commit())

	fresh := New(NewProjection(testProgram, s.Projection().Store()))
	assert.Equal(t, uint64(2), fresh.GetNonce(alice))
	assert.Equal(t, uint64(900), fresh.GetBalance(alice).Uint64())
	assert.Equal(t, uint64(100), fresh.GetBalance(bob).Uint64())
	assert.Equal(t, val1, fresh.GetCommittedState(bob, slot1))
	assert.Equal(t, []byte{0x00}, fresh.GetCode(bob))
	assert.NotEqual(t, common.Hash{}, fresh.GetCodeHash(bob))
	assert.Equal(t, common.Hash{}, fresh.GetCodeHash(common.HexToAddress("0xdead")))
}

func TestCommitSkipsEmptyTouched(t *testing.T) {
	s := newTestStateDB(t)
	ghost := common.HexToAddress("0x6405")
	s.AddBalance(ghost, new(uint256.Int))
	require.NoError(t, s.Commit())

	acc, err := s.Projection().Load(ghost)
	require.NoError(t, err)
	assert.False(t, acc.Exists)
}

func TestSelfDestructWipesStorage(t *testing.T) {
	s := newTestStateDB(t)
	s.SetState(alice, slot1, val1)
	require.NoError(t, s.Commit())

	s.SelfDestruct(alice)
	assert.True(t, s.HasSelfDestructed(alice))
	assert.True(t, s.Exist(alice), "destructed accounts exist until the end of the transaction")
	assert.True(t, s.GetBalance(alice).IsZero())
	require.NoError(t, s.Commit())

	fresh := New(NewProjection(testProgram, s.Projection().Store()))
	assert.Equal(t, common.Hash{}, fresh.GetState(alice, slot1))
	assert.Zero(t, fresh.GetNonce(alice))
	acc, _ := fresh.Projection().Load(alice)
	assert.Equal(t, uint32(1), acc.Generation)
	assert.False(t, acc.Exists, "destructed accounts are removed")
	assert.False(t, fresh.Exist(alice))

	// A new account at the same address starts with empty storage.
	fresh.AddBalance(alice, uint256.NewInt(7))
	require.NoError(t, fresh.Commit())
	again := New(NewProjection(testProgram, s.Projection().Store()))
	assert.True(t, again.Exist(alice))
	assert.Equal(t, uint64(7), again.GetBalance(alice).Uint64())
	assert.Equal(t, common.Hash{}, again.GetState(alice, slot1))
}

func TestCommitRemovesEmptyTouched(t *testing.T) {
	s := newTestStateDB(t)
	s.SetState(alice, slot1, val1)
	require.NoError(t, s.Commit())

	// Drain alice: no nonce, balance or code left.
	s.SetNonce(alice, 0)
	s.SubBalance(alice, uint256.NewInt(1000))
	require.NoError(t, s.Commit())

	acc, err := s.Projection().Load(alice)
	require.NoError(t, err)
	assert.False(t, acc.Exists)
	assert.Equal(t, uint32(1), acc.Generation)

	fresh := New(NewProjection(testProgram, s.Projection().Store()))
	assert.False(t, fresh.Exist(alice))
	assert.Equal(t, common.Hash{}, fresh.GetState(alice, slot1))

	// Removed accounts can be materialized again.
	require.NoError(t, fresh.Projection().Create(alice, &Account{Nonce: 1}))
	acc, err = fresh.Projection().Load(alice)
	require.NoError(t, err)
	assert.True(t, acc.Exists)
	assert.Equal(t, uint32(1), acc.Generation)
}

func TestCreateAccountResetsStorage(t *testing.T) {
	s := newTestStateDB(t)
	s.SetState(bob, slot1, val1)
	s.AddBalance(bob, uint256.NewInt(3))
	id := s.Snapshot()
	s.CreateAccount(bob)
	assert.Equal(t, common.Hash{}, s.GetState(bob, slot1))
	assert.Equal(t, uint64(3), s.GetBalance(bob).Uint64(), "balance survives re-creation")
	s.RevertToSnapshot(id)
	assert.Equal(t, val1, s.GetState(bob, slot1))
}

func TestTransientStorage(t *testing.T) {
	s := newTestStateDB(t)
	s.SetTransientState(alice, slot1, val1)
	id := s.Snapshot()
	s.SetTransientState(alice, slot1, val2)
	assert.Equal(t, val2, s.GetTransientState(alice, slot1))
	s.RevertToSnapshot(id)
	assert.Equal(t, val1, s.GetTransientState(alice, slot1))
}

func TestOverlayEncodeDecode(t *testing.T) {
	s := newTestStateDB(t)
	s.SetState(alice, slot1, val1)
	s.AddRefund(42)
	s.Snapshot()
	s.AddBalance(bob, uint256.NewInt(7))
	s.SetCode(bob, []byte{1, 2, 3})
	s.SetTransientState(bob, slot1, val2)
	s.AddLog(&gethtypes.Log{Address: bob, Topics: []common.Hash{val1}, Data: []byte{9}})
	s.Snapshot()
	s.CreateAccount(common.HexToAddress("0xc0de"))

	blob, err := s.Encode()
	require.NoError(t, err)

	dec, err := Decode(NewProjection(testProgram, s.Projection().Store()), blob)
	require.NoError(t, err)
	assert.Equal(t, s.Depth(), dec.Depth())
	assert.Equal(t, uint64(42), dec.GetRefund())
	assert.Equal(t, val1, dec.GetState(alice, slot1))
	assert.Equal(t, uint64(7), dec.GetBalance(bob).Uint64())
	assert.Equal(t, []byte{1, 2, 3}, dec.GetCode(bob))
	assert.Equal(t, val2, dec.GetTransientState(bob, slot1))
	assert.Len(t, dec.Logs(), 1)
	assert.True(t, dec.Exist(common.HexToAddress("0xc0de")))

	again, err := dec.Encode()
	require.NoError(t, err)
	assert.Equal(t, blob, again, "encoding is deterministic")

	// Reverting the restored overlay behaves like reverting the original.
	dec.RevertToSnapshot(1)
	assert.Empty(t, dec.Logs())
	assert.False(t, dec.Exist(bob))
}

func TestWithdrawalsFollowSubstates(t *testing.T) {
	s := newTestStateDB(t)
	store := s.Projection().Store()
	binding := s.Projection().DeriveBinding(alice)
	cell, err := store.GetAccount(binding)
	require.NoError(t, err)
	cell.Lamports = 10
	require.NoError(t, store.PutAccount(binding, cell))

	dest := host.BytesToPubkey([]byte{0xd0})
	s.Withdraw(alice, dest, 3)
	id := s.Snapshot()
	s.Withdraw(alice, dest, 4)
	assert.Equal(t, uint64(7), s.Withdrawn(alice))
	assert.Zero(t, s.Withdrawn(bob))
	s.RevertToSnapshot(id)
	assert.Equal(t, uint64(3), s.Withdrawn(alice))

	id = s.Snapshot()
	s.Withdraw(alice, dest, 2)
	s.DiscardSnapshot(id)
	require.Len(t, s.Withdrawals(), 2)

	// Withdrawals survive a suspended overlay.
	blob, err := s.Encode()
	require.NoError(t, err)
	dec, err := Decode(NewProjection(testProgram, store), blob)
	require.NoError(t, err)
	assert.Equal(t, s.Withdrawals(), dec.Withdrawals())

	require.NoError(t, dec.Commit())
	cell, err = store.GetAccount(binding)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cell.Lamports)
	paid, err := store.GetAccount(dest)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), paid.Lamports)
	assert.Empty(t, dec.Withdrawals())

	// The record in the binding cell is untouched by the payout.
	acc, err := dec.Projection().Load(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), acc.Balance.Uint64())
}

func TestWithdrawalBeyondLamportsFailsCommit(t *testing.T) {
	s := newTestStateDB(t)
	s.Withdraw(alice, host.BytesToPubkey([]byte{0xd0}), 1)
	require.ErrorIs(t, s.Commit(), host.ErrInsufficientFund)
}
