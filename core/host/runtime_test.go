package host

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemTransfer(t *testing.T) {
	store := NewMemoryStorage()
	from, to := BytesToPubkey([]byte{1}), BytesToPubkey([]byte{2})
	require.NoError(t, store.PutAccount(from, NewAccount(1000, SystemProgramID, nil)))

	rt := NewRuntime()
	require.NoError(t, rt.Invoke(store, NewTransferInstruction(from, to, 300), []Pubkey{from}))

	src, _ := store.GetAccount(from)
	dst, _ := store.GetAccount(to)
	assert.Equal(t, uint64(700), src.Lamports)
	assert.Equal(t, uint64(300), dst.Lamports)

	err := rt.Invoke(store, NewTransferInstruction(from, to, 1), nil)
	assert.ErrorIs(t, err, ErrMissingSigner)

	err = rt.Invoke(store, NewTransferInstruction(from, to, 5000), []Pubkey{from})
	assert.ErrorIs(t, err, ErrInsufficientFund)
}

func TestSystemCreateAccount(t *testing.T) {
	store := NewMemoryStorage()
	funder, fresh := BytesToPubkey([]byte{1}), BytesToPubkey([]byte{2})
	require.NoError(t, store.PutAccount(funder, NewAccount(1000, SystemProgramID, nil)))

	rt := NewRuntime()
	ix := NewCreateAccountInstruction(funder, fresh, 10, 64, testProgram)
	require.NoError(t, rt.Invoke(store, ix, []Pubkey{funder, fresh}))

	acc, _ := store.GetAccount(fresh)
	assert.Equal(t, testProgram, acc.Owner)
	assert.Len(t, acc.Data, 64)

	err := rt.Invoke(store, ix, []Pubkey{funder, fresh})
	assert.ErrorIs(t, err, ErrAccountInUse)
}

func TestRuntimeUnknownProgram(t *testing.T) {
	rt := NewRuntime()
	err := rt.Invoke(NewMemoryStorage(), &Instruction{ProgramID: testProgram}, nil)
	assert.ErrorIs(t, err, ErrUnknownProgram)
}

func TestRecordingInvoker(t *testing.T) {
	store := NewMemoryStorage()
	from := BytesToPubkey([]byte{1})
	require.NoError(t, store.PutAccount(from, NewAccount(10, SystemProgramID, nil)))

	failure := errors.New("boom")
	rec := &RecordingInvoker{Next: NewRuntime(), Fail: failure}
	err := rec.Invoke(store, NewTransferInstruction(from, testProgram, 1), []Pubkey{from})
	assert.Equal(t, failure, err)
	require.Len(t, rec.Calls, 1)
	assert.Equal(t, uint64(10), rec.Calls[0].Cells[from].Lamports)

	rec.Fail = nil
	require.NoError(t, rec.Invoke(store, NewTransferInstruction(from, testProgram, 1), []Pubkey{from}))
	acc, _ := store.GetAccount(from)
	assert.Equal(t, uint64(9), acc.Lamports)
}
