//go:build !no_entrypoint

package program

import (
	"context"
	"math/big"
	"testing"

	"github.com/bnb-chain/hostevm/core/executor"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/bnb-chain/hostevm/core/types"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey, _ = crypto.HexToECDSA("8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a")
	testAddr   = crypto.PubkeyToAddress(testKey.PublicKey)
	operator   = host.Pubkey{0x0e}
	stranger   = host.Pubkey{0x0f}
	loopAddr   = common.HexToAddress("0x2001")

	// loopCode counts down from ten and then stores 42 in slot 0.
	loopCode = common.FromHex("600a5b6001900380600257602a60005500")
)

type processorEnv struct {
	t  *testing.T
	db *host.Database
	p  *Processor
}

func newProcessorEnv(t *testing.T, halt bool) *processorEnv {
	db := host.NewDatabase(memorydb.New(), 1)
	require.NoError(t, db.PutAccount(operator, host.NewAccount(10_000_000_000, host.SystemProgramID, nil)))
	p := NewProcessor(Config{
		Executor:      executor.Config{ChainConfig: params.CIChainConfig},
		EmergencyHalt: halt,
	}, db, host.NewRuntime())
	return &processorEnv{t: t, db: db, p: p}
}

func (env *processorEnv) process(ix Instruction, signers ...host.Pubkey) (*Result, error) {
	data, err := Encode(ix)
	require.NoError(env.t, err)
	return env.p.Process(context.Background(), &Invocation{Data: data, Signers: signers, Slot: 7, Time: 1700000000})
}

func (env *processorEnv) mustProcess(ix Instruction, signers ...host.Pubkey) *Result {
	res, err := env.process(ix, signers...)
	require.NoError(env.t, err, ix.Tag().String())
	return res
}

func (env *processorEnv) rawTx(nonce uint64, to *common.Address, value int64) []byte {
	tx, err := gethtypes.SignNewTx(testKey, gethtypes.LatestSignerForChainID(params.CIChainConfig.ChainID), &gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    big.NewInt(value),
		Gas:      200000,
		GasPrice: big.NewInt(1),
	})
	require.NoError(env.t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(env.t, err)
	return raw
}

func (env *processorEnv) state() *state.StateDB {
	return state.New(state.NewProjection(env.p.ProgramID(), env.db))
}

func (env *processorEnv) lamports(key host.Pubkey) uint64 {
	cell, err := env.db.GetAccount(key)
	require.NoError(env.t, err)
	if cell == nil {
		return 0
	}
	return cell.Lamports
}

func (env *processorEnv) fund() {
	env.mustProcess(&Deposit{Address: testAddr, Lamports: 1_000_000_000}, operator)
	require.NoError(env.t, state.NewProjection(env.p.ProgramID(), env.db).Create(loopAddr, &state.Account{Nonce: 1, Code: loopCode}))
}

func TestEmergencyHalt(t *testing.T) {
	env := newProcessorEnv(t, true)
	assert.True(t, env.p.Halted())

	_, err := env.process(&Deposit{Address: testAddr, Lamports: 1}, operator)
	assert.ErrorIs(t, err, ErrEmergencyHalt)
	assert.EqualError(t, err, "program is in emergency halt mode")

	_, err = env.p.Process(context.Background(), &Invocation{Data: []byte{0xff}})
	assert.ErrorIs(t, err, ErrEmergencyHalt)
	assert.Equal(t, uint64(10_000_000_000), env.lamports(operator))
}

func TestCreateAccount(t *testing.T) {
	env := newProcessorEnv(t, false)
	env.mustProcess(&CreateAccount{Address: testAddr})

	cell, err := env.db.GetAccount(state.DeriveBinding(env.p.ProgramID(), testAddr))
	require.NoError(t, err)
	require.NotNil(t, cell)
	assert.Equal(t, env.p.ProgramID(), cell.Owner)
	assert.True(t, env.state().Exist(testAddr))
}

func TestDeposit(t *testing.T) {
	env := newProcessorEnv(t, false)
	env.mustProcess(&Deposit{Address: testAddr, Lamports: 4}, operator)

	assert.Equal(t, uint64(10_000_000_000-4), env.lamports(operator))
	assert.Equal(t, uint64(4), env.lamports(state.DeriveBinding(env.p.ProgramID(), testAddr)))
	want := new(uint256.Int).Mul(uint256.NewInt(4), uint256.NewInt(params.LamportsToWeiFactor))
	assert.True(t, env.state().GetBalance(testAddr).Eq(want))

	_, err := env.process(&Deposit{Address: testAddr, Lamports: 4})
	assert.ErrorIs(t, err, host.ErrMissingSigner)

	_, err = env.process(&Deposit{Address: testAddr, Lamports: 4}, stranger)
	assert.ErrorIs(t, err, host.ErrInsufficientFund)
	assert.True(t, env.state().GetBalance(testAddr).Eq(want), "failed deposit leaves no trace")
}

func TestExecuteTx(t *testing.T) {
	env := newProcessorEnv(t, false)
	env.fund()

	res := env.mustProcess(&ExecuteTx{Tx: env.rawTx(0, &loopAddr, 0)}, operator)
	assert.Equal(t, types.StatusStopped, res.Status)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, testAddr, res.Receipt.From)

	sdb := env.state()
	assert.Equal(t, common.BigToHash(big.NewInt(42)), sdb.GetState(loopAddr, common.Hash{}))
	assert.Equal(t, uint64(1), sdb.GetNonce(testAddr))

	_, err := env.process(&ExecuteTx{Tx: env.rawTx(0, &loopAddr, 0)}, operator)
	assert.ErrorIs(t, err, executor.ErrNonceTooLow)

	_, err = env.process(&ExecuteTx{Tx: []byte{0x01, 0x02}}, operator)
	assert.Error(t, err)
}

func TestStepTxAndCancel(t *testing.T) {
	env := newProcessorEnv(t, false)
	env.fund()

	raw := env.rawTx(0, &loopAddr, 0)
	res := env.mustProcess(&StepTx{StepLimit: 20, Tx: raw}, operator)
	require.Equal(t, executor.StatusYield, res.Status)
	assert.Equal(t, uint64(1), res.Marker)
	assert.Equal(t, uint64(20), res.Steps)

	res = env.mustProcess(&StepTx{StepLimit: 20, Marker: res.Marker, Tx: raw}, operator)
	require.Equal(t, executor.StatusYield, res.Status)
	assert.Equal(t, uint64(2), res.Marker)

	_, err := env.process(&StepTx{StepLimit: 20, Marker: 1, Tx: raw}, operator)
	assert.ErrorIs(t, err, executor.ErrMarkerMismatch)

	tx, err := types.DecodeTransaction(raw)
	require.NoError(t, err)
	env.mustProcess(&Cancel{TxHash: tx.Hash()}, operator)
	assert.Equal(t, uint64(1), env.state().GetNonce(testAddr))
	assert.Equal(t, common.Hash{}, env.state().GetState(loopAddr, common.Hash{}))

	_, err = env.process(&Cancel{TxHash: tx.Hash()}, operator)
	assert.ErrorIs(t, err, executor.ErrNoSnapshot)
}

func TestHolderExecution(t *testing.T) {
	env := newProcessorEnv(t, false)
	env.fund()
	seed := common.HexToHash("0x5eed")
	raw := env.rawTx(0, &loopAddr, 0)

	env.mustProcess(&HolderCreate{Seed: seed}, operator)
	_, err := env.process(&HolderCreate{Seed: seed}, operator)
	assert.ErrorIs(t, err, ErrHolderExists)

	// Chunks may arrive out of order.
	half := len(raw) / 2
	env.mustProcess(&HolderWrite{Seed: seed, Offset: uint32(half), Data: raw[half:]}, operator)
	env.mustProcess(&HolderWrite{Seed: seed, Offset: 0, Data: raw[:half]}, operator)

	h, err := LoadHolder(env.db, env.p.ProgramID(), env.p.HolderAddress(operator, seed))
	require.NoError(t, err)
	assert.Equal(t, operator, h.Owner)
	assert.Equal(t, raw, h.Data)

	// Another signer addresses its own, missing, holder.
	_, err = env.process(&ExecuteTxFromHolder{Seed: seed}, stranger)
	assert.ErrorIs(t, err, ErrHolderNotFound)

	_, err = env.process(&HolderWrite{Seed: seed, Offset: params.MaxHolderSize, Data: []byte{1}}, operator)
	assert.ErrorIs(t, err, ErrHolderTooLarge)

	res := env.mustProcess(&StepTxFromHolder{StepLimit: 10, Seed: seed}, operator)
	require.Equal(t, executor.StatusYield, res.Status)
	for res.Status == executor.StatusYield {
		res = env.mustProcess(&StepTxFromHolder{StepLimit: 10, Marker: res.Marker, Seed: seed}, operator)
	}
	assert.Equal(t, types.StatusStopped, res.Status)
	assert.Equal(t, common.BigToHash(big.NewInt(42)), env.state().GetState(loopAddr, common.Hash{}))
}

func TestHolderWrongOwner(t *testing.T) {
	env := newProcessorEnv(t, false)
	seed := common.HexToHash("0x01")
	key := env.p.HolderAddress(operator, seed)
	require.NoError(t, storeHolder(env.db, env.p.ProgramID(), key, &Holder{Owner: stranger}))

	_, err := env.process(&HolderWrite{Seed: seed, Data: []byte{1}}, operator)
	assert.ErrorIs(t, err, ErrHolderOwner)
}

func TestHolderAddress(t *testing.T) {
	program := host.Pubkey(params.CIChainConfig.ProgramID)
	a := HolderAddress(program, operator, common.Hash{1})
	assert.Equal(t, a, HolderAddress(program, operator, common.Hash{1}))
	assert.NotEqual(t, a, HolderAddress(program, stranger, common.Hash{1}))
	assert.NotEqual(t, a, HolderAddress(program, operator, common.Hash{2}))
}
