package vm

import (
	"math/big"
	"testing"

	"github.com/bnb-chain/hostevm/core/arena"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/bnb-chain/hostevm/core/types"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	testProgram = host.Pubkey(params.CIChainConfig.ProgramID)
	testOrigin  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	contractA   = common.HexToAddress("0xaaaa")
	contractB   = common.HexToAddress("0xbbbb")
)

func newTestState(store host.Storage) *state.StateDB {
	return state.New(state.NewProjection(testProgram, store))
}

func newTestEVM(statedb StateDB, config Config) *EVM {
	blockCtx := BlockContext{
		CanTransfer: CanTransfer,
		Transfer:    Transfer,
		GetHash:     func(uint64) common.Hash { return common.Hash{} },
		BlockNumber: big.NewInt(1),
		Difficulty:  new(big.Int),
		GasLimit:    30_000_000,
	}
	return NewEVM(blockCtx, TxContext{Origin: testOrigin, GasPrice: big.NewInt(1)}, statedb, params.CIChainConfig, config)
}

// callCode returns the code of a CALL to addr, forwarding all remaining gas
// and discarding the return data.
func callCode(addr common.Address, value byte) []byte {
	code := []byte{
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
		byte(PUSH1), value,
		byte(PUSH20),
	}
	code = append(code, addr.Bytes()...)
	return append(code, byte(GAS), byte(CALL))
}

func TestDeployAndCallStop(t *testing.T) {
	var (
		statedb = newTestState(host.NewMemoryStorage())
		// Returns the two byte runtime code 60 00.
		initCode = common.FromHex("6160006000526002601ef3")
	)
	evm := newTestEVM(statedb, Config{})
	addr := evm.BeginCreate(testOrigin, initCode, 1_000_000, new(uint256.Int))
	done, err := evm.Run(0)
	require.True(t, done)
	require.NoError(t, err)

	res := evm.Result()
	require.NoError(t, res.Err)
	require.Equal(t, addr, res.ContractAddress)
	require.Equal(t, []byte{0x60, 0x00}, statedb.GetCode(addr))
	require.Equal(t, uint64(1), statedb.GetNonce(testOrigin))
	require.Equal(t, uint64(1), statedb.GetNonce(addr))

	evm = newTestEVM(statedb, Config{})
	evm.BeginCall(testOrigin, addr, nil, 100_000, new(uint256.Int))
	done, err = evm.Run(0)
	require.True(t, done)
	require.NoError(t, err)

	res = evm.Result()
	require.NoError(t, res.Err)
	require.Empty(t, res.ReturnData)
	require.Equal(t, STOP, res.Halt)
	require.Equal(t, types.StatusStopped, StatusOf(res.Err, res.Halt))
	require.Equal(t, uint64(100_000-3), res.LeftOverGas)
	require.True(t, statedb.GetBalance(addr).IsZero())
}

func TestCallGasCap(t *testing.T) {
	statedb := newTestState(host.NewMemoryStorage())

	// B returns the gas it observed.
	statedb.SetCode(contractB, common.FromHex("5a60005260206000f3"))

	// A calls B with 5000 gas and returns B's answer.
	code := []byte{byte(PUSH1), 0x20, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH20)}
	code = append(code, contractB.Bytes()...)
	code = append(code, byte(PUSH2), 0x13, 0x88, byte(CALL), byte(POP), byte(PUSH1), 0x20, byte(PUSH1), 0, byte(RETURN))
	statedb.SetCode(contractA, code)

	evm := newTestEVM(statedb, Config{})
	evm.BeginCall(testOrigin, contractA, nil, 100_000, new(uint256.Int))
	_, err := evm.Run(0)
	require.NoError(t, err)

	res := evm.Result()
	require.NoError(t, res.Err)
	require.Equal(t, RETURN, res.Halt)
	require.Equal(t, uint64(4998), new(uint256.Int).SetBytes(res.ReturnData).Uint64())
	require.Equal(t, uint64(100_000-749), res.LeftOverGas)
}

func TestCallDepthLimit(t *testing.T) {
	statedb := newTestState(host.NewMemoryStorage())

	// Increment slot 0, then call ourselves with all gas left.
	code := []byte{
		byte(PUSH1), 0, byte(SLOAD), byte(PUSH1), 1, byte(ADD), byte(PUSH1), 0, byte(SSTORE),
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
		byte(ADDRESS), byte(GAS), byte(CALL), byte(STOP),
	}
	statedb.SetCode(contractA, code)

	mem := arena.New(1 << 20)
	evm := newTestEVM(statedb, Config{Arena: mem})
	evm.BeginCall(testOrigin, contractA, nil, 1_000_000_000_000, new(uint256.Int))
	_, err := evm.Run(0)
	require.NoError(t, err)
	require.NoError(t, evm.Result().Err)

	got := statedb.GetState(contractA, common.Hash{}).Big().Uint64()
	require.Equal(t, params.CallCreateDepth+1, got)
	require.Zero(t, evm.Depth())
	require.Zero(t, mem.InUse())
}

func TestRevertIsolation(t *testing.T) {
	statedb := newTestState(host.NewMemoryStorage())

	// B writes slot 0 and reverts.
	statedb.SetCode(contractB, common.FromHex("600160005560006000fd"))

	// A writes slot 1, calls B with 5 wei and stores the call result in slot 2.
	code := []byte{byte(PUSH1), 1, byte(PUSH1), 1, byte(SSTORE)}
	code = append(code, callCode(contractB, 5)...)
	code = append(code, byte(PUSH1), 2, byte(SSTORE), byte(STOP))
	statedb.SetCode(contractA, code)
	statedb.AddBalance(contractA, uint256.NewInt(10))

	evm := newTestEVM(statedb, Config{})
	evm.BeginCall(testOrigin, contractA, nil, 1_000_000, new(uint256.Int))
	_, err := evm.Run(0)
	require.NoError(t, err)
	require.NoError(t, evm.Result().Err)

	require.Equal(t, common.BigToHash(big.NewInt(1)), statedb.GetState(contractA, common.BigToHash(big.NewInt(1))))
	require.Equal(t, common.Hash{}, statedb.GetState(contractA, common.BigToHash(big.NewInt(2))))
	require.Equal(t, common.Hash{}, statedb.GetState(contractB, common.Hash{}))
	require.Equal(t, uint64(10), statedb.GetBalance(contractA).Uint64())
	require.True(t, statedb.GetBalance(contractB).IsZero())
	require.Equal(t, 1, statedb.Depth())
}

func TestOutOfMemoryIsFatal(t *testing.T) {
	statedb := newTestState(host.NewMemoryStorage())

	// MSTORE far beyond what the arena holds.
	statedb.SetCode(contractA, []byte{byte(PUSH1), 1, byte(PUSH2), 0x10, 0x00, byte(MSTORE), byte(STOP)})
	// B is called first so a frame is open below the failing one.
	statedb.SetCode(contractB, append(callCode(contractA, 0), byte(STOP)))

	mem := arena.New(512)
	evm := newTestEVM(statedb, Config{Arena: mem})
	evm.BeginCall(testOrigin, contractB, nil, 1_000_000, new(uint256.Int))
	done, err := evm.Run(0)
	require.True(t, done)
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.True(t, IsFatal(evm.Result().Err))
	require.Equal(t, types.StatusFatalOutOfMemory, StatusOf(evm.Result().Err, evm.Result().Halt))
	require.Zero(t, evm.Depth())
	require.Zero(t, mem.InUse())
}

func TestRunStepLimit(t *testing.T) {
	statedb := newTestState(host.NewMemoryStorage())
	statedb.SetCode(contractA, []byte{byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD), byte(POP), byte(STOP)})

	evm := newTestEVM(statedb, Config{})
	evm.BeginCall(testOrigin, contractA, nil, 100_000, new(uint256.Int))
	for i := 1; i <= 4; i++ {
		done, err := evm.Run(1)
		require.NoError(t, err)
		require.False(t, done)
		require.Equal(t, uint64(i), evm.Steps())
	}
	done, err := evm.Run(1)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, uint64(5), evm.Steps())
}

// splitProgram stores a value computed by a nested call, keeps memory
// around and emits a log, so every piece of resumable state is exercised.
func splitProgram(store host.Storage) {
	proj := state.NewProjection(testProgram, store)
	// B: slot 7 = caller value + 1, return 0x2a.
	codeB := common.FromHex("60013401600755602a60005260206000f3")
	// A: mstore 0xff at 0x40, call B with value 3 into 0..32, sstore result
	// word at slot 1, log0 memory 0..0x60 and return it.
	codeA := []byte{byte(PUSH1), 0xff, byte(PUSH1), 0x40, byte(MSTORE),
		byte(PUSH1), 0x20, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 3, byte(PUSH20)}
	codeA = append(codeA, contractB.Bytes()...)
	codeA = append(codeA, byte(GAS), byte(CALL), byte(POP),
		byte(PUSH1), 0, byte(MLOAD), byte(PUSH1), 1, byte(SSTORE),
		byte(PUSH1), 0x60, byte(PUSH1), 0, byte(LOG0),
		byte(PUSH1), 0x60, byte(PUSH1), 0, byte(RETURN))
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(proj.Create(contractA, &state.Account{Code: codeA, Balance: uint256.NewInt(100)}))
	must(proj.Create(contractB, &state.Account{Code: codeB}))
}

func TestSplitInvariance(t *testing.T) {
	store := host.NewMemoryStorage()
	splitProgram(store)

	type outcome struct {
		ret      []byte
		gas      uint64
		slotA    common.Hash
		slotB    common.Hash
		balanceB uint64
		logs     int
	}
	capture := func(evm *EVM, statedb *state.StateDB) outcome {
		res := evm.Result()
		require.NoError(t, res.Err)
		return outcome{
			ret:      res.ReturnData,
			gas:      res.LeftOverGas,
			slotA:    statedb.GetState(contractA, common.BigToHash(big.NewInt(1))),
			slotB:    statedb.GetState(contractB, common.BigToHash(big.NewInt(7))),
			balanceB: statedb.GetBalance(contractB).Uint64(),
			logs:     len(statedb.Logs()),
		}
	}
	const gas = 1_000_000

	statedb := newTestState(store)
	evm := newTestEVM(statedb, Config{})
	evm.BeginCall(testOrigin, contractA, nil, gas, new(uint256.Int))
	_, err := evm.Run(0)
	require.NoError(t, err)
	want := capture(evm, statedb)
	total := evm.Steps()

	require.Equal(t, uint64(0x2a), new(uint256.Int).SetBytes(want.ret[:32]).Uint64())
	require.Equal(t, uint64(3), want.balanceB)
	require.Equal(t, common.BigToHash(big.NewInt(4)), want.slotB)

	for k := uint64(1); k < total; k++ {
		statedb := newTestState(store)
		evm := newTestEVM(statedb, Config{})
		evm.BeginCall(testOrigin, contractA, nil, gas, new(uint256.Int))
		done, err := evm.Run(k)
		require.NoError(t, err)
		require.False(t, done, "split %d", k)

		frames, err := evm.EncodeFrames()
		require.NoError(t, err)
		overlay, err := statedb.Encode()
		require.NoError(t, err)
		evm.Release()

		resumedState, err := state.Decode(state.NewProjection(testProgram, store), overlay)
		require.NoError(t, err)
		resumed := newTestEVM(resumedState, Config{})
		require.NoError(t, resumed.RestoreFrames(frames))
		done, err = resumed.Run(0)
		require.NoError(t, err)
		require.True(t, done)
		require.Equal(t, want, capture(resumed, resumedState), "split %d", k)
		require.Equal(t, total, k+resumed.Steps(), "split %d", k)
	}
}

func TestRestoreFramesRejectsRunningEVM(t *testing.T) {
	statedb := newTestState(host.NewMemoryStorage())
	statedb.SetCode(contractA, []byte{byte(PUSH1), 1, byte(STOP)})

	evm := newTestEVM(statedb, Config{})
	evm.BeginCall(testOrigin, contractA, nil, 100_000, new(uint256.Int))
	frames, err := evm.EncodeFrames()
	require.NoError(t, err)
	require.Error(t, evm.RestoreFrames(frames))
	require.Error(t, newTestEVM(statedb, Config{}).RestoreFrames([]byte{0xc0}))
}
