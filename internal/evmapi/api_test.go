package evmapi

import (
	"context"
	"math/big"
	"testing"

	"github.com/bnb-chain/hostevm/core/executor"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/program"
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/bnb-chain/hostevm/core/types"
	"github.com/bnb-chain/hostevm/core/vm"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey, _ = crypto.HexToECDSA("289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032")
	testAddr   = crypto.PubkeyToAddress(testKey.PublicKey)
	contract   = common.HexToAddress("0x3001")
	operator   = host.Pubkey{0x0e}

	// storeCode writes 42 to slot 1.
	storeCode = common.FromHex("602a60015500")
)

type apiEnv struct {
	t         *testing.T
	db        *host.Database
	processor *program.Processor
	client    *rpc.Client
}

func newAPIEnv(t *testing.T) *apiEnv {
	db := host.NewDatabase(memorydb.New(), 1)
	processor := program.NewProcessor(program.Config{
		Executor: executor.Config{ChainConfig: params.CIChainConfig},
	}, db, host.NewRuntime())

	proj := state.NewProjection(processor.ProgramID(), db)
	require.NoError(t, proj.Create(testAddr, &state.Account{Balance: uint256.NewInt(1_000_000_000_000)}))
	require.NoError(t, proj.Create(contract, &state.Account{Nonce: 1, Code: storeCode}))

	server, err := NewServer(NewAPI(processor, db))
	require.NoError(t, err)
	client := rpc.DialInProc(server)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return &apiEnv{t: t, db: db, processor: processor, client: client}
}

func (env *apiEnv) call(result interface{}, method string, args ...interface{}) error {
	return env.client.CallContext(context.Background(), result, Namespace+"_"+method, args...)
}

func TestAccountQueries(t *testing.T) {
	env := newAPIEnv(t)

	var balance hexutil.Big
	require.NoError(t, env.call(&balance, "getBalance", testAddr))
	assert.Equal(t, big.NewInt(1_000_000_000_000), balance.ToInt())

	var nonce hexutil.Uint64
	require.NoError(t, env.call(&nonce, "getNonce", contract))
	assert.Equal(t, hexutil.Uint64(1), nonce)

	var code hexutil.Bytes
	require.NoError(t, env.call(&code, "getCode", contract))
	assert.Equal(t, hexutil.Bytes(storeCode), code)

	var slot common.Hash
	require.NoError(t, env.call(&slot, "getStorageAt", contract, common.BigToHash(big.NewInt(1))))
	assert.Equal(t, common.Hash{}, slot)

	var binding host.Pubkey
	require.NoError(t, env.call(&binding, "deriveAddress", testAddr))
	assert.Equal(t, state.DeriveBinding(env.processor.ProgramID(), testAddr), binding)
}

func TestEmulate(t *testing.T) {
	env := newAPIEnv(t)
	tx, err := gethtypes.SignNewTx(testKey, gethtypes.LatestSignerForChainID(params.CIChainConfig.ChainID), &gethtypes.LegacyTx{
		To:       &contract,
		Gas:      100000,
		GasPrice: big.NewInt(1),
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	var receipt types.Receipt
	require.NoError(t, env.call(&receipt, "emulate", hexutil.Bytes(raw)))
	assert.Equal(t, types.StatusStopped, receipt.Status)
	assert.Equal(t, tx.Hash(), receipt.TxHash)
	assert.Equal(t, testAddr, receipt.From)
	assert.NotZero(t, receipt.GasUsed)

	// Emulation leaves the stored slot untouched.
	var slot common.Hash
	require.NoError(t, env.call(&slot, "getStorageAt", contract, common.BigToHash(big.NewInt(1))))
	assert.Equal(t, common.Hash{}, slot)

	assert.Error(t, env.call(&receipt, "emulate", hexutil.Bytes{0x02, 0xc0}))
}

func TestTrace(t *testing.T) {
	env := newAPIEnv(t)
	tx, err := gethtypes.SignNewTx(testKey, gethtypes.LatestSignerForChainID(params.CIChainConfig.ChainID), &gethtypes.LegacyTx{
		To:       &contract,
		Gas:      100000,
		GasPrice: big.NewInt(1),
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	var trace vm.ExecutionTrace
	require.NoError(t, env.call(&trace, "trace", hexutil.Bytes(raw)))
	assert.False(t, trace.Failed)
	assert.Empty(t, trace.ReturnValue)
	require.Len(t, trace.StructLogs, 4)

	var ops []string
	for _, l := range trace.StructLogs {
		ops = append(ops, l.Op)
		assert.Equal(t, 1, l.Depth)
	}
	assert.Equal(t, []string{"PUSH1", "PUSH1", "SSTORE", "STOP"}, ops)
	assert.Equal(t, uint64(100000-params.TxGas), trace.StructLogs[0].Gas)
	require.NotNil(t, trace.StructLogs[2].Stack)
	assert.Equal(t, []string{"0x2a", "0x1"}, *trace.StructLogs[2].Stack)

	var receipt types.Receipt
	require.NoError(t, env.call(&receipt, "emulate", hexutil.Bytes(raw)))
	assert.Equal(t, receipt.GasUsed, trace.Gas)

	// Stack capture can be switched off.
	var bare vm.ExecutionTrace
	require.NoError(t, env.call(&bare, "trace", hexutil.Bytes(raw), &vm.LogConfig{DisableStack: true}))
	require.Len(t, bare.StructLogs, 4)
	assert.Nil(t, bare.StructLogs[2].Stack)

	// Tracing leaves the stored slot untouched.
	var slot common.Hash
	require.NoError(t, env.call(&slot, "getStorageAt", contract, common.BigToHash(big.NewInt(1))))
	assert.Equal(t, common.Hash{}, slot)
}

func TestGetConfig(t *testing.T) {
	env := newAPIEnv(t)

	var cfg ConfigResult
	require.NoError(t, env.call(&cfg, "getConfig"))
	assert.Equal(t, params.ProfileCI, cfg.Profile)
	assert.Equal(t, params.CIChainConfig.ChainID, cfg.ChainID.ToInt())
	assert.Equal(t, host.Pubkey(params.CIChainConfig.ProgramID), cfg.ProgramID)
	assert.True(t, cfg.Push0)
	assert.Equal(t, params.DefaultArenaSize, cfg.ArenaSize)
	assert.Equal(t, params.DefaultStepLimit, cfg.StepLimit)
}

func TestGetHolderAndSnapshot(t *testing.T) {
	env := newAPIEnv(t)
	seed := common.HexToHash("0x01")

	var holder *HolderResult
	assert.Error(t, env.call(&holder, "getHolder", operator, seed))

	blob, err := rlp.EncodeToBytes(&program.Holder{Owner: operator, Data: []byte{0, 0, 0xaa, 0xbb}})
	require.NoError(t, err)
	key := env.processor.HolderAddress(operator, seed)
	require.NoError(t, env.db.PutAccount(key, host.NewAccount(0, env.processor.ProgramID(), blob)))

	require.NoError(t, env.call(&holder, "getHolder", operator, seed))
	assert.Equal(t, key, holder.Address)
	assert.Equal(t, operator, holder.Owner)
	assert.Equal(t, 4, holder.Size)
	assert.Equal(t, hexutil.Bytes{0, 0, 0xaa, 0xbb}, holder.Data)

	var snap *SnapshotResult
	require.NoError(t, env.call(&snap, "getSnapshot", common.HexToHash("0x02")))
	assert.Nil(t, snap)
}
