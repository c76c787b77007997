// Package evmapi exposes read-only views of the emulated chain over JSON-RPC.
package evmapi

import (
	"context"

	"github.com/bnb-chain/hostevm/core/executor"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/program"
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/bnb-chain/hostevm/core/types"
	"github.com/bnb-chain/hostevm/core/vm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Namespace is the RPC namespace of the API.
const Namespace = "evm"

// API offers emulation and state inspection. Nothing it does writes to the
// host database.
type API struct {
	processor *program.Processor
	db        *host.Database
}

// NewAPI creates the API over the processor's database.
func NewAPI(processor *program.Processor, db *host.Database) *API {
	return &API{processor: processor, db: db}
}

// NewServer returns an RPC server with the API registered.
func NewServer(api *API) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(Namespace, api); err != nil {
		return nil, err
	}
	return server, nil
}

func (api *API) state() *state.StateDB {
	return state.New(state.NewProjection(api.processor.ProgramID(), api.db))
}

// Emulate runs a signed transaction to completion against a throwaway
// batch and returns the receipt it would produce.
func (api *API) Emulate(ctx context.Context, input hexutil.Bytes) (*types.Receipt, error) {
	tx, err := types.DecodeTransaction(input)
	if err != nil {
		return nil, err
	}
	return api.processor.Controller().Emulate(ctx, tx, common.Address{})
}

// Trace emulates a signed transaction like Emulate and returns the
// instruction level trace of the execution. config is optional.
func (api *API) Trace(ctx context.Context, input hexutil.Bytes, config *vm.LogConfig) (*vm.ExecutionTrace, error) {
	tx, err := types.DecodeTransaction(input)
	if err != nil {
		return nil, err
	}
	return api.processor.Controller().Trace(ctx, tx, common.Address{}, config)
}

// GetBalance returns the EVM balance of addr.
func (api *API) GetBalance(addr common.Address) (*hexutil.Big, error) {
	statedb := api.state()
	balance := statedb.GetBalance(addr)
	if err := statedb.Error(); err != nil {
		return nil, err
	}
	return (*hexutil.Big)(balance.ToBig()), nil
}

// GetNonce returns the nonce of addr.
func (api *API) GetNonce(addr common.Address) (hexutil.Uint64, error) {
	statedb := api.state()
	nonce := statedb.GetNonce(addr)
	return hexutil.Uint64(nonce), statedb.Error()
}

// GetCode returns the code of addr.
func (api *API) GetCode(addr common.Address) (hexutil.Bytes, error) {
	statedb := api.state()
	code := statedb.GetCode(addr)
	return code, statedb.Error()
}

// GetStorageAt returns a storage slot of addr.
func (api *API) GetStorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	statedb := api.state()
	value := statedb.GetState(addr, slot)
	return value, statedb.Error()
}

// ConfigResult describes the program build and its runtime settings.
type ConfigResult struct {
	Profile       string       `json:"profile"`
	ChainID       *hexutil.Big `json:"chainId"`
	ProgramID     host.Pubkey  `json:"programId"`
	Push0         bool         `json:"push0"`
	Transient     bool         `json:"transient"`
	Mcopy         bool         `json:"mcopy"`
	EmergencyHalt bool         `json:"emergencyHalt"`
	ArenaSize     int          `json:"arenaSize"`
	StepLimit     uint64       `json:"stepLimit"`
	GasLimit      uint64       `json:"gasLimit"`
}

// GetConfig returns the configuration of the program.
func (api *API) GetConfig() *ConfigResult {
	cfg := api.processor.Controller().Config()
	chain := cfg.ChainConfig
	return &ConfigResult{
		Profile:       chain.Profile,
		ChainID:       (*hexutil.Big)(chain.ChainID),
		ProgramID:     api.processor.ProgramID(),
		Push0:         chain.EnablePush0,
		Transient:     chain.EnableTransient,
		Mcopy:         chain.EnableMcopy,
		EmergencyHalt: api.processor.Halted(),
		ArenaSize:     cfg.ArenaSize,
		StepLimit:     cfg.StepLimit,
		GasLimit:      cfg.BlockGasLimit,
	}
}

// DeriveAddress returns the host cell bound to addr.
func (api *API) DeriveAddress(addr common.Address) host.Pubkey {
	return state.DeriveBinding(api.processor.ProgramID(), addr)
}

// HolderResult is the content of a holder cell.
type HolderResult struct {
	Address host.Pubkey   `json:"address"`
	Owner   host.Pubkey   `json:"owner"`
	Size    int           `json:"size"`
	Data    hexutil.Bytes `json:"data"`
}

// GetHolder returns the holder owner created with seed.
func (api *API) GetHolder(owner host.Pubkey, seed common.Hash) (*HolderResult, error) {
	key := api.processor.HolderAddress(owner, seed)
	h, err := program.LoadHolder(api.db, api.processor.ProgramID(), key)
	if err != nil {
		return nil, err
	}
	return &HolderResult{Address: key, Owner: h.Owner, Size: len(h.Data), Data: h.Data}, nil
}

// SnapshotResult summarizes a suspended transaction.
type SnapshotResult struct {
	Marker hexutil.Uint64 `json:"marker"`
	Sender common.Address `json:"sender"`
	Nonce  hexutil.Uint64 `json:"nonce"`
	Steps  hexutil.Uint64 `json:"steps"`
	Reads  int            `json:"reads"`
}

// GetSnapshot returns the suspension state of txHash, or nil when the
// transaction is not suspended.
func (api *API) GetSnapshot(txHash common.Hash) (*SnapshotResult, error) {
	snap, err := api.processor.Controller().Snapshots().Load(api.db, txHash)
	if err != nil || snap == nil {
		return nil, err
	}
	return snapshotResult(snap), nil
}

func snapshotResult(snap *executor.Snapshot) *SnapshotResult {
	return &SnapshotResult{
		Marker: hexutil.Uint64(snap.Marker),
		Sender: snap.Sender,
		Nonce:  hexutil.Uint64(snap.Nonce),
		Steps:  hexutil.Uint64(snap.Steps),
		Reads:  len(snap.Reads),
	}
}
