// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	"errors"
	"math/big"

	"github.com/bnb-chain/hostevm/core/arena"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

var emptyCodeHash = crypto.Keccak256Hash(nil)

type (
	// CanTransferFunc is the signature of a transfer guard function
	CanTransferFunc func(StateDB, common.Address, *uint256.Int) bool
	// TransferFunc is the signature of a transfer function
	TransferFunc func(StateDB, common.Address, common.Address, *uint256.Int)
	// GetHashFunc returns the n'th block hash in the blockchain
	// and is used by the BLOCKHASH EVM op code.
	GetHashFunc func(uint64) common.Hash
)

func (evm *EVM) precompile(addr common.Address) (PrecompiledContract, bool) {
	p, ok := evm.precompiles[addr]
	return p, ok
}

// BlockContext provides the EVM with auxiliary information. Once provided
// it shouldn't be modified.
type BlockContext struct {
	// CanTransfer returns whether the account contains
	// sufficient ether to transfer the value
	CanTransfer CanTransferFunc
	// Transfer transfers ether from one account to the other
	Transfer TransferFunc
	// GetHash returns the hash corresponding to n
	GetHash GetHashFunc

	// Block information
	Coinbase    common.Address // Provides information for COINBASE
	GasLimit    uint64         // Provides information for GASLIMIT
	BlockNumber *big.Int       // Provides information for NUMBER
	Time        uint64         // Provides information for TIME
	Difficulty  *big.Int       // Provides information for DIFFICULTY
}

// TxContext provides the EVM with information about a transaction.
// All fields can change between transactions.
type TxContext struct {
	// Message information
	Origin   common.Address // Provides information for ORIGIN
	GasPrice *big.Int       // Provides information for GASPRICE
}

// ExecutionResult is the outcome of the outermost frame.
type ExecutionResult struct {
	ReturnData      []byte
	LeftOverGas     uint64
	Err             error
	Halt            OpCode         // instruction that ended a successful frame
	ContractAddress common.Address // set for contract creation
}

// Failed reports whether the outermost frame failed.
func (r *ExecutionResult) Failed() bool { return r.Err != nil }

// Revert returns the revert reason if the execution was aborted by REVERT.
func (r *ExecutionResult) Revert() []byte {
	if !errors.Is(r.Err, ErrExecutionReverted) {
		return nil
	}
	return common.CopyBytes(r.ReturnData)
}

// EVM is the Ethereum Virtual Machine base object and provides
// the necessary tools to run a contract on the given state with
// the provided context.
//
// Unlike the go-ethereum EVM, calls do not recurse: every CALL and CREATE
// pushes a Frame onto an explicit stack and Run advances the innermost one.
// That lets Run stop after any instruction and lets the call stack be
// persisted with EncodeFrames and picked up by a later host step.
//
// The EVM should never be reused and is not thread safe.
type EVM struct {
	// Context provides auxiliary blockchain related information
	Context BlockContext
	TxContext
	// StateDB gives access to the underlying state
	StateDB StateDB

	// chainConfig contains information about the current chain
	chainConfig *params.ChainConfig
	// chain rules contains the profile rules for the current epoch
	chainRules params.Rules
	// virtual machine configuration options used to initialise the
	// evm.
	Config Config

	interpreter *EVMInterpreter
	precompiles map[common.Address]PrecompiledContract
	arena       *arena.Arena
	logger      log.Logger

	frames []*Frame

	// callGasTemp holds the gas available for the current call. This is needed because the
	// available gas is calculated in gasCall* according to the 63/64 rule and later
	// applied in opCall*.
	callGasTemp uint64

	// pinned is set once the bridge issued a native invocation. The
	// remaining execution of the Run call may not yield.
	pinned    bool
	hostCalls int

	// gas handed to the outermost frame, for tracing.
	gas uint64

	steps  uint64
	done   bool
	result ExecutionResult
}

// NewEVM returns a new EVM. The returned EVM is not thread safe and should
// only ever be used *once*.
func NewEVM(blockCtx BlockContext, txCtx TxContext, statedb StateDB, chainConfig *params.ChainConfig, config Config) *EVM {
	if config.Arena == nil {
		config.Arena = arena.New(params.DefaultArenaSize)
	}
	if config.Program.IsZero() {
		config.Program = host.Pubkey(chainConfig.ProgramID)
	}
	evm := &EVM{
		Context:     blockCtx,
		TxContext:   txCtx,
		StateDB:     statedb,
		Config:      config,
		chainConfig: chainConfig,
		chainRules:  chainConfig.Rules(),
		arena:       config.Arena,
		logger:      log.New("module", "evm"),
	}
	evm.precompiles = activePrecompiledContracts(evm.chainRules)
	evm.interpreter = NewEVMInterpreter(evm)
	return evm
}

// ChainConfig returns the environment's chain configuration
func (evm *EVM) ChainConfig() *params.ChainConfig { return evm.chainConfig }

// Interpreter returns the current interpreter
func (evm *EVM) Interpreter() *EVMInterpreter { return evm.interpreter }

// Depth returns the number of frames on the call stack.
func (evm *EVM) Depth() int { return len(evm.frames) }

// Done reports whether the outermost frame has finished.
func (evm *EVM) Done() bool { return evm.done }

// Result returns the outcome of the outermost frame. It is only meaningful
// once Done reports true.
func (evm *EVM) Result() *ExecutionResult { return &evm.result }

// Steps returns the number of instructions executed by this EVM.
func (evm *EVM) Steps() uint64 { return evm.steps }

// HostCalls returns the number of native invocations issued by the bridge.
func (evm *EVM) HostCalls() int { return evm.hostCalls }

// Run executes instructions until the outermost frame finishes or maxSteps
// instructions have run, whichever comes first. A maxSteps of zero means no
// limit. The limit is ignored once a host call has been issued during this
// invocation. It reports whether execution finished; a fatal error is
// returned as well as recorded in the result.
func (evm *EVM) Run(maxSteps uint64) (bool, error) {
	evm.pinned = false
	if evm.done {
		return true, evm.fatalErr()
	}
	evm.interpreter.run(maxSteps)
	if evm.done {
		return true, evm.fatalErr()
	}
	return false, nil
}

func (evm *EVM) fatalErr() error {
	if IsFatal(evm.result.Err) {
		return evm.result.Err
	}
	return nil
}

// BeginCall starts a message call to addr as the outermost frame.
func (evm *EVM) BeginCall(caller, addr common.Address, input []byte, gas uint64, value *uint256.Int) {
	evm.gas = gas
	if tracer := evm.Config.Tracer; tracer != nil {
		tracer.CaptureStart(evm, caller, addr, false, input, gas, bigValue(value))
	}
	evm.call(FrameCall, caller, addr, input, gas, value, 0, 0)
}

// BeginCreate starts a contract creation as the outermost frame and returns
// the address of the new contract.
func (evm *EVM) BeginCreate(caller common.Address, code []byte, gas uint64, value *uint256.Int) common.Address {
	contractAddr := crypto.CreateAddress(caller, evm.StateDB.GetNonce(caller))
	evm.gas = gas
	if tracer := evm.Config.Tracer; tracer != nil {
		tracer.CaptureStart(evm, caller, contractAddr, true, code, gas, bigValue(value))
	}
	evm.create(FrameCreate, caller, code, gas, value, contractAddr)
	return contractAddr
}

// call opens a frame of the given call kind, or finishes the call on the
// spot when there is no code to run.
func (evm *EVM) call(kind FrameKind, caller, addr common.Address, input []byte, gas uint64, value *uint256.Int, retOffset, retSize uint64) {
	if value == nil {
		value = new(uint256.Int)
	}
	var parent *Frame
	if n := len(evm.frames); n > 0 {
		parent = evm.frames[n-1]
	}
	// Fail if we're trying to execute above the call depth limit
	if len(evm.frames) > int(params.CallCreateDepth) {
		evm.finish(kind, parent, nil, gas, common.Address{}, ErrDepth, retOffset, retSize)
		return
	}
	// Fail if we're trying to transfer more than the available balance
	if (kind == FrameCall || kind == FrameCallCode) && !value.IsZero() && !evm.Context.CanTransfer(evm.StateDB, caller, value) {
		evm.finish(kind, parent, nil, gas, common.Address{}, ErrInsufficientBalance, retOffset, retSize)
		return
	}
	p, isPrecompile := evm.precompile(addr)

	if kind == FrameCall && !evm.StateDB.Exist(addr) && !isPrecompile && value.IsZero() {
		// Calling a non existing account, don't do anything.
		evm.finish(kind, parent, nil, gas, common.Address{}, nil, retOffset, retSize)
		return
	}
	snapshot := evm.StateDB.Snapshot()
	switch kind {
	case FrameCall:
		if !evm.StateDB.Exist(addr) {
			evm.StateDB.CreateAccount(addr)
		}
		evm.Context.Transfer(evm.StateDB, caller, addr, value)
	case FrameStaticCall:
		// We do an AddBalance of zero here, just in order to trigger a touch.
		evm.StateDB.AddBalance(addr, new(uint256.Int))
	}
	readOnly := kind == FrameStaticCall || (parent != nil && parent.readOnly)

	if isPrecompile {
		call := &PrecompileCall{Kind: kind, Caller: caller, Value: value, ReadOnly: readOnly}
		ret, leftOver, err := RunPrecompiledContract(evm, p, call, input, gas)
		evm.settle(snapshot, err, &leftOver)
		evm.finish(kind, parent, ret, leftOver, common.Address{}, err, retOffset, retSize)
		return
	}
	code := evm.StateDB.GetCode(addr)
	if len(code) == 0 {
		evm.StateDB.DiscardSnapshot(snapshot)
		evm.finish(kind, parent, nil, gas, common.Address{}, nil, retOffset, retSize)
		return
	}
	var contract *Contract
	switch kind {
	case FrameCall, FrameStaticCall:
		contract = NewContract(caller, addr, value, gas)
	case FrameCallCode:
		contract = NewContract(caller, caller, value, gas)
	case FrameDelegateCall:
		// The delegate keeps the caller and the value of the parent frame.
		contract = NewContract(parent.scope.Contract.CallerAddress, caller, parent.scope.Contract.value, gas)
	}
	addrCopy := addr
	contract.SetCallCode(&addrCopy, evm.StateDB.GetCodeHash(addr), code)
	contract.Input = input

	evm.push(kind, contract, readOnly, snapshot, retOffset, retSize)
}

// create opens an init code frame for a new contract at address.
func (evm *EVM) create(kind FrameKind, caller common.Address, code []byte, gas uint64, value *uint256.Int, address common.Address) {
	var parent *Frame
	if n := len(evm.frames); n > 0 {
		parent = evm.frames[n-1]
	}
	// Depth check execution. Fail if we're trying to execute above the
	// limit.
	if len(evm.frames) > int(params.CallCreateDepth) {
		evm.finish(kind, parent, nil, gas, common.Address{}, ErrDepth, 0, 0)
		return
	}
	if !evm.Context.CanTransfer(evm.StateDB, caller, value) {
		evm.finish(kind, parent, nil, gas, common.Address{}, ErrInsufficientBalance, 0, 0)
		return
	}
	nonce := evm.StateDB.GetNonce(caller)
	if nonce+1 < nonce {
		evm.finish(kind, parent, nil, gas, common.Address{}, ErrNonceUintOverflow, 0, 0)
		return
	}
	evm.StateDB.SetNonce(caller, nonce+1)

	// Ensure there's no existing contract already at the designated address
	contractHash := evm.StateDB.GetCodeHash(address)
	if evm.StateDB.GetNonce(address) != 0 || (contractHash != (common.Hash{}) && contractHash != emptyCodeHash) {
		evm.finish(kind, parent, nil, 0, common.Address{}, ErrContractAddressCollision, 0, 0)
		return
	}
	// Create a new account on the state
	snapshot := evm.StateDB.Snapshot()
	evm.StateDB.CreateAccount(address)
	evm.StateDB.SetNonce(address, 1)
	evm.Context.Transfer(evm.StateDB, caller, address, value)

	// Initialise a new contract and set the code that is to be used by the
	// EVM. The contract is a scoped environment for this execution context
	// only.
	contract := NewContract(caller, address, value, gas)
	addrCopy := address
	contract.SetCallCode(&addrCopy, common.Hash{}, code)
	contract.IsDeployment = true

	if len(code) == 0 {
		ret, leftOver, err := evm.deposit(contract, nil, nil)
		evm.settle(snapshot, err, &leftOver)
		evm.finish(kind, parent, ret, leftOver, address, err, 0, 0)
		return
	}
	evm.push(kind, contract, parent != nil && parent.readOnly, snapshot, 0, 0)
}

// push enters a new frame. Arena exhaustion aborts the transaction.
func (evm *EVM) push(kind FrameKind, contract *Contract, readOnly bool, snapshot int, retOffset, retSize uint64) {
	f, err := evm.newFrame(kind, contract, readOnly, snapshot)
	if err != nil {
		evm.abort(nil, err)
		return
	}
	f.retOffset, f.retSize = retOffset, retSize
	evm.frames = append(evm.frames, f)
	frameDepthGauge.Update(int64(len(evm.frames)))
	if len(evm.frames) > 1 {
		evm.logger.Trace("Entered frame", "kind", kind, "depth", f.depth, "address", contract.Address(), "gas", contract.Gas)
	}
}

// deposit stores the code returned by init code, charging the code deposit
// cost to the contract.
func (evm *EVM) deposit(contract *Contract, ret []byte, err error) ([]byte, uint64, error) {
	// Check whether the max code size has been exceeded, assign err if the case.
	if err == nil && len(ret) > params.MaxCodeSize {
		err = ErrMaxCodeSizeExceeded
	}
	// if the contract creation ran successfully and no errors were returned
	// calculate the gas required to store the code. If the code could not
	// be stored due to not enough gas set an error and let it be handled
	// by the error checking condition below.
	if err == nil {
		createDataGas := uint64(len(ret)) * params.CreateDataGas
		if contract.UseGas(createDataGas) {
			evm.StateDB.SetCode(contract.Address(), ret)
		} else {
			err = ErrCodeStoreOutOfGas
		}
	}
	return ret, contract.Gas, err
}

// settle closes the substate opened for a frame. A failed frame is rolled
// back and, unless it reverted, loses all of its gas.
func (evm *EVM) settle(snapshot int, err error, gas *uint64) {
	if err == nil {
		evm.StateDB.DiscardSnapshot(snapshot)
		return
	}
	evm.StateDB.RevertToSnapshot(snapshot)
	if !errors.Is(err, ErrExecutionReverted) {
		*gas = 0
	}
}

// exit pops the innermost frame after it halted with ret and err.
func (evm *EVM) exit(ret []byte, err error) {
	n := len(evm.frames)
	f := evm.frames[n-1]
	if IsFatal(err) {
		evm.abort(ret, err)
		return
	}
	contract := f.scope.Contract
	halt := contract.GetOp(f.pc)

	var address common.Address
	if f.Kind.IsCreate() {
		ret, _, err = evm.deposit(contract, ret, err)
		address = contract.Address()
	}
	leftOver := contract.Gas
	evm.settle(f.snapshot, err, &leftOver)

	evm.frames = evm.frames[:n-1]
	evm.release(f)
	frameDepthGauge.Update(int64(len(evm.frames)))

	var parent *Frame
	if n > 1 {
		parent = evm.frames[n-2]
	}
	if parent == nil {
		evm.result.Halt = halt
	}
	evm.finish(f.Kind, parent, ret, leftOver, address, err, f.retOffset, f.retSize)
}

// finish delivers the outcome of a frame to its parent, the way the
// go-ethereum call instructions consume the return values of evm.Call and
// evm.Create. Without a parent the outcome becomes the execution result.
func (evm *EVM) finish(kind FrameKind, parent *Frame, ret []byte, leftOver uint64, address common.Address, err error, retOffset, retSize uint64) {
	if IsFatal(err) {
		evm.abort(ret, err)
		return
	}
	if parent == nil {
		evm.done = true
		evm.result.ReturnData = ret
		evm.result.LeftOverGas = leftOver
		evm.result.Err = err
		if kind.IsCreate() {
			evm.result.ContractAddress = address
		}
		if err == nil && evm.result.Halt == 0 {
			evm.result.Halt = STOP
		}
		evm.captureEnd()
		return
	}
	var (
		scope = &parent.scope
		temp  uint256.Int
	)
	if kind.IsCreate() {
		// Returned gas and the new address or zero.
		if err == nil {
			temp.SetBytes(address.Bytes())
		}
		scope.Stack.push(&temp)
		scope.Contract.RefundGas(leftOver)

		if errors.Is(err, ErrExecutionReverted) {
			parent.returnData = ret
		} else {
			parent.returnData = nil
		}
		return
	}
	if err == nil {
		temp.SetOne()
	}
	scope.Stack.push(&temp)
	if err == nil || errors.Is(err, ErrExecutionReverted) {
		scope.Memory.Set(retOffset, retSize, ret)
	}
	scope.Contract.RefundGas(leftOver)
	parent.returnData = ret
}

// abort unwinds every frame after a fatal error. The overlay is left as is;
// the caller is expected to throw it away.
func (evm *EVM) abort(ret []byte, err error) {
	evm.logger.Debug("Aborting transaction", "depth", len(evm.frames), "err", err)
	evm.releaseAll()
	evm.done = true
	evm.result = ExecutionResult{ReturnData: ret, Err: err}
	fatalMeter.Mark(1)
	evm.captureEnd()
}

func (evm *EVM) captureEnd() {
	tracer := evm.Config.Tracer
	if tracer == nil {
		return
	}
	var used uint64
	if evm.gas > evm.result.LeftOverGas {
		used = evm.gas - evm.result.LeftOverGas
	}
	tracer.CaptureEnd(evm.result.ReturnData, used, evm.result.Err)
}

func bigValue(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func (evm *EVM) releaseAll() {
	for i := len(evm.frames) - 1; i >= 0; i-- {
		evm.release(evm.frames[i])
	}
	evm.frames = nil
	frameDepthGauge.Update(0)
}

// Release frees every frame still held by the EVM. It is used when an
// execution is abandoned after a yield.
func (evm *EVM) Release() {
	evm.releaseAll()
}
