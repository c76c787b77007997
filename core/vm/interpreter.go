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
	"fmt"
	"time"

	"github.com/bnb-chain/hostevm/core/arena"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

// Config are the configuration options for the Interpreter
type Config struct {
	// Arena bounds the memory of one transaction attempt. A default sized
	// arena is created when nil.
	Arena *arena.Arena

	// Program is the id of the program the EVM runs under. It anchors every
	// host address derived by the bridge.
	Program host.Pubkey
	// HostStore receives the lamport movements of the bridge and is handed
	// to native invocations.
	HostStore host.Storage
	// Invoker performs native invocations. The bridge fails every execute
	// request when it is nil.
	Invoker host.Invoker

	// Tracer is called around every executed instruction when set.
	Tracer EVMLogger
}

// ScopeContext contains the things that are per-call, such as stack and memory,
// but not transients like pc and gas
type ScopeContext struct {
	Memory   *Memory
	Stack    *Stack
	Contract *Contract
}

// EVMInterpreter represents an EVM interpreter
type EVMInterpreter struct {
	evm   *EVM
	table *JumpTable

	hasher    crypto.KeccakState // Keccak256 hasher instance shared across opcodes
	hasherBuf common.Hash        // Keccak256 hasher result array shared across opcodes

	// frame is the frame currently executing.
	frame *Frame
}

// NewEVMInterpreter returns a new instance of the Interpreter.
func NewEVMInterpreter(evm *EVM) *EVMInterpreter {
	return &EVMInterpreter{
		evm:    evm,
		table:  instructionSetForRules(evm.chainRules),
		hasher: crypto.NewKeccakState(),
	}
}

// run executes instructions of the innermost frame until the call stack is
// empty or maxSteps instructions ran. Instructions are atomic: the loop only
// ever stops between two of them.
func (in *EVMInterpreter) run(maxSteps uint64) {
	var (
		evm   = in.evm
		steps uint64
		start = time.Now()
	)
	defer func() {
		runTimer.UpdateSince(start)
		stepMeter.Mark(int64(steps))
	}()
	for !evm.done && len(evm.frames) > 0 {
		if maxSteps > 0 && steps >= maxSteps && !evm.pinned {
			return
		}
		f := evm.frames[len(evm.frames)-1]
		in.frame = f

		ret, err := in.step(f)
		steps++
		evm.steps++
		if err == nil {
			continue
		}
		if err == errStopToken {
			err = nil
		}
		evm.exit(ret, err)
	}
}

// step executes the instruction at the pc of f. A nil error means execution
// of the frame continues; errStopToken means it halted normally.
func (in *EVMInterpreter) step(f *Frame) (ret []byte, err error) {
	var (
		scope    = &f.scope
		contract = scope.Contract
		mem      = scope.Memory
		stack    = scope.Stack
		pc       = f.pc
		cost     uint64
		// copies used by tracer
		pcCopy  = f.pc
		gasCopy = contract.Gas
		logged  bool
		tracer  = in.evm.Config.Tracer
	)
	if tracer != nil {
		defer func() {
			if err == nil || err == errStopToken {
				return
			}
			if !logged {
				tracer.CaptureState(pcCopy, contract.GetOp(pcCopy), gasCopy, cost, scope, f.returnData, f.depth+1, err)
			} else {
				tracer.CaptureFault(pcCopy, contract.GetOp(pcCopy), gasCopy, cost, scope, f.depth+1, err)
			}
		}()
	}
	// Get the operation from the jump table and validate the stack to ensure there are
	// enough stack items available to perform the operation.
	op := contract.GetOp(pc)
	operation := in.table[op]
	cost = operation.constantGas
	// Validate stack
	if sLen := stack.len(); sLen < operation.minStack {
		return nil, &ErrStackUnderflow{stackLen: sLen, required: operation.minStack}
	} else if sLen > operation.maxStack {
		return nil, &ErrStackOverflow{stackLen: sLen, limit: operation.maxStack}
	}
	if !contract.UseGas(cost) {
		return nil, ErrOutOfGas
	}
	if operation.dynamicGas != nil {
		// All ops with a dynamic memory usage also has a dynamic gas cost.
		var memorySize uint64
		// calculate the new memory size and expand the memory to fit
		// the operation
		// Memory check needs to be done prior to evaluating the dynamic gas portion,
		// to detect calculation overflows
		if operation.memorySize != nil {
			memSize, overflow := operation.memorySize(stack)
			if overflow {
				return nil, ErrGasUintOverflow
			}
			// memory is expanded in words of 32 bytes. Gas
			// is also calculated in words.
			if memorySize, overflow = math.SafeMul(toWordSize(memSize), 32); overflow {
				return nil, ErrGasUintOverflow
			}
		}
		// Consume the gas and return an error if not enough gas is available.
		var dynamicCost uint64
		dynamicCost, err = operation.dynamicGas(in.evm, contract, stack, mem, memorySize)
		if err != nil {
			if errors.Is(err, ErrOutOfGas) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrOutOfGas, err)
		}
		cost += dynamicCost // for tracing
		if !contract.UseGas(dynamicCost) {
			return nil, ErrOutOfGas
		}
		if memorySize > 0 {
			if err := mem.Resize(memorySize); err != nil {
				return nil, err
			}
		}
	}
	if tracer != nil {
		tracer.CaptureState(pcCopy, op, gasCopy, cost, scope, f.returnData, f.depth+1, err)
		logged = true
	}
	opcodeMeters[op].Mark(1)

	// execute the operation
	res, err := operation.execute(&pc, in, scope)
	if err != nil {
		f.pc = pc
		return res, err
	}
	pc++
	f.pc = pc
	return nil, nil
}
