// Copyright 2015 The go-ethereum Authors
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
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// EVMLogger is used to collect execution traces from an EVM transaction
// execution. CaptureState is called for each step of the VM with the
// current VM state.
// Note that reference types are actual VM data structures; make copies
// if you need to retain them beyond the current call.
type EVMLogger interface {
	// CaptureStart runs when the outermost frame is entered.
	CaptureStart(env *EVM, from common.Address, to common.Address, create bool, input []byte, gas uint64, value *big.Int)
	// CaptureState runs before an instruction executes, once its gas has
	// been charged. cost includes the dynamic part.
	CaptureState(pc uint64, op OpCode, gas, cost uint64, scope *ScopeContext, rData []byte, depth int, err error)
	// CaptureFault reports an instruction that failed after CaptureState.
	CaptureFault(pc uint64, op OpCode, gas, cost uint64, scope *ScopeContext, depth int, err error)
	// CaptureEnd runs once the outermost frame finished.
	CaptureEnd(output []byte, gasUsed uint64, err error)
}

// Storage represents a contract's storage.
type Storage map[common.Hash]common.Hash

// Copy duplicates the current storage.
func (s Storage) Copy() Storage {
	cpy := make(Storage, len(s))
	for key, value := range s {
		cpy[key] = value
	}
	return cpy
}

// LogConfig are the configuration options for structured logger the EVM
type LogConfig struct {
	EnableMemory     bool `json:"enableMemory"`     // enable memory capture
	DisableStack     bool `json:"disableStack"`     // disable stack capture
	DisableStorage   bool `json:"disableStorage"`   // disable storage capture
	EnableReturnData bool `json:"enableReturnData"` // enable return data capture
	Limit            int  `json:"limit"`            // maximum number of logged steps, zero means unlimited
}

// StructLog is emitted to the EVM each cycle and lists information about the current internal state
// prior to the execution of the statement.
type StructLog struct {
	Pc            uint64
	Op            OpCode
	Gas           uint64
	GasCost       uint64
	Memory        []byte
	MemorySize    int
	Stack         []uint256.Int
	ReturnData    []byte
	Storage       map[common.Hash]common.Hash
	Depth         int
	RefundCounter uint64
	Err           error
}

// ErrorString formats the log's error as a string.
func (s *StructLog) ErrorString() string {
	if s.Err != nil {
		return s.Err.Error()
	}
	return ""
}

// StructLogger is an EVM state logger and implements EVMLogger.
//
// StructLogger can capture state based on the given Log configuration and also keeps
// a track record of modified storage which is used in reporting snapshots of the
// contract their storage.
type StructLogger struct {
	cfg LogConfig
	env *EVM

	storage map[common.Address]Storage
	logs    []StructLog
	output  []byte
	gasUsed uint64
	err     error
}

var _ EVMLogger = (*StructLogger)(nil)

// NewStructLogger returns a new logger
func NewStructLogger(cfg *LogConfig) *StructLogger {
	logger := &StructLogger{
		storage: make(map[common.Address]Storage),
	}
	if cfg != nil {
		logger.cfg = *cfg
	}
	return logger
}

// CaptureStart implements the EVMLogger interface to initialize the tracing operation.
func (l *StructLogger) CaptureStart(env *EVM, from common.Address, to common.Address, create bool, input []byte, gas uint64, value *big.Int) {
	l.env = env
}

// CaptureState logs a new structured log message and pushes it out to the environment
//
// CaptureState also tracks SLOAD/SSTORE ops to track storage change.
func (l *StructLogger) CaptureState(pc uint64, op OpCode, gas, cost uint64, scope *ScopeContext, rData []byte, depth int, err error) {
	// check if already accumulated the specified number of logs
	if l.cfg.Limit != 0 && l.cfg.Limit <= len(l.logs) {
		return
	}
	var (
		memory  = scope.Memory
		stack   = scope.Stack
		address = scope.Contract.Address()
		log     = StructLog{Pc: pc, Op: op, Gas: gas, GasCost: cost, MemorySize: memory.Len(), Depth: depth, Err: err}
	)
	if l.cfg.EnableMemory {
		log.Memory = common.CopyBytes(memory.Data())
	}
	if !l.cfg.DisableStack {
		log.Stack = append([]uint256.Int(nil), stack.Data()...)
	}
	if l.cfg.EnableReturnData {
		log.ReturnData = common.CopyBytes(rData)
	}
	if l.env != nil {
		log.RefundCounter = l.env.StateDB.GetRefund()
	}
	if !l.cfg.DisableStorage && (op == SLOAD || op == SSTORE) {
		if l.storage[address] == nil {
			l.storage[address] = make(Storage)
		}
		stackLen := len(stack.data)
		switch {
		case op == SLOAD && stackLen >= 1 && l.env != nil:
			// capture SLOAD opcodes and record the read entry in the local storage
			key := common.Hash(stack.data[stackLen-1].Bytes32())
			l.storage[address][key] = l.env.StateDB.GetState(address, key)
		case op == SSTORE && stackLen >= 2:
			// capture SSTORE opcodes and record the written entry in the local storage.
			key := common.Hash(stack.data[stackLen-1].Bytes32())
			l.storage[address][key] = common.Hash(stack.data[stackLen-2].Bytes32())
		}
		log.Storage = l.storage[address].Copy()
	}
	l.logs = append(l.logs, log)
}

// CaptureFault implements the EVMLogger interface to trace an execution fault
// while running an opcode.
func (l *StructLogger) CaptureFault(pc uint64, op OpCode, gas, cost uint64, scope *ScopeContext, depth int, err error) {
	if n := len(l.logs); n > 0 && l.logs[n-1].Pc == pc && l.logs[n-1].Depth == depth {
		l.logs[n-1].Err = err
	}
}

// CaptureEnd is called after the call finishes to finalize the tracing.
func (l *StructLogger) CaptureEnd(output []byte, gasUsed uint64, err error) {
	l.output = common.CopyBytes(output)
	l.gasUsed = gasUsed
	l.err = err
}

// StructLogs returns the captured log entries.
func (l *StructLogger) StructLogs() []StructLog { return l.logs }

// Error returns the VM error captured by the trace.
func (l *StructLogger) Error() error { return l.err }

// Output returns the VM return value captured by the trace.
func (l *StructLogger) Output() []byte { return l.output }

// GasUsed returns the gas spent by the outermost frame.
func (l *StructLogger) GasUsed() uint64 { return l.gasUsed }

// ExecutionTrace groups all structured logs emitted by the EVM
// while replaying a transaction in debug mode as well as transaction
// execution status, the amount of gas used and the return value
type ExecutionTrace struct {
	Gas         uint64         `json:"gas"`
	Failed      bool           `json:"failed"`
	ReturnValue string         `json:"returnValue"`
	StructLogs  []StructLogRes `json:"structLogs"`
}

// StructLogRes stores a structured log emitted by the EVM while replaying a
// transaction in debug mode
type StructLogRes struct {
	Pc            uint64             `json:"pc"`
	Op            string             `json:"op"`
	Gas           uint64             `json:"gas"`
	GasCost       uint64             `json:"gasCost"`
	Depth         int                `json:"depth"`
	Error         string             `json:"error,omitempty"`
	Stack         *[]string          `json:"stack,omitempty"`
	ReturnData    string             `json:"returnData,omitempty"`
	Memory        *[]string          `json:"memory,omitempty"`
	Storage       *map[string]string `json:"storage,omitempty"`
	RefundCounter uint64             `json:"refund,omitempty"`
}

// Trace formats the captured logs into an ExecutionTrace charging gas for
// the whole transaction.
func (l *StructLogger) Trace(gas uint64, failed bool) *ExecutionTrace {
	return &ExecutionTrace{
		Gas:         gas,
		Failed:      failed,
		ReturnValue: fmt.Sprintf("%x", l.output),
		StructLogs:  FormatLogs(l.logs),
	}
}

// FormatLogs formats EVM returned structured logs for json output
func FormatLogs(logs []StructLog) []StructLogRes {
	formatted := make([]StructLogRes, len(logs))
	for index, trace := range logs {
		formatted[index] = StructLogRes{
			Pc:            trace.Pc,
			Op:            trace.Op.String(),
			Gas:           trace.Gas,
			GasCost:       trace.GasCost,
			Depth:         trace.Depth,
			Error:         trace.ErrorString(),
			RefundCounter: trace.RefundCounter,
		}
		if trace.Stack != nil {
			stack := make([]string, len(trace.Stack))
			for i, stackValue := range trace.Stack {
				stack[i] = stackValue.Hex()
			}
			formatted[index].Stack = &stack
		}
		if len(trace.ReturnData) > 0 {
			formatted[index].ReturnData = hexutil.Bytes(trace.ReturnData).String()
		}
		if trace.Memory != nil {
			memory := make([]string, 0, (len(trace.Memory)+31)/32)
			for i := 0; i+32 <= len(trace.Memory); i += 32 {
				memory = append(memory, fmt.Sprintf("%x", trace.Memory[i:i+32]))
			}
			formatted[index].Memory = &memory
		}
		if trace.Storage != nil {
			storage := make(map[string]string)
			for i, storageValue := range trace.Storage {
				storage[fmt.Sprintf("%x", i)] = fmt.Sprintf("%x", storageValue)
			}
			formatted[index].Storage = &storage
		}
	}
	return formatted
}
