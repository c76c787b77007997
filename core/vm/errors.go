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

	"github.com/bnb-chain/hostevm/core/types"
)

// List evm execution errors
var (
	ErrOutOfGas                 = errors.New("out of gas")
	ErrCodeStoreOutOfGas        = errors.New("contract creation code storage out of gas")
	ErrDepth                    = errors.New("max call depth exceeded")
	ErrInsufficientBalance      = errors.New("insufficient balance for transfer")
	ErrContractAddressCollision = errors.New("contract address collision")
	ErrExecutionReverted        = errors.New("execution reverted")
	ErrMaxCodeSizeExceeded      = errors.New("max code size exceeded")
	ErrInvalidJump              = errors.New("invalid jump destination")
	ErrWriteProtection          = errors.New("write protection")
	ErrReturnDataOutOfBounds    = errors.New("return data out of bounds")
	ErrGasUintOverflow          = errors.New("gas uint64 overflow")
	ErrNonceUintOverflow        = errors.New("nonce uint64 overflow")

	// errStopToken is an internal token indicating interpreter loop termination,
	// never returned to outside callers.
	errStopToken = errors.New("stop token")
)

// Errors that abort the whole transaction rather than the current frame.
var (
	// ErrOutOfMemory is returned when the arena cannot hold a frame record,
	// a stack or the memory of a frame.
	ErrOutOfMemory = &FatalError{Status: types.StatusFatalOutOfMemory, Msg: "out of memory"}

	// ErrHostCallFailed is returned when a native invocation issued through
	// the host bridge fails. Host side effects cannot be rolled back by the
	// overlay, so the transaction cannot continue.
	ErrHostCallFailed = &FatalError{Status: types.StatusFatalHostCall, Msg: "host call failed"}

	// ErrNotSupported is returned for features the engine refuses to run.
	ErrNotSupported = &FatalError{Status: types.StatusFatalNotSupported, Msg: "not supported"}
)

// FatalError is an error that unwinds every frame of the transaction. No
// state written by the transaction survives it.
type FatalError struct {
	Status types.ExitStatus
	Msg    string
	Cause  error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *FatalError) Unwrap() error { return e.Cause }

// Is matches fatal errors by status, so a wrapped cause still compares equal
// to its sentinel.
func (e *FatalError) Is(target error) bool {
	t, ok := target.(*FatalError)
	return ok && t.Status == e.Status
}

// fatal wraps cause into a fatal error of the given kind.
func fatal(kind *FatalError, cause error) *FatalError {
	return &FatalError{Status: kind.Status, Msg: kind.Msg, Cause: cause}
}

// IsFatal reports whether err aborts the whole transaction.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// ErrStackUnderflow wraps an evm error when the items on the stack less
// than the minimal requirement.
type ErrStackUnderflow struct {
	stackLen int
	required int
}

func (e *ErrStackUnderflow) Error() string {
	return fmt.Sprintf("stack underflow (%d <=> %d)", e.stackLen, e.required)
}

// ErrStackOverflow wraps an evm error when the items on the stack exceeds
// the maximum allowance.
type ErrStackOverflow struct {
	stackLen int
	limit    int
}

func (e *ErrStackOverflow) Error() string {
	return fmt.Sprintf("stack limit reached %d (%d)", e.stackLen, e.limit)
}

// ErrInvalidOpCode wraps an evm error when an invalid opcode is encountered.
type ErrInvalidOpCode struct {
	opcode OpCode
}

func (e *ErrInvalidOpCode) Error() string { return fmt.Sprintf("invalid opcode: %s", e.opcode) }

// StatusOf maps the outcome of the outermost frame to the exit status
// reported to the host. halt is the opcode that ended a successful frame.
func StatusOf(err error, halt OpCode) types.ExitStatus {
	if err == nil {
		switch halt {
		case RETURN:
			return types.StatusReturned
		case SELFDESTRUCT:
			return types.StatusSuicided
		default:
			return types.StatusStopped
		}
	}
	var (
		fatalErr  *FatalError
		underflow *ErrStackUnderflow
		overflow  *ErrStackOverflow
		invalidOp *ErrInvalidOpCode
	)
	switch {
	case errors.As(err, &fatalErr):
		return fatalErr.Status
	case errors.Is(err, ErrExecutionReverted):
		return types.StatusRevert
	case errors.As(err, &underflow):
		return types.StatusStackUnderflow
	case errors.As(err, &overflow):
		return types.StatusStackOverflow
	case errors.As(err, &invalidOp):
		return types.StatusInvalidOpcode
	case errors.Is(err, ErrInvalidJump):
		return types.StatusInvalidJump
	case errors.Is(err, ErrGasUintOverflow):
		return types.StatusInvalidRange
	case errors.Is(err, ErrDepth):
		return types.StatusCallTooDeep
	case errors.Is(err, ErrContractAddressCollision):
		return types.StatusCreateCollision
	case errors.Is(err, ErrMaxCodeSizeExceeded):
		return types.StatusCodeSizeLimit
	case errors.Is(err, ErrReturnDataOutOfBounds):
		return types.StatusReturnDataBounds
	case errors.Is(err, ErrOutOfGas), errors.Is(err, ErrCodeStoreOutOfGas):
		return types.StatusOutOfGas
	case errors.Is(err, ErrInsufficientBalance):
		return types.StatusInsufficientFunds
	case errors.Is(err, ErrWriteProtection):
		return types.StatusWriteProtection
	case errors.Is(err, ErrNonceUintOverflow):
		return types.StatusNonceOverflow
	}
	return types.StatusFatalOther
}
