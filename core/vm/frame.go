package vm

import (
	"fmt"

	"github.com/bnb-chain/hostevm/core/arena"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// frameRecordSize is the arena block every frame reserves for itself, so the
// call depth is bounded by the arena as well as by params.CallCreateDepth.
const frameRecordSize = 128

// FrameKind is the instruction that opened a frame.
type FrameKind uint8

const (
	FrameCall FrameKind = iota
	FrameCallCode
	FrameDelegateCall
	FrameStaticCall
	FrameCreate
	FrameCreate2
)

var frameKindNames = [...]string{"CALL", "CALLCODE", "DELEGATECALL", "STATICCALL", "CREATE", "CREATE2"}

func (k FrameKind) String() string {
	if int(k) < len(frameKindNames) {
		return frameKindNames[k]
	}
	return fmt.Sprintf("frame kind %d", k)
}

// IsCreate reports whether the frame runs init code.
func (k FrameKind) IsCreate() bool { return k == FrameCreate || k == FrameCreate2 }

// Frame is one activation on the EVM's explicit call stack. Nested calls do
// not recurse on the Go stack: the caller's frame stays parked in the slice
// with its pc already past the call instruction until the callee delivers
// its result.
type Frame struct {
	Kind  FrameKind
	scope ScopeContext
	pc    uint64
	depth int

	readOnly   bool   // Whether to throw on stateful modifications
	returnData []byte // Last CALL's return data for subsequent reuse

	// Overlay substate opened when the frame was entered.
	snapshot int

	// Window of the caller's memory receiving the return data.
	retOffset, retSize uint64

	record arena.Ptr
}

// Contract returns the contract executing in the frame.
func (f *Frame) Contract() *Contract { return f.scope.Contract }

// PC returns the program counter of the frame.
func (f *Frame) PC() uint64 { return f.pc }

// Depth returns the call depth of the frame, 0 for the outermost one.
func (f *Frame) Depth() int { return f.depth }

// newFrame reserves the frame record and sets up an empty stack and memory.
func (evm *EVM) newFrame(kind FrameKind, contract *Contract, readOnly bool, snapshot int) (*Frame, error) {
	rec, err := evm.arena.Alloc(frameRecordSize, 8)
	if err != nil {
		return nil, fatal(ErrOutOfMemory, err)
	}
	f := &Frame{
		Kind:     kind,
		depth:    len(evm.frames),
		readOnly: readOnly,
		snapshot: snapshot,
		record:   rec,
	}
	f.scope = ScopeContext{
		Memory:   NewMemory(evm.arena),
		Stack:    newstack(),
		Contract: contract,
	}
	return f, nil
}

// release hands the frame's arena blocks and stack back.
func (evm *EVM) release(f *Frame) {
	if f.scope.Stack != nil {
		returnStack(f.scope.Stack)
		f.scope.Stack = nil
	}
	if err := f.scope.Memory.Free(); err != nil {
		evm.logger.Error("Failed to release frame memory", "depth", f.depth, "err", err)
	}
	if err := evm.arena.Free(f.record); err != nil {
		evm.logger.Error("Failed to release frame record", "depth", f.depth, "err", err)
	}
}

// frameRLP is the persisted form of a Frame.
type frameRLP struct {
	Kind         uint8
	PC           uint64
	Gas          uint64
	Caller       common.Address
	Self         common.Address
	CodeAddr     common.Address
	Code         []byte
	CodeHash     common.Hash
	Input        []byte
	Value        []byte
	IsDeployment bool
	ReadOnly     bool
	Stack        []common.Hash
	Memory       []byte
	MemGasCost   uint64
	ReturnData   []byte
	Snapshot     uint64
	RetOffset    uint64
	RetSize      uint64
}

type framesRLP struct {
	Frames []frameRLP
}

// EncodeFrames serializes the call stack. It must only be called between
// two Run invocations, when every frame is at an opcode boundary.
func (evm *EVM) EncodeFrames() ([]byte, error) {
	enc := framesRLP{Frames: make([]frameRLP, 0, len(evm.frames))}
	for _, f := range evm.frames {
		c := f.scope.Contract
		fr := frameRLP{
			Kind:         uint8(f.Kind),
			PC:           f.pc,
			Gas:          c.Gas,
			Caller:       c.CallerAddress,
			Self:         c.self,
			Code:         c.Code,
			CodeHash:     c.CodeHash,
			Input:        c.Input,
			Value:        c.value.Bytes(),
			IsDeployment: c.IsDeployment,
			ReadOnly:     f.readOnly,
			Memory:       f.scope.Memory.Data(),
			MemGasCost:   f.scope.Memory.lastGasCost,
			ReturnData:   f.returnData,
			Snapshot:     uint64(f.snapshot),
			RetOffset:    f.retOffset,
			RetSize:      f.retSize,
		}
		if c.CodeAddr != nil {
			fr.CodeAddr = *c.CodeAddr
		}
		fr.Stack = make([]common.Hash, len(f.scope.Stack.data))
		for i := range f.scope.Stack.data {
			fr.Stack[i] = f.scope.Stack.data[i].Bytes32()
		}
		enc.Frames = append(enc.Frames, fr)
	}
	return rlp.EncodeToBytes(&enc)
}

// RestoreFrames rebuilds a call stack persisted by EncodeFrames. The EVM
// must be fresh.
func (evm *EVM) RestoreFrames(data []byte) error {
	if len(evm.frames) != 0 || evm.done {
		return fmt.Errorf("restore into a running evm (%d frames)", len(evm.frames))
	}
	var dec framesRLP
	if err := rlp.DecodeBytes(data, &dec); err != nil {
		return err
	}
	if len(dec.Frames) == 0 {
		return fmt.Errorf("no frames to restore")
	}
	for _, fr := range dec.Frames {
		if fr.Kind > uint8(FrameCreate2) {
			return fmt.Errorf("invalid frame kind %d", fr.Kind)
		}
		if len(fr.Stack) > int(params.StackLimit) {
			return &ErrStackOverflow{stackLen: len(fr.Stack), limit: int(params.StackLimit)}
		}
		contract := NewContract(fr.Caller, fr.Self, new(uint256.Int).SetBytes(fr.Value), fr.Gas)
		codeAddr := fr.CodeAddr
		contract.SetCallCode(&codeAddr, fr.CodeHash, fr.Code)
		contract.Input = fr.Input
		contract.IsDeployment = fr.IsDeployment

		f, err := evm.newFrame(FrameKind(fr.Kind), contract, fr.ReadOnly, int(fr.Snapshot))
		if err != nil {
			evm.releaseAll()
			return err
		}
		evm.frames = append(evm.frames, f)

		f.pc = fr.PC
		f.returnData = fr.ReturnData
		f.retOffset, f.retSize = fr.RetOffset, fr.RetSize
		if err := f.scope.Memory.Resize(uint64(len(fr.Memory))); err != nil {
			evm.releaseAll()
			return err
		}
		f.scope.Memory.Set(0, uint64(len(fr.Memory)), fr.Memory)
		f.scope.Memory.lastGasCost = fr.MemGasCost
		for i := range fr.Stack {
			f.scope.Stack.push(new(uint256.Int).SetBytes32(fr.Stack[i][:]))
		}
	}
	return nil
}
