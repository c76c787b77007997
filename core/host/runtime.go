package host

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/pkg/errors"
)

var (
	ErrUnknownProgram   = errors.New("unknown program")
	ErrMissingSigner    = errors.New("missing required signature")
	ErrReadonlyAccount  = errors.New("instruction modified a read-only account")
	ErrInsufficientFund = errors.New("insufficient lamports")
	ErrAccountInUse     = errors.New("account already in use")
	ErrInvalidData      = errors.New("invalid instruction data")
	ErrInvokeDepth      = errors.New("cross-program invocation depth exceeded")

	invokeCounter = metrics.NewRegisteredCounter("host/invoke/count", nil)
	invokeFailed  = metrics.NewRegisteredCounter("host/invoke/failed", nil)
)

// MaxInvokeDepth bounds nested native invocations.
const MaxInvokeDepth = 4

// SystemProgramID owns plain lamport accounts.
var SystemProgramID = Pubkey{}

// Invoker is the native cross-program call facility. signers lists the
// accounts whose signatures the caller vouches for, including program
// derived addresses the caller is allowed to sign for.
type Invoker interface {
	Invoke(store Storage, ix *Instruction, signers []Pubkey) error
}

// InvokeContext is what a native program sees while processing.
type InvokeContext struct {
	Store       Storage
	Instruction *Instruction
	Signers     map[Pubkey]bool
	Depth       int
	Runtime     *Runtime
}

// IsWritable reports whether the instruction lists key as writable.
func (c *InvokeContext) IsWritable(key Pubkey) bool {
	for _, meta := range c.Instruction.Accounts {
		if meta.Pubkey == key && meta.IsWritable {
			return true
		}
	}
	return false
}

// Program is a native program.
type Program interface {
	Process(ctx *InvokeContext) error
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(ctx *InvokeContext) error

func (f ProgramFunc) Process(ctx *InvokeContext) error { return f(ctx) }

// Runtime dispatches instructions to registered native programs.
type Runtime struct {
	programs map[Pubkey]Program
	depth    int
	log      log.Logger
}

// NewRuntime creates a runtime with the system program registered.
func NewRuntime() *Runtime {
	r := &Runtime{
		programs: make(map[Pubkey]Program),
		log:      log.New("module", "runtime"),
	}
	r.Register(SystemProgramID, ProgramFunc(processSystem))
	return r
}

// Register installs a native program under id.
func (r *Runtime) Register(id Pubkey, p Program) {
	r.programs[id] = p
}

// Invoke runs ix against store.
func (r *Runtime) Invoke(store Storage, ix *Instruction, signers []Pubkey) error {
	invokeCounter.Inc(1)

	prog, ok := r.programs[ix.ProgramID]
	if !ok {
		invokeFailed.Inc(1)
		return errors.Wrapf(ErrUnknownProgram, "%s", ix.ProgramID)
	}
	if r.depth >= MaxInvokeDepth {
		invokeFailed.Inc(1)
		return ErrInvokeDepth
	}
	signed := make(map[Pubkey]bool, len(signers))
	for _, s := range signers {
		signed[s] = true
	}
	for _, meta := range ix.Accounts {
		if meta.IsSigner && !signed[meta.Pubkey] {
			invokeFailed.Inc(1)
			return errors.Wrapf(ErrMissingSigner, "%s", meta.Pubkey)
		}
	}
	r.depth++
	defer func() { r.depth-- }()

	err := prog.Process(&InvokeContext{
		Store:       store,
		Instruction: ix,
		Signers:     signed,
		Depth:       r.depth,
		Runtime:     r,
	})
	if err != nil {
		invokeFailed.Inc(1)
		r.log.Debug("Native invocation failed", "program", ix.ProgramID, "err", err)
	}
	return err
}

// System program instruction tags, matching the host's u32 encoding.
const (
	SystemCreateAccount uint32 = 0
	SystemTransfer      uint32 = 2
)

// NewTransferInstruction builds a system transfer of lamports.
func NewTransferInstruction(from, to Pubkey, lamports uint64) *Instruction {
	data := binary.LittleEndian.AppendUint32(nil, SystemTransfer)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	return &Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}

// NewCreateAccountInstruction builds a system account creation.
func NewCreateAccountInstruction(funder, account Pubkey, lamports, space uint64, owner Pubkey) *Instruction {
	data := binary.LittleEndian.AppendUint32(nil, SystemCreateAccount)
	data = binary.LittleEndian.AppendUint64(data, lamports)
	data = binary.LittleEndian.AppendUint64(data, space)
	data = append(data, owner[:]...)
	return &Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: funder, IsSigner: true, IsWritable: true},
			{Pubkey: account, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

func processSystem(ctx *InvokeContext) error {
	ix := ctx.Instruction
	if len(ix.Data) < 4 || len(ix.Accounts) < 2 {
		return ErrInvalidData
	}
	from, to := ix.Accounts[0].Pubkey, ix.Accounts[1].Pubkey
	if !ctx.Signers[from] {
		return errors.Wrapf(ErrMissingSigner, "%s", from)
	}
	if !ctx.IsWritable(from) || !ctx.IsWritable(to) {
		return ErrReadonlyAccount
	}
	switch binary.LittleEndian.Uint32(ix.Data) {
	case SystemTransfer:
		if len(ix.Data) != 12 {
			return ErrInvalidData
		}
		return Transfer(ctx.Store, from, to, binary.LittleEndian.Uint64(ix.Data[4:]))

	case SystemCreateAccount:
		if len(ix.Data) != 4+8+8+PubkeyLength {
			return ErrInvalidData
		}
		if !ctx.Signers[to] {
			return errors.Wrapf(ErrMissingSigner, "%s", to)
		}
		existing, err := ctx.Store.GetAccount(to)
		if err != nil {
			return err
		}
		if !existing.IsEmpty() {
			return errors.Wrapf(ErrAccountInUse, "%s", to)
		}
		lamports := binary.LittleEndian.Uint64(ix.Data[4:])
		space := binary.LittleEndian.Uint64(ix.Data[12:])
		if err := Transfer(ctx.Store, from, to, lamports); err != nil {
			return err
		}
		acc, err := ctx.Store.GetAccount(to)
		if err != nil {
			return err
		}
		if acc == nil {
			acc = new(Account)
		}
		acc.Owner = BytesToPubkey(ix.Data[20:])
		acc.Data = make([]byte, space)
		return ctx.Store.PutAccount(to, acc)
	}
	return ErrInvalidData
}

// Transfer moves lamports between two cells of store.
func Transfer(store Storage, from, to Pubkey, lamports uint64) error {
	if from == to || lamports == 0 {
		return nil
	}
	src, err := store.GetAccount(from)
	if err != nil {
		return err
	}
	if src == nil || src.Lamports < lamports {
		return errors.Wrapf(ErrInsufficientFund, "%s needs %d", from, lamports)
	}
	dst, err := store.GetAccount(to)
	if err != nil {
		return err
	}
	if dst == nil {
		dst = NewAccount(0, SystemProgramID, nil)
	}
	src.Lamports -= lamports
	dst.Lamports += lamports
	if err := store.PutAccount(from, src); err != nil {
		return err
	}
	return store.PutAccount(to, dst)
}
