package program

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// Version is the only payload version the program accepts.
const Version byte = 1

// Tag selects the instruction carried by a payload.
type Tag byte

const (
	TagCreateAccount Tag = iota + 1
	TagDeposit
	TagHolderCreate
	TagHolderWrite
	TagExecuteTx
	TagExecuteTxFromHolder
	TagStepTx
	TagStepTxFromHolder
	TagCancel
)

var tagNames = map[Tag]string{
	TagCreateAccount:       "CreateAccount",
	TagDeposit:             "Deposit",
	TagHolderCreate:        "HolderCreate",
	TagHolderWrite:         "HolderWrite",
	TagExecuteTx:           "ExecuteTx",
	TagExecuteTxFromHolder: "ExecuteTxFromHolder",
	TagStepTx:              "StepTx",
	TagStepTxFromHolder:    "StepTxFromHolder",
	TagCancel:              "Cancel",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", byte(t))
}

var (
	ErrInvalidInstruction = errors.New("invalid instruction")
	ErrUnsupportedVersion = errors.New("unsupported instruction version")
)

// Instruction is a decoded program payload.
type Instruction interface {
	Tag() Tag
}

// CreateAccount materializes the binding of an EVM address.
type CreateAccount struct {
	Address common.Address
}

// Deposit moves lamports from the first signer into the binding of Address
// and credits the EVM balance accordingly.
type Deposit struct {
	Address  common.Address
	Lamports uint64
}

// HolderCreate allocates a holder cell for the first signer.
type HolderCreate struct {
	Seed common.Hash
}

// HolderWrite stores Data at Offset of a holder.
type HolderWrite struct {
	Seed   common.Hash
	Offset uint32
	Data   []byte
}

// ExecuteTx runs a signed transaction to completion.
type ExecuteTx struct {
	Tx []byte
}

// ExecuteTxFromHolder runs the transaction stored in a holder.
type ExecuteTxFromHolder struct {
	Seed common.Hash
}

// StepTx advances a transaction by at most StepLimit instructions. A zero
// Marker starts it, otherwise Marker continues the previous step.
type StepTx struct {
	StepLimit uint64
	Marker    uint64
	Tx        []byte
}

// StepTxFromHolder is StepTx with the transaction read from a holder.
type StepTxFromHolder struct {
	StepLimit uint64
	Marker    uint64
	Seed      common.Hash
}

// Cancel abandons a suspended transaction.
type Cancel struct {
	TxHash common.Hash
}

func (*CreateAccount) Tag() Tag       { return TagCreateAccount }
func (*Deposit) Tag() Tag             { return TagDeposit }
func (*HolderCreate) Tag() Tag        { return TagHolderCreate }
func (*HolderWrite) Tag() Tag         { return TagHolderWrite }
func (*ExecuteTx) Tag() Tag           { return TagExecuteTx }
func (*ExecuteTxFromHolder) Tag() Tag { return TagExecuteTxFromHolder }
func (*StepTx) Tag() Tag              { return TagStepTx }
func (*StepTxFromHolder) Tag() Tag    { return TagStepTxFromHolder }
func (*Cancel) Tag() Tag              { return TagCancel }

// Encode serializes ix as tag, version and the RLP encoded body.
func Encode(ix Instruction) ([]byte, error) {
	body, err := rlp.EncodeToBytes(ix)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", ix.Tag())
	}
	return append([]byte{byte(ix.Tag()), Version}, body...), nil
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (Instruction, error) {
	if len(data) < 2 {
		return nil, errors.Wrap(ErrInvalidInstruction, "payload too short")
	}
	tag, version := Tag(data[0]), data[1]
	if version != Version {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "%s version %d", tag, version)
	}
	var ix Instruction
	switch tag {
	case TagCreateAccount:
		ix = new(CreateAccount)
	case TagDeposit:
		ix = new(Deposit)
	case TagHolderCreate:
		ix = new(HolderCreate)
	case TagHolderWrite:
		ix = new(HolderWrite)
	case TagExecuteTx:
		ix = new(ExecuteTx)
	case TagExecuteTxFromHolder:
		ix = new(ExecuteTxFromHolder)
	case TagStepTx:
		ix = new(StepTx)
	case TagStepTxFromHolder:
		ix = new(StepTxFromHolder)
	case TagCancel:
		ix = new(Cancel)
	default:
		return nil, errors.Wrapf(ErrInvalidInstruction, "unknown tag %d", byte(tag))
	}
	if err := rlp.DecodeBytes(data[2:], ix); err != nil {
		return nil, errors.Wrapf(ErrInvalidInstruction, "%s: %v", tag, err)
	}
	return ix, nil
}
