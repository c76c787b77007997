package host

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// AccountMeta describes how an instruction uses an account.
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a native call descriptor: the program to run, the accounts
// it touches and its opaque payload.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// ErrMalformedInstruction is returned when an encoded instruction cannot be parsed.
var ErrMalformedInstruction = errors.New("malformed instruction")

const metaSize = PubkeyLength + 2

// Encode serializes the instruction in the little-endian layout
//
//	programID(32) | u64 count | count × (pubkey(32) | signer(1) | writable(1)) | u64 len | data
func (ix *Instruction) Encode() []byte {
	out := make([]byte, 0, PubkeyLength+8+len(ix.Accounts)*metaSize+8+len(ix.Data))
	out = append(out, ix.ProgramID[:]...)
	out = binary.LittleEndian.AppendUint64(out, uint64(len(ix.Accounts)))
	for _, meta := range ix.Accounts {
		out = append(out, meta.Pubkey[:]...)
		out = append(out, boolByte(meta.IsSigner), boolByte(meta.IsWritable))
	}
	out = binary.LittleEndian.AppendUint64(out, uint64(len(ix.Data)))
	return append(out, ix.Data...)
}

// DecodeInstruction parses an instruction produced by Encode. Trailing bytes
// are rejected.
func DecodeInstruction(b []byte) (*Instruction, error) {
	ix := new(Instruction)
	if len(b) < PubkeyLength+8 {
		return nil, errors.Wrap(ErrMalformedInstruction, "short header")
	}
	copy(ix.ProgramID[:], b[:PubkeyLength])
	b = b[PubkeyLength:]

	count := binary.LittleEndian.Uint64(b)
	b = b[8:]
	if count > uint64(len(b)/metaSize) {
		return nil, errors.Wrapf(ErrMalformedInstruction, "account count %d exceeds payload", count)
	}
	ix.Accounts = make([]AccountMeta, count)
	for i := range ix.Accounts {
		copy(ix.Accounts[i].Pubkey[:], b[:PubkeyLength])
		signer, writable := b[PubkeyLength], b[PubkeyLength+1]
		if signer > 1 || writable > 1 {
			return nil, errors.Wrapf(ErrMalformedInstruction, "account %d flags", i)
		}
		ix.Accounts[i].IsSigner = signer == 1
		ix.Accounts[i].IsWritable = writable == 1
		b = b[metaSize:]
	}
	if len(b) < 8 {
		return nil, errors.Wrap(ErrMalformedInstruction, "missing data length")
	}
	size := binary.LittleEndian.Uint64(b)
	b = b[8:]
	if size != uint64(len(b)) {
		return nil, errors.Wrapf(ErrMalformedInstruction, "data length %d, have %d", size, len(b))
	}
	ix.Data = append([]byte(nil), b...)
	return ix, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
