package state

import (
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

const (
	// RecordVersion is the layout version written by this package.
	RecordVersion byte = 1

	// FlagExtensible marks a record whose readers must skip unknown trailing
	// bytes. Without it trailing data is a corruption.
	FlagExtensible byte = 0x01

	// FlagRemoved marks the record of a deleted account. Only its generation
	// is meaningful: it keeps the storage of the deleted account out of reach
	// of a later account at the same address.
	FlagRemoved byte = 0x02

	recordHeaderSize = 1 + 1 + common.AddressLength + 32 + 8 + 4 + 4

	slotEntrySize = 1 + common.HashLength
)

var (
	ErrRecordShort    = errors.New("account record too short")
	ErrRecordVersion  = errors.New("unknown account record version")
	ErrRecordTrailing = errors.New("unexpected trailing bytes in account record")
	ErrRecordAddress  = errors.New("account record bound to another address")
	ErrStorageCell    = errors.New("malformed storage cell")
)

// Record is the fixed-header binary form of an EVM account kept in the data
// of its host cell. All integers are little-endian:
//
//	version(1) | flags(1) | address(20) | balance(32) | nonce(8) | generation(4) | codeLen(4) | code
//
// Storage lives in separate cells; generation selects which set of them is
// current.
type Record struct {
	Flags      byte
	Address    common.Address
	Balance    *uint256.Int
	Nonce      uint64
	Generation uint32
	Code       []byte
}

// MarshalBinary encodes the record.
func (r *Record) MarshalBinary() ([]byte, error) {
	out := make([]byte, recordHeaderSize, recordHeaderSize+len(r.Code))
	out[0] = RecordVersion
	out[1] = r.Flags
	copy(out[2:22], r.Address[:])

	var balance [32]byte
	if r.Balance != nil {
		balance = r.Balance.Bytes32()
	}
	for i := 0; i < 32; i++ {
		out[22+i] = balance[31-i]
	}
	binary.LittleEndian.PutUint64(out[54:], r.Nonce)
	binary.LittleEndian.PutUint32(out[62:], r.Generation)
	binary.LittleEndian.PutUint32(out[66:], uint32(len(r.Code)))
	return append(out, r.Code...), nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) < recordHeaderSize {
		return errors.Wrapf(ErrRecordShort, "%d bytes", len(data))
	}
	if data[0] != RecordVersion {
		return errors.Wrapf(ErrRecordVersion, "version %d", data[0])
	}
	r.Flags = data[1]
	copy(r.Address[:], data[2:22])

	var balance [32]byte
	for i := 0; i < 32; i++ {
		balance[31-i] = data[22+i]
	}
	r.Balance = new(uint256.Int).SetBytes32(balance[:])
	r.Nonce = binary.LittleEndian.Uint64(data[54:])
	r.Generation = binary.LittleEndian.Uint32(data[62:])

	codeLen := uint64(binary.LittleEndian.Uint32(data[66:]))
	rest := data[recordHeaderSize:]
	if uint64(len(rest)) < codeLen {
		return errors.Wrapf(ErrRecordShort, "code of %d bytes, have %d", codeLen, len(rest))
	}
	r.Code = common.CopyBytes(rest[:codeLen])
	if trailing := rest[codeLen:]; len(trailing) > 0 && r.Flags&FlagExtensible == 0 {
		return errors.Wrapf(ErrRecordTrailing, "%d bytes", len(trailing))
	}
	return nil
}

// storageGroup returns the cell key (the slot with its low byte cleared) and
// the index of the slot within the cell.
func storageGroup(key common.Hash) (common.Hash, byte) {
	group := key
	group[common.HashLength-1] = 0
	return group, key[common.HashLength-1]
}

// decodeStorageCell parses a storage cell: a list of (subindex, value) entries
// sorted by subindex. Values are raw 32-byte words.
func decodeStorageCell(data []byte) (map[byte]common.Hash, error) {
	if len(data)%slotEntrySize != 0 {
		return nil, errors.Wrapf(ErrStorageCell, "length %d", len(data))
	}
	slots := make(map[byte]common.Hash, len(data)/slotEntrySize)
	prev := -1
	for off := 0; off < len(data); off += slotEntrySize {
		idx := int(data[off])
		if idx <= prev {
			return nil, errors.Wrapf(ErrStorageCell, "unsorted subindex %d", idx)
		}
		prev = idx
		slots[byte(idx)] = common.BytesToHash(data[off+1 : off+slotEntrySize])
	}
	return slots, nil
}

// encodeStorageCell serializes slots, dropping zero values.
func encodeStorageCell(slots map[byte]common.Hash) []byte {
	idxs := make([]int, 0, len(slots))
	for idx, val := range slots {
		if val != (common.Hash{}) {
			idxs = append(idxs, int(idx))
		}
	}
	sort.Ints(idxs)
	out := make([]byte, 0, len(idxs)*slotEntrySize)
	for _, idx := range idxs {
		val := slots[byte(idx)]
		out = append(out, byte(idx))
		out = append(out, val[:]...)
	}
	return out
}
