package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEncoding(t *testing.T) {
	rec := &Record{
		Flags:      FlagExtensible,
		Address:    common.HexToAddress("0xdeadbeef"),
		Balance:    uint256.NewInt(0x0102),
		Nonce:      7,
		Generation: 2,
		Code:       []byte{0x60, 0x00},
	}
	data, err := rec.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, recordHeaderSize+2)
	assert.Equal(t, RecordVersion, data[0])
	// Balance is little-endian.
	assert.Equal(t, byte(0x02), data[22])
	assert.Equal(t, byte(0x01), data[23])
	assert.Equal(t, byte(7), data[54])

	var dec Record
	require.NoError(t, dec.UnmarshalBinary(data))
	assert.Equal(t, rec, &dec)
}

func TestRecordTrailingBytes(t *testing.T) {
	rec := &Record{Address: common.HexToAddress("0x01"), Balance: uint256.NewInt(1)}
	strict, _ := rec.MarshalBinary()
	rec.Flags = FlagExtensible
	extensible, _ := rec.MarshalBinary()

	var dec Record
	assert.ErrorIs(t, dec.UnmarshalBinary(append(strict, 0xaa)), ErrRecordTrailing)
	assert.NoError(t, dec.UnmarshalBinary(append(extensible, 0xaa, 0xbb)))
}

func TestRecordMalformed(t *testing.T) {
	rec := &Record{Balance: new(uint256.Int), Code: []byte{1, 2, 3}}
	data, _ := rec.MarshalBinary()

	var dec Record
	assert.ErrorIs(t, dec.UnmarshalBinary(data[:10]), ErrRecordShort)
	assert.ErrorIs(t, dec.UnmarshalBinary(data[:len(data)-1]), ErrRecordShort)

	bad := append([]byte{}, data...)
	bad[0] = 9
	assert.ErrorIs(t, dec.UnmarshalBinary(bad), ErrRecordVersion)
}

func TestStorageCellEncoding(t *testing.T) {
	slots := map[byte]common.Hash{
		0x10: common.HexToHash("0x01"),
		0x02: common.HexToHash("0x02"),
		0x03: {},
	}
	data := encodeStorageCell(slots)
	assert.Len(t, data, 2*slotEntrySize, "zero values are dropped")
	assert.Equal(t, byte(0x02), data[0], "entries are sorted")

	dec, err := decodeStorageCell(data)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), dec[0x10])
	assert.Len(t, dec, 2)

	_, err = decodeStorageCell(data[:5])
	assert.ErrorIs(t, err, ErrStorageCell)

	swapped := append(append([]byte{}, data[slotEntrySize:]...), data[:slotEntrySize]...)
	_, err = decodeStorageCell(swapped)
	assert.ErrorIs(t, err, ErrStorageCell)
}

func TestStorageGroup(t *testing.T) {
	group, idx := storageGroup(common.HexToHash("0x1234"))
	assert.Equal(t, common.HexToHash("0x1200"), group)
	assert.Equal(t, byte(0x34), idx)
}
