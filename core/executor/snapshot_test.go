package executor

import (
	"math/big"
	"testing"

	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(marker uint64) *Snapshot {
	return &Snapshot{
		Marker:   marker,
		TxHash:   common.HexToHash("0x01"),
		Sender:   common.HexToAddress("0xaaaa"),
		Nonce:    7,
		GasLimit: 100000,
		GasPrice: big.NewInt(3),
		Steps:    marker * 10,
		Frames:   []byte{0xc0},
		Overlay:  []byte{0xc1, 0x80},
		Reads: []ReadRecord{
			{Cell: host.Pubkey{1}, Hash: common.HexToHash("0xff")},
			{Cell: host.Pubkey{2}, Hash: common.HexToHash("0xee")},
		},
	}
}

func TestSnapshotEncoding(t *testing.T) {
	snap := testSnapshot(3)
	blob, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, byte(snapshotVersion), blob[0])

	dec, err := DecodeSnapshot(blob)
	require.NoError(t, err)
	assert.Equal(t, snap, dec)
	assert.Equal(t, map[host.Pubkey]common.Hash{
		{1}: common.HexToHash("0xff"),
		{2}: common.HexToHash("0xee"),
	}, dec.ReadSet())

	_, err = DecodeSnapshot(nil)
	assert.Error(t, err)
	_, err = DecodeSnapshot(append([]byte{snapshotVersion + 1}, blob[1:]...))
	assert.Error(t, err)
	_, err = DecodeSnapshot([]byte{snapshotVersion, 0xff, 0xff})
	assert.Error(t, err)
}

func TestSortedReads(t *testing.T) {
	reads := map[host.Pubkey]common.Hash{
		{3}: common.HexToHash("0x03"),
		{1}: common.HexToHash("0x01"),
		{2}: common.HexToHash("0x02"),
	}
	out := sortedReads(reads)
	require.Len(t, out, 3)
	for i, r := range out {
		assert.Equal(t, host.Pubkey{byte(i + 1)}, r.Cell)
	}
}

func TestSnapshotStoreCompareAndReplace(t *testing.T) {
	var (
		program = host.Pubkey(params.CIChainConfig.ProgramID)
		store   = host.NewMemoryStorage()
		snaps   = NewSnapshotStore(program)
		hash    = testSnapshot(1).TxHash
	)
	snap, err := snaps.Load(store, hash)
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, snaps.Save(store, testSnapshot(1), 0))
	assert.ErrorIs(t, snaps.Save(store, testSnapshot(2), 0), ErrSnapshotExists)
	assert.ErrorIs(t, snaps.Save(store, testSnapshot(2), 5), ErrMarkerMismatch)
	require.NoError(t, snaps.Save(store, testSnapshot(2), 1))
	assert.Equal(t, 1, store.Len(), "one live snapshot per transaction")

	snap, err = snaps.Load(store, hash)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(2), snap.Marker)

	cell, err := store.GetAccount(snaps.Key(hash))
	require.NoError(t, err)
	assert.Equal(t, program, cell.Owner)

	require.NoError(t, snaps.Delete(store, hash))
	snap, err = snaps.Load(store, hash)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.ErrorIs(t, snaps.Save(store, testSnapshot(3), 2), ErrNoSnapshot)
	assert.NoError(t, snaps.Delete(store, hash))
}

func TestSnapshotKeys(t *testing.T) {
	snaps := NewSnapshotStore(host.Pubkey(params.CIChainConfig.ProgramID))
	a, b := common.HexToHash("0x01"), common.HexToHash("0x02")
	assert.Equal(t, snaps.Key(a), snaps.Key(a))
	assert.NotEqual(t, snaps.Key(a), snaps.Key(b))

	other := NewSnapshotStore(host.Pubkey(params.DevnetChainConfig.ProgramID))
	assert.NotEqual(t, snaps.Key(a), other.Key(a))
}

func TestSnapshotForeignCell(t *testing.T) {
	var (
		store = host.NewMemoryStorage()
		snaps = NewSnapshotStore(host.Pubkey(params.CIChainConfig.ProgramID))
		hash  = common.HexToHash("0x01")
	)
	require.NoError(t, store.PutAccount(snaps.Key(hash), host.NewAccount(1, host.Pubkey{9}, []byte{1})))
	_, err := snaps.Load(store, hash)
	assert.Error(t, err)
}
