package executor

import (
	"math/big"
	"sort"

	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

const snapshotVersion = 1

var (
	snapshotSeed = []byte("SNAPSHOT")

	snapshotSizeGauge = metrics.NewRegisteredGauge("executor/snapshot/size", nil)
)

// ReadRecord is the fingerprint of one host cell read by a transaction.
type ReadRecord struct {
	Cell host.Pubkey
	Hash common.Hash
}

// Snapshot is everything needed to continue a transaction that ran out of
// steps: the call stack, the overlay and the fingerprints of every cell the
// transaction read so far.
type Snapshot struct {
	Marker uint64
	TxHash common.Hash
	Sender common.Address
	Nonce  uint64

	GasLimit uint64
	GasPrice *big.Int
	Steps    uint64

	Frames  []byte
	Overlay []byte
	Reads   []ReadRecord
}

// ReadSet returns the read fingerprints as a map.
func (s *Snapshot) ReadSet() map[host.Pubkey]common.Hash {
	reads := make(map[host.Pubkey]common.Hash, len(s.Reads))
	for _, r := range s.Reads {
		reads[r.Cell] = r.Hash
	}
	return reads
}

// sortedReads flattens reads in cell order so equal read sets encode equally.
func sortedReads(reads map[host.Pubkey]common.Hash) []ReadRecord {
	out := make([]ReadRecord, 0, len(reads))
	for cell, hash := range reads {
		out = append(out, ReadRecord{Cell: cell, Hash: hash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cell.Cmp(out[j].Cell) < 0 })
	return out
}

// EncodeSnapshot serializes s as a version byte followed by the snappy
// compressed RLP encoding.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	blob, err := rlp.EncodeToBytes(s)
	if err != nil {
		return nil, errors.Wrap(err, "encoding snapshot")
	}
	return append([]byte{snapshotVersion}, snappy.Encode(nil, blob)...), nil
}

// DecodeSnapshot parses a blob produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, errors.New("empty snapshot")
	}
	if data[0] != snapshotVersion {
		return nil, errors.Errorf("unknown snapshot version %d", data[0])
	}
	blob, err := snappy.Decode(nil, data[1:])
	if err != nil {
		return nil, errors.Wrap(err, "decompressing snapshot")
	}
	s := new(Snapshot)
	if err := rlp.DecodeBytes(blob, s); err != nil {
		return nil, errors.Wrap(err, "decoding snapshot")
	}
	return s, nil
}

// SnapshotStore keeps at most one snapshot per transaction, each in a host
// cell derived from the transaction hash.
type SnapshotStore struct {
	program host.Pubkey
	log     log.Logger
}

// NewSnapshotStore creates a snapshot store for cells owned by program.
func NewSnapshotStore(program host.Pubkey) *SnapshotStore {
	return &SnapshotStore{program: program, log: log.New("module", "snapshots")}
}

// Key returns the cell holding the snapshot of txHash.
func (s *SnapshotStore) Key(txHash common.Hash) host.Pubkey {
	key, _, err := host.FindProgramAddress([][]byte{{params.AccountSeedVersion}, snapshotSeed, txHash[:]}, s.program)
	if err != nil {
		panic(err)
	}
	return key
}

// Load returns the snapshot of txHash, or nil if there is none.
func (s *SnapshotStore) Load(store host.Storage, txHash common.Hash) (*Snapshot, error) {
	cell, err := store.GetAccount(s.Key(txHash))
	if err != nil {
		return nil, errors.Wrapf(err, "loading snapshot of %x", txHash)
	}
	if cell == nil || len(cell.Data) == 0 {
		return nil, nil
	}
	if cell.Owner != s.program {
		return nil, errors.Errorf("snapshot cell of %x owned by %s", txHash, cell.Owner)
	}
	snap, err := DecodeSnapshot(cell.Data)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot of %x", txHash)
	}
	if snap.TxHash != txHash {
		return nil, errors.Errorf("snapshot cell of %x holds %x", txHash, snap.TxHash)
	}
	return snap, nil
}

// Save writes snap if the stored snapshot still carries the marker prev. A
// prev of zero requires that no snapshot exists yet.
func (s *SnapshotStore) Save(store host.Storage, snap *Snapshot, prev uint64) error {
	existing, err := s.Load(store, snap.TxHash)
	if err != nil {
		return err
	}
	switch {
	case prev == 0 && existing != nil:
		return ErrSnapshotExists
	case prev != 0 && existing == nil:
		return ErrNoSnapshot
	case prev != 0 && existing.Marker != prev:
		return errors.Wrapf(ErrMarkerMismatch, "have %d, want %d", existing.Marker, prev)
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	key := s.Key(snap.TxHash)
	cell, err := store.GetAccount(key)
	if err != nil {
		return errors.Wrapf(err, "reading snapshot cell %s", key)
	}
	if cell == nil {
		cell = host.NewAccount(0, s.program, nil)
	}
	cell.Owner = s.program
	cell.Data = data
	snapshotSizeGauge.Update(int64(len(data)))
	s.log.Trace("Saving snapshot", "tx", snap.TxHash, "marker", snap.Marker, "size", len(data))
	return store.PutAccount(key, cell)
}

// Delete drops the snapshot of txHash. Deleting a missing snapshot is not
// an error.
func (s *SnapshotStore) Delete(store host.Storage, txHash common.Hash) error {
	key := s.Key(txHash)
	cell, err := store.GetAccount(key)
	if err != nil {
		return errors.Wrapf(err, "reading snapshot cell %s", key)
	}
	if cell == nil {
		return nil
	}
	return store.DeleteAccount(key)
}
