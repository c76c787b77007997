package host

import (
	"sort"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/bnb-chain/hostevm/ethdb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

var (
	cacheHitMeter  = metrics.NewRegisteredMeter("host/cache/hit", nil)
	cacheMissMeter = metrics.NewRegisteredMeter("host/cache/miss", nil)
	batchSizeGauge = metrics.NewRegisteredGauge("host/batch/accounts", nil)
	conflictMeter  = metrics.NewRegisteredMeter("host/batch/conflict", nil)
)

// ErrConflict is returned by Batch.Commit when a cell the batch read was
// rewritten by another commit in the meantime. Nothing is written.
var ErrConflict = errors.New("host cell changed by a concurrent commit")

// cellPrefix namespaces host cells in the key-value store.
var cellPrefix = []byte("c")

// Storage is read/write access to host cells. A missing cell reads as nil
// without an error.
type Storage interface {
	GetAccount(key Pubkey) (*Account, error)
	PutAccount(key Pubkey, acc *Account) error
	DeleteAccount(key Pubkey) error
}

// Database persists host cells in a key-value store, fronted by a fastcache
// of encoded cells. Writes go straight through; use NewBatch to stage a
// step's writes and apply them atomically.
type Database struct {
	db    ethdb.KeyValueStore
	cache *fastcache.Cache
	lock  sync.RWMutex
	log   log.Logger
}

// NewDatabase wraps db with a cache of cacheMB megabytes.
func NewDatabase(db ethdb.KeyValueStore, cacheMB int) *Database {
	if cacheMB <= 0 {
		cacheMB = 16
	}
	return &Database{
		db:    db,
		cache: fastcache.New(cacheMB * 1024 * 1024),
		log:   log.New("module", "host"),
	}
}

func cellKey(key Pubkey) []byte {
	return append(append([]byte{}, cellPrefix...), key[:]...)
}

// GetAccount loads a cell.
func (d *Database) GetAccount(key Pubkey) (*Account, error) {
	d.lock.RLock()
	defer d.lock.RUnlock()
	return d.get(key)
}

func (d *Database) get(key Pubkey) (*Account, error) {
	blob, err := d.blob(key)
	if err != nil || blob == nil {
		return nil, err
	}
	return decodeAccount(blob, key)
}

// blob returns the encoded cell, nil if it does not exist.
func (d *Database) blob(key Pubkey) ([]byte, error) {
	k := cellKey(key)
	if blob, ok := d.cache.HasGet(nil, k); ok {
		cacheHitMeter.Mark(1)
		return blob, nil
	}
	cacheMissMeter.Mark(1)

	ok, err := d.db.Has(k)
	if err != nil {
		return nil, errors.Wrapf(err, "probing cell %s", key)
	}
	if !ok {
		return nil, nil
	}
	blob, err := d.db.Get(k)
	if err != nil {
		return nil, errors.Wrapf(err, "reading cell %s", key)
	}
	d.cache.Set(k, blob)
	return blob, nil
}

// digest fingerprints the stored cell. Missing cells digest to zero.
func (d *Database) digest(key Pubkey) (common.Hash, error) {
	blob, err := d.blob(key)
	if err != nil || blob == nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(blob), nil
}

// PutAccount stores a cell.
func (d *Database) PutAccount(key Pubkey, acc *Account) error {
	blob, err := rlp.EncodeToBytes(acc)
	if err != nil {
		return errors.Wrapf(err, "encoding cell %s", key)
	}
	d.lock.Lock()
	defer d.lock.Unlock()

	k := cellKey(key)
	if err := d.db.Put(k, blob); err != nil {
		return errors.Wrapf(err, "writing cell %s", key)
	}
	d.cache.Set(k, blob)
	return nil
}

// DeleteAccount removes a cell.
func (d *Database) DeleteAccount(key Pubkey) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	k := cellKey(key)
	d.cache.Del(k)
	return errors.Wrapf(d.db.Delete(k), "deleting cell %s", key)
}

// Close releases the cache and the underlying store.
func (d *Database) Close() error {
	d.cache.Reset()
	return d.db.Close()
}

func decodeAccount(blob []byte, key Pubkey) (*Account, error) {
	acc := new(Account)
	if err := rlp.DecodeBytes(blob, acc); err != nil {
		return nil, errors.Wrapf(err, "decoding cell %s", key)
	}
	return acc, nil
}

// Batch stages cell writes on top of a Database. Reads see staged writes.
// Nothing reaches the database until Commit.
//
// The first read of every cell is fingerprinted. Commit fails with
// ErrConflict if any of those cells was rewritten since, so batches built
// concurrently over the same cells serialize instead of overwriting each
// other.
type Batch struct {
	db      *Database
	pending map[Pubkey]*Account // nil value marks a deletion
	reads   map[Pubkey]common.Hash
}

// NewBatch starts a write batch.
func (d *Database) NewBatch() *Batch {
	return &Batch{
		db:      d,
		pending: make(map[Pubkey]*Account),
		reads:   make(map[Pubkey]common.Hash),
	}
}

// GetAccount returns the staged cell if any, else the stored one.
func (b *Batch) GetAccount(key Pubkey) (*Account, error) {
	if acc, ok := b.pending[key]; ok {
		return acc.Copy(), nil
	}
	b.db.lock.RLock()
	defer b.db.lock.RUnlock()

	blob, err := b.db.blob(key)
	if err != nil {
		return nil, err
	}
	if _, ok := b.reads[key]; !ok {
		if blob == nil {
			b.reads[key] = common.Hash{}
		} else {
			b.reads[key] = crypto.Keccak256Hash(blob)
		}
	}
	if blob == nil {
		return nil, nil
	}
	return decodeAccount(blob, key)
}

// PutAccount stages a write.
func (b *Batch) PutAccount(key Pubkey, acc *Account) error {
	b.pending[key] = acc.Copy()
	return nil
}

// DeleteAccount stages a deletion.
func (b *Batch) DeleteAccount(key Pubkey) error {
	b.pending[key] = nil
	return nil
}

// Len returns the number of staged cells.
func (b *Batch) Len() int { return len(b.pending) }

// Reads returns the number of cells the batch read from the database.
func (b *Batch) Reads() int { return len(b.reads) }

// Discard drops every staged write and forgets what was read.
func (b *Batch) Discard() {
	b.pending = make(map[Pubkey]*Account)
	b.reads = make(map[Pubkey]common.Hash)
}

// Rollback drops every staged write but keeps the reads, so decisions taken
// on them are still validated by Commit.
func (b *Batch) Rollback() {
	b.pending = make(map[Pubkey]*Account)
}

// Verify checks that no cell read by the batch has changed.
func (b *Batch) Verify() error {
	b.db.lock.RLock()
	defer b.db.lock.RUnlock()
	return b.verify()
}

func (b *Batch) verify() error {
	for key, want := range b.reads {
		have, err := b.db.digest(key)
		if err != nil {
			return err
		}
		if have != want {
			conflictMeter.Mark(1)
			return errors.Wrapf(ErrConflict, "cell %s", key)
		}
	}
	return nil
}

// Commit validates the reads and writes the staged cells atomically, in
// key order.
func (b *Batch) Commit() error {
	if len(b.pending) == 0 {
		return b.Verify()
	}
	keys := make([]Pubkey, 0, len(b.pending))
	for key := range b.pending {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Cmp(keys[j]) < 0 })

	b.db.lock.Lock()
	defer b.db.lock.Unlock()

	if err := b.verify(); err != nil {
		return err
	}
	batch := b.db.db.NewBatch()
	blobs := make([][]byte, len(keys))
	for i, key := range keys {
		acc := b.pending[key]
		if acc == nil {
			if err := batch.Delete(cellKey(key)); err != nil {
				return err
			}
			continue
		}
		blob, err := rlp.EncodeToBytes(acc)
		if err != nil {
			return errors.Wrapf(err, "encoding cell %s", key)
		}
		blobs[i] = blob
		if err := batch.Put(cellKey(key), blob); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return errors.Wrap(err, "committing host batch")
	}
	for i, key := range keys {
		if blobs[i] == nil {
			b.db.cache.Del(cellKey(key))
		} else {
			b.db.cache.Set(cellKey(key), blobs[i])
		}
	}
	batchSizeGauge.Update(int64(len(keys)))
	b.db.log.Trace("Committed host batch", "cells", len(keys), "reads", len(b.reads))
	b.Discard()
	return nil
}

// MemoryStorage is a map-backed Storage, mostly useful in tests and for
// emulation against a fixed state.
type MemoryStorage struct {
	lock  sync.RWMutex
	cells map[Pubkey]*Account
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{cells: make(map[Pubkey]*Account)}
}

func (m *MemoryStorage) GetAccount(key Pubkey) (*Account, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.cells[key].Copy(), nil
}

func (m *MemoryStorage) PutAccount(key Pubkey, acc *Account) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.cells[key] = acc.Copy()
	return nil
}

func (m *MemoryStorage) DeleteAccount(key Pubkey) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.cells, key)
	return nil
}

// Len returns the number of cells.
func (m *MemoryStorage) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.cells)
}
