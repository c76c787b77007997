// Package pebble implements the host cell store on top of pebble.
package pebble

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
)

const minCache = 16 // Minimum amount of memory in megabytes to allocate to pebble read cache

var (
	getTimer   = metrics.NewRegisteredTimer("ethdb/pebble/get", nil)
	putTimer   = metrics.NewRegisteredTimer("ethdb/pebble/put", nil)
	batchMeter = metrics.NewRegisteredMeter("ethdb/pebble/batch/bytes", nil)
)

// Database is a persistent key-value store holding serialized host cells.
type Database struct {
	fn string     // filename for reporting
	db *pebble.DB // pebble instance

	closeLock sync.Mutex
	closed    bool

	log log.Logger // Contextual logger tracking the database path
}

// New opens a pebble database at file with cache megabytes of block cache.
func New(file string, cache int, readonly bool) (*Database, error) {
	if cache < minCache {
		cache = minCache
	}
	return NewCustom(file, func(options *pebble.Options) {
		options.Cache = pebble.NewCache(int64(cache * 1024 * 1024))
		if readonly {
			options.ReadOnly = true
		}
	})
}

// NewMemory returns a pebble database backed by an in-memory filesystem.
func NewMemory() (*Database, error) {
	return NewCustom("", func(options *pebble.Options) {
		options.FS = vfs.NewMem()
	})
}

// NewCustom opens a pebble database; customize may adjust the options.
func NewCustom(file string, customize func(options *pebble.Options)) (*Database, error) {
	options := &pebble.Options{}
	if customize != nil {
		customize(options)
	}
	logger := log.New("database", file)

	db, err := pebble.Open(file, options)
	if options.Cache != nil {
		// The database holds its own reference.
		options.Cache.Unref()
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("Opened pebble store", "readonly", options.ReadOnly)
	return &Database{fn: file, db: db, log: logger}, nil
}

// Close flushes any pending data and releases the store.
func (db *Database) Close() error {
	db.closeLock.Lock()
	defer db.closeLock.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true
	return db.db.Close()
}

// Has retrieves if a key is present in the key-value store.
func (db *Database) Has(key []byte) (bool, error) {
	_, closer, err := db.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, closer.Close()
}

// Get retrieves the given key if it's present in the key-value store.
func (db *Database) Get(key []byte) ([]byte, error) {
	defer getTimer.UpdateSince(time.Now())

	dat, closer, err := db.db.Get(key)
	if err != nil {
		return nil, err
	}
	ret := common.CopyBytes(dat)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Put inserts the given value into the key-value store.
func (db *Database) Put(key []byte, value []byte) error {
	defer putTimer.UpdateSince(time.Now())
	return db.db.Set(key, value, pebble.Sync)
}

// Delete removes the key from the key-value store.
func (db *Database) Delete(key []byte) error {
	return db.db.Delete(key, pebble.Sync)
}

// NewBatch creates a write-only key-value store that buffers changes to its host
// database until a final write is called.
func (db *Database) NewBatch() ethdb.Batch {
	return &batch{db: db.db, b: db.db.NewBatch()}
}

// NewBatchWithSize creates a write-only batch with a pre-allocated buffer.
func (db *Database) NewBatchWithSize(size int) ethdb.Batch {
	return &batch{db: db.db, b: db.db.NewBatchWithSize(size)}
}

// Path returns the path to the database directory.
func (db *Database) Path() string {
	return db.fn
}

// batch is a write-only pebble batch that commits changes to its host database
// when Write is called. A batch cannot be used concurrently.
type batch struct {
	db   *pebble.DB
	b    *pebble.Batch
	size int
}

// Put inserts the given value into the batch for later committing.
func (b *batch) Put(key, value []byte) error {
	if err := b.b.Set(key, value, nil); err != nil {
		return err
	}
	b.size += len(key) + len(value)
	return nil
}

// Delete inserts the a key removal into the batch for later committing.
func (b *batch) Delete(key []byte) error {
	if err := b.b.Delete(key, nil); err != nil {
		return err
	}
	b.size += len(key)
	return nil
}

// ValueSize retrieves the amount of data queued up for writing.
func (b *batch) ValueSize() int {
	return b.size
}

// Write flushes any accumulated data to disk.
func (b *batch) Write() error {
	batchMeter.Mark(int64(b.size))
	return b.db.Apply(b.b, pebble.Sync)
}

// Reset resets the batch for reuse.
func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}

// Replay replays the batch contents.
func (b *batch) Replay(w ethdb.KeyValueWriter) error {
	reader := b.b.Reader()
	for {
		kind, k, v, ok := reader.Next()
		if !ok {
			return nil
		}
		switch kind {
		case pebble.InternalKeyKindSet:
			if err := w.Put(k, v); err != nil {
				return err
			}
		case pebble.InternalKeyKindDelete:
			if err := w.Delete(k); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unhandled batch operation %v", kind)
		}
	}
}
