// Package leveldb implements the host cell store on top of goleveldb.
package leveldb

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

const minCache = 16

var (
	getTimer   = metrics.NewRegisteredTimer("ethdb/leveldb/get", nil)
	putTimer   = metrics.NewRegisteredTimer("ethdb/leveldb/put", nil)
	batchMeter = metrics.NewRegisteredMeter("ethdb/leveldb/batch/bytes", nil)
)

// Database wraps a LevelDB instance.
type Database struct {
	fn string
	db *leveldb.DB

	closeLock sync.Mutex
	closed    bool

	log log.Logger
}

// New opens (or creates) a LevelDB database at file.
func New(file string, cache int, readonly bool) (*Database, error) {
	if cache < minCache {
		cache = minCache
	}
	logger := log.New("database", file)
	db, err := leveldb.OpenFile(file, &opt.Options{
		BlockCacheCapacity: cache / 2 * opt.MiB,
		WriteBuffer:        cache / 4 * opt.MiB,
		ReadOnly:           readonly,
		ErrorIfMissing:     false,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("Opened leveldb store", "cache", cache, "readonly", readonly)
	return &Database{fn: file, db: db, log: logger}, nil
}

// NewMemory returns a LevelDB database over in-memory storage.
func NewMemory() (*Database, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Database{db: db, log: log.New("database", "memory")}, nil
}

// Close releases the database.
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
	return db.db.Has(key, nil)
}

// Get retrieves the given key if it's present in the key-value store.
func (db *Database) Get(key []byte) ([]byte, error) {
	defer getTimer.UpdateSince(time.Now())
	return db.db.Get(key, nil)
}

// Put inserts the given value into the key-value store.
func (db *Database) Put(key []byte, value []byte) error {
	defer putTimer.UpdateSince(time.Now())
	return db.db.Put(key, value, &opt.WriteOptions{Sync: true})
}

// Delete removes the key from the key-value store.
func (db *Database) Delete(key []byte) error {
	return db.db.Delete(key, nil)
}

// NewBatch creates a write-only batch.
func (db *Database) NewBatch() ethdb.Batch {
	return &batch{db: db.db, b: new(leveldb.Batch)}
}

// NewBatchWithSize creates a write-only batch with a pre-allocated buffer.
func (db *Database) NewBatchWithSize(size int) ethdb.Batch {
	return &batch{db: db.db, b: leveldb.MakeBatch(size)}
}

// Path returns the path to the database directory.
func (db *Database) Path() string {
	return db.fn
}

type batch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *batch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int {
	return b.size
}

func (b *batch) Write() error {
	batchMeter.Mark(int64(b.size))
	return b.db.Write(b.b, &opt.WriteOptions{Sync: true})
}

func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}

func (b *batch) Replay(w ethdb.KeyValueWriter) error {
	r := &replayer{writer: w}
	if err := b.b.Replay(r); err != nil {
		return err
	}
	return r.failure
}

// replayer adapts goleveldb's error-less replay callbacks.
type replayer struct {
	writer  ethdb.KeyValueWriter
	failure error
}

func (r *replayer) Put(key, value []byte) {
	if r.failure != nil {
		return
	}
	r.failure = r.writer.Put(key, value)
}

func (r *replayer) Delete(key []byte) {
	if r.failure != nil {
		return
	}
	r.failure = r.writer.Delete(key)
}
