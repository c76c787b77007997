// Package ethdb selects and opens the key-value engine that persists host
// cells.
package ethdb

import (
	"io"
	"strings"

	"github.com/bnb-chain/hostevm/ethdb/leveldb"
	"github.com/bnb-chain/hostevm/ethdb/pebble"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/pkg/errors"
)

// Supported engines.
const (
	EnginePebble  = "pebble"
	EngineLevelDB = "leveldb"
	EngineMemory  = "memory"
)

// KeyValueStore is the part of a key-value database the host cell store
// relies on.
type KeyValueStore interface {
	ethdb.KeyValueReader
	ethdb.KeyValueWriter
	ethdb.Batcher
	io.Closer
}

// Open opens the named engine at path. The memory engine ignores path.
func Open(engine, path string, cache int, readonly bool) (KeyValueStore, error) {
	var (
		db  KeyValueStore
		err error
	)
	switch strings.ToLower(engine) {
	case EnginePebble, "":
		db, err = pebble.New(path, cache, readonly)
	case EngineLevelDB:
		db, err = leveldb.New(path, cache, readonly)
	case EngineMemory:
		db = memorydb.New()
	default:
		return nil, errors.Errorf("unknown database engine %q", engine)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s database at %s", engine, path)
	}
	return NewMetered(db), nil
}
