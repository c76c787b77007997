package ethdb

import (
	"testing"

	"github.com/bnb-chain/hostevm/ethdb/leveldb"
	"github.com/bnb-chain/hostevm/ethdb/pebble"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engines(t *testing.T) map[string]KeyValueStore {
	pdb, err := pebble.NewMemory()
	require.NoError(t, err)
	ldb, err := leveldb.NewMemory()
	require.NoError(t, err)
	return map[string]KeyValueStore{
		EnginePebble:  pdb,
		EngineLevelDB: ldb,
		EngineMemory:  NewMetered(memorydb.New()),
	}
}

func TestStoreBasics(t *testing.T) {
	for name, db := range engines(t) {
		t.Run(name, func(t *testing.T) {
			defer db.Close()

			ok, err := db.Has([]byte("cell"))
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, db.Put([]byte("cell"), []byte{1, 2, 3}))
			ok, err = db.Has([]byte("cell"))
			require.NoError(t, err)
			assert.True(t, ok)

			val, err := db.Get([]byte("cell"))
			require.NoError(t, err)
			assert.Equal(t, []byte{1, 2, 3}, val)

			require.NoError(t, db.Delete([]byte("cell")))
			ok, err = db.Has([]byte("cell"))
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBatchReplay(t *testing.T) {
	for name, db := range engines(t) {
		t.Run(name, func(t *testing.T) {
			defer db.Close()
			require.NoError(t, db.Put([]byte("gone"), []byte{9}))

			b := db.NewBatch()
			require.NoError(t, b.Put([]byte("a"), []byte("1")))
			require.NoError(t, b.Put([]byte("b"), []byte("22")))
			require.NoError(t, b.Delete([]byte("gone")))
			assert.Positive(t, b.ValueSize())

			mirror := memorydb.New()
			require.NoError(t, mirror.Put([]byte("gone"), []byte{9}))
			require.NoError(t, b.Replay(mirror))
			require.NoError(t, b.Write())

			for _, store := range []interface {
				Has([]byte) (bool, error)
				Get([]byte) ([]byte, error)
			}{db, mirror} {
				val, err := store.Get([]byte("b"))
				require.NoError(t, err)
				assert.Equal(t, []byte("22"), val)
				ok, err := store.Has([]byte("gone"))
				require.NoError(t, err)
				assert.False(t, ok)
			}

			b.Reset()
			assert.Zero(t, b.ValueSize())
		})
	}
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := Open("bolt", t.TempDir(), 16, false)
	assert.Error(t, err)

	db, err := Open(EngineMemory, "", 0, false)
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}
