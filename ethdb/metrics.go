package ethdb

import (
	"time"

	"github.com/ethereum/go-ethereum/metrics"
)

var (
	getTimer    = metrics.NewRegisteredTimer("ethdb/get/time", nil)
	putTimer    = metrics.NewRegisteredTimer("ethdb/put/time", nil)
	deleteTimer = metrics.NewRegisteredTimer("ethdb/delete/time", nil)
	missCounter = metrics.NewRegisteredCounter("ethdb/get/miss", nil)
)

// metered records timings for every store operation.
type metered struct {
	KeyValueStore
}

// NewMetered wraps db so reads and writes are reported to the metrics registry.
func NewMetered(db KeyValueStore) KeyValueStore {
	return &metered{KeyValueStore: db}
}

func (m *metered) Get(key []byte) ([]byte, error) {
	defer getTimer.UpdateSince(time.Now())
	val, err := m.KeyValueStore.Get(key)
	if err != nil {
		missCounter.Inc(1)
	}
	return val, err
}

func (m *metered) Put(key []byte, value []byte) error {
	defer putTimer.UpdateSince(time.Now())
	return m.KeyValueStore.Put(key, value)
}

func (m *metered) Delete(key []byte) error {
	defer deleteTimer.UpdateSince(time.Now())
	return m.KeyValueStore.Delete(key)
}
