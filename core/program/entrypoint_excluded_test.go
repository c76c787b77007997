//go:build no_entrypoint

package program

import (
	"context"
	"testing"

	"github.com/bnb-chain/hostevm/core/executor"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/stretchr/testify/assert"
)

func TestEntrypointExcluded(t *testing.T) {
	db := host.NewDatabase(memorydb.New(), 1)
	p := NewProcessor(Config{Executor: executor.Config{ChainConfig: params.CIChainConfig}}, db, nil)
	_, err := p.Process(context.Background(), &Invocation{Data: []byte{byte(TagCancel), Version}})
	assert.ErrorIs(t, err, ErrEntrypointExcluded)
}
