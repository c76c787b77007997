package executor

import (
	"testing"

	"github.com/bnb-chain/hostevm/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntrinsicGas(t *testing.T) {
	tests := []struct {
		data     []byte
		creation bool
		want     uint64
	}{
		{nil, false, params.TxGas},
		{nil, true, params.TxGasContractCreation},
		{[]byte{0, 0}, false, params.TxGas + 2*params.TxDataZeroGas},
		{[]byte{1, 0, 2}, false, params.TxGas + 2*params.TxDataNonZeroGas + params.TxDataZeroGas},
		{[]byte{0xff}, true, params.TxGasContractCreation + params.TxDataNonZeroGas},
	}
	for i, tt := range tests {
		gas, err := IntrinsicGas(tt.data, tt.creation)
		require.NoError(t, err, "test %d", i)
		assert.Equal(t, tt.want, gas, "test %d", i)
	}
}
