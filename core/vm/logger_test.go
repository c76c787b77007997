package vm

import (
	"testing"

	"github.com/bnb-chain/hostevm/core/host"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func traceCode(t *testing.T, code []byte, cfg *LogConfig) *StructLogger {
	statedb := newTestState(host.NewMemoryStorage())
	statedb.SetCode(contractA, code)
	logger := NewStructLogger(cfg)

	evm := newTestEVM(statedb, Config{Tracer: logger})
	evm.BeginCall(testOrigin, contractA, nil, 100_000, new(uint256.Int))
	done, err := evm.Run(0)
	require.NoError(t, err)
	require.True(t, done)
	return logger
}

func TestStructLoggerSteps(t *testing.T) {
	// PUSH1 42 PUSH1 1 SSTORE STOP
	logger := traceCode(t, common.FromHex("602a60015500"), nil)
	require.NoError(t, logger.Error())

	logs := logger.StructLogs()
	require.Len(t, logs, 4)
	var (
		ops  []OpCode
		pcs  []uint64
		used uint64
	)
	for i, l := range logs {
		ops = append(ops, l.Op)
		pcs = append(pcs, l.Pc)
		assert.Equal(t, 1, l.Depth)
		if i > 0 {
			assert.Equal(t, logs[i-1].Gas-logs[i-1].GasCost, l.Gas, "gas after %v", logs[i-1].Op)
		}
		used += l.GasCost
	}
	assert.Equal(t, []OpCode{PUSH1, PUSH1, SSTORE, STOP}, ops)
	assert.Equal(t, []uint64{0, 2, 4, 5}, pcs)
	assert.Equal(t, uint64(100_000), logs[0].Gas)
	assert.Equal(t, used, logger.GasUsed())

	sstore := logs[2]
	require.Len(t, sstore.Stack, 2)
	assert.Equal(t, uint64(42), sstore.Stack[0].Uint64())
	assert.Equal(t, uint64(1), sstore.Stack[1].Uint64())
	assert.Equal(t, common.HexToHash("0x2a"), sstore.Storage[common.HexToHash("0x01")])
	assert.Nil(t, logs[0].Storage)

	formatted := FormatLogs(logs)
	assert.Equal(t, "SSTORE", formatted[2].Op)
	assert.Equal(t, []string{"0x2a", "0x1"}, *formatted[2].Stack)
	assert.Equal(t, map[string]string{
		"0000000000000000000000000000000000000000000000000000000000000001": "000000000000000000000000000000000000000000000000000000000000002a",
	}, *formatted[2].Storage)
}

func TestStructLoggerFault(t *testing.T) {
	// PUSH1 5 JUMP: the destination is not a JUMPDEST.
	logger := traceCode(t, common.FromHex("600556"), &LogConfig{DisableStack: true, EnableMemory: true})
	require.ErrorIs(t, logger.Error(), ErrInvalidJump)
	assert.Equal(t, uint64(100_000), logger.GasUsed())

	logs := logger.StructLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, JUMP, logs[1].Op)
	assert.ErrorIs(t, logs[1].Err, ErrInvalidJump)
	assert.NoError(t, logs[0].Err)
	assert.Nil(t, logs[1].Stack)
	assert.Empty(t, logs[1].Memory)

	formatted := FormatLogs(logs)
	assert.Equal(t, ErrInvalidJump.Error(), formatted[1].Error)
	assert.Nil(t, formatted[1].Stack)
}

func TestStructLoggerLimit(t *testing.T) {
	logger := traceCode(t, common.FromHex("602a60015500"), &LogConfig{Limit: 2})
	require.Len(t, logger.StructLogs(), 2)
	require.NoError(t, logger.Error())
}
