// Copyright 2015 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package runtime

import (
	"math/big"
	"testing"

	"github.com/bnb-chain/hostevm/core/vm"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var returnTen = []byte{
	byte(vm.PUSH1), 10,
	byte(vm.PUSH1), 0,
	byte(vm.MSTORE),
	byte(vm.PUSH1), 32,
	byte(vm.PUSH1), 0,
	byte(vm.RETURN),
}

func TestDefaults(t *testing.T) {
	cfg := new(Config)
	setDefaults(cfg)

	if cfg.Difficulty == nil {
		t.Error("expected difficulty to be non nil")
	}
	if cfg.GasLimit == 0 {
		t.Error("didn't expect gaslimit to be zero")
	}
	if cfg.GasPrice == nil {
		t.Error("expected time to be non nil")
	}
	if cfg.Value == nil {
		t.Error("expected time to be non nil")
	}
	if cfg.GetHashFn == nil {
		t.Error("expected time to be non nil")
	}
	if cfg.BlockNumber == nil {
		t.Error("expected block number to be non nil")
	}
	if cfg.ChainConfig != params.CIChainConfig {
		t.Error("expected the ci profile by default")
	}
}

func TestEVM(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("crashed with: %v", r)
		}
	}()

	Execute([]byte{
		byte(vm.DIFFICULTY),
		byte(vm.TIMESTAMP),
		byte(vm.GASLIMIT),
		byte(vm.PUSH1),
		byte(vm.ORIGIN),
		byte(vm.BLOCKHASH),
		byte(vm.COINBASE),
	}, nil, nil)
}

func TestExecute(t *testing.T) {
	ret, _, err := Execute(returnTen, nil, nil)
	if err != nil {
		t.Fatal("didn't expect error", err)
	}

	num := new(big.Int).SetBytes(ret)
	if num.Cmp(big.NewInt(10)) != 0 {
		t.Error("Expected 10, got", num)
	}
}

func TestCall(t *testing.T) {
	statedb := NewState(params.CIChainConfig)
	address := common.HexToAddress("0x0a")
	statedb.SetCode(address, returnTen)

	ret, _, err := Call(address, nil, &Config{State: statedb})
	if err != nil {
		t.Fatal("didn't expect error", err)
	}

	num := new(big.Int).SetBytes(ret)
	if num.Cmp(big.NewInt(10)) != 0 {
		t.Error("Expected 10, got", num)
	}
}

func TestCreate(t *testing.T) {
	// Init code returning returnTen as the runtime code.
	initCode := append([]byte{
		byte(vm.PUSH1), byte(len(returnTen)),
		byte(vm.DUP1),
		byte(vm.PUSH1), 12,
		byte(vm.PUSH1), 0,
		byte(vm.CODECOPY),
		byte(vm.PUSH1), 0,
		byte(vm.RETURN),
		0, // padding up to offset 12
	}, returnTen...)

	cfg := &Config{GasLimit: 1_000_000}
	_, address, leftOver, err := Create(initCode, cfg)
	require.NoError(t, err)
	require.Less(t, leftOver, uint64(1_000_000))
	require.Equal(t, returnTen, cfg.State.GetCode(address))

	ret, _, err := Call(address, nil, cfg)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), new(big.Int).SetBytes(ret))
}

func TestStepLimitDoesNotChangeOutcome(t *testing.T) {
	// Loops five times, adding the counter to slot 0 and returning the sum.
	code := common.FromHex("6005" + // counter
		"5b" + // JUMPDEST at 2
		"80600054016000" + "55" + // slot0 += counter
		"6001900380" + // counter - 1
		"600257" + // JUMPI back while non zero
		"60005460005260206000f3")

	var (
		want    []byte
		wantGas uint64
	)
	for _, limit := range []uint64{0, 1, 2, 3, 7, 100} {
		cfg := &Config{GasLimit: 100_000, StepLimit: limit}
		cfg.State = NewState(params.CIChainConfig)
		address := common.HexToAddress("0x0b")
		cfg.State.SetCode(address, code)

		ret, leftOver, err := Call(address, nil, cfg)
		require.NoError(t, err, "limit %d", limit)
		if limit == 0 {
			want, wantGas = ret, leftOver
			require.Equal(t, big.NewInt(15), new(big.Int).SetBytes(ret))
			continue
		}
		require.Equal(t, want, ret, "limit %d", limit)
		require.Equal(t, wantGas, leftOver, "limit %d", limit)
	}
}

func TestExecuteRevert(t *testing.T) {
	code := []byte{byte(vm.PUSH1), 0, byte(vm.PUSH1), 0, byte(vm.REVERT)}
	_, _, err := Execute(code, nil, nil)
	require.ErrorIs(t, err, vm.ErrExecutionReverted)
}
