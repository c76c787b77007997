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
	"math"
	"math/big"

	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/bnb-chain/hostevm/core/vm"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Config is a basic type specifying certain configuration flags for running
// the EVM.
type Config struct {
	ChainConfig *params.ChainConfig
	Difficulty  *big.Int
	Origin      common.Address
	Coinbase    common.Address
	BlockNumber *big.Int
	Time        uint64
	GasLimit    uint64
	GasPrice    *big.Int
	Value       *uint256.Int
	EVMConfig   vm.Config

	// StepLimit is the number of instructions per Run call. Execution
	// yields and resumes in place every StepLimit instructions; zero runs
	// to completion in one call.
	StepLimit uint64

	State     *state.StateDB
	GetHashFn func(n uint64) common.Hash
}

// sets defaults on the config
func setDefaults(cfg *Config) {
	if cfg.ChainConfig == nil {
		cfg.ChainConfig = params.CIChainConfig
	}
	if cfg.Difficulty == nil {
		cfg.Difficulty = new(big.Int)
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = math.MaxUint64
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = new(big.Int)
	}
	if cfg.Value == nil {
		cfg.Value = new(uint256.Int)
	}
	if cfg.BlockNumber == nil {
		cfg.BlockNumber = new(big.Int)
	}
	if cfg.GetHashFn == nil {
		cfg.GetHashFn = func(n uint64) common.Hash {
			return common.BytesToHash(crypto.Keccak256([]byte(new(big.Int).SetUint64(n).String())))
		}
	}
}

// NewState returns an overlay over a fresh in-memory host storage.
func NewState(cfg *params.ChainConfig) *state.StateDB {
	proj := state.NewProjection(host.Pubkey(cfg.ProgramID), host.NewMemoryStorage())
	return state.New(proj)
}

// run drives evm until the outermost frame finishes.
func run(evm *vm.EVM, stepLimit uint64) (*vm.ExecutionResult, error) {
	defer evm.Release()
	for {
		done, err := evm.Run(stepLimit)
		if err != nil {
			return evm.Result(), err
		}
		if done {
			return evm.Result(), nil
		}
	}
}

// Execute executes the code using the input as call data during the execution.
// It returns the EVM's return value, the new state and an error if it failed.
//
// Execute sets up an in-memory, temporary, environment for the execution of
// the given code. It makes sure that it's restored to its original state afterwards.
func Execute(code, input []byte, cfg *Config) ([]byte, *state.StateDB, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	setDefaults(cfg)

	if cfg.State == nil {
		cfg.State = NewState(cfg.ChainConfig)
	}
	var (
		address = common.BytesToAddress([]byte("contract"))
		vmenv   = NewEnv(cfg)
	)
	cfg.State.CreateAccount(address)
	// set the receiver's (the executing contract) code for execution.
	cfg.State.SetCode(address, code)

	// Call the code with the given configuration.
	vmenv.BeginCall(cfg.Origin, address, input, cfg.GasLimit, cfg.Value)
	res, err := run(vmenv, cfg.StepLimit)
	if err != nil {
		return res.ReturnData, cfg.State, err
	}
	return res.ReturnData, cfg.State, res.Err
}

// Create executes the code using the EVM create method
func Create(input []byte, cfg *Config) ([]byte, common.Address, uint64, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	setDefaults(cfg)

	if cfg.State == nil {
		cfg.State = NewState(cfg.ChainConfig)
	}
	vmenv := NewEnv(cfg)

	// Call the code with the given configuration.
	address := vmenv.BeginCreate(cfg.Origin, input, cfg.GasLimit, cfg.Value)
	res, err := run(vmenv, cfg.StepLimit)
	if err != nil {
		return res.ReturnData, address, res.LeftOverGas, err
	}
	return res.ReturnData, address, res.LeftOverGas, res.Err
}

// Call executes the code given by the contract's address. It will return the
// EVM's return value or an error if it failed.
//
// Call, unlike Execute, requires a config and also requires the State field to
// be set.
func Call(address common.Address, input []byte, cfg *Config) ([]byte, uint64, error) {
	setDefaults(cfg)

	vmenv := NewEnv(cfg)

	// Call the code with the given configuration.
	vmenv.BeginCall(cfg.Origin, address, input, cfg.GasLimit, cfg.Value)
	res, err := run(vmenv, cfg.StepLimit)
	if err != nil {
		return res.ReturnData, res.LeftOverGas, err
	}
	return res.ReturnData, res.LeftOverGas, res.Err
}
