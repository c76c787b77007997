// Copyright 2014 The go-ethereum Authors
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

package executor

import (
	"math"

	"github.com/bnb-chain/hostevm/core/state"
	"github.com/bnb-chain/hostevm/core/vm"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// IntrinsicGas computes the 'intrinsic gas' for a message with the given data.
func IntrinsicGas(data []byte, isContractCreation bool) (uint64, error) {
	// Set the starting gas for the raw transaction
	var gas uint64
	if isContractCreation {
		gas = params.TxGasContractCreation
	} else {
		gas = params.TxGas
	}
	dataLen := uint64(len(data))
	// Bump the required gas by the amount of transactional data
	if dataLen > 0 {
		// Zero and non-zero bytes are priced differently
		var nz uint64
		for _, byt := range data {
			if byt != 0 {
				nz++
			}
		}
		// Make sure we don't exceed uint64 for all data combinations
		if (math.MaxUint64-gas)/params.TxDataNonZeroGas < nz {
			return 0, ErrGasUintOverflow
		}
		gas += nz * params.TxDataNonZeroGas

		z := dataLen - nz
		if (math.MaxUint64-gas)/params.TxDataZeroGas < z {
			return 0, ErrGasUintOverflow
		}
		gas += z * params.TxDataZeroGas
	}
	return gas, nil
}

// stateTransition opens and settles a transaction on the overlay. Opening
// buys the gas, bumps the nonce and pushes the outermost frame. Settling
// refunds the unused gas and pays the fee. What runs in between may span
// any number of host steps.
type stateTransition struct {
	tx       *gethtypes.Transaction
	from     common.Address
	gasPrice *uint256.Int
	value    *uint256.Int
	state    *state.StateDB
	evm      *vm.EVM
}

func newStateTransition(evm *vm.EVM, tx *gethtypes.Transaction, from common.Address, statedb *state.StateDB) (*stateTransition, error) {
	gasPrice, overflow := uint256.FromBig(tx.GasPrice())
	if overflow {
		return nil, errors.Wrapf(ErrInsufficientFunds, "gas price %v overflows", tx.GasPrice())
	}
	value, overflow := uint256.FromBig(tx.Value())
	if overflow {
		return nil, errors.Wrapf(ErrInsufficientFunds, "value %v overflows", tx.Value())
	}
	return &stateTransition{
		tx:       tx,
		from:     from,
		gasPrice: gasPrice,
		value:    value,
		state:    statedb,
		evm:      evm,
	}, nil
}

func (st *stateTransition) buyGas() error {
	mgval := new(uint256.Int).SetUint64(st.tx.Gas())
	if _, overflow := mgval.MulOverflow(mgval, st.gasPrice); overflow {
		return errors.Wrapf(ErrInsufficientFunds, "address %v", st.from.Hex())
	}
	balanceCheck := new(uint256.Int).Set(mgval)
	if _, overflow := balanceCheck.AddOverflow(balanceCheck, st.value); overflow {
		return errors.Wrapf(ErrInsufficientFunds, "address %v", st.from.Hex())
	}
	if have := st.state.GetBalance(st.from); have.Cmp(balanceCheck) < 0 {
		return errors.Wrapf(ErrInsufficientFunds, "address %v have %v want %v", st.from.Hex(), have, balanceCheck)
	}
	st.state.SubBalance(st.from, mgval)
	return nil
}

func (st *stateTransition) preCheck() error {
	stNonce := st.state.GetNonce(st.from)
	if msgNonce := st.tx.Nonce(); stNonce < msgNonce {
		return errors.Wrapf(ErrNonceTooHigh, "address %v, tx: %d state: %d", st.from.Hex(), msgNonce, stNonce)
	} else if stNonce > msgNonce {
		return errors.Wrapf(ErrNonceTooLow, "address %v, tx: %d state: %d", st.from.Hex(), msgNonce, stNonce)
	} else if stNonce+1 < stNonce {
		return errors.Wrapf(ErrNonceMax, "address %v, nonce: %d", st.from.Hex(), stNonce)
	}
	return st.buyGas()
}

// begin validates the transaction, charges the gas and starts execution. An
// error leaves the overlay in an undefined state and must discard it.
func (st *stateTransition) begin() error {
	if err := st.preCheck(); err != nil {
		return err
	}
	var (
		to       = st.tx.To()
		creation = to == nil
		data     = st.tx.Data()
	)
	gas, err := IntrinsicGas(data, creation)
	if err != nil {
		return err
	}
	if st.tx.Gas() < gas {
		return errors.Wrapf(ErrIntrinsicGas, "have %d, want %d", st.tx.Gas(), gas)
	}
	remaining := st.tx.Gas() - gas

	st.state.SetTxContext(st.tx.Hash(), 0)
	if creation {
		// Create bumps the sender nonce itself.
		st.evm.BeginCreate(st.from, data, remaining, st.value)
	} else {
		st.state.SetNonce(st.from, st.state.GetNonce(st.from)+1)
		st.evm.BeginCall(st.from, *to, data, remaining, st.value)
	}
	return nil
}

// settle returns the unused and refunded gas to the sender and pays the fee
// to coinbase. It returns the gas used by the transaction.
func (st *stateTransition) settle(leftOver uint64, coinbase common.Address) uint64 {
	gasUsed := st.tx.Gas() - leftOver
	refund := gasUsed / params.RefundQuotient
	if r := st.state.GetRefund(); refund > r {
		refund = r
	}
	leftOver += refund
	gasUsed -= refund

	remaining := new(uint256.Int).Mul(uint256.NewInt(leftOver), st.gasPrice)
	st.state.AddBalance(st.from, remaining)

	fee := new(uint256.Int).Mul(uint256.NewInt(gasUsed), st.gasPrice)
	st.state.AddBalance(coinbase, fee)
	return gasUsed
}
