package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// ErrTxType is returned for transaction envelopes the engine does not execute.
var ErrTxType = errors.New("transaction type not supported")

// DecodeTransaction parses a signed legacy transaction from its RLP encoding.
// Typed envelopes carry access lists and fee markets the Istanbul rule set
// does not know about, so they are rejected.
func DecodeTransaction(raw []byte) (*gethtypes.Transaction, error) {
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, errors.Wrap(err, "decoding transaction")
	}
	if tx.Type() != gethtypes.LegacyTxType {
		return nil, errors.Wrapf(ErrTxType, "type %d", tx.Type())
	}
	return tx, nil
}

// Sender recovers the signer of tx. Unprotected (pre EIP-155) signatures are
// accepted, protected ones must carry chainID.
func Sender(tx *gethtypes.Transaction, chainID *big.Int) (common.Address, error) {
	signer := gethtypes.LatestSignerForChainID(chainID)
	if !tx.Protected() {
		signer = gethtypes.HomesteadSigner{}
	}
	from, err := gethtypes.Sender(signer, tx)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "recovering sender")
	}
	return from, nil
}
