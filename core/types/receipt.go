package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Receipt reports the final outcome of a transaction.
type Receipt struct {
	TxHash          common.Hash      `json:"transactionHash"`
	From            common.Address   `json:"from"`
	To              *common.Address  `json:"to"`
	Status          ExitStatus       `json:"status"`
	GasUsed         uint64           `json:"gasUsed"`
	ReturnData      hexutil.Bytes    `json:"returnData"`
	Logs            []*gethtypes.Log `json:"logs"`
	ContractAddress *common.Address  `json:"contractAddress,omitempty"`
	Steps           uint64           `json:"steps"`
	Err             string           `json:"error,omitempty"`
}

// Succeeded reports whether the transaction applied its state changes.
func (r *Receipt) Succeeded() bool { return r.Status.Succeeded() }
