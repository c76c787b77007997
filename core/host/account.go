package host

import (
	"github.com/ethereum/go-ethereum/common"
)

// Account is a host cell: a lamport balance, the program allowed to modify
// its data, and the data itself.
type Account struct {
	Lamports   uint64
	Owner      Pubkey
	Executable bool
	Data       []byte
}

// NewAccount creates a cell owned by owner.
func NewAccount(lamports uint64, owner Pubkey, data []byte) *Account {
	return &Account{Lamports: lamports, Owner: owner, Data: data}
}

// Copy returns a deep copy of the account.
func (a *Account) Copy() *Account {
	if a == nil {
		return nil
	}
	cpy := *a
	cpy.Data = common.CopyBytes(a.Data)
	return &cpy
}

// IsEmpty reports whether the cell holds nothing worth keeping.
func (a *Account) IsEmpty() bool {
	return a == nil || (a.Lamports == 0 && len(a.Data) == 0)
}
