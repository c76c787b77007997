package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// objectDiff holds the changes one substate made to an account. Unset
// fields fall through to the substate below.
type objectDiff struct {
	balance *uint256.Int
	nonce   *uint64
	code    []byte
	codeSet bool
	storage Storage

	// created marks a fresh account: slots missing from storage read as
	// zero instead of falling through.
	created bool

	destructed bool
}

// substate is one layer of the overlay, opened per call frame.
type substate struct {
	objects   map[common.Address]*objectDiff
	transient map[common.Address]Storage

	// Values of the refund counter, the log count and the withdrawal count
	// when the substate was opened, restored on revert.
	refund      uint64
	logs        int
	withdrawals int
}

func newSubstate(refund uint64, logs, withdrawals int) *substate {
	return &substate{
		objects:     make(map[common.Address]*objectDiff),
		transient:   make(map[common.Address]Storage),
		refund:      refund,
		logs:        logs,
		withdrawals: withdrawals,
	}
}

func (s *substate) diff(addr common.Address) *objectDiff {
	d := s.objects[addr]
	if d == nil {
		d = new(objectDiff)
		s.objects[addr] = d
	}
	return d
}

// merge folds the changes of child, which sits directly above s, into s.
func (s *substate) merge(child *substate) {
	for addr, cd := range child.objects {
		d := s.objects[addr]
		if d == nil {
			s.objects[addr] = cd
			continue
		}
		if cd.created {
			cd.destructed = cd.destructed || d.destructed
			s.objects[addr] = cd
			continue
		}
		if cd.balance != nil {
			d.balance = cd.balance
		}
		if cd.nonce != nil {
			d.nonce = cd.nonce
		}
		if cd.codeSet {
			d.code, d.codeSet = cd.code, true
		}
		if len(cd.storage) > 0 {
			if d.storage == nil {
				d.storage = make(Storage, len(cd.storage))
			}
			for k, v := range cd.storage {
				d.storage[k] = v
			}
		}
		d.destructed = d.destructed || cd.destructed
	}
	for addr, slots := range child.transient {
		if s.transient[addr] == nil {
			s.transient[addr] = slots
			continue
		}
		for k, v := range slots {
			s.transient[addr][k] = v
		}
	}
}
