package state

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

type slotRLP struct {
	Key   common.Hash
	Value common.Hash
}

type objectRLP struct {
	Address    common.Address
	HasBalance bool
	Balance    []byte
	HasNonce   bool
	Nonce      uint64
	CodeSet    bool
	Code       []byte
	Storage    []slotRLP
	Created    bool
	Destructed bool
}

type transientRLP struct {
	Address common.Address
	Slots   []slotRLP
}

type substateRLP struct {
	Objects     []objectRLP
	Transient   []transientRLP
	Refund      uint64
	Logs        uint64
	Withdrawals uint64 `rlp:"optional"`
}

type overlayRLP struct {
	Layers      []substateRLP
	Logs        []*gethtypes.Log
	Refund      uint64
	Withdrawals []*Withdrawal `rlp:"optional"`
}

func sortedSlots(s Storage) []slotRLP {
	out := make([]slotRLP, 0, len(s))
	for k, v := range s {
		out = append(out, slotRLP{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key[:], out[j].Key[:]) < 0 })
	return out
}

func sortedAddrs[V any](m map[common.Address]V) []common.Address {
	out := make([]common.Address, 0, len(m))
	for addr := range m {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Encode serializes every substate, the logs, the withdrawals and the refund
// counter. The
// output is deterministic. Cached reads of the projection are not included;
// they are reloaded, and verified by the caller, on resume.
func (s *StateDB) Encode() ([]byte, error) {
	enc := overlayRLP{Logs: s.logs, Refund: s.refund, Withdrawals: s.withdrawals}
	for _, layer := range s.layers {
		lr := substateRLP{Refund: layer.refund, Logs: uint64(layer.logs), Withdrawals: uint64(layer.withdrawals)}
		for _, addr := range sortedAddrs(layer.objects) {
			d := layer.objects[addr]
			or := objectRLP{
				Address:    addr,
				HasNonce:   d.nonce != nil,
				CodeSet:    d.codeSet,
				Code:       d.code,
				Storage:    sortedSlots(d.storage),
				Created:    d.created,
				Destructed: d.destructed,
			}
			if d.balance != nil {
				or.HasBalance = true
				or.Balance = d.balance.Bytes()
			}
			if d.nonce != nil {
				or.Nonce = *d.nonce
			}
			lr.Objects = append(lr.Objects, or)
		}
		for _, addr := range sortedAddrs(layer.transient) {
			lr.Transient = append(lr.Transient, transientRLP{addr, sortedSlots(layer.transient[addr])})
		}
		enc.Layers = append(enc.Layers, lr)
	}
	return rlp.EncodeToBytes(&enc)
}

// Decode restores an overlay produced by Encode on top of proj.
func Decode(proj *Projection, data []byte) (*StateDB, error) {
	var dec overlayRLP
	if err := rlp.DecodeBytes(data, &dec); err != nil {
		return nil, errors.Wrap(err, "decoding overlay")
	}
	if len(dec.Layers) == 0 {
		return nil, errors.New("decoding overlay: no base substate")
	}
	s := New(proj)
	s.logs = dec.Logs
	s.withdrawals = dec.Withdrawals
	s.refund = dec.Refund
	s.layers = s.layers[:0]
	for _, lr := range dec.Layers {
		if lr.Logs > uint64(len(dec.Logs)) {
			return nil, errors.Errorf("decoding overlay: substate log mark %d beyond %d logs", lr.Logs, len(dec.Logs))
		}
		if lr.Withdrawals > uint64(len(dec.Withdrawals)) {
			return nil, errors.Errorf("decoding overlay: substate withdrawal mark %d beyond %d withdrawals", lr.Withdrawals, len(dec.Withdrawals))
		}
		layer := newSubstate(lr.Refund, int(lr.Logs), int(lr.Withdrawals))
		for _, or := range lr.Objects {
			d := &objectDiff{
				codeSet:    or.CodeSet,
				created:    or.Created,
				destructed: or.Destructed,
			}
			if or.CodeSet {
				d.code = or.Code
			}
			if or.HasBalance {
				d.balance = new(uint256.Int).SetBytes(or.Balance)
			}
			if or.HasNonce {
				nonce := or.Nonce
				d.nonce = &nonce
			}
			if len(or.Storage) > 0 || or.Created {
				d.storage = make(Storage, len(or.Storage))
				for _, slot := range or.Storage {
					d.storage[slot.Key] = slot.Value
				}
			}
			layer.objects[or.Address] = d
		}
		for _, tr := range lr.Transient {
			slots := make(Storage, len(tr.Slots))
			for _, slot := range tr.Slots {
				slots[slot.Key] = slot.Value
			}
			layer.transient[tr.Address] = slots
		}
		s.layers = append(s.layers, layer)
	}
	return s, nil
}
