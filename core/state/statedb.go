package state

import (
	"fmt"
	"sort"
	"time"

	"github.com/bnb-chain/hostevm/core/host"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	commitTimer   = metrics.NewRegisteredTimer("state/commit", nil)
	accountsMeter = metrics.NewRegisteredMeter("state/commit/accounts", nil)
	storageMeter  = metrics.NewRegisteredMeter("state/commit/slots", nil)
	removedMeter  = metrics.NewRegisteredMeter("state/commit/removed", nil)
	withdrawMeter = metrics.NewRegisteredMeter("state/commit/withdrawals", nil)
	substateGauge = metrics.NewRegisteredGauge("state/substates", nil)
	emptyCodeHash = crypto.Keccak256Hash(nil)
)

// Storage is a set of slot values.
type Storage map[common.Hash]common.Hash

func (s Storage) String() (str string) {
	for key, value := range s {
		str += fmt.Sprintf("%X : %X\n", key, value)
	}
	return
}

// Withdrawal moves lamports out of the binding cell of Source when the
// overlay is committed.
type Withdrawal struct {
	Source      common.Address
	Destination host.Pubkey
	Lamports    uint64
}

func (s Storage) Copy() Storage {
	cpy := make(Storage, len(s))
	for key, value := range s {
		cpy[key] = value
	}
	return cpy
}

// StateDB is the transaction overlay the interpreter runs against. It is a
// stack of substates: every call frame opens one, a successful frame merges
// it into its parent and a failed one drops it. Nothing reaches host storage
// until Commit, which the controller only calls once the outermost frame has
// succeeded.
//
// Like the go-ethereum StateDB, read failures of the backing store do not
// surface from the accessors; the first one is kept and reported by Error.
type StateDB struct {
	proj *Projection

	// Unmodified accounts and slots as loaded from the projection.
	origin        map[common.Address]*Account
	originStorage map[common.Address]Storage

	layers      []*substate
	logs        []*gethtypes.Log
	withdrawals []*Withdrawal
	refund      uint64

	thash   common.Hash
	txIndex int

	dbErr error
}

// New creates an overlay over proj with a single base substate.
func New(proj *Projection) *StateDB {
	return &StateDB{
		proj:          proj,
		origin:        make(map[common.Address]*Account),
		originStorage: make(map[common.Address]Storage),
		layers:        []*substate{newSubstate(0, 0, 0)},
	}
}

// Projection returns the account projection backing the overlay.
func (s *StateDB) Projection() *Projection { return s.proj }

func (s *StateDB) setError(err error) {
	if s.dbErr == nil {
		s.dbErr = err
	}
}

// Error returns the first storage error seen while executing.
func (s *StateDB) Error() error {
	return s.dbErr
}

// SetTxContext sets the current transaction hash and index, used when
// decorating logs.
func (s *StateDB) SetTxContext(thash common.Hash, ti int) {
	s.thash = thash
	s.txIndex = ti
}

func (s *StateDB) account(addr common.Address) *Account {
	if acc, ok := s.origin[addr]; ok {
		return acc
	}
	acc, err := s.proj.Load(addr)
	if err != nil {
		s.setError(err)
		acc = newAccount(addr)
	}
	s.origin[addr] = acc
	return acc
}

func (s *StateDB) top() *substate { return s.layers[len(s.layers)-1] }

// lookup walks the substates from the innermost outwards and returns the
// first diff for addr that satisfies has.
func (s *StateDB) lookup(addr common.Address, has func(*objectDiff) bool) *objectDiff {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if d := s.layers[i].objects[addr]; d != nil && has(d) {
			return d
		}
	}
	return nil
}

func (s *StateDB) touchedInTx(addr common.Address) bool {
	return s.lookup(addr, func(*objectDiff) bool { return true }) != nil
}

// Exist reports whether the given account exists. Self-destructed accounts
// keep existing until the transaction ends.
func (s *StateDB) Exist(addr common.Address) bool {
	return s.touchedInTx(addr) || s.account(addr).Exists
}

// Empty returns whether the account is considered empty (EIP-161).
func (s *StateDB) Empty(addr common.Address) bool {
	return s.GetNonce(addr) == 0 && s.GetBalance(addr).IsZero() && s.GetCodeSize(addr) == 0
}

// GetBalance retrieves the balance of addr.
func (s *StateDB) GetBalance(addr common.Address) *uint256.Int {
	if d := s.lookup(addr, func(d *objectDiff) bool { return d.balance != nil }); d != nil {
		return new(uint256.Int).Set(d.balance)
	}
	return new(uint256.Int).Set(s.account(addr).Balance)
}

// GetNonce retrieves the nonce of addr.
func (s *StateDB) GetNonce(addr common.Address) uint64 {
	if d := s.lookup(addr, func(d *objectDiff) bool { return d.nonce != nil }); d != nil {
		return *d.nonce
	}
	return s.account(addr).Nonce
}

// GetCode retrieves the code of addr.
func (s *StateDB) GetCode(addr common.Address) []byte {
	if d := s.lookup(addr, func(d *objectDiff) bool { return d.codeSet }); d != nil {
		return d.code
	}
	return s.account(addr).Code
}

// GetCodeSize returns the length of the code of addr.
func (s *StateDB) GetCodeSize(addr common.Address) int {
	return len(s.GetCode(addr))
}

// GetCodeHash returns the code hash of addr, or the zero hash for accounts
// that do not exist or are empty.
func (s *StateDB) GetCodeHash(addr common.Address) common.Hash {
	if !s.Exist(addr) || s.Empty(addr) {
		return common.Hash{}
	}
	code := s.GetCode(addr)
	if len(code) == 0 {
		return emptyCodeHash
	}
	return crypto.Keccak256Hash(code)
}

// GetState retrieves the current value of a storage slot.
func (s *StateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	for i := len(s.layers) - 1; i >= 0; i-- {
		d := s.layers[i].objects[addr]
		if d == nil {
			continue
		}
		if val, ok := d.storage[key]; ok {
			return val
		}
		if d.created {
			return common.Hash{}
		}
	}
	return s.GetCommittedState(addr, key)
}

// GetCommittedState retrieves the value a slot had when the transaction
// started.
func (s *StateDB) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	slots := s.originStorage[addr]
	if slots == nil {
		slots = make(Storage)
		s.originStorage[addr] = slots
	}
	if val, ok := slots[key]; ok {
		return val
	}
	acc := s.account(addr)
	if !acc.Exists {
		return common.Hash{}
	}
	val, err := s.proj.LoadStorage(addr, acc.Generation, key)
	if err != nil {
		s.setError(err)
	}
	slots[key] = val
	return val
}

// GetTransientState retrieves an EIP-1153 transient slot.
func (s *StateDB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if val, ok := s.layers[i].transient[addr][key]; ok {
			return val
		}
	}
	return common.Hash{}
}

// HasSelfDestructed reports whether addr self-destructed in this transaction.
func (s *StateDB) HasSelfDestructed(addr common.Address) bool {
	return s.lookup(addr, func(d *objectDiff) bool { return d.destructed }) != nil
}

// CreateAccount resets addr to a fresh account. A balance already held at
// the address is carried over.
func (s *StateDB) CreateAccount(addr common.Address) {
	balance := s.GetBalance(addr)
	d := s.top().diff(addr)
	nonce := uint64(0)
	*d = objectDiff{
		balance: balance,
		nonce:   &nonce,
		codeSet: true,
		storage: make(Storage),
		created: true,
	}
}

// AddBalance adds amount to the balance of addr.
func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int) {
	s.SetBalance(addr, new(uint256.Int).Add(s.GetBalance(addr), amount))
}

// SubBalance subtracts amount from the balance of addr.
func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int) {
	s.SetBalance(addr, new(uint256.Int).Sub(s.GetBalance(addr), amount))
}

// SetBalance overwrites the balance of addr.
func (s *StateDB) SetBalance(addr common.Address, amount *uint256.Int) {
	s.top().diff(addr).balance = new(uint256.Int).Set(amount)
}

// SetNonce overwrites the nonce of addr.
func (s *StateDB) SetNonce(addr common.Address, nonce uint64) {
	s.top().diff(addr).nonce = &nonce
}

// SetCode sets the code of addr.
func (s *StateDB) SetCode(addr common.Address, code []byte) {
	d := s.top().diff(addr)
	d.code = common.CopyBytes(code)
	d.codeSet = true
}

// SetState writes a storage slot of addr.
func (s *StateDB) SetState(addr common.Address, key, value common.Hash) {
	d := s.top().diff(addr)
	if d.storage == nil {
		d.storage = make(Storage)
	}
	d.storage[key] = value
}

// SetTransientState writes an EIP-1153 transient slot.
func (s *StateDB) SetTransientState(addr common.Address, key, value common.Hash) {
	top := s.top()
	if top.transient[addr] == nil {
		top.transient[addr] = make(Storage)
	}
	top.transient[addr][key] = value
}

// SelfDestruct marks addr as destroyed and clears its balance. The account
// is wiped when the transaction is committed.
func (s *StateDB) SelfDestruct(addr common.Address) {
	if !s.Exist(addr) {
		return
	}
	d := s.top().diff(addr)
	d.destructed = true
	d.balance = new(uint256.Int)
}

// AddLog records a log emitted by the executing frame.
func (s *StateDB) AddLog(log *gethtypes.Log) {
	log.TxHash = s.thash
	log.TxIndex = uint(s.txIndex)
	log.Index = uint(len(s.logs))
	s.logs = append(s.logs, log)
}

// Logs returns the logs emitted so far by frames that have not been reverted.
func (s *StateDB) Logs() []*gethtypes.Log {
	return s.logs
}

// Withdraw schedules lamports to leave the binding cell of source for
// destination. Nothing moves until Commit; reverting the substate drops the
// withdrawal.
func (s *StateDB) Withdraw(source common.Address, destination host.Pubkey, lamports uint64) {
	s.withdrawals = append(s.withdrawals, &Withdrawal{
		Source:      source,
		Destination: destination,
		Lamports:    lamports,
	})
}

// Withdrawn returns the lamports already scheduled to leave the binding cell
// of source.
func (s *StateDB) Withdrawn(source common.Address) (total uint64) {
	for _, w := range s.withdrawals {
		if w.Source == source {
			total += w.Lamports
		}
	}
	return total
}

// Withdrawals returns the withdrawals of frames that have not been reverted.
func (s *StateDB) Withdrawals() []*Withdrawal {
	return s.withdrawals
}

// AddRefund adds gas to the refund counter.
func (s *StateDB) AddRefund(gas uint64) {
	s.refund += gas
}

// SubRefund removes gas from the refund counter.
func (s *StateDB) SubRefund(gas uint64) {
	if gas > s.refund {
		s.setError(fmt.Errorf("refund counter below zero (gas: %d > refund: %d)", gas, s.refund))
		s.refund = 0
		return
	}
	s.refund -= gas
}

// GetRefund returns the current value of the refund counter.
func (s *StateDB) GetRefund() uint64 {
	return s.refund
}

// Snapshot opens a substate and returns its identifier.
func (s *StateDB) Snapshot() int {
	id := len(s.layers)
	s.layers = append(s.layers, newSubstate(s.refund, len(s.logs), len(s.withdrawals)))
	substateGauge.Update(int64(len(s.layers)))
	return id
}

// RevertToSnapshot drops the substate id and every substate above it.
func (s *StateDB) RevertToSnapshot(id int) {
	if id <= 0 || id >= len(s.layers) {
		s.setError(fmt.Errorf("revision id %v cannot be reverted", id))
		return
	}
	layer := s.layers[id]
	s.refund = layer.refund
	s.logs = s.logs[:layer.logs]
	s.withdrawals = s.withdrawals[:layer.withdrawals]
	s.layers = s.layers[:id]
	substateGauge.Update(int64(len(s.layers)))
}

// DiscardSnapshot merges the substate id and every substate above it into
// the substate below.
func (s *StateDB) DiscardSnapshot(id int) {
	if id <= 0 || id >= len(s.layers) {
		s.setError(fmt.Errorf("revision id %v cannot be merged", id))
		return
	}
	for i := len(s.layers) - 1; i >= id; i-- {
		s.layers[i-1].merge(s.layers[i])
	}
	s.layers = s.layers[:id]
	substateGauge.Update(int64(len(s.layers)))
}

// Depth returns the number of open substates, the base one included.
func (s *StateDB) Depth() int { return len(s.layers) }

// Commit flushes the overlay into host storage. Self-destructed accounts are
// wiped by moving them to a new storage generation, and touched accounts left
// empty are removed (EIP-158). Scheduled withdrawals are paid out last.
func (s *StateDB) Commit() error {
	if s.dbErr != nil {
		return s.dbErr
	}
	if len(s.layers) > 1 {
		s.DiscardSnapshot(1)
	}
	defer func(start time.Time) { commitTimer.UpdateSince(start) }(time.Now())

	base := s.layers[0]
	addrs := make([]common.Address, 0, len(base.objects))
	for addr := range base.objects {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Cmp(addrs[j]) < 0 })

	var slots int
	for _, addr := range addrs {
		d := base.objects[addr]
		origin := s.account(addr)
		acc := &Account{
			Address:    addr,
			Balance:    s.GetBalance(addr),
			Nonce:      s.GetNonce(addr),
			Code:       s.GetCode(addr),
			Generation: origin.Generation,
		}
		storage := d.storage
		switch {
		case d.destructed:
			if !origin.Exists {
				continue
			}
			if err := s.proj.Remove(addr, origin.Generation+1); err != nil {
				return errors.Wrapf(err, "removing %s", addr)
			}
			removedMeter.Mark(1)
			continue
		case d.created && origin.Exists:
			acc.Generation = origin.Generation + 1
		}
		if acc.Empty() && len(storage) == 0 {
			// Touched accounts left empty are deleted (EIP-158).
			if origin.Exists {
				if err := s.proj.Remove(addr, acc.Generation+1); err != nil {
					return errors.Wrapf(err, "removing %s", addr)
				}
				removedMeter.Mark(1)
			}
			continue
		}
		if err := s.proj.Commit(acc, storage); err != nil {
			return errors.Wrapf(err, "committing %s", addr)
		}
		slots += len(storage)
	}
	accountsMeter.Mark(int64(len(addrs)))
	storageMeter.Mark(int64(slots))

	for _, w := range s.withdrawals {
		if err := host.Transfer(s.proj.Store(), s.proj.DeriveBinding(w.Source), w.Destination, w.Lamports); err != nil {
			return errors.Wrapf(err, "withdrawing from %s", w.Source)
		}
	}
	withdrawMeter.Mark(int64(len(s.withdrawals)))
	s.withdrawals = nil

	s.layers = []*substate{newSubstate(s.refund, len(s.logs), len(s.withdrawals))}
	s.origin = make(map[common.Address]*Account)
	s.originStorage = make(map[common.Address]Storage)
	return nil
}
