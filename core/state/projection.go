package state

import (
	"encoding/binary"

	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	ErrAccountExists = errors.New("account already exists")
	ErrForeignCell   = errors.New("cell is not owned by the program")
	ErrStateChanged  = errors.New("host state changed since it was read")
)

var storageSeed = []byte("storage")

// Account is the decoded EVM view of a host cell.
type Account struct {
	Address    common.Address
	Balance    *uint256.Int
	Nonce      uint64
	Code       []byte
	Generation uint32

	// Exists is set when a record was found in the cell.
	Exists bool
}

func newAccount(addr common.Address) *Account {
	return &Account{Address: addr, Balance: new(uint256.Int)}
}

// Empty reports whether the account has no nonce, balance or code (EIP-161).
func (a *Account) Empty() bool {
	return a.Nonce == 0 && a.Balance.IsZero() && len(a.Code) == 0
}

// DeriveBinding returns the host cell holding the record of addr. It is a
// pure function of its inputs.
func DeriveBinding(program host.Pubkey, addr common.Address) host.Pubkey {
	return mustDerive([][]byte{{params.AccountSeedVersion}, addr[:]}, program)
}

// DeriveStorageCell returns the host cell holding the storage group of addr
// at the given generation.
func DeriveStorageCell(program host.Pubkey, addr common.Address, generation uint32, group common.Hash) host.Pubkey {
	gen := binary.LittleEndian.AppendUint32(nil, generation)
	return mustDerive([][]byte{{params.AccountSeedVersion}, storageSeed, addr[:], gen, group[:]}, program)
}

// mustDerive panics only when no bump seed yields an off-curve point, which
// does not happen for realistic inputs.
func mustDerive(seeds [][]byte, program host.Pubkey) host.Pubkey {
	key, _, err := host.FindProgramAddress(seeds, program)
	if err != nil {
		panic(err)
	}
	return key
}

// Projection maps EVM accounts onto host cells. It remembers a fingerprint
// of every cell it reads so a resumed transaction can prove that its inputs
// did not move underneath it.
type Projection struct {
	program host.Pubkey
	store   host.Storage

	bindings map[common.Address]host.Pubkey
	reads    map[host.Pubkey]common.Hash
	log      log.Logger
}

// NewProjection creates a projection for program over store.
func NewProjection(program host.Pubkey, store host.Storage) *Projection {
	return &Projection{
		program:  program,
		store:    store,
		bindings: make(map[common.Address]host.Pubkey),
		reads:    make(map[host.Pubkey]common.Hash),
		log:      log.New("module", "projection"),
	}
}

// Program returns the owning program identity.
func (p *Projection) Program() host.Pubkey { return p.program }

// Store returns the underlying host storage.
func (p *Projection) Store() host.Storage { return p.store }

// DeriveBinding is the memoized form of the package level DeriveBinding.
func (p *Projection) DeriveBinding(addr common.Address) host.Pubkey {
	if key, ok := p.bindings[addr]; ok {
		return key
	}
	key := DeriveBinding(p.program, addr)
	p.bindings[addr] = key
	return key
}

func (p *Projection) readCell(key host.Pubkey) (*host.Account, error) {
	cell, err := p.store.GetAccount(key)
	if err != nil {
		return nil, errors.Wrapf(err, "reading cell %s", key)
	}
	if _, seen := p.reads[key]; !seen {
		var data []byte
		if cell != nil {
			data = cell.Data
		}
		p.reads[key] = crypto.Keccak256Hash(data)
	}
	if cell != nil && len(cell.Data) > 0 && cell.Owner != p.program {
		return nil, errors.Wrapf(ErrForeignCell, "%s owned by %s", key, cell.Owner)
	}
	return cell, nil
}

// Load returns the account at addr. A missing or data-less cell yields an
// empty account, never an error.
func (p *Projection) Load(addr common.Address) (*Account, error) {
	cell, err := p.readCell(p.DeriveBinding(addr))
	if err != nil {
		return nil, err
	}
	acc := newAccount(addr)
	if cell == nil || len(cell.Data) == 0 {
		return acc, nil
	}
	var rec Record
	if err := rec.UnmarshalBinary(cell.Data); err != nil {
		return nil, errors.Wrapf(err, "decoding account %s", addr)
	}
	if rec.Address != addr {
		return nil, errors.Wrapf(ErrRecordAddress, "cell of %s holds %s", addr, rec.Address)
	}
	acc.Generation = rec.Generation
	if rec.Flags&FlagRemoved != 0 {
		return acc, nil
	}
	acc.Balance = rec.Balance
	acc.Nonce = rec.Nonce
	acc.Code = rec.Code
	acc.Exists = true
	return acc, nil
}

// Create initializes the account at addr. It refuses to overwrite a
// non-empty account.
func (p *Projection) Create(addr common.Address, initial *Account) error {
	existing, err := p.Load(addr)
	if err != nil {
		return err
	}
	if existing.Exists && !existing.Empty() {
		return errors.Wrapf(ErrAccountExists, "%s", addr)
	}
	acc := newAccount(addr)
	if initial != nil {
		if initial.Balance != nil {
			acc.Balance = new(uint256.Int).Set(initial.Balance)
		}
		acc.Nonce = initial.Nonce
		acc.Code = initial.Code
	}
	acc.Generation = existing.Generation
	return p.Commit(acc, nil)
}

// LoadStorage reads one slot of addr at the given storage generation.
func (p *Projection) LoadStorage(addr common.Address, generation uint32, key common.Hash) (common.Hash, error) {
	group, idx := storageGroup(key)
	cell, err := p.readCell(DeriveStorageCell(p.program, addr, generation, group))
	if err != nil {
		return common.Hash{}, err
	}
	if cell == nil || len(cell.Data) == 0 {
		return common.Hash{}, nil
	}
	slots, err := decodeStorageCell(cell.Data)
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "storage of %s", addr)
	}
	return slots[idx], nil
}

// Commit writes the account record and the given storage slots, which are
// applied on top of the slots already stored for acc.Generation.
func (p *Projection) Commit(acc *Account, storage map[common.Hash]common.Hash) error {
	groups := make(map[common.Hash]map[byte]common.Hash)
	for key, val := range storage {
		group, idx := storageGroup(key)
		if groups[group] == nil {
			groups[group] = make(map[byte]common.Hash)
		}
		groups[group][idx] = val
	}
	for group, updates := range groups {
		if err := p.commitStorageCell(acc.Address, acc.Generation, group, updates); err != nil {
			return err
		}
	}
	rec := &Record{
		Flags:      FlagExtensible,
		Address:    acc.Address,
		Balance:    acc.Balance,
		Nonce:      acc.Nonce,
		Generation: acc.Generation,
		Code:       acc.Code,
	}
	p.log.Trace("Committing account", "address", acc.Address, "nonce", acc.Nonce, "slots", len(storage))
	return p.writeRecord(rec)
}

// Remove deletes the account at addr. Storage written under earlier
// generations stays unreachable: a later account at addr starts at
// generation.
func (p *Projection) Remove(addr common.Address, generation uint32) error {
	p.log.Trace("Removing account", "address", addr, "generation", generation)
	return p.writeRecord(&Record{
		Flags:      FlagExtensible | FlagRemoved,
		Address:    addr,
		Balance:    new(uint256.Int),
		Generation: generation,
	})
}

func (p *Projection) writeRecord(rec *Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	key := p.DeriveBinding(rec.Address)
	cell, err := p.store.GetAccount(key)
	if err != nil {
		return errors.Wrapf(err, "reading cell %s", key)
	}
	if cell == nil {
		cell = host.NewAccount(0, p.program, nil)
	} else if len(cell.Data) > 0 && cell.Owner != p.program {
		return errors.Wrapf(ErrForeignCell, "%s", key)
	}
	cell.Owner = p.program
	cell.Data = data
	return errors.Wrapf(p.store.PutAccount(key, cell), "writing account %s", rec.Address)
}

func (p *Projection) commitStorageCell(addr common.Address, generation uint32, group common.Hash, updates map[byte]common.Hash) error {
	key := DeriveStorageCell(p.program, addr, generation, group)
	cell, err := p.store.GetAccount(key)
	if err != nil {
		return errors.Wrapf(err, "reading storage cell %s", key)
	}
	slots := make(map[byte]common.Hash)
	if cell != nil && len(cell.Data) > 0 {
		if cell.Owner != p.program {
			return errors.Wrapf(ErrForeignCell, "%s", key)
		}
		if slots, err = decodeStorageCell(cell.Data); err != nil {
			return err
		}
	}
	for idx, val := range updates {
		slots[idx] = val
	}
	data := encodeStorageCell(slots)
	if cell == nil {
		if len(data) == 0 {
			return nil
		}
		cell = host.NewAccount(0, p.program, nil)
	}
	if len(data) == 0 && cell.Lamports == 0 {
		return p.store.DeleteAccount(key)
	}
	cell.Owner = p.program
	cell.Data = data
	return p.store.PutAccount(key, cell)
}

// Reads returns the fingerprints of every cell read so far.
func (p *Projection) Reads() map[host.Pubkey]common.Hash {
	out := make(map[host.Pubkey]common.Hash, len(p.reads))
	for k, v := range p.reads {
		out[k] = v
	}
	return out
}

// Verify checks that every fingerprinted cell still holds the same data.
// Verified cells are adopted as reads of this projection.
func (p *Projection) Verify(reads map[host.Pubkey]common.Hash) error {
	for key, want := range reads {
		cell, err := p.store.GetAccount(key)
		if err != nil {
			return errors.Wrapf(err, "reading cell %s", key)
		}
		var data []byte
		if cell != nil {
			data = cell.Data
		}
		if have := crypto.Keccak256Hash(data); have != want {
			return errors.Wrapf(ErrStateChanged, "cell %s", key)
		}
		p.reads[key] = want
	}
	return nil
}
