package program

import (
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

var (
	ErrHolderExists   = errors.New("holder already exists")
	ErrHolderNotFound = errors.New("holder not found")
	ErrHolderOwner    = errors.New("holder belongs to another signer")
	ErrHolderTooLarge = errors.New("holder size limit exceeded")
)

var holderSeed = []byte("HOLDER")

// Holder stages a transaction too large for a single host instruction.
type Holder struct {
	Owner host.Pubkey
	Data  []byte
}

// HolderAddress returns the cell of the holder owner created with seed.
func HolderAddress(program, owner host.Pubkey, seed common.Hash) host.Pubkey {
	key, _, err := host.FindProgramAddress([][]byte{{params.AccountSeedVersion}, holderSeed, owner[:], seed[:]}, program)
	if err != nil {
		panic(err)
	}
	return key
}

// LoadHolder reads the holder at key, or returns ErrHolderNotFound.
func LoadHolder(store host.Storage, program, key host.Pubkey) (*Holder, error) {
	cell, err := store.GetAccount(key)
	if err != nil {
		return nil, errors.Wrapf(err, "reading holder %s", key)
	}
	if cell == nil || len(cell.Data) == 0 {
		return nil, errors.Wrapf(ErrHolderNotFound, "%s", key)
	}
	if cell.Owner != program {
		return nil, errors.Errorf("holder %s owned by %s", key, cell.Owner)
	}
	h := new(Holder)
	if err := rlp.DecodeBytes(cell.Data, h); err != nil {
		return nil, errors.Wrapf(err, "decoding holder %s", key)
	}
	return h, nil
}

func storeHolder(store host.Storage, program, key host.Pubkey, h *Holder) error {
	data, err := rlp.EncodeToBytes(h)
	if err != nil {
		return errors.Wrapf(err, "encoding holder %s", key)
	}
	cell, err := store.GetAccount(key)
	if err != nil {
		return errors.Wrapf(err, "reading holder %s", key)
	}
	if cell == nil {
		cell = host.NewAccount(0, program, nil)
	}
	cell.Owner = program
	cell.Data = data
	return store.PutAccount(key, cell)
}

// write copies data to offset, growing the holder as needed.
func (h *Holder) write(offset uint32, data []byte) error {
	end := uint64(offset) + uint64(len(data))
	if end > params.MaxHolderSize {
		return errors.Wrapf(ErrHolderTooLarge, "%d > %d", end, params.MaxHolderSize)
	}
	if end > uint64(len(h.Data)) {
		grown := make([]byte, end)
		copy(grown, h.Data)
		h.Data = grown
	}
	copy(h.Data[offset:], data)
	return nil
}
