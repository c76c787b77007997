package program

import (
	"context"
	"math"

	"github.com/bnb-chain/hostevm/core/executor"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/bnb-chain/hostevm/core/types"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	// ErrEmergencyHalt rejects every instruction while the program is halted.
	ErrEmergencyHalt = errors.New("program is in emergency halt mode")

	// ErrEntrypointExcluded is returned by builds without the dispatcher.
	ErrEntrypointExcluded = errors.New("entrypoint excluded from this build")

	instructionMeter = metrics.NewRegisteredMeter("program/instruction", nil)
	failedMeter      = metrics.NewRegisteredMeter("program/instruction/failed", nil)
)

// maxUpdateRetries bounds the attempts of an instruction whose reads keep
// being invalidated by concurrent commits.
const maxUpdateRetries = 16

// Config is the program configuration.
type Config struct {
	Executor      executor.Config
	EmergencyHalt bool
}

// Invocation is one instruction delivered by the host.
type Invocation struct {
	Data    []byte
	Signers []host.Pubkey

	// Host clock at the time of the invocation.
	Slot uint64
	Time uint64
}

func (inv *Invocation) payer() (host.Pubkey, error) {
	if len(inv.Signers) == 0 {
		return host.Pubkey{}, errors.Wrap(host.ErrMissingSigner, "instruction needs a payer")
	}
	return inv.Signers[0], nil
}

// Result reports what an instruction did. Status and Receipt are only set
// by instructions running transactions.
type Result struct {
	Status  types.ExitStatus
	Marker  uint64
	Steps   uint64
	Receipt *types.Receipt
}

// Processor executes program instructions against the host database.
type Processor struct {
	program    host.Pubkey
	db         *host.Database
	controller *executor.Controller
	halted     bool
	log        log.Logger
}

// NewProcessor creates a processor. Native calls issued by contracts go to
// invoker.
func NewProcessor(config Config, db *host.Database, invoker host.Invoker) *Processor {
	controller := executor.NewController(config.Executor, db, nil, nil, invoker)
	chainConfig := controller.Config().ChainConfig
	return &Processor{
		program:    host.Pubkey(chainConfig.ProgramID),
		db:         db,
		controller: controller,
		halted:     config.EmergencyHalt || chainConfig.Rules().EmergencyHalt,
		log:        log.New("module", "program", "profile", chainConfig.Profile),
	}
}

// ProgramID returns the host identity of the program.
func (p *Processor) ProgramID() host.Pubkey { return p.program }

// Controller returns the step controller of the program.
func (p *Processor) Controller() *executor.Controller { return p.controller }

// Halted reports whether the program rejects every instruction.
func (p *Processor) Halted() bool { return p.halted }

// HolderAddress returns the holder cell of owner for seed.
func (p *Processor) HolderAddress(owner host.Pubkey, seed common.Hash) host.Pubkey {
	return HolderAddress(p.program, owner, seed)
}

// update runs fn on a batch committed only when fn succeeds. fn is run
// again when a concurrent commit invalidated what it read.
func (p *Processor) update(fn func(store host.Storage) error) error {
	batch := p.db.NewBatch()
	defer batch.Discard()

	for attempt := 1; ; attempt++ {
		err := fn(batch)
		if err == nil {
			err = batch.Commit()
		} else if verr := batch.Verify(); verr != nil {
			err = verr
		}
		if !errors.Is(err, host.ErrConflict) || attempt == maxUpdateRetries {
			return err
		}
		batch.Discard()
	}
}

func (p *Processor) createAccount(ix *CreateAccount) (*Result, error) {
	err := p.update(func(store host.Storage) error {
		return state.NewProjection(p.program, store).Create(ix.Address, nil)
	})
	if err != nil {
		return nil, err
	}
	p.log.Debug("Created account", "address", ix.Address, "cell", state.DeriveBinding(p.program, ix.Address))
	return &Result{}, nil
}

func (p *Processor) deposit(inv *Invocation, ix *Deposit) (*Result, error) {
	payer, err := inv.payer()
	if err != nil {
		return nil, err
	}
	amount, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(ix.Lamports), uint256.NewInt(params.LamportsToWeiFactor))
	if overflow {
		return nil, errors.Errorf("deposit of %d lamports overflows", ix.Lamports)
	}
	err = p.update(func(store host.Storage) error {
		if err := host.Transfer(store, payer, state.DeriveBinding(p.program, ix.Address), ix.Lamports); err != nil {
			return err
		}
		statedb := state.New(state.NewProjection(p.program, store))
		statedb.AddBalance(ix.Address, amount)
		return statedb.Commit()
	})
	if err != nil {
		return nil, err
	}
	p.log.Debug("Deposited", "address", ix.Address, "lamports", ix.Lamports, "payer", payer)
	return &Result{}, nil
}

func (p *Processor) holderCreate(inv *Invocation, ix *HolderCreate) (*Result, error) {
	owner, err := inv.payer()
	if err != nil {
		return nil, err
	}
	key := p.HolderAddress(owner, ix.Seed)
	err = p.update(func(store host.Storage) error {
		if _, err := LoadHolder(store, p.program, key); err == nil {
			return errors.Wrapf(ErrHolderExists, "%s", key)
		} else if !errors.Is(err, ErrHolderNotFound) {
			return err
		}
		return storeHolder(store, p.program, key, &Holder{Owner: owner})
	})
	if err != nil {
		return nil, err
	}
	return &Result{}, nil
}

// ownedHolder loads the holder of the first signer for seed.
func (p *Processor) ownedHolder(store host.Storage, inv *Invocation, seed common.Hash) (host.Pubkey, *Holder, error) {
	owner, err := inv.payer()
	if err != nil {
		return host.Pubkey{}, nil, err
	}
	key := p.HolderAddress(owner, seed)
	h, err := LoadHolder(store, p.program, key)
	if err != nil {
		return key, nil, err
	}
	if h.Owner != owner {
		return key, nil, errors.Wrapf(ErrHolderOwner, "%s", key)
	}
	return key, h, nil
}

func (p *Processor) holderWrite(inv *Invocation, ix *HolderWrite) (*Result, error) {
	err := p.update(func(store host.Storage) error {
		key, h, err := p.ownedHolder(store, inv, ix.Seed)
		if err != nil {
			return err
		}
		if err := h.write(ix.Offset, ix.Data); err != nil {
			return err
		}
		return storeHolder(store, p.program, key, h)
	})
	if err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (p *Processor) holderTx(inv *Invocation, seed common.Hash) (*gethtypes.Transaction, error) {
	_, h, err := p.ownedHolder(p.db, inv, seed)
	if err != nil {
		return nil, err
	}
	return types.DecodeTransaction(h.Data)
}

// step hands a transaction to the controller. A zero marker starts it.
func (p *Processor) step(ctx context.Context, inv *Invocation, tx *gethtypes.Transaction, limit, marker uint64) (*Result, error) {
	res, err := p.controller.Step(ctx, executor.StepRequest{
		Tx:             tx,
		StepLimit:      limit,
		ExpectedMarker: marker,
		Fresh:          marker == 0,
		BlockNumber:    inv.Slot,
		Time:           inv.Time,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Status: res.Status, Marker: res.Marker, Steps: res.Steps, Receipt: res.Receipt}, nil
}

func (p *Processor) executeTx(ctx context.Context, inv *Invocation, raw []byte) (*Result, error) {
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return nil, err
	}
	return p.step(ctx, inv, tx, math.MaxUint64, 0)
}

func (p *Processor) stepTx(ctx context.Context, inv *Invocation, raw []byte, limit, marker uint64) (*Result, error) {
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return nil, err
	}
	return p.step(ctx, inv, tx, limit, marker)
}

func (p *Processor) cancel(ctx context.Context, ix *Cancel) (*Result, error) {
	if err := p.controller.Cancel(ctx, ix.TxHash); err != nil {
		return nil, err
	}
	return &Result{}, nil
}
