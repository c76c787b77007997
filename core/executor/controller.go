package executor

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/bnb-chain/hostevm/core/arena"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/bnb-chain/hostevm/core/types"
	"github.com/bnb-chain/hostevm/core/vm"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// StatusYield is reported by a step that ran out of instructions before the
// transaction finished.
const StatusYield = types.StatusNone

// DefaultBlockGasLimit caps the gas of a single transaction.
const DefaultBlockGasLimit uint64 = 50_000_000

// maxConflictRetries bounds the attempts of a step whose reads keep being
// invalidated by concurrent commits.
const maxConflictRetries = 64

// Config tunes a Controller.
type Config struct {
	ChainConfig   *params.ChainConfig
	ArenaSize     int            // heap of one transaction attempt
	StepLimit     uint64         // instructions per step when a request names none
	BlockGasLimit uint64         // provides GASLIMIT and caps transactions
	Coinbase      common.Address // receives the gas fees
}

// DefaultConfig contains the default settings for the compiled profile.
var DefaultConfig = Config{
	ChainConfig:   params.DefaultChainConfig(),
	ArenaSize:     params.DefaultArenaSize,
	StepLimit:     params.DefaultStepLimit,
	BlockGasLimit: DefaultBlockGasLimit,
}

// sanitize replaces unset fields with their defaults.
func (c Config) sanitize() Config {
	if c.ChainConfig == nil {
		c.ChainConfig = DefaultConfig.ChainConfig
	}
	if c.ArenaSize <= 0 {
		log.Warn("Sanitizing invalid arena size", "provided", c.ArenaSize, "updated", params.DefaultArenaSize)
		c.ArenaSize = params.DefaultArenaSize
	}
	if c.StepLimit == 0 {
		c.StepLimit = params.DefaultStepLimit
	}
	if c.BlockGasLimit == 0 {
		c.BlockGasLimit = DefaultBlockGasLimit
	}
	return c
}

// ProjectionFactory opens the account projection over a host store.
type ProjectionFactory func(store host.Storage) *state.Projection

// NewProjectionFactory returns a factory for projections under program.
func NewProjectionFactory(program host.Pubkey) ProjectionFactory {
	return func(store host.Storage) *state.Projection {
		return state.NewProjection(program, store)
	}
}

// StepRequest asks the controller to advance one transaction.
type StepRequest struct {
	Tx *gethtypes.Transaction
	// Sender is recovered from the signature when left zero.
	Sender common.Address
	// StepLimit bounds the instructions of this step. Zero selects the
	// configured default.
	StepLimit uint64
	// ExpectedMarker must equal the marker returned by the previous step of
	// a continuation.
	ExpectedMarker uint64
	// Fresh starts the transaction. It is rejected when a snapshot exists.
	Fresh bool

	// Host clock, exposed through NUMBER and TIMESTAMP.
	BlockNumber uint64
	Time        uint64

	tracer vm.EVMLogger
}

// StepResult is the outcome of one step.
type StepResult struct {
	Status  types.ExitStatus
	Marker  uint64         // continuation marker of a yield
	Steps   uint64         // instructions executed by this step
	Receipt *types.Receipt // set once the transaction is over
}

// Yielded reports whether the transaction needs another step.
func (r *StepResult) Yielded() bool { return r.Status == StatusYield }

// Controller runs transactions in host sized steps. Each step works on a
// host batch that is committed only when the step ends cleanly, so a failed
// step leaves nothing behind.
type Controller struct {
	config        Config
	db            *host.Database
	newProjection ProjectionFactory
	snapshots     *SnapshotStore
	invoker       host.Invoker
	log           log.Logger

	mu       sync.Mutex
	inflight map[common.Hash]struct{}
}

// NewController creates a controller over db.
func NewController(config Config, db *host.Database, newProjection ProjectionFactory, snapshots *SnapshotStore, invoker host.Invoker) *Controller {
	config = config.sanitize()
	if newProjection == nil {
		newProjection = NewProjectionFactory(host.Pubkey(config.ChainConfig.ProgramID))
	}
	if snapshots == nil {
		snapshots = NewSnapshotStore(host.Pubkey(config.ChainConfig.ProgramID))
	}
	return &Controller{
		config:        config,
		db:            db,
		newProjection: newProjection,
		snapshots:     snapshots,
		invoker:       invoker,
		log:           log.New("module", "executor"),
		inflight:      make(map[common.Hash]struct{}),
	}
}

// Config returns the sanitized configuration of the controller.
func (c *Controller) Config() Config { return c.config }

// Snapshots returns the snapshot store of the controller.
func (c *Controller) Snapshots() *SnapshotStore { return c.snapshots }

func (c *Controller) acquire(hash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.inflight[hash]; ok {
		return errors.Wrapf(ErrConcurrentStep, "tx %x", hash)
	}
	c.inflight[hash] = struct{}{}
	inflightGauge.Update(int64(len(c.inflight)))
	return nil
}

func (c *Controller) release(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inflight, hash)
	inflightGauge.Update(int64(len(c.inflight)))
}

// execution is one transaction attempt within a step.
type execution struct {
	tx      *gethtypes.Transaction
	hash    common.Hash
	sender  common.Address
	statedb *state.StateDB
	evm     *vm.EVM
	st      *stateTransition
	steps   uint64 // executed by earlier steps
	fatal   error  // set when the attempt failed before running
}

// Step advances a transaction by at most the request's step limit. A
// returned error rejects the request and leaves host storage untouched. A
// fatal status consumes the transaction: nothing it did is kept apart from
// the nonce bump.
//
// Steps of different transactions may run concurrently. A step whose reads
// were invalidated by another commit is re-run from the stored state.
func (c *Controller) Step(ctx context.Context, req StepRequest) (*StepResult, error) {
	if req.Tx == nil {
		return nil, ErrMissingTx
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash := req.Tx.Hash()
	if err := c.acquire(hash); err != nil {
		return nil, err
	}
	defer c.release(hash)
	defer func(start time.Time) { stepTimer.UpdateSince(start) }(time.Now())

	res, err := c.retry(ctx, hash, func() (*StepResult, error) { return c.attempt(&req) })
	if err != nil {
		rejectMeter.Mark(1)
		c.log.Debug("Rejected step", "tx", hash, "fresh", req.Fresh, "marker", req.ExpectedMarker, "err", err)
		return nil, err
	}
	stepsHistogram.Update(int64(res.Steps))
	return res, nil
}

// retry runs fn again while it fails on a host conflict.
func (c *Controller) retry(ctx context.Context, hash common.Hash, fn func() (*StepResult, error)) (*StepResult, error) {
	for attempt := 1; ; attempt++ {
		res, err := fn()
		if !errors.Is(err, host.ErrConflict) || attempt == maxConflictRetries {
			return res, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conflictMeter.Mark(1)
		c.log.Trace("Retrying conflicting step", "tx", hash, "attempt", attempt, "err", err)
	}
}

// attempt runs one step on a fresh batch.
func (c *Controller) attempt(req *StepRequest) (*StepResult, error) {
	batch := c.db.NewBatch()
	defer batch.Discard()

	res, err := c.step(batch, req)
	if err != nil {
		// A rejection based on stale reads is retried like a commit.
		if verr := batch.Verify(); verr != nil {
			return nil, verr
		}
		return nil, err
	}
	if res.Status.IsFatal() {
		batch.Rollback()
		if err := c.consume(batch, req.Tx.Hash(), res.Receipt.From, req.Tx.Nonce()); err != nil {
			return nil, err
		}
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Controller) step(store host.Storage, req *StepRequest) (*StepResult, error) {
	hash := req.Tx.Hash()
	prev, err := c.snapshots.Load(store, hash)
	if err != nil {
		return nil, err
	}
	var run *execution
	if req.Fresh {
		if prev != nil {
			return nil, ErrSnapshotExists
		}
		if run, err = c.begin(store, req); err != nil {
			return nil, err
		}
	} else {
		if prev == nil {
			return nil, ErrNoSnapshot
		}
		if prev.Marker != req.ExpectedMarker {
			return nil, errors.Wrapf(ErrMarkerMismatch, "have %d, want %d", prev.Marker, req.ExpectedMarker)
		}
		if run, err = c.resume(store, req, prev); err != nil {
			return nil, err
		}
	}
	if run.fatal != nil {
		return c.fail(run, run.fatal), nil
	}
	limit := req.StepLimit
	if limit == 0 {
		limit = c.config.StepLimit
	}
	done, err := run.evm.Run(limit)
	if err != nil {
		return c.fail(run, err), nil
	}
	if err := run.statedb.Error(); err != nil {
		return c.fail(run, err), nil
	}
	if !done {
		return c.yield(store, run, prev)
	}
	return c.complete(store, run, prev)
}

func (c *Controller) sender(tx *gethtypes.Transaction, given common.Address) (common.Address, error) {
	chainID := c.config.ChainConfig.ChainID
	if tx.Protected() && tx.ChainId().Cmp(chainID) != 0 {
		return common.Address{}, errors.Wrapf(ErrInvalidChainID, "have %v, want %v", tx.ChainId(), chainID)
	}
	if given != (common.Address{}) {
		return given, nil
	}
	return types.Sender(tx, chainID)
}

func (c *Controller) newEVM(store host.Storage, statedb *state.StateDB, run *execution, req *StepRequest) *vm.EVM {
	// Host slots carry no EVM block hashes, so BLOCKHASH reads zero.
	blockCtx := vm.BlockContext{
		CanTransfer: vm.CanTransfer,
		Transfer:    vm.Transfer,
		GetHash:     func(uint64) common.Hash { return common.Hash{} },
		Coinbase:    c.config.Coinbase,
		GasLimit:    c.config.BlockGasLimit,
		BlockNumber: new(big.Int).SetUint64(req.BlockNumber),
		Time:        req.Time,
		Difficulty:  new(big.Int),
	}
	txCtx := vm.TxContext{
		Origin:   run.sender,
		GasPrice: new(big.Int).Set(run.tx.GasPrice()),
	}
	return vm.NewEVM(blockCtx, txCtx, statedb, c.config.ChainConfig, vm.Config{
		Arena:     arena.New(c.config.ArenaSize),
		Program:   statedb.Projection().Program(),
		HostStore: store,
		Invoker:   c.invoker,
		Tracer:    req.tracer,
	})
}

// begin validates a new transaction and pushes its outermost frame.
func (c *Controller) begin(store host.Storage, req *StepRequest) (*execution, error) {
	tx := req.Tx
	if tx.Gas() > c.config.BlockGasLimit {
		return nil, errors.Wrapf(ErrGasLimitReached, "tx gas %d, limit %d", tx.Gas(), c.config.BlockGasLimit)
	}
	sender, err := c.sender(tx, req.Sender)
	if err != nil {
		return nil, err
	}
	run := &execution{tx: tx, hash: tx.Hash(), sender: sender}
	run.statedb = state.New(c.newProjection(store))
	run.evm = c.newEVM(store, run.statedb, run, req)
	if run.st, err = newStateTransition(run.evm, tx, sender, run.statedb); err != nil {
		return nil, err
	}
	if err := run.st.begin(); err != nil {
		run.evm.Release()
		return nil, err
	}
	if err := run.statedb.Error(); err != nil {
		run.evm.Release()
		return nil, errors.Wrap(err, "opening transaction")
	}
	return run, nil
}

// resume rebuilds the execution saved by the previous step. Host state
// that changed since then, or a snapshot that cannot be restored, fails the
// transaction.
func (c *Controller) resume(store host.Storage, req *StepRequest, prev *Snapshot) (*execution, error) {
	tx := req.Tx
	if tx.Nonce() != prev.Nonce || tx.Gas() != prev.GasLimit {
		return nil, errors.Errorf("snapshot of %x does not match the transaction", prev.TxHash)
	}
	run := &execution{tx: tx, hash: prev.TxHash, sender: prev.Sender, steps: prev.Steps}

	proj := c.newProjection(store)
	if err := proj.Verify(prev.ReadSet()); err != nil {
		if !errors.Is(err, ErrStateChanged) {
			return nil, err
		}
		run.fatal = err
		return run, nil
	}
	statedb, err := state.Decode(proj, prev.Overlay)
	if err != nil {
		run.fatal = err
		return run, nil
	}
	statedb.SetTxContext(run.hash, 0)
	run.statedb = statedb
	run.evm = c.newEVM(store, statedb, run, req)
	if run.st, err = newStateTransition(run.evm, tx, run.sender, statedb); err != nil {
		return nil, err
	}
	if err := run.evm.RestoreFrames(prev.Frames); err != nil {
		run.fatal = err
	}
	return run, nil
}

// yield saves the execution for the next step.
func (c *Controller) yield(store host.Storage, run *execution, prev *Snapshot) (*StepResult, error) {
	frames, err := run.evm.EncodeFrames()
	if err != nil {
		return c.fail(run, err), nil
	}
	overlay, err := run.statedb.Encode()
	if err != nil {
		return c.fail(run, err), nil
	}
	steps := run.evm.Steps()
	run.evm.Release()

	var marker uint64
	if prev != nil {
		marker = prev.Marker
	}
	snap := &Snapshot{
		Marker:   marker + 1,
		TxHash:   run.hash,
		Sender:   run.sender,
		Nonce:    run.tx.Nonce(),
		GasLimit: run.tx.Gas(),
		GasPrice: run.tx.GasPrice(),
		Steps:    run.steps + steps,
		Frames:   frames,
		Overlay:  overlay,
		Reads:    sortedReads(run.statedb.Projection().Reads()),
	}
	if err := c.snapshots.Save(store, snap, marker); err != nil {
		return nil, err
	}
	yieldMeter.Mark(1)
	c.log.Debug("Transaction yielded", "tx", run.hash, "marker", snap.Marker, "steps", steps, "total", snap.Steps)
	return &StepResult{Status: StatusYield, Marker: snap.Marker, Steps: steps}, nil
}

// complete settles gas, commits the overlay and drops the snapshot.
func (c *Controller) complete(store host.Storage, run *execution, prev *Snapshot) (*StepResult, error) {
	var (
		res     = run.evm.Result()
		steps   = run.evm.Steps()
		status  = vm.StatusOf(res.Err, res.Halt)
		gasUsed = run.st.settle(res.LeftOverGas, c.config.Coinbase)
	)
	if err := run.statedb.Commit(); err != nil {
		return c.fail(run, err), nil
	}
	if prev != nil {
		if err := c.snapshots.Delete(store, run.hash); err != nil {
			return nil, err
		}
	}
	receipt := &types.Receipt{
		TxHash:     run.hash,
		From:       run.sender,
		To:         run.tx.To(),
		Status:     status,
		GasUsed:    gasUsed,
		ReturnData: common.CopyBytes(res.ReturnData),
		Logs:       run.statedb.Logs(),
		Steps:      run.steps + steps,
	}
	if res.Err != nil {
		receipt.Err = res.Err.Error()
	} else if run.tx.To() == nil {
		addr := res.ContractAddress
		receipt.ContractAddress = &addr
	}
	completeMeter.Mark(1)
	c.log.Debug("Transaction completed", "tx", run.hash, "status", status, "gas", gasUsed, "steps", receipt.Steps)
	return &StepResult{Status: status, Steps: steps, Receipt: receipt}, nil
}

// fail reports a transaction-fatal error. Nothing the attempt wrote is kept.
func (c *Controller) fail(run *execution, err error) *StepResult {
	var steps uint64
	if run.evm != nil {
		steps = run.evm.Steps()
		run.evm.Release()
	}
	status := statusOf(err)
	fatalMeter.Mark(1)
	c.log.Warn("Transaction failed", "tx", run.hash, "status", status, "err", err)
	return &StepResult{
		Status: status,
		Steps:  steps,
		Receipt: &types.Receipt{
			TxHash: run.hash,
			From:   run.sender,
			To:     run.tx.To(),
			Status: status,
			Steps:  run.steps + steps,
			Err:    err.Error(),
		},
	}
}

// statusOf maps a transaction-fatal error to its exit status.
func statusOf(err error) types.ExitStatus {
	var f *vm.FatalError
	switch {
	case errors.As(err, &f):
		return f.Status
	case errors.Is(err, ErrStateChanged):
		return types.StatusFatalStateChanged
	default:
		return types.StatusFatalOther
	}
}

// consume drops the snapshot of a transaction and bumps the sender nonce
// past it, so the transaction cannot run again.
func (c *Controller) consume(store host.Storage, hash common.Hash, sender common.Address, nonce uint64) error {
	if err := c.snapshots.Delete(store, hash); err != nil {
		return err
	}
	statedb := state.New(c.newProjection(store))
	if statedb.GetNonce(sender) == nonce {
		statedb.SetNonce(sender, nonce+1)
	}
	return errors.Wrap(statedb.Commit(), "consuming transaction")
}

// Cancel abandons a transaction that yielded. Its snapshot is dropped and
// the sender nonce moves past it.
func (c *Controller) Cancel(ctx context.Context, txHash common.Hash) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.acquire(txHash); err != nil {
		return err
	}
	defer c.release(txHash)

	var snap *Snapshot
	_, err := c.retry(ctx, txHash, func() (*StepResult, error) {
		batch := c.db.NewBatch()
		defer batch.Discard()

		var err error
		if snap, err = c.snapshots.Load(batch, txHash); err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, ErrNoSnapshot
		}
		if err := c.consume(batch, txHash, snap.Sender, snap.Nonce); err != nil {
			return nil, err
		}
		return nil, batch.Commit()
	})
	if err != nil {
		return err
	}
	cancelMeter.Mark(1)
	c.log.Info("Cancelled transaction", "tx", txHash, "sender", snap.Sender, "nonce", snap.Nonce, "steps", snap.Steps)
	return nil
}

// Emulate runs a transaction to completion without a step limit and
// reports its receipt. Nothing is written to host storage.
func (c *Controller) Emulate(ctx context.Context, tx *gethtypes.Transaction, sender common.Address) (*types.Receipt, error) {
	return c.emulate(ctx, tx, sender, nil)
}

// Trace emulates a transaction like Emulate and records every executed
// instruction with a struct logger configured by cfg.
func (c *Controller) Trace(ctx context.Context, tx *gethtypes.Transaction, sender common.Address, cfg *vm.LogConfig) (*vm.ExecutionTrace, error) {
	tracer := vm.NewStructLogger(cfg)
	receipt, err := c.emulate(ctx, tx, sender, tracer)
	if err != nil {
		return nil, err
	}
	traceMeter.Mark(1)
	trace := tracer.Trace(receipt.GasUsed, !receipt.Succeeded())
	c.log.Debug("Traced transaction", "tx", tx.Hash(), "steps", len(trace.StructLogs), "status", receipt.Status)
	return trace, nil
}

func (c *Controller) emulate(ctx context.Context, tx *gethtypes.Transaction, sender common.Address, tracer vm.EVMLogger) (*types.Receipt, error) {
	if tx == nil {
		return nil, ErrMissingTx
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer func(start time.Time) { emulateTimer.UpdateSince(start) }(time.Now())

	batch := c.db.NewBatch()
	defer batch.Discard()

	req := &StepRequest{Tx: tx, Sender: sender, Fresh: true, tracer: tracer}
	run, err := c.begin(batch, req)
	if err != nil {
		return nil, err
	}
	if _, err := run.evm.Run(0); err != nil {
		return c.fail(run, err).Receipt, nil
	}
	if err := run.statedb.Error(); err != nil {
		return c.fail(run, err).Receipt, nil
	}
	res, err := c.complete(batch, run, nil)
	if err != nil {
		return nil, err
	}
	return res.Receipt, nil
}
