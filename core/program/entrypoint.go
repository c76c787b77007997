//go:build !no_entrypoint

package program

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

// Process decodes and runs one instruction. Halted programs reject it
// before anything is read.
func (p *Processor) Process(ctx context.Context, inv *Invocation) (*Result, error) {
	if p.halted {
		return nil, ErrEmergencyHalt
	}
	ix, err := Decode(inv.Data)
	if err != nil {
		return nil, err
	}
	instructionMeter.Mark(1)
	p.log.Trace("Processing instruction", "tag", ix.Tag(), "signers", len(inv.Signers))

	res, err := p.dispatch(ctx, inv, ix)
	if err != nil {
		failedMeter.Mark(1)
		p.log.Debug("Instruction failed", "tag", ix.Tag(), "err", err)
		return nil, errors.Wrap(err, ix.Tag().String())
	}
	return res, nil
}

func (p *Processor) dispatch(ctx context.Context, inv *Invocation, ix Instruction) (*Result, error) {
	switch ix := ix.(type) {
	case *CreateAccount:
		return p.createAccount(ix)
	case *Deposit:
		return p.deposit(inv, ix)
	case *HolderCreate:
		return p.holderCreate(inv, ix)
	case *HolderWrite:
		return p.holderWrite(inv, ix)
	case *ExecuteTx:
		return p.executeTx(ctx, inv, ix.Tx)
	case *ExecuteTxFromHolder:
		tx, err := p.holderTx(inv, ix.Seed)
		if err != nil {
			return nil, err
		}
		return p.step(ctx, inv, tx, math.MaxUint64, 0)
	case *StepTx:
		return p.stepTx(ctx, inv, ix.Tx, ix.StepLimit, ix.Marker)
	case *StepTxFromHolder:
		tx, err := p.holderTx(inv, ix.Seed)
		if err != nil {
			return nil, err
		}
		return p.step(ctx, inv, tx, ix.StepLimit, ix.Marker)
	case *Cancel:
		return p.cancel(ctx, ix)
	}
	return nil, errors.Wrapf(ErrInvalidInstruction, "unhandled %s", ix.Tag())
}
