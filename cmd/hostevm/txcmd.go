package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/bnb-chain/hostevm/core/executor"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/program"
	"github.com/bnb-chain/hostevm/core/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// holderChunk is the payload size of one holder write, sized to fit a host
// transaction together with its signatures.
const holderChunk = 900

var (
	keyFlag = &cli.StringFlag{
		Name:     "key",
		Usage:    "Hex private key signing the transaction",
		Required: true,
	}
	gasFlag = &cli.Uint64Flag{
		Name:  "gas",
		Usage: "Gas limit of the transaction",
		Value: 1_000_000,
	}
	gasPriceFlag = &cli.StringFlag{
		Name:  "gasprice",
		Usage: "Gas price in wei",
		Value: "0",
	}
	valueFlag = &cli.StringFlag{
		Name:  "value",
		Usage: "Wei sent along with the transaction",
		Value: "0",
	}
	stepsFlag = &cli.Uint64Flag{
		Name:  "steps",
		Usage: "Run in steps of at most this many instructions (0 runs to completion)",
	}
	holderFlag = &cli.BoolFlag{
		Name:  "holder",
		Usage: "Upload the transaction into a holder account of the payer first",
	}
	signOnlyFlag = &cli.BoolFlag{
		Name:  "sign-only",
		Usage: "Print the signed transaction instead of running it",
	}
	limitFlag = &cli.Uint64Flag{
		Name:  "limit",
		Usage: "Maximum number of instructions to run (0 uses the configured default)",
	}
	markerFlag = &cli.Uint64Flag{
		Name:  "marker",
		Usage: "Marker returned by the previous step (0 starts the transaction)",
	}
	fromFlag = &cli.StringFlag{
		Name:  "from",
		Usage: "Sender to emulate instead of recovering it from the signature",
	}

	txFlags = []cli.Flag{payerFlag, keyFlag, gasFlag, gasPriceFlag, valueFlag, stepsFlag, holderFlag, signOnlyFlag}

	deployCommand = &cli.Command{
		Action:    deploy,
		Name:      "deploy",
		Usage:     "Sign and run a contract creation",
		ArgsUsage: "<hexcode>",
		Flags:     txFlags,
	}
	callCommand = &cli.Command{
		Action:    call,
		Name:      "call",
		Usage:     "Sign and run a message call",
		ArgsUsage: "<address> [hexdata]",
		Flags:     txFlags,
	}
	stepCommand = &cli.Command{
		Action:    step,
		Name:      "step",
		Usage:     "Advance a raw transaction by one step",
		ArgsUsage: "<rawtx>",
		Flags:     []cli.Flag{payerFlag, limitFlag, markerFlag},
	}
	cancelCommand = &cli.Command{
		Action:    cancel,
		Name:      "cancel",
		Usage:     "Abandon a suspended transaction",
		ArgsUsage: "<txhash>",
		Flags:     []cli.Flag{payerFlag},
	}
	emulateCommand = &cli.Command{
		Action:    emulate,
		Name:      "emulate",
		Usage:     "Run a raw transaction without writing anything",
		ArgsUsage: "<rawtx>",
		Flags:     []cli.Flag{fromFlag},
	}
)

type stepOutput struct {
	Status  string         `json:"status"`
	Code    hexutil.Uint64 `json:"code"`
	Marker  uint64         `json:"marker"`
	Steps   uint64         `json:"steps"`
	Receipt *types.Receipt `json:"receipt,omitempty"`
}

func newStepOutput(res *program.Result) *stepOutput {
	out := &stepOutput{Code: hexutil.Uint64(res.Status), Marker: res.Marker, Steps: res.Steps, Receipt: res.Receipt}
	if res.Status == executor.StatusYield {
		out.Status = "yield"
	} else {
		out.Status = res.Status.String()
	}
	return out
}

func parseBig(ctx *cli.Context, flag *cli.StringFlag) (*big.Int, error) {
	v, ok := math.ParseBig256(ctx.String(flag.Name))
	if !ok {
		return nil, fmt.Errorf("invalid --%s %q", flag.Name, ctx.String(flag.Name))
	}
	return v, nil
}

// signTx builds and signs a legacy transaction from the flags, taking the
// nonce from the current state.
func signTx(ctx *cli.Context, env *environment, to *common.Address, data []byte) (*gethtypes.Transaction, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(ctx.String(keyFlag.Name), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %v", keyFlag.Name, err)
	}
	gasPrice, err := parseBig(ctx, gasPriceFlag)
	if err != nil {
		return nil, err
	}
	value, err := parseBig(ctx, valueFlag)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	statedb := env.state()
	nonce := statedb.GetNonce(from)
	if err := statedb.Error(); err != nil {
		return nil, err
	}
	signer := gethtypes.LatestSignerForChainID(env.chain.ChainID)
	return gethtypes.SignNewTx(key, signer, &gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      ctx.Uint64(gasFlag.Name),
		To:       to,
		Value:    value,
		Data:     data,
	})
}

// upload writes raw into the holder of payer for seed.
func (env *environment) upload(ctx *cli.Context, payer host.Pubkey, seed common.Hash, raw []byte) error {
	if _, err := env.process(ctx, &program.HolderCreate{Seed: seed}, payer); err != nil {
		return err
	}
	for offset := 0; offset < len(raw); offset += holderChunk {
		end := offset + holderChunk
		if end > len(raw) {
			end = len(raw)
		}
		ix := &program.HolderWrite{Seed: seed, Offset: uint32(offset), Data: raw[offset:end]}
		if _, err := env.process(ctx, ix, payer); err != nil {
			return err
		}
	}
	log.Debug("Uploaded transaction", "holder", env.processor.HolderAddress(payer, seed), "size", len(raw))
	return nil
}

// stepLoop repeats the instruction built by next until the transaction is
// no longer suspended.
func (env *environment) stepLoop(ctx *cli.Context, next func(marker uint64) program.Instruction, signers ...host.Pubkey) (*program.Result, error) {
	var marker uint64
	for {
		res, err := env.process(ctx, next(marker), signers...)
		if err != nil {
			return nil, err
		}
		if res.Status != executor.StatusYield {
			return res, nil
		}
		log.Info("Transaction yielded", "marker", res.Marker, "steps", res.Steps)
		marker = res.Marker
	}
}

func sendTx(ctx *cli.Context, env *environment, tx *gethtypes.Transaction) error {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return err
	}
	if ctx.Bool(signOnlyFlag.Name) {
		_, err := fmt.Fprintln(ctx.App.Writer, hexutil.Encode(raw))
		return err
	}
	signers, err := signers(ctx)
	if err != nil {
		return err
	}
	limit := ctx.Uint64(stepsFlag.Name)

	var res *program.Result
	switch {
	case ctx.Bool(holderFlag.Name):
		payer, err := requirePayer(ctx)
		if err != nil {
			return err
		}
		seed := tx.Hash()
		if err := env.upload(ctx, payer, seed, raw); err != nil {
			return err
		}
		if limit == 0 {
			res, err = env.process(ctx, &program.ExecuteTxFromHolder{Seed: seed}, payer)
		} else {
			res, err = env.stepLoop(ctx, func(marker uint64) program.Instruction {
				return &program.StepTxFromHolder{StepLimit: limit, Marker: marker, Seed: seed}
			}, payer)
		}
		if err != nil {
			return err
		}
	case limit == 0:
		if res, err = env.process(ctx, &program.ExecuteTx{Tx: raw}, signers...); err != nil {
			return err
		}
	default:
		res, err = env.stepLoop(ctx, func(marker uint64) program.Instruction {
			return &program.StepTx{StepLimit: limit, Marker: marker, Tx: raw}
		}, signers...)
		if err != nil {
			return err
		}
	}
	return printJSON(ctx.App.Writer, res.Receipt)
}

func deploy(ctx *cli.Context) error {
	code, err := hexutil.Decode(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid code: %v", err)
	}
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	tx, err := signTx(ctx, env, nil, code)
	if err != nil {
		return err
	}
	return sendTx(ctx, env, tx)
}

func call(ctx *cli.Context) error {
	to, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
	}
	var data []byte
	if ctx.NArg() > 1 {
		if data, err = hexutil.Decode(ctx.Args().Get(1)); err != nil {
			return fmt.Errorf("invalid data: %v", err)
		}
	}
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	tx, err := signTx(ctx, env, &to, data)
	if err != nil {
		return err
	}
	return sendTx(ctx, env, tx)
}

func step(ctx *cli.Context) error {
	raw, err := hexutil.Decode(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid transaction: %v", err)
	}
	signers, err := signers(ctx)
	if err != nil {
		return err
	}
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.process(ctx, &program.StepTx{
		StepLimit: ctx.Uint64(limitFlag.Name),
		Marker:    ctx.Uint64(markerFlag.Name),
		Tx:        raw,
	}, signers...)
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, newStepOutput(res))
}

func cancel(ctx *cli.Context) error {
	hash, err := hexutil.Decode(ctx.Args().First())
	if err != nil || len(hash) != common.HashLength {
		return fmt.Errorf("invalid transaction hash %q", ctx.Args().First())
	}
	signers, err := signers(ctx)
	if err != nil {
		return err
	}
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	_, err = env.process(ctx, &program.Cancel{TxHash: common.BytesToHash(hash)}, signers...)
	return err
}

func emulate(ctx *cli.Context) error {
	raw, err := hexutil.Decode(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid transaction: %v", err)
	}
	tx, err := types.DecodeTransaction(raw)
	if err != nil {
		return err
	}
	var from common.Address
	if ctx.IsSet(fromFlag.Name) {
		if from, err = parseAddress(ctx.String(fromFlag.Name)); err != nil {
			return err
		}
	}
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	receipt, err := env.processor.Controller().Emulate(ctx.Context, tx, from)
	if err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, receipt)
}
