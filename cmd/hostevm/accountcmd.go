package main

import (
	"fmt"
	"strconv"

	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/program"
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
)

var (
	payerFlag = &cli.StringFlag{
		Name:  "payer",
		Usage: "Base58 host account signing and paying for the instruction",
	}
	dumpFlag = &cli.BoolFlag{
		Name:  "dump",
		Usage: "Dump the raw account record",
	}

	airdropCommand = &cli.Command{
		Action:      airdrop,
		Name:        "airdrop",
		Usage:       "Credit lamports to a host account of the local database",
		ArgsUsage:   "<pubkey> <lamports>",
		Description: `Credits lamports out of thin air. Only meant for local development databases.`,
	}
	createAccountCommand = &cli.Command{
		Action:    createAccount,
		Name:      "create-account",
		Usage:     "Materialize the host binding of an EVM address",
		ArgsUsage: "<address>",
		Flags:     []cli.Flag{payerFlag},
	}
	depositCommand = &cli.Command{
		Action:    deposit,
		Name:      "deposit",
		Usage:     "Move lamports from the payer into the EVM balance of an address",
		ArgsUsage: "<address> <lamports>",
		Flags:     []cli.Flag{payerFlag},
	}
	accountCommand = &cli.Command{
		Action:    showAccount,
		Name:      "account",
		Usage:     "Show an EVM account",
		ArgsUsage: "<address>",
		Flags:     []cli.Flag{dumpFlag},
	}
	storageCommand = &cli.Command{
		Action:    showStorage,
		Name:      "storage",
		Usage:     "Show a storage slot of an EVM account",
		ArgsUsage: "<address> <slot>",
	}
	deriveCommand = &cli.Command{
		Action:    derive,
		Name:      "derive",
		Usage:     "Print the host account bound to an EVM address",
		ArgsUsage: "<address>",
	}
)

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// signers returns the payer as the only signer, or none if it is unset.
func signers(ctx *cli.Context) ([]host.Pubkey, error) {
	if !ctx.IsSet(payerFlag.Name) {
		return nil, nil
	}
	payer, err := host.ParsePubkey(ctx.String(payerFlag.Name))
	if err != nil {
		return nil, err
	}
	return []host.Pubkey{payer}, nil
}

func requirePayer(ctx *cli.Context) (host.Pubkey, error) {
	if !ctx.IsSet(payerFlag.Name) {
		return host.Pubkey{}, fmt.Errorf("--%s is required", payerFlag.Name)
	}
	return host.ParsePubkey(ctx.String(payerFlag.Name))
}

func airdrop(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("expected <pubkey> <lamports>")
	}
	key, err := host.ParsePubkey(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	lamports, err := strconv.ParseUint(ctx.Args().Get(1), 10, 64)
	if err != nil {
		return err
	}
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	cell, err := env.db.GetAccount(key)
	if err != nil {
		return err
	}
	if cell == nil {
		cell = host.NewAccount(0, host.SystemProgramID, nil)
	}
	cell.Lamports += lamports
	if err := env.db.PutAccount(key, cell); err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "%s: %d lamports\n", key, cell.Lamports)
	return err
}

func createAccount(ctx *cli.Context) error {
	addr, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
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

	if _, err := env.process(ctx, &program.CreateAccount{Address: addr}, signers...); err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, state.DeriveBinding(env.program(), addr))
	return err
}

func deposit(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("expected <address> <lamports>")
	}
	addr, err := parseAddress(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	lamports, err := strconv.ParseUint(ctx.Args().Get(1), 10, 64)
	if err != nil {
		return err
	}
	payer, err := requirePayer(ctx)
	if err != nil {
		return err
	}
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if _, err := env.process(ctx, &program.Deposit{Address: addr, Lamports: lamports}, payer); err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.App.Writer, "%s: %v wei\n", addr.Hex(), env.state().GetBalance(addr).ToBig())
	return err
}

type accountOutput struct {
	Address  common.Address `json:"address"`
	Binding  host.Pubkey    `json:"binding"`
	Balance  string         `json:"balance"`
	Nonce    uint64         `json:"nonce"`
	CodeSize int            `json:"codeSize"`
	CodeHash common.Hash    `json:"codeHash"`
}

func showAccount(ctx *cli.Context) error {
	addr, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
	}
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if ctx.Bool(dumpFlag.Name) {
		acc, err := state.NewProjection(env.program(), env.db).Load(addr)
		if err != nil {
			return err
		}
		spew.Fdump(ctx.App.Writer, acc)
		return nil
	}
	statedb := env.state()
	out := &accountOutput{
		Address:  addr,
		Binding:  state.DeriveBinding(env.program(), addr),
		Balance:  statedb.GetBalance(addr).ToBig().String(),
		Nonce:    statedb.GetNonce(addr),
		CodeSize: statedb.GetCodeSize(addr),
		CodeHash: statedb.GetCodeHash(addr),
	}
	if err := statedb.Error(); err != nil {
		return err
	}
	return printJSON(ctx.App.Writer, out)
}

func showStorage(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return fmt.Errorf("expected <address> <slot>")
	}
	addr, err := parseAddress(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	slot := common.HexToHash(ctx.Args().Get(1))
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	statedb := env.state()
	value := statedb.GetState(addr, slot)
	if err := statedb.Error(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, value.Hex())
	return err
}

func derive(ctx *cli.Context) error {
	addr, err := parseAddress(ctx.Args().First())
	if err != nil {
		return err
	}
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return err
	}
	chain, err := cfg.chainConfig()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.App.Writer, state.DeriveBinding(host.Pubkey(chain.ProgramID), addr))
	return err
}
