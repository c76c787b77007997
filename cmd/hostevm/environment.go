package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/bnb-chain/hostevm/core/executor"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/core/program"
	"github.com/bnb-chain/hostevm/core/state"
	"github.com/bnb-chain/hostevm/ethdb"
	"github.com/bnb-chain/hostevm/params"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// environment is the program opened over the configured host database.
type environment struct {
	cfg       hostevmConfig
	chain     *params.ChainConfig
	db        *host.Database
	processor *program.Processor
}

func openEnvironment(ctx *cli.Context) (*environment, error) {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := cfg.chainConfig()
	if err != nil {
		return nil, err
	}
	kv, err := ethdb.Open(cfg.Database.Engine, cfg.Database.Path, cfg.Database.CacheMB, false)
	if err != nil {
		return nil, err
	}
	db := host.NewDatabase(kv, cfg.Database.CacheMB)
	processor := program.NewProcessor(program.Config{
		Executor: executor.Config{
			ChainConfig:   chain,
			ArenaSize:     cfg.Program.ArenaSize,
			StepLimit:     cfg.Program.DefaultStepLimit,
			BlockGasLimit: cfg.Program.BlockGasLimit,
		},
		EmergencyHalt: cfg.Program.EmergencyHalt,
	}, db, host.NewRuntime())

	log.Debug("Opened host database", "engine", cfg.Database.Engine, "path", cfg.Database.Path, "profile", chain.Profile)
	return &environment{cfg: cfg, chain: chain, db: db, processor: processor}, nil
}

func (env *environment) Close() error {
	return env.db.Close()
}

func (env *environment) program() host.Pubkey {
	return env.processor.ProgramID()
}

func (env *environment) state() *state.StateDB {
	return state.New(state.NewProjection(env.program(), env.db))
}

// process encodes ix and hands it to the program like the host would.
func (env *environment) process(ctx *cli.Context, ix program.Instruction, signers ...host.Pubkey) (*program.Result, error) {
	data, err := program.Encode(ix)
	if err != nil {
		return nil, err
	}
	return env.processor.Process(ctx.Context, &program.Invocation{
		Data:    data,
		Signers: signers,
		Time:    uint64(time.Now().Unix()),
	})
}

func printJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
