package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"unicode"

	"github.com/bnb-chain/hostevm/core/executor"
	"github.com/bnb-chain/hostevm/core/host"
	"github.com/bnb-chain/hostevm/ethdb"
	"github.com/bnb-chain/hostevm/params"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
)

var (
	dumpConfigCommand = &cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Export configuration values in a TOML format",
		ArgsUsage:   "<dumpfile (optional)>",
		Description: `Export configuration values in TOML format (to stdout by default).`,
	}

	configFileFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the host database",
	}
	dbEngineFlag = &cli.StringFlag{
		Name:  "db.engine",
		Usage: "Backing database implementation to use ('pebble', 'leveldb' or 'memory')",
	}
	profileFlag = &cli.StringFlag{
		Name:  "profile",
		Usage: "Deployment profile ('mainnet', 'testnet', 'devnet' or 'ci')",
	}
	rpcAddrFlag = &cli.StringFlag{
		Name:  "rpc.addr",
		Usage: "RPC server listening interface",
	}
	rpcPortFlag = &cli.IntFlag{
		Name:  "rpc.port",
		Usage: "RPC server listening port",
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type programConfig struct {
	Profile          string
	ProgramID        string `toml:",omitempty"` // base58 override of the profile's id
	EmergencyHalt    bool
	ArenaSize        int
	DefaultStepLimit uint64
	BlockGasLimit    uint64
}

type databaseConfig struct {
	Engine  string
	Path    string
	CacheMB int
}

type rpcConfig struct {
	Addr string
	Port int
}

type hostevmConfig struct {
	Program  programConfig
	Database databaseConfig
	RPC      rpcConfig
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".hostevm"
	}
	return filepath.Join(home, ".hostevm")
}

func defaultConfig() hostevmConfig {
	return hostevmConfig{
		Program: programConfig{
			Profile:          params.DefaultProfile,
			ArenaSize:        params.DefaultArenaSize,
			DefaultStepLimit: params.DefaultStepLimit,
			BlockGasLimit:    executor.DefaultBlockGasLimit,
		},
		Database: databaseConfig{
			Engine:  ethdb.EnginePebble,
			Path:    filepath.Join(defaultDataDir(), "hostdb"),
			CacheMB: 64,
		},
		RPC: rpcConfig{
			Addr: "127.0.0.1",
			Port: 8645,
		},
	}
}

func loadConfig(file string, cfg *hostevmConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// loadBaseConfig applies the config file and then the command line flags on
// top of the defaults.
func loadBaseConfig(ctx *cli.Context) (hostevmConfig, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return cfg, err
		}
	}
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.Database.Path = filepath.Join(ctx.String(dataDirFlag.Name), "hostdb")
	}
	if ctx.IsSet(dbEngineFlag.Name) {
		cfg.Database.Engine = ctx.String(dbEngineFlag.Name)
	}
	if ctx.IsSet(profileFlag.Name) {
		cfg.Program.Profile = ctx.String(profileFlag.Name)
	}
	if ctx.IsSet(rpcAddrFlag.Name) {
		cfg.RPC.Addr = ctx.String(rpcAddrFlag.Name)
	}
	if ctx.IsSet(rpcPortFlag.Name) {
		cfg.RPC.Port = ctx.Int(rpcPortFlag.Name)
	}
	return cfg, nil
}

// chainConfig resolves the profile and applies the program id override.
func (cfg *hostevmConfig) chainConfig() (*params.ChainConfig, error) {
	base, err := params.ConfigForProfile(cfg.Program.Profile)
	if err != nil {
		return nil, err
	}
	chain := *base
	if cfg.Program.ProgramID != "" {
		id, err := host.ParsePubkey(cfg.Program.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("invalid program id: %v", err)
		}
		chain.ProgramID = [32]byte(id)
	}
	return &chain, nil
}

func dumpConfig(ctx *cli.Context) error {
	cfg, err := loadBaseConfig(ctx)
	if err != nil {
		return err
	}
	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	dump := ctx.App.Writer
	if ctx.NArg() > 0 {
		f, err := os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		dump = f
	}
	_, err = dump.Write(out)
	return err
}
