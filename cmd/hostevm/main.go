// hostevm is the command line interface of the EVM host program: it runs
// instructions against a local host database and serves the emulation API.
package main

import (
	"fmt"
	"os"

	"github.com/bnb-chain/hostevm/internal/debug"
	"github.com/urfave/cli/v2"
)

var globalFlags = []cli.Flag{
	configFileFlag,
	dataDirFlag,
	dbEngineFlag,
	profileFlag,
}

func newApp() *cli.App {
	app := &cli.App{
		Name:  "hostevm",
		Usage: "the EVM host program command line interface",
		Commands: []*cli.Command{
			airdropCommand,
			createAccountCommand,
			depositCommand,
			deployCommand,
			callCommand,
			stepCommand,
			cancelCommand,
			emulateCommand,
			accountCommand,
			storageCommand,
			deriveCommand,
			serveCommand,
			dumpConfigCommand,
		},
		Before: func(ctx *cli.Context) error {
			return debug.Setup(ctx)
		},
		After: func(ctx *cli.Context) error {
			debug.Exit()
			return nil
		},
	}
	app.Flags = append(app.Flags, globalFlags...)
	app.Flags = append(app.Flags, debug.Flags...)
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
