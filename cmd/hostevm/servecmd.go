package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bnb-chain/hostevm/internal/evmapi"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCommand = &cli.Command{
	Action: serve,
	Flags:  []cli.Flag{rpcAddrFlag, rpcPortFlag},
	Name:   "serve",
	Usage:  "Serve the evm JSON-RPC namespace over HTTP",
	Description: `Opens the host database and serves read-only queries together with
transaction emulation until interrupted.`,
}

func serve(ctx *cli.Context) error {
	env, err := openEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	srv, err := evmapi.NewServer(evmapi.NewAPI(env.processor, env.db))
	if err != nil {
		return err
	}
	defer srv.Stop()

	endpoint := net.JoinHostPort(env.cfg.RPC.Addr, strconv.Itoa(env.cfg.RPC.Port))
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigctx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigctx)
	g.Go(func() error {
		log.Info("HTTP server started", "endpoint", "http://"+listener.Addr().String(), "program", env.program())
		if err := httpSrv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
