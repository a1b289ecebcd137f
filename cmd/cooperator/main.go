// The cooperator command runs the lock-holding half of the key custody
// scheme behind an HTTP API.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keywarden/keywarden/api/lockhandler"
	"github.com/keywarden/keywarden/cmd/flags"
	"github.com/keywarden/keywarden/cooperator"
	"github.com/keywarden/keywarden/httpserver"
	"github.com/urfave/cli/v2"
)

var cliFlags = []cli.Flag{
	flags.ListenAddrFlag,
	flags.MetricsAddrFlag,
	flags.ModulusBitsFlag,
	flags.GraceSizeFlag,
	flags.GraceDaysFlag,
	flags.LogJSONFlag,
	flags.LogDebugFlag,
	flags.LogUIDFlag,
	flags.LogServiceFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
}

func main() {
	app := &cli.App{
		Name:  "cooperator",
		Usage: "Serve the commutative lock API",
		Flags: cliFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			coop, err := cooperator.New(cooperator.Config{
				ModulusBits:  cCtx.Int(flags.ModulusBitsFlag.Name),
				MaxGraceKeys: cCtx.Int(flags.GraceSizeFlag.Name),
				MaxGraceAge:  time.Duration(cCtx.Int64(flags.GraceDaysFlag.Name)) * 24 * time.Hour,
			}, logger)
			if err != nil {
				logger.Error("Failed to initialize cooperator", "err", err)
				return err
			}

			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), lockhandler.NewHandler(coop, logger))
			if err != nil {
				logger.Error("Failed to create HTTP server", "err", err)
				return err
			}

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			srv.RunInBackground()
			<-exit

			srv.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
